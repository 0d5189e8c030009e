// Package storage provides the persistence layer used by calendlypop.
//
// It currently supports:
//   - Named string options (the host's generic key-value configuration store)
//   - Audit log appends (operator actions on settings)
package storage
