package storage

import (
	"context"
	"errors"
	"strings"

	logx "calendlypop/pkg/logx"
)

// Store is the persistence API used by settings, lifecycle and the app.
//
// Options behave like the host platform's option table: a missing option is
// reported with ok=false and never as an error.
type Store interface {
	GetOption(ctx context.Context, name string) (value string, ok bool, err error)
	// AddOption stores value only when name is absent and reports whether it did.
	AddOption(ctx context.Context, name, value string) (added bool, err error)
	PutOption(ctx context.Context, name, value string) error
	// DeleteOption removes name and reports whether it existed.
	DeleteOption(ctx context.Context, name string) (existed bool, err error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Compactor is implemented by drivers that benefit from periodic maintenance.
type Compactor interface {
	Compact(ctx context.Context) error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "none", "memory":
		return newMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	return name, nil
}
