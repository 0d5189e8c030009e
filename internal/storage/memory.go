package storage

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	mu     sync.RWMutex
	opts   map[string]string
	audit  []AuditEntry
	closed bool
}

func newMemory() *memoryStore {
	return &memoryStore{opts: map[string]string{}}
}

func (s *memoryStore) GetOption(ctx context.Context, name string) (string, bool, error) {
	_ = ctx
	name, err := normalizeName(name)
	if err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", false, ErrClosed
	}
	v, ok := s.opts[name]
	return v, ok, nil
}

func (s *memoryStore) AddOption(ctx context.Context, name, value string) (bool, error) {
	_ = ctx
	name, err := normalizeName(name)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	if _, ok := s.opts[name]; ok {
		return false, nil
	}
	s.opts[name] = value
	return true, nil
}

func (s *memoryStore) PutOption(ctx context.Context, name, value string) error {
	_ = ctx
	name, err := normalizeName(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.opts[name] = value
	return nil
}

func (s *memoryStore) DeleteOption(ctx context.Context, name string) (bool, error) {
	_ = ctx
	name, err := normalizeName(name)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	_, ok := s.opts[name]
	delete(s.opts, name)
	return ok, nil
}

func (s *memoryStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.audit = append(s.audit, e)
	return nil
}

// Audit returns a copy of the in-memory audit log.
func (s *memoryStore) Audit() []AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]AuditEntry(nil), s.audit...)
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
