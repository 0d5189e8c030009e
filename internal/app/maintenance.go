package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"calendlypop/internal/config"
	"calendlypop/internal/eventbus"
	"calendlypop/internal/storage"
	logx "calendlypop/pkg/logx"

	"github.com/robfig/cron/v3"
)

// compactor runs storage compaction on a cron schedule. Stores that do not
// implement storage.Compactor are skipped.
type compactor struct {
	mu    sync.Mutex
	c     *cron.Cron
	id    cron.EntryID
	spec  string
	store storage.Store
	log   logx.Logger
}

func newCompactor(store storage.Store, log logx.Logger) *compactor {
	return &compactor{
		c:     cron.New(cron.WithParser(config.CronParser), cron.WithLogger(cronLogger{log})),
		store: store,
		log:   log,
	}
}

// Schedule replaces the job. An empty spec disables compaction.
func (m *compactor) Schedule(spec string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if spec == m.spec {
		return nil
	}
	cp, ok := m.store.(storage.Compactor)
	if !ok {
		m.spec = spec
		return nil
	}
	if m.id != 0 {
		m.c.Remove(m.id)
		m.id = 0
	}
	m.spec = spec
	if spec == "" {
		m.log.Info("storage compaction disabled")
		return nil
	}
	id, err := m.c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		start := time.Now()
		if err := cp.Compact(ctx); err != nil {
			m.log.Warn("storage compaction failed", logx.Err(err))
			return
		}
		m.log.Debug("storage compacted", logx.Duration("took", time.Since(start)))
	})
	if err != nil {
		return err
	}
	m.id = id
	m.log.Info("storage compaction scheduled", logx.String("spec", spec))
	return nil
}

func (m *compactor) Start() { m.c.Start() }

// Stop waits for a running job, bounded by ctx.
func (m *compactor) Stop(ctx context.Context) {
	done := m.c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Warn("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}

// auditEntries turns one settings event into one entry per option.
func auditEntries(e eventbus.Event) []storage.AuditEntry {
	ch, ok := e.Data.(eventbus.SettingsChange)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(ch.Values))
	for n := range ch.Values {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]storage.AuditEntry, 0, len(names))
	for _, n := range names {
		out = append(out, storage.AuditEntry{
			At:        e.Time,
			Actor:     ch.Actor,
			Action:    e.Type,
			Target:    n,
			Value:     ch.Values[n],
			OK:        true,
			RequestID: ch.RequestID,
		})
	}
	return out
}

// runAudit appends settings events to the audit log until ctx is done.
// Events already queued at that point are still written.
func runAudit(ctx context.Context, events <-chan eventbus.Event, store storage.Store, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			drainAudit(context.WithoutCancel(ctx), events, store, log)
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			appendAudit(ctx, e, store, log)
		}
	}
}

// drainAudit writes whatever is queued on events without waiting for more.
func drainAudit(ctx context.Context, events <-chan eventbus.Event, store storage.Store, log logx.Logger) {
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			appendAudit(ctx, e, store, log)
		default:
			return
		}
	}
}

func appendAudit(ctx context.Context, e eventbus.Event, store storage.Store, log logx.Logger) {
	log.Debug("event", logx.String("type", e.Type))
	for _, entry := range auditEntries(e) {
		if err := store.AppendAudit(ctx, entry); err != nil {
			log.Warn("audit append failed", logx.String("action", entry.Action), logx.Err(err))
		}
	}
}
