// Package lifecycle creates the widget settings on install and deletes them
// on removal.
package lifecycle

import (
	"context"

	"calendlypop/internal/eventbus"
	"calendlypop/internal/settings"
	logx "calendlypop/pkg/logx"
)

type Hooks struct {
	store *settings.Store
	bus   eventbus.Bus
	log   logx.Logger
}

// New wires the hooks. bus may be nil.
func New(store *settings.Store, bus eventbus.Bus, log logx.Logger) *Hooks {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Hooks{store: store, bus: bus, log: log}
}

// OnInstall creates each setting with its default unless it already exists.
func (h *Hooks) OnInstall(ctx context.Context) error {
	added, err := h.store.EnsureDefaults(ctx)
	if err != nil {
		return err
	}
	if len(added) == 0 {
		h.log.Debug("settings already installed")
		return nil
	}
	vals := make(map[string]string, len(added))
	for _, name := range added {
		vals[name] = settings.DefaultFor(name)
	}
	h.log.Info("settings installed", logx.Strings("created", added))
	h.publish(eventbus.TypeSettingsInstalled, vals)
	return nil
}

// OnRemove deletes both settings. There is no backup step.
func (h *Hooks) OnRemove(ctx context.Context) error {
	vals := map[string]string{}
	for _, name := range settings.Names() {
		if err := h.store.Remove(ctx, name); err != nil {
			return err
		}
		vals[name] = ""
	}
	h.log.Info("settings removed", logx.Strings("deleted", settings.Names()))
	h.publish(eventbus.TypeSettingsRemoved, vals)
	return nil
}

func (h *Hooks) publish(typ string, vals map[string]string) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(eventbus.Event{Type: typ, Data: eventbus.SettingsChange{Actor: "system", Values: vals}})
}
