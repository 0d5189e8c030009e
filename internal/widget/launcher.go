package widget

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// State of a Launcher. Idle → Waiting → Polling → Invoked is the normal
// path; Polling loops on itself until the widget is ready. Abandoned is only
// reachable when MaxRetries > 0.
type State int32

const (
	StateIdle State = iota
	StateWaiting
	StatePolling
	StateInvoked
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StatePolling:
		return "polling"
	case StateInvoked:
		return "invoked"
	case StateAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

var (
	ErrAlreadyStarted = errors.New("launcher already started")
	ErrAbandoned      = errors.New("widget never became ready")
)

// PopupOptions is the argument of the popup-open entry point.
type PopupOptions struct {
	URL string `json:"url"`
}

// Popup is the third-party widget as seen by the launcher.
type Popup interface {
	// Ready reports whether the widget library has loaded.
	Ready() bool
	InitPopupWidget(opts PopupOptions)
}

// Launcher is a one-shot executor of a Plan.
type Launcher struct {
	plan   Plan
	state  atomic.Int32
	checks atomic.Int64
}

func NewLauncher(p Plan) *Launcher {
	return &Launcher{plan: p}
}

func (l *Launcher) State() State { return State(l.state.Load()) }

// Checks is the number of readiness checks performed so far.
func (l *Launcher) Checks() int64 { return l.checks.Load() }

// Run waits the plan's delay, then checks w.Ready every RetryInterval and
// opens the popup once. It returns nil once invoked, ErrAbandoned when
// MaxRetries is exhausted, or ctx.Err() when the page goes away first.
func (l *Launcher) Run(ctx context.Context, w Popup) error {
	if !l.state.CompareAndSwap(int32(StateIdle), int32(StateWaiting)) {
		return ErrAlreadyStarted
	}
	if err := sleep(ctx, max(l.plan.Delay(), 0)); err != nil {
		return err
	}

	l.state.Store(int32(StatePolling))
	retry := time.Duration(l.plan.RetryMillis()) * time.Millisecond
	retries := 0
	for {
		l.checks.Add(1)
		if w.Ready() {
			w.InitPopupWidget(PopupOptions{URL: l.plan.Link})
			l.state.Store(int32(StateInvoked))
			return nil
		}
		if l.plan.MaxRetries > 0 && retries >= l.plan.MaxRetries {
			l.state.Store(int32(StateAbandoned))
			return ErrAbandoned
		}
		retries++
		if err := sleep(ctx, retry); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
