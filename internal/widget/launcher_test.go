package widget

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakePopup struct {
	mu      sync.Mutex
	readyAt int // Ready() returns true from this call on; 0 = never
	calls   int
	opened  []PopupOptions
}

func (f *fakePopup) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.readyAt > 0 && f.calls >= f.readyAt
}

func (f *fakePopup) InitPopupWidget(opts PopupOptions) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, opts)
}

func TestLauncherInvokesWhenReady(t *testing.T) {
	p := Plan{Link: "https://example.com/x", RetryInterval: time.Millisecond}
	l := NewLauncher(p)
	w := &fakePopup{readyAt: 4}

	if l.State() != StateIdle {
		t.Fatalf("initial state = %v, want idle", l.State())
	}
	if err := l.Run(context.Background(), w); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if l.State() != StateInvoked {
		t.Fatalf("state = %v, want invoked", l.State())
	}
	if l.Checks() != 4 {
		t.Fatalf("checks = %d, want 4", l.Checks())
	}
	if len(w.opened) != 1 || w.opened[0].URL != "https://example.com/x" {
		t.Fatalf("opened = %+v", w.opened)
	}
}

func TestLauncherIsOneShot(t *testing.T) {
	l := NewLauncher(Plan{RetryInterval: time.Millisecond})
	w := &fakePopup{readyAt: 1}
	if err := l.Run(context.Background(), w); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := l.Run(context.Background(), w); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Run err = %v, want ErrAlreadyStarted", err)
	}
	if len(w.opened) != 1 {
		t.Fatalf("popup opened %d times, want 1", len(w.opened))
	}
}

func TestLauncherAbandonsAfterMaxRetries(t *testing.T) {
	l := NewLauncher(Plan{RetryInterval: time.Millisecond, MaxRetries: 3})
	w := &fakePopup{}
	if err := l.Run(context.Background(), w); !errors.Is(err, ErrAbandoned) {
		t.Fatalf("Run err = %v, want ErrAbandoned", err)
	}
	if l.State() != StateAbandoned {
		t.Fatalf("state = %v, want abandoned", l.State())
	}
	// first check + 3 retries
	if l.Checks() != 4 {
		t.Fatalf("checks = %d, want 4", l.Checks())
	}
	if len(w.opened) != 0 {
		t.Fatal("popup opened although never ready")
	}
}

func TestLauncherUnboundedUntilCanceled(t *testing.T) {
	l := NewLauncher(Plan{RetryInterval: time.Millisecond})
	w := &fakePopup{}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := l.Run(ctx, w)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run err = %v, want deadline exceeded", err)
	}
	if l.State() != StatePolling {
		t.Fatalf("state = %v, want polling", l.State())
	}
	if l.Checks() < 2 {
		t.Fatalf("checks = %d, want repeated polling", l.Checks())
	}
}

func TestLauncherWaitsDelayBeforePolling(t *testing.T) {
	l := NewLauncher(Plan{DelayMinutes: 1, RetryInterval: time.Millisecond})
	w := &fakePopup{readyAt: 1}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := l.Run(ctx, w); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run err = %v, want deadline exceeded", err)
	}
	if l.State() != StateWaiting {
		t.Fatalf("state = %v, want waiting", l.State())
	}
	if l.Checks() != 0 {
		t.Fatalf("checks = %d, want none during the delay", l.Checks())
	}
}

func TestStateString(t *testing.T) {
	want := map[State]string{
		StateIdle: "idle", StateWaiting: "waiting", StatePolling: "polling",
		StateInvoked: "invoked", StateAbandoned: "abandoned", State(99): "unknown",
	}
	for s, w := range want {
		if s.String() != w {
			t.Fatalf("State(%d).String() = %q, want %q", s, s.String(), w)
		}
	}
}
