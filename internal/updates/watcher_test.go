package updates

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/mail-agent/internal/identity"
)

type fakeDrainer struct {
	stopped atomic.Bool
	size    atomic.Int32
}

func (f *fakeDrainer) StopPolling()   { f.stopped.Store(true) }
func (f *fakeDrainer) QueueSize() int { return int(f.size.Load()) }

func TestWatcherSignalsRestartOnVersionMismatch(t *testing.T) {
	tokens := identity.NewStore(identity.Tunables{})
	tokens.UpdateConfig(&identity.ConfigUpdate{TargetVersion: "2.0.0"})

	drainer := &fakeDrainer{}
	w := NewWatcher("1.0.0", tokens, drainer, zerolog.Nop())
	w.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	select {
	case <-w.Restart():
	case <-time.After(2 * time.Second):
		t.Fatal("Restart() not signaled within 2s")
	}

	if !drainer.stopped.Load() {
		t.Error("StopPolling() not called before restart signal")
	}
}

func TestWatcherIgnoresMatchingVersion(t *testing.T) {
	tokens := identity.NewStore(identity.Tunables{})
	tokens.UpdateConfig(&identity.ConfigUpdate{TargetVersion: "1.0.0"})

	drainer := &fakeDrainer{}
	w := NewWatcher("1.0.0", tokens, drainer, zerolog.Nop())
	w.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	select {
	case <-w.Restart():
		t.Fatal("Restart() signaled for a matching version")
	case <-time.After(50 * time.Millisecond):
	}

	if drainer.stopped.Load() {
		t.Error("StopPolling() called for a matching version")
	}
}

func TestWatcherIgnoresEmptyTarget(t *testing.T) {
	tokens := identity.NewStore(identity.Tunables{})

	drainer := &fakeDrainer{}
	w := NewWatcher("1.0.0", tokens, drainer, zerolog.Nop())
	w.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	select {
	case <-w.Restart():
		t.Fatal("Restart() signaled with no target version")
	case <-time.After(50 * time.Millisecond):
	}
}
