// Package updates watches the server-advertised target version and
// coordinates a clean restart when it diverges from the running binary.
package updates

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/mail-agent/internal/identity"
)

// Drainer is the scheduler surface the watcher needs: stop intake, then
// observe the queue until it is empty.
type Drainer interface {
	StopPolling()
	QueueSize() int
}

// Watcher compares the running version against the target version pushed
// through config updates. On mismatch it drains the agent and signals
// Restart so the process manager can swap the binary.
type Watcher struct {
	version  string
	tokens   *identity.Store
	drainer  Drainer
	log      zerolog.Logger
	interval time.Duration
	restart  chan struct{}
}

// NewWatcher creates a Watcher for the given running version.
func NewWatcher(version string, tokens *identity.Store, drainer Drainer, log zerolog.Logger) *Watcher {
	return &Watcher{
		version:  version,
		tokens:   tokens,
		drainer:  drainer,
		log:      log,
		interval: 30 * time.Second,
		restart:  make(chan struct{}),
	}
}

// Restart is closed once the agent has drained and should be restarted.
func (w *Watcher) Restart() <-chan struct{} {
	return w.restart
}

// Run blocks until ctx is canceled or a version mismatch has been fully
// drained.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		target := w.tokens.Tunables().TargetVersion
		if target == "" || target == w.version {
			continue
		}

		w.log.Info().
			Str("running", w.version).
			Str("target", target).
			Msg("version update requested, draining")

		w.drainer.StopPolling()
		if !w.awaitDrain(ctx) {
			return
		}

		close(w.restart)
		return
	}
}

// awaitDrain polls the queue size once per second until it reaches zero.
func (w *Watcher) awaitDrain(ctx context.Context) bool {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		if w.drainer.QueueSize() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
