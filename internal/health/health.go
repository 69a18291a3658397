// Package health runs the periodic heartbeat to the coordination server.
// Heartbeats are advisory: failures are logged and swallowed, and never
// influence the task lifecycle.
package health

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/mail-agent/internal/api"
	"github.com/sungwon/mail-agent/internal/identity"
	"github.com/sungwon/mail-agent/internal/metrics"
)

// HealthClient is the server call the reporter loop depends on.
type HealthClient interface {
	Health(ctx context.Context, token string, queueSize int) error
}

// QueueSizer exposes the scheduler's current queue depth.
type QueueSizer interface {
	QueueSize() int
}

// Loop sends heartbeats at the configured interval until the context is
// canceled.
type Loop struct {
	client HealthClient
	tokens *identity.Store
	sizer  QueueSizer
	log    zerolog.Logger
}

// NewLoop creates a heartbeat loop.
func NewLoop(client HealthClient, tokens *identity.Store, sizer QueueSizer, log zerolog.Logger) *Loop {
	return &Loop{
		client: client,
		tokens: tokens,
		sizer:  sizer,
		log:    log,
	}
}

// Run blocks until ctx is canceled. The tick interval follows the
// server-tunable health interval, re-read after every beat.
func (l *Loop) Run(ctx context.Context) {
	for {
		interval := l.tokens.Tunables().HealthInterval
		if interval <= 0 {
			interval = 10 * time.Second
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		l.beat(ctx)
	}
}

// beat sends one heartbeat. Skipped entirely while unregistered; the
// scheduler owns registration.
func (l *Loop) beat(ctx context.Context) {
	token := l.tokens.Token()
	if token == "" {
		return
	}

	err := l.client.Health(ctx, token, l.sizer.QueueSize())
	if err == nil {
		metrics.HeartbeatsTotal.WithLabelValues("ok").Inc()
		return
	}

	metrics.HeartbeatsTotal.WithLabelValues("error").Inc()

	if errors.Is(err, api.ErrUnauthorized) {
		l.tokens.ClearToken()
		l.log.Warn().Msg("heartbeat rejected, token cleared")
		return
	}

	l.log.Debug().Err(err).Msg("heartbeat failed")
}
