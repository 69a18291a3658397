// Package reporter delivers result batches to the coordination server with
// a bounded fixed-delay retry. It owns the accepted "results may be lost"
// failure boundary: an exhausted batch is journaled and dropped, never
// escalated.
package reporter

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/mail-agent/internal/api"
	"github.com/sungwon/mail-agent/internal/identity"
	"github.com/sungwon/mail-agent/internal/metrics"
	"github.com/sungwon/mail-agent/internal/task"
)

const (
	maxAttempts  = 5
	attemptDelay = 30 * time.Second
)

// ReportClient is the server call the reporter depends on.
type ReportClient interface {
	Report(ctx context.Context, token string, results []task.Result) error
}

// DeadLetterStore journals batches that exhausted their retries.
type DeadLetterStore interface {
	DeadLetterBatch(ctx context.Context, results []task.Result, reason string) error
}

// Reporter sends result batches with a fixed 5-attempt, 30-second-delay
// retry policy. No exponential backoff.
type Reporter struct {
	client  ReportClient
	tokens  *identity.Store
	journal DeadLetterStore
	log     zerolog.Logger

	// sleep is swapped out by tests to avoid real 30s delays. It returns
	// false when the context was canceled during the wait.
	sleep func(ctx context.Context, d time.Duration) bool
}

// New creates a Reporter. journal may be nil; exhausted batches are then
// only logged.
func New(client ReportClient, tokens *identity.Store, journal DeadLetterStore, log zerolog.Logger) *Reporter {
	return &Reporter{
		client:  client,
		tokens:  tokens,
		journal: journal,
		log:     log,
		sleep:   sleepCtx,
	}
}

// Report sends a batch of results. An empty batch is trivially successful
// and performs no network activity. Returns false only after all attempts
// are exhausted; the caller must treat that as "results lost, continue".
func (r *Reporter) Report(ctx context.Context, results []task.Result) bool {
	if len(results) == 0 {
		return true
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := r.client.Report(ctx, r.tokens.Token(), results)
		if err == nil {
			metrics.ReportsTotal.WithLabelValues("delivered").Inc()
			r.log.Info().
				Int("results", len(results)).
				Int("attempt", attempt).
				Msg("results reported")
			return true
		}
		lastErr = err

		if errors.Is(err, api.ErrUnauthorized) {
			// Force re-registration on the next poll cycle.
			r.tokens.ClearToken()
		}

		r.log.Warn().Err(err).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Int("results", len(results)).
			Msg("report attempt failed")

		if attempt < maxAttempts {
			metrics.ReportRetriesTotal.Inc()
			if !r.sleep(ctx, attemptDelay) {
				break
			}
		}
	}

	r.abandon(ctx, results, lastErr)
	return false
}

// abandon logs the batch contents for manual recovery and journals it.
func (r *Reporter) abandon(ctx context.Context, results []task.Result, lastErr error) {
	metrics.ReportsTotal.WithLabelValues("lost").Inc()

	payload, _ := json.Marshal(results)
	r.log.Error().Err(lastErr).
		Int("results", len(results)).
		RawJSON("batch", payload).
		Msg("report retries exhausted, results lost")

	if r.journal == nil {
		return
	}
	reason := "report retries exhausted"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	if err := r.journal.DeadLetterBatch(ctx, results, reason); err != nil {
		r.log.Error().Err(err).Msg("failed to journal lost batch")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
