// Package scheduler runs the agent's poll/process/report loop: it polls
// the coordination server for tasks, executes them sequentially, reports
// the results, and enforces the shutdown-drain protocol that guarantees no
// task is silently dropped.
package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/mail-agent/internal/api"
	"github.com/sungwon/mail-agent/internal/identity"
	"github.com/sungwon/mail-agent/internal/metrics"
	"github.com/sungwon/mail-agent/internal/queue"
	"github.com/sungwon/mail-agent/internal/task"
)

// State is the scheduler's lifecycle state.
type State int32

const (
	StateUnregistered State = iota
	StatePolling
	StateDraining
	StateShuttingDown
	StateTerminated
)

// String returns the state name for logs and the stats endpoint.
func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StatePolling:
		return "polling"
	case StateDraining:
		return "draining"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Client is the server surface the scheduler depends on.
type Client interface {
	Register(ctx context.Context) (string, *identity.ConfigUpdate, error)
	Poll(ctx context.Context, token string, limit int) ([]task.Task, *identity.ConfigUpdate, error)
}

// Executor consumes one task and produces exactly one result.
type Executor interface {
	Execute(ctx context.Context, t *task.Task) task.Result
}

// Reporter delivers a result batch; false means the results were lost and
// the scheduler must continue regardless.
type Reporter interface {
	Report(ctx context.Context, results []task.Result) bool
}

// DeliveryJournal records per-task outcomes locally. Observability only.
type DeliveryJournal interface {
	RecordDelivery(ctx context.Context, t *task.Task, res task.Result) error
}

// Scheduler is the poll/process/report state machine.
type Scheduler struct {
	client   Client
	queue    *queue.Queue
	executor Executor
	reporter Reporter
	tokens   *identity.Store
	journal  DeliveryJournal
	log      zerolog.Logger

	state      atomic.Int32
	polling    atomic.Bool // accept-new-work flag, cleared by StopPolling
	shutdown   atomic.Bool // set by Shutdown (termination signal)
	processing atomic.Bool // a task is mid-flight

	registerBackoff time.Duration
	crashCooldown   time.Duration
	drainPoll       time.Duration

	// sleep is swapped out by tests. It returns false when the context was
	// canceled during the wait.
	sleep func(ctx context.Context, d time.Duration) bool
}

// New creates a Scheduler. journal may be nil.
func New(
	client Client,
	q *queue.Queue,
	executor Executor,
	reporter Reporter,
	tokens *identity.Store,
	journal DeliveryJournal,
	log zerolog.Logger,
) *Scheduler {
	s := &Scheduler{
		client:          client,
		queue:           q,
		executor:        executor,
		reporter:        reporter,
		tokens:          tokens,
		journal:         journal,
		log:             log,
		registerBackoff: 10 * time.Second,
		crashCooldown:   10 * time.Second,
		drainPoll:       1 * time.Second,
		sleep:           sleepCtx,
	}
	s.polling.Store(true)
	if tokens.Registered() {
		s.state.Store(int32(StatePolling))
	}
	return s
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

func (s *Scheduler) setState(st State) {
	old := State(s.state.Swap(int32(st)))
	if old != st {
		s.log.Info().
			Str("from", old.String()).
			Str("to", st.String()).
			Msg("scheduler state changed")
	}
}

// QueueSize exposes the queue length to external observers (health loop,
// update watcher). Read-only.
func (s *Scheduler) QueueSize() int {
	return s.queue.Size()
}

// StopPolling flips the accept-new-work flag. Idempotent; the loop
// transitions to draining at its next iteration boundary.
func (s *Scheduler) StopPolling() {
	if s.polling.CompareAndSwap(true, false) {
		s.log.Info().Msg("polling disabled, will drain queued work")
	}
}

// Shutdown requests termination. The loop stops accepting new polls,
// finishes the in-flight task, drains the queue, and then terminates.
func (s *Scheduler) Shutdown() {
	if !s.shutdown.Swap(true) {
		s.log.Info().Msg("shutdown requested")
	}
}

// Run drives the state machine until it reaches Terminated. The context is
// a hard abort: when it is canceled, remaining queued tasks are discarded
// and Run returns immediately with the context error.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			if n := s.queue.DrainAll(); n > 0 {
				s.log.Warn().Int("discarded", n).Msg("hard abort, abandoning queued tasks")
			}
			s.setState(StateTerminated)
			return err
		}

		switch s.State() {
		case StateUnregistered:
			s.register(ctx)
		case StatePolling:
			s.pollIteration(ctx)
		case StateDraining, StateShuttingDown:
			s.drainIteration(ctx)
		case StateTerminated:
			return nil
		}
	}
}

// register retries indefinitely with a fixed backoff. The agent has no
// other job, so there is deliberately no cap.
func (s *Scheduler) register(ctx context.Context) {
	for {
		if s.shutdown.Load() || ctx.Err() != nil {
			s.setState(StateTerminated)
			return
		}

		token, cfg, err := s.client.Register(ctx)
		if err == nil {
			s.tokens.SetToken(token)
			s.tokens.UpdateConfig(cfg)
			s.log.Info().Msg("registered with coordination server")
			s.setState(StatePolling)
			return
		}

		s.log.Warn().Err(err).
			Dur("backoff", s.registerBackoff).
			Msg("registration failed, retrying")

		if !s.sleep(ctx, s.registerBackoff) {
			continue
		}
	}
}

// pollIteration is one pass of the Polling state: poll, enqueue, execute
// the batch sequentially, report once, sleep the poll interval. Any panic
// is contained by recoverIteration; the loop itself never exits except via
// the shutdown path.
func (s *Scheduler) pollIteration(ctx context.Context) {
	defer s.recoverIteration(ctx)

	if s.shutdown.Load() {
		s.setState(StateShuttingDown)
		return
	}
	if !s.polling.Load() {
		s.setState(StateDraining)
		return
	}

	token := s.tokens.Token()
	if token == "" {
		s.setState(StateUnregistered)
		return
	}

	tasks, cfg, err := s.client.Poll(ctx, token, s.tokens.Tunables().BatchSize)
	if errors.Is(err, api.ErrUnauthorized) {
		s.log.Warn().Msg("agent token rejected, re-registering")
		s.tokens.ClearToken()
		s.setState(StateUnregistered)
		return
	}
	if err != nil {
		metrics.PollErrorsTotal.Inc()
		s.log.Warn().Err(err).Msg("poll failed")
		s.sleep(ctx, s.tokens.Tunables().PollInterval)
		return
	}

	s.tokens.UpdateConfig(cfg)

	if len(tasks) > 0 {
		metrics.TasksPolledTotal.Add(float64(len(tasks)))
		s.queue.Enqueue(tasks)

		results := s.processBatch(ctx, tasks)
		if len(results) > 0 {
			s.reporter.Report(ctx, results)
		}
	}

	if s.shutdown.Load() {
		s.setState(StateShuttingDown)
		return
	}
	if !s.polling.Load() {
		s.setState(StateDraining)
		return
	}

	s.sleep(ctx, s.tokens.Tunables().PollInterval)
}

// processBatch executes a polled batch sequentially, in the order
// received, removing each task from the queue by identity the instant its
// result is known. A shutdown or drain trigger mid-batch stops after the
// current task; the rest stays queued for the drain states.
func (s *Scheduler) processBatch(ctx context.Context, batch []task.Task) []task.Result {
	results := make([]task.Result, 0, len(batch))

	for i := range batch {
		if ctx.Err() != nil || s.shutdown.Load() || !s.polling.Load() {
			break
		}

		t := batch[i]
		res := s.executeOne(ctx, &t)
		s.queue.RemoveByID(t.QueueID)
		results = append(results, res)

		if i < len(batch)-1 {
			s.sleep(ctx, s.tokens.Tunables().SendInterval)
		}
	}

	return results
}

// drainIteration is one pass of the Draining/ShuttingDown states: finish
// the in-flight task if any (polling queue state once per second), then
// process exactly one queued task FIFO and report its single result. An
// empty queue with nothing mid-flight terminates the loop.
func (s *Scheduler) drainIteration(ctx context.Context) {
	defer s.recoverIteration(ctx)

	if s.processing.Load() {
		s.sleep(ctx, s.drainPoll)
		return
	}

	t, ok := s.queue.DequeueFront()
	if !ok {
		s.log.Info().Msg("queue drained")
		s.setState(StateTerminated)
		return
	}

	res := s.executeOne(ctx, &t)
	s.reporter.Report(ctx, []task.Result{res})
	s.sleep(ctx, s.tokens.Tunables().SendInterval)
}

// executeOne runs a single task with the in-flight flag held and records
// the outcome. The executor never raises, so the flag always clears.
func (s *Scheduler) executeOne(ctx context.Context, t *task.Task) task.Result {
	s.processing.Store(true)
	defer s.processing.Store(false)

	res := s.executor.Execute(ctx, t)

	status := "failed"
	if res.Success {
		status = "sent"
	}
	metrics.TasksProcessedTotal.WithLabelValues(status).Inc()

	if s.journal != nil {
		if err := s.journal.RecordDelivery(ctx, t, res); err != nil {
			s.log.Warn().Err(err).Int64("queue_id", t.QueueID).Msg("failed to journal delivery")
		}
	}

	return res
}

// recoverIteration contains an unexpected panic inside a loop iteration:
// log it, clear the in-flight flag, cool down, continue.
func (s *Scheduler) recoverIteration(ctx context.Context) {
	if r := recover(); r != nil {
		s.log.Error().
			Interface("panic", r).
			Dur("cooldown", s.crashCooldown).
			Msg("scheduler iteration panicked")
		s.processing.Store(false)
		s.sleep(ctx, s.crashCooldown)
	}
}

// sleepCtx sleeps for d, returning false when the context was canceled
// first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
