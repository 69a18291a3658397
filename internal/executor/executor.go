// Package executor performs one task at a time: an SMTP delivery or an
// IMAP mailbox check. Every internal fault is converted into a failed
// result; nothing escapes the Execute boundary.
package executor

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/mail"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sungwon/mail-agent/internal/metrics"
	"github.com/sungwon/mail-agent/internal/task"
)

// PacingConfig holds the randomized delay ranges applied around a send.
// Each delay is a uniform random duration in [Min, Max]; a zero Max
// disables that delay. This is a traffic-shaping policy, not correctness.
type PacingConfig struct {
	ConnectDelayMin  time.Duration
	ConnectDelayMax  time.Duration
	PostSendDelayMin time.Duration
	PostSendDelayMax time.Duration
}

// Executor consumes one task and produces exactly one result.
type Executor struct {
	transport Transport
	checker   MailboxChecker
	tokens    *TokenManager
	pacing    PacingConfig
	log       zerolog.Logger
}

// New creates an Executor. checker may be nil when mailbox-check tasks are
// not expected; such tasks then fail with a per-task error.
func New(transport Transport, checker MailboxChecker, tokens *TokenManager, pacing PacingConfig, log zerolog.Logger) *Executor {
	return &Executor{
		transport: transport,
		checker:   checker,
		tokens:    tokens,
		pacing:    pacing,
		log:       log,
	}
}

// Execute runs a single task and returns its result. It never panics and
// never returns an error: every fault becomes a failed result correlated
// to the task by queue ID.
func (e *Executor) Execute(ctx context.Context, t *task.Task) (res task.Result) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().
				Int64("queue_id", t.QueueID).
				Interface("panic", r).
				Msg("executor panic recovered")
			res = t.FailedResult(fmt.Sprintf("internal error: %v", r))
		}
	}()

	switch t.Kind() {
	case task.TypeMailboxCheck:
		return e.executeCheck(ctx, t)
	default:
		return e.executeSend(ctx, t)
	}
}

func (e *Executor) executeSend(ctx context.Context, t *task.Task) task.Result {
	if !t.Executable() {
		e.log.Warn().Int64("queue_id", t.QueueID).Msg("task has no subject or body")
		return t.FailedResult("task has no subject or body")
	}

	auth, err := e.authClient(ctx, &t.SMTP)
	if err != nil {
		e.log.Error().Err(err).
			Int64("queue_id", t.QueueID).
			Str("smtp_email", t.SMTP.Email).
			Msg("authentication setup failed")
		return t.FailedResult(err.Error())
	}

	msg := buildMessage(t)

	// Pre-connect pacing delay.
	if !e.pause(ctx, e.pacing.ConnectDelayMin, e.pacing.ConnectDelayMax) {
		return t.FailedResult("canceled before send")
	}

	start := time.Now()
	sendErr := e.transport.SendMail(ctx, &t.SMTP, auth, t.SMTP.Email, []string{t.Contact.Email}, msg)
	metrics.SendDuration.Observe(time.Since(start).Seconds())

	if sendErr != nil {
		e.log.Error().Err(sendErr).
			Int64("queue_id", t.QueueID).
			Str("smtp_email", t.SMTP.Email).
			Str("recipient", t.Contact.Email).
			Msg("delivery failed")
		return t.FailedResult(sendErr.Error())
	}

	// Post-send pacing delay.
	e.pause(ctx, e.pacing.PostSendDelayMin, e.pacing.PostSendDelayMax)

	e.log.Info().
		Int64("queue_id", t.QueueID).
		Str("smtp_email", t.SMTP.Email).
		Str("recipient", t.Contact.Email).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("message delivered")

	return t.SucceededResult()
}

func (e *Executor) executeCheck(ctx context.Context, t *task.Task) task.Result {
	if e.checker == nil {
		return t.FailedResult("mailbox checks are not enabled on this agent")
	}

	status, err := e.checker.Check(ctx, &t.SMTP)
	if err != nil {
		e.log.Error().Err(err).
			Int64("queue_id", t.QueueID).
			Str("smtp_email", t.SMTP.Email).
			Msg("mailbox check failed")
		return t.FailedResult(err.Error())
	}

	e.log.Info().
		Int64("queue_id", t.QueueID).
		Str("smtp_email", t.SMTP.Email).
		Uint32("messages", status.Messages).
		Uint32("unseen", status.Unseen).
		Msg("mailbox checked")

	return t.SucceededResult()
}

// authClient builds the SASL client for the account, refreshing the OAuth2
// access token when needed. Refresh failure is terminal for this task.
func (e *Executor) authClient(ctx context.Context, acct *task.SMTPAccount) (sasl.Client, error) {
	if acct.AuthType == task.AuthOAuth2 {
		token, err := e.tokens.GetToken(ctx, acct)
		if err != nil {
			return nil, err
		}
		return sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: acct.Email,
			Token:    token,
		}), nil
	}
	return sasl.NewPlainClient("", acct.Email, acct.Password), nil
}

// pause sleeps a uniform random duration in [min, max]. Returns false when
// the context was canceled during the pause.
func (e *Executor) pause(ctx context.Context, min, max time.Duration) bool {
	if max <= 0 || max < min {
		return ctx.Err() == nil
	}

	d := min
	if span := max - min; span > 0 {
		d += time.Duration(rand.Int64N(int64(span) + 1))
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

// buildMessage renders the RFC 5322 message for a send task.
func buildMessage(t *task.Task) []byte {
	from := mail.Address{Address: t.SMTP.Email}
	to := mail.Address{Name: t.Contact.Name, Address: t.Contact.Email}

	var b []byte
	b = appendHeader(b, "From", from.String())
	b = appendHeader(b, "To", to.String())
	if t.Campaign != nil && t.Campaign.ReplyTo != "" {
		b = appendHeader(b, "Reply-To", t.Campaign.ReplyTo)
	}
	b = appendHeader(b, "Subject", t.Subject)
	b = appendHeader(b, "Date", time.Now().Format(time.RFC1123Z))
	b = appendHeader(b, "Message-ID", fmt.Sprintf("<%s@mail-agent>", uuid.New().String()))
	if t.TrackingID != "" {
		b = appendHeader(b, "X-Tracking-ID", t.TrackingID)
	}
	b = appendHeader(b, "MIME-Version", "1.0")
	b = appendHeader(b, "Content-Type", `text/html; charset="utf-8"`)
	b = append(b, '\r', '\n')
	b = append(b, t.Body...)
	return b
}

func appendHeader(b []byte, name, value string) []byte {
	b = append(b, name...)
	b = append(b, ": "...)
	b = append(b, value...)
	return append(b, '\r', '\n')
}
