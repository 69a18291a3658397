package executor

import (
	"bytes"
	"context"
	"fmt"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/sungwon/mail-agent/internal/task"
)

// Transport opens one SMTP session, delivers a single message, and tears
// the session down. Implementations must not retry.
type Transport interface {
	SendMail(ctx context.Context, acct *task.SMTPAccount, auth sasl.Client, from string, to []string, msg []byte) error
}

// SMTPTransport is the production Transport backed by emersion/go-smtp.
// The account's secure flag selects implicit TLS; otherwise the connection
// is upgraded with STARTTLS.
type SMTPTransport struct{}

// NewSMTPTransport creates an SMTPTransport.
func NewSMTPTransport() *SMTPTransport {
	return &SMTPTransport{}
}

// SendMail dials the account's SMTP endpoint, authenticates, and submits
// the message. One session per call.
func (t *SMTPTransport) SendMail(ctx context.Context, acct *task.SMTPAccount, auth sasl.Client, from string, to []string, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", acct.Host, acct.Port)

	var (
		c   *smtp.Client
		err error
	)
	if acct.Secure {
		c, err = smtp.DialTLS(addr, nil)
	} else {
		c, err = smtp.DialStartTLS(addr, nil)
	}
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	defer c.Close()

	if err := ctx.Err(); err != nil {
		return err
	}

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("auth %s: %w", acct.Email, err)
		}
	}

	if err := c.Mail(from, nil); err != nil {
		return fmt.Errorf("mail from %s: %w", from, err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return fmt.Errorf("rcpt to %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := bytes.NewReader(msg).WriteTo(w); err != nil {
		w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	return c.Quit()
}
