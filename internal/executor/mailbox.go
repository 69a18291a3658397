package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"

	"github.com/sungwon/mail-agent/internal/task"
)

const defaultIMAPPort = 993

// MailboxStatus is the outcome of an inbox check.
type MailboxStatus struct {
	Messages uint32
	Unseen   uint32
}

// MailboxChecker inspects the INBOX of the account behind a task.
type MailboxChecker interface {
	Check(ctx context.Context, acct *task.SMTPAccount) (*MailboxStatus, error)
}

// IMAPChecker is the production MailboxChecker backed by go-imap. The IMAP
// endpoint is derived from the SMTP host (smtp.example.com becomes
// imap.example.com) on the standard IMAPS port.
type IMAPChecker struct {
	tokens *TokenManager
}

// NewIMAPChecker creates an IMAPChecker. tokens may be nil when no OAuth2
// accounts are in play.
func NewIMAPChecker(tokens *TokenManager) *IMAPChecker {
	return &IMAPChecker{tokens: tokens}
}

// Check connects, authenticates, and fetches message/unseen counts for
// INBOX. One connection per call.
func (c *IMAPChecker) Check(ctx context.Context, acct *task.SMTPAccount) (*MailboxStatus, error) {
	addr := fmt.Sprintf("%s:%d", imapHost(acct.Host), defaultIMAPPort)

	client, err := imapclient.DialTLS(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	defer func() { _ = client.Logout().Wait() }()

	if acct.AuthType == task.AuthOAuth2 {
		token, err := c.tokens.GetToken(ctx, acct)
		if err != nil {
			return nil, err
		}
		auth := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: acct.Email,
			Token:    token,
		})
		if err := client.Authenticate(auth); err != nil {
			return nil, fmt.Errorf("authenticate %s: %w", acct.Email, err)
		}
	} else {
		if err := client.Login(acct.Email, acct.Password).Wait(); err != nil {
			return nil, fmt.Errorf("login %s: %w", acct.Email, err)
		}
	}

	data, err := client.Status("INBOX", &imap.StatusOptions{
		NumMessages: true,
		NumUnseen:   true,
	}).Wait()
	if err != nil {
		return nil, fmt.Errorf("status INBOX: %w", err)
	}

	status := &MailboxStatus{}
	if data.NumMessages != nil {
		status.Messages = *data.NumMessages
	}
	if data.NumUnseen != nil {
		status.Unseen = *data.NumUnseen
	}
	return status, nil
}

// imapHost maps an SMTP hostname onto the provider's IMAP hostname.
func imapHost(smtpHost string) string {
	if rest, ok := strings.CutPrefix(smtpHost, "smtp."); ok {
		return "imap." + rest
	}
	return smtpHost
}
