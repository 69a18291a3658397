// Package task defines the wire types exchanged with the coordination
// server: tasks polled by the agent and the results reported back.
package task

// Type discriminates what kind of work a Task carries. The server omits
// the field for send tasks, so the zero value maps to TypeSend.
type Type string

const (
	TypeSend         Type = "send"
	TypeMailboxCheck Type = "mailboxCheck"
)

// Auth types supported by SMTP accounts.
const (
	AuthBasic  = "basic"
	AuthOAuth2 = "oauth2"
)

// Task is one unit of work received from the coordination server. It is
// immutable once enqueued; the queue entry is identified by QueueID.
type Task struct {
	QueueID    int64  `json:"queueId"`
	CampaignID int64  `json:"campaignId,omitempty"`
	Type       Type   `json:"type,omitempty"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	TrackingID string `json:"trackingId"`

	Contact  Contact       `json:"contact"`
	Campaign *CampaignInfo `json:"campaign,omitempty"`
	SMTP     SMTPAccount   `json:"smtp"`
}

// Contact is the recipient record attached to a send task.
type Contact struct {
	ID      int64  `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	Company string `json:"company,omitempty"`
	Site    string `json:"site,omitempty"`
}

// CampaignInfo carries the campaign-level metadata a task may reference.
type CampaignInfo struct {
	Name    string `json:"name"`
	ReplyTo string `json:"replyTo,omitempty"`
}

// SMTPAccount is the credential bundle used to open the transport session
// for a task. AuthType selects between basic password auth and OAuth2.
type SMTPAccount struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Secure   bool   `json:"secure"`
	AuthType string `json:"authType"`

	OAuth *OAuthCredentials `json:"oauth,omitempty"`
}

// OAuthCredentials holds the refresh material for OAuth2 SMTP/IMAP auth.
type OAuthCredentials struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret,omitempty"`
	RefreshToken string `json:"refreshToken"`
	Tenant       string `json:"tenant,omitempty"`
}

// Result is produced exactly once per dequeued task and correlates back to
// it via QueueID. On failure Error carries a human-readable message.
type Result struct {
	QueueID   int64  `json:"queueId"`
	Success   bool   `json:"success"`
	SMTPEmail string `json:"smtpEmail"`
	Error     string `json:"error,omitempty"`
}

// Kind returns the task type, defaulting to TypeSend when the server
// omitted the field.
func (t *Task) Kind() Type {
	if t.Type == "" {
		return TypeSend
	}
	return t.Type
}

// Executable reports whether a send task carries the content it needs.
// Missing subject or body is a terminal per-task error, not a queue fault.
func (t *Task) Executable() bool {
	if t.Kind() != TypeSend {
		return true
	}
	return t.Subject != "" && t.Body != ""
}

// SucceededResult builds the success result for a task.
func (t *Task) SucceededResult() Result {
	return Result{
		QueueID:   t.QueueID,
		Success:   true,
		SMTPEmail: t.SMTP.Email,
	}
}

// FailedResult builds a failure result carrying the given reason.
func (t *Task) FailedResult(reason string) Result {
	return Result{
		QueueID:   t.QueueID,
		Success:   false,
		SMTPEmail: t.SMTP.Email,
		Error:     reason,
	}
}
