package task

import (
	"encoding/json"
	"testing"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		typ  Type
		want Type
	}{
		{name: "explicit send", typ: TypeSend, want: TypeSend},
		{name: "mailbox check", typ: TypeMailboxCheck, want: TypeMailboxCheck},
		{name: "omitted defaults to send", typ: "", want: TypeSend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := Task{Type: tt.typ}
			if got := task.Kind(); got != tt.want {
				t.Errorf("Kind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExecutable(t *testing.T) {
	tests := []struct {
		name string
		task Task
		want bool
	}{
		{
			name: "send with subject and body",
			task: Task{Subject: "hello", Body: "<p>hi</p>"},
			want: true,
		},
		{
			name: "send missing subject",
			task: Task{Body: "<p>hi</p>"},
			want: false,
		},
		{
			name: "send missing body",
			task: Task{Subject: "hello"},
			want: false,
		},
		{
			name: "mailbox check needs no content",
			task: Task{Type: TypeMailboxCheck},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.task.Executable(); got != tt.want {
				t.Errorf("Executable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResultCorrelation(t *testing.T) {
	task := Task{
		QueueID: 42,
		SMTP:    SMTPAccount{Email: "sender@example.com"},
	}

	t.Run("success result", func(t *testing.T) {
		res := task.SucceededResult()
		if res.QueueID != 42 {
			t.Errorf("SucceededResult() QueueID = %d, want 42", res.QueueID)
		}
		if !res.Success {
			t.Error("SucceededResult() Success = false, want true")
		}
		if res.SMTPEmail != "sender@example.com" {
			t.Errorf("SucceededResult() SMTPEmail = %q, want sender@example.com", res.SMTPEmail)
		}
		if res.Error != "" {
			t.Errorf("SucceededResult() Error = %q, want empty", res.Error)
		}
	})

	t.Run("failure result", func(t *testing.T) {
		res := task.FailedResult("connection refused")
		if res.QueueID != 42 {
			t.Errorf("FailedResult() QueueID = %d, want 42", res.QueueID)
		}
		if res.Success {
			t.Error("FailedResult() Success = true, want false")
		}
		if res.Error != "connection refused" {
			t.Errorf("FailedResult() Error = %q, want connection refused", res.Error)
		}
	})
}

func TestTaskUnmarshal(t *testing.T) {
	payload := `{
		"queueId": 7,
		"campaignId": 3,
		"subject": "Welcome",
		"body": "<p>Hello</p>",
		"trackingId": "trk-1",
		"contact": {"id": 12, "email": "to@example.com", "name": "Jamie"},
		"campaign": {"name": "Launch", "replyTo": "reply@example.com"},
		"smtp": {
			"id": 5,
			"email": "from@example.com",
			"host": "smtp.example.com",
			"port": 587,
			"authType": "oauth2",
			"oauth": {"clientId": "cid", "refreshToken": "rt", "tenant": "contoso"}
		}
	}`

	var task Task
	if err := json.Unmarshal([]byte(payload), &task); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if task.QueueID != 7 {
		t.Errorf("QueueID = %d, want 7", task.QueueID)
	}
	if task.Kind() != TypeSend {
		t.Errorf("Kind() = %q, want %q", task.Kind(), TypeSend)
	}
	if task.Contact.Email != "to@example.com" {
		t.Errorf("Contact.Email = %q, want to@example.com", task.Contact.Email)
	}
	if task.Campaign == nil || task.Campaign.ReplyTo != "reply@example.com" {
		t.Errorf("Campaign.ReplyTo = %+v, want reply@example.com", task.Campaign)
	}
	if task.SMTP.AuthType != AuthOAuth2 {
		t.Errorf("SMTP.AuthType = %q, want %q", task.SMTP.AuthType, AuthOAuth2)
	}
	if task.SMTP.OAuth == nil || task.SMTP.OAuth.RefreshToken != "rt" {
		t.Errorf("SMTP.OAuth = %+v, want refresh token rt", task.SMTP.OAuth)
	}
}
