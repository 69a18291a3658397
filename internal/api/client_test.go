package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sungwon/mail-agent/internal/task"
)

// fakeHTTPClient records requests and plays back canned responses.
type fakeHTTPClient struct {
	requests  []*HTTPRequest
	responses []*HTTPResponse
	err       error
}

func (f *fakeHTTPClient) Do(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

func newTestClient(f *fakeHTTPClient) *Client {
	return NewClient("https://coordinator.example.com", "s3cret", "agent-1", "1.0.0", f, zerolog.Nop())
}

func TestRegister(t *testing.T) {
	fake := &fakeHTTPClient{
		responses: []*HTTPResponse{{
			StatusCode: http.StatusOK,
			Body:       []byte(`{"token":"tok-1","config":{"pollIntervalMs":30000}}`),
		}},
	}
	client := newTestClient(fake)

	token, cfg, err := client.Register(context.Background())
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if token != "tok-1" {
		t.Errorf("Register() token = %q, want tok-1", token)
	}
	if cfg == nil || cfg.PollIntervalMs != 30000 {
		t.Errorf("Register() config = %+v, want pollIntervalMs 30000", cfg)
	}

	req := fake.requests[0]
	if req.Method != http.MethodPost {
		t.Errorf("Register() method = %q, want POST", req.Method)
	}
	if req.URL != "https://coordinator.example.com/api/agents/register" {
		t.Errorf("Register() URL = %q", req.URL)
	}

	var body registerRequest
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatalf("unmarshal register body: %v", err)
	}
	if body.Secret != "s3cret" || body.Nickname != "agent-1" || body.Version != "1.0.0" {
		t.Errorf("register body = %+v", body)
	}
}

func TestRegisterErrors(t *testing.T) {
	tests := []struct {
		name string
		fake *fakeHTTPClient
	}{
		{
			name: "transport error",
			fake: &fakeHTTPClient{err: errors.New("connection refused")},
		},
		{
			name: "non-200 status",
			fake: &fakeHTTPClient{responses: []*HTTPResponse{{StatusCode: http.StatusForbidden, Body: []byte(`bad secret`)}}},
		},
		{
			name: "missing token",
			fake: &fakeHTTPClient{responses: []*HTTPResponse{{StatusCode: http.StatusOK, Body: []byte(`{}`)}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(tt.fake)
			if _, _, err := client.Register(context.Background()); err == nil {
				t.Error("Register() error = nil, want error")
			}
		})
	}
}

func TestPoll(t *testing.T) {
	fake := &fakeHTTPClient{
		responses: []*HTTPResponse{{
			StatusCode: http.StatusOK,
			Body:       []byte(`{"tasks":[{"queueId":1},{"queueId":2}],"config":{"batchSize":5}}`),
		}},
	}
	client := newTestClient(fake)

	tasks, cfg, err := client.Poll(context.Background(), "tok-1", 10)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(tasks) != 2 || tasks[0].QueueID != 1 || tasks[1].QueueID != 2 {
		t.Errorf("Poll() tasks = %+v, want queue ids 1, 2", tasks)
	}
	if cfg == nil || cfg.BatchSize != 5 {
		t.Errorf("Poll() config = %+v, want batchSize 5", cfg)
	}

	req := fake.requests[0]
	if req.Headers[tokenHeader] != "tok-1" {
		t.Errorf("Poll() token header = %q, want tok-1", req.Headers[tokenHeader])
	}
	if req.URL != "https://coordinator.example.com/api/agents/poll?limit=10" {
		t.Errorf("Poll() URL = %q, want limit query", req.URL)
	}
}

func TestPollUnauthorized(t *testing.T) {
	fake := &fakeHTTPClient{
		responses: []*HTTPResponse{{StatusCode: http.StatusUnauthorized}},
	}
	client := newTestClient(fake)

	_, _, err := client.Poll(context.Background(), "stale", 10)
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Poll() error = %v, want ErrUnauthorized", err)
	}
}

func TestReport(t *testing.T) {
	fake := &fakeHTTPClient{
		responses: []*HTTPResponse{{StatusCode: http.StatusOK}},
	}
	client := newTestClient(fake)

	results := []task.Result{
		{QueueID: 1, Success: true, SMTPEmail: "a@example.com"},
		{QueueID: 2, Success: false, SMTPEmail: "a@example.com", Error: "bounce"},
	}
	if err := client.Report(context.Background(), "tok-1", results); err != nil {
		t.Fatalf("Report() error = %v", err)
	}

	var body reportRequest
	if err := json.Unmarshal(fake.requests[0].Body, &body); err != nil {
		t.Fatalf("unmarshal report body: %v", err)
	}
	if len(body.Results) != 2 || body.Results[1].Error != "bounce" {
		t.Errorf("report body = %+v", body)
	}
}

func TestReportUnauthorized(t *testing.T) {
	fake := &fakeHTTPClient{
		responses: []*HTTPResponse{{StatusCode: http.StatusUnauthorized}},
	}
	client := newTestClient(fake)

	err := client.Report(context.Background(), "stale", []task.Result{{QueueID: 1}})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Report() error = %v, want ErrUnauthorized", err)
	}
}

func TestHealth(t *testing.T) {
	fake := &fakeHTTPClient{
		responses: []*HTTPResponse{{StatusCode: http.StatusOK}},
	}
	client := newTestClient(fake)

	if err := client.Health(context.Background(), "tok-1", 7); err != nil {
		t.Fatalf("Health() error = %v", err)
	}

	var body healthRequest
	if err := json.Unmarshal(fake.requests[0].Body, &body); err != nil {
		t.Fatalf("unmarshal health body: %v", err)
	}
	if body.QueueSize != 7 {
		t.Errorf("health body QueueSize = %d, want 7", body.QueueSize)
	}
	if body.Version != "1.0.0" {
		t.Errorf("health body Version = %q, want 1.0.0", body.Version)
	}
}

func TestHealthUnauthorized(t *testing.T) {
	fake := &fakeHTTPClient{
		responses: []*HTTPResponse{{StatusCode: http.StatusUnauthorized}},
	}
	client := newTestClient(fake)

	err := client.Health(context.Background(), "stale", 0)
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Health() error = %v, want ErrUnauthorized", err)
	}
}
