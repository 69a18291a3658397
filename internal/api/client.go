// Package api implements the HTTP client for the coordination server:
// registration, task polling, result reporting, and health heartbeats.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/sungwon/mail-agent/internal/identity"
	"github.com/sungwon/mail-agent/internal/task"
)

// ErrUnauthorized is returned when the server rejects the agent token.
// Callers must clear the token and re-register on the next cycle.
var ErrUnauthorized = errors.New("agent token rejected")

// tokenHeader authenticates poll, report, and health calls.
const tokenHeader = "X-Agent-Token"

// HTTPClient abstracts HTTP operations for testability.
type HTTPClient interface {
	Do(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error)
}

// HTTPRequest represents an outgoing HTTP request.
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// HTTPResponse represents an HTTP response from the server.
type HTTPResponse struct {
	StatusCode int
	Body       []byte
}

// Client talks to the coordination server's agent endpoints.
type Client struct {
	baseURL  string
	secret   string
	nickname string
	version  string
	http     HTTPClient
	log      zerolog.Logger
}

// NewClient creates a Client for the given server base URL. The secret and
// nickname identify this agent at registration; version is the running
// build version reported to the server.
func NewClient(baseURL, secret, nickname, version string, httpClient HTTPClient, log zerolog.Logger) *Client {
	return &Client{
		baseURL:  baseURL,
		secret:   secret,
		nickname: nickname,
		version:  version,
		http:     httpClient,
		log:      log,
	}
}

type registerRequest struct {
	Secret   string `json:"secret"`
	Nickname string `json:"nickname"`
	Version  string `json:"version"`
}

type registerResponse struct {
	Token  string                 `json:"token"`
	Config *identity.ConfigUpdate `json:"config,omitempty"`
}

type pollResponse struct {
	Tasks  []task.Task            `json:"tasks"`
	Config *identity.ConfigUpdate `json:"config,omitempty"`
}

type reportRequest struct {
	Results []task.Result `json:"results"`
}

type healthRequest struct {
	QueueSize int    `json:"queueSize"`
	Version   string `json:"version"`
}

// Register exchanges the agent secret for a token and the server-assigned
// tunables.
func (c *Client) Register(ctx context.Context) (string, *identity.ConfigUpdate, error) {
	body, err := json.Marshal(registerRequest{
		Secret:   c.secret,
		Nickname: c.nickname,
		Version:  c.version,
	})
	if err != nil {
		return "", nil, fmt.Errorf("marshal register request: %w", err)
	}

	resp, err := c.http.Do(ctx, &HTTPRequest{
		Method:  http.MethodPost,
		URL:     c.baseURL + "/api/agents/register",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	})
	if err != nil {
		return "", nil, fmt.Errorf("register request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("register returned status %d: %s", resp.StatusCode, string(resp.Body))
	}

	var reg registerResponse
	if err := json.Unmarshal(resp.Body, &reg); err != nil {
		return "", nil, fmt.Errorf("parse register response: %w", err)
	}
	if reg.Token == "" {
		return "", nil, fmt.Errorf("register response carried no token")
	}

	return reg.Token, reg.Config, nil
}

// Poll fetches the next batch of tasks, at most limit. A 401 is surfaced
// as ErrUnauthorized.
func (c *Client) Poll(ctx context.Context, token string, limit int) ([]task.Task, *identity.ConfigUpdate, error) {
	url := c.baseURL + "/api/agents/poll"
	if limit > 0 {
		url = fmt.Sprintf("%s?limit=%d", url, limit)
	}

	resp, err := c.http.Do(ctx, &HTTPRequest{
		Method:  http.MethodGet,
		URL:     url,
		Headers: map[string]string{tokenHeader: token},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("poll request: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, nil, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return nil, nil, fmt.Errorf("poll returned status %d: %s", resp.StatusCode, string(resp.Body))
	}

	var poll pollResponse
	if err := json.Unmarshal(resp.Body, &poll); err != nil {
		return nil, nil, fmt.Errorf("parse poll response: %w", err)
	}

	return poll.Tasks, poll.Config, nil
}

// Report sends a batch of task results. A 401 is surfaced as
// ErrUnauthorized; any non-2xx status is an error. Retry policy belongs to
// the reporter, not here.
func (c *Client) Report(ctx context.Context, token string, results []task.Result) error {
	body, err := json.Marshal(reportRequest{Results: results})
	if err != nil {
		return fmt.Errorf("marshal report request: %w", err)
	}

	resp, err := c.http.Do(ctx, &HTTPRequest{
		Method: http.MethodPost,
		URL:    c.baseURL + "/api/agents/report",
		Headers: map[string]string{
			"Content-Type": "application/json",
			tokenHeader:    token,
		},
		Body: body,
	})
	if err != nil {
		return fmt.Errorf("report request: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("report returned status %d: %s", resp.StatusCode, string(resp.Body))
	}

	return nil
}

// Health posts a heartbeat with the current queue size. A 401 is surfaced
// as ErrUnauthorized so the caller can invalidate the token; other failures
// are plain errors the health loop swallows.
func (c *Client) Health(ctx context.Context, token string, queueSize int) error {
	body, err := json.Marshal(healthRequest{
		QueueSize: queueSize,
		Version:   c.version,
	})
	if err != nil {
		return fmt.Errorf("marshal health request: %w", err)
	}

	resp, err := c.http.Do(ctx, &HTTPRequest{
		Method: http.MethodPost,
		URL:    c.baseURL + "/api/agents/health",
		Headers: map[string]string{
			"Content-Type": "application/json",
			tokenHeader:    token,
		},
		Body: body,
	})
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("health returned status %d", resp.StatusCode)
	}

	return nil
}
