package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sungwon/mail-agent/internal/identity"
	"github.com/sungwon/mail-agent/internal/journal"
	"github.com/sungwon/mail-agent/internal/queue"
	"github.com/sungwon/mail-agent/internal/scheduler"
	"github.com/sungwon/mail-agent/internal/task"
)

func newTestServer() (*Server, *queue.Queue) {
	q := queue.New(zerolog.Nop())
	tokens := identity.NewStore(identity.Tunables{})
	sched := scheduler.New(nil, q, nil, nil, tokens, nil, zerolog.Nop())
	return NewServer("1.0.0", q, sched, nil, zerolog.Nop()), q
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer()
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestStats(t *testing.T) {
	srv, q := newTestServer()
	q.Enqueue([]task.Task{{QueueID: 1}, {QueueID: 2}})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/stats")
	if err != nil {
		t.Fatalf("GET /api/v1/stats error = %v", err)
	}
	defer resp.Body.Close()

	var stats struct {
		Version   string `json:"version"`
		State     string `json:"state"`
		QueueSize int    `json:"queueSize"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}

	if stats.Version != "1.0.0" {
		t.Errorf("version = %q, want 1.0.0", stats.Version)
	}
	if stats.State != "unregistered" {
		t.Errorf("state = %q, want unregistered", stats.State)
	}
	if stats.QueueSize != 2 {
		t.Errorf("queueSize = %d, want 2", stats.QueueSize)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer()
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestDeadLettersWithoutJournal(t *testing.T) {
	srv, _ := newTestServer()
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/dead-letters")
	if err != nil {
		t.Fatalf("GET /api/v1/dead-letters error = %v", err)
	}
	defer resp.Body.Close()

	var letters []journal.DeadLetter
	if err := json.NewDecoder(resp.Body).Decode(&letters); err != nil {
		t.Fatalf("decode dead letters: %v", err)
	}
	if len(letters) != 0 {
		t.Errorf("dead letters = %d, want 0", len(letters))
	}
}
