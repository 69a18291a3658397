// Package identity owns the agent's mutable process-wide state: the
// server-issued token and the scheduling tunables. The scheduler writes,
// the side-loops read.
package identity

import (
	"sync"
	"time"
)

// Defensive minimums. The server owns the tunables, but a nonsensical
// interval must not turn the poll loop into a tight spin.
const (
	minPollInterval   = 1 * time.Second
	minSendInterval   = 100 * time.Millisecond
	minHealthInterval = 1 * time.Second
)

// Tunables are the server-assigned scheduling parameters. Updates are
// last-write-wins per field.
type Tunables struct {
	PollInterval   time.Duration
	SendInterval   time.Duration
	BatchSize      int
	HealthInterval time.Duration
	TargetVersion  string
}

// ConfigUpdate is a partial tunables update as sent by the server.
// Zero fields are left untouched.
type ConfigUpdate struct {
	PollIntervalMs   int    `json:"pollIntervalMs,omitempty"`
	SendIntervalMs   int    `json:"sendIntervalMs,omitempty"`
	BatchSize        int    `json:"batchSize,omitempty"`
	HealthIntervalMs int    `json:"healthIntervalMs,omitempty"`
	TargetVersion    string `json:"targetVersion,omitempty"`
}

// Store holds the agent token and tunables behind a single lock.
type Store struct {
	mu       sync.RWMutex
	token    string
	tunables Tunables
}

// NewStore creates a Store seeded with the local defaults. The token starts
// empty; the agent is unregistered until SetToken is called.
func NewStore(initial Tunables) *Store {
	s := &Store{tunables: initial}
	s.tunables.clamp()
	return s
}

// Token returns the current agent token, empty when unregistered.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken stores a newly issued agent token.
func (s *Store) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// ClearToken invalidates the token, forcing re-registration on the next
// cycle. Called on any 401 from the server.
func (s *Store) ClearToken() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

// Registered reports whether the agent currently holds a token.
func (s *Store) Registered() bool {
	return s.Token() != ""
}

// Tunables returns a copy of the current tunables.
func (s *Store) Tunables() Tunables {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tunables
}

// UpdateConfig shallow-merges a partial server update over the current
// tunables, last-write-wins per field, then clamps to the minimums.
func (s *Store) UpdateConfig(u *ConfigUpdate) {
	if u == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if u.PollIntervalMs > 0 {
		s.tunables.PollInterval = time.Duration(u.PollIntervalMs) * time.Millisecond
	}
	if u.SendIntervalMs > 0 {
		s.tunables.SendInterval = time.Duration(u.SendIntervalMs) * time.Millisecond
	}
	if u.BatchSize > 0 {
		s.tunables.BatchSize = u.BatchSize
	}
	if u.HealthIntervalMs > 0 {
		s.tunables.HealthInterval = time.Duration(u.HealthIntervalMs) * time.Millisecond
	}
	if u.TargetVersion != "" {
		s.tunables.TargetVersion = u.TargetVersion
	}

	s.tunables.clamp()
}

func (t *Tunables) clamp() {
	if t.PollInterval < minPollInterval {
		t.PollInterval = minPollInterval
	}
	if t.SendInterval < minSendInterval {
		t.SendInterval = minSendInterval
	}
	if t.BatchSize < 1 {
		t.BatchSize = 1
	}
	if t.HealthInterval < minHealthInterval {
		t.HealthInterval = minHealthInterval
	}
}
