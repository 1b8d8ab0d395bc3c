// Package circuitbreaker wraps sony/gobreaker behind a named-instance
// manager, mirroring the teacher's notification-delivery circuit breaker
// manager: one breaker per external dependency (Twilio, Slack, the LLM
// fallback classifier), each independently trippable.
package circuitbreaker

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// Manager owns one gobreaker.CircuitBreaker per named external dependency.
type Manager struct {
	breakers map[string]*gobreaker.CircuitBreaker
	onTrip   func(name string, from, to gobreaker.State)
}

// Settings configures a single named breaker.
type Settings struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// NewManager constructs a Manager with no breakers registered yet. onTrip,
// if non-nil, is invoked whenever any registered breaker changes state
// (cmd/api and cmd/scheduler use it to log the transition).
func NewManager(onTrip func(name string, from, to gobreaker.State)) *Manager {
	return &Manager{breakers: make(map[string]*gobreaker.CircuitBreaker), onTrip: onTrip}
}

// Register installs a breaker for the named dependency.
func (m *Manager) Register(s Settings) {
	m.breakers[s.Name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if m.onTrip != nil {
				m.onTrip(name, from, to)
			}
		},
	})
}

// Execute runs fn through the named breaker, registering it lazily with
// sensible defaults (3 consecutive failures, 60s cooldown) if it hasn't been
// explicitly configured.
func (m *Manager) Execute(ctx context.Context, name string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	b, ok := m.breakers[name]
	if !ok {
		m.Register(Settings{Name: name, MaxRequests: 1, Interval: 0, Timeout: 60 * time.Second, FailureThreshold: 3})
		b = m.breakers[name]
	}
	return b.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
}

// State returns the current state of the named breaker, or StateClosed if
// the breaker has never been used.
func (m *Manager) State(name string) gobreaker.State {
	b, ok := m.breakers[name]
	if !ok {
		return gobreaker.StateClosed
	}
	return b.State()
}

// IsOpen reports whether calling the named dependency right now would be
// rejected by its breaker.
func (m *Manager) IsOpen(name string) bool {
	return m.State(name) == gobreaker.StateOpen
}
