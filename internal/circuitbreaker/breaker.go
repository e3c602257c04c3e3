// Package circuitbreaker stops calling an outbound target after repeated
// failures and lets a single trial call through once the cooldown elapses.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed   state = iota
	stateOpen
	stateHalfOpen
)

func (s state) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

type targetState struct {
	state               state
	consecutiveFailures int
	openedAt            time.Time
}

// CircuitBreaker tracks one state machine per target (a queue name, a
// webhook URL).
type CircuitBreaker struct {
	mu        sync.Mutex
	states    map[string]*targetState
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		states:    make(map[string]*targetState),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// WithClock sets the time source used to expire the open state.
func (cb *CircuitBreaker) WithClock(clock func() time.Time) *CircuitBreaker {
	cb.clock = clock
	return cb
}

func (cb *CircuitBreaker) Allow(target string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[target]
	if !ok {
		return nil
	}

	switch s.state {
	case stateClosed:
		return nil
	case stateOpen:
		if cb.clock().Sub(s.openedAt) >= cb.cooldown {
			s.state = stateHalfOpen
			return nil
		}
		return errors.Wrapf(ErrCircuitOpen, "target %s", target)
	case stateHalfOpen:
		return errors.Wrapf(ErrCircuitOpen, "target %s: trial call in flight", target)
	default:
		return nil
	}
}

func (cb *CircuitBreaker) RecordSuccess(target string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[target]
	if !ok {
		return
	}
	s.state = stateClosed
	s.consecutiveFailures = 0
}

func (cb *CircuitBreaker) RecordFailure(target string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[target]
	if !ok {
		s = &targetState{}
		cb.states[target] = s
	}

	s.consecutiveFailures++
	if s.state == stateHalfOpen || s.consecutiveFailures >= cb.threshold {
		s.state = stateOpen
		s.openedAt = cb.clock()
	}
}

// State reports the current state of target for diagnostics.
func (cb *CircuitBreaker) State(target string) string {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[target]
	if !ok {
		return stateClosed.String()
	}
	return s.state.String()
}
