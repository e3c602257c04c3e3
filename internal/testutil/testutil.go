// Package testutil provides shared test helpers.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/djlord-it/findingsd/internal/domain"
)

// FakeClock provides deterministic time for testing.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewFakeClock creates a FakeClock set to the given time.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// TestContext returns a context with a 5-second timeout.
// The context is cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// RecordingPublisher is a job publisher that keeps what it is given.
// While an error is set, Publish fails and records nothing.
type RecordingPublisher struct {
	mu   sync.Mutex
	jobs []domain.Job
	err  error
}

func (p *RecordingPublisher) Publish(_ context.Context, job domain.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.jobs = append(p.jobs, job)
	return nil
}

// SetErr makes subsequent publishes fail with err. nil restores success.
func (p *RecordingPublisher) SetErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Jobs returns a copy of the published jobs in order.
func (p *RecordingPublisher) Jobs() []domain.Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Job(nil), p.jobs...)
}
