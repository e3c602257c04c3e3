// Package channel is the in-process transport between finding ingestion
// and the router workers.
package channel

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/djlord-it/findingsd/internal/domain"
)

var (
	// ErrBufferFull is returned when the bus stays full for the emit timeout.
	ErrBufferFull = errors.New("finding bus buffer full")
	// ErrBatchTooLarge is returned for a batch that can never fit the buffer.
	ErrBatchTooLarge = errors.New("batch exceeds finding bus capacity")
)

// pollInterval is how often a waiting emit rechecks for room.
const pollInterval = 5 * time.Millisecond

// Envelope is a finding together with the job that reported it.
type Envelope struct {
	JobID     string
	Timestamp time.Time
	Finding   domain.Finding
}

// MetricsSink observes the bus backlog.
type MetricsSink interface {
	BufferSize(n int)
}

type Option func(*FindingBus)

// WithEmitTimeout bounds how long Emit waits for room in the buffer. Zero
// waits until the context is done.
func WithEmitTimeout(d time.Duration) Option {
	return func(b *FindingBus) { b.emitTimeout = d }
}

// WithMetrics reports the buffer length after every emit.
func WithMetrics(sink MetricsSink) Option {
	return func(b *FindingBus) { b.metrics = sink }
}

type FindingBus struct {
	ch          chan Envelope
	emitTimeout time.Duration
	metrics     MetricsSink // optional

	mu sync.Mutex // serializes senders
}

func NewFindingBus(buffer int, opts ...Option) *FindingBus {
	if buffer < 1 {
		buffer = 1
	}
	b := &FindingBus{
		ch:          make(chan Envelope, buffer),
		emitTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Emit queues one envelope, waiting up to the emit timeout for room.
func (b *FindingBus) Emit(ctx context.Context, env Envelope) error {
	return b.EmitAll(ctx, []Envelope{env})
}

// EmitAll queues every envelope or none of them. It waits up to the emit
// timeout for enough room for the whole batch.
func (b *FindingBus) EmitAll(ctx context.Context, envs []Envelope) error {
	if len(envs) == 0 {
		return nil
	}
	if len(envs) > cap(b.ch) {
		return errors.Wrapf(ErrBatchTooLarge, "%d findings, buffer holds %d", len(envs), cap(b.ch))
	}
	defer b.report()

	if b.tryEmit(envs) {
		return nil
	}

	var timeout <-chan time.Time
	if b.emitTimeout > 0 {
		timer := time.NewTimer(b.emitTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if b.tryEmit(envs) {
				return nil
			}
		case <-timeout:
			return ErrBufferFull
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// tryEmit sends envs if they all fit. Only senders holding mu write to the
// channel, so the sends below never block.
func (b *FindingBus) tryEmit(envs []Envelope) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cap(b.ch)-len(b.ch) < len(envs) {
		return false
	}
	for _, env := range envs {
		b.ch <- env
	}
	return true
}

// Channel is consumed by the router workers.
func (b *FindingBus) Channel() <-chan Envelope {
	return b.ch
}

// Close stops the bus. Emit must not be called afterwards.
func (b *FindingBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	close(b.ch)
}

// Len is the current backlog.
func (b *FindingBus) Len() int {
	return len(b.ch)
}

func (b *FindingBus) report() {
	if b.metrics != nil {
		b.metrics.BufferSize(len(b.ch))
	}
}
