// Package jobqueue hands created jobs to the workers that run them.
package jobqueue

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/djlord-it/findingsd/internal/circuitbreaker"
	"github.com/djlord-it/findingsd/internal/domain"
)

// Publisher delivers a job to its workers.
type Publisher interface {
	Publish(ctx context.Context, job domain.Job) error
}

// MetricsSink records publish outcomes. Implementations must not block.
type MetricsSink interface {
	JobPublished(task, outcome string)
}

// Outcome labels.
const (
	OutcomePublished = "published"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

// Message is the wire form of a queued job.
type Message struct {
	JobID      string                `json:"jobId"`
	Task       string                `json:"task"`
	ProjectID  string                `json:"projectId"`
	Priority   int                   `json:"priority"`
	CreatedAt  int64                 `json:"createdAt"`
	Parameters []domain.JobParameter `json:"parameters"`
}

// Encode serializes job as a Message.
func Encode(job domain.Job) ([]byte, error) {
	body, err := json.Marshal(Message{
		JobID:      job.ID.String(),
		Task:       job.Task,
		ProjectID:  job.ProjectID,
		Priority:   job.Priority,
		CreatedAt:  job.CreatedAt.UnixMilli(),
		Parameters: job.Parameters,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal job")
	}
	return body, nil
}

// Guarded wraps a Publisher with a circuit breaker and metrics.
type Guarded struct {
	next    Publisher
	breaker *circuitbreaker.CircuitBreaker // optional
	target  string
	metrics MetricsSink // optional
	logger  *zap.Logger
}

// NewGuarded wraps next. target names the destination in the breaker.
func NewGuarded(next Publisher, target string, logger *zap.Logger) *Guarded {
	return &Guarded{
		next:   next,
		target: target,
		logger: logger.Named("jobqueue"),
	}
}

// WithCircuitBreaker rejects publishes while the target is failing.
func (g *Guarded) WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) *Guarded {
	g.breaker = cb
	return g
}

// WithMetrics attaches a metrics sink.
func (g *Guarded) WithMetrics(sink MetricsSink) *Guarded {
	g.metrics = sink
	return g
}

func (g *Guarded) Publish(ctx context.Context, job domain.Job) error {
	if g.breaker != nil {
		if err := g.breaker.Allow(g.target); err != nil {
			g.record(job.Task, OutcomeRejected)
			g.logger.Warn("job rejected, queue unavailable",
				zap.String("job_id", job.ID.String()),
				zap.String("task", job.Task),
				zap.String("target", g.target))
			return err
		}
	}

	if err := g.next.Publish(ctx, job); err != nil {
		if g.breaker != nil {
			g.breaker.RecordFailure(g.target)
		}
		g.record(job.Task, OutcomeFailed)
		return errors.Wrapf(err, "publish job %s", job.ID)
	}

	if g.breaker != nil {
		g.breaker.RecordSuccess(g.target)
	}
	g.record(job.Task, OutcomePublished)
	g.logger.Debug("job published",
		zap.String("job_id", job.ID.String()),
		zap.String("task", job.Task),
		zap.String("project_id", job.ProjectID))
	return nil
}

func (g *Guarded) record(task, outcome string) {
	if g.metrics != nil {
		g.metrics.JobPublished(task, outcome)
	}
}

// LogPublisher only logs jobs. It is used when no queue is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.Named("jobqueue")}
}

func (p *LogPublisher) Publish(ctx context.Context, job domain.Job) error {
	body, err := Encode(job)
	if err != nil {
		return err
	}
	p.logger.Info("job",
		zap.String("job_id", job.ID.String()),
		zap.String("task", job.Task),
		zap.ByteString("payload", body))
	return nil
}
