// Package router attributes incoming findings to a project, stamps their
// correlation key, applies the inventory side effect of their type and
// hands them to the subscription engine.
package router

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/djlord-it/findingsd/internal/domain"
	"github.com/djlord-it/findingsd/internal/transport/channel"
)

var (
	// ErrUnknownJob is returned for findings reported by a job that does
	// not exist.
	ErrUnknownJob = errors.New("unknown job")
	// ErrDropped is returned for findings that were accepted but not
	// routed, such as findings of unassigned jobs.
	ErrDropped = errors.New("finding dropped")
)

// JobStore gives access to the jobs findings are reported for.
type JobStore interface {
	GetJob(ctx context.Context, jobID string) (domain.JobRecord, error)
	AppendJobOutput(ctx context.Context, jobID, line string) error
	UpdateJobStatus(ctx context.Context, jobID, status string, at time.Time) error
}

// ResourceStore is the inventory written by finding handlers.
type ResourceStore interface {
	AddDomain(ctx context.Context, projectID, name string) (domain.Resource, error)
	AddHost(ctx context.Context, projectID, ip string, domains ...string) (domain.Resource, error)
	HostDomains(ctx context.Context, projectID, ip string) ([]string, error)
	AddIPRange(ctx context.Context, projectID, ip string, mask int) (domain.Resource, error)
	AddPort(ctx context.Context, projectID, ip string, port int, protocol string) (domain.Resource, error)
	SetPortService(ctx context.Context, projectID, ip string, port int, protocol, service, product, version string) (domain.Resource, error)
	AddWebsite(ctx context.Context, projectID, ip string, port int, domainName, path string, ssl *bool) (domain.Resource, error)
	AddWebsiteEndpoint(ctx context.Context, correlationKey, endpoint string) error
	Tag(ctx context.Context, kind domain.ResourceKind, correlationKey, tag string) error
}

// FindingStore keeps custom findings.
type FindingStore interface {
	SaveFinding(ctx context.Context, projectID, jobID string, f domain.Finding) error
}

// SubscriptionPass runs event subscriptions for a routed finding.
type SubscriptionPass interface {
	OnFinding(ctx context.Context, projectID string, f domain.Finding)
}

// MetricsSink records routing outcomes. Implementations must not block.
type MetricsSink interface {
	FindingRouted(kind, outcome string)
}

// Outcome labels.
const (
	OutcomeRouted  = "routed"
	OutcomeStatus  = "status"
	OutcomeDropped = "dropped"
	OutcomeError   = "error"
)

// Request carries the context a handler needs.
type Request struct {
	JobID     string
	ProjectID string
	Finding   domain.Finding
}

// Handler applies the inventory side effect of one finding type.
type Handler func(ctx context.Context, req Request) error

// Router dispatches findings to their handler.
type Router struct {
	jobs      JobStore
	resources ResourceStore
	findings  FindingStore
	pass      SubscriptionPass
	handlers  map[domain.FindingKind]Handler
	projects  *expirable.LRU[string, string]
	metrics   MetricsSink // optional
	logger    *zap.Logger
	clock     func() time.Time
}

// Options tune the job lookup cache.
type Options struct {
	CacheSize int
	CacheTTL  time.Duration
}

func New(jobs JobStore, resources ResourceStore, findings FindingStore, pass SubscriptionPass, logger *zap.Logger, opts Options) *Router {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1024
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	r := &Router{
		jobs:      jobs,
		resources: resources,
		findings:  findings,
		pass:      pass,
		projects:  expirable.NewLRU[string, string](opts.CacheSize, nil, opts.CacheTTL),
		logger:    logger.Named("router"),
		clock:     time.Now,
	}
	r.handlers = r.registry()
	return r
}

// WithMetrics attaches a metrics sink.
func (r *Router) WithMetrics(sink MetricsSink) *Router {
	r.metrics = sink
	return r
}

// WithClock sets the clock used for job status timestamps.
func (r *Router) WithClock(clock func() time.Time) *Router {
	r.clock = clock
	return r
}

// Route processes one finding. jobID may be empty for findings that carry
// their own project. A zero at uses the router clock.
func (r *Router) Route(ctx context.Context, f domain.Finding, jobID string, at time.Time) error {
	if at.IsZero() {
		at = r.clock()
	}
	kind := string(f.Type)

	projectID := ""
	if jobID != "" {
		job, err := r.job(ctx, jobID)
		if err != nil {
			r.logger.Error("the given job does not exist",
				zap.String("job_id", jobID),
				zap.Error(err))
			r.record(kind, OutcomeDropped)
			return errors.Wrapf(ErrUnknownJob, "job %s", jobID)
		}
		f.JobID = jobID

		if f.Type == domain.FindingJobStatus {
			return r.updateStatus(ctx, jobID, f, at)
		}

		line, err := json.Marshal(f)
		if err == nil {
			err = r.jobs.AppendJobOutput(ctx, jobID, string(line))
		}
		if err != nil {
			r.logger.Warn("failed to append job output",
				zap.String("job_id", jobID),
				zap.Error(err))
		}

		if job.ProjectID == "" {
			// one-off job: output only
			r.record(kind, OutcomeDropped)
			return nil
		}
		projectID = job.ProjectID
	} else if f.Type == domain.FindingJobStatus {
		r.record(kind, OutcomeDropped)
		return errors.Wrap(ErrDropped, "job status finding without job")
	}

	handler, ok := r.handlers[f.Type]
	if !ok {
		r.logger.Error("unknown finding type", zap.String("type", kind))
		r.record(kind, OutcomeDropped)
		return errors.Wrapf(ErrDropped, "unknown finding type %q", kind)
	}

	projectID = EffectiveProject(f, projectID)
	key, err := CorrelationKey(f, projectID)
	if err != nil {
		r.logger.Error("failed to compute correlation key",
			zap.String("type", kind),
			zap.String("job_id", jobID),
			zap.Error(err))
		r.record(kind, OutcomeError)
		return err
	}
	f.CorrelationKey = key
	if usesOwnProject(f.Type) {
		f.ProjectID = projectID
	}

	req := Request{JobID: jobID, ProjectID: projectID, Finding: f}
	if err := handler(ctx, req); err != nil {
		r.logger.Error("finding handler failed",
			zap.String("type", kind),
			zap.String("correlation_key", key),
			zap.Error(err))
	}

	if r.pass != nil {
		r.pass.OnFinding(ctx, projectID, f)
	}
	r.record(kind, OutcomeRouted)
	return nil
}

func (r *Router) updateStatus(ctx context.Context, jobID string, f domain.Finding, at time.Time) error {
	if f.Status == "" {
		r.logger.Error("ignoring job status update without status", zap.String("job_id", jobID))
		r.record(string(f.Type), OutcomeDropped)
		return errors.Wrap(ErrDropped, "empty job status")
	}
	if err := r.jobs.UpdateJobStatus(ctx, jobID, f.Status, at); err != nil {
		r.record(string(f.Type), OutcomeError)
		return errors.Wrapf(err, "update status of job %s", jobID)
	}
	r.record(string(f.Type), OutcomeStatus)
	return nil
}

// job resolves a job. Only the project is cached.
func (r *Router) job(ctx context.Context, jobID string) (domain.JobRecord, error) {
	if projectID, ok := r.projects.Get(jobID); ok {
		return domain.JobRecord{ID: jobID, ProjectID: projectID}, nil
	}
	job, err := r.jobs.GetJob(ctx, jobID)
	if err != nil {
		return domain.JobRecord{}, err
	}
	r.projects.Add(jobID, job.ProjectID)
	return job, nil
}

// BatchResult summarizes RouteBatch.
type BatchResult struct {
	Routed   int
	Failed   int
	Rejected []Rejection
}

// Rejection is a finding of a batch that failed to route.
type Rejection struct {
	Index int
	Err   error
}

// RouteBatch routes every finding of a job report. A failing finding does
// not stop the others, except for ErrUnknownJob which fails the whole batch.
func (r *Router) RouteBatch(ctx context.Context, jobID string, at time.Time, findings []domain.Finding) (BatchResult, error) {
	var res BatchResult
	for i, f := range findings {
		err := r.Route(ctx, f, jobID, at)
		if errors.Is(err, ErrUnknownJob) {
			return res, err
		}
		if err != nil {
			res.Failed++
			res.Rejected = append(res.Rejected, Rejection{Index: i, Err: err})
			continue
		}
		res.Routed++
	}
	return res, nil
}

// Run consumes the bus with the given number of workers until ctx is done
// or the bus is closed. Buffered findings are drained when the bus closes.
func (r *Router) Run(ctx context.Context, bus <-chan channel.Envelope, workers int) {
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case env, ok := <-bus:
					if !ok {
						return
					}
					if err := r.Route(ctx, env.Finding, env.JobID, env.Timestamp); err != nil {
						r.logger.Debug("finding not routed", zap.Error(err))
					}
				}
			}
		}()
	}
	wg.Wait()
}

func (r *Router) record(kind, outcome string) {
	if r.metrics != nil {
		r.metrics.FindingRouted(kind, outcome)
	}
}
