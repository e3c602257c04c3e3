// Package automation decides which subscriptions fire for a finding or a
// cron tick and queues the resulting jobs.
package automation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/djlord-it/findingsd/internal/conditions"
	"github.com/djlord-it/findingsd/internal/domain"
	"github.com/djlord-it/findingsd/internal/jobs"
)

// DefaultPageSize is the cron input page size when none is configured.
const DefaultPageSize = 30

// SubscriptionSource lists the subscriptions of a project.
type SubscriptionSource interface {
	EventSubscriptions(projectID, findingKey string) []domain.Subscription
}

// ProjectLister enumerates projects for subscriptions without a project.
type ProjectLister interface {
	ProjectIDs(ctx context.Context) ([]string, error)
}

// InputPager pages through a project's resource population.
type InputPager interface {
	Page(ctx context.Context, projectID string, input domain.InputSource, page, size int, cutoff time.Time) ([]domain.Resource, error)
}

// TriggerGate enforces subscription cooldowns.
type TriggerGate interface {
	AttemptTrigger(ctx context.Context, subscriptionID uuid.UUID, correlationKey string, cooldownSeconds int, discriminator string) (bool, error)
}

// JobResolver expands the job a subscription declares.
type JobResolver interface {
	ForSubscription(ctx context.Context, sub domain.Subscription) (jobs.Resolved, error)
}

// JobFactory builds jobs. It returns nil for jobs that cannot be created.
type JobFactory interface {
	CreateJob(ctx context.Context, jobName string, params []domain.JobParameter, projectID string) *domain.Job
}

// JobQueue publishes jobs.
type JobQueue interface {
	Publish(ctx context.Context, job domain.Job) error
}

// MetricsSink records subscription outcomes. Implementations must not
// block.
type MetricsSink interface {
	SubscriptionEvaluated(trigger, outcome string)
	CronPage(input string)
}

// Outcome labels.
const (
	OutcomeFired      = "fired"
	OutcomeConditions = "conditions_unmet"
	OutcomeCooldown   = "cooldown"
	OutcomeSkipped    = "skipped"
	OutcomeError      = "error"
)

// Engine runs event and cron subscriptions.
type Engine struct {
	subscriptions SubscriptionSource
	projects      ProjectLister
	pager         InputPager
	gate          TriggerGate
	resolver      JobResolver
	factory       JobFactory
	queue         JobQueue
	metrics       MetricsSink // optional
	logger        *zap.Logger
	clock         func() time.Time
	pageSize      int
}

// Deps groups the engine collaborators.
type Deps struct {
	Subscriptions SubscriptionSource
	Projects      ProjectLister
	Pager         InputPager
	Gate          TriggerGate
	Resolver      JobResolver
	Factory       JobFactory
	Queue         JobQueue
}

func New(deps Deps, logger *zap.Logger) *Engine {
	return &Engine{
		subscriptions: deps.Subscriptions,
		projects:      deps.Projects,
		pager:         deps.Pager,
		gate:          deps.Gate,
		resolver:      deps.Resolver,
		factory:       deps.Factory,
		queue:         deps.Queue,
		logger:        logger.Named("automation"),
		clock:         time.Now,
		pageSize:      DefaultPageSize,
	}
}

// WithMetrics attaches a metrics sink.
func (e *Engine) WithMetrics(sink MetricsSink) *Engine {
	e.metrics = sink
	return e
}

// WithClock sets the clock used as the cron input cutoff.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// WithPageSize sets the cron input page size.
func (e *Engine) WithPageSize(n int) *Engine {
	if n > 0 {
		e.pageSize = n
	}
	return e
}

// OnFinding runs the event subscriptions listening to f in projectID. f
// must carry its correlation key. Failures are logged per subscription.
func (e *Engine) OnFinding(ctx context.Context, projectID string, f domain.Finding) {
	for _, sub := range e.subscriptions.EventSubscriptions(projectID, f.EventKey()) {
		outcome := e.fireEvent(ctx, projectID, sub, &f)
		e.record(domain.TriggerEvent, outcome)
	}
}

func (e *Engine) fireEvent(ctx context.Context, projectID string, sub domain.Subscription, f *domain.Finding) string {
	log := e.logger.With(
		zap.String("subscription", sub.Name),
		zap.String("correlation_key", f.CorrelationKey))

	if !conditions.ShouldExecute(sub.IsEnabled, sub.Conditions, f) {
		log.Debug("conditions not met")
		return OutcomeConditions
	}

	resolved, err := e.resolver.ForSubscription(ctx, sub)
	if err != nil {
		log.Error("cannot resolve subscription job", zap.Error(err))
		return OutcomeSkipped
	}
	params := jobs.SubstituteParameters(resolved.Parameters, f)

	discriminator := ""
	if sub.Discriminator != "" {
		discriminator = conditions.SubstituteString(sub.Discriminator, f)
	}

	ok, err := e.gate.AttemptTrigger(ctx, sub.ID, f.CorrelationKey, sub.CooldownSeconds(), discriminator)
	if err != nil {
		log.Error("trigger attempt failed", zap.Error(err))
		return OutcomeError
	}
	if !ok {
		log.Debug("subscription in cooldown or resource blocked")
		return OutcomeCooldown
	}

	return e.publish(ctx, log, resolved.JobName, params, projectID)
}

func (e *Engine) publish(ctx context.Context, log *zap.Logger, jobName string, params []domain.JobParameter, projectID string) string {
	job := e.factory.CreateJob(ctx, jobName, params, projectID)
	if job == nil {
		log.Warn("job not created", zap.String("job", jobName))
		return OutcomeSkipped
	}
	if err := e.queue.Publish(ctx, *job); err != nil {
		log.Error("failed to publish job",
			zap.String("job_id", job.ID.String()),
			zap.Error(err))
		return OutcomeError
	}
	log.Info("job published",
		zap.String("job", jobName),
		zap.String("job_id", job.ID.String()),
		zap.String("project_id", projectID))
	return OutcomeFired
}

func (e *Engine) record(trigger domain.TriggerType, outcome string) {
	if e.metrics != nil {
		e.metrics.SubscriptionEvaluated(string(trigger), outcome)
	}
}
