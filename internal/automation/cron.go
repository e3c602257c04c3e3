package automation

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/djlord-it/findingsd/internal/conditions"
	"github.com/djlord-it/findingsd/internal/correlation"
	"github.com/djlord-it/findingsd/internal/domain"
	"github.com/djlord-it/findingsd/internal/jobs"
)

// CronResult counts the work done by one LaunchCron call.
type CronResult struct {
	Projects int
	// Pages is the number of non-empty input pages processed.
	Pages int
	// Resolutions is the number of findings whose conditions passed and
	// whose parameters were resolved.
	Resolutions int
	Published   int
}

// LaunchCron fans a cron subscription out over its projects. Items of the
// input population created after the call starts are not visited.
func (e *Engine) LaunchCron(ctx context.Context, sub domain.Subscription) (CronResult, error) {
	var res CronResult
	log := e.logger.With(zap.String("subscription", sub.Name))

	if !sub.Enabled() {
		log.Debug("skipping disabled cron subscription")
		return res, nil
	}

	resolved, err := e.resolver.ForSubscription(ctx, sub)
	if err != nil {
		log.Error("cannot resolve subscription job", zap.Error(err))
		e.record(domain.TriggerCron, OutcomeSkipped)
		return res, nil
	}

	projectIDs := []string{sub.ProjectID}
	if sub.ProjectID == "" {
		projectIDs, err = e.projects.ProjectIDs(ctx)
		if err != nil {
			return res, errors.Wrap(err, "list projects")
		}
	}

	cutoff := e.clock()
	for _, projectID := range projectIDs {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if sub.Cooldown != nil {
			ok, err := e.gate.AttemptTrigger(ctx, sub.ID, correlation.Project(projectID), *sub.Cooldown, "")
			if err != nil {
				log.Error("trigger attempt failed", zap.String("project_id", projectID), zap.Error(err))
				e.record(domain.TriggerCron, OutcomeError)
				continue
			}
			if !ok {
				e.record(domain.TriggerCron, OutcomeCooldown)
				continue
			}
		}
		res.Projects++

		run := &cronRun{engine: e, sub: sub, resolved: resolved, projectID: projectID, log: log, res: &res}
		if sub.Input == domain.InputNone {
			run.fire(ctx, &domain.Finding{})
			continue
		}
		if err := run.page(ctx, cutoff); err != nil {
			log.Error("failed to page cron input",
				zap.String("project_id", projectID),
				zap.String("input", string(sub.Input)),
				zap.Error(err))
		}
	}
	return res, nil
}

type cronRun struct {
	engine    *Engine
	sub       domain.Subscription
	resolved  jobs.Resolved
	projectID string
	log       *zap.Logger
	res       *CronResult
}

// page walks the input population until a short page. Batched runs
// treat each page as one finding.
func (r *cronRun) page(ctx context.Context, cutoff time.Time) error {
	size := r.engine.pageSize
	if r.sub.Batch.Enabled && r.sub.Batch.Size > 0 {
		size = r.sub.Batch.Size
	}

	for page := 0; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		items, err := r.engine.pager.Page(ctx, r.projectID, r.sub.Input, page, size, cutoff)
		if err != nil {
			return errors.Wrapf(err, "page %d", page)
		}

		if len(items) > 0 {
			r.res.Pages++
			if r.engine.metrics != nil {
				r.engine.metrics.CronPage(string(r.sub.Input))
			}
			if r.sub.Batch.Enabled {
				f := BatchFinding(r.sub.Input, r.projectID, items)
				r.fire(ctx, &f)
			} else {
				for _, item := range items {
					f := ItemFinding(item)
					r.fire(ctx, &f)
				}
			}
		}

		if len(items) < size {
			return nil
		}
	}
}

// fire runs conditions, substitution and publication for one finding.
func (r *cronRun) fire(ctx context.Context, f *domain.Finding) {
	if !conditions.ShouldExecute(r.sub.IsEnabled, r.sub.Conditions, f) {
		r.engine.record(domain.TriggerCron, OutcomeConditions)
		return
	}
	r.res.Resolutions++
	params := jobs.SubstituteParameters(r.resolved.Parameters, f)
	outcome := r.engine.publish(ctx, r.log, r.resolved.JobName, params, r.projectID)
	if outcome == OutcomeFired {
		r.res.Published++
	}
	r.engine.record(domain.TriggerCron, outcome)
}
