package jobs

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/djlord-it/findingsd/internal/domain"
)

var (
	// ErrCustomJobNotFound is returned when a subscription names a custom
	// job that does not exist.
	ErrCustomJobNotFound = errors.New("custom job not found")
	// ErrJobPodConfigNotFound is returned when a custom job references
	// unknown resource limits.
	ErrJobPodConfigNotFound = errors.New("job pod config not found")
	// ErrInvalidSubscription is returned for subscriptions whose job
	// declaration cannot be resolved at all.
	ErrInvalidSubscription = errors.New("invalid subscription job")
)

// DefaultPodConfig applies to custom jobs that do not reference limits.
var DefaultPodConfig = domain.JobPodConfig{
	ID:                "default",
	Name:              "default",
	MilliCPULimit:     100,
	MemoryKbytesLimit: 100 * 1024,
}

// CustomJobSource looks up user-defined jobs.
type CustomJobSource interface {
	CustomJobByName(ctx context.Context, name string) (domain.CustomJob, error)
	JobPodConfig(ctx context.Context, id string) (domain.JobPodConfig, error)
}

// Resolved is the job a subscription will queue.
type Resolved struct {
	JobName    string
	Parameters []domain.JobParameter
}

// Resolver expands custom jobs into the parameter layout the custom job
// runner expects.
type Resolver struct {
	source CustomJobSource
	logger *zap.Logger
}

// NewResolver creates a Resolver.
func NewResolver(source CustomJobSource, logger *zap.Logger) *Resolver {
	return &Resolver{source: source, logger: logger.Named("jobs")}
}

// ForSubscription returns the job name and parameters sub should queue.
// Built-in jobs keep their declared parameters. A custom job, named either
// directly by jobName or through a customJobName parameter of a CustomJob
// declaration, is spliced in front of the declared parameters, which move
// under customJobParameters. The returned parameters are a copy.
func (r *Resolver) ForSubscription(ctx context.Context, sub domain.Subscription) (Resolved, error) {
	if sub.JobName == "" {
		return Resolved{}, errors.Wrapf(ErrInvalidSubscription, "subscription %q has no job name", sub.Name)
	}

	declared := CloneParameters(sub.JobParameters)

	customName := ""
	switch {
	case sub.JobName == domain.CustomJobTask:
		v, ok := Lookup(declared, ParamCustomJobName)
		if !ok {
			return Resolved{}, errors.Wrapf(ErrInvalidSubscription, "subscription %q declares %s without %s", sub.Name, domain.CustomJobTask, ParamCustomJobName)
		}
		name, ok := v.(string)
		if !ok || name == "" {
			return Resolved{}, errors.Wrapf(ErrInvalidSubscription, "subscription %q: %s must be a non-empty string", sub.Name, ParamCustomJobName)
		}
		customName = name
	case IsBuiltin(sub.JobName):
		return Resolved{JobName: sub.JobName, Parameters: declared}, nil
	default:
		customName = sub.JobName
	}

	job, err := r.source.CustomJobByName(ctx, customName)
	if err != nil {
		return Resolved{}, errors.Wrapf(ErrCustomJobNotFound, "subscription %q: custom job %q: %v", sub.Name, customName, err)
	}

	conf := DefaultPodConfig
	if job.JobPodConfigID != "" {
		conf, err = r.source.JobPodConfig(ctx, job.JobPodConfigID)
		if err != nil {
			return Resolved{}, errors.Wrapf(ErrJobPodConfigNotFound, "custom job %q: pod config %q: %v", job.Name, job.JobPodConfigID, err)
		}
	} else {
		r.logger.Debug("no job pod config on custom job, using default",
			zap.String("custom_job", job.Name))
	}

	return Resolved{
		JobName: domain.CustomJobTask,
		Parameters: []domain.JobParameter{
			{Name: ParamName, Value: job.Name},
			{Name: ParamCode, Value: job.Code},
			{Name: ParamType, Value: job.Type},
			{Name: ParamLanguage, Value: job.Language},
			{Name: ParamCustomJobParameters, Value: withoutCustomJobName(declared)},
			{Name: ParamMilliCPULimit, Value: conf.MilliCPULimit},
			{Name: ParamMemoryKbLimit, Value: conf.MemoryKbytesLimit},
		},
	}, nil
}

func withoutCustomJobName(params []domain.JobParameter) []domain.JobParameter {
	out := make([]domain.JobParameter, 0, len(params))
	for _, p := range params {
		if p.Name == ParamCustomJobName {
			continue
		}
		out = append(out, p)
	}
	return out
}
