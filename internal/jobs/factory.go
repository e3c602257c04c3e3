package jobs

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/djlord-it/findingsd/internal/domain"
)

// Definition describes a job the workers know how to run.
type Definition struct {
	Name     string
	Priority int
	// Required parameter names, lower-case.
	Required []string
	// Defaults fill parameters the caller left out.
	Defaults []domain.JobParameter
}

var definitions = map[string]Definition{
	"DomainNameResolvingJob": {Name: "DomainNameResolvingJob", Priority: 3, Required: []string{"domainname"}},
	"HostnameResolvingJob":   {Name: "HostnameResolvingJob", Priority: 3, Required: []string{"targetip"}},
	"TcpPortScanningJob": {
		Name:     "TcpPortScanningJob",
		Priority: 3,
		Required: []string{"targetip"},
		Defaults: []domain.JobParameter{
			{Name: "threads", Value: 1000},
			{Name: "socketTimeoutSeconds", Value: 0.7},
			{Name: "portMin", Value: 1},
			{Name: "portMax", Value: 1000},
			{Name: "ports", Value: []any{}},
		},
	},
	"TcpIpRangeScanningJob": {
		Name:     "TcpIpRangeScanningJob",
		Priority: 3,
		Required: []string{"targetip", "targetmask"},
		Defaults: []domain.JobParameter{
			{Name: "rate", Value: 100000},
			{Name: "portMin", Value: 1},
			{Name: "portMax", Value: 1000},
			{Name: "ports", Value: []any{3000, 3389, 8000, 8080, 8443}},
		},
	},
	"HttpServerCheckJob": {Name: "HttpServerCheckJob", Priority: 3, Required: []string{"targetip", "ports"}},
	"WebsiteCrawlingJob": {Name: "WebsiteCrawlingJob", Priority: 3, Required: []string{"targetip", "port"}},
	domain.CustomJobTask: {
		Name:     domain.CustomJobTask,
		Priority: 3,
		Required: []string{"name", "code", "customjobparameters", ParamMilliCPULimit, ParamMemoryKbLimit},
	},
}

// IsBuiltin reports whether name is a known job definition.
func IsBuiltin(name string) bool {
	_, ok := definitions[name]
	return ok
}

// JobRecorder tracks created jobs so their findings can be attributed.
type JobRecorder interface {
	RecordJob(ctx context.Context, job domain.Job) error
}

// Factory validates job parameters and builds jobs.
type Factory struct {
	recorder JobRecorder // optional
	logger   *zap.Logger
	clock    func() time.Time
}

// NewFactory creates a Factory. recorder may be nil.
func NewFactory(recorder JobRecorder, logger *zap.Logger) *Factory {
	return &Factory{
		recorder: recorder,
		logger:   logger.Named("jobs"),
		clock:    time.Now,
	}
}

// WithClock sets the clock used for job creation times.
func (f *Factory) WithClock(clock func() time.Time) *Factory {
	f.clock = clock
	return f
}

// CreateJob builds a job for jobName. It returns nil, after logging, when
// the job is unknown or a required parameter is missing. The projectId
// parameter is set from projectID.
func (f *Factory) CreateJob(ctx context.Context, jobName string, params []domain.JobParameter, projectID string) *domain.Job {
	def, ok := definitions[jobName]
	if !ok {
		f.logger.Warn("ignoring job: no definition matches the job name",
			zap.String("job", jobName))
		return nil
	}
	if projectID == "" {
		f.logger.Warn("ignoring job: no project", zap.String("job", jobName))
		return nil
	}

	bound := make([]domain.JobParameter, 0, len(params)+len(def.Defaults)+1)
	seen := make(map[string]bool, len(params))
	for _, p := range CloneParameters(params) {
		if strings.EqualFold(p.Name, ParamProjectID) {
			continue
		}
		seen[strings.ToLower(p.Name)] = true
		bound = append(bound, p)
	}
	for _, d := range def.Defaults {
		if !seen[strings.ToLower(d.Name)] {
			bound = append(bound, d)
			seen[strings.ToLower(d.Name)] = true
		}
	}
	for _, name := range def.Required {
		if !seen[name] {
			f.logger.Warn("ignoring job: missing parameter",
				zap.String("job", jobName),
				zap.String("parameter", name))
			return nil
		}
	}
	bound = append(bound, domain.JobParameter{Name: ParamProjectID, Value: projectID})

	job := &domain.Job{
		ID:         uuid.New(),
		Task:       def.Name,
		ProjectID:  projectID,
		Parameters: bound,
		Priority:   def.Priority,
		CreatedAt:  f.clock(),
	}

	if f.recorder != nil {
		if err := f.recorder.RecordJob(ctx, *job); err != nil {
			f.logger.Error("failed to record job",
				zap.String("job_id", job.ID.String()),
				zap.Error(err))
		}
	}
	return job
}
