// Package inventory is an in-process implementation of the resource,
// project and job collaborators the engine reads from and writes to.
package inventory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/djlord-it/findingsd/internal/correlation"
	"github.com/djlord-it/findingsd/internal/domain"
)

// ErrNotFound is returned for unknown jobs, custom jobs, pod configs and
// resources.
var ErrNotFound = errors.New("not found")

// SavedFinding is a custom finding kept for later display.
type SavedFinding struct {
	ProjectID string
	JobID     string
	Finding   domain.Finding
	SavedAt   time.Time
}

// Store holds every collection behind one lock.
type Store struct {
	mu sync.RWMutex

	projects   map[string]bool
	resources  map[string]*domain.Resource
	jobs       map[string]*domain.JobRecord
	customJobs map[string]domain.CustomJob
	podConfigs map[string]domain.JobPodConfig
	findings   []SavedFinding

	clock func() time.Time
}

// New returns an empty inventory.
func New() *Store {
	return &Store{
		projects:   make(map[string]bool),
		resources:  make(map[string]*domain.Resource),
		jobs:       make(map[string]*domain.JobRecord),
		customJobs: make(map[string]domain.CustomJob),
		podConfigs: make(map[string]domain.JobPodConfig),
		clock:      time.Now,
	}
}

// WithClock replaces the time source used for creation timestamps.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// Projects

// AddProject registers a project. Adding twice is a no-op.
func (s *Store) AddProject(ctx context.Context, projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[projectID] = true
}

// DeleteProject forgets a project and its resources.
func (s *Store) DeleteProject(ctx context.Context, projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, projectID)
	for key, r := range s.resources {
		if r.ProjectID == projectID {
			delete(s.resources, key)
		}
	}
}

// ProjectIDs lists projects in lexical order.
func (s *Store) ProjectIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.projects))
	for id := range s.projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ProjectExists reports whether projectID was registered.
func (s *Store) ProjectExists(ctx context.Context, projectID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.projects[projectID], nil
}

// Jobs

// RecordJob tracks a queued job so its findings can be attributed.
func (s *Store) RecordJob(ctx context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID.String()] = &domain.JobRecord{
		ID:              job.ID.String(),
		Task:            job.Task,
		ProjectID:       job.ProjectID,
		Status:          "queued",
		StatusUpdatedAt: job.CreatedAt,
	}
	return nil
}

// PutJob stores a job record as is.
func (s *Store) PutJob(ctx context.Context, rec domain.JobRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[rec.ID] = &rec
}

// GetJob returns a copy of a job record.
func (s *Store) GetJob(ctx context.Context, jobID string) (domain.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return domain.JobRecord{}, errors.Wrapf(ErrNotFound, "job %s", jobID)
	}
	out := *rec
	out.Output = append([]string(nil), rec.Output...)
	return out, nil
}

// AppendJobOutput adds a line to the job's output log.
func (s *Store) AppendJobOutput(ctx context.Context, jobID, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return errors.Wrapf(ErrNotFound, "job %s", jobID)
	}
	rec.Output = append(rec.Output, line)
	return nil
}

// UpdateJobStatus sets the status reported by the job.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID, status string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return errors.Wrapf(ErrNotFound, "job %s", jobID)
	}
	rec.Status = status
	rec.StatusUpdatedAt = at
	return nil
}

// Custom jobs

// PutCustomJob stores a custom job under its name.
func (s *Store) PutCustomJob(ctx context.Context, job domain.CustomJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customJobs[job.Name] = job
}

// CustomJobByName returns the custom job called name.
func (s *Store) CustomJobByName(ctx context.Context, name string) (domain.CustomJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.customJobs[name]
	if !ok {
		return domain.CustomJob{}, errors.Wrapf(ErrNotFound, "custom job %q", name)
	}
	return job, nil
}

// PutJobPodConfig stores resource limits under their id.
func (s *Store) PutJobPodConfig(ctx context.Context, conf domain.JobPodConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.podConfigs[conf.ID] = conf
}

// JobPodConfig returns the limits with the given id.
func (s *Store) JobPodConfig(ctx context.Context, id string) (domain.JobPodConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conf, ok := s.podConfigs[id]
	if !ok {
		return domain.JobPodConfig{}, errors.Wrapf(ErrNotFound, "job pod config %q", id)
	}
	return conf, nil
}

// Findings

// SaveFinding keeps a custom finding.
func (s *Store) SaveFinding(ctx context.Context, projectID, jobID string, f domain.Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings = append(s.findings, SavedFinding{ProjectID: projectID, JobID: jobID, Finding: f, SavedAt: s.clock()})
	return nil
}

// Findings returns the saved findings of a project.
func (s *Store) Findings(ctx context.Context, projectID string) []SavedFinding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []SavedFinding
	for _, f := range s.findings {
		if f.ProjectID == projectID {
			out = append(out, f)
		}
	}
	return out
}

// keyFor is the correlation key of a resource. It never fails for
// resources built by this package.
func keyFor(r domain.Resource) string {
	switch r.Kind {
	case domain.ResourceDomain:
		return correlation.Domain(r.ProjectID, r.DomainName)
	case domain.ResourceHost:
		return correlation.Host(r.ProjectID, r.IP)
	case domain.ResourceIPRange:
		return correlation.IPRange(r.ProjectID, r.IP, r.Mask)
	case domain.ResourcePort:
		return correlation.Port(r.ProjectID, r.IP, r.Port, r.Protocol)
	case domain.ResourceWebsite:
		return correlation.Website(r.ProjectID, r.IP, r.Port, r.DomainName, r.Path)
	default:
		return correlation.Project(r.ProjectID)
	}
}
