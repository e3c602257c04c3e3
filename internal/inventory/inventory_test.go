package inventory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/findingsd/internal/correlation"
	"github.com/djlord-it/findingsd/internal/domain"
	"github.com/djlord-it/findingsd/internal/testutil"
)

const project = "65f1c0a1b2c3d4e5f6a7b8c9"

func TestAddPort_CreatesHostAndProject(t *testing.T) {
	s := New()
	ctx := context.Background()

	r, err := s.AddPort(ctx, project, "1.1.1.1", 443, "tcp")
	require.NoError(t, err)
	assert.Equal(t, correlation.Port(project, "1.1.1.1", 443, "tcp"), r.CorrelationKey)

	host, err := s.Resource(ctx, correlation.Host(project, "1.1.1.1"))
	require.NoError(t, err)
	assert.Equal(t, domain.ResourceHost, host.Kind)

	ids, err := s.ProjectIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{project}, ids)
}

func TestAddPort_Rejects(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.AddPort(ctx, project, "1.1.1.1", 0, "tcp")
	assert.Error(t, err)
	_, err = s.AddPort(ctx, project, "1.1.1.1", 80, "sctp")
	assert.Error(t, err)
}

func TestAddWebsite_LinksDomain(t *testing.T) {
	s := New()
	ctx := context.Background()

	site, err := s.AddWebsite(ctx, project, "1.1.1.1", 443, "example.com", "", domain.BoolPtr(true))
	require.NoError(t, err)
	assert.Equal(t, "/", site.Path)
	assert.True(t, site.SSL)
	assert.Equal(t, correlation.ResourceKindOf(site.CorrelationKey), domain.ResourceWebsite)

	domains, err := s.HostDomains(ctx, project, "1.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, []string{"example.com"}, domains)

	// nil ssl keeps the stored flag
	site, err = s.AddWebsite(ctx, project, "1.1.1.1", 443, "example.com", "/", nil)
	require.NoError(t, err)
	assert.True(t, site.SSL)

	require.NoError(t, s.AddWebsiteEndpoint(ctx, site.CorrelationKey, "/login"))
	require.NoError(t, s.AddWebsiteEndpoint(ctx, site.CorrelationKey, "/login"))
	got, err := s.Resource(ctx, site.CorrelationKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"/login"}, got.Endpoints)
}

func TestTagAndBlock(t *testing.T) {
	s := New()
	ctx := context.Background()
	r, err := s.AddDomain(ctx, project, "example.com")
	require.NoError(t, err)

	require.NoError(t, s.Tag(ctx, domain.ResourceDomain, r.CorrelationKey, "prod"))
	err = s.Tag(ctx, domain.ResourceHost, r.CorrelationKey, "prod")
	assert.ErrorIs(t, err, ErrNotFound)

	blocked, err := s.IsBlocked(ctx, domain.ResourceDomain, r.CorrelationKey)
	require.NoError(t, err)
	assert.False(t, blocked)

	require.NoError(t, s.Block(ctx, r.CorrelationKey, true))
	blocked, err = s.IsBlocked(ctx, domain.ResourceDomain, r.CorrelationKey)
	require.NoError(t, err)
	assert.True(t, blocked)

	blocked, err = s.IsBlocked(ctx, domain.ResourceDomain, correlation.Domain(project, "unknown.com"))
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestPage_FiltersAndPaginates(t *testing.T) {
	clock := testutil.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s := New().WithClock(clock.Now)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.AddDomain(ctx, project, fmt.Sprintf("d%d.example.com", i))
		require.NoError(t, err)
		clock.Advance(time.Second)
	}
	cutoff := clock.Now()
	clock.Advance(time.Second)
	_, err := s.AddDomain(ctx, project, "late.example.com")
	require.NoError(t, err)
	require.NoError(t, s.Block(ctx, correlation.Domain(project, "d1.example.com"), true))

	first, err := s.Page(ctx, project, domain.InputDomains, 0, 3, cutoff)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, "d0.example.com", first[0].DomainName)
	assert.Equal(t, "d2.example.com", first[1].DomainName)

	second, err := s.Page(ctx, project, domain.InputDomains, 1, 3, cutoff)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "d4.example.com", second[0].DomainName)

	empty, err := s.Page(ctx, project, domain.InputDomains, 2, 3, cutoff)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestPage_TCPPortsOnly(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.AddPort(ctx, project, "1.1.1.1", 53, "udp")
	require.NoError(t, err)
	_, err = s.AddPort(ctx, project, "1.1.1.1", 22, "tcp")
	require.NoError(t, err)

	ports, err := s.Page(ctx, project, domain.InputTCPPorts, 0, 10, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, ports, 1)
	assert.Equal(t, 22, ports[0].Port)

	_, err = s.Page(ctx, project, domain.InputNone, 0, 10, time.Now())
	assert.Error(t, err)
}

func TestJobs(t *testing.T) {
	s := New()
	ctx := context.Background()
	job := domain.Job{ID: uuid.New(), Task: "DomainNameResolvingJob", ProjectID: project, CreatedAt: time.Now()}
	require.NoError(t, s.RecordJob(ctx, job))

	require.NoError(t, s.AppendJobOutput(ctx, job.ID.String(), "line 1"))
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID.String(), "success", at))

	rec, err := s.GetJob(ctx, job.ID.String())
	require.NoError(t, err)
	assert.Equal(t, project, rec.ProjectID)
	assert.Equal(t, "success", rec.Status)
	assert.Equal(t, at, rec.StatusUpdatedAt)
	assert.Equal(t, []string{"line 1"}, rec.Output)

	_, err = s.GetJob(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.AppendJobOutput(ctx, "missing", "x"), ErrNotFound)
}

func TestCustomJobsAndPodConfigs(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.PutCustomJob(ctx, domain.CustomJob{ID: "cj1", Name: "nuclei", Code: "print(1)", JobPodConfigID: "pc1"})
	s.PutJobPodConfig(ctx, domain.JobPodConfig{ID: "pc1", MilliCPULimit: 500, MemoryKbytesLimit: 1024})

	job, err := s.CustomJobByName(ctx, "nuclei")
	require.NoError(t, err)
	assert.Equal(t, "cj1", job.ID)

	conf, err := s.JobPodConfig(ctx, job.JobPodConfigID)
	require.NoError(t, err)
	assert.Equal(t, 500, conf.MilliCPULimit)

	_, err = s.CustomJobByName(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.JobPodConfig(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveFinding(t *testing.T) {
	s := New()
	ctx := context.Background()
	f := domain.Finding{Type: domain.FindingCustom, Key: "Vuln", Name: "Weak TLS"}
	require.NoError(t, s.SaveFinding(ctx, project, "job-1", f))
	require.NoError(t, s.SaveFinding(ctx, "other", "job-2", f))

	saved := s.Findings(ctx, project)
	require.Len(t, saved, 1)
	assert.Equal(t, "job-1", saved[0].JobID)
}

func TestDeleteProject(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.AddHost(ctx, project, "1.1.1.1", "a.com")
	require.NoError(t, err)

	s.DeleteProject(ctx, project)
	_, err = s.Resource(ctx, correlation.Host(project, "1.1.1.1"))
	assert.ErrorIs(t, err, ErrNotFound)
	exists, err := s.ProjectExists(ctx, project)
	require.NoError(t, err)
	assert.False(t, exists)
}
