package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/djlord-it/findingsd/internal/domain"
	"github.com/djlord-it/findingsd/internal/testutil"
)

const project = "65f1c0a1b2c3d4e5f6a7b8c9"

var errMissing = errors.New("missing")

type mockCustomJobs struct {
	jobs    map[string]domain.CustomJob
	configs map[string]domain.JobPodConfig
}

func (m *mockCustomJobs) CustomJobByName(ctx context.Context, name string) (domain.CustomJob, error) {
	if j, ok := m.jobs[name]; ok {
		return j, nil
	}
	return domain.CustomJob{}, errMissing
}

func (m *mockCustomJobs) JobPodConfig(ctx context.Context, id string) (domain.JobPodConfig, error) {
	if c, ok := m.configs[id]; ok {
		return c, nil
	}
	return domain.JobPodConfig{}, errMissing
}

type mockRecorder struct {
	jobs []domain.Job
	err  error
}

func (m *mockRecorder) RecordJob(ctx context.Context, job domain.Job) error {
	m.jobs = append(m.jobs, job)
	return m.err
}

func TestSubstituteParameters(t *testing.T) {
	f := &domain.Finding{Type: domain.FindingHostname, DomainName: "example.com"}
	params := []domain.JobParameter{
		{Name: "domainName", Value: "${domainName}"},
		{Name: "literal", Value: 42},
		{Name: ParamCustomJobParameters, Value: []domain.JobParameter{
			{Name: "TARGET", Value: "${ domainname }"},
			{Name: "LIST", Value: []any{"${domainName}", 1}},
		}},
	}

	out := SubstituteParameters(params, f)

	assert.Equal(t, "example.com", out[0].Value)
	assert.Equal(t, 42, out[1].Value)
	nested := out[2].Value.([]domain.JobParameter)
	assert.Equal(t, "example.com", nested[0].Value)
	// lists inside nested parameters are copied, not substituted
	assert.Equal(t, []any{"${domainName}", 1}, nested[1].Value)

	assert.Equal(t, "${domainName}", params[0].Value)
	assert.Equal(t, "${ domainname }", params[2].Value.([]domain.JobParameter)[0].Value)
}

func TestSubstituteParameters_UnresolvedKept(t *testing.T) {
	out := SubstituteParameters([]domain.JobParameter{{Name: "x", Value: "${nope}"}}, &domain.Finding{})
	assert.Equal(t, "${nope}", out[0].Value)
}

func TestResolver_Builtin(t *testing.T) {
	r := NewResolver(&mockCustomJobs{}, zap.NewNop())
	sub := domain.Subscription{
		Name:          "resolve",
		JobName:       "DomainNameResolvingJob",
		JobParameters: []domain.JobParameter{{Name: "domainName", Value: "${domainName}"}},
	}

	res, err := r.ForSubscription(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, "DomainNameResolvingJob", res.JobName)
	assert.Equal(t, sub.JobParameters, res.Parameters)

	res.Parameters[0].Value = "changed"
	assert.Equal(t, "${domainName}", sub.JobParameters[0].Value)
}

func TestResolver_CustomJobByName(t *testing.T) {
	source := &mockCustomJobs{
		jobs: map[string]domain.CustomJob{
			"nuclei-scan": {Name: "nuclei-scan", Code: "id: x", Type: "nuclei", Language: "yaml", JobPodConfigID: "small"},
		},
		configs: map[string]domain.JobPodConfig{
			"small": {ID: "small", MilliCPULimit: 250, MemoryKbytesLimit: 2048},
		},
	}
	r := NewResolver(source, zap.NewNop())
	sub := domain.Subscription{
		Name:          "nuclei",
		JobName:       "nuclei-scan",
		JobParameters: []domain.JobParameter{{Name: "TARGET", Value: "${ip}"}},
	}

	res, err := r.ForSubscription(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, domain.CustomJobTask, res.JobName)

	names := make([]string, len(res.Parameters))
	for i, p := range res.Parameters {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"name", "code", "type", "language", "customJobParameters", "jobpodmillicpulimit", "jobpodmemorykblimit"}, names)
	assert.Equal(t, sub.JobParameters, res.Parameters[4].Value)
	assert.Equal(t, 250, res.Parameters[5].Value)
	assert.Equal(t, 2048, res.Parameters[6].Value)
}

func TestResolver_CustomJobMarker(t *testing.T) {
	source := &mockCustomJobs{jobs: map[string]domain.CustomJob{"whoami": {Name: "whoami", Code: "print(1)"}}}
	r := NewResolver(source, zap.NewNop())
	sub := domain.Subscription{
		Name:    "marker",
		JobName: domain.CustomJobTask,
		JobParameters: []domain.JobParameter{
			{Name: ParamCustomJobName, Value: "whoami"},
			{Name: "A", Value: "b"},
		},
	}

	res, err := r.ForSubscription(context.Background(), sub)
	require.NoError(t, err)
	v, ok := Lookup(res.Parameters, ParamCustomJobParameters)
	require.True(t, ok)
	assert.Equal(t, []domain.JobParameter{{Name: "A", Value: "b"}}, v)
	v, _ = Lookup(res.Parameters, ParamMilliCPULimit)
	assert.Equal(t, DefaultPodConfig.MilliCPULimit, v)
}

func TestResolver_Errors(t *testing.T) {
	source := &mockCustomJobs{jobs: map[string]domain.CustomJob{"orphan": {Name: "orphan", JobPodConfigID: "gone"}}}
	r := NewResolver(source, zap.NewNop())
	ctx := context.Background()

	_, err := r.ForSubscription(ctx, domain.Subscription{Name: "a", JobName: "unknown"})
	assert.ErrorIs(t, err, ErrCustomJobNotFound)

	_, err = r.ForSubscription(ctx, domain.Subscription{Name: "b", JobName: "orphan"})
	assert.ErrorIs(t, err, ErrJobPodConfigNotFound)

	_, err = r.ForSubscription(ctx, domain.Subscription{Name: "c", JobName: domain.CustomJobTask})
	assert.ErrorIs(t, err, ErrInvalidSubscription)

	_, err = r.ForSubscription(ctx, domain.Subscription{Name: "d"})
	assert.ErrorIs(t, err, ErrInvalidSubscription)
}

func TestFactory_CreateJob(t *testing.T) {
	rec := &mockRecorder{}
	clock := testutil.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	f := NewFactory(rec, zap.NewNop()).WithClock(clock.Now)

	job := f.CreateJob(context.Background(), "TcpIpRangeScanningJob", []domain.JobParameter{
		{Name: "targetIp", Value: "10.0.0.0"},
		{Name: "targetMask", Value: 24},
		{Name: "rate", Value: 10},
		{Name: "projectId", Value: "stale"},
	}, project)

	require.NotNil(t, job)
	assert.Equal(t, "TcpIpRangeScanningJob", job.Task)
	assert.Equal(t, project, job.ProjectID)
	assert.Equal(t, clock.Now(), job.CreatedAt)

	rate, _ := Lookup(job.Parameters, "rate")
	assert.Equal(t, 10, rate)
	portMax, _ := Lookup(job.Parameters, "portMax")
	assert.Equal(t, 1000, portMax)
	pid, _ := Lookup(job.Parameters, ParamProjectID)
	assert.Equal(t, project, pid)

	require.Len(t, rec.jobs, 1)
	assert.Equal(t, job.ID, rec.jobs[0].ID)
}

func TestFactory_RejectsUnknownAndIncomplete(t *testing.T) {
	rec := &mockRecorder{}
	f := NewFactory(rec, zap.NewNop())
	ctx := context.Background()

	assert.Nil(t, f.CreateJob(ctx, "NotAJob", nil, project))
	assert.Nil(t, f.CreateJob(ctx, "DomainNameResolvingJob", nil, project))
	assert.Nil(t, f.CreateJob(ctx, "DomainNameResolvingJob", []domain.JobParameter{{Name: "domainName", Value: "a.com"}}, ""))
	assert.Empty(t, rec.jobs)
}

func TestFactory_RecorderFailureStillReturnsJob(t *testing.T) {
	rec := &mockRecorder{err: errors.New("db down")}
	f := NewFactory(rec, zap.NewNop())

	job := f.CreateJob(context.Background(), "DomainNameResolvingJob", []domain.JobParameter{{Name: "domainName", Value: "a.com"}}, project)
	assert.NotNil(t, job)
}

func TestIsBuiltin(t *testing.T) {
	assert.True(t, IsBuiltin("CustomJob"))
	assert.True(t, IsBuiltin("WebsiteCrawlingJob"))
	assert.False(t, IsBuiltin("nuclei-scan"))
	assert.True(t, IsBuiltin("HttpServerCheckJob"))
}
