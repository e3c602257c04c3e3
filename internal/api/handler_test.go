package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/djlord-it/findingsd/internal/correlation"
	"github.com/djlord-it/findingsd/internal/domain"
	"github.com/djlord-it/findingsd/internal/inventory"
	"github.com/djlord-it/findingsd/internal/router"
	"github.com/djlord-it/findingsd/internal/subscription"
	"github.com/djlord-it/findingsd/internal/transport/channel"
	"github.com/djlord-it/findingsd/internal/trigger"
)

const projectA = "65f1c0a1b2c3d4e5f6a7b8c9"

type mockBus struct {
	mu   sync.Mutex
	envs []channel.Envelope
	err  error
}

func (b *mockBus) EmitAll(ctx context.Context, envs []channel.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.envs = append(b.envs, envs...)
	return nil
}

type mockJobRouter struct {
	jobID    string
	at       time.Time
	findings []domain.Finding
	res      router.BatchResult
	err      error
}

func (m *mockJobRouter) RouteBatch(ctx context.Context, jobID string, at time.Time, findings []domain.Finding) (router.BatchResult, error) {
	m.jobID = jobID
	m.at = at
	m.findings = findings
	return m.res, m.err
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.err
}

type harness struct {
	server *httptest.Server
	bus    *mockBus
	jobs   *mockJobRouter
	subs   *subscription.Registry
	gate   *trigger.Gate
}

func newHarness(t *testing.T, subs ...domain.Subscription) *harness {
	t.Helper()
	h := &harness{
		bus:  &mockBus{},
		jobs: &mockJobRouter{},
		subs: subscription.NewRegistry(subs...),
		gate: trigger.New(trigger.NewMemoryStore(), nil, zap.NewNop()),
	}
	handler := NewHandler(h.bus, h.jobs, h.subs, h.gate, zap.NewNop())
	h.server = httptest.NewServer(handler.Routes())
	t.Cleanup(h.server.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, h.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	resp, out := h.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", out["status"])
}

func TestHealth_Verbose(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		wantStatus int
		want       string
	}{
		{"healthy", nil, http.StatusOK, "ok"},
		{"degraded", errors.New("connection refused"), http.StatusServiceUnavailable, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler(&mockBus{}, &mockJobRouter{}, subscription.NewRegistry(), nil, zap.NewNop()).
				WithHealthChecker(&mockHealthChecker{err: tt.pingErr})
			rec := httptest.NewRecorder()
			handler.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health?verbose=true", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			var out HealthResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
			assert.Equal(t, tt.want, out.Status)
			assert.Contains(t, out.Components, "database")
		})
	}
}

func TestPostFindings_Accepted(t *testing.T) {
	h := newHarness(t)

	resp, out := h.do(t, http.MethodPost, "/findings", `{"findings":[
		{"type":"HostnameFinding","domainName":"example.com","projectId":"`+projectA+`"},
		{"type":"PortFinding","ip":"1.1.1.1","port":443,"jobId":"job-1"}
	]}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 2.0, out["accepted"])

	require.Len(t, h.bus.envs, 2)
	assert.Equal(t, "", h.bus.envs[0].JobID)
	assert.Equal(t, "example.com", h.bus.envs[0].Finding.DomainName)
	assert.Equal(t, "job-1", h.bus.envs[1].JobID)
	assert.False(t, h.bus.envs[0].Timestamp.IsZero())
}

func TestPostFindings_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		index bool
	}{
		{"bad json", `{"findings":`, false},
		{"empty", `{"findings":[]}`, false},
		{"missing type", `{"findings":[{"domainName":"example.com"}]}`, true},
		{"no project", `{"findings":[{"type":"HostnameFinding","domainName":"example.com"}]}`, true},
		{"port without job", `{"findings":[{"type":"PortFinding","ip":"1.1.1.1","port":22,"projectId":"` + projectA + `"}]}`, true},
		{"job status without job", `{"findings":[{"type":"JobStatusFinding","status":"Success"}]}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			resp, out := h.do(t, http.MethodPost, "/findings", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, out["error"])
			if tt.index {
				assert.Equal(t, 0.0, out["index"])
			}
			assert.Empty(t, h.bus.envs, "nothing is queued")
		})
	}
}

func TestPostFindings_TooMany(t *testing.T) {
	h := newHarness(t)
	items := make([]string, MaxFindings+1)
	for i := range items {
		items[i] = `{"type":"IpFinding","ip":"1.1.1.1","projectId":"` + projectA + `"}`
	}

	resp, _ := h.do(t, http.MethodPost, "/findings", `{"findings":[`+strings.Join(items, ",")+`]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPostFindings_BusFull(t *testing.T) {
	h := newHarness(t)
	h.bus.err = channel.ErrBufferFull

	resp, _ := h.do(t, http.MethodPost, "/findings", `{"findings":[{"type":"IpFinding","ip":"1.1.1.1","projectId":"`+projectA+`"}]}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func postToBus(t *testing.T, bus *channel.FindingBus, body string) *http.Response {
	t.Helper()
	handler := NewHandler(bus, &mockJobRouter{}, subscription.NewRegistry(), nil, zap.NewNop())
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/findings", strings.NewReader(body)))
	return rec.Result()
}

const twoHostnames = `{"findings":[` +
	`{"type":"HostnameFinding","domainName":"a.example.com","projectId":"` + projectA + `"},` +
	`{"type":"HostnameFinding","domainName":"b.example.com","projectId":"` + projectA + `"}]}`

func TestPostFindings_BatchLargerThanQueue(t *testing.T) {
	bus := channel.NewFindingBus(1, channel.WithEmitTimeout(10*time.Millisecond))

	resp := postToBus(t, bus, twoHostnames)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Zero(t, bus.Len(), "nothing is queued")
}

func TestPostFindings_QueueFullQueuesNothing(t *testing.T) {
	bus := channel.NewFindingBus(2, channel.WithEmitTimeout(10*time.Millisecond))
	resp := postToBus(t, bus, `{"findings":[{"type":"IpFinding","ip":"1.1.1.1","projectId":"`+projectA+`"}]}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = postToBus(t, bus, twoHostnames)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, 1, bus.Len(), "a rejected batch leaves the queue untouched")

	<-bus.Channel()
	resp = postToBus(t, bus, twoHostnames)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 2, bus.Len())
}

func TestPostJobFindings(t *testing.T) {
	h := newHarness(t)
	h.jobs.res = router.BatchResult{Routed: 2}

	resp, out := h.do(t, http.MethodPost, "/jobs/job-1/findings",
		`{"timestamp":1709294400000,"findings":[{"type":"HostnameFinding","domainName":"a.example.com"},{"type":"IpFinding","ip":"1.1.1.1"}]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2.0, out["routed"])
	assert.NotContains(t, out, "rejected")

	assert.Equal(t, "job-1", h.jobs.jobID)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), h.jobs.at)
	assert.Len(t, h.jobs.findings, 2)
}

func TestPostJobFindings_NoTimestamp(t *testing.T) {
	h := newHarness(t)
	h.jobs.res = router.BatchResult{Routed: 1}

	resp, _ := h.do(t, http.MethodPost, "/jobs/job-1/findings", `{"findings":[{"type":"IpFinding","ip":"1.1.1.1"}]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, h.jobs.at.IsZero())
}

func TestPostJobFindings_UnknownJob(t *testing.T) {
	h := newHarness(t)
	h.jobs.err = router.ErrUnknownJob

	resp, _ := h.do(t, http.MethodPost, "/jobs/nope/findings", `{"findings":[{"type":"IpFinding","ip":"1.1.1.1"}]}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPostJobFindings_AllInvalid(t *testing.T) {
	h := newHarness(t)
	h.jobs.res = router.BatchResult{
		Failed:   1,
		Rejected: []router.Rejection{{Index: 0, Err: correlation.ErrInvalidArgument}},
	}

	resp, out := h.do(t, http.MethodPost, "/jobs/job-1/findings", `{"findings":[{"type":"WebsiteFinding","path":"/x"}]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Len(t, out["rejected"], 1)
}

func TestPostJobFindings_PartialFailure(t *testing.T) {
	h := newHarness(t)
	h.jobs.res = router.BatchResult{
		Routed:   1,
		Failed:   1,
		Rejected: []router.Rejection{{Index: 1, Err: router.ErrDropped}},
	}

	resp, out := h.do(t, http.MethodPost, "/jobs/job-1/findings", `{"findings":[{"type":"IpFinding","ip":"1.1.1.1"},{"type":"Mystery"}]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	rejected := out["rejected"].([]any)
	require.Len(t, rejected, 1)
	assert.Equal(t, 1.0, rejected[0].(map[string]any)["index"])
}

func TestPostJobFindings_RealRouter(t *testing.T) {
	inv := inventory.New()
	inv.PutJob(context.Background(), domain.JobRecord{ID: "job-1", Task: "DomainNameResolvingJob", ProjectID: projectA})
	r := router.New(inv, inv, inv, nil, zap.NewNop(), router.Options{})

	handler := NewHandler(&mockBus{}, r, subscription.NewRegistry(), nil, zap.NewNop())
	srv := httptest.NewServer(handler.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/jobs/job-1/findings", "application/json",
		strings.NewReader(`{"findings":[{"type":"HostnameFinding","domainName":"example.com"}]}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = inv.Resource(context.Background(), correlation.Domain(projectA, "example.com"))
	assert.NoError(t, err)

	resp, err = http.Post(srv.URL+"/jobs/missing/findings", "application/json",
		strings.NewReader(`{"findings":[{"type":"HostnameFinding","domainName":"example.com"}]}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubscriptions(t *testing.T) {
	sub := domain.Subscription{
		ID:       subscription.IDFor("resolve"),
		Name:     "resolve",
		Type:     domain.TriggerEvent,
		JobName:  "DomainNameResolvingJob",
		Findings: []string{"HostnameFinding"},
		Cooldown: domain.IntPtr(3600),
	}
	h := newHarness(t, sub)
	ctx := context.Background()

	resp, out := h.do(t, http.MethodGet, "/subscriptions", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	list := out["subscriptions"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "resolve", list[0].(map[string]any)["name"])

	resp, out = h.do(t, http.MethodGet, "/subscriptions/"+sub.ID.String(), "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3600.0, out["cooldown"])

	resp, _ = h.do(t, http.MethodGet, "/subscriptions/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = h.do(t, http.MethodGet, "/subscriptions/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	keyA := correlation.Domain(projectA, "a.example.com")
	keyB := correlation.Domain("65f1c0a1b2c3d4e5f6a7b8d0", "b.example.com")
	for _, key := range []string{keyB, keyA} {
		fired, err := h.gate.AttemptTrigger(ctx, sub.ID, key, 3600, "")
		require.NoError(t, err)
		require.True(t, fired)
	}

	resp, out = h.do(t, http.MethodGet, "/subscriptions/"+sub.ID.String()+"/triggers?limit=1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	triggers := out["triggers"].([]any)
	require.Len(t, triggers, 1)
	assert.Equal(t, keyA, triggers[0].(map[string]any)["correlationKey"])

	resp, _ = h.do(t, http.MethodGet, "/subscriptions/"+sub.ID.String()+"/triggers?limit=5000", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.do(t, http.MethodDelete, "/projects/"+projectA+"/triggers", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	left, err := h.gate.List(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, keyB, left[0].CorrelationKey)

	resp, _ = h.do(t, http.MethodDelete, "/subscriptions/"+sub.ID.String()+"/triggers", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	left, err = h.gate.List(ctx, sub.ID)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestNotFound(t *testing.T) {
	h := newHarness(t)

	resp, out := h.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not found", out["error"])

	resp, _ = h.do(t, http.MethodGet, "/findings", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
