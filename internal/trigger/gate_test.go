package trigger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/djlord-it/findingsd/internal/correlation"
	"github.com/djlord-it/findingsd/internal/domain"
	"github.com/djlord-it/findingsd/internal/inventory"
	"github.com/djlord-it/findingsd/internal/testutil"
)

const projectA = "aaaaaaaaaaaaaaaaaaaaaaaa"
const projectB = "bbbbbbbbbbbbbbbbbbbbbbbb"

type mockBlocks struct {
	mu      sync.Mutex
	blocked map[string]bool
	calls   []domain.ResourceKind
	err     error
}

func (m *mockBlocks) IsBlocked(ctx context.Context, kind domain.ResourceKind, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, kind)
	return m.blocked[key], m.err
}

type mockMetrics struct {
	mu       sync.Mutex
	outcomes []string
}

func (m *mockMetrics) TriggerAttempt(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func newGate(t *testing.T, blocks BlockChecker) (*Gate, *testutil.FakeClock, *MemoryStore) {
	t.Helper()
	clock := testutil.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	store := NewMemoryStore()
	return New(store, blocks, zap.NewNop()).WithClock(clock.Now), clock, store
}

func TestAttemptTrigger_CooldownWindow(t *testing.T) {
	gate, clock, _ := newGate(t, nil)
	ctx := testutil.TestContext(t)
	sub := uuid.New()
	key := correlation.Host(projectA, "1.1.1.1")

	ok, err := gate.AttemptTrigger(ctx, sub, key, 60, "")
	require.NoError(t, err)
	assert.True(t, ok, "first trigger")

	clock.Advance(59 * time.Second)
	ok, err = gate.AttemptTrigger(ctx, sub, key, 60, "")
	require.NoError(t, err)
	assert.False(t, ok, "inside window")

	clock.Advance(time.Second)
	ok, err = gate.AttemptTrigger(ctx, sub, key, 60, "")
	require.NoError(t, err)
	assert.True(t, ok, "boundary is inclusive")

	clock.Advance(time.Second)
	ok, _ = gate.AttemptTrigger(ctx, sub, key, 60, "")
	assert.False(t, ok, "window restarted at last trigger")
}

func TestAttemptTrigger_ZeroCooldownAlwaysFires(t *testing.T) {
	gate, _, _ := newGate(t, nil)
	ctx := testutil.TestContext(t)
	sub := uuid.New()

	for i := 0; i < 3; i++ {
		ok, err := gate.AttemptTrigger(ctx, sub, correlation.Project(projectA), 0, "")
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestAttemptTrigger_IndependentWindows(t *testing.T) {
	gate, _, _ := newGate(t, nil)
	ctx := testutil.TestContext(t)
	subA, subB := uuid.New(), uuid.New()
	key := correlation.Domain(projectA, "a.com")

	ok, _ := gate.AttemptTrigger(ctx, subA, key, 3600, "")
	assert.True(t, ok)
	ok, _ = gate.AttemptTrigger(ctx, subB, key, 3600, "")
	assert.True(t, ok, "other subscription")
	ok, _ = gate.AttemptTrigger(ctx, subA, correlation.Domain(projectA, "b.com"), 3600, "")
	assert.True(t, ok, "other key")
	ok, _ = gate.AttemptTrigger(ctx, subA, key, 3600, "nuclei")
	assert.True(t, ok, "other discriminator")
	ok, _ = gate.AttemptTrigger(ctx, subA, key, 3600, "")
	assert.False(t, ok)
}

func TestAttemptTrigger_BlockedResource(t *testing.T) {
	key := correlation.Port(projectA, "1.1.1.1", 22, "tcp")
	blocks := &mockBlocks{blocked: map[string]bool{key: true}}
	gate, _, store := newGate(t, blocks)
	metrics := &mockMetrics{}
	gate.WithMetrics(metrics)
	ctx := testutil.TestContext(t)
	sub := uuid.New()

	ok, err := gate.AttemptTrigger(ctx, sub, key, 0, "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []domain.ResourceKind{domain.ResourcePort}, blocks.calls)

	triggers, _ := store.List(ctx, sub)
	assert.Empty(t, triggers, "blocked attempt leaves no trigger")
	assert.Equal(t, []string{OutcomeBlocked}, metrics.outcomes)
}

func TestAttemptTrigger_BlockedIPRange(t *testing.T) {
	inv := inventory.New()
	ctx := testutil.TestContext(t)
	r, err := inv.AddIPRange(ctx, projectA, "10.0.0.0", 8)
	require.NoError(t, err)
	require.NoError(t, inv.Block(ctx, r.CorrelationKey, true))

	gate, _, _ := newGate(t, inv)
	ok, err := gate.AttemptTrigger(ctx, uuid.New(), r.CorrelationKey, 0, "")
	require.NoError(t, err)
	assert.False(t, ok, "blocked ip range must not fire")

	require.NoError(t, inv.Block(ctx, r.CorrelationKey, false))
	ok, err = gate.AttemptTrigger(ctx, uuid.New(), r.CorrelationKey, 0, "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAttemptTrigger_IPRangeChecksRangeCollection(t *testing.T) {
	blocks := &mockBlocks{}
	gate, _, _ := newGate(t, blocks)

	_, err := gate.AttemptTrigger(testutil.TestContext(t), uuid.New(), correlation.IPRange(projectA, "10.0.0.0", 8), 0, "")
	require.NoError(t, err)
	assert.Equal(t, []domain.ResourceKind{domain.ResourceIPRange}, blocks.calls)
}

func TestAttemptTrigger_ProjectKeySkipsBlockCheck(t *testing.T) {
	blocks := &mockBlocks{}
	gate, _, _ := newGate(t, blocks)

	ok, err := gate.AttemptTrigger(testutil.TestContext(t), uuid.New(), correlation.Project(projectA), 10, "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, blocks.calls)
}

func TestAttemptTrigger_BlockCheckError(t *testing.T) {
	blocks := &mockBlocks{err: errors.New("inventory down")}
	gate, _, _ := newGate(t, blocks)

	ok, err := gate.AttemptTrigger(testutil.TestContext(t), uuid.New(), correlation.Host(projectA, "1.1.1.1"), 10, "")
	require.Error(t, err)
	assert.False(t, ok)
}

func TestAttemptTrigger_ConcurrentCallersFireOnce(t *testing.T) {
	gate, _, _ := newGate(t, nil)
	ctx := testutil.TestContext(t)
	sub := uuid.New()
	key := correlation.Host(projectA, "10.0.0.1")

	var fired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := gate.AttemptTrigger(ctx, sub, key, 300, ""); err == nil && ok {
				fired.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fired.Load())
}

func TestDeleteAll(t *testing.T) {
	gate, _, store := newGate(t, nil)
	ctx := testutil.TestContext(t)
	subA, subB := uuid.New(), uuid.New()

	for _, key := range []string{
		correlation.Host(projectA, "1.1.1.1"),
		correlation.Domain(projectA, "a.com"),
		correlation.Host(projectB, "1.1.1.1"),
	} {
		_, _ = gate.AttemptTrigger(ctx, subA, key, 0, "")
		_, _ = gate.AttemptTrigger(ctx, subB, key, 0, "")
	}

	require.NoError(t, gate.DeleteAllForProject(ctx, projectA))
	remaining, _ := store.List(ctx, subA)
	require.Len(t, remaining, 1)
	assert.Equal(t, correlation.Host(projectB, "1.1.1.1"), remaining[0].CorrelationKey)

	require.NoError(t, gate.DeleteAllForSubscription(ctx, subA))
	remaining, _ = gate.List(ctx, subA)
	assert.Empty(t, remaining)
	remaining, _ = gate.List(ctx, subB)
	assert.Len(t, remaining, 1)
}

func TestBelongsToProject(t *testing.T) {
	assert.True(t, BelongsToProject("project:abc", "abc"))
	assert.True(t, BelongsToProject("project:abc;host:1.1.1.1", "abc"))
	assert.False(t, BelongsToProject("project:abcd;host:1.1.1.1", "abc"))
	assert.False(t, BelongsToProject("project:ab", "abc"))
}
