package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/findingsd/internal/domain"
)

func TestFakeClock(t *testing.T) {
	fixed := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	clock := NewFakeClock(fixed)
	assert.Equal(t, fixed, clock.Now())

	clock.Advance(5 * time.Minute)
	assert.Equal(t, fixed.Add(5*time.Minute), clock.Now())
}

func TestTestContext_HasDeadline(t *testing.T) {
	deadline, ok := TestContext(t).Deadline()
	require.True(t, ok)

	remaining := time.Until(deadline)
	assert.True(t, remaining > 0 && remaining <= 5*time.Second, "remaining %v", remaining)
}

func TestRecordingPublisher(t *testing.T) {
	p := &RecordingPublisher{}
	ctx := context.Background()
	job := domain.Job{ID: uuid.New(), Task: "CustomJob"}

	require.NoError(t, p.Publish(ctx, job))

	p.SetErr(errors.New("down"))
	assert.Error(t, p.Publish(ctx, domain.Job{ID: uuid.New()}))

	p.SetErr(nil)
	require.NoError(t, p.Publish(ctx, job))

	jobs := p.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, job.ID, jobs[1].ID)

	jobs[0].Task = "mutated"
	assert.Equal(t, "CustomJob", p.Jobs()[0].Task)
}
