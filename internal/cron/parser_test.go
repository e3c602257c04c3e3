package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_ValidExpressions(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"every hour", "0 * * * *"},
		{"every 5 minutes", "*/5 * * * *"},
		{"weekday business hours", "0 9-17 * * 1-5"},
		{"daily 2:30am", "30 2 * * *"},
		{"weekly sunday", "0 0 * * 0"},
		{"descriptor", "@daily"},
		{"every", "@every 6h"},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched, err := p.Parse(tt.expr, "UTC")
			require.NoError(t, err)
			assert.NotNil(t, sched)
			assert.NoError(t, p.Validate(tt.expr))
		})
	}
}

func TestParser_InvalidExpressions(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"four fields", "* * * *"},
		{"six fields", "* * * * * *"},
		{"invalid minute 60", "60 * * * *"},
		{"invalid hour 25", "0 25 * * *"},
		{"non-numeric", "abc * * * *"},
		{"empty", ""},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, p.Validate(tt.expr))
		})
	}
}

func TestParser_Timezone(t *testing.T) {
	p := NewParser()

	_, err := p.Parse("0 * * * *", "Invalid/Zone")
	assert.Error(t, err)

	// empty timezone is UTC
	sched, err := p.Parse("0 10 * * *", "")
	require.NoError(t, err)
	next := sched.Next(time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC))
	assert.True(t, next.Equal(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)), "got %v", next)
}

func TestParser_NextCalculation(t *testing.T) {
	p := NewParser()

	sched, err := p.Parse("0 10 * * *", "UTC")
	require.NoError(t, err)

	next := sched.Next(time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC))
	assert.True(t, next.Equal(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)), "got %v", next)

	next = sched.Next(time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC))
	assert.True(t, next.Equal(time.Date(2024, 1, 16, 10, 0, 0, 0, time.UTC)), "got %v", next)
}

func TestParser_NextCalculation_Timezone(t *testing.T) {
	p := NewParser()

	schedNY, err := p.Parse("0 10 * * *", "America/New_York")
	require.NoError(t, err)
	schedTokyo, err := p.Parse("0 10 * * *", "Asia/Tokyo")
	require.NoError(t, err)

	ref := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	// 10:00 JST is 01:00 UTC, 10:00 EDT is 14:00 UTC
	assert.True(t, schedTokyo.Next(ref).Before(schedNY.Next(ref)))
}
