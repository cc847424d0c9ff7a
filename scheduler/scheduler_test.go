package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"car-scraper/utils"
)

func TestAddValidatesTriggers(t *testing.T) {
	s := New(nil, utils.NopLogger())
	noop := func(context.Context) error { return nil }

	tests := []struct {
		name    string
		job     Job
		wantErr bool
	}{
		{"interval", Job{ID: "a", Trigger: Every(5 * time.Minute), Handler: noop}, false},
		{"nightly", Job{ID: "b", Trigger: Cron("0 23 * * *"), Handler: noop}, false},
		{"bad expression", Job{ID: "c", Trigger: Cron("every night"), Handler: noop}, true},
		{"no handler", Job{ID: "d", Trigger: Every(time.Minute)}, true},
		{"no id", Job{Trigger: Every(time.Minute), Handler: noop}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Add(tt.job)
			if (err != nil) != tt.wantErr {
				t.Errorf("Add(%s) error = %v; wantErr %v", tt.job.Trigger, err, tt.wantErr)
			}
		})
	}

	err := s.Add(Job{ID: "a", Trigger: Every(time.Minute), Handler: noop})
	assert.ErrorIs(t, err, ErrDuplicateJob)
}

func TestNextUsesLocation(t *testing.T) {
	vienna, err := time.LoadLocation("Europe/Vienna")
	require.NoError(t, err)
	s := New(vienna, utils.NopLogger())
	require.NoError(t, s.Add(Job{ID: "cleanup", Trigger: Cron("0 23 * * *"), Handler: func(context.Context) error { return nil }}))
	s.Start(context.Background())
	defer s.Stop()

	next, err := s.Next("cleanup")
	require.NoError(t, err)
	local := next.In(vienna)
	assert.Equal(t, 23, local.Hour())
	assert.Equal(t, 0, local.Minute())

	_, err = s.Next("missing")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestJobNeverOverlapsItself(t *testing.T) {
	s := New(nil, utils.NopLogger())
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	var calls atomic.Int32
	require.NoError(t, s.Add(Job{ID: "discovery", Trigger: Every(time.Hour), Handler: func(ctx context.Context) error {
		calls.Add(1)
		entered <- struct{}{}
		<-release
		return nil
	}}))
	s.Start(context.Background())
	defer s.Stop()

	started, err := s.Trigger("discovery")
	require.NoError(t, err)
	require.True(t, started)
	<-entered

	started, err = s.Trigger("discovery")
	require.NoError(t, err)
	assert.False(t, started, "second trigger while running is dropped")

	ran, err := s.RunNow(context.Background(), "discovery")
	require.NoError(t, err)
	assert.False(t, ran)

	close(release)
	require.Eventually(t, func() bool {
		ran, _ := s.RunNow(context.Background(), "discovery")
		return ran
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDifferentJobsMayOverlap(t *testing.T) {
	s := New(nil, utils.NopLogger())
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	require.NoError(t, s.Add(Job{ID: "discovery", Trigger: Every(time.Hour), Handler: func(ctx context.Context) error {
		entered <- struct{}{}
		<-release
		return nil
	}}))
	require.NoError(t, s.Add(Job{ID: "enrichment", Trigger: Every(time.Hour), Handler: func(ctx context.Context) error {
		return nil
	}}))
	s.Start(context.Background())
	defer s.Stop()
	defer close(release)

	_, err := s.Trigger("discovery")
	require.NoError(t, err)
	<-entered

	ran, err := s.RunNow(context.Background(), "enrichment")
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestRunNowRecoversPanics(t *testing.T) {
	s := New(nil, utils.NopLogger())
	require.NoError(t, s.Add(Job{ID: "boom", Trigger: Every(time.Hour), Handler: func(ctx context.Context) error {
		panic("nil map")
	}}))
	require.NoError(t, s.Add(Job{ID: "fails", Trigger: Every(time.Hour), Handler: func(ctx context.Context) error {
		return errors.New("store down")
	}}))

	ran, err := s.RunNow(context.Background(), "boom")
	assert.True(t, ran)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil map")

	_, err = s.RunNow(context.Background(), "fails")
	assert.EqualError(t, err, "store down")

	// the guard is released after a panic
	ran, _ = s.RunNow(context.Background(), "boom")
	assert.True(t, ran)

	_, err = s.RunNow(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestTriggerBeforeStart(t *testing.T) {
	s := New(nil, utils.NopLogger())
	require.NoError(t, s.Add(Job{ID: "x", Trigger: Every(time.Hour), Handler: func(context.Context) error { return nil }}))
	_, err := s.Trigger("x")
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestIntervalFiresAndStopCancels(t *testing.T) {
	s := New(nil, utils.NopLogger())
	var fired atomic.Int32
	cancelled := make(chan struct{})
	require.NoError(t, s.Add(Job{ID: "tick", Trigger: Every(time.Second), Handler: func(ctx context.Context) error {
		if fired.Add(1) == 1 {
			<-ctx.Done()
			close(cancelled)
		}
		return ctx.Err()
	}}))
	s.Start(context.Background())

	require.Eventually(t, func() bool { return fired.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	s.Stop()

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("Stop did not cancel the running handler")
	}
}
