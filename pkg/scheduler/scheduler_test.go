package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterValidation(t *testing.T) {
	s := New()

	assert.Error(t, s.Register(Job{Name: "", Interval: time.Second, Handler: func(context.Context) error { return nil }}))
	assert.Error(t, s.Register(Job{Name: "no-handler", Interval: time.Second}))
	assert.Error(t, s.Register(Job{Name: "no-schedule", Handler: func(context.Context) error { return nil }}))

	badHour := 24
	assert.Error(t, s.Register(Job{Name: "bad-hour", AtHour: &badHour, Handler: func(context.Context) error { return nil }}))

	ok := Job{Name: "ok", Interval: time.Second, Handler: func(context.Context) error { return nil }}
	require.NoError(t, s.Register(ok))
	assert.Error(t, s.Register(ok), "duplicate name rejected")
}

func TestOverlappingTickIsSkippedNotQueued(t *testing.T) {
	s := New()
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var invocations atomic.Int32
	var concurrent atomic.Int32
	var maxConcurrent atomic.Int32

	require.NoError(t, s.Register(Job{
		Name:     "slow",
		Interval: 20 * time.Millisecond,
		Handler: func(ctx context.Context) error {
			if n := concurrent.Add(1); n > maxConcurrent.Load() {
				maxConcurrent.Store(n)
			}
			defer concurrent.Add(-1)
			invocations.Add(1)
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
			return nil
		},
	}))

	s.Start()
	<-started

	// Let several ticks arrive while the first run is still in flight.
	time.Sleep(90 * time.Millisecond)

	status := s.Snapshot()[0]
	assert.True(t, status.Running)
	assert.Equal(t, OutcomeSkipped, status.LastOutcome)
	assert.GreaterOrEqual(t, status.Skips, 1)
	assert.Equal(t, int32(1), invocations.Load(), "skipped ticks must not queue")

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	assert.Equal(t, int32(1), maxConcurrent.Load(), "at most one invocation at a time")
	final := s.Snapshot()[0]
	assert.False(t, final.Running)
	assert.Equal(t, 1, final.Runs)
}

func TestHandlerFailureIsContained(t *testing.T) {
	s := New()
	var runs atomic.Int32
	require.NoError(t, s.Register(Job{
		Name:     "flaky",
		Interval: 15 * time.Millisecond,
		Handler: func(ctx context.Context) error {
			if runs.Add(1) == 1 {
				return errors.New("boom")
			}
			return nil
		},
	}))

	s.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	}()

	require.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, time.Second, 5*time.Millisecond, "scheduler keeps ticking after a failure")

	require.Eventually(t, func() bool {
		return s.Snapshot()[0].LastOutcome == OutcomeSuccess
	}, time.Second, 5*time.Millisecond)
}

func TestHandlerFailureIsRecorded(t *testing.T) {
	s := New()
	done := make(chan struct{}, 1)
	require.NoError(t, s.Register(Job{
		Name:     "failing",
		Interval: 10 * time.Millisecond,
		Handler: func(ctx context.Context) error {
			select {
			case done <- struct{}{}:
			default:
			}
			return errors.New("storage unavailable")
		},
	}))

	s.Start()
	<-done
	require.Eventually(t, func() bool {
		return s.Snapshot()[0].LastOutcome == OutcomeFailed
	}, time.Second, 5*time.Millisecond)

	status := s.Snapshot()[0]
	assert.Equal(t, "storage unavailable", status.LastError)
	assert.False(t, status.LastRun.IsZero())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestHandlerPanicIsContained(t *testing.T) {
	s := New()
	var runs atomic.Int32
	require.NoError(t, s.Register(Job{
		Name:     "panicky",
		Interval: 15 * time.Millisecond,
		Handler: func(ctx context.Context) error {
			if runs.Add(1) == 1 {
				panic("unexpected state")
			}
			return nil
		},
	}))

	s.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	}()

	require.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, time.Second, 5*time.Millisecond, "scheduler survives a panicking handler")
}

func TestStopCancelsHandlerContext(t *testing.T) {
	s := New()
	started := make(chan struct{})
	require.NoError(t, s.Register(Job{
		Name:     "ctx-aware",
		Interval: 10 * time.Millisecond,
		Handler: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	}))

	s.Start()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx), "stop succeeds once the handler honors cancellation")
}

func TestStopGracePeriodIsBounded(t *testing.T) {
	s := New()
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	require.NoError(t, s.Register(Job{
		Name:     "stuck",
		Interval: 10 * time.Millisecond,
		Handler: func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		},
	}))

	s.Start()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)
}

func TestSnapshotPreservesRegistrationOrder(t *testing.T) {
	s := New()
	noop := func(context.Context) error { return nil }
	hour := 3

	require.NoError(t, s.Register(Job{Name: "scrape", Interval: 6 * time.Hour, Handler: noop}))
	require.NoError(t, s.Register(Job{Name: "reindex", Interval: 2 * time.Hour, Handler: noop}))
	require.NoError(t, s.Register(Job{Name: "purge", AtHour: &hour, Handler: noop}))

	statuses := s.Snapshot()
	require.Len(t, statuses, 3)
	assert.Equal(t, "scrape", statuses[0].Name)
	assert.Equal(t, "reindex", statuses[1].Name)
	assert.Equal(t, "purge", statuses[2].Name)
	for _, st := range statuses {
		assert.Equal(t, OutcomeNone, st.LastOutcome)
	}
}

func TestDelayUntilNextDailyHour(t *testing.T) {
	s := New()
	hour := (time.Now().Hour() + 2) % 24
	require.NoError(t, s.Register(Job{Name: "daily", AtHour: &hour, Handler: func(context.Context) error { return nil }}))

	delay := s.delayUntilNext(s.jobs["daily"])
	assert.Greater(t, delay, time.Duration(0))
	assert.LessOrEqual(t, delay, 24*time.Hour)
}
