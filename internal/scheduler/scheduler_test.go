package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vaultops-systems/vaultops/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestAdd_Validation(t *testing.T) {
	s := New(nil, nil, 0)
	noop := func(context.Context) error { return nil }

	assert.Error(t, s.Add(Job{Name: "norun", Every: time.Minute}))
	assert.Error(t, s.Add(Job{Name: "nocadence", Run: noop}))
	assert.Error(t, s.Add(Job{Name: "both", Every: time.Minute, At: "08:00", Run: noop}))
	assert.Error(t, s.Add(Job{Name: "badtime", At: "25:99", Run: noop}))
	assert.NoError(t, s.Add(Job{Name: "ok", Every: time.Minute, Run: noop}))
	assert.NoError(t, s.Add(Job{Name: "ok2", At: "08:00", Run: noop}))
}

func TestIntervalJob_FiresEachInterval(t *testing.T) {
	start := time.Date(2025, 5, 5, 9, 0, 0, 0, time.Local)
	clock := testutil.NewFakeClock(start)
	s := New(clock, nil, time.Minute)

	var runs atomic.Int64
	require.NoError(t, s.Add(Job{Name: "inbox", Every: 30 * time.Minute, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}))

	s.Start(context.Background())
	defer stop(t, s)

	// First interval not yet elapsed.
	advanceTicks(clock, 10)
	assert.EqualValues(t, 0, runs.Load())

	// Cross the interval boundary.
	advanceTicks(clock, 25)
	testutil.WaitFor(t, 2*time.Second, func() bool { return runs.Load() == 1 }, "first run")

	advanceTicks(clock, 31)
	testutil.WaitFor(t, 2*time.Second, func() bool { return runs.Load() == 2 }, "second run")
}

func TestIntervalJob_MissedTicksNotReplayed(t *testing.T) {
	start := time.Date(2025, 5, 5, 9, 0, 0, 0, time.Local)
	clock := testutil.NewFakeClock(start)
	s := New(clock, nil, time.Minute)

	var runs atomic.Int64
	require.NoError(t, s.Add(Job{Name: "inbox", Every: 30 * time.Minute, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}))

	s.Start(context.Background())
	defer stop(t, s)

	// Three hours pass in one jump: only one catch-up run, not six.
	testutil.WaitFor(t, 2*time.Second, func() bool { return clock.Waiters() > 0 }, "loop armed")
	clock.Advance(3 * time.Hour)
	testutil.WaitFor(t, 2*time.Second, func() bool { return runs.Load() == 1 }, "single catch-up run")
	advanceTicks(clock, 5)
	assert.EqualValues(t, 1, runs.Load())
}

func TestDailyJob_FiresOncePerDay(t *testing.T) {
	start := time.Date(2025, 5, 5, 6, 0, 0, 0, time.Local) // Monday
	clock := testutil.NewFakeClock(start)
	s := New(clock, nil, time.Minute)

	var runs atomic.Int64
	require.NoError(t, s.Add(Job{Name: "briefing", At: "08:00", Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}))

	s.Start(context.Background())
	defer stop(t, s)

	advanceTicks(clock, 60) // 07:00
	assert.EqualValues(t, 0, runs.Load())

	advanceTicks(clock, 70) // past 08:00
	testutil.WaitFor(t, 2*time.Second, func() bool { return runs.Load() == 1 }, "morning run")

	advanceTicks(clock, 120) // later the same day
	assert.EqualValues(t, 1, runs.Load())

	clock.Advance(24 * time.Hour)
	advanceTicks(clock, 2)
	testutil.WaitFor(t, 2*time.Second, func() bool { return runs.Load() == 2 }, "next-day run")
}

func TestDailyJob_WeekdayFilter(t *testing.T) {
	start := time.Date(2025, 5, 4, 6, 0, 0, 0, time.Local) // Sunday
	clock := testutil.NewFakeClock(start)
	s := New(clock, nil, time.Minute)

	monday := time.Monday
	var runs atomic.Int64
	require.NoError(t, s.Add(Job{Name: "audit", At: "07:00", Weekday: &monday, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}))

	s.Start(context.Background())
	defer stop(t, s)

	advanceTicks(clock, 120) // Sunday 08:00, wrong weekday
	assert.EqualValues(t, 0, runs.Load())

	clock.Advance(24 * time.Hour) // Monday 08:00
	advanceTicks(clock, 2)
	testutil.WaitFor(t, 2*time.Second, func() bool { return runs.Load() == 1 }, "monday run")
}

func TestJob_NoSelfOverlap(t *testing.T) {
	start := time.Date(2025, 5, 5, 9, 0, 0, 0, time.Local)
	clock := testutil.NewFakeClock(start)
	s := New(clock, nil, time.Minute)

	block := make(chan struct{})
	var started atomic.Int64
	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, s.Add(Job{Name: "slow", Every: time.Minute, Run: func(context.Context) error {
		if started.Add(1) == 1 {
			defer wg.Done()
			<-block
		}
		return nil
	}}))

	s.Start(context.Background())
	defer stop(t, s)

	advanceTicks(clock, 2)
	testutil.WaitFor(t, 2*time.Second, func() bool { return started.Load() == 1 }, "first start")

	// Further due ticks while the job is blocked do not start a second run.
	advanceTicks(clock, 5)
	assert.EqualValues(t, 1, started.Load())

	close(block)
	wg.Wait()
	testutil.WaitFor(t, 2*time.Second, func() bool {
		advanceTicks(clock, 1)
		return started.Load() == 2
	}, "run after unblock")
}

func stop(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
}

// advanceTicks moves the fake clock in tick-sized steps so the loop's
// After timer fires each time. A small sleep lets the loop re-arm.
func advanceTicks(clock *testutil.FakeClock, n int) {
	for i := 0; i < n; i++ {
		for j := 0; j < 100 && clock.Waiters() == 0; j++ {
			time.Sleep(time.Millisecond)
		}
		clock.Advance(time.Minute)
	}
}
