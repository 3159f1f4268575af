package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imp/logger"
)

func testRegistry() *Registry {
	return NewRegistry(logger.New(logger.Config{Level: "error"}))
}

func TestIntervalFiresAfterStart(t *testing.T) {
	reg := testRegistry()
	sched := reg.ForContext("testing:job")

	var count atomic.Int32
	sched.Interval(10*time.Millisecond, func(ctx context.Context) error {
		count.Add(1)
		return nil
	})

	// Nothing fires before the registry activates.
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(0), count.Load())

	reg.Start(context.Background())
	defer reg.Stop()

	assert.Eventually(t, func() bool {
		return count.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCancelIsIdempotent(t *testing.T) {
	reg := testRegistry()
	sched := reg.ForContext("testing:job")

	var count atomic.Int32
	cancel := sched.Interval(10*time.Millisecond, func(ctx context.Context) error {
		count.Add(1)
		return nil
	})
	reg.Start(context.Background())
	defer reg.Stop()

	assert.Eventually(t, func() bool { return count.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	cancel()
	cancel()

	settled := count.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, count.Load(), "no further ticks after cancel")
}

func TestStopDrainsEveryHandle(t *testing.T) {
	reg := testRegistry()
	sched := reg.ForContext("testing:job")

	var count atomic.Int32
	sched.Interval(10*time.Millisecond, func(ctx context.Context) error {
		count.Add(1)
		return nil
	})
	sched.Interval(15*time.Millisecond, func(ctx context.Context) error {
		count.Add(1)
		return nil
	})

	reg.Start(context.Background())
	assert.Eventually(t, func() bool { return count.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	reg.Stop()
	settled := count.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, settled, count.Load())
}

func TestSafeExecSwallowsErrorsAndPanics(t *testing.T) {
	reg := testRegistry()
	sched := reg.ForContext("testing:job")

	var count atomic.Int32
	sched.Interval(10*time.Millisecond, func(ctx context.Context) error {
		n := count.Add(1)
		switch n {
		case 1:
			return errors.New("job failed")
		case 2:
			panic("job panicked")
		}
		return nil
	})

	reg.Start(context.Background())
	defer reg.Stop()

	// Failures must not stop future ticks.
	assert.Eventually(t, func() bool {
		return count.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCronRejectsBadExpression(t *testing.T) {
	reg := testRegistry()
	sched := reg.ForContext("testing:job")

	_, err := sched.Cron(func(ctx context.Context) error { return nil }, "not a cron expr")
	assert.Error(t, err)
}

func TestCronRegistersOneEntryPerExpression(t *testing.T) {
	reg := testRegistry()
	sched := reg.ForContext("testing:job")

	cancel, err := sched.Cron(func(ctx context.Context) error { return nil }, "@hourly", "@daily")
	require.NoError(t, err)
	assert.Len(t, reg.cron.Entries(), 2)

	cancel()
	assert.Empty(t, reg.cron.Entries())
}

func TestSlidingSkipsPastTargets(t *testing.T) {
	reg := testRegistry()
	sched := reg.ForContext("testing:job")

	var fired atomic.Int32
	_, err := sched.Sliding("@hourly", func() time.Time {
		return time.Now().Add(-time.Minute)
	}, func(ctx context.Context) error {
		fired.Add(1)
		return nil
	})
	require.NoError(t, err)

	reg.Start(context.Background())
	defer reg.Stop()

	// Drive one reset tick by hand; the cron cadence is too slow for a test.
	entries := reg.cron.Entries()
	require.NotEmpty(t, entries)
	entries[0].Job.Run()

	// A past target never arms the one-shot.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestSlidingArmsOneShot(t *testing.T) {
	reg := testRegistry()
	sched := reg.ForContext("testing:job")

	var fired atomic.Int32
	cancel, err := sched.Sliding("@hourly", func() time.Time {
		return time.Now().Add(20 * time.Millisecond)
	}, func(ctx context.Context) error {
		fired.Add(1)
		return nil
	})
	require.NoError(t, err)
	defer cancel()

	reg.Start(context.Background())
	defer reg.Stop()

	// Drive one reset tick by hand; the cron cadence is too slow for a test.
	entries := reg.cron.Entries()
	require.NotEmpty(t, entries)
	entries[0].Job.Run()

	assert.Eventually(t, func() bool {
		return fired.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)
}
