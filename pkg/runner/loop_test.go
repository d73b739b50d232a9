package runner_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Phillezi/daemonutils/pkg/runner"
	"github.com/Phillezi/daemonutils/pkg/terminator"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/stretchr/testify/require"
)

const eventually = time.Second

func receive[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(eventually):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func requireNothing[T any](t *testing.T, ch chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected value %v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func requireClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(eventually):
		t.Fatal("channel not closed")
	}
}

func TestLoop_WaitsReturnedDelay(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Unix(0, 0))
	calls := make(chan time.Time, 16)

	root := terminator.New(nil)
	l := runner.NewLoop(runner.LoopFunc(func(ctx context.Context) time.Duration {
		calls <- clk.Now()
		return time.Second
	}), root.Clone(), runner.WithClock(clk))
	require.NoError(t, l.Start())

	first := receive(t, calls)

	clk.WaitForWatcherAndIncrement(999 * time.Millisecond)
	requireNothing(t, calls)

	clk.Increment(time.Millisecond)
	second := receive(t, calls)
	require.GreaterOrEqual(t, second.Sub(first), time.Second)

	clk.WaitForWatcherAndIncrement(time.Second)
	third := receive(t, calls)
	require.GreaterOrEqual(t, third.Sub(second), time.Second)

	l.Stop()
	requireClosed(t, l.Done())
	require.Eventually(t, func() bool { return clk.WatcherCount() == 0 }, eventually, time.Millisecond,
		"pending timer must be cancelled on stop")

	clk.Increment(time.Hour)
	requireNothing(t, calls)
	require.EqualValues(t, 1, root.Refs())
}

func TestLoop_NoDelayIsBusyLoop(t *testing.T) {
	const n = 1000

	clk := fakeclock.NewFakeClock(time.Unix(0, 0))
	var count atomic.Int64
	reached := make(chan struct{})

	l := runner.NewLoop(runner.LoopFunc(func(ctx context.Context) time.Duration {
		if count.Add(1) == n {
			close(reached)
		}
		return 0
	}), terminator.New(nil), runner.WithClock(clk))
	require.NoError(t, l.Start())

	// The clock never advances: reaching n proves no wait was injected.
	requireClosed(t, reached)
	require.Zero(t, clk.WatcherCount())

	l.Stop()
	requireClosed(t, l.Done())
	after := count.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, after, count.Load(), "task invoked after stop")
}

func TestLoop_StopDuringTask(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Unix(0, 0))
	var count atomic.Int32
	entered := make(chan struct{})

	root := terminator.New(nil)
	l := runner.NewLoop(runner.LoopFunc(func(ctx context.Context) time.Duration {
		count.Add(1)
		close(entered)
		<-ctx.Done()
		return time.Millisecond
	}), root.Clone(), runner.WithClock(clk))
	require.NoError(t, l.Start())

	receive(t, entered)
	l.Stop()
	requireClosed(t, l.Done())

	clk.Increment(time.Hour)
	time.Sleep(20 * time.Millisecond)
	require.EqualValues(t, 1, count.Load())
	require.EqualValues(t, 1, root.Refs())
}

func TestLoop_StopBeforeStart(t *testing.T) {
	var fired atomic.Bool
	root := terminator.New(func() { fired.Store(true) })
	l := runner.NewLoop(runner.LoopFunc(func(ctx context.Context) time.Duration {
		t.Error("task must not run")
		return 0
	}), root.Clone())

	l.Stop()
	requireClosed(t, l.Done())
	require.ErrorIs(t, l.Start(), runner.ErrStopped)

	root.Release()
	require.True(t, fired.Load())
}

func TestLoop_StartTwice(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Unix(0, 0))
	l := runner.NewLoop(runner.LoopFunc(func(ctx context.Context) time.Duration {
		return time.Minute
	}), terminator.New(nil), runner.WithClock(clk))

	require.NoError(t, l.Start())
	require.ErrorIs(t, l.Start(), runner.ErrAlreadyStarted)

	l.Stop()
	l.Stop()
	requireClosed(t, l.Done())
	require.ErrorIs(t, l.Start(), runner.ErrStopped)
}

func TestLoop_PanicRunsAgain(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Unix(0, 0))
	calls := make(chan int, 4)
	var count atomic.Int32

	l := runner.NewLoop(runner.LoopFunc(func(ctx context.Context) time.Duration {
		n := int(count.Add(1))
		calls <- n
		if n == 1 {
			panic("boom")
		}
		return time.Minute
	}), terminator.New(nil), runner.WithClock(clk), runner.WithName("panicky"))
	require.Equal(t, "panicky", l.Name())
	require.NotEmpty(t, l.ID())
	require.NoError(t, l.Start())

	require.Equal(t, 1, receive(t, calls))
	require.Equal(t, 2, receive(t, calls))

	l.Stop()
	requireClosed(t, l.Done())
}
