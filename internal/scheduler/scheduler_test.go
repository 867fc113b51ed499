package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestFirstDeadlineIsNextWholeInterval(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 7, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 10, 0, time.UTC), FirstDeadline(now, 5*time.Second))
	assert.Equal(t, time.Date(2024, 3, 1, 12, 2, 0, 0, time.UTC), FirstDeadline(now, 2*time.Minute))
}

func TestLoopRunsAtCadence(t *testing.T) {
	var runs atomic.Int32
	l := NewLoop("test", 20*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	n := l.Run(ctx)
	assert.GreaterOrEqual(t, n, 4)
	assert.Equal(t, int32(n), runs.Load())
}

func TestSlowRunIsLateNotDroppedOrOverlapped(t *testing.T) {
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	var runs atomic.Int32
	l := NewLoop("slow", 10*time.Millisecond, func(ctx context.Context) error {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		if runs.Add(1) == 1 {
			time.Sleep(50 * time.Millisecond)
		}
		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	l.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxInFlight)
	// the ticks missed during the slow run are caught up afterwards
	assert.GreaterOrEqual(t, runs.Load(), int32(6))
}

func TestPanicIsRecovered(t *testing.T) {
	var runs atomic.Int32
	l := NewLoop("panicky", 10*time.Millisecond, func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			panic("boom")
		}
		return nil
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	assert.NotPanics(t, func() { l.Run(ctx) })
	assert.GreaterOrEqual(t, runs.Load(), int32(2))
}

func TestReanchorOnError(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var clock atomic.Int64
	clock.Store(int64(-time.Millisecond))

	var runs atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := NewLoop("funds", time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		// the run takes three intervals
		clock.Store(int64(3 * time.Hour))
		return errors.New("exchange down")
	}, zap.NewNop())
	l.ReanchorOnError = true
	l.now = func() time.Time {
		return base.Add(time.Duration(clock.Load()))
	}

	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	// without re-anchoring the missed deadlines would run back to back
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestCancelStopsLoop(t *testing.T) {
	l := NewLoop("idle", time.Hour, func(ctx context.Context) error { return nil }, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int)
	go func() { done <- l.Run(ctx) }()
	cancel()
	select {
	case n := <-done:
		assert.Equal(t, 0, n)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}
