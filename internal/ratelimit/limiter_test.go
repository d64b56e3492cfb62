package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Scarmonit/a2a/internal/common/errors"
	"github.com/Scarmonit/a2a/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	return log
}

func TestAcquire_WithinBudgetDoesNotBlock(t *testing.T) {
	l := New(Config{MaxPerInterval: 3, Interval: time.Second}, newTestLogger(t), nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
	assert.Equal(t, 3, l.InFlight())
	assert.Equal(t, 0, l.QueueLen())
}

func TestAcquire_BlocksUntilWindowSlides(t *testing.T) {
	interval := 100 * time.Millisecond
	l := New(Config{MaxPerInterval: 1, Interval: interval}, newTestLogger(t), nil)

	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx))

	start := time.Now()
	require.NoError(t, l.Acquire(ctx))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, interval-10*time.Millisecond,
		"second acquire should wait for the window to slide")
}

func TestAcquire_FIFOOrder(t *testing.T) {
	interval := 50 * time.Millisecond
	l := New(Config{MaxPerInterval: 1, Interval: interval}, newTestLogger(t), nil)

	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx))

	const n = 4
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := l.Acquire(ctx); err != nil {
				t.Errorf("Acquire %d failed: %v", i, err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}(i)
		// Stagger arrivals so queue positions are deterministic.
		want := i + 1
		require.Eventually(t, func() bool { return l.QueueLen() == want }, time.Second, time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3}, order)
}

func TestAcquire_CancellationDuringWait(t *testing.T) {
	l := New(Config{MaxPerInterval: 1, Interval: time.Minute}, newTestLogger(t), nil)

	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Acquire(ctx) }()

	// Let the waiter enqueue, then abandon it.
	require.Eventually(t, func() bool { return l.QueueLen() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	err := <-errCh
	require.Error(t, err)
	assert.Equal(t, apperrors.KindCancelled, apperrors.KindOf(err))
	assert.Equal(t, 1, l.InFlight(), "abandoned waiter must not consume a slot")
}

func TestAcquire_DeadlineExpiryIsTimeout(t *testing.T) {
	l := New(Config{MaxPerInterval: 1, Interval: time.Minute}, newTestLogger(t), nil)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindTimeout, apperrors.KindOf(err))
}

func TestExecute_SucceedsFirstTry(t *testing.T) {
	l := New(DefaultConfig(), newTestLogger(t), nil)

	result, err := l.Execute(context.Background(), "t-1", "s-1", func(context.Context) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestExecute_RetriesFailuresWithBackoffNotices(t *testing.T) {
	var notices []RetryNotice
	cfg := Config{MaxPerInterval: 100, Interval: time.Second, MaxRetries: 3, BaseDelay: 10 * time.Millisecond}
	l := New(cfg, newTestLogger(t), func(n RetryNotice) { notices = append(notices, n) })
	l.sleep = func(context.Context, time.Duration) error { return nil }

	calls := 0
	result, err := l.Execute(context.Background(), "t-1", "s-1", func(context.Context) (interface{}, error) {
		calls++
		if calls < 3 {
			return nil, apperrors.New(apperrors.KindTransient, "provider hiccup")
		}
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, 3, calls)

	require.Len(t, notices, 2)
	assert.Equal(t, 1, notices[0].Attempt)
	assert.Equal(t, 2, notices[1].Attempt)
	assert.Equal(t, "t-1", notices[0].TaskID)
	assert.Equal(t, "s-1", notices[0].StepID)
	// Exponential base doubling: attempt 2's floor is twice attempt 1's.
	assert.GreaterOrEqual(t, notices[1].Wait, 2*cfg.BaseDelay)
}

func TestExecute_ExhaustionWrapsLastError(t *testing.T) {
	cfg := Config{MaxPerInterval: 100, Interval: time.Second, MaxRetries: 2, BaseDelay: time.Millisecond}
	l := New(cfg, newTestLogger(t), nil)
	l.sleep = func(context.Context, time.Duration) error { return nil }

	calls := 0
	_, err := l.Execute(context.Background(), "t-1", "s-1", func(context.Context) (interface{}, error) {
		calls++
		return nil, apperrors.New(apperrors.KindFatal, "always broken")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls, "initial call plus MaxRetries retries")
	assert.Equal(t, apperrors.KindRateLimited, apperrors.KindOf(err))
	assert.Contains(t, err.Error(), "always broken")
}

func TestExecute_DoesNotRetryCancellation(t *testing.T) {
	cfg := Config{MaxPerInterval: 100, Interval: time.Second, MaxRetries: 5, BaseDelay: time.Millisecond}
	l := New(cfg, newTestLogger(t), nil)
	l.sleep = func(context.Context, time.Duration) error { return nil }

	calls := 0
	_, err := l.Execute(context.Background(), "t-1", "s-1", func(context.Context) (interface{}, error) {
		calls++
		return nil, apperrors.Cancelled("caller went away")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, apperrors.KindCancelled, apperrors.KindOf(err))
}

func TestExecute_CancelledDuringRetryWait(t *testing.T) {
	cfg := Config{MaxPerInterval: 100, Interval: time.Second, MaxRetries: 3, BaseDelay: time.Hour}
	l := New(cfg, newTestLogger(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	errCh := make(chan error, 1)
	go func() {
		_, err := l.Execute(ctx, "t-1", "s-1", func(context.Context) (interface{}, error) {
			calls.Add(1)
			return nil, apperrors.New(apperrors.KindTransient, "flaky")
		})
		errCh <- err
	}()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	err := <-errCh
	require.Error(t, err)
	assert.Equal(t, apperrors.KindCancelled, apperrors.KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestBackoffDelay_Bounds(t *testing.T) {
	base := 100 * time.Millisecond
	for attempt := 1; attempt <= 4; attempt++ {
		floor := base << (attempt - 1)
		for i := 0; i < 20; i++ {
			d := backoffDelay(base, attempt)
			assert.GreaterOrEqual(t, d, floor)
			assert.Less(t, d, floor+base)
		}
	}
}
