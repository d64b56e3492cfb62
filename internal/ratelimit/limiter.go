// Package ratelimit serializes outbound agent invocations against a global
// budget: at most maxPerInterval calls may start within any trailing
// interval, with strict FIFO ordering across concurrent callers.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/Scarmonit/a2a/internal/common/errors"
	"github.com/Scarmonit/a2a/internal/common/logger"
)

// Config holds limiter parameters.
type Config struct {
	MaxPerInterval int
	Interval       time.Duration
	MaxRetries     int
	BaseDelay      time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxPerInterval: 10,
		Interval:       time.Second,
		MaxRetries:     3,
		BaseDelay:      250 * time.Millisecond,
	}
}

// RetryNotice describes one backoff wait, surfaced as a rate_limited_retry event.
type RetryNotice struct {
	Attempt int
	Wait    time.Duration
	TaskID  string
	StepID  string
}

// NotifyFunc receives retry notices. May be nil.
type NotifyFunc func(RetryNotice)

// waiter is one caller queued for a slot.
type waiter struct {
	ready  chan struct{}
	gone   bool // abandoned by cancellation before a slot was granted
}

// Limiter is a sliding-window rate limiter with a FIFO waiter queue and an
// exponential-backoff retry wrapper.
type Limiter struct {
	cfg    Config
	logger *logger.Logger
	notify NotifyFunc

	mu      sync.Mutex
	starts  []time.Time // start timestamps within the trailing window, oldest first
	waiters []*waiter
	timer   *time.Timer

	// test seam
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a limiter.
func New(cfg Config, log *logger.Logger, notify NotifyFunc) *Limiter {
	if cfg.MaxPerInterval < 1 {
		cfg.MaxPerInterval = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Limiter{
		cfg:    cfg,
		logger: log.WithFields(zap.String("component", "ratelimit")),
		notify: notify,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Execute acquires a slot (FIFO, possibly blocking), then runs fn, retrying
// any failure up to MaxRetries times with exponential backoff plus jitter.
// Each retry acquires a fresh slot. A cancellation that fires during a wait
// returns Cancelled without consuming a token; a cancelled fn is not retried.
func (l *Limiter) Execute(ctx context.Context, taskID, stepID string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	var lastErr error
	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := backoffDelay(l.cfg.BaseDelay, attempt)
			if l.notify != nil {
				l.notify(RetryNotice{Attempt: attempt, Wait: wait, TaskID: taskID, StepID: stepID})
			}
			l.logger.Debug("rate limited retry",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait))
			if err := l.sleep(ctx, wait); err != nil {
				return nil, apperrors.Wrap(apperrors.KindCancelled, "cancelled during retry wait", err)
			}
		}

		if err := l.Acquire(ctx); err != nil {
			return nil, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil || apperrors.KindOf(err) == apperrors.KindCancelled {
			return nil, err
		}
	}
	return nil, apperrors.Wrap(apperrors.KindRateLimited, "retries exhausted", lastErr)
}

// Acquire blocks until the caller may start a call within the budget.
// FIFO across concurrent callers.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	l.purgeLocked()

	// Fast path: no queue and budget available.
	if len(l.waiters) == 0 && len(l.starts) < l.cfg.MaxPerInterval {
		l.starts = append(l.starts, l.now())
		l.mu.Unlock()
		return nil
	}

	w := &waiter{ready: make(chan struct{})}
	l.waiters = append(l.waiters, w)
	l.scheduleWakeupLocked()
	l.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		select {
		case <-w.ready:
			// Slot was granted concurrently with cancellation; give it back.
			if n := len(l.starts); n > 0 {
				l.starts = l.starts[:n-1]
			}
			l.grantLocked()
		default:
			w.gone = true
		}
		l.mu.Unlock()
		// Deadline expiry classifies as Timeout, plain cancellation as Cancelled.
		return apperrors.Wrap(apperrors.KindOf(ctx.Err()), "interrupted while waiting for rate limit slot", ctx.Err())
	}
}

// InFlight returns how many starts are recorded in the trailing window.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.purgeLocked()
	return len(l.starts)
}

// QueueLen returns the number of callers waiting for a slot.
func (l *Limiter) QueueLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, w := range l.waiters {
		if !w.gone {
			n++
		}
	}
	return n
}

// purgeLocked drops start timestamps that have aged out of the window.
func (l *Limiter) purgeLocked() {
	cutoff := l.now().Add(-l.cfg.Interval)
	i := 0
	for i < len(l.starts) && !l.starts[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.starts = append(l.starts[:0], l.starts[i:]...)
	}
}

// grantLocked hands slots to queued waiters in FIFO order while budget remains.
func (l *Limiter) grantLocked() {
	l.purgeLocked()
	for len(l.waiters) > 0 && len(l.starts) < l.cfg.MaxPerInterval {
		w := l.waiters[0]
		l.waiters = l.waiters[1:]
		if w.gone {
			continue
		}
		l.starts = append(l.starts, l.now())
		close(w.ready)
	}
	l.scheduleWakeupLocked()
}

// scheduleWakeupLocked arms a timer for the moment the oldest start ages out,
// so queued waiters are granted without polling.
func (l *Limiter) scheduleWakeupLocked() {
	live := false
	for _, w := range l.waiters {
		if !w.gone {
			live = true
			break
		}
	}
	if !live || len(l.starts) == 0 {
		return
	}
	wait := l.starts[0].Add(l.cfg.Interval).Sub(l.now())
	if wait < 0 {
		wait = 0
	}
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(wait, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.grantLocked()
	})
}

// backoffDelay computes baseDelay * 2^(attempt-1) plus jitter in [0, baseDelay).
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	d := base << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(base)))
	return d + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
