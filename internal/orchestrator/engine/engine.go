// Package engine drives execution plans to a terminal state with a bounded
// worker pool, a priority ready queue, per-step retry policies, and lifecycle
// events on the bus.
package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Scarmonit/a2a/internal/agent"
	apperrors "github.com/Scarmonit/a2a/internal/common/errors"
	"github.com/Scarmonit/a2a/internal/common/logger"
	"github.com/Scarmonit/a2a/internal/events"
	"github.com/Scarmonit/a2a/internal/events/bus"
	"github.com/Scarmonit/a2a/internal/orchestrator/queue"
	"github.com/Scarmonit/a2a/internal/plan"
	"github.com/Scarmonit/a2a/internal/ratelimit"
	v1 "github.com/Scarmonit/a2a/pkg/api/v1"
)

// Config holds engine parameters.
type Config struct {
	MaxParallelSteps   int
	MaxRetries         int           // global ceiling over per-step attempt budgets; 0 = no ceiling
	RetryBase          time.Duration // fallback backoff base for steps without one
	DefaultStepTimeout time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxParallelSteps:   10,
		MaxRetries:         3,
		RetryBase:          250 * time.Millisecond,
		DefaultStepTimeout: 60 * time.Second,
	}
}

// Observer receives gauge and histogram updates. Implemented by the metrics
// package; a nil observer is replaced with a no-op.
type Observer interface {
	StepRunning(delta int)
	QueueSize(n int)
	StepFinished(status string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) StepRunning(int)                    {}
func (nopObserver) QueueSize(int)                      {}
func (nopObserver) StepFinished(string, time.Duration) {}

// Engine executes plans. Safe for concurrent Execute calls; the worker pool
// bound applies per plan.
type Engine struct {
	cfg      Config
	invoker  agent.Invoker
	limiter  *ratelimit.Limiter
	eventBus bus.EventBus
	logger   *logger.Logger
	observer Observer

	mu   sync.Mutex
	runs map[string]*run
}

// New creates an engine.
func New(cfg Config, invoker agent.Invoker, limiter *ratelimit.Limiter, eventBus bus.EventBus, log *logger.Logger, obs Observer) *Engine {
	if cfg.MaxParallelSteps < 1 {
		cfg.MaxParallelSteps = 1
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Duration(v1.DefaultBackoffBaseMs) * time.Millisecond
	}
	if cfg.DefaultStepTimeout <= 0 {
		cfg.DefaultStepTimeout = time.Duration(v1.DefaultStepTimeoutMs) * time.Millisecond
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &Engine{
		cfg:      cfg,
		invoker:  invoker,
		limiter:  limiter,
		eventBus: eventBus,
		logger:   log.WithFields(zap.String("component", "engine")),
		observer: obs,
		runs:     make(map[string]*run),
	}
}

// Snapshot returns a deep copy of the plan that is coherent with any
// in-flight execution of taskID: step runtime fields and the context are
// cloned under the run's lock, so readers never observe a half-applied
// step transition.
func (e *Engine) Snapshot(taskID string, p *v1.ExecutionPlan) *v1.ExecutionPlan {
	e.mu.Lock()
	r := e.runs[taskID]
	if r == nil {
		// No active run; holding e.mu keeps Execute from registering one
		// (and mutating the plan) mid-clone.
		defer e.mu.Unlock()
		return p.Clone()
	}
	e.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	return p.Clone()
}

// Execute runs the plan until every step is terminal, mutating step runtime
// fields and merging results into the plan context. It returns nil when the
// plan completed (possibly with partial, non-aborting failures), a Cancelled
// error when ctx fired, and the aborting step's error when a step with
// on_failure=abort failed.
func (e *Engine) Execute(ctx context.Context, taskID string, p *v1.ExecutionPlan) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &run{
		engine:    e,
		taskID:    taskID,
		plan:      p,
		ctx:       runCtx,
		cancel:    cancel,
		ready:     queue.New(),
		remaining: len(p.Steps),
		wake:      make(chan struct{}, 1),
		log:       e.logger.WithTaskID(taskID),
	}

	// Register before the first plan mutation so Snapshot always serializes
	// against r.mu while the run is live.
	e.mu.Lock()
	e.runs[taskID] = r
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.runs, taskID)
		e.mu.Unlock()
	}()

	r.mu.Lock()
	if p.Context == nil {
		p.Context = make(map[string]interface{})
	}
	for _, s := range p.Steps {
		if s.Status == "" {
			s.Status = v1.StepStatusPending
		}
	}
	r.promoteLocked()
	r.mu.Unlock()

	for {
		r.mu.Lock()
		if runCtx.Err() != nil && !r.drained {
			r.drained = true
			r.cancelIdleLocked()
		}
		if !r.drained {
			// Steps without a parallel group run sequentially among
			// themselves; grouped steps share the pool bound.
			accept := func(s *v1.Step) bool {
				return s.ParallelGroup != "" || r.runningUngrouped == 0
			}
			for r.running < e.cfg.MaxParallelSteps {
				item := r.ready.PopWhere(accept)
				if item == nil {
					break
				}
				r.running++
				if item.Step.ParallelGroup == "" {
					r.runningUngrouped++
				}
				e.observer.StepRunning(1)
				r.wg.Add(1)
				go r.runStep(item.Step)
			}
			e.observer.QueueSize(r.ready.Len())
		}
		done := r.remaining == 0
		r.mu.Unlock()
		if done {
			break
		}

		if runCtx.Err() != nil {
			<-r.wake
		} else {
			select {
			case <-r.wake:
			case <-runCtx.Done():
			}
		}
	}
	r.wg.Wait()

	switch {
	case ctx.Err() != nil && !r.aborted:
		return apperrors.Wrap(apperrors.KindCancelled, "plan cancelled", ctx.Err())
	case r.aborted:
		return r.abortErr
	default:
		return nil
	}
}

// run is the per-plan execution state.
type run struct {
	engine *Engine
	taskID string
	plan   *v1.ExecutionPlan
	ctx    context.Context
	cancel context.CancelFunc
	log    *logger.Logger

	mu               sync.Mutex
	ready            *queue.Queue
	running          int
	runningUngrouped int
	remaining        int
	drained          bool
	aborted          bool
	abortErr         error
	wake             chan struct{}
	wg               sync.WaitGroup
}

// releaseLocked returns a step's worker slot to the pool.
func (r *run) releaseLocked(s *v1.Step) {
	r.running--
	if s.ParallelGroup == "" {
		r.runningUngrouped--
	}
}

func (r *run) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// promoteLocked moves pending steps whose dependencies are settled into the
// ready queue or a skipped terminal state. Runs to a fixpoint because one
// skip can settle further dependents. Skip events publish inline while the
// lock is held, so they always precede any dependent's step_started.
func (r *run) promoteLocked() {
	for {
		changed := false
		for _, s := range r.plan.Steps {
			if s.Status != v1.StepStatusPending {
				continue
			}
			verdict, reason := r.settleLocked(s)
			switch verdict {
			case verdictWait:
				continue
			case verdictSkip:
				r.publish(r.skipLocked(s, reason))
			case verdictRun:
				s.Status = v1.StepStatusReady
				s.EnqueuedAt = time.Now()
				r.ready.Push(r.taskID, s)
				r.signal()
			}
			changed = true
		}
		if !changed {
			return
		}
	}
}

type verdict int

const (
	verdictWait verdict = iota
	verdictRun
	verdictSkip
)

// settleLocked decides what to do with a pending step given its
// dependencies' states and its guards.
func (r *run) settleLocked(s *v1.Step) (verdict, string) {
	depsSkipped := false
	for _, depID := range s.DependsOn {
		dep := r.plan.StepByID(depID)
		if dep == nil || !dep.Status.Terminal() {
			return verdictWait, ""
		}
		switch dep.Status {
		case v1.StepStatusFailed, v1.StepStatusCancelled:
			return verdictSkip, "dependency " + depID + " " + string(dep.Status)
		case v1.StepStatusSkipped:
			depsSkipped = true
		}
	}
	// A skipped dependency counts as not-succeeded unless the dependent's
	// policy is skip, in which case guards decide against the null result.
	if depsSkipped && s.EffectiveOnFailure() != v1.OnFailureSkip {
		return verdictSkip, "dependency skipped"
	}

	if s.SkipIf != "" {
		g, err := plan.ParseGuard(s.SkipIf)
		if err == nil && g.Eval(r.plan.Context) {
			return verdictSkip, "skip_if matched"
		}
	}
	if s.RunIf != "" {
		g, err := plan.ParseGuard(s.RunIf)
		if err != nil || !g.Eval(r.plan.Context) {
			return verdictSkip, "run_if not satisfied"
		}
	}
	return verdictRun, ""
}

// skipLocked marks a step skipped and records a null result in the context.
func (r *run) skipLocked(s *v1.Step, reason string) *bus.Event {
	now := time.Now()
	s.Status = v1.StepStatusSkipped
	s.FinishedAt = &now
	r.plan.Context[plan.ResultKey(s)] = nil
	r.remaining--
	r.engine.observer.StepFinished(string(v1.StepStatusSkipped), 0)
	r.signal()
	return bus.NewEvent(events.StepSkipped, r.taskID, s.ID, map[string]interface{}{
		"reason": reason,
	})
}

// runStep performs one attempt of a step.
func (r *run) runStep(s *v1.Step) {
	defer r.wg.Done()

	r.mu.Lock()
	if r.ctx.Err() != nil {
		r.publish(r.terminalLocked(s, v1.StepStatusCancelled, string(apperrors.KindCancelled), "run cancelled"))
		r.releaseLocked(s)
		r.mu.Unlock()
		r.engine.observer.StepRunning(-1)
		return
	}
	s.Status = v1.StepStatusRunning
	s.Attempt++
	attempt := s.Attempt
	now := time.Now()
	if s.StartedAt == nil {
		s.StartedAt = &now
	}
	snapshot := make(map[string]interface{}, len(r.plan.Context))
	for k, v := range r.plan.Context {
		snapshot[k] = v
	}
	r.mu.Unlock()

	r.publish(bus.NewEvent(events.StepStarted, r.taskID, s.ID, map[string]interface{}{
		"attempt": attempt,
		"agentId": s.AgentID,
	}))

	input := plan.RenderInput(s.Input, snapshot)

	timeout := r.engine.cfg.DefaultStepTimeout
	if s.TimeoutMs > 0 {
		if d := time.Duration(s.TimeoutMs) * time.Millisecond; d < timeout {
			timeout = d
		}
	}
	stepCtx, cancelStep := context.WithTimeout(r.ctx, timeout)
	started := time.Now()

	var result interface{}
	err := r.engine.limiter.Acquire(stepCtx)
	if err == nil {
		result, err = r.engine.invoker.Invoke(stepCtx, s.AgentID, s.Capability, input)
	}
	cancelStep()

	r.settleAttempt(s, attempt, result, err, time.Since(started))
}

// settleAttempt applies the outcome of one attempt: success, cancellation,
// retry, or the step's failure policy.
func (r *run) settleAttempt(s *v1.Step, attempt int, result interface{}, err error, elapsed time.Duration) {
	if err == nil {
		r.mu.Lock()
		now := time.Now()
		s.Status = v1.StepStatusSucceeded
		s.Result = result
		s.FinishedAt = &now
		r.plan.Context[plan.ResultKey(s)] = result
		r.releaseLocked(s)
		r.remaining--
		// Publish before promoting: dependents must not become dispatchable
		// until every subscriber can have seen this terminal event.
		r.publish(bus.NewEvent(events.StepSucceeded, r.taskID, s.ID, map[string]interface{}{
			"attempt": attempt,
			"result":  result,
		}))
		r.promoteLocked()
		r.mu.Unlock()

		r.engine.observer.StepRunning(-1)
		r.engine.observer.StepFinished(string(v1.StepStatusSucceeded), elapsed)
		r.signal()
		return
	}

	kind := apperrors.KindOf(err)
	if r.ctx.Err() != nil || kind == apperrors.KindCancelled {
		r.mu.Lock()
		r.publish(r.terminalLocked(s, v1.StepStatusCancelled, string(apperrors.KindCancelled), err.Error()))
		r.releaseLocked(s)
		if r.ctx.Err() == nil {
			// Agent-level cancellation without a plan cancel: settle the
			// dependents here, the drain sweep will never see them.
			r.promoteLocked()
		}
		r.mu.Unlock()
		r.engine.observer.StepRunning(-1)
		r.engine.observer.StepFinished(string(v1.StepStatusCancelled), elapsed)
		return
	}

	maxAttempts := s.EffectiveMaxAttempts()
	if c := r.engine.cfg.MaxRetries; c > 0 && maxAttempts > c+1 {
		maxAttempts = c + 1
	}

	if apperrors.Retriable(kind) && attempt < maxAttempts {
		base := r.engine.cfg.RetryBase
		if s.BackoffBaseMs > 0 {
			base = time.Duration(s.BackoffBaseMs) * time.Millisecond
		}
		delay := (base << (attempt - 1)) + time.Duration(rand.Int63n(int64(base)))

		r.log.Debug("step attempt failed, retrying",
			zap.String("step_id", s.ID),
			zap.Int("attempt", attempt),
			zap.String("kind", string(kind)),
			zap.Duration("backoff", delay),
			zap.Error(err))

		r.mu.Lock()
		s.Status = v1.StepStatusReady
		r.releaseLocked(s)
		r.mu.Unlock()
		r.engine.observer.StepRunning(-1)

		r.publish(bus.NewEvent(events.StepProgress, r.taskID, s.ID, map[string]interface{}{
			"attempt":   attempt,
			"retrying":  true,
			"backoffMs": delay.Milliseconds(),
			"error":     err.Error(),
		}))

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-r.ctx.Done():
				r.mu.Lock()
				r.publish(r.terminalLocked(s, v1.StepStatusCancelled, string(apperrors.KindCancelled), "cancelled during backoff"))
				r.mu.Unlock()
				r.engine.observer.StepFinished(string(v1.StepStatusCancelled), 0)
			case <-timer.C:
				r.mu.Lock()
				if r.ctx.Err() != nil {
					// Drain already swept the queue; don't re-enqueue.
					r.publish(r.terminalLocked(s, v1.StepStatusCancelled, string(apperrors.KindCancelled), "cancelled during backoff"))
					r.mu.Unlock()
					r.engine.observer.StepFinished(string(v1.StepStatusCancelled), 0)
					return
				}
				s.EnqueuedAt = time.Now()
				r.ready.Push(r.taskID, s)
				r.mu.Unlock()
				r.signal()
			}
		}()
		r.signal()
		return
	}

	// Attempts exhausted or fatal: apply the failure policy.
	policy := s.EffectiveOnFailure()
	r.log.Warn("step failed",
		zap.String("step_id", s.ID),
		zap.Int("attempt", attempt),
		zap.String("kind", string(kind)),
		zap.String("on_failure", string(policy)),
		zap.Error(err))

	switch policy {
	case v1.OnFailureSkip:
		r.mu.Lock()
		now := time.Now()
		s.Status = v1.StepStatusSkipped
		s.ErrorKind = string(kind)
		s.Error = err.Error()
		s.FinishedAt = &now
		r.plan.Context[plan.ResultKey(s)] = nil
		r.releaseLocked(s)
		r.remaining--
		r.publish(bus.NewEvent(events.StepSkipped, r.taskID, s.ID, map[string]interface{}{
			"reason": "failed: " + err.Error(),
			"kind":   string(kind),
		}))
		r.promoteLocked()
		r.mu.Unlock()
		r.engine.observer.StepRunning(-1)
		r.engine.observer.StepFinished(string(v1.StepStatusSkipped), elapsed)
		r.signal()

	case v1.OnFailureAbort:
		r.mu.Lock()
		evt := r.terminalLocked(s, v1.StepStatusFailed, string(kind), err.Error())
		if !r.aborted {
			r.aborted = true
			r.abortErr = apperrors.Wrap(kind, "step "+s.ID+" aborted the plan", err)
		}
		r.releaseLocked(s)
		r.publish(withField(evt, "onFailure", string(v1.OnFailureAbort)))
		r.mu.Unlock()
		r.engine.observer.StepRunning(-1)
		r.engine.observer.StepFinished(string(v1.StepStatusFailed), elapsed)
		r.cancel()
		r.signal()

	default:
		r.mu.Lock()
		r.publish(r.terminalLocked(s, v1.StepStatusFailed, string(kind), err.Error()))
		r.releaseLocked(s)
		r.promoteLocked()
		r.mu.Unlock()
		r.engine.observer.StepRunning(-1)
		r.engine.observer.StepFinished(string(v1.StepStatusFailed), elapsed)
		r.signal()
	}
}

// terminalLocked records a failed or cancelled terminal state and builds the
// matching event.
func (r *run) terminalLocked(s *v1.Step, status v1.StepStatus, kind, msg string) *bus.Event {
	now := time.Now()
	s.Status = status
	s.ErrorKind = kind
	s.Error = msg
	s.FinishedAt = &now
	r.remaining--
	r.signal()

	eventType := events.StepFailed
	if status == v1.StepStatusCancelled {
		eventType = events.StepCancelled
	}
	return bus.NewEvent(eventType, r.taskID, s.ID, map[string]interface{}{
		"kind":    kind,
		"error":   msg,
		"attempt": s.Attempt,
	})
}

// cancelIdleLocked cancels every pending or queued step. Running steps and
// steps in a backoff wait observe ctx cancellation from their own goroutines.
func (r *run) cancelIdleLocked() {
	for _, s := range r.plan.Steps {
		switch s.Status {
		case v1.StepStatusPending:
			r.publish(r.terminalLocked(s, v1.StepStatusCancelled, string(apperrors.KindCancelled), "plan cancelled"))
		case v1.StepStatusReady:
			if r.ready.Remove(s.ID) {
				r.publish(r.terminalLocked(s, v1.StepStatusCancelled, string(apperrors.KindCancelled), "plan cancelled"))
			}
		}
	}
}

// publish puts an event on the bus. Safe to call with r.mu held: delivery
// is asynchronous on both bus implementations.
func (r *run) publish(event *bus.Event) {
	if event == nil || r.engine.eventBus == nil {
		return
	}
	subject := events.Subject(event.Type, r.taskID)
	if err := r.engine.eventBus.Publish(context.Background(), subject, event); err != nil {
		r.log.Warn("failed to publish event",
			zap.String("event_type", event.Type),
			zap.Error(err))
	}
}

func withField(event *bus.Event, key string, value interface{}) *bus.Event {
	if event.Payload == nil {
		event.Payload = make(map[string]interface{})
	}
	event.Payload[key] = value
	return event
}
