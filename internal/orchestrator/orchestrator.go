// Package orchestrator translates task submissions into execution plans,
// drives them through the engine, and tracks live and historical executions.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Scarmonit/a2a/internal/agent/registry"
	apperrors "github.com/Scarmonit/a2a/internal/common/errors"
	"github.com/Scarmonit/a2a/internal/common/logger"
	"github.com/Scarmonit/a2a/internal/events"
	"github.com/Scarmonit/a2a/internal/events/bus"
	"github.com/Scarmonit/a2a/internal/orchestrator/engine"
	"github.com/Scarmonit/a2a/internal/plan"
	v1 "github.com/Scarmonit/a2a/pkg/api/v1"
)

// DefaultMinConfidence applies when a submission does not set one.
const DefaultMinConfidence = 0.5

// StreamPath is advertised to submitters for progress subscription.
const StreamPath = "/stream"

// ApprovalFunc decides whether a planned task may execute. Returning false
// cancels the task.
type ApprovalFunc func(ctx context.Context, exec *v1.TaskExecution) (bool, error)

// Metrics receives task lifecycle counters. Nil-safe via nopMetrics.
type Metrics interface {
	TaskCreated()
	TaskFinished(status string)
}

type nopMetrics struct{}

func (nopMetrics) TaskCreated()        {}
func (nopMetrics) TaskFinished(string) {}

// Config holds orchestrator parameters.
type Config struct {
	HistorySize   int
	ApprovalToken string // pre-shared token that satisfies requireApproval without a callback
}

// Orchestrator is the task front door: submit, cancel, inspect.
type Orchestrator struct {
	cfg      Config
	registry *registry.Registry
	engine   *engine.Engine
	planner  Planner
	eventBus bus.EventBus
	logger   *logger.Logger
	metrics  Metrics
	approver ApprovalFunc

	mu       sync.RWMutex
	active   map[string]*taskState
	history  *History
	draining bool
	wg       sync.WaitGroup
}

type taskState struct {
	exec   *v1.TaskExecution
	cancel context.CancelFunc
}

// New creates an orchestrator.
func New(cfg Config, reg *registry.Registry, eng *engine.Engine, planner Planner, eventBus bus.EventBus, log *logger.Logger, metrics Metrics) *Orchestrator {
	if cfg.HistorySize < 1 {
		cfg.HistorySize = 100
	}
	if planner == nil {
		planner = NewStubPlanner()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Orchestrator{
		cfg:      cfg,
		registry: reg,
		engine:   eng,
		planner:  planner,
		eventBus: eventBus,
		logger:   log.WithFields(zap.String("component", "orchestrator")),
		metrics:  metrics,
		active:   make(map[string]*taskState),
		history:  NewHistory(cfg.HistorySize),
	}
}

// SetApprover installs the approval callback used for requireApproval
// submissions.
func (o *Orchestrator) SetApprover(fn ApprovalFunc) { o.approver = fn }

// Submit accepts either a pre-built plan or a natural-language description.
// Planning for descriptions happens synchronously so rejections (Invalid,
// LowConfidence) surface before any task exists or any event is emitted.
func (o *Orchestrator) Submit(ctx context.Context, req *v1.TaskRequest) (*v1.SubmitResponse, error) {
	o.mu.RLock()
	draining := o.draining
	o.mu.RUnlock()
	if draining {
		return nil, apperrors.New(apperrors.KindOverloaded, "server is shutting down")
	}
	if req == nil || (req.Plan == nil && req.Description == "") {
		return nil, apperrors.Invalid("submission requires a plan or a description")
	}

	exec := &v1.TaskExecution{
		ID:          uuid.New().String(),
		Description: req.Description,
		Status:      v1.TaskStatusPending,
		CreatedAt:   time.Now(),
	}

	var requirements *v1.TaskRequirements
	if req.Plan != nil {
		if err := plan.Validate(req.Plan); err != nil {
			return nil, err
		}
		exec.Plan = req.Plan
		exec.Confidence = 1
	} else {
		p, confidence, reqs, err := o.planFromDescription(ctx, req)
		if err != nil {
			return nil, err
		}
		exec.Plan = p
		exec.Confidence = confidence
		requirements = reqs
	}

	if exec.Plan.Context == nil {
		exec.Plan.Context = make(map[string]interface{})
	}
	for k, v := range req.Context {
		exec.Plan.Context[k] = v
	}

	runCtx, cancel := context.WithCancel(context.Background())
	if req.Options.TimeoutMs > 0 {
		runCtx, cancel = context.WithTimeout(context.Background(), time.Duration(req.Options.TimeoutMs)*time.Millisecond)
	}

	o.mu.Lock()
	if o.draining {
		o.mu.Unlock()
		cancel()
		return nil, apperrors.New(apperrors.KindOverloaded, "server is shutting down")
	}
	o.active[exec.ID] = &taskState{exec: exec, cancel: cancel}
	o.wg.Add(1)
	o.mu.Unlock()

	o.metrics.TaskCreated()
	o.logger.Info("task submitted",
		zap.String("task_id", exec.ID),
		zap.Int("steps", len(exec.Plan.Steps)))

	if requirements != nil {
		o.publish(bus.NewEvent(events.ContextAnalyzed, exec.ID, "", map[string]interface{}{
			"requirements": requirements,
		}))
	}
	o.publish(bus.NewEvent(events.PlanCreated, exec.ID, "", map[string]interface{}{
		"planId":     exec.Plan.ID,
		"steps":      len(exec.Plan.Steps),
		"confidence": exec.Confidence,
	}))

	go o.run(runCtx, exec, req.Options)

	return &v1.SubmitResponse{TaskID: exec.ID, StreamPath: StreamPath}, nil
}

// planFromDescription runs the planning pipeline: analyze, select, build,
// confidence gate.
func (o *Orchestrator) planFromDescription(ctx context.Context, req *v1.TaskRequest) (*v1.ExecutionPlan, float64, *v1.TaskRequirements, error) {
	requirements, err := o.planner.Analyze(ctx, req.Description)
	if err != nil {
		return nil, 0, nil, err
	}

	available := o.registry.List(v1.AgentFilter{EnabledOnly: true})
	recs := o.planner.SelectAgents(ctx, requirements, available)
	if req.Options.MaxAgents > 0 && len(recs) > req.Options.MaxAgents {
		recs = recs[:req.Options.MaxAgents]
	}

	confidence := Confidence(recs)
	minConfidence := req.Options.MinConfidence
	if minConfidence == 0 {
		minConfidence = DefaultMinConfidence
	}
	if confidence < minConfidence {
		return nil, 0, nil, apperrors.Newf(apperrors.KindLowConfidence,
			"plan confidence %.2f below required %.2f", confidence, minConfidence)
	}

	selected := make(map[string]struct{}, len(recs))
	for _, r := range recs {
		selected[r.AgentID] = struct{}{}
	}
	filtered := available[:0]
	for _, a := range available {
		if _, ok := selected[a.ID]; ok {
			filtered = append(filtered, a)
		}
	}

	p, err := o.planner.CreatePlan(ctx, req.Description, filtered)
	if err != nil {
		return nil, 0, nil, err
	}
	if err := plan.Validate(p); err != nil {
		return nil, 0, nil, err
	}
	return p, confidence, requirements, nil
}

// run drives one task to a terminal state.
func (o *Orchestrator) run(ctx context.Context, exec *v1.TaskExecution, opts v1.SubmitOptions) {
	defer o.wg.Done()

	if opts.RequireApproval {
		o.setStatus(exec, v1.TaskStatusPlanning)
		approved, err := o.awaitApproval(ctx, exec, opts)
		if err != nil || !approved {
			msg := "approval rejected"
			if err != nil {
				msg = err.Error()
			}
			o.finish(exec, v1.TaskStatusCancelled, &v1.TaskError{
				Kind:    string(apperrors.KindCancelled),
				Message: msg,
			})
			return
		}
	}

	if opts.AutoDeploy && o.registry != nil {
		o.setStatus(exec, v1.TaskStatusDeploying)
		for _, s := range exec.Plan.Steps {
			d, err := o.registry.Get(s.AgentID)
			if err != nil || d.Enabled {
				continue
			}
			if err := o.registry.SetEnabled(s.AgentID, true); err != nil {
				o.logger.Warn("auto-deploy failed",
					zap.String("task_id", exec.ID),
					zap.String("agent_id", s.AgentID),
					zap.Error(err))
			}
		}
	}

	o.setStatus(exec, v1.TaskStatusExecuting)
	o.publish(bus.NewEvent(events.TaskStarted, exec.ID, "", map[string]interface{}{
		"planId": exec.Plan.ID,
		"steps":  len(exec.Plan.Steps),
	}))
	started := time.Now()
	o.mu.Lock()
	exec.StartedAt = started
	o.mu.Unlock()

	err := o.engine.Execute(ctx, exec.ID, exec.Plan)

	results := make(map[string]interface{}, len(exec.Plan.Steps))
	for _, s := range exec.Plan.Steps {
		results[plan.ResultKey(s)] = s.Result
	}

	switch {
	case err == nil:
		o.mu.Lock()
		exec.Results = results
		o.mu.Unlock()
		o.publish(bus.NewEvent(events.DeliverablesSubmitted, exec.ID, "", map[string]interface{}{
			"results": results,
		}))
		o.finish(exec, v1.TaskStatusCompleted, nil)

	case apperrors.KindOf(err) == apperrors.KindCancelled:
		o.finish(exec, v1.TaskStatusCancelled, &v1.TaskError{
			Kind:    string(apperrors.KindCancelled),
			Message: err.Error(),
		})

	default:
		taskErr := &v1.TaskError{
			Kind:    string(apperrors.KindOf(err)),
			Message: err.Error(),
			StepID:  abortingStepID(exec.Plan),
		}
		o.mu.Lock()
		exec.Results = results
		o.mu.Unlock()
		o.finish(exec, v1.TaskStatusFailed, taskErr)
	}
}

// awaitApproval consults the configured callback, falling back to the
// pre-shared approval token.
func (o *Orchestrator) awaitApproval(ctx context.Context, exec *v1.TaskExecution, opts v1.SubmitOptions) (bool, error) {
	if o.approver != nil {
		return o.approver(ctx, exec)
	}
	if o.cfg.ApprovalToken != "" && opts.ApprovalToken == o.cfg.ApprovalToken {
		return true, nil
	}
	return false, apperrors.New(apperrors.KindPermissionDenied, "approval required and no approver is configured")
}

// Cancel fires the task's cancellation signal.
func (o *Orchestrator) Cancel(taskID string) (*v1.CancelResponse, error) {
	o.mu.RLock()
	state, ok := o.active[taskID]
	o.mu.RUnlock()
	if !ok {
		if _, found := o.history.Get(taskID); found {
			return nil, apperrors.Newf(apperrors.KindInvalid, "task %q is already terminal", taskID)
		}
		return nil, apperrors.Newf(apperrors.KindNotFound, "task %q not found", taskID)
	}
	state.cancel()
	o.logger.Info("task cancellation requested", zap.String("task_id", taskID))
	return &v1.CancelResponse{Cancelled: true}, nil
}

// Get returns a snapshot of a live or retained task.
func (o *Orchestrator) Get(taskID string) (*v1.TaskExecution, error) {
	o.mu.RLock()
	state, ok := o.active[taskID]
	o.mu.RUnlock()
	if ok {
		return o.snapshot(state.exec), nil
	}
	if exec, found := o.history.Get(taskID); found {
		return o.snapshot(exec), nil
	}
	return nil, apperrors.Newf(apperrors.KindNotFound, "task %q not found", taskID)
}

// ListActive returns snapshots of all non-terminal tasks.
func (o *Orchestrator) ListActive() []*v1.TaskExecution {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*v1.TaskExecution, 0, len(o.active))
	for _, state := range o.active {
		out = append(out, o.snapshotLocked(state.exec))
	}
	return out
}

// RecentHistory returns up to n terminal tasks, newest first.
func (o *Orchestrator) RecentHistory(n int) []*v1.TaskExecution {
	return o.history.Recent(n)
}

// Shutdown stops accepting tasks, cancels all active work, and waits for
// drain or ctx expiry.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.draining {
		o.mu.Unlock()
		return nil
	}
	o.draining = true
	states := make([]*taskState, 0, len(o.active))
	for _, s := range o.active {
		states = append(states, s)
	}
	o.mu.Unlock()

	o.logger.Info("draining", zap.Int("active_tasks", len(states)))
	for _, s := range states {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return apperrors.Wrap(apperrors.KindTimeout, "drain deadline exceeded", ctx.Err())
	}

	o.publish(bus.NewEvent(events.Shutdown, "", "", map[string]interface{}{
		"reason": "shutdown",
	}))
	return nil
}

// Draining reports whether the orchestrator has stopped accepting tasks.
func (o *Orchestrator) Draining() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.draining
}

func (o *Orchestrator) setStatus(exec *v1.TaskExecution, status v1.TaskStatus) {
	o.mu.Lock()
	exec.Status = status
	o.mu.Unlock()
}

// finish records the terminal state, moves the task to history, and emits
// the terminal event.
func (o *Orchestrator) finish(exec *v1.TaskExecution, status v1.TaskStatus, taskErr *v1.TaskError) {
	o.mu.Lock()
	exec.Status = status
	exec.Error = taskErr
	exec.FinishedAt = time.Now()
	delete(o.active, exec.ID)
	o.mu.Unlock()
	o.history.Add(exec)
	o.metrics.TaskFinished(string(status))

	switch status {
	case v1.TaskStatusCompleted:
		o.publish(bus.NewEvent(events.TaskCompleted, exec.ID, "", map[string]interface{}{
			"results": exec.Results,
		}))
		o.logger.Info("task completed", zap.String("task_id", exec.ID))
	case v1.TaskStatusCancelled:
		o.publish(bus.NewEvent(events.TaskCancelled, exec.ID, "", map[string]interface{}{
			"message": taskErr.Message,
		}))
		o.logger.Info("task cancelled", zap.String("task_id", exec.ID))
	case v1.TaskStatusFailed:
		payload := map[string]interface{}{
			"kind":    taskErr.Kind,
			"message": taskErr.Message,
		}
		if taskErr.StepID != "" {
			payload["stepId"] = taskErr.StepID
		}
		o.publish(bus.NewEvent(events.TaskFailed, exec.ID, "", payload))
		o.logger.Warn("task failed",
			zap.String("task_id", exec.ID),
			zap.String("kind", taskErr.Kind),
			zap.String("message", taskErr.Message))
	}
}

func (o *Orchestrator) snapshot(exec *v1.TaskExecution) *v1.TaskExecution {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snapshotLocked(exec)
}

// snapshotLocked copies the orchestrator-owned fields and asks the engine
// for a plan copy taken under the run's own lock, so step runtime fields are
// coherent even mid-execution.
func (o *Orchestrator) snapshotLocked(exec *v1.TaskExecution) *v1.TaskExecution {
	out := *exec
	if exec.Plan != nil {
		if o.engine != nil {
			out.Plan = o.engine.Snapshot(exec.ID, exec.Plan)
		} else {
			out.Plan = exec.Plan.Clone()
		}
	}
	if exec.Results != nil {
		out.Results = make(map[string]interface{}, len(exec.Results))
		for k, v := range exec.Results {
			out.Results[k] = v
		}
	}
	return &out
}

// abortingStepID finds the failed step whose policy aborted the plan.
func abortingStepID(p *v1.ExecutionPlan) string {
	for _, s := range p.Steps {
		if s.Status == v1.StepStatusFailed && s.EffectiveOnFailure() == v1.OnFailureAbort {
			return s.ID
		}
	}
	for _, s := range p.Steps {
		if s.Status == v1.StepStatusFailed {
			return s.ID
		}
	}
	return ""
}

func (o *Orchestrator) publish(event *bus.Event) {
	if o.eventBus == nil {
		return
	}
	subject := events.Subject(event.Type, event.TaskID)
	if err := o.eventBus.Publish(context.Background(), subject, event); err != nil {
		o.logger.Warn("failed to publish event",
			zap.String("event_type", event.Type),
			zap.Error(err))
	}
}
