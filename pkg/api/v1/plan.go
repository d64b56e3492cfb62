package v1

import "time"

// StepStatus is the lifecycle state of a single plan step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusReady     StepStatus = "ready"
	StepStatusRunning   StepStatus = "running"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
	StepStatusCancelled StepStatus = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepStatusSucceeded, StepStatusFailed, StepStatusSkipped, StepStatusCancelled:
		return true
	}
	return false
}

// OnFailure selects what happens when a step exhausts its attempts.
type OnFailure string

const (
	OnFailureRetry OnFailure = "retry"
	OnFailureSkip  OnFailure = "skip"
	OnFailureAbort OnFailure = "abort"
)

// Default execution policy applied to steps that do not specify their own.
const (
	DefaultMaxAttempts   = 3
	DefaultBackoffBaseMs = 250
	DefaultStepTimeoutMs = 60000
)

// Step is a single unit of scheduled work: one agent+capability invocation
// with scheduling and failure policy attached.
type Step struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	AgentID       string    `json:"agent_id"`
	Capability    string    `json:"capability"`
	Priority      int       `json:"priority,omitempty"` // higher runs first among ready steps
	ParallelGroup string    `json:"parallel_group,omitempty"`
	DependsOn     []string  `json:"depends_on,omitempty"`
	MaxAttempts   int       `json:"max_attempts,omitempty"`
	BackoffBaseMs int       `json:"backoff_base_ms,omitempty"`
	TimeoutMs     int       `json:"timeout_ms,omitempty"`
	OnFailure     OnFailure `json:"on_failure,omitempty"`

	// RunIf/SkipIf are guard expressions over the plan context
	// (equality, inequality, &&, ||, !, dotted path access).
	RunIf  string `json:"run_if,omitempty"`
	SkipIf string `json:"skip_if,omitempty"`

	// Input is a template value; string leaves may contain {{key}}
	// placeholders resolved against the plan context.
	Input interface{} `json:"input,omitempty"`

	// Runtime state, mutated only by the engine.
	Status     StepStatus  `json:"status,omitempty"`
	Attempt    int         `json:"attempt,omitempty"`
	Result     interface{} `json:"result,omitempty"`
	ErrorKind  string      `json:"error_kind,omitempty"`
	Error      string      `json:"error,omitempty"`
	EnqueuedAt time.Time   `json:"enqueued_at,omitempty"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// EffectiveMaxAttempts returns the step's attempt budget, applying the default.
func (s *Step) EffectiveMaxAttempts() int {
	if s.MaxAttempts >= 1 {
		return s.MaxAttempts
	}
	return DefaultMaxAttempts
}

// EffectiveOnFailure returns the step's failure policy, applying the default.
func (s *Step) EffectiveOnFailure() OnFailure {
	if s.OnFailure != "" {
		return s.OnFailure
	}
	return OnFailureRetry
}

// ExecutionPlan is a dependency DAG of steps plus the shared context the
// steps read from and (via the engine) write results into.
type ExecutionPlan struct {
	ID      string                 `json:"id"`
	Steps   []*Step                `json:"steps"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// StepByID returns the step with the given plan-local ID, or nil.
func (p *ExecutionPlan) StepByID(id string) *Step {
	for _, s := range p.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Clone returns a copy of the plan with every step and the context map
// duplicated, so callers can read it while the engine keeps mutating the
// original. Step inputs and results are shared; they are written at most once.
func (p *ExecutionPlan) Clone() *ExecutionPlan {
	if p == nil {
		return nil
	}
	out := *p
	out.Steps = make([]*Step, len(p.Steps))
	for i, s := range p.Steps {
		cp := *s
		out.Steps[i] = &cp
	}
	if p.Context != nil {
		out.Context = make(map[string]interface{}, len(p.Context))
		for k, v := range p.Context {
			out.Context[k] = v
		}
	}
	return &out
}
