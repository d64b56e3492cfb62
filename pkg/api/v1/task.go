package v1

import "time"

// TaskStatus is the aggregate lifecycle state of a submitted task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusAnalyzing TaskStatus = "analyzing"
	TaskStatusPlanning  TaskStatus = "planning"
	TaskStatusDeploying TaskStatus = "deploying"
	TaskStatusExecuting TaskStatus = "executing"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// TaskError is the terminal error attached to a failed or rejected task.
type TaskError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	StepID  string `json:"step_id,omitempty"`
}

// SubmitOptions tunes how a single submission is planned and executed.
type SubmitOptions struct {
	AutoDeploy      bool    `json:"auto_deploy,omitempty"`
	MinConfidence   float64 `json:"min_confidence,omitempty"` // default 0.5
	MaxAgents       int     `json:"max_agents,omitempty"`
	TimeoutMs       int     `json:"timeout_ms,omitempty"`
	RequireApproval bool    `json:"require_approval,omitempty"`
	ApprovalToken   string  `json:"approval_token,omitempty"`
}

// TaskRequest is the adapter-agnostic submission payload: either a
// natural-language description or a pre-built plan.
type TaskRequest struct {
	Description string                 `json:"description,omitempty"`
	Plan        *ExecutionPlan         `json:"plan,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Options     SubmitOptions          `json:"options,omitempty"`
}

// TaskExecution is the live (or historical) record of one submitted task.
type TaskExecution struct {
	ID          string                 `json:"id"`
	Description string                 `json:"description,omitempty"`
	Plan        *ExecutionPlan         `json:"plan,omitempty"`
	Status      TaskStatus             `json:"status"`
	Confidence  float64                `json:"confidence,omitempty"`
	Results     map[string]interface{} `json:"results,omitempty"` // result key ("<name>_result", ID fallback) -> result
	Error       *TaskError             `json:"error,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	StartedAt   time.Time              `json:"started_at,omitempty"`
	FinishedAt  time.Time              `json:"finished_at,omitempty"`
}

// SubmitResponse is returned by the task-submission API.
type SubmitResponse struct {
	TaskID     string `json:"task_id"`
	StreamPath string `json:"stream_path"`
}

// CancelResponse is returned by the cancel API.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}
