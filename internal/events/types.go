// Package events defines the lifecycle event vocabulary of the execution
// plane and the subject layout used on the event bus.
package events

// Task lifecycle event types.
const (
	ContextAnalyzed       = "context_analyzed"
	PlanCreated           = "plan_created"
	TaskStarted           = "task_started"
	TaskCompleted         = "task_completed"
	TaskFailed            = "task_failed"
	TaskCancelled         = "task_cancelled"
	DeliverablesSubmitted = "deliverables_submitted"
)

// Step lifecycle event types.
const (
	StepStarted      = "step_started"
	StepProgress     = "step_progress"
	StepSucceeded    = "step_succeeded"
	StepFailed       = "step_failed"
	StepSkipped      = "step_skipped"
	StepCancelled    = "step_cancelled"
	RateLimitedRetry = "rate_limited_retry"
)

// System event types.
const (
	ConfigUpdated = "config_updated"
	Heartbeat     = "heartbeat"
	Shutdown      = "shutdown"
)

// Subscription channels. A stream client subscribes to channels, not to
// individual event types.
const (
	ChannelTasks  = "tasks"
	ChannelSteps  = "steps"
	ChannelSystem = "system"
)

// DefaultChannels is what a stream client gets when it does not name any.
var DefaultChannels = []string{ChannelTasks, ChannelSteps, ChannelSystem}

// ChannelFor maps an event type to its subscription channel.
func ChannelFor(eventType string) string {
	switch eventType {
	case ContextAnalyzed, PlanCreated, TaskStarted, TaskCompleted, TaskFailed,
		TaskCancelled, DeliverablesSubmitted:
		return ChannelTasks
	case StepStarted, StepProgress, StepSucceeded, StepFailed, StepSkipped,
		StepCancelled, RateLimitedRetry:
		return ChannelSteps
	default:
		return ChannelSystem
	}
}

// Droppable reports whether an event may be discarded for a subscriber whose
// outbound buffer is over the high-water mark. Terminal task events and
// abort-triggering step failures must never be dropped.
func Droppable(eventType string) bool {
	switch eventType {
	case StepProgress, Heartbeat, RateLimitedRetry:
		return true
	}
	return false
}

// Terminal reports whether the event announces a terminal task state.
func Terminal(eventType string) bool {
	switch eventType {
	case TaskCompleted, TaskFailed, TaskCancelled, Shutdown:
		return true
	}
	return false
}

// Subject builds the bus subject for an event: a2a.<channel>.<type>[.<taskID>].
func Subject(eventType, taskID string) string {
	s := "a2a." + ChannelFor(eventType) + "." + eventType
	if taskID != "" {
		s += "." + taskID
	}
	return s
}

// WildcardSubject subscribes to every event the server publishes.
func WildcardSubject() string {
	return "a2a.>"
}

// ChannelWildcardSubject subscribes to all events on one channel.
func ChannelWildcardSubject(channel string) string {
	return "a2a." + channel + ".>"
}
