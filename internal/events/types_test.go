package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelFor(t *testing.T) {
	assert.Equal(t, ChannelTasks, ChannelFor(TaskStarted))
	assert.Equal(t, ChannelTasks, ChannelFor(TaskCompleted))
	assert.Equal(t, ChannelTasks, ChannelFor(DeliverablesSubmitted))
	assert.Equal(t, ChannelSteps, ChannelFor(StepStarted))
	assert.Equal(t, ChannelSteps, ChannelFor(RateLimitedRetry))
	assert.Equal(t, ChannelSystem, ChannelFor(ConfigUpdated))
	assert.Equal(t, ChannelSystem, ChannelFor(Heartbeat))
	assert.Equal(t, ChannelSystem, ChannelFor("unknown_event"))
}

func TestDroppable(t *testing.T) {
	assert.True(t, Droppable(StepProgress))
	assert.True(t, Droppable(Heartbeat))
	assert.True(t, Droppable(RateLimitedRetry))

	// Terminal and failure events must survive backpressure.
	assert.False(t, Droppable(TaskCompleted))
	assert.False(t, Droppable(TaskFailed))
	assert.False(t, Droppable(StepFailed))
	assert.False(t, Droppable(Shutdown))
}

func TestTerminal(t *testing.T) {
	assert.True(t, Terminal(TaskCompleted))
	assert.True(t, Terminal(TaskFailed))
	assert.True(t, Terminal(TaskCancelled))
	assert.True(t, Terminal(Shutdown))
	assert.False(t, Terminal(TaskStarted))
	assert.False(t, Terminal(StepSucceeded))
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "a2a.tasks.task_started.t-1", Subject(TaskStarted, "t-1"))
	assert.Equal(t, "a2a.steps.step_failed.t-1", Subject(StepFailed, "t-1"))
	assert.Equal(t, "a2a.system.config_updated", Subject(ConfigUpdated, ""))
	assert.Equal(t, "a2a.>", WildcardSubject())
	assert.Equal(t, "a2a.steps.>", ChannelWildcardSubject(ChannelSteps))
}
