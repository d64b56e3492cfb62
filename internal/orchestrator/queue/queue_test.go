package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/Scarmonit/a2a/pkg/api/v1"
)

func step(id string, priority int) *v1.Step {
	return &v1.Step{ID: id, AgentID: "a", Capability: "chat", Priority: priority}
}

func TestQueue_PriorityOrder(t *testing.T) {
	q := New()
	q.Push("t", step("low", 1))
	q.Push("t", step("high", 10))
	q.Push("t", step("mid", 5))

	assert.Equal(t, "high", q.Pop().Step.ID)
	assert.Equal(t, "mid", q.Pop().Step.ID)
	assert.Equal(t, "low", q.Pop().Step.ID)
	assert.Nil(t, q.Pop())
}

func TestQueue_FIFOWithinPriority(t *testing.T) {
	q := New()
	q.Push("t", step("first", 5))
	q.Push("t", step("second", 5))
	q.Push("t", step("third", 5))

	assert.Equal(t, "first", q.Pop().Step.ID)
	assert.Equal(t, "second", q.Pop().Step.ID)
	assert.Equal(t, "third", q.Pop().Step.ID)
}

func TestQueue_RepushIsNoOp(t *testing.T) {
	q := New()
	s := step("a", 1)
	q.Push("t", s)
	q.Push("t", s)
	assert.Equal(t, 1, q.Len())

	require.NotNil(t, q.Pop())
	assert.Equal(t, 0, q.Len())
}

func TestQueue_PopWhereSkipsRejected(t *testing.T) {
	q := New()
	grouped := step("grouped", 5)
	grouped.ParallelGroup = "g"
	q.Push("t", step("solo-1", 10))
	q.Push("t", grouped)
	q.Push("t", step("solo-2", 1))

	onlyGrouped := func(s *v1.Step) bool { return s.ParallelGroup != "" }

	item := q.PopWhere(onlyGrouped)
	require.NotNil(t, item)
	assert.Equal(t, "grouped", item.Step.ID)

	// Rejected items keep their original order.
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, "solo-1", q.Pop().Step.ID)
	assert.Equal(t, "solo-2", q.Pop().Step.ID)
}

func TestQueue_PopWhereNoneAcceptable(t *testing.T) {
	q := New()
	q.Push("t", step("a", 1))
	q.Push("t", step("b", 2))

	item := q.PopWhere(func(*v1.Step) bool { return false })
	assert.Nil(t, item)
	assert.Equal(t, 2, q.Len())
	// Order preserved after a full rejection pass.
	assert.Equal(t, "b", q.Pop().Step.ID)
	assert.Equal(t, "a", q.Pop().Step.ID)
}

func TestQueue_Remove(t *testing.T) {
	q := New()
	q.Push("t", step("a", 1))
	q.Push("t", step("b", 2))

	assert.True(t, q.Contains("a"))
	assert.True(t, q.Remove("a"))
	assert.False(t, q.Contains("a"))
	assert.False(t, q.Remove("a"))

	assert.Equal(t, 1, q.Len())
	assert.Equal(t, "b", q.Pop().Step.ID)
}
