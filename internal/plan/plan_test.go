package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Scarmonit/a2a/internal/common/errors"
	v1 "github.com/Scarmonit/a2a/pkg/api/v1"
)

func step(id string, deps ...string) *v1.Step {
	return &v1.Step{
		ID:         id,
		AgentID:    "agent-1",
		Capability: "chat",
		DependsOn:  deps,
	}
}

func TestValidate_AcceptsWellFormedPlan(t *testing.T) {
	p := &v1.ExecutionPlan{
		ID: "p1",
		Steps: []*v1.Step{
			step("a"),
			step("b", "a"),
			step("c", "a", "b"),
		},
	}
	require.NoError(t, Validate(p))
}

func TestValidate_RejectsNilAndEmpty(t *testing.T) {
	assert.Equal(t, apperrors.KindInvalid, apperrors.KindOf(Validate(nil)))
	assert.Equal(t, apperrors.KindInvalid, apperrors.KindOf(Validate(&v1.ExecutionPlan{})))
}

func TestValidate_RejectsDuplicateStepID(t *testing.T) {
	p := &v1.ExecutionPlan{Steps: []*v1.Step{step("a"), step("a")}}
	err := Validate(p)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindInvalid, apperrors.KindOf(err))
	assert.Contains(t, err.Error(), "duplicate")
}

func TestValidate_RejectsMissingTarget(t *testing.T) {
	noAgent := step("a")
	noAgent.AgentID = ""
	err := Validate(&v1.ExecutionPlan{Steps: []*v1.Step{noAgent}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no agent")

	noCap := step("a")
	noCap.Capability = ""
	err = Validate(&v1.ExecutionPlan{Steps: []*v1.Step{noCap}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no capability")
}

func TestValidate_RejectsUnknownOnFailure(t *testing.T) {
	s := step("a")
	s.OnFailure = "explode"
	err := Validate(&v1.ExecutionPlan{Steps: []*v1.Step{s}})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindInvalid, apperrors.KindOf(err))
}

func TestValidate_RejectsUnparsableGuards(t *testing.T) {
	s := step("a")
	s.RunIf = "x =="
	err := Validate(&v1.ExecutionPlan{Steps: []*v1.Step{s}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run_if")

	s = step("a")
	s.SkipIf = "((x"
	err = Validate(&v1.ExecutionPlan{Steps: []*v1.Step{s}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "skip_if")
}

func TestValidate_RejectsDanglingDependency(t *testing.T) {
	p := &v1.ExecutionPlan{Steps: []*v1.Step{step("a", "ghost")}}
	err := Validate(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown step")
}

func TestValidate_RejectsSelfDependency(t *testing.T) {
	p := &v1.ExecutionPlan{Steps: []*v1.Step{step("a", "a")}}
	err := Validate(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depends on itself")
}

func TestValidate_RejectsCycle(t *testing.T) {
	p := &v1.ExecutionPlan{
		Steps: []*v1.Step{
			step("a", "c"),
			step("b", "a"),
			step("c", "b"),
		},
	}
	err := Validate(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestResultKey_PrefersNameOverID(t *testing.T) {
	named := &v1.Step{ID: "step-1", Name: "A"}
	assert.Equal(t, "A_result", ResultKey(named))

	unnamed := &v1.Step{ID: "step-2"}
	assert.Equal(t, "step-2_result", ResultKey(unnamed))
}

func TestNew_MintsIDAndContext(t *testing.T) {
	p := New()
	assert.NotEmpty(t, p.ID)
	assert.NotNil(t, p.Context)
}
