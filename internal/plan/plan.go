// Package plan validates execution plans and provides the context machinery
// steps run against: {{key}} template rendering and guard expressions.
package plan

import (
	"fmt"

	"github.com/google/uuid"

	apperrors "github.com/Scarmonit/a2a/internal/common/errors"
	v1 "github.com/Scarmonit/a2a/pkg/api/v1"
)

// New creates an empty plan with a server-minted ID.
func New() *v1.ExecutionPlan {
	return &v1.ExecutionPlan{
		ID:      uuid.New().String(),
		Context: make(map[string]interface{}),
	}
}

// Validate checks plan construction invariants: step IDs are unique and
// non-empty, every step names an invocation target, dependencies resolve to
// known steps, guard expressions parse, and the dependency graph is a DAG.
// Violations surface as Invalid errors.
func Validate(p *v1.ExecutionPlan) error {
	if p == nil {
		return apperrors.Invalid("plan is nil")
	}
	if len(p.Steps) == 0 {
		return apperrors.Invalid("plan has no steps")
	}

	byID := make(map[string]*v1.Step, len(p.Steps))
	for _, s := range p.Steps {
		if s.ID == "" {
			return apperrors.Invalid("step has empty id")
		}
		if _, dup := byID[s.ID]; dup {
			return apperrors.Newf(apperrors.KindInvalid, "duplicate step id %q", s.ID)
		}
		byID[s.ID] = s

		if s.AgentID == "" {
			return apperrors.Newf(apperrors.KindInvalid, "step %q has no agent", s.ID)
		}
		if s.Capability == "" {
			return apperrors.Newf(apperrors.KindInvalid, "step %q has no capability", s.ID)
		}
		if s.MaxAttempts < 0 {
			return apperrors.Newf(apperrors.KindInvalid, "step %q has negative max_attempts", s.ID)
		}
		switch s.OnFailure {
		case "", v1.OnFailureRetry, v1.OnFailureSkip, v1.OnFailureAbort:
		default:
			return apperrors.Newf(apperrors.KindInvalid, "step %q has unknown on_failure %q", s.ID, s.OnFailure)
		}
		if s.RunIf != "" {
			if _, err := ParseGuard(s.RunIf); err != nil {
				return apperrors.Wrap(apperrors.KindInvalid,
					fmt.Sprintf("step %q run_if does not parse", s.ID), err)
			}
		}
		if s.SkipIf != "" {
			if _, err := ParseGuard(s.SkipIf); err != nil {
				return apperrors.Wrap(apperrors.KindInvalid,
					fmt.Sprintf("step %q skip_if does not parse", s.ID), err)
			}
		}
	}

	for _, s := range p.Steps {
		for _, dep := range s.DependsOn {
			if dep == s.ID {
				return apperrors.Newf(apperrors.KindInvalid, "step %q depends on itself", s.ID)
			}
			if _, ok := byID[dep]; !ok {
				return apperrors.Newf(apperrors.KindInvalid,
					"step %q depends on unknown step %q", s.ID, dep)
			}
		}
	}

	if err := checkAcyclic(p.Steps); err != nil {
		return err
	}
	return nil
}

// checkAcyclic runs Kahn's algorithm over the dependency edges.
func checkAcyclic(steps []*v1.Step) error {
	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for _, s := range steps {
		indegree[s.ID] += 0
		for _, dep := range s.DependsOn {
			indegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	queue := make([]string, 0, len(steps))
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(steps) {
		return apperrors.Invalid("plan dependency graph contains a cycle")
	}
	return nil
}

// ResultKey is the context key a step's result is merged under.
// Keyed by step name, falling back to the step ID.
func ResultKey(s *v1.Step) string {
	name := s.Name
	if name == "" {
		name = s.ID
	}
	return name + "_result"
}
