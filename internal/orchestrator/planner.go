package orchestrator

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	v1 "github.com/Scarmonit/a2a/pkg/api/v1"
)

// Planner turns a natural-language description into requirements, agent
// recommendations, and finally an execution plan. The stub implementation
// works from registry indices alone; an LLM-backed planner can be swapped in
// behind the same interface.
type Planner interface {
	Analyze(ctx context.Context, description string) (*v1.TaskRequirements, error)
	SelectAgents(ctx context.Context, req *v1.TaskRequirements, available []*v1.AgentDescriptor) []v1.AgentRecommendation
	CreatePlan(ctx context.Context, description string, available []*v1.AgentDescriptor) (*v1.ExecutionPlan, error)
}

// StubPlanner derives requirements by keyword-matching the description
// against the catalog's categories, tags, and capability names. Fully
// deterministic: same description and catalog, same plan.
type StubPlanner struct{}

// NewStubPlanner creates the registry-only planner.
func NewStubPlanner() *StubPlanner { return &StubPlanner{} }

// Analyze extracts requirements from the description.
func (p *StubPlanner) Analyze(ctx context.Context, description string) (*v1.TaskRequirements, error) {
	words := tokenize(description)

	req := &v1.TaskRequirements{}
	seenCaps := make(map[string]struct{})
	for _, w := range words {
		if kind, ok := capabilityKeyword(w); ok {
			if _, dup := seenCaps[kind]; !dup {
				seenCaps[kind] = struct{}{}
				req.Actions = append(req.Actions, kind)
				req.RequiredCapabilities = append(req.RequiredCapabilities, kind)
			}
		}
	}
	if len(req.Actions) == 0 {
		// Default to a conversational action so trivial descriptions still plan.
		req.Actions = []string{string(v1.KindChat)}
		req.RequiredCapabilities = []string{string(v1.KindChat)}
	}

	req.Domain = domainKeyword(words)
	req.Tags = words
	req.EstimatedSteps = len(req.Actions)
	switch {
	case req.EstimatedSteps <= 2:
		req.Complexity = v1.ComplexitySimple
	case req.EstimatedSteps <= 5:
		req.Complexity = v1.ComplexityModerate
	default:
		req.Complexity = v1.ComplexityComplex
	}
	return req, nil
}

// SelectAgents scores every available agent against the requirements:
// +0.5 for a category match, +0.3 per required capability the agent
// provides, +0.1 per shared tag, normalized by the maximum achievable score.
// Agents below 0.3 are discarded.
func (p *StubPlanner) SelectAgents(ctx context.Context, req *v1.TaskRequirements, available []*v1.AgentDescriptor) []v1.AgentRecommendation {
	maxScore := 0.5 + 0.3*float64(len(req.RequiredCapabilities)) + 0.1*float64(len(req.Tags))
	if maxScore == 0 {
		return nil
	}

	var out []v1.AgentRecommendation
	for _, a := range available {
		if !a.Enabled {
			continue
		}
		score := 0.0
		if req.Domain != "" && a.Category == req.Domain {
			score += 0.5
		}
		capNames := make(map[string]struct{})
		for _, c := range a.Capabilities {
			capNames[c.Name] = struct{}{}
			capNames[string(c.Kind)] = struct{}{}
		}
		matched := 0
		for _, rc := range req.RequiredCapabilities {
			if _, ok := capNames[rc]; ok {
				matched++
			}
		}
		score += 0.3 * float64(matched)

		tags := make(map[string]struct{}, len(a.Tags))
		for _, t := range a.Tags {
			tags[t] = struct{}{}
		}
		for _, t := range req.Tags {
			if _, ok := tags[t]; ok {
				score += 0.1
			}
		}

		normalized := score / maxScore
		if normalized < 0.3 {
			continue
		}
		out = append(out, v1.AgentRecommendation{
			AgentID: a.ID,
			Score:   normalized,
			Tier:    v1.TierFor(normalized),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out
}

// CreatePlan emits one step per required action, assigned to the
// best-scoring agent providing that capability, chained sequentially in
// planner order.
func (p *StubPlanner) CreatePlan(ctx context.Context, description string, available []*v1.AgentDescriptor) (*v1.ExecutionPlan, error) {
	req, err := p.Analyze(ctx, description)
	if err != nil {
		return nil, err
	}
	recs := p.SelectAgents(ctx, req, available)

	byID := make(map[string]*v1.AgentDescriptor, len(available))
	for _, a := range available {
		byID[a.ID] = a
	}

	out := &v1.ExecutionPlan{
		ID:      uuid.New().String(),
		Context: map[string]interface{}{"description": description},
	}
	var prev string
	for i, action := range req.Actions {
		agentID := ""
		for _, rec := range recs {
			a := byID[rec.AgentID]
			if a != nil && a.HasCapability(action) {
				agentID = a.ID
				break
			}
		}
		if agentID == "" {
			continue
		}
		step := &v1.Step{
			ID:            "step-" + strconv.Itoa(i+1),
			Name:          action,
			AgentID:       agentID,
			Capability:    action,
			MaxAttempts:   v1.DefaultMaxAttempts,
			BackoffBaseMs: v1.DefaultBackoffBaseMs,
			TimeoutMs:     v1.DefaultStepTimeoutMs,
			OnFailure:     v1.OnFailureRetry,
			Input:         map[string]interface{}{"description": description},
		}
		if prev != "" {
			step.DependsOn = []string{prev}
		}
		out.Steps = append(out.Steps, step)
		prev = step.ID
	}
	return out, nil
}

// Confidence is the mean score of primary recommendations, zero when there
// are none.
func Confidence(recs []v1.AgentRecommendation) float64 {
	sum, n := 0.0, 0
	for _, r := range recs {
		if r.Tier == v1.TierPrimary {
			sum += r.Score
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// capabilityKeyword maps description verbs onto capability kinds.
func capabilityKeyword(word string) (string, bool) {
	switch word {
	case "chat", "ask", "answer", "reply", "converse":
		return string(v1.KindChat), true
	case "scrape", "fetch", "crawl", "download":
		return string(v1.KindScrape), true
	case "analyze", "analyse", "summarize", "classify", "review":
		return string(v1.KindAnalyze), true
	case "generate", "write", "create", "compose", "draft":
		return string(v1.KindGenerate), true
	case "monitor", "watch", "observe", "track":
		return string(v1.KindMonitor), true
	}
	return "", false
}

// domainKeyword picks the first recognized domain word, if any.
func domainKeyword(words []string) string {
	known := map[string]struct{}{
		"research": {}, "engineering": {}, "marketing": {}, "support": {},
		"finance": {}, "utility": {}, "data": {},
	}
	for _, w := range words {
		if _, ok := known[w]; ok {
			return w
		}
	}
	return ""
}
