package v1

// TaskComplexity buckets how involved the planner believes a task is.
type TaskComplexity string

const (
	ComplexitySimple   TaskComplexity = "simple"
	ComplexityModerate TaskComplexity = "moderate"
	ComplexityComplex  TaskComplexity = "complex"
)

// TaskRequirements is the planner's analysis of a natural-language description.
type TaskRequirements struct {
	Domain               string         `json:"domain"`
	Actions              []string       `json:"actions"`
	RequiredCapabilities []string       `json:"required_capabilities"`
	Tags                 []string       `json:"tags,omitempty"`
	Complexity           TaskComplexity `json:"complexity"`
	EstimatedSteps       int            `json:"estimated_steps"`
}

// RecommendationTier buckets scored agents by fit.
type RecommendationTier string

const (
	TierPrimary   RecommendationTier = "primary"   // score >= 0.7
	TierSecondary RecommendationTier = "secondary" // [0.5, 0.7)
	TierOptional  RecommendationTier = "optional"  // [0.3, 0.5)
)

// TierFor buckets a normalized score.
func TierFor(score float64) RecommendationTier {
	switch {
	case score >= 0.7:
		return TierPrimary
	case score >= 0.5:
		return TierSecondary
	default:
		return TierOptional
	}
}

// AgentRecommendation is one scored agent candidate for a task.
type AgentRecommendation struct {
	AgentID string             `json:"agent_id"`
	Score   float64            `json:"score"` // normalized to [0, 1]
	Tier    RecommendationTier `json:"tier"`
}
