package v1

import "time"

// CapabilityKind classifies what a capability does. Well-known kinds are
// pre-enumerated; anything else flows through as a custom kind carrying its
// own name, so agents can extend the set without reflection.
type CapabilityKind string

const (
	KindChat     CapabilityKind = "chat"
	KindScrape   CapabilityKind = "scrape"
	KindAnalyze  CapabilityKind = "analyze"
	KindGenerate CapabilityKind = "generate"
	KindMonitor  CapabilityKind = "monitor"
)

// KnownKind reports whether k is one of the pre-enumerated kinds.
func KnownKind(k CapabilityKind) bool {
	switch k {
	case KindChat, KindScrape, KindAnalyze, KindGenerate, KindMonitor:
		return true
	}
	return false
}

// Capability describes a named operation exposed by an agent.
type Capability struct {
	Name         string                 `json:"name"`
	Kind         CapabilityKind         `json:"kind,omitempty"`
	Description  string                 `json:"description,omitempty"`
	InputSchema  map[string]interface{} `json:"input_schema,omitempty"`
	OutputSchema map[string]interface{} `json:"output_schema,omitempty"`
}

// AgentDescriptor is the registry's view of an executable agent.
// (AgentID, capability name) uniquely identifies one invocation target.
type AgentDescriptor struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Version      string       `json:"version,omitempty"`
	Category     string       `json:"category,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
	Capabilities []Capability `json:"capabilities"`
	Enabled      bool         `json:"enabled"`
	RegisteredAt time.Time    `json:"registered_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// HasCapability reports whether the agent exposes a capability with the given name.
func (d *AgentDescriptor) HasCapability(name string) bool {
	for _, c := range d.Capabilities {
		if c.Name == name {
			return true
		}
	}
	return false
}

// CapabilityNames returns the names of all capabilities of the agent.
func (d *AgentDescriptor) CapabilityNames() []string {
	names := make([]string, 0, len(d.Capabilities))
	for _, c := range d.Capabilities {
		names = append(names, c.Name)
	}
	return names
}

// AgentPatch is a partial update applied to a registered descriptor.
// Nil fields are left untouched; Capabilities is only replaced when provided.
type AgentPatch struct {
	Name         *string      `json:"name,omitempty"`
	Version      *string      `json:"version,omitempty"`
	Category     *string      `json:"category,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
	Capabilities []Capability `json:"capabilities,omitempty"`
	Enabled      *bool        `json:"enabled,omitempty"`
}

// AgentFilter selects agents in registry list queries.
type AgentFilter struct {
	Category    string `json:"category,omitempty"`
	Tag         string `json:"tag,omitempty"`
	Query       string `json:"query,omitempty"` // free-text match on id/name/capabilities
	EnabledOnly bool   `json:"enabled_only,omitempty"`
}
