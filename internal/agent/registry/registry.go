// Package registry is the in-memory agent catalog: descriptors plus their
// runtime implementations, indexed by tag and category for fast filtering.
package registry

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Scarmonit/a2a/internal/agent"
	apperrors "github.com/Scarmonit/a2a/internal/common/errors"
	"github.com/Scarmonit/a2a/internal/common/logger"
	"github.com/Scarmonit/a2a/internal/events"
	"github.com/Scarmonit/a2a/internal/events/bus"
	v1 "github.com/Scarmonit/a2a/pkg/api/v1"
)

type entry struct {
	descriptor *v1.AgentDescriptor
	runtime    agent.Agent
}

// Registry stores agents under a RWMutex with eager tag and category indices.
// Mutations publish config_updated events on the system channel.
type Registry struct {
	mu         sync.RWMutex
	agents     map[string]*entry
	byTag      map[string]map[string]struct{}
	byCategory map[string]map[string]struct{}

	eventBus bus.EventBus
	logger   *logger.Logger
	now      func() time.Time
}

// New creates an empty registry. eventBus may be nil (mutation events are
// then suppressed, used in tests).
func New(eventBus bus.EventBus, log *logger.Logger) *Registry {
	return &Registry{
		agents:     make(map[string]*entry),
		byTag:      make(map[string]map[string]struct{}),
		byCategory: make(map[string]map[string]struct{}),
		eventBus:   eventBus,
		logger:     log.WithFields(zap.String("component", "agent-registry")),
		now:        time.Now,
	}
}

// Register adds a new agent with its runtime implementation. The descriptor
// ID must be unique; re-registering an existing ID is Invalid (use Update).
func (r *Registry) Register(desc *v1.AgentDescriptor, runtime agent.Agent) error {
	if desc == nil || desc.ID == "" {
		return apperrors.Invalid("agent descriptor requires an id")
	}
	if desc.Name == "" {
		return apperrors.Invalid("agent descriptor requires a name")
	}
	if len(desc.Capabilities) == 0 {
		return apperrors.Newf(apperrors.KindInvalid, "agent %q declares no capabilities", desc.ID)
	}
	if runtime == nil {
		return apperrors.Newf(apperrors.KindInvalid, "agent %q has no runtime", desc.ID)
	}

	r.mu.Lock()
	if _, exists := r.agents[desc.ID]; exists {
		r.mu.Unlock()
		return apperrors.Newf(apperrors.KindInvalid, "agent %q is already registered", desc.ID)
	}

	d := cloneDescriptor(desc)
	now := r.now()
	d.RegisteredAt = now
	d.UpdatedAt = now
	r.agents[d.ID] = &entry{descriptor: d, runtime: runtime}
	r.indexLocked(d)
	r.mu.Unlock()

	r.logger.Info("agent registered",
		zap.String("agent_id", d.ID),
		zap.String("category", d.Category),
		zap.Strings("capabilities", d.CapabilityNames()))
	r.publishConfigUpdated(d.ID, "registered")
	return nil
}

// Update applies a partial patch to an existing agent. Only fields the patch
// carries are changed; capabilities are replaced wholesale when provided.
func (r *Registry) Update(id string, patch *v1.AgentPatch) (*v1.AgentDescriptor, error) {
	r.mu.Lock()
	e, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return nil, apperrors.Newf(apperrors.KindNotFound, "agent %q not found", id)
	}

	d := e.descriptor
	r.unindexLocked(d)
	if patch.Name != nil {
		d.Name = *patch.Name
	}
	if patch.Version != nil {
		d.Version = *patch.Version
	}
	if patch.Category != nil {
		d.Category = *patch.Category
	}
	if patch.Tags != nil {
		d.Tags = append([]string(nil), patch.Tags...)
	}
	if patch.Capabilities != nil {
		d.Capabilities = append([]v1.Capability(nil), patch.Capabilities...)
	}
	if patch.Enabled != nil {
		d.Enabled = *patch.Enabled
	}
	d.UpdatedAt = r.now()
	r.indexLocked(d)
	out := cloneDescriptor(d)
	r.mu.Unlock()

	r.logger.Info("agent updated", zap.String("agent_id", id))
	r.publishConfigUpdated(id, "updated")
	return out, nil
}

// SetEnabled flips the enabled flag. Disabled agents stay listed but are
// rejected at invocation time.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	e, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return apperrors.Newf(apperrors.KindNotFound, "agent %q not found", id)
	}
	e.descriptor.Enabled = enabled
	e.descriptor.UpdatedAt = r.now()
	r.mu.Unlock()

	action := "disabled"
	if enabled {
		action = "enabled"
	}
	r.logger.Info("agent "+action, zap.String("agent_id", id))
	r.publishConfigUpdated(id, action)
	return nil
}

// Remove deletes an agent from the catalog.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	e, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return apperrors.Newf(apperrors.KindNotFound, "agent %q not found", id)
	}
	r.unindexLocked(e.descriptor)
	delete(r.agents, id)
	r.mu.Unlock()

	r.logger.Info("agent removed", zap.String("agent_id", id))
	r.publishConfigUpdated(id, "removed")
	return nil
}

// Get returns a copy of one agent's descriptor.
func (r *Registry) Get(id string) (*v1.AgentDescriptor, error) {
	return r.Descriptor(id)
}

// Descriptor implements agent.Resolver.
func (r *Registry) Descriptor(id string) (*v1.AgentDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.KindNotFound, "agent %q not found", id)
	}
	return cloneDescriptor(e.descriptor), nil
}

// Runtime implements agent.Resolver.
func (r *Registry) Runtime(id string) (agent.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.KindNotFound, "agent %q not found", id)
	}
	return e.runtime, nil
}

// List returns descriptors matching the filter, sorted by ID for stable
// output. A zero filter returns everything.
func (r *Registry) List(filter v1.AgentFilter) []*v1.AgentDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates map[string]struct{}
	switch {
	case filter.Tag != "":
		candidates = r.byTag[filter.Tag]
	case filter.Category != "":
		candidates = r.byCategory[filter.Category]
	}

	out := make([]*v1.AgentDescriptor, 0, len(r.agents))
	for id, e := range r.agents {
		if candidates != nil {
			if _, ok := candidates[id]; !ok {
				continue
			}
		}
		if !matches(e.descriptor, filter) {
			continue
		}
		out = append(out, cloneDescriptor(e.descriptor))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ByTag returns agents carrying the tag.
func (r *Registry) ByTag(tag string) []*v1.AgentDescriptor {
	return r.List(v1.AgentFilter{Tag: tag})
}

// ByCategory returns agents in the category.
func (r *Registry) ByCategory(category string) []*v1.AgentDescriptor {
	return r.List(v1.AgentFilter{Category: category})
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

func matches(d *v1.AgentDescriptor, f v1.AgentFilter) bool {
	if f.EnabledOnly && !d.Enabled {
		return false
	}
	if f.Category != "" && d.Category != f.Category {
		return false
	}
	if f.Tag != "" && !hasTag(d, f.Tag) {
		return false
	}
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		if !strings.Contains(strings.ToLower(d.Name), q) &&
			!strings.Contains(strings.ToLower(d.ID), q) &&
			!capabilityMatches(d, q) {
			return false
		}
	}
	return true
}

func capabilityMatches(d *v1.AgentDescriptor, q string) bool {
	for _, c := range d.Capabilities {
		if strings.Contains(strings.ToLower(c.Name), q) {
			return true
		}
	}
	return false
}

func hasTag(d *v1.AgentDescriptor, tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (r *Registry) indexLocked(d *v1.AgentDescriptor) {
	for _, tag := range d.Tags {
		if r.byTag[tag] == nil {
			r.byTag[tag] = make(map[string]struct{})
		}
		r.byTag[tag][d.ID] = struct{}{}
	}
	if d.Category != "" {
		if r.byCategory[d.Category] == nil {
			r.byCategory[d.Category] = make(map[string]struct{})
		}
		r.byCategory[d.Category][d.ID] = struct{}{}
	}
}

func (r *Registry) unindexLocked(d *v1.AgentDescriptor) {
	for _, tag := range d.Tags {
		if set := r.byTag[tag]; set != nil {
			delete(set, d.ID)
			if len(set) == 0 {
				delete(r.byTag, tag)
			}
		}
	}
	if set := r.byCategory[d.Category]; set != nil {
		delete(set, d.ID)
		if len(set) == 0 {
			delete(r.byCategory, d.Category)
		}
	}
}

func (r *Registry) publishConfigUpdated(agentID, action string) {
	if r.eventBus == nil {
		return
	}
	event := bus.NewEvent(events.ConfigUpdated, "", "", map[string]interface{}{
		"agentId": agentID,
		"action":  action,
	})
	if err := r.eventBus.Publish(context.Background(), events.Subject(events.ConfigUpdated, ""), event); err != nil {
		r.logger.Warn("failed to publish config_updated",
			zap.String("agent_id", agentID),
			zap.Error(err))
	}
}

func cloneDescriptor(d *v1.AgentDescriptor) *v1.AgentDescriptor {
	out := *d
	out.Tags = append([]string(nil), d.Tags...)
	out.Capabilities = append([]v1.Capability(nil), d.Capabilities...)
	return &out
}
