// Package agent defines the runtime contract between the execution engine
// and the agents it invokes.
package agent

import (
	"context"

	apperrors "github.com/Scarmonit/a2a/internal/common/errors"
	v1 "github.com/Scarmonit/a2a/pkg/api/v1"
)

// Agent executes a single capability invocation. Implementations must honor
// ctx cancellation and return either a JSON-shaped result or an error; the
// engine classifies the error to decide retry behavior.
type Agent interface {
	Handle(ctx context.Context, capability string, input interface{}) (interface{}, error)
}

// HandlerFunc adapts a function to the Agent interface.
type HandlerFunc func(ctx context.Context, capability string, input interface{}) (interface{}, error)

func (f HandlerFunc) Handle(ctx context.Context, capability string, input interface{}) (interface{}, error) {
	return f(ctx, capability, input)
}

// Invoker resolves an agent ID to a runnable agent and dispatches a call.
// The engine depends on this interface rather than the registry directly.
type Invoker interface {
	Invoke(ctx context.Context, agentID, capability string, input interface{}) (interface{}, error)
}

// Resolver is the registry surface the invoker needs.
type Resolver interface {
	Descriptor(id string) (*v1.AgentDescriptor, error)
	Runtime(id string) (Agent, error)
}

// RegistryInvoker dispatches invocations through a registry, enforcing that
// the target agent exists, is enabled, and declares the capability.
type RegistryInvoker struct {
	resolver Resolver
}

// NewRegistryInvoker creates an invoker backed by a registry.
func NewRegistryInvoker(resolver Resolver) *RegistryInvoker {
	return &RegistryInvoker{resolver: resolver}
}

func (ri *RegistryInvoker) Invoke(ctx context.Context, agentID, capability string, input interface{}) (interface{}, error) {
	desc, err := ri.resolver.Descriptor(agentID)
	if err != nil {
		return nil, err
	}
	if !desc.Enabled {
		return nil, apperrors.Newf(apperrors.KindInvalid, "agent %q is disabled", agentID)
	}
	if !desc.HasCapability(capability) {
		return nil, apperrors.Newf(apperrors.KindInvalid,
			"agent %q does not provide capability %q", agentID, capability)
	}
	runtime, err := ri.resolver.Runtime(agentID)
	if err != nil {
		return nil, err
	}
	return runtime.Handle(ctx, capability, input)
}
