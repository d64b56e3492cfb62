// Package builtin ships the agents the server registers at startup.
package builtin

import (
	"context"
	"time"

	"github.com/Scarmonit/a2a/internal/agent"
	"github.com/Scarmonit/a2a/internal/agent/registry"
	v1 "github.com/Scarmonit/a2a/pkg/api/v1"
)

// EchoAgentID is the ID of the built-in echo agent.
const EchoAgentID = "builtin-echo"

// EchoDescriptor describes the echo agent: a chat-capable agent that wraps
// its input, useful for smoke tests and stream demos.
func EchoDescriptor() *v1.AgentDescriptor {
	return &v1.AgentDescriptor{
		ID:       EchoAgentID,
		Name:     "Echo",
		Version:  "1.0.0",
		Category: "utility",
		Tags:     []string{"builtin", "test"},
		Capabilities: []v1.Capability{
			{Name: "echo", Kind: v1.KindChat, Description: "returns its input wrapped in an envelope"},
			{Name: "chat", Kind: v1.KindChat, Description: "alias of echo"},
		},
		Enabled: true,
	}
}

// Echo returns the echo agent runtime.
func Echo() agent.Agent {
	return agent.HandlerFunc(func(ctx context.Context, capability string, input interface{}) (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		return map[string]interface{}{"echoed": input}, nil
	})
}

// SleepAgentID is the ID of the built-in sleep agent.
const SleepAgentID = "builtin-sleep"

// SleepDescriptor describes the sleep agent, used to exercise timeouts and
// parallelism limits.
func SleepDescriptor() *v1.AgentDescriptor {
	return &v1.AgentDescriptor{
		ID:       SleepAgentID,
		Name:     "Sleep",
		Version:  "1.0.0",
		Category: "utility",
		Tags:     []string{"builtin", "test"},
		Capabilities: []v1.Capability{
			{Name: "sleep", Kind: v1.KindMonitor, Description: "waits input.ms milliseconds then returns"},
		},
		Enabled: true,
	}
}

// Sleep returns the sleep agent runtime. Input {"ms": N} waits N milliseconds,
// honoring cancellation.
func Sleep() agent.Agent {
	return agent.HandlerFunc(func(ctx context.Context, capability string, input interface{}) (interface{}, error) {
		ms := 0.0
		if m, ok := input.(map[string]interface{}); ok {
			if v, ok := m["ms"].(float64); ok {
				ms = v
			}
		}
		timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
		return map[string]interface{}{"slept_ms": ms}, nil
	})
}

// RegisterAll installs every built-in agent into the registry.
func RegisterAll(r *registry.Registry) error {
	if err := r.Register(EchoDescriptor(), Echo()); err != nil {
		return err
	}
	return r.Register(SleepDescriptor(), Sleep())
}
