package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Scarmonit/a2a/internal/agent"
	apperrors "github.com/Scarmonit/a2a/internal/common/errors"
	"github.com/Scarmonit/a2a/internal/common/logger"
	"github.com/Scarmonit/a2a/internal/events"
	"github.com/Scarmonit/a2a/internal/events/bus"
	v1 "github.com/Scarmonit/a2a/pkg/api/v1"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	return log
}

func echoRuntime() agent.Agent {
	return agent.HandlerFunc(func(ctx context.Context, capability string, input interface{}) (interface{}, error) {
		return input, nil
	})
}

func descriptor(id, category string, tags []string, caps ...string) *v1.AgentDescriptor {
	d := &v1.AgentDescriptor{
		ID:       id,
		Name:     "Agent " + id,
		Category: category,
		Tags:     tags,
		Enabled:  true,
	}
	for _, c := range caps {
		d.Capabilities = append(d.Capabilities, v1.Capability{Name: c})
	}
	return d
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := New(nil, newTestLogger(t))

	d := descriptor("scraper-1", "research", []string{"web"}, "scrape")
	require.NoError(t, r.Register(d, echoRuntime()))
	assert.Equal(t, 1, r.Count())

	got, err := r.Get("scraper-1")
	require.NoError(t, err)
	assert.Equal(t, "Agent scraper-1", got.Name)
	assert.False(t, got.RegisteredAt.IsZero())
	assert.Equal(t, got.RegisteredAt, got.UpdatedAt)

	// Reads return copies; mutating them must not leak into the catalog.
	got.Name = "mutated"
	got.Tags[0] = "mutated"
	again, err := r.Get("scraper-1")
	require.NoError(t, err)
	assert.Equal(t, "Agent scraper-1", again.Name)
	assert.Equal(t, "web", again.Tags[0])
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := New(nil, newTestLogger(t))

	assert.Error(t, r.Register(nil, echoRuntime()))
	assert.Error(t, r.Register(&v1.AgentDescriptor{}, echoRuntime()))
	assert.Error(t, r.Register(&v1.AgentDescriptor{ID: "x"}, echoRuntime()))
	assert.Error(t, r.Register(&v1.AgentDescriptor{ID: "x", Name: "X"}, echoRuntime()))
	assert.Error(t, r.Register(descriptor("x", "", nil, "chat"), nil))

	require.NoError(t, r.Register(descriptor("x", "", nil, "chat"), echoRuntime()))
	err := r.Register(descriptor("x", "", nil, "chat"), echoRuntime())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindInvalid, apperrors.KindOf(err))
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistry_UpdatePatchSemantics(t *testing.T) {
	r := New(nil, newTestLogger(t))
	require.NoError(t, r.Register(descriptor("a", "research", []string{"web"}, "scrape"), echoRuntime()))

	newName := "Renamed"
	newCategory := "data"
	updated, err := r.Update("a", &v1.AgentPatch{
		Name:     &newName,
		Category: &newCategory,
		Tags:     []string{"etl"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, "data", updated.Category)
	assert.Equal(t, []string{"etl"}, updated.Tags)
	// Untouched fields survive.
	assert.Len(t, updated.Capabilities, 1)
	assert.True(t, updated.Enabled)

	// Indices follow the patch.
	assert.Empty(t, r.ByTag("web"))
	assert.Len(t, r.ByTag("etl"), 1)
	assert.Empty(t, r.ByCategory("research"))
	assert.Len(t, r.ByCategory("data"), 1)

	_, err = r.Update("ghost", &v1.AgentPatch{})
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestRegistry_SetEnabled(t *testing.T) {
	r := New(nil, newTestLogger(t))
	require.NoError(t, r.Register(descriptor("a", "", nil, "chat"), echoRuntime()))

	require.NoError(t, r.SetEnabled("a", false))
	got, err := r.Get("a")
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	// Disabled agents stay listed unless the filter excludes them.
	assert.Len(t, r.List(v1.AgentFilter{}), 1)
	assert.Empty(t, r.List(v1.AgentFilter{EnabledOnly: true}))

	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(r.SetEnabled("ghost", true)))
}

func TestRegistry_Remove(t *testing.T) {
	r := New(nil, newTestLogger(t))
	require.NoError(t, r.Register(descriptor("a", "research", []string{"web"}, "scrape"), echoRuntime()))

	require.NoError(t, r.Remove("a"))
	assert.Equal(t, 0, r.Count())
	assert.Empty(t, r.ByTag("web"))
	assert.Empty(t, r.ByCategory("research"))

	_, err := r.Get("a")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(r.Remove("a")))
}

func TestRegistry_ListFilters(t *testing.T) {
	r := New(nil, newTestLogger(t))
	require.NoError(t, r.Register(descriptor("scraper", "research", []string{"web"}, "scrape"), echoRuntime()))
	require.NoError(t, r.Register(descriptor("writer", "marketing", []string{"content"}, "generate"), echoRuntime()))
	require.NoError(t, r.Register(descriptor("chatter", "support", []string{"web"}, "chat"), echoRuntime()))
	require.NoError(t, r.SetEnabled("chatter", false))

	all := r.List(v1.AgentFilter{})
	require.Len(t, all, 3)
	// Sorted by ID for stable output.
	assert.Equal(t, "chatter", all[0].ID)
	assert.Equal(t, "scraper", all[1].ID)
	assert.Equal(t, "writer", all[2].ID)

	byTag := r.List(v1.AgentFilter{Tag: "web"})
	require.Len(t, byTag, 2)

	enabledWeb := r.List(v1.AgentFilter{Tag: "web", EnabledOnly: true})
	require.Len(t, enabledWeb, 1)
	assert.Equal(t, "scraper", enabledWeb[0].ID)

	byCategory := r.List(v1.AgentFilter{Category: "marketing"})
	require.Len(t, byCategory, 1)
	assert.Equal(t, "writer", byCategory[0].ID)

	byQuery := r.List(v1.AgentFilter{Query: "writ"})
	require.Len(t, byQuery, 1)
	assert.Equal(t, "writer", byQuery[0].ID)
}

func TestRegistry_QueryMatchesCapabilityNames(t *testing.T) {
	r := New(nil, newTestLogger(t))
	require.NoError(t, r.Register(descriptor("agent-1", "research", nil, "scrape"), echoRuntime()))
	require.NoError(t, r.Register(descriptor("agent-2", "marketing", nil, "generate"), echoRuntime()))

	// Neither ID nor name contains the capability.
	byCap := r.List(v1.AgentFilter{Query: "scrape"})
	require.Len(t, byCap, 1)
	assert.Equal(t, "agent-1", byCap[0].ID)

	// Case-insensitive, substring.
	byCap = r.List(v1.AgentFilter{Query: "GEN"})
	require.Len(t, byCap, 1)
	assert.Equal(t, "agent-2", byCap[0].ID)

	assert.Empty(t, r.List(v1.AgentFilter{Query: "translate"}))
}

func TestRegistry_PublishesConfigUpdated(t *testing.T) {
	log := newTestLogger(t)
	eventBus := bus.NewMemoryEventBus(log)
	defer eventBus.Close()

	var mu sync.Mutex
	var actions []string
	sub, err := eventBus.Subscribe(events.Subject(events.ConfigUpdated, ""), func(ctx context.Context, e *bus.Event) error {
		mu.Lock()
		actions = append(actions, e.Payload["action"].(string))
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()

	r := New(eventBus, log)
	require.NoError(t, r.Register(descriptor("a", "", nil, "chat"), echoRuntime()))
	_, err = r.Update("a", &v1.AgentPatch{Tags: []string{"x"}})
	require.NoError(t, err)
	require.NoError(t, r.SetEnabled("a", false))
	require.NoError(t, r.Remove("a"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(actions) == 4
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"registered", "updated", "disabled", "removed"}, actions)
}

func TestRegistryInvoker_Enforcement(t *testing.T) {
	r := New(nil, newTestLogger(t))
	require.NoError(t, r.Register(descriptor("a", "", nil, "chat"), echoRuntime()))
	invoker := agent.NewRegistryInvoker(r)

	ctx := context.Background()
	out, err := invoker.Invoke(ctx, "a", "chat", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", out)

	_, err = invoker.Invoke(ctx, "ghost", "chat", nil)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

	_, err = invoker.Invoke(ctx, "a", "scrape", nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindInvalid, apperrors.KindOf(err))
	assert.Contains(t, err.Error(), "does not provide")

	require.NoError(t, r.SetEnabled("a", false))
	_, err = invoker.Invoke(ctx, "a", "chat", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
}
