package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Scarmonit/a2a/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "debug",
		Format:     "console",
		OutputPath: "stdout",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return log
}

func TestNewMemoryEventBus(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	if bus == nil {
		t.Fatal("Expected non-nil bus")
	}
	if !bus.IsConnected() {
		t.Error("Expected bus to be connected")
	}
}

func TestMemoryEventBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	received := make(chan *Event, 1)

	sub, err := bus.Subscribe("a2a.tasks.task_started", func(ctx context.Context, event *Event) error {
		received <- event
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	event := NewEvent("task_started", "t-1", "", map[string]interface{}{"steps": 3})
	if err := bus.Publish(ctx, "a2a.tasks.task_started", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case e := <-received:
		if e.ID != event.ID {
			t.Errorf("Expected event ID %s, got %s", event.ID, e.ID)
		}
		if e.TaskID != "t-1" {
			t.Errorf("Expected task ID t-1, got %s", e.TaskID)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for event")
	}
}

func TestMemoryEventBus_WildcardSubscriptions(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	var all, steps int32

	subAll, err := bus.Subscribe("a2a.>", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&all, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe a2a.> failed: %v", err)
	}
	defer func() { _ = subAll.Unsubscribe() }()

	subSteps, err := bus.Subscribe("a2a.steps.>", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&steps, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe a2a.steps.> failed: %v", err)
	}
	defer func() { _ = subSteps.Unsubscribe() }()

	_ = bus.Publish(ctx, "a2a.tasks.task_started.t-1", NewEvent("task_started", "t-1", "", nil))
	_ = bus.Publish(ctx, "a2a.steps.step_started.t-1", NewEvent("step_started", "t-1", "a", nil))
	_ = bus.Publish(ctx, "a2a.steps.step_succeeded.t-1", NewEvent("step_succeeded", "t-1", "a", nil))

	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&all); got != 3 {
		t.Errorf("Expected a2a.> to see 3 events, got %d", got)
	}
	if got := atomic.LoadInt32(&steps); got != 2 {
		t.Errorf("Expected a2a.steps.> to see 2 events, got %d", got)
	}
}

func TestMemoryEventBus_SingleTokenWildcard(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	var count int32
	sub, err := bus.Subscribe("a2a.*.task_started", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	ctx := context.Background()
	_ = bus.Publish(ctx, "a2a.tasks.task_started", NewEvent("task_started", "t-1", "", nil))
	// Two tokens where * matches one: must not match.
	_ = bus.Publish(ctx, "a2a.x.y.task_started", NewEvent("task_started", "t-2", "", nil))

	time.Sleep(100 * time.Millisecond)
	if got := atomic.LoadInt32(&count); got != 1 {
		t.Errorf("Expected 1 match, got %d", got)
	}
}

func TestMemoryEventBus_PerSubscriberOrdering(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	const n = 200
	var mu sync.Mutex
	var seen []int

	done := make(chan struct{})
	sub, err := bus.Subscribe("a2a.steps.step_progress", func(ctx context.Context, event *Event) error {
		mu.Lock()
		seen = append(seen, event.Payload["i"].(int))
		full := len(seen) == n
		mu.Unlock()
		if full {
			close(done)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	ctx := context.Background()
	for i := 0; i < n; i++ {
		event := NewEvent("step_progress", "t-1", "a", map[string]interface{}{"i": i})
		if err := bus.Publish(ctx, "a2a.steps.step_progress", event); err != nil {
			t.Fatalf("Publish %d failed: %v", i, err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Timeout: delivered %d of %d", len(seen), n)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range seen {
		if v != i {
			t.Fatalf("Delivery out of order at %d: got %d", i, v)
		}
	}
}

func TestMemoryEventBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	var count int32
	sub, err := bus.Subscribe("a2a.system.heartbeat", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if !sub.IsValid() {
		t.Error("Expected subscription to be valid")
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if sub.IsValid() {
		t.Error("Expected subscription to be invalid after unsubscribe")
	}

	_ = bus.Publish(context.Background(), "a2a.system.heartbeat", NewEvent("heartbeat", "", "", nil))
	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&count) != 0 {
		t.Error("Expected no deliveries after unsubscribe")
	}
}

func TestMemoryEventBus_ClosedBusRejectsOperations(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	bus.Close()

	if bus.IsConnected() {
		t.Error("Expected bus to be disconnected after close")
	}
	if err := bus.Publish(context.Background(), "a2a.tasks.x", NewEvent("x", "", "", nil)); err == nil {
		t.Error("Expected publish on closed bus to fail")
	}
	if _, err := bus.Subscribe("a2a.tasks.x", func(context.Context, *Event) error { return nil }); err == nil {
		t.Error("Expected subscribe on closed bus to fail")
	}
}
