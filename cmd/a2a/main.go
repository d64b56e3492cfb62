// Package main is the entry point for the A2A task server.
// The single binary runs the registry, orchestrator, engine, and stream
// gateway together with shared infrastructure.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Scarmonit/a2a/internal/agent"
	"github.com/Scarmonit/a2a/internal/agent/builtin"
	"github.com/Scarmonit/a2a/internal/agent/registry"
	"github.com/Scarmonit/a2a/internal/common/config"
	"github.com/Scarmonit/a2a/internal/common/logger"
	"github.com/Scarmonit/a2a/internal/common/tracing"
	"github.com/Scarmonit/a2a/internal/events"
	"github.com/Scarmonit/a2a/internal/events/bus"
	gws "github.com/Scarmonit/a2a/internal/gateway/websocket"
	"github.com/Scarmonit/a2a/internal/metrics"
	"github.com/Scarmonit/a2a/internal/orchestrator"
	"github.com/Scarmonit/a2a/internal/orchestrator/api"
	"github.com/Scarmonit/a2a/internal/orchestrator/engine"
	"github.com/Scarmonit/a2a/internal/ratelimit"
	v1 "github.com/Scarmonit/a2a/pkg/api/v1"
	"github.com/Scarmonit/a2a/pkg/stream"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting A2A task server...")

	tracing.Init(cfg.Tracing.Enabled, cfg.Tracing.Endpoint)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Event bus (in-memory by default, NATS when configured)
	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		log.Info("Connecting to NATS...", zap.String("url", cfg.NATS.URL))
		natsEventBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		eventBus = natsEventBus
		defer natsEventBus.Close()
	} else {
		log.Info("Using in-memory event bus")
		eventBus = bus.NewMemoryEventBus(log)
	}

	// 4. Metrics collectors
	collector := metrics.NewCollector()

	// 5. Agent registry with built-in agents
	reg := registry.New(eventBus, log)
	if err := builtin.RegisterAll(reg); err != nil {
		log.Fatal("Failed to register built-in agents", zap.Error(err))
	}
	log.Info("Registered built-in agents", zap.Int("count", reg.Count()))

	// 6. Rate limiter; retry waits surface as rate_limited_retry events
	limiter := ratelimit.New(ratelimit.Config{
		MaxPerInterval: cfg.RateLimit.MaxPerInterval,
		Interval:       cfg.RateLimit.Interval(),
		MaxRetries:     cfg.RateLimit.MaxRetries,
		BaseDelay:      cfg.RateLimit.BaseDelay(),
	}, log, func(n ratelimit.RetryNotice) {
		event := bus.NewEvent(events.RateLimitedRetry, n.TaskID, n.StepID, map[string]interface{}{
			"attempt": n.Attempt,
			"waitMs":  n.Wait.Milliseconds(),
		})
		eventBus.Publish(ctx, events.Subject(events.RateLimitedRetry, n.TaskID), event)
	})

	// 7. Execution engine
	eng := engine.New(engine.Config{
		MaxParallelSteps:   cfg.MaxParallelSteps,
		MaxRetries:         cfg.MaxRetries,
		RetryBase:          cfg.RetryBase(),
		DefaultStepTimeout: cfg.StepTimeoutDefault(),
	}, agent.NewRegistryInvoker(reg), limiter, eventBus, log, collector)

	// 8. Orchestrator
	orch := orchestrator.New(orchestrator.Config{
		HistorySize:   cfg.History.Size,
		ApprovalToken: cfg.ApprovalToken,
	}, reg, eng, orchestrator.NewStubPlanner(), eventBus, log, collector)

	// 9. Stream gateway
	dispatcher := stream.NewDispatcher()
	registerStreamOperations(dispatcher, orch, reg)
	hub := gws.NewHub(gws.HubConfig{
		MaxBufferedBytes: int64(cfg.Stream.MaxBufferedBytes),
		BroadcastPeriod:  cfg.Stream.BroadcastPeriod(),
	}, eventBus, dispatcher, collector, log)
	if err := hub.Start(); err != nil {
		log.Fatal("Failed to start stream hub", zap.Error(err))
	}

	// 10. HTTP listeners
	handlers := api.NewHandlers(orch, reg, log)
	streamHandler := gws.NewHandler(hub, cfg.Stream.Token, log)
	apiServer := api.NewServer(cfg.Stream.Host, cfg.Stream.Port, handlers, streamHandler, log)
	metricsServer := metrics.NewServer(cfg.Metrics.Host, cfg.Metrics.Port, collector, orch.Draining, log)

	listeners, listenerCtx := errgroup.WithContext(ctx)
	listeners.Go(apiServer.Start)
	listeners.Go(metricsServer.Start)

	log.Info("A2A task server started",
		zap.String("stream_addr", fmt.Sprintf("%s:%d", cfg.Stream.Host, cfg.Stream.Port)),
		zap.Int("metrics_port", cfg.Metrics.Port),
		zap.Int("max_parallel_steps", cfg.MaxParallelSteps))

	// 11. Wait for shutdown signal or listener failure
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case <-listenerCtx.Done():
		log.Error("Listener failed, shutting down")
	}

	// 12. Ordered shutdown: stop accepting tasks, cancel active work, drain,
	// close the bus with a final shutdown event, stop listeners.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := orch.Shutdown(shutdownCtx); err != nil {
		log.Warn("Drain incomplete", zap.Error(err))
	}
	hub.Shutdown(shutdownCtx)
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("API server shutdown error", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("Metrics server shutdown error", zap.Error(err))
	}
	if err := listeners.Wait(); err != nil {
		log.Warn("Listener error", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Warn("Tracer shutdown error", zap.Error(err))
	}
	log.Info("Shutdown complete")
}

// registerStreamOperations wires the query and command vocabulary of the
// stream channel.
func registerStreamOperations(d *stream.Dispatcher, orch *orchestrator.Orchestrator, reg *registry.Registry) {
	d.RegisterQuery("task", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		id, _ := args["taskId"].(string)
		return orch.Get(id)
	})
	d.RegisterQuery("tasks", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return orch.ListActive(), nil
	})
	d.RegisterQuery("history", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		n := 0
		if f, ok := args["n"].(float64); ok {
			n = int(f)
		}
		return orch.RecentHistory(n), nil
	})
	d.RegisterQuery("agents", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		filter := v1.AgentFilter{}
		if s, ok := args["category"].(string); ok {
			filter.Category = s
		}
		if s, ok := args["tag"].(string); ok {
			filter.Tag = s
		}
		return reg.List(filter), nil
	})
	d.RegisterCommand("submit_task", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		req, err := decodeTaskRequest(args)
		if err != nil {
			return nil, err
		}
		return orch.Submit(ctx, req)
	})
	d.RegisterCommand("cancel_task", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		id, _ := args["taskId"].(string)
		return orch.Cancel(id)
	})
}

// decodeTaskRequest converts loosely-typed command args into a TaskRequest.
func decodeTaskRequest(args map[string]interface{}) (*v1.TaskRequest, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var req v1.TaskRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}
