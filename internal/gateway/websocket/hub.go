package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/Scarmonit/a2a/internal/common/errors"
	"github.com/Scarmonit/a2a/internal/common/logger"
	"github.com/Scarmonit/a2a/internal/events"
	"github.com/Scarmonit/a2a/internal/events/bus"
	"github.com/Scarmonit/a2a/pkg/stream"
)

// StreamMetrics receives subscriber gauges. Nil-safe.
type StreamMetrics interface {
	StreamClients(delta int)
	StreamBuffered(bytes int64)
}

type nopStreamMetrics struct{}

func (nopStreamMetrics) StreamClients(int)    {}
func (nopStreamMetrics) StreamBuffered(int64) {}

// HubConfig tunes fan-out behavior.
type HubConfig struct {
	MaxBufferedBytes int64         // per-subscriber high-water mark
	BroadcastPeriod  time.Duration // metrics aggregation cadence, min 250ms
	HeartbeatPeriod  time.Duration // heartbeat frame cadence
}

// Hub fans bus events out to stream subscribers with per-subscriber
// backpressure. Events are serialized once per broadcast and the bytes are
// shared across subscribers.
type Hub struct {
	maxBuffered     int64
	broadcastPeriod time.Duration
	heartbeatPeriod time.Duration

	eventBus   bus.EventBus
	sub        bus.Subscription
	dispatcher *stream.Dispatcher
	metrics    StreamMetrics
	logger     *logger.Logger

	mu      sync.RWMutex
	clients map[string]*Client

	broadcastBusy atomic.Bool
	closed        atomic.Bool
	stop          chan struct{}
	stopOnce      sync.Once
}

// NewHub creates a hub.
func NewHub(cfg HubConfig, eventBus bus.EventBus, dispatcher *stream.Dispatcher, m StreamMetrics, log *logger.Logger) *Hub {
	if cfg.MaxBufferedBytes <= 0 {
		cfg.MaxBufferedBytes = 512 * 1024
	}
	if cfg.BroadcastPeriod < 250*time.Millisecond {
		cfg.BroadcastPeriod = 250 * time.Millisecond
	}
	if cfg.HeartbeatPeriod <= 0 {
		cfg.HeartbeatPeriod = 30 * time.Second
	}
	if m == nil {
		m = nopStreamMetrics{}
	}
	if dispatcher == nil {
		dispatcher = stream.NewDispatcher()
	}
	return &Hub{
		maxBuffered:     cfg.MaxBufferedBytes,
		broadcastPeriod: cfg.BroadcastPeriod,
		heartbeatPeriod: cfg.HeartbeatPeriod,
		eventBus:        eventBus,
		dispatcher:      dispatcher,
		metrics:         m,
		logger:          log.WithFields(zap.String("component", "stream-hub")),
		clients:         make(map[string]*Client),
		stop:            make(chan struct{}),
	}
}

// Start subscribes to the bus and launches the heartbeat and metrics loops.
func (h *Hub) Start() error {
	sub, err := h.eventBus.Subscribe(events.WildcardSubject(), func(ctx context.Context, event *bus.Event) error {
		h.Broadcast(event)
		return nil
	})
	if err != nil {
		return err
	}
	h.sub = sub
	go h.heartbeatLoop()
	go h.metricsLoop()
	return nil
}

// Broadcast serializes the event once and queues it on every subscriber of
// its channel.
func (h *Hub) Broadcast(event *bus.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event", zap.Error(err))
		return
	}
	channel := events.ChannelFor(event.Type)
	droppable := events.Droppable(event.Type)

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		if c.subscribedTo(channel) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(data, droppable)
	}
}

// Register attaches a subscriber and sends the init frame.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.StreamClients(1)
	h.logger.Info("client connected",
		zap.String("client_id", c.ID),
		zap.String("request_id", c.RequestID),
		zap.Int("clients", n))

	c.sendFrame(stream.NewControlFrame(stream.TypeInit, &stream.InitData{
		ClientID:   c.ID,
		ServerTime: time.Now().UTC(),
		Channels:   c.Channels(),
	}))
}

// Unregister detaches a subscriber.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c.ID]
	if ok {
		delete(h.clients, c.ID)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.metrics.StreamClients(-1)
		h.logger.Info("client disconnected",
			zap.String("client_id", c.ID),
			zap.Int("clients", n))
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// heartbeatLoop emits heartbeat frames carrying the subscriber's lagged flag.
func (h *Hub) heartbeatLoop() {
	ticker := time.NewTicker(h.heartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.mu.RLock()
			targets := make([]*Client, 0, len(h.clients))
			for _, c := range h.clients {
				targets = append(targets, c)
			}
			h.mu.RUnlock()
			for _, c := range targets {
				frame := stream.NewControlFrame(stream.TypeHeartbeat, &stream.HeartbeatData{
					Lagged: c.Lagging(),
				})
				data, err := json.Marshal(frame)
				if err != nil {
					continue
				}
				c.enqueue(data, true)
			}
		}
	}
}

// metricsLoop aggregates subscriber buffer sizes on the broadcast cadence.
// A tick is skipped while the previous aggregation is still in flight.
func (h *Hub) metricsLoop() {
	ticker := time.NewTicker(h.broadcastPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			if !h.broadcastBusy.CompareAndSwap(false, true) {
				continue
			}
			var total int64
			h.mu.RLock()
			for _, c := range h.clients {
				total += c.Buffered()
			}
			h.mu.RUnlock()
			h.metrics.StreamBuffered(total)
			h.broadcastBusy.Store(false)
		}
	}
}

// handleQuery serves a query frame off the broadcast path.
func (h *Hub) handleQuery(ctx context.Context, c *Client, req *stream.QueryRequest) {
	result, known, err := h.dispatcher.Query(ctx, req.Kind, req.Args)
	c.sendFrame(resultFrame(stream.TypeQueryResult, req.ID, req.Kind, result, known, err))
}

// handleCommand serves a command frame off the broadcast path.
func (h *Hub) handleCommand(ctx context.Context, c *Client, req *stream.CommandRequest) {
	result, known, err := h.dispatcher.Command(ctx, req.Action, req.Args)
	c.sendFrame(resultFrame(stream.TypeCommandResult, req.ID, req.Action, result, known, err))
}

func resultFrame(frameType, id, name string, result interface{}, known bool, err error) *stream.Frame {
	data := &stream.ResultData{ID: id}
	switch {
	case !known:
		data.Error = &stream.ErrorData{
			Kind:          string(apperrors.KindNotFound),
			Message:       "unknown operation " + name,
			CorrelationID: id,
		}
	case err != nil:
		data.Error = &stream.ErrorData{
			Kind:          string(apperrors.KindOf(err)),
			Message:       err.Error(),
			CorrelationID: id,
		}
	default:
		data.Result = result
	}
	return stream.NewControlFrame(frameType, data)
}

// Shutdown sends a final shutdown frame to every subscriber and closes them.
func (h *Hub) Shutdown(ctx context.Context) {
	h.stopOnce.Do(func() { close(h.stop) })
	if h.closed.Swap(true) {
		return
	}
	if h.sub != nil {
		h.sub.Unsubscribe()
	}

	frame := stream.NewControlFrame(stream.TypeShutdown, map[string]interface{}{
		"reason": "shutdown",
	})
	data, _ := json.Marshal(frame)

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.enqueue(data, false)
	}
	// Give write pumps a moment to flush the shutdown frame.
	select {
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
	}
	for _, c := range clients {
		c.Close()
	}
}
