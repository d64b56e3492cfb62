package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Scarmonit/a2a/internal/common/logger"
	"github.com/Scarmonit/a2a/pkg/stream"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer;
	// two missed pings close the connection
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 30 * time.Second

	// How long a non-droppable event may block on a subscriber over the
	// high-water mark before the subscriber is marked lagging
	terminalBlock = 250 * time.Millisecond

	// Outbound frame queue depth per subscriber
	sendQueueLen = 1024
)

type outbound struct {
	data []byte
	size int64
}

// Client is one stream subscriber: a WebSocket connection with a byte-counted
// outbound buffer and a channel subscription set.
type Client struct {
	ID        string
	RequestID string

	conn *websocket.Conn
	hub  *Hub
	send chan outbound
	done chan struct{}

	buffered atomic.Int64
	lagged   atomic.Bool
	missed   atomic.Int64

	mu       sync.RWMutex
	channels map[string]struct{}

	badFrameLogged atomic.Bool
	closeOnce      sync.Once
	logger         *logger.Logger
}

// NewClient wraps an upgraded connection.
func NewClient(id, requestID string, conn *websocket.Conn, hub *Hub, channels []string, log *logger.Logger) *Client {
	set := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		set[ch] = struct{}{}
	}
	return &Client{
		ID:        id,
		RequestID: requestID,
		conn:      conn,
		hub:       hub,
		send:      make(chan outbound, sendQueueLen),
		done:      make(chan struct{}),
		channels:  set,
		logger:    log.WithFields(zap.String("client_id", id)),
	}
}

// Channels returns the current subscription set.
func (c *Client) Channels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		out = append(out, ch)
	}
	return out
}

func (c *Client) subscribedTo(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[channel]
	return ok
}

func (c *Client) updateChannels(add bool, channels []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		if add {
			c.channels[ch] = struct{}{}
		} else {
			delete(c.channels, ch)
		}
	}
}

// Buffered returns the subscriber's outbound buffer size in bytes.
func (c *Client) Buffered() int64 { return c.buffered.Load() }

// Lagging reports whether the subscriber has missed a non-droppable event.
func (c *Client) Lagging() bool { return c.lagged.Load() }

// enqueue queues a serialized frame. Droppable frames are discarded when the
// buffer is over the high-water mark; other frames block briefly, then mark
// the subscriber lagging but are still queued so they arrive once the peer
// drains.
func (c *Client) enqueue(data []byte, droppable bool) bool {
	size := int64(len(data))
	if c.buffered.Load()+size > c.hub.maxBuffered {
		if droppable {
			c.missed.Add(1)
			return false
		}
		deadline := time.Now().Add(terminalBlock)
		for c.buffered.Load()+size > c.hub.maxBuffered && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if c.buffered.Load()+size > c.hub.maxBuffered {
			c.lagged.Store(true)
			c.missed.Add(1)
			c.logger.Warn("subscriber lagging",
				zap.Int64("buffered_bytes", c.buffered.Load()))
		}
	}

	if droppable {
		select {
		case c.send <- outbound{data: data, size: size}:
			c.buffered.Add(size)
			return true
		default:
			c.missed.Add(1)
			return false
		}
	}

	// The queue itself can be full even under the byte HWM; bound that
	// wait the same way instead of blocking until the pong timeout.
	timer := time.NewTimer(terminalBlock)
	defer timer.Stop()
	select {
	case c.send <- outbound{data: data, size: size}:
		c.buffered.Add(size)
		return true
	case <-timer.C:
		c.lagged.Store(true)
		c.missed.Add(1)
		c.logger.Warn("subscriber send queue full, dropping frame")
		return false
	case <-c.done:
		return false
	}
}

// sendFrame serializes and queues a control frame.
func (c *Client) sendFrame(frame *stream.Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.logger.Error("failed to marshal frame", zap.Error(err))
		return
	}
	c.enqueue(data, false)
}

func (c *Client) sendError(kind, message, correlationID string) {
	c.sendFrame(stream.NewControlFrame(stream.TypeError, &stream.ErrorData{
		Kind:          kind,
		Message:       message,
		CorrelationID: correlationID,
	}))
}

// ReadPump consumes inbound frames until the connection drops. Invalid
// frames are dropped and logged once per client.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(stream.MaxPayloadBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Debug("read error", zap.Error(err))
			}
			return
		}

		var in stream.Inbound
		if err := json.Unmarshal(message, &in); err != nil {
			c.logInvalidFrame(err)
			continue
		}
		c.handleInbound(ctx, &in)
	}
}

func (c *Client) logInvalidFrame(err error) {
	if c.badFrameLogged.CompareAndSwap(false, true) {
		c.logger.Warn("dropping invalid frame", zap.Error(err))
	}
}

func (c *Client) handleInbound(ctx context.Context, in *stream.Inbound) {
	switch in.Type {
	case stream.TypeSubscribe:
		c.updateChannels(true, in.Channels)
	case stream.TypeUnsubscribe:
		c.updateChannels(false, in.Channels)
	case stream.TypeQuery:
		var req stream.QueryRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			c.logInvalidFrame(err)
			return
		}
		// Off the broadcast path.
		go c.hub.handleQuery(ctx, c, &req)
	case stream.TypeCommand:
		var req stream.CommandRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			c.logInvalidFrame(err)
			return
		}
		go c.hub.handleCommand(ctx, c, &req)
	default:
		c.logInvalidFrame(nil)
	}
}

// WritePump drains the outbound queue and keeps the connection alive with
// pings. Frames above the compression threshold go out deflated.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case out, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.EnableWriteCompression(len(out.data) >= stream.CompressionThreshold)
			err := c.conn.WriteMessage(websocket.TextMessage, out.data)
			c.buffered.Add(-out.size)
			if err != nil {
				c.logger.Debug("write error", zap.Error(err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Close tears the connection down once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
