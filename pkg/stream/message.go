// Package stream defines the wire protocol of the progress channel: JSON
// text frames, camelCase fields, and the inbound command vocabulary.
package stream

import (
	"encoding/json"
	"time"
)

// Control frame types, alongside the lifecycle event types carried verbatim
// from the bus.
const (
	TypeInit          = "init"
	TypeSubscribe     = "subscribe"
	TypeUnsubscribe   = "unsubscribe"
	TypeQuery         = "query"
	TypeCommand       = "command"
	TypeQueryResult   = "query_result"
	TypeCommandResult = "command_result"
	TypeError         = "error"
	TypeHeartbeat     = "heartbeat"
	TypeShutdown      = "shutdown"
)

// MaxPayloadBytes bounds a single frame in either direction.
const MaxPayloadBytes = 2 << 20 // 2 MiB

// CompressionThreshold is the frame size above which per-message deflate
// kicks in.
const CompressionThreshold = 1024

// Inbound is a client-to-server frame.
type Inbound struct {
	Type     string          `json:"type"`
	Channels []string        `json:"channels,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// QueryRequest is the data of a query frame.
type QueryRequest struct {
	ID   string                 `json:"id"`
	Kind string                 `json:"kind"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// CommandRequest is the data of a command frame.
type CommandRequest struct {
	ID     string                 `json:"id"`
	Action string                 `json:"action"`
	Args   map[string]interface{} `json:"args,omitempty"`
}

// Frame is a server-to-client frame. Lifecycle events use Type, TaskID,
// StepID and Payload; control frames use Data.
type Frame struct {
	Type      string                 `json:"type"`
	TaskID    string                 `json:"taskId,omitempty"`
	StepID    string                 `json:"stepId,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Data      interface{}            `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewControlFrame builds a control frame carrying data.
func NewControlFrame(frameType string, data interface{}) *Frame {
	return &Frame{
		Type:      frameType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// InitData is the data of the init frame sent on connect.
type InitData struct {
	ClientID   string    `json:"clientId"`
	ServerTime time.Time `json:"serverTime"`
	Channels   []string  `json:"channels"`
}

// ResultData is the data of query_result and command_result frames.
type ResultData struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorData  `json:"error,omitempty"`
}

// ErrorData is the data of error frames and failed results.
type ErrorData struct {
	Kind          string `json:"kind"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// HeartbeatData is the data of heartbeat frames.
type HeartbeatData struct {
	Lagged bool                   `json:"lagged,omitempty"`
	Stats  map[string]interface{} `json:"stats,omitempty"`
}
