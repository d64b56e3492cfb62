// Package client talks to a running a2a server over its REST surface and
// the /stream websocket channel.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apperrors "github.com/Scarmonit/a2a/internal/common/errors"
	"github.com/Scarmonit/a2a/internal/common/logger"
	"github.com/Scarmonit/a2a/internal/events"
	v1 "github.com/Scarmonit/a2a/pkg/api/v1"
	"github.com/Scarmonit/a2a/pkg/stream"
)

// Client communicates with the a2a server via HTTP and websocket.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a client for the server at baseURL (e.g. http://localhost:8080).
func NewClient(baseURL, token string, log *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: log.WithFields(zap.String("component", "a2a-client")),
	}
}

// SubmitTask submits a task for execution.
func (c *Client) SubmitTask(ctx context.Context, req *v1.TaskRequest) (*v1.SubmitResponse, error) {
	var resp v1.SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTask fetches a task by ID, active or historical.
func (c *Client) GetTask(ctx context.Context, id string) (*v1.TaskExecution, error) {
	var exec v1.TaskExecution
	if err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(id), nil, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

// CancelTask requests cancellation of an active task.
func (c *Client) CancelTask(ctx context.Context, id string) (*v1.CancelResponse, error) {
	var resp v1.CancelResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks/"+url.PathEscape(id)+"/cancel", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListTasks lists active tasks, or recent terminal ones when history is set.
func (c *Client) ListTasks(ctx context.Context, history bool, n int) ([]*v1.TaskExecution, error) {
	path := "/api/v1/tasks"
	if history {
		path += "?scope=history&n=" + strconv.Itoa(n)
	}
	var resp struct {
		Tasks []*v1.TaskExecution `json:"tasks"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// ListAgents lists registered agents matching the filter.
func (c *Client) ListAgents(ctx context.Context, filter v1.AgentFilter) ([]*v1.AgentDescriptor, error) {
	q := url.Values{}
	if filter.Category != "" {
		q.Set("category", filter.Category)
	}
	if filter.Tag != "" {
		q.Set("tag", filter.Tag)
	}
	if filter.Query != "" {
		q.Set("q", filter.Query)
	}
	if filter.EnabledOnly {
		q.Set("enabled", "true")
	}
	path := "/api/v1/agents"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp struct {
		Agents []*v1.AgentDescriptor `json:"agents"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Agents, nil
}

// FrameFunc receives each lifecycle frame observed while watching.
type FrameFunc func(frame *stream.Frame)

// Watch subscribes to the stream channel and blocks until the task with
// taskID reaches a terminal state, the server shuts down, or ctx is done.
// It returns the error kind of the terminal outcome: "" for completed,
// Fatal (or the aborting step's kind) for failed, Cancelled for cancelled.
func (c *Client) Watch(ctx context.Context, taskID string, channels []string, onFrame FrameFunc) (apperrors.Kind, error) {
	if len(channels) == 0 {
		channels = events.DefaultChannels
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindInvalid, "invalid server url", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/stream"
	q := u.Query()
	q.Set("requestId", uuid.New().String())
	q.Set("channels", strings.Join(channels, ","))
	if c.token != "" {
		q.Set("token", c.token)
	}
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			if apiErr := parseAPIError(body); apiErr != nil {
				return "", apiErr
			}
		}
		return "", apperrors.Wrap(apperrors.KindTransient, "stream dial failed", err)
	}
	defer conn.Close()
	conn.SetReadLimit(stream.MaxPayloadBytes)

	// Unblock ReadJSON when the caller gives up.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var frame stream.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return "", apperrors.Wrap(apperrors.KindCancelled, "watch interrupted", ctx.Err())
			}
			return "", apperrors.Wrap(apperrors.KindTransient, "stream closed", err)
		}
		if taskID != "" && frame.TaskID != "" && frame.TaskID != taskID {
			continue
		}
		if onFrame != nil {
			onFrame(&frame)
		}

		switch frame.Type {
		case events.TaskCompleted:
			return "", nil
		case events.TaskCancelled:
			return apperrors.KindCancelled, nil
		case events.TaskFailed:
			kind := apperrors.KindFatal
			if s, ok := frame.Payload["kind"].(string); ok && s != "" {
				kind = apperrors.Kind(s)
			}
			return kind, nil
		case stream.TypeShutdown:
			return "", apperrors.New(apperrors.KindTransient, "server shut down before the task finished")
		}
	}
}

// do issues one HTTP request and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(apperrors.KindInvalid, "failed to encode request", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInvalid, "failed to build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.KindOf(err), "request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.Wrap(apperrors.KindTransient, "failed to read response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if apiErr := parseAPIError(respBody); apiErr != nil {
			return apiErr
		}
		return apperrors.Newf(apperrors.KindTransient, "request failed with status %d: %s", resp.StatusCode, truncate(respBody))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return apperrors.Wrap(apperrors.KindTransient,
			fmt.Sprintf("failed to parse response (status %d, body: %s)", resp.StatusCode, truncate(respBody)), err)
	}
	return nil
}

// parseAPIError decodes the server's {kind, message} error shape. It returns
// nil when the body does not carry one.
func parseAPIError(body []byte) *apperrors.Error {
	var payload struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Kind == "" {
		return nil
	}
	return apperrors.New(apperrors.Kind(payload.Kind), payload.Message)
}

func truncate(body []byte) string {
	const max = 512
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max]) + "...(truncated)"
}
