package websocket

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apperrors "github.com/Scarmonit/a2a/internal/common/errors"
	"github.com/Scarmonit/a2a/internal/common/logger"
	"github.com/Scarmonit/a2a/internal/events"
)

// Handler upgrades /stream requests and attaches clients to the hub.
type Handler struct {
	hub      *Hub
	token    string
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewHandler creates the stream endpoint handler. token, when non-empty, is
// the shared secret clients must present.
func NewHandler(hub *Hub, token string, log *logger.Logger) *Handler {
	return &Handler{
		hub:   hub,
		token: token,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    4096,
			WriteBufferSize:   4096,
			EnableCompression: true,
			CheckOrigin:       func(*http.Request) bool { return true },
		},
		logger: log.WithFields(zap.String("component", "stream-handler")),
	}
}

// Handle serves GET /stream.
func (h *Handler) Handle(c *gin.Context) {
	requestID := c.Query("requestId")
	if requestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"kind":    string(apperrors.KindInvalid),
			"message": "requestId is required",
		})
		return
	}
	if h.token != "" && c.Query("token") != h.token {
		c.JSON(http.StatusUnauthorized, gin.H{
			"kind":    string(apperrors.KindPermissionDenied),
			"message": "missing or invalid stream token",
		})
		return
	}

	channels := events.DefaultChannels
	if raw := c.Query("channels"); raw != "" {
		channels = channels[:0:0]
		for _, ch := range strings.Split(raw, ",") {
			if ch = strings.TrimSpace(ch); ch != "" {
				channels = append(channels, ch)
			}
		}
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), requestID, conn, h.hub, channels, h.logger)
	h.hub.Register(client)

	go client.WritePump()
	// The request context dies when this handler returns; the pump owns the
	// hijacked connection from here.
	go client.ReadPump(context.Background())
}
