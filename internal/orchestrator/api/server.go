// Package api exposes the task and agent control surface over HTTP and
// mounts the stream endpoint on the same listener.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/Scarmonit/a2a/internal/common/errors"
	"github.com/Scarmonit/a2a/internal/common/httpmw"
	"github.com/Scarmonit/a2a/internal/common/logger"
	gws "github.com/Scarmonit/a2a/internal/gateway/websocket"
)

// Server is the main HTTP listener: REST control surface plus /stream.
type Server struct {
	httpServer *http.Server
	logger     *logger.Logger
}

// NewServer wires routes and middleware.
func NewServer(host string, port int, handlers *Handlers, streamHandler *gws.Handler, log *logger.Logger) *Server {
	s := &Server{
		logger: log.WithFields(zap.String("component", "api-server")),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestLogger(log, "api"))
	router.Use(httpmw.OtelTracing("api"))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/tasks", handlers.SubmitTask)
		v1.GET("/tasks", handlers.ListTasks)
		v1.GET("/tasks/:id", handlers.GetTask)
		v1.POST("/tasks/:id/cancel", handlers.CancelTask)

		v1.GET("/agents", handlers.ListAgents)
		v1.GET("/agents/:id", handlers.GetAgent)
		v1.PATCH("/agents/:id", handlers.UpdateAgent)
		v1.POST("/agents/:id/enable", handlers.EnableAgent)
		v1.POST("/agents/:id/disable", handlers.DisableAgent)
		v1.DELETE("/agents/:id", handlers.RemoveAgent)
	}

	router.GET("/stream", streamHandler.Handle)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: router,
	}
	return s
}

// Start begins serving; it returns once the listener stops.
func (s *Server) Start() error {
	s.logger.Info("api server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// statusFor maps error kinds onto HTTP status codes.
func statusFor(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindInvalid:
		return http.StatusBadRequest
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindPermissionDenied:
		return http.StatusForbidden
	case apperrors.KindRateLimited:
		return http.StatusTooManyRequests
	case apperrors.KindTimeout:
		return http.StatusGatewayTimeout
	case apperrors.KindLowConfidence:
		return http.StatusUnprocessableEntity
	case apperrors.KindOverloaded:
		return http.StatusServiceUnavailable
	case apperrors.KindCancelled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders the error taxonomy shape.
func writeError(c *gin.Context, err error) {
	kind := apperrors.KindOf(err)
	c.JSON(statusFor(kind), gin.H{
		"kind":    string(kind),
		"message": err.Error(),
	})
}
