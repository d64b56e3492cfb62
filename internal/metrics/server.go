package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Scarmonit/a2a/internal/common/logger"
)

// Server serves /healthz and /metrics on the metrics port, separate from the
// stream listener.
type Server struct {
	httpServer *http.Server
	logger     *logger.Logger
	draining   func() bool
}

// NewServer builds the health/metrics listener. draining reports whether the
// process has stopped accepting new tasks; /healthz turns 503 while it does.
func NewServer(host string, port int, collector *Collector, draining func() bool, log *logger.Logger) *Server {
	if draining == nil {
		draining = func() bool { return false }
	}
	s := &Server{
		logger:   log.WithFields(zap.String("component", "metrics-server")),
		draining: draining,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.handleHealthz)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		collector.Registry(),
		promhttp.HandlerOpts{},
	)))

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: router,
	}
	return s
}

func (s *Server) handleHealthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if s.draining() {
		status = http.StatusServiceUnavailable
		body["status"] = "draining"
	}
	c.JSON(status, body)
}

// Start begins serving; it returns once the listener stops.
func (s *Server) Start() error {
	s.logger.Info("metrics server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
