// Package api exposes the operational HTTP surface: liveness,
// per-provider health and Prometheus metrics.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/glucosync/glucosync/pkg/connector/core"
)

// StatusSource yields health snapshots for the providers the process
// is running.
type StatusSource interface {
	ProviderStatuses() []core.HealthStatus
}

// Server wraps the HTTP status surface.
type Server struct {
	source StatusSource
	logger *zap.Logger
	srv    *http.Server
}

// NewServer builds the status server on the given listen address.
func NewServer(addr string, source StatusSource, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		source: source,
		logger: logger.With(zap.String("component", "api")),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.handleHealthz)
	router.GET("/providers", s.handleProviders)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// handleHealthz reports process liveness: 200 while at least every
// provider is reachable state-wise, 503 when any provider is unhealthy.
func (s *Server) handleHealthz(c *gin.Context) {
	statuses := s.source.ProviderStatuses()

	healthy := true
	for _, st := range statuses {
		if !st.Healthy {
			healthy = false
			break
		}
	}

	code := http.StatusOK
	status := "ok"
	if !healthy {
		code = http.StatusServiceUnavailable
		status = "degraded"
	}

	c.JSON(code, gin.H{
		"status":    status,
		"providers": len(statuses),
		"time":      time.Now().UTC(),
	})
}

func (s *Server) handleProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"providers": s.source.ProviderStatuses(),
	})
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info("status server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("status server failed", zap.Error(err))
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}
