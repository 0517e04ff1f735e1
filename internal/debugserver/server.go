// Package debugserver exposes the pool's operational surface over
// HTTP: liveness, readiness, pool statistics, breaker states and
// Prometheus metrics.
package debugserver

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stackmesh/browserpool/pkg/config"
	"github.com/stackmesh/browserpool/pkg/health"
	"github.com/stackmesh/browserpool/pkg/logging"
	"github.com/stackmesh/browserpool/pkg/metrics"
	"github.com/stackmesh/browserpool/pkg/pool"
	"github.com/stackmesh/browserpool/pkg/resilience"
)

// Deps are the collaborators the debug server reads from.
type Deps struct {
	Pool     *pool.ConnectionPool
	Breakers *resilience.BreakerRegistry
	Health   *health.Service
	Metrics  *metrics.Metrics
}

// Server is the debug HTTP server.
type Server struct {
	cfg    config.ServerConfig
	deps   Deps
	logger *logging.Logger
	http   *http.Server
}

// New builds the debug server and its routes.
func New(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logging.GetLogger(),
	}

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.buildRouter(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if s.deps.Metrics != nil {
		router.Use(s.deps.Metrics.PrometheusMiddleware())
	}

	if s.deps.Health != nil {
		router.GET("/healthz", s.deps.Health.LivenessHandler())
		router.GET("/readyz", s.deps.Health.ReadinessHandler())
		router.GET("/health", s.deps.Health.Handler())
	}

	router.GET("/stats", s.handleStats)
	router.GET("/resource", s.handleResource)
	router.GET("/breakers", s.handleBreakers)

	if s.deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	return router
}

func (s *Server) handleStats(c *gin.Context) {
	if s.deps.Pool == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pool not configured"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Pool.GetStats())
}

func (s *Server) handleResource(c *gin.Context) {
	if s.deps.Pool == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pool not configured"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Pool.GetMetrics())
}

func (s *Server) handleBreakers(c *gin.Context) {
	if s.deps.Breakers == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.deps.Breakers.Stats())
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.http.Addr
}

// Router returns the handler, for tests.
func (s *Server) Router() http.Handler {
	return s.http.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Debug server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
