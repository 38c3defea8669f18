// Package api serves health, metrics and the flow trigger endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	config "drapo/configs"
	"drapo/pkg/api/middleware"
	"drapo/pkg/auth"
	"drapo/pkg/coordination"
	"drapo/pkg/models"
)

// FlowScheduler is the part of the scheduler the API drives.
// *scheduler.Core satisfies it.
type FlowScheduler interface {
	Enqueue(ctx context.Context, name string, source models.TriggerSource) (*models.Trigger, error)
	Next(name string) (time.Time, bool)
}

// Server encapsulates the HTTP API server and its dependencies.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	log        *zap.Logger

	flows     *config.FlowSet
	scheduler FlowScheduler
	election  coordination.Election
	started   time.Time
}

// Config holds API server configuration.
type Config struct {
	Addr         string
	Flows        *config.FlowSet
	Scheduler    FlowScheduler
	Election     coordination.Election // optional, reported by /health
	Auth         middleware.AuthConfig
	MaxBodyBytes int64
	TracerName   string
	Log          *zap.Logger
}

// NewServer creates a new API server with all dependencies.
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("api")

	router := gin.New()

	// Middleware stack (order matters)
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	if cfg.TracerName != "" {
		router.Use(middleware.TracingMiddleware(cfg.TracerName))
	}
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.BodySizeLimitMiddleware(cfg.MaxBodyBytes))

	s := &Server{
		router:    router,
		log:       log,
		flows:     cfg.Flows,
		scheduler: cfg.Scheduler,
		election:  cfg.Election,
		started:   time.Now(),
	}
	s.registerRoutes(cfg.Auth)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.log.Info("starting server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes(authCfg middleware.AuthConfig) {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	v1.Use(middleware.AuthMiddleware(authCfg), middleware.RequireRole(auth.RoleViewer))
	{
		v1.GET("/jobs", s.listJobs)
		v1.GET("/jobs/:name", s.getJob)

		flows := v1.Group("/flows")
		{
			flows.GET("", s.listFlows)
			flows.GET("/:name", s.getFlow)
			flows.POST("/:name/trigger", middleware.RequireRole(auth.RoleOperator), s.triggerFlow)
		}

		v1.GET("/cluster/leader", s.getLeader)
	}
}

// healthCheck reports liveness plus host pressure. Host metrics that
// cannot be read are omitted rather than failing the check.
func (s *Server) healthCheck(c *gin.Context) {
	body := gin.H{
		"status":    "healthy",
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"flows":     len(s.flows.Flows),
		"jobs":      len(s.flows.Jobs),
		"timestamp": time.Now().UTC(),
	}

	ctx := c.Request.Context()
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		body["memory_used_percent"] = vm.UsedPercent
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		body["load1"] = avg.Load1
	}
	if s.election != nil {
		if leader, err := s.election.Leader(ctx); err == nil {
			body["leader"] = leader
		}
	}
	c.JSON(http.StatusOK, body)
}
