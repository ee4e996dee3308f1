// Package server provides the HTTP API for invoiced.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Harsh-End-Dot/invoice-memory-agent/internal/bootstrap"
	"github.com/Harsh-End-Dot/invoice-memory-agent/internal/invoice"
	"github.com/Harsh-End-Dot/invoice-memory-agent/internal/memorybank"
	"github.com/Harsh-End-Dot/invoice-memory-agent/internal/pipeline"
)

// Server exposes the pipeline and memory bank over HTTP.
type Server struct {
	echo    *echo.Echo
	engine  *pipeline.Engine
	store   memorybank.Store
	metrics *prometheus.Registry
	logger  *zap.Logger
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates the HTTP server. The metrics registry may be nil, in
// which case /metrics is not registered.
func NewServer(engine *pipeline.Engine, store memorybank.Store, metrics *prometheus.Registry, logger *zap.Logger, cfg *Config) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:    e,
		engine:  engine,
		store:   store,
		metrics: metrics,
		logger:  logger,
		config:  cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Health check
	s.echo.GET("/health", s.handleHealth)

	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{})))
	}

	// API v1 routes
	v1 := s.echo.Group("/api/v1")
	v1.POST("/process", s.handleProcess)
	v1.GET("/memories/:vendor", s.handleMemories)
	v1.POST("/bootstrap", s.handleBootstrap)
}

// ProcessRequest is the request body for POST /api/v1/process.
type ProcessRequest struct {
	Document      invoice.Document `json:"document"`
	HumanApproved *bool            `json:"humanApproved,omitempty"`
}

// MemoriesResponse is the response body for GET /api/v1/memories/:vendor.
type MemoriesResponse struct {
	Vendor   string              `json:"vendor"`
	Memories []memorybank.Memory `json:"memories"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleProcess runs one document through the pipeline and returns the full
// result, audit trail included.
func (s *Server) handleProcess(c echo.Context) error {
	var req ProcessRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid process request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.Document.DocumentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "document.documentId field is required")
	}
	if req.Document.Vendor == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "document.vendor field is required")
	}

	result, err := s.engine.Process(c.Request().Context(), &req.Document, req.HumanApproved)
	if err != nil {
		if errors.Is(err, memorybank.ErrStoreUnavailable) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "memory store unavailable")
		}
		s.logger.Error("pipeline failed", zap.String("document_id", req.Document.DocumentID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "processing failed")
	}

	return c.JSON(http.StatusOK, result)
}

// handleMemories lists the decayed memories retained for a vendor.
func (s *Server) handleMemories(c echo.Context) error {
	vendor := c.Param("vendor")
	if vendor == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "vendor is required")
	}

	memories, err := s.store.MemoriesForVendor(c.Request().Context(), vendor)
	if err != nil {
		s.logger.Error("memory listing failed", zap.String("vendor", vendor), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "memory listing failed")
	}
	if memories == nil {
		memories = []memorybank.Memory{}
	}

	return c.JSON(http.StatusOK, MemoriesResponse{Vendor: vendor, Memories: memories})
}

// handleBootstrap seeds the memory bank from a correction history document.
func (s *Server) handleBootstrap(c echo.Context) error {
	var h bootstrap.History
	if err := c.Bind(&h); err != nil {
		s.logger.Warn("invalid bootstrap request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(h.Corrections) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "corrections field is required")
	}

	sum, err := bootstrap.Seed(c.Request().Context(), s.store, &h, s.logger)
	if err != nil {
		s.logger.Error("bootstrap failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "bootstrap failed")
	}

	return c.JSON(http.StatusOK, sum)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
