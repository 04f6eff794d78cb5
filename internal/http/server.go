// Package http provides the HTTP API for guidanced.
package http

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/guidanced/internal/guidance"
)

// PatternStore is the subset of *guidance.Store the API serves.
type PatternStore interface {
	StorePattern(ctx context.Context, strategy, domain string, metadata map[string]string) (*guidance.StoreResult, error)
	SearchPatterns(ctx context.Context, query string, k int) ([]guidance.Match, error)
	SearchByVector(ctx context.Context, vec []float32, k int) ([]guidance.Match, error)
	Get(ctx context.Context, id string) (*guidance.Pattern, guidance.Tier, error)
	ApplyOutcome(ctx context.Context, id string, success bool) (*guidance.Pattern, guidance.Tier, error)
	GenerateGuidance(ctx context.Context, gc guidance.GuidanceContext) (*guidance.GuidanceResult, error)
	RouteTask(ctx context.Context, task string) (*guidance.RoutingResult, error)
	Consolidate(ctx context.Context) (*guidance.ConsolidationResult, error)
	GetStats(ctx context.Context) (*guidance.Stats, error)
	ExportPatterns(ctx context.Context) (*guidance.Export, error)
}

// Server provides HTTP endpoints for guidanced.
type Server struct {
	echo   *echo.Echo
	store  PatternStore
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// Meter records HTTP metrics. Nil uses the global meter provider.
	Meter metric.Meter
}

// NewServer creates a new HTTP server.
func NewServer(store PatternStore, logger *zap.Logger, cfg *Config) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("pattern store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9191,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(cfg.Meter, logger).MetricsMiddleware())
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
		echo:   e,
		store:  store,
		logger: logger,
		config: cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/patterns", s.handleStorePattern)
	v1.POST("/patterns/search", s.handleSearch)
	v1.GET("/patterns/:id", s.handleGetPattern)
	v1.POST("/patterns/:id/outcome", s.handleOutcome)
	v1.POST("/guidance", s.handleGuidance)
	v1.POST("/route", s.handleRoute)
	v1.POST("/consolidate", s.handleConsolidate)
	v1.GET("/stats", s.handleStats)
	v1.GET("/export", s.handleExport)
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() *echo.Echo {
	return s.echo
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
