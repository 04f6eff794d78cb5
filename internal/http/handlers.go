package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/guidanced/internal/guidance"
)

// toHTTPError maps store errors onto status codes.
func (s *Server) toHTTPError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, guidance.ErrEmptyStrategy), errors.Is(err, guidance.ErrDimensionMismatch):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, guidance.ErrPatternNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, guidance.ErrClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	s.logger.Error("request failed",
		zap.String("path", c.Path()),
		zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

func (s *Server) handleHealth(c echo.Context) error {
	stats, err := s.store.GetStats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
	}
	resp := HealthResponse{Status: "ok", Patterns: stats.TotalPatterns}
	if stats.Degraded {
		resp.Status = "degraded"
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStorePattern(c echo.Context) error {
	var req StorePatternRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid store request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Strategy) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "strategy field is required")
	}

	res, err := s.store.StorePattern(c.Request().Context(), req.Strategy, req.Domain, req.Metadata)
	if err != nil {
		return s.toHTTPError(c, err)
	}

	status := http.StatusOK
	if res.Action == guidance.ActionCreated {
		status = http.StatusCreated
	}
	return c.JSON(status, res)
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	var (
		matches []guidance.Match
		err     error
	)
	switch {
	case len(req.Vector) > 0:
		matches, err = s.store.SearchByVector(ctx, req.Vector, req.K)
	case strings.TrimSpace(req.Query) != "":
		matches, err = s.store.SearchPatterns(ctx, req.Query, req.K)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "query or vector is required")
	}
	if err != nil {
		return s.toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, SearchResponse{Matches: matches})
}

func (s *Server) handleGetPattern(c echo.Context) error {
	p, tier, err := s.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, PatternResponse{Pattern: p, Tier: tier})
}

func (s *Server) handleOutcome(c echo.Context) error {
	var req OutcomeRequest
	if err := c.Bind(&req); err != nil || req.Success == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "success field is required")
	}

	p, tier, err := s.store.ApplyOutcome(c.Request().Context(), c.Param("id"), *req.Success)
	if err != nil {
		return s.toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, PatternResponse{Pattern: p, Tier: tier})
}

func (s *Server) handleGuidance(c echo.Context) error {
	var req guidance.GuidanceContext
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := s.store.GenerateGuidance(c.Request().Context(), req)
	if err != nil {
		return s.toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleRoute(c echo.Context) error {
	var req RouteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Task) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task field is required")
	}
	res, err := s.store.RouteTask(c.Request().Context(), req.Task)
	if err != nil {
		return s.toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleConsolidate(c echo.Context) error {
	res, err := s.store.Consolidate(c.Request().Context())
	if err != nil {
		return s.toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.store.GetStats(c.Request().Context())
	if err != nil {
		return s.toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleExport(c echo.Context) error {
	exp, err := s.store.ExportPatterns(c.Request().Context())
	if err != nil {
		return s.toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, exp)
}
