package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/guidanced/internal/guidance"
	"github.com/fyrsmithlabs/guidanced/internal/persistence"
)

func TestNewServer(t *testing.T) {
	t.Run("creates server with valid config", func(t *testing.T) {
		cfg := &Config{
			Host: "localhost",
			Port: 9300,
		}

		server, err := NewServer(newTestStore(t), zap.NewNop(), cfg)
		require.NoError(t, err)
		assert.NotNil(t, server.echo)
		assert.Equal(t, cfg, server.config)
	})

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(newTestStore(t), zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 9191, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(newTestStore(t), nil, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when store is nil", func(t *testing.T) {
		_, err := NewServer(nil, zap.NewNop(), nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "pattern store cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	server := setupTestServer(t)

	rec := doJSON(t, server, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleHealth_Degraded(t *testing.T) {
	delegate := persistence.NewMemory()
	delegate.SetDown(true)
	store, err := guidance.NewStore(guidance.Config{}, nil, delegate)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	server, err := NewServer(store, zap.NewNop(), nil)
	require.NoError(t, err)

	rec := doJSON(t, server, http.MethodGet, "/health", nil)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
}

func TestHandleStorePattern(t *testing.T) {
	t.Run("creates then updates", func(t *testing.T) {
		server := setupTestServer(t)
		body := StorePatternRequest{Strategy: "validate JWT token signature", Domain: "security"}

		rec := doJSON(t, server, http.MethodPost, "/api/v1/patterns", body)
		require.Equal(t, http.StatusCreated, rec.Code)
		var created guidance.StoreResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
		assert.Equal(t, guidance.ActionCreated, created.Action)

		rec = doJSON(t, server, http.MethodPost, "/api/v1/patterns", body)
		require.Equal(t, http.StatusOK, rec.Code)
		var updated guidance.StoreResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
		assert.Equal(t, guidance.ActionUpdated, updated.Action)
		assert.Equal(t, created.ID, updated.ID)
	})

	t.Run("rejects empty strategy", func(t *testing.T) {
		server := setupTestServer(t)
		rec := doJSON(t, server, http.MethodPost, "/api/v1/patterns", StorePatternRequest{Strategy: "  "})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		server := setupTestServer(t)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/patterns", bytes.NewBufferString("{not json"))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		server.echo.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleSearch(t *testing.T) {
	server := setupTestServer(t)
	for _, s := range []string{"use table-driven tests", "profile before optimizing", "keep interfaces small"} {
		rec := doJSON(t, server, http.MethodPost, "/api/v1/patterns", StorePatternRequest{Strategy: s})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, server, http.MethodPost, "/api/v1/patterns/search", SearchRequest{Query: "use table-driven tests", K: 2})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Matches, 2)
	assert.Equal(t, "use table-driven tests", resp.Matches[0].Pattern.Strategy)

	rec = doJSON(t, server, http.MethodPost, "/api/v1/patterns/search", SearchRequest{Vector: []float32{1, 2, 3}})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "dimension mismatch")

	rec = doJSON(t, server, http.MethodPost, "/api/v1/patterns/search", SearchRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetPatternAndOutcome(t *testing.T) {
	server := setupTestServer(t)

	rec := doJSON(t, server, http.MethodPost, "/api/v1/patterns", StorePatternRequest{Strategy: "close response bodies"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created guidance.StoreResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, server, http.MethodGet, "/api/v1/patterns/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	success := true
	rec = doJSON(t, server, http.MethodPost, "/api/v1/patterns/"+created.ID+"/outcome", OutcomeRequest{Success: &success})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp PatternResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Pattern.UsageCount)
	assert.Equal(t, 1, resp.Pattern.SuccessCount)
	assert.Equal(t, guidance.TierShortTerm, resp.Tier)

	// Third use with two successes promotes; the reply carries the new tier.
	rec = doJSON(t, server, http.MethodPost, "/api/v1/patterns/"+created.ID+"/outcome", OutcomeRequest{Success: &success})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Pattern.UsageCount)
	assert.Equal(t, guidance.TierLongTerm, resp.Tier)

	rec = doJSON(t, server, http.MethodGet, "/api/v1/patterns/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, server, http.MethodPost, "/api/v1/patterns/missing/outcome", OutcomeRequest{Success: &success})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, server, http.MethodPost, "/api/v1/patterns/"+created.ID+"/outcome", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGuidanceAndRoute(t *testing.T) {
	server := setupTestServer(t)

	rec := doJSON(t, server, http.MethodPost, "/api/v1/guidance", guidance.GuidanceContext{
		Task: guidance.Task{Description: "fix bug in login"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var g guidance.GuidanceResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &g))
	assert.Equal(t, []string{"debugging"}, g.Domains)
	assert.NotEmpty(t, g.Recommendations)

	rec = doJSON(t, server, http.MethodPost, "/api/v1/route", RouteRequest{Task: "write unit tests"})
	require.Equal(t, http.StatusOK, rec.Code)
	var r guidance.RoutingResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
	assert.Equal(t, "test-architect", r.Suggestion.Agent)

	rec = doJSON(t, server, http.MethodPost, "/api/v1/route", RouteRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleConsolidateStatsExport(t *testing.T) {
	server := setupTestServer(t)
	rec := doJSON(t, server, http.MethodPost, "/api/v1/patterns", StorePatternRequest{Strategy: "one"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, server, http.MethodPost, "/api/v1/consolidate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cr guidance.ConsolidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cr))
	assert.Zero(t, cr.DuplicatesRemoved)

	rec = doJSON(t, server, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st guidance.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 1, st.ShortTermCount)

	rec = doJSON(t, server, http.MethodGet, "/api/v1/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var exp guidance.Export
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exp))
	assert.Len(t, exp.ShortTerm, 1)
}

func TestHandleMetrics(t *testing.T) {
	server := setupTestServer(t)
	doJSON(t, server, http.MethodPost, "/api/v1/patterns", StorePatternRequest{Strategy: "count me"})

	rec := doJSON(t, server, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "guidanced_store_patterns_stored_total")
}

func TestClosedStoreReturnsUnavailable(t *testing.T) {
	store := newTestStore(t)
	server, err := NewServer(store, zap.NewNop(), nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	rec := doJSON(t, server, http.MethodGet, "/api/v1/stats", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestToHTTPError_Internal(t *testing.T) {
	server := setupTestServer(t)
	c := server.echo.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	err := server.toHTTPError(c, errors.New("boom"))
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusInternalServerError, he.Code)
}

func TestServerLifecycle(t *testing.T) {
	t.Run("starts and shuts down gracefully", func(t *testing.T) {
		cfg := &Config{
			Host: "localhost",
			Port: 0, // Use random available port
		}

		server, err := NewServer(newTestStore(t), zap.NewNop(), cfg)
		require.NoError(t, err)

		errChan := make(chan error, 1)
		go func() {
			errChan <- server.Start()
		}()

		time.Sleep(100 * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err = server.Shutdown(ctx)
		assert.NoError(t, err)

		select {
		case err := <-errChan:
			assert.True(t, err == nil || err == http.ErrServerClosed)
		case <-time.After(6 * time.Second):
			t.Fatal("server did not shut down in time")
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("adds request ID to response", func(t *testing.T) {
		server := setupTestServer(t)
		rec := doJSON(t, server, http.MethodGet, "/health", nil)
		assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	})

	t.Run("recovers from panic", func(t *testing.T) {
		server := setupTestServer(t)
		server.echo.GET("/panic", func(c echo.Context) error {
			panic("test panic")
		})

		req := httptest.NewRequest(http.MethodGet, "/panic", nil)
		rec := httptest.NewRecorder()

		assert.NotPanics(t, func() {
			server.echo.ServeHTTP(rec, req)
		})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

// newTestStore creates an in-memory store with the hash embedder.
func newTestStore(t *testing.T) *guidance.Store {
	t.Helper()
	store, err := guidance.NewStore(guidance.Config{}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// setupTestServer creates a test server with default configuration.
func setupTestServer(t *testing.T) *Server {
	t.Helper()
	server, err := NewServer(newTestStore(t), zap.NewNop(), nil)
	require.NoError(t, err)
	return server
}

// doJSON sends body as JSON and returns the recorded response.
func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}
