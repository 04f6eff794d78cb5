package http

import "github.com/fyrsmithlabs/guidanced/internal/guidance"

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string `json:"status"` // "ok", "degraded" or "unavailable"
	Patterns int    `json:"patterns"`
}

// StorePatternRequest is the request body for POST /api/v1/patterns.
type StorePatternRequest struct {
	Strategy string            `json:"strategy"`
	Domain   string            `json:"domain"`
	Metadata map[string]string `json:"metadata"`
}

// SearchRequest is the request body for POST /api/v1/patterns/search.
// Vector takes precedence over Query.
type SearchRequest struct {
	Query  string    `json:"query"`
	Vector []float32 `json:"vector"`
	K      int       `json:"k"`
}

// SearchResponse is the response body for POST /api/v1/patterns/search.
type SearchResponse struct {
	Matches []guidance.Match `json:"matches"`
}

// PatternResponse carries one pattern and its tier.
type PatternResponse struct {
	Pattern *guidance.Pattern `json:"pattern"`
	Tier    guidance.Tier     `json:"tier"`
}

// OutcomeRequest is the request body for POST /api/v1/patterns/:id/outcome.
type OutcomeRequest struct {
	Success *bool `json:"success"`
}

// RouteRequest is the request body for POST /api/v1/route.
type RouteRequest struct {
	Task string `json:"task"`
}
