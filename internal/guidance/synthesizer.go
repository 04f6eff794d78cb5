package guidance

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	maxRecommendations = 5
	summaryMatches     = 3
)

// Domain is one entry of the classification taxonomy.
type Domain struct {
	Name      string
	Pattern   *regexp.Regexp
	Templates []string
}

// Domains is the ordered taxonomy used by DetectDomains.
var Domains = []Domain{
	{
		Name:    "security",
		Pattern: regexp.MustCompile(`(?i)auth|security|password|token|jwt|encrypt|vulnerab|cve|secret|permission`),
		Templates: []string{
			"Validate and sanitize all external input before use",
			"Never log or hard-code secrets, tokens or credentials",
			"Check authorization on every protected operation",
		},
	},
	{
		Name:    "testing",
		Pattern: regexp.MustCompile(`(?i)test|spec|mock|coverage|assert|tdd|jest|vitest`),
		Templates: []string{
			"Write a failing test that reproduces the behavior first",
			"Cover error paths and edge cases as well as the happy path",
			"Keep tests deterministic by injecting clocks and I/O",
		},
	},
	{
		Name:    "performance",
		Pattern: regexp.MustCompile(`(?i)perf|optimi[sz]|slow|fast|cache|memory|latency|benchmark`),
		Templates: []string{
			"Profile or benchmark before optimizing",
			"Bound every cache and define its invalidation",
			"Keep allocations and I/O out of hot loops",
		},
	},
	{
		Name:    "architecture",
		Pattern: regexp.MustCompile(`(?i)architect|design|pattern|structure|refactor|module|interface`),
		Templates: []string{
			"Depend on small interfaces at package boundaries",
			"Keep modules cohesive with dependencies pointing inward",
			"Refactor in small steps with tests green between each",
		},
	},
	{
		Name:    "debugging",
		Pattern: regexp.MustCompile(`(?i)fix|bug|error|issue|debug|crash|fail|broken`),
		Templates: []string{
			"Reproduce the failure reliably before changing code",
			"Read the full error and stack trace, then check recent changes",
			"Add a regression test once the root cause is fixed",
		},
	},
}

// DetectDomains returns every taxonomy domain text matches, in taxonomy
// order.
func DetectDomains(text string) []string {
	var out []string
	for _, d := range Domains {
		if d.Pattern.MatchString(text) {
			out = append(out, d.Name)
		}
	}
	return out
}

// Task describes the work a guidance request is about.
type Task struct {
	Description string `json:"description"`
}

// GuidanceContext is the input to GenerateGuidance.
type GuidanceContext struct {
	FilePath    string `json:"file_path,omitempty"`
	Command     string `json:"command,omitempty"`
	Task        Task   `json:"task"`
	RoutingTask string `json:"routing_task,omitempty"`
}

// Query joins the non-empty fields in a fixed order.
func (gc GuidanceContext) Query() string {
	parts := make([]string, 0, 4)
	for _, f := range []string{gc.FilePath, gc.Command, gc.Task.Description, gc.RoutingTask} {
		if f = strings.TrimSpace(f); f != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, " ")
}

// GuidanceResult is a read-time projection; it is never persisted.
type GuidanceResult struct {
	Patterns        []Match         `json:"patterns"`
	Domains         []string        `json:"domains"`
	ContextSummary  string          `json:"context_summary"`
	Recommendations []string        `json:"recommendations"`
	AgentSuggestion AgentSuggestion `json:"agent_suggestion"`
	SearchTime      time.Duration   `json:"search_time"`
}

// GenerateGuidance merges patterns similar to gc with the templates of every
// detected domain.
func (s *Store) GenerateGuidance(ctx context.Context, gc GuidanceContext) (*GuidanceResult, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	ctx, span := s.tracer.Start(ctx, "Store.GenerateGuidance")
	defer span.End()

	query := gc.Query()
	res := &GuidanceResult{Patterns: []Match{}}

	if query != "" {
		start := time.Now()
		matches, err := s.SearchPatterns(ctx, query, s.cfg.SearchK)
		res.SearchTime = time.Since(start)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		res.Patterns = matches
	}

	res.Domains = DetectDomains(query)
	res.Recommendations = recommendations(res.Domains)
	res.ContextSummary = summarize(res.Domains, res.Patterns)
	res.AgentSuggestion = SuggestAgent(query)

	s.counters.guidanceRequests.Add(1)
	s.metrics.GuidanceRequests.Inc()
	span.SetAttributes(
		attribute.StringSlice("guidance.domains", res.Domains),
		attribute.Int("guidance.patterns", len(res.Patterns)),
		attribute.String("guidance.agent", res.AgentSuggestion.Agent),
	)
	return res, nil
}

func recommendations(domains []string) []string {
	recs := []string{}
	for _, name := range domains {
		for _, d := range Domains {
			if d.Name != name {
				continue
			}
			for _, t := range d.Templates {
				if len(recs) == maxRecommendations {
					return recs
				}
				recs = append(recs, t)
			}
		}
	}
	return recs
}

func summarize(domains []string, matches []Match) string {
	var lines []string
	if len(domains) > 0 {
		lines = append(lines, "Detected domains: "+strings.Join(domains, ", "))
	}
	if len(matches) > 0 {
		lines = append(lines, "Relevant patterns:")
		for i, m := range matches {
			if i == summaryMatches {
				break
			}
			lines = append(lines, fmt.Sprintf("- %s (%.0f%% match)", m.Pattern.Strategy, m.Similarity*100))
		}
	}
	if len(lines) == 0 {
		return "No relevant patterns or domains detected"
	}
	return strings.Join(lines, "\n")
}
