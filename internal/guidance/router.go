package guidance

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// DefaultAgent handles tasks no rule matches.
	DefaultAgent = "coder"

	// AgentMetadataKey is the pattern metadata key naming the agent that
	// applied the pattern.
	AgentMetadataKey = "agent"

	defaultConfidence    = 70
	ruleBaseConfidence   = 85
	ruleMaxBonus         = 13
	alternativeMatched   = 85
	alternativeBaseline  = 60
	maxAlternativeAgents = 3
	confidencePerKeyword = 5
)

// AgentRule maps task keywords to an agent. Lower Priority wins ties.
type AgentRule struct {
	Agent    string
	Pattern  *regexp.Regexp
	Priority int
}

// AgentRules is evaluated in Priority order.
var AgentRules = []AgentRule{
	{"security-architect", regexp.MustCompile(`(?i)security|auth|jwt|token|vulnerab|cve|encrypt|password|xss|injection|csrf`), 1},
	{"test-architect", regexp.MustCompile(`(?i)test|spec|coverage|tdd|mock|assert|e2e|unit`), 2},
	{"performance-engineer", regexp.MustCompile(`(?i)perf|optimi[sz]|speed|latency|memory leak|benchmark|slow|fast|cache`), 3},
	{"core-architect", regexp.MustCompile(`(?i)architect|design|refactor|structure|pattern|module|interface|ddd`), 4},
	{"swarm-specialist", regexp.MustCompile(`(?i)swarm|agent|coordinat|orchestrat|consensus|mesh|hive`), 5},
	{"memory-specialist", regexp.MustCompile(`(?i)memory|embedding|vector|hnsw|agentdb|store|persist`), 6},
	{"reviewer", regexp.MustCompile(`(?i)review|audit|check|lint|quality|pr\b`), 7},
}

// AgentSuggestion names the agent recommended for a task.
type AgentSuggestion struct {
	Agent      string `json:"agent"`
	Confidence int    `json:"confidence"`
	Reasoning  string `json:"reasoning"`
}

// SuggestAgent classifies task text against AgentRules. Each rule scores
// 85 plus 5 per keyword hit, capped at 98; a later rule replaces the best
// only with a strictly higher score.
func SuggestAgent(task string) AgentSuggestion {
	best := AgentSuggestion{
		Agent:      DefaultAgent,
		Confidence: defaultConfidence,
		Reasoning:  "No specialized keywords matched; defaulting to general coder",
	}
	for _, r := range orderedRules() {
		n := len(r.Pattern.FindAllStringIndex(task, -1))
		if n == 0 {
			continue
		}
		conf := ruleBaseConfidence + min(n*confidencePerKeyword, ruleMaxBonus)
		if conf > best.Confidence {
			best = AgentSuggestion{
				Agent:      r.Agent,
				Confidence: conf,
				Reasoning:  fmt.Sprintf("Matched %d %s keyword(s)", n, r.Agent),
			}
		}
	}
	return best
}

func orderedRules() []AgentRule {
	rules := append([]AgentRule(nil), AgentRules...)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })
	return rules
}

// SuggestAgent classifies task text without consulting stored patterns.
func (s *Store) SuggestAgent(task string) AgentSuggestion {
	return SuggestAgent(task)
}

// AgentPerformance aggregates the patterns an agent applied.
type AgentPerformance struct {
	SuccessRate float64 `json:"success_rate"`
	AvgQuality  float64 `json:"avg_quality"`
	TaskCount   int     `json:"task_count"`
}

// AlternativeAgent is a runner-up suggestion.
type AlternativeAgent struct {
	Agent      string `json:"agent"`
	Confidence int    `json:"confidence"`
}

// RoutingResult is a read-time projection; it is never persisted.
type RoutingResult struct {
	Task         string             `json:"task"`
	Suggestion   AgentSuggestion    `json:"suggestion"`
	Performance  *AgentPerformance  `json:"performance,omitempty"`
	Alternatives []AlternativeAgent `json:"alternatives"`
	Patterns     []Match            `json:"patterns"`
}

// RouteTask suggests an agent for task and attaches that agent's history
// from similar patterns.
func (s *Store) RouteTask(ctx context.Context, task string) (*RoutingResult, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	ctx, span := s.tracer.Start(ctx, "Store.RouteTask")
	defer span.End()

	res := &RoutingResult{
		Task:       task,
		Suggestion: SuggestAgent(task),
		Patterns:   []Match{},
	}

	if strings.TrimSpace(task) != "" {
		matches, err := s.SearchPatterns(ctx, task, s.cfg.RouteK)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		res.Patterns = matches
	}

	if perf, ok := aggregatePerformance(res.Patterns)[res.Suggestion.Agent]; ok {
		res.Performance = perf
	}
	res.Alternatives = alternatives(task, res.Suggestion.Agent)

	s.counters.routes.Add(1)
	s.metrics.Routes.WithLabelValues(res.Suggestion.Agent).Inc()
	span.SetAttributes(
		attribute.String("route.agent", res.Suggestion.Agent),
		attribute.Int("route.confidence", res.Suggestion.Confidence),
		attribute.Int("route.patterns", len(res.Patterns)),
	)
	return res, nil
}

func aggregatePerformance(matches []Match) map[string]*AgentPerformance {
	out := make(map[string]*AgentPerformance)
	for _, m := range matches {
		agent := m.Pattern.Metadata[AgentMetadataKey]
		if agent == "" {
			agent = DefaultAgent
		}
		perf, ok := out[agent]
		if !ok {
			perf = &AgentPerformance{}
			out[agent] = perf
		}
		perf.SuccessRate += m.Pattern.SuccessRate()
		perf.AvgQuality += m.Pattern.Quality
		perf.TaskCount++
	}
	for _, perf := range out {
		perf.SuccessRate /= float64(perf.TaskCount)
		perf.AvgQuality /= float64(perf.TaskCount)
	}
	return out
}

// alternatives ranks every other agent: 85 when its rule matches task,
// 60 otherwise, rule order breaking ties.
func alternatives(task, chosen string) []AlternativeAgent {
	var out []AlternativeAgent
	for _, r := range orderedRules() {
		if r.Agent == chosen {
			continue
		}
		conf := alternativeBaseline
		if r.Pattern.MatchString(task) {
			conf = alternativeMatched
		}
		out = append(out, AlternativeAgent{Agent: r.Agent, Confidence: conf})
	}
	if chosen != DefaultAgent {
		out = append(out, AlternativeAgent{Agent: DefaultAgent, Confidence: alternativeBaseline})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if len(out) > maxAlternativeAgents {
		out = out[:maxAlternativeAgents]
	}
	return out
}
