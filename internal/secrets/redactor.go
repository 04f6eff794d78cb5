package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// DefaultReplacement marks a redacted span.
const DefaultReplacement = "[REDACTED]"

// Config configures a Redactor. The zero value runs the gitleaks default
// rule set plus DefaultRules and uses DefaultReplacement.
type Config struct {
	Rules       []Rule `koanf:"rules"`
	Replacement string `koanf:"replacement"`
	// AllowList holds patterns for matches that must be kept, such as
	// documented example keys.
	AllowList []string `koanf:"allow_list"`
	// DisableDetector skips the gitleaks rules and runs only Rules.
	DisableDetector bool `koanf:"disable_detector"`
}

// Finding reports one redacted span. The matched value is never kept.
type Finding struct {
	RuleID string `json:"rule_id"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
}

type compiledRule struct {
	id       string
	pattern  *regexp.Regexp
	keywords []string
}

// Redactor replaces credentials in text. It is immutable after New and
// safe for concurrent use.
type Redactor struct {
	rules       []compiledRule
	allow       []*regexp.Regexp
	detector    *detector
	replacement string
}

// New compiles cfg.
func New(cfg Config) (*Redactor, error) {
	if cfg.Rules == nil {
		cfg.Rules = DefaultRules()
	}
	if cfg.Replacement == "" {
		cfg.Replacement = DefaultReplacement
	}

	r := &Redactor{replacement: cfg.Replacement}
	for i, rule := range cfg.Rules {
		if rule.ID == "" {
			return nil, fmt.Errorf("rule %d: id is required", i)
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid pattern: %w", rule.ID, err)
		}
		kws := make([]string, len(rule.Keywords))
		for j, kw := range rule.Keywords {
			kws[j] = strings.ToLower(kw)
		}
		r.rules = append(r.rules, compiledRule{id: rule.ID, pattern: re, keywords: kws})
	}
	for i, p := range cfg.AllowList {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		r.allow = append(r.allow, re)
	}
	if !cfg.DisableDetector {
		d, err := newDetector(r.allow)
		if err != nil {
			return nil, err
		}
		r.detector = d
	}
	return r, nil
}

// MustNew is New for static configurations.
func MustNew(cfg Config) *Redactor {
	r, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return r
}

// Redact returns text with every finding replaced. Overlapping findings
// collapse into a single replacement. Findings are ordered by Start and
// refer to offsets in the input.
func (r *Redactor) Redact(text string) (string, []Finding) {
	if text == "" {
		return text, nil
	}
	lower := strings.ToLower(text)

	var findings []Finding
	for _, rule := range r.rules {
		if !rule.gated(lower) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringIndex(text, -1) {
			if r.allowed(text[m[0]:m[1]]) {
				continue
			}
			findings = append(findings, Finding{RuleID: rule.id, Start: m[0], End: m[1]})
		}
	}
	if r.detector != nil {
		for _, f := range r.detector.find(text) {
			if !r.allowed(text[f.Start:f.End]) {
				findings = append(findings, f)
			}
		}
	}
	if len(findings) == 0 {
		return text, nil
	}

	sort.SliceStable(findings, func(i, j int) bool { return findings[i].Start < findings[j].Start })

	var b strings.Builder
	b.Grow(len(text))
	pos := 0
	for _, f := range findings {
		if f.End <= pos {
			continue
		}
		if f.Start >= pos {
			b.WriteString(text[pos:f.Start])
			b.WriteString(r.replacement)
		}
		pos = f.End
	}
	b.WriteString(text[pos:])
	return b.String(), findings
}

// RedactMetadata redacts every value of md in place and returns the
// number of replaced spans.
func (r *Redactor) RedactMetadata(md map[string]string) int {
	n := 0
	for k, v := range md {
		out, findings := r.Redact(v)
		if len(findings) > 0 {
			md[k] = out
			n += Spans(findings)
		}
	}
	return n
}

// Spans returns how many replacements Redact made for findings, which
// must be ordered by Start as Redact returns them.
func Spans(findings []Finding) int {
	n, pos := 0, 0
	for _, f := range findings {
		if f.End <= pos {
			continue
		}
		if f.Start >= pos {
			n++
		}
		pos = f.End
	}
	return n
}

func (c compiledRule) gated(lower string) bool {
	if len(c.keywords) == 0 {
		return true
	}
	for _, kw := range c.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (r *Redactor) allowed(match string) bool {
	for _, re := range r.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

// RuleIDs returns the distinct rule IDs in findings, sorted.
func RuleIDs(findings []Finding) []string {
	seen := make(map[string]struct{}, len(findings))
	ids := make([]string, 0, len(findings))
	for _, f := range findings {
		if _, ok := seen[f.RuleID]; ok {
			continue
		}
		seen[f.RuleID] = struct{}{}
		ids = append(ids, f.RuleID)
	}
	sort.Strings(ids)
	return ids
}
