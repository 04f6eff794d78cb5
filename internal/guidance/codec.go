package guidance

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/guidanced/internal/persistence"
)

// Reserved entry metadata keys. User metadata is stored under
// userMetaPrefix so it can never shadow them.
const (
	keyDomain      = "_domain"
	keyQuality     = "_quality"
	keyUsage       = "_usage"
	keySuccess     = "_success"
	keyCreated     = "_created"
	keyUpdated     = "_updated"
	userMetaPrefix = "meta."
)

func encodeEntry(p *Pattern, tier Tier) persistence.Entry {
	return persistence.Entry{
		Key:       p.ID,
		Namespace: tier.Namespace(),
		Content:   p.Strategy,
		Embedding: p.Embedding,
		Tags:      domainTags(p.Domain),
		Metadata:  encodeMetadata(p),
	}
}

func encodePatch(p *Pattern) persistence.Patch {
	content := p.Strategy
	return persistence.Patch{
		Content:  &content,
		Tags:     domainTags(p.Domain),
		Metadata: encodeMetadata(p),
	}
}

func domainTags(domain string) []string {
	if domain == "" {
		return []string{}
	}
	return []string{domain}
}

func encodeMetadata(p *Pattern) map[string]string {
	md := make(map[string]string, len(p.Metadata)+6)
	for k, v := range p.Metadata {
		md[userMetaPrefix+k] = v
	}
	md[keyDomain] = p.Domain
	md[keyQuality] = strconv.FormatFloat(p.Quality, 'g', -1, 64)
	md[keyUsage] = strconv.Itoa(p.UsageCount)
	md[keySuccess] = strconv.Itoa(p.SuccessCount)
	md[keyCreated] = p.CreatedAt.UTC().Format(time.RFC3339Nano)
	md[keyUpdated] = p.UpdatedAt.UTC().Format(time.RFC3339Nano)
	return md
}

// decodeEntry rebuilds a pattern from a persisted entry. Counters are
// repaired so that 1 <= usage and 0 <= success <= usage.
func decodeEntry(e persistence.Entry) (*Pattern, error) {
	if e.Key == "" {
		return nil, fmt.Errorf("entry has no key")
	}
	md := e.Metadata

	p := &Pattern{
		ID:        e.Key,
		Strategy:  e.Content,
		Domain:    md[keyDomain],
		Embedding: e.Embedding,
	}
	if p.Domain == "" && len(e.Tags) > 0 {
		p.Domain = e.Tags[0]
	}

	var err error
	if p.UsageCount, err = atoiDefault(md[keyUsage], 1); err != nil {
		return nil, fmt.Errorf("entry %s usage: %w", e.Key, err)
	}
	if p.SuccessCount, err = atoiDefault(md[keySuccess], 0); err != nil {
		return nil, fmt.Errorf("entry %s success: %w", e.Key, err)
	}
	if p.UsageCount < 1 {
		p.UsageCount = 1
	}
	if p.SuccessCount < 0 {
		p.SuccessCount = 0
	}
	if p.SuccessCount > p.UsageCount {
		p.SuccessCount = p.UsageCount
	}

	p.Quality = initialQuality
	if raw := md[keyQuality]; raw != "" {
		q, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("entry %s quality: %w", e.Key, err)
		}
		p.Quality = clampQuality(q)
	}

	if p.CreatedAt, err = parseTime(md[keyCreated]); err != nil {
		return nil, fmt.Errorf("entry %s created: %w", e.Key, err)
	}
	if p.UpdatedAt, err = parseTime(md[keyUpdated]); err != nil {
		return nil, fmt.Errorf("entry %s updated: %w", e.Key, err)
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}

	for k, v := range md {
		if name, ok := strings.CutPrefix(k, userMetaPrefix); ok {
			if p.Metadata == nil {
				p.Metadata = make(map[string]string)
			}
			p.Metadata[name] = v
		}
	}
	return p, nil
}

func atoiDefault(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
