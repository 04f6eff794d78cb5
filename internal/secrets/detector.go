package secrets

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// detector runs the default gitleaks rule set over single strings.
type detector struct {
	mu sync.Mutex
	d  *detect.Detector
}

func newDetector(allow []*regexp.Regexp) (*detector, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}
	if len(allow) > 0 {
		al := &gitleaksConfig.Allowlist{Description: "guidanced redaction allow list"}
		for _, re := range allow {
			al.Regexes = append(al.Regexes, (*gitleaksRegexp.Regexp)(re))
		}
		d.Config.Allowlists = append(d.Config.Allowlists, al)
	}
	return &detector{d: d}, nil
}

// find returns one Finding per occurrence of each detected secret.
func (g *detector) find(text string) []Finding {
	g.mu.Lock()
	results := g.d.DetectString(text)
	g.mu.Unlock()

	var out []Finding
	for _, f := range results {
		secret := f.Secret
		if secret == "" {
			secret = f.Match
		}
		if secret == "" {
			continue
		}
		for off := 0; off < len(text); {
			i := strings.Index(text[off:], secret)
			if i < 0 {
				break
			}
			start := off + i
			out = append(out, Finding{RuleID: f.RuleID, Start: start, End: start + len(secret)})
			off = start + len(secret)
		}
	}
	return out
}
