package guidance

import (
	"fmt"
	"time"
)

// Default policy values.
const (
	DefaultDimensions         = 384
	DefaultMaxShortTerm       = 1000
	DefaultMaxLongTerm        = 5000
	DefaultPromotionThreshold = 3
	DefaultQualityThreshold   = 0.6
	DefaultDedupThreshold     = 0.95
	DefaultPruneMaxAge        = 24 * time.Hour
	DefaultEmbedTimeout       = 10 * time.Second
	DefaultSearchK            = 5
	DefaultRouteK             = 10
)

// Config holds the store policy.
type Config struct {
	Dimensions         int           `koanf:"dimensions" json:"dimensions"`
	MaxShortTerm       int           `koanf:"max_short_term" json:"max_short_term"`
	MaxLongTerm        int           `koanf:"max_long_term" json:"max_long_term"`
	PromotionThreshold int           `koanf:"promotion_threshold" json:"promotion_threshold"`
	QualityThreshold   float64       `koanf:"quality_threshold" json:"quality_threshold"`
	DedupThreshold     float64       `koanf:"dedup_threshold" json:"dedup_threshold"`
	PruneMaxAge        time.Duration `koanf:"prune_max_age" json:"prune_max_age"`
	EmbedTimeout       time.Duration `koanf:"embed_timeout" json:"embed_timeout"`

	// SearchK is the result count used when a caller passes k <= 0 and by
	// GenerateGuidance.
	SearchK int `koanf:"search_k" json:"search_k"`
	// RouteK is the number of similar patterns RouteTask aggregates.
	RouteK int `koanf:"route_k" json:"route_k"`
}

// DefaultConfig returns the default store policy.
func DefaultConfig() Config {
	var c Config
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Dimensions == 0 {
		c.Dimensions = DefaultDimensions
	}
	if c.MaxShortTerm == 0 {
		c.MaxShortTerm = DefaultMaxShortTerm
	}
	if c.MaxLongTerm == 0 {
		c.MaxLongTerm = DefaultMaxLongTerm
	}
	if c.PromotionThreshold == 0 {
		c.PromotionThreshold = DefaultPromotionThreshold
	}
	if c.QualityThreshold == 0 {
		c.QualityThreshold = DefaultQualityThreshold
	}
	if c.DedupThreshold == 0 {
		c.DedupThreshold = DefaultDedupThreshold
	}
	if c.PruneMaxAge == 0 {
		c.PruneMaxAge = DefaultPruneMaxAge
	}
	if c.EmbedTimeout == 0 {
		c.EmbedTimeout = DefaultEmbedTimeout
	}
	if c.SearchK == 0 {
		c.SearchK = DefaultSearchK
	}
	if c.RouteK == 0 {
		c.RouteK = DefaultRouteK
	}
}

// Validate checks the policy after defaults are applied.
func (c Config) Validate() error {
	switch {
	case c.Dimensions <= 0:
		return fmt.Errorf("%w: dimensions must be positive, got %d", ErrInvalidConfig, c.Dimensions)
	case c.MaxShortTerm <= 0 || c.MaxLongTerm <= 0:
		return fmt.Errorf("%w: tier capacities must be positive", ErrInvalidConfig)
	case c.PromotionThreshold < 1:
		return fmt.Errorf("%w: promotion threshold must be >= 1", ErrInvalidConfig)
	case c.QualityThreshold < minQuality || c.QualityThreshold > maxQuality:
		return fmt.Errorf("%w: quality threshold %.2f outside [%.1f, %.1f]", ErrInvalidConfig, c.QualityThreshold, minQuality, maxQuality)
	case c.DedupThreshold <= 0 || c.DedupThreshold > 1:
		return fmt.Errorf("%w: dedup threshold %.2f outside (0, 1]", ErrInvalidConfig, c.DedupThreshold)
	case c.PruneMaxAge < 0 || c.EmbedTimeout < 0:
		return fmt.Errorf("%w: durations cannot be negative", ErrInvalidConfig)
	case c.SearchK < 0 || c.RouteK < 0:
		return fmt.Errorf("%w: search sizes cannot be negative", ErrInvalidConfig)
	}
	return nil
}
