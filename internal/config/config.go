// Package config provides configuration loading for guidanced.
//
// Configuration is assembled from three layers: hardcoded defaults, an
// optional YAML file and GUIDANCED_* environment variables. Each section maps
// onto the options of one internal package; cmd/guidanced converts sections
// into package configs so that this package stays free of internal imports.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned by Validate for out-of-range settings.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the complete guidanced configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Guidance    GuidanceConfig    `koanf:"guidance"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	Persistence PersistenceConfig `koanf:"persistence"`
	Events      EventsConfig      `koanf:"events"`
	Redaction   RedactionConfig   `koanf:"redaction"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// GuidanceConfig holds the pattern store policy.
type GuidanceConfig struct {
	Dimensions         int      `koanf:"dimensions"`
	MaxShortTerm       int      `koanf:"max_short_term"`
	MaxLongTerm        int      `koanf:"max_long_term"`
	PromotionThreshold int      `koanf:"promotion_threshold"`
	QualityThreshold   float64  `koanf:"quality_threshold"`
	DedupThreshold     float64  `koanf:"dedup_threshold"`
	PruneMaxAge        Duration `koanf:"prune_max_age"`
	EmbedTimeout       Duration `koanf:"embed_timeout"`
	SearchK            int      `koanf:"search_k"`
	RouteK             int      `koanf:"route_k"`
}

// EmbeddingsConfig selects and configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is one of "hash" (default), "fastembed" or "tei".
	Provider  string `koanf:"provider"`
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url"`
	CacheDir  string `koanf:"cache_dir"`
	CacheSize int    `koanf:"cache_size"`
}

// PersistenceConfig selects the durable backend behind the pattern store.
type PersistenceConfig struct {
	// Backend is one of "none" (default), "chromem", "sqlite" or "qdrant".
	Backend          string `koanf:"backend"`
	ChromemPath      string `koanf:"chromem_path"`
	ChromemCompress  bool   `koanf:"chromem_compress"`
	SQLitePath       string `koanf:"sqlite_path"`
	QdrantHost       string `koanf:"qdrant_host"`
	QdrantPort       int    `koanf:"qdrant_port"`
	QdrantUseTLS     bool   `koanf:"qdrant_use_tls"`
	CollectionPrefix string `koanf:"collection_prefix"`
}

// EventsConfig configures lifecycle event publishing.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// RedactionConfig controls credential scrubbing of stored strategies.
// Redaction is on unless Disabled is set. DisableDetector keeps only the
// built-in rules and skips the gitleaks rule set.
type RedactionConfig struct {
	Disabled        bool     `koanf:"disabled"`
	DisableDetector bool     `koanf:"disable_detector"`
	Replacement     string   `koanf:"replacement"`
	AllowList       []string `koanf:"allow_list"`
}

// LoggingConfig is the subset of logging options exposed to operators.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig is the subset of telemetry options exposed to operators.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	g := &cfg.Guidance
	if g.Dimensions == 0 {
		g.Dimensions = 384
	}
	if g.MaxShortTerm == 0 {
		g.MaxShortTerm = 1000
	}
	if g.MaxLongTerm == 0 {
		g.MaxLongTerm = 5000
	}
	if g.PromotionThreshold == 0 {
		g.PromotionThreshold = 3
	}
	if g.QualityThreshold == 0 {
		g.QualityThreshold = 0.6
	}
	if g.DedupThreshold == 0 {
		g.DedupThreshold = 0.95
	}
	if g.PruneMaxAge == 0 {
		g.PruneMaxAge = Duration(24 * time.Hour)
	}
	if g.EmbedTimeout == 0 {
		g.EmbedTimeout = Duration(10 * time.Second)
	}
	if g.SearchK == 0 {
		g.SearchK = 5
	}
	if g.RouteK == 0 {
		g.RouteK = 10
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "hash"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.CacheSize == 0 {
		cfg.Embeddings.CacheSize = 2048
	}

	p := &cfg.Persistence
	if p.Backend == "" {
		p.Backend = "none"
	}
	if p.ChromemPath == "" {
		p.ChromemPath = "~/.config/guidanced/vectorstore"
	}
	if p.SQLitePath == "" {
		p.SQLitePath = "~/.config/guidanced/patterns.db"
	}
	if p.QdrantHost == "" {
		p.QdrantHost = "localhost"
	}
	if p.QdrantPort == 0 {
		p.QdrantPort = 6334
	}
	if p.CollectionPrefix == "" {
		p.CollectionPrefix = "guidanced"
	}

	if cfg.Events.NATSURL == "" {
		cfg.Events.NATSURL = "nats://localhost:4222"
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "guidance.patterns"
	}

	if cfg.Redaction.Replacement == "" {
		cfg.Redaction.Replacement = "[REDACTED]"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "guidanced"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server port %d (must be 1-65535)", ErrInvalidConfig, c.Server.Port)
	}

	g := c.Guidance
	if g.Dimensions <= 0 {
		return fmt.Errorf("%w: guidance.dimensions must be positive", ErrInvalidConfig)
	}
	if g.MaxShortTerm <= 0 || g.MaxLongTerm <= 0 {
		return fmt.Errorf("%w: tier capacities must be positive", ErrInvalidConfig)
	}
	if g.PromotionThreshold < 1 {
		return fmt.Errorf("%w: guidance.promotion_threshold must be >= 1", ErrInvalidConfig)
	}
	if g.QualityThreshold < 0.3 || g.QualityThreshold > 1.0 {
		return fmt.Errorf("%w: guidance.quality_threshold must be within [0.3, 1.0]", ErrInvalidConfig)
	}
	if g.DedupThreshold <= 0 || g.DedupThreshold > 1.0 {
		return fmt.Errorf("%w: guidance.dedup_threshold must be within (0, 1]", ErrInvalidConfig)
	}
	if g.SearchK < 1 || g.RouteK < 1 {
		return fmt.Errorf("%w: guidance.search_k and guidance.route_k must be >= 1", ErrInvalidConfig)
	}

	switch c.Embeddings.Provider {
	case "hash", "fastembed", "tei":
	default:
		return fmt.Errorf("%w: unknown embeddings provider %q", ErrInvalidConfig, c.Embeddings.Provider)
	}

	switch c.Persistence.Backend {
	case "none", "memory", "chromem", "sqlite", "qdrant":
	default:
		return fmt.Errorf("%w: unknown persistence backend %q", ErrInvalidConfig, c.Persistence.Backend)
	}

	if c.Events.Enabled && c.Events.NATSURL == "" {
		return fmt.Errorf("%w: events.nats_url is required when events are enabled", ErrInvalidConfig)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("%w: logging.format must be 'json' or 'console', got %q", ErrInvalidConfig, c.Logging.Format)
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("%w: telemetry.sample_rate must be between 0 and 1", ErrInvalidConfig)
	}

	return nil
}
