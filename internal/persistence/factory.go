package persistence

import (
	"fmt"

	"github.com/fyrsmithlabs/guidanced/internal/logging"
	qc "github.com/fyrsmithlabs/guidanced/internal/qdrant"
)

// Config selects and configures a backend.
type Config struct {
	// Backend is one of "none" (default), "memory", "chromem", "sqlite" or "qdrant".
	Backend          string
	Dimensions       int
	CollectionPrefix string

	ChromemPath     string
	ChromemCompress bool

	SQLitePath string

	QdrantHost   string
	QdrantPort   int
	QdrantUseTLS bool
}

// New creates the configured delegate. Remote backends connect eagerly.
func New(cfg Config, logger *logging.Logger) (Delegate, error) {
	if logger == nil {
		return nil, fmt.Errorf("%w: logger is required", ErrInvalidConfig)
	}
	zl := logger.Underlying().Named("persistence")

	switch cfg.Backend {
	case "none", "":
		return Noop{}, nil
	case "memory":
		return NewMemory(), nil
	case "chromem":
		return NewChromem(ChromemConfig{
			Path:             cfg.ChromemPath,
			Compress:         cfg.ChromemCompress,
			CollectionPrefix: cfg.CollectionPrefix,
			Dimensions:       cfg.Dimensions,
		}, zl)
	case "sqlite":
		return NewSQLite(cfg.SQLitePath, zl)
	case "qdrant":
		client, err := qc.NewGRPCClient(qc.Config{
			Host:   cfg.QdrantHost,
			Port:   cfg.QdrantPort,
			UseTLS: cfg.QdrantUseTLS,
		}, zl.Named("qdrant"))
		if err != nil {
			return nil, fmt.Errorf("connecting to qdrant: %w", err)
		}
		return NewQdrant(client, QdrantConfig{
			CollectionPrefix: cfg.CollectionPrefix,
			Dimensions:       cfg.Dimensions,
		}, zl)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, cfg.Backend)
	}
}
