package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/guidanced/internal/config"
	"github.com/fyrsmithlabs/guidanced/internal/embeddings"
	"github.com/fyrsmithlabs/guidanced/internal/events"
	"github.com/fyrsmithlabs/guidanced/internal/guidance"
	"github.com/fyrsmithlabs/guidanced/internal/logging"
	"github.com/fyrsmithlabs/guidanced/internal/persistence"
	"github.com/fyrsmithlabs/guidanced/internal/secrets"
	"github.com/fyrsmithlabs/guidanced/internal/telemetry"
)

const instrumentationName = "github.com/fyrsmithlabs/guidanced"

// app holds the wired process dependencies.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	store     *guidance.Store
}

// appOptions tune wiring for the daemon versus one-shot commands.
type appOptions struct {
	// daemon keeps logs on stdout at the configured level.
	daemon bool
}

// newApp loads configuration and wires every dependency.
//
// Wiring order:
//  1. Configuration (YAML + GUIDANCED_* env)
//  2. Telemetry, then logger
//  3. Embedding provider wrapped in the resilient fallback
//  4. Persistence delegate and event publisher
//  5. Credential redactor unless disabled
//  6. Pattern store, initialized eagerly
func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromOperatorConfig(cfg.Telemetry))
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	logger, err := newLogger(cfg, tel, opts)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, telemetry: tel}
	store, err := a.newStore()
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.store = store

	if err := store.Initialize(ctx); err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("initializing pattern store: %w", err)
	}
	return a, nil
}

func newLogger(cfg *config.Config, tel *telemetry.Telemetry, opts appOptions) (*logging.Logger, error) {
	logCfg, err := logging.FromOperatorConfig(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logging config: %w", err)
	}
	if !opts.daemon {
		// Keep stdout for command output.
		logCfg.Output.Stdout = false
		logCfg.Output.Stderr = true
		logCfg.Format = "console"
		if !verbose {
			logCfg.Level = zap.WarnLevel
		}
	}
	lp := tel.LoggerProvider()
	logCfg.Output.OTEL = lp != nil
	logger, err := logging.NewLogger(logCfg, lp)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	return logger, nil
}

func (a *app) newStore() (*guidance.Store, error) {
	cfg := a.cfg
	zl := a.logger.Underlying()

	cacheDir, err := config.ExpandPath(cfg.Embeddings.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("expanding embeddings cache dir: %w", err)
	}
	primary, err := embeddings.NewProvider(embeddings.ProviderConfig{
		Provider:   cfg.Embeddings.Provider,
		Model:      cfg.Embeddings.Model,
		BaseURL:    cfg.Embeddings.BaseURL,
		CacheDir:   cacheDir,
		Dimensions: cfg.Guidance.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}
	if primary.Dimension() != cfg.Guidance.Dimensions {
		_ = primary.Close()
		return nil, fmt.Errorf("embedding provider %q produces %d dimensions but guidance.dimensions is %d",
			cfg.Embeddings.Provider, primary.Dimension(), cfg.Guidance.Dimensions)
	}
	provider, err := embeddings.NewResilientProvider(primary,
		embeddings.WithDimension(cfg.Guidance.Dimensions),
		embeddings.WithTimeout(cfg.Guidance.EmbedTimeout.Duration()),
		embeddings.WithCacheSize(cfg.Embeddings.CacheSize),
		embeddings.WithProviderName(cfg.Embeddings.Provider),
		embeddings.WithLogger(zl),
		embeddings.WithMeter(a.telemetry.Meter(instrumentationName)),
	)
	if err != nil {
		_ = primary.Close()
		return nil, fmt.Errorf("creating resilient embedder: %w", err)
	}

	delegate, err := a.newDelegate()
	if err != nil {
		_ = provider.Close()
		return nil, err
	}

	var publisher events.Publisher = events.Noop{}
	if cfg.Events.Enabled {
		publisher, err = events.NewNATSPublisher(events.NATSConfig{
			URL:           cfg.Events.NATSURL,
			SubjectPrefix: cfg.Events.SubjectPrefix,
		}, zl.Named("events"))
		if err != nil {
			_ = provider.Close()
			_ = delegate.Close()
			return nil, fmt.Errorf("creating event publisher: %w", err)
		}
	}

	opts := []guidance.Option{
		guidance.WithLogger(zl),
		guidance.WithPublisher(publisher),
		guidance.WithTracer(a.telemetry.Tracer(instrumentationName)),
	}
	if !cfg.Redaction.Disabled {
		redactor, err := secrets.New(secrets.Config{
			Replacement:     cfg.Redaction.Replacement,
			AllowList:       cfg.Redaction.AllowList,
			DisableDetector: cfg.Redaction.DisableDetector,
		})
		if err != nil {
			_ = provider.Close()
			_ = delegate.Close()
			_ = publisher.Close()
			return nil, fmt.Errorf("creating redactor: %w", err)
		}
		opts = append(opts, guidance.WithRedactor(redactor))
	}

	store, err := guidance.NewStore(guidanceConfig(cfg.Guidance), provider, delegate, opts...)
	if err != nil {
		_ = provider.Close()
		_ = delegate.Close()
		_ = publisher.Close()
		return nil, fmt.Errorf("creating pattern store: %w", err)
	}
	return store, nil
}

func (a *app) newDelegate() (persistence.Delegate, error) {
	p := a.cfg.Persistence
	chromemPath, err := config.ExpandPath(p.ChromemPath)
	if err != nil {
		return nil, fmt.Errorf("expanding chromem path: %w", err)
	}
	sqlitePath, err := config.ExpandPath(p.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("expanding sqlite path: %w", err)
	}

	delegate, err := persistence.New(persistence.Config{
		Backend:          p.Backend,
		Dimensions:       a.cfg.Guidance.Dimensions,
		CollectionPrefix: p.CollectionPrefix,
		ChromemPath:      chromemPath,
		ChromemCompress:  p.ChromemCompress,
		SQLitePath:       sqlitePath,
		QdrantHost:       p.QdrantHost,
		QdrantPort:       p.QdrantPort,
		QdrantUseTLS:     p.QdrantUseTLS,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("creating %s persistence: %w", p.Backend, err)
	}
	return delegate, nil
}

// guidanceConfig converts the operator section into store policy.
func guidanceConfig(g config.GuidanceConfig) guidance.Config {
	return guidance.Config{
		Dimensions:         g.Dimensions,
		MaxShortTerm:       g.MaxShortTerm,
		MaxLongTerm:        g.MaxLongTerm,
		PromotionThreshold: g.PromotionThreshold,
		QualityThreshold:   g.QualityThreshold,
		DedupThreshold:     g.DedupThreshold,
		PruneMaxAge:        g.PruneMaxAge.Duration(),
		EmbedTimeout:       g.EmbedTimeout.Duration(),
		SearchK:            g.SearchK,
		RouteK:             g.RouteK,
	}
}

// Close releases the store, telemetry and logger. The store owns the
// embedder, delegate and publisher.
func (a *app) Close(ctx context.Context) {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn(ctx, "closing pattern store", zap.Error(err))
		}
	}
	if a.telemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := a.telemetry.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn(ctx, "telemetry shutdown", zap.Error(err))
		}
	}
	_ = a.logger.Sync() // Best-effort sync
}
