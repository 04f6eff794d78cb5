// Package logging provides structured logging on top of zap.
//
// Loggers write JSON (or console) output to stdout and, when an OpenTelemetry
// LoggerProvider is available, to OTEL through the otelzap bridge. Entries
// below error level are sampled; errors never are. Every context-aware method
// appends trace_id/span_id, session.id and request.id fields found in ctx.
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithSessionID(ctx, "sess-42")
//	logger.Info(ctx, "pattern stored", zap.String("id", id))
//
// Library packages accept a plain *zap.Logger; pass Logger.Underlying().
package logging
