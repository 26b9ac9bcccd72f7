// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health probes and graceful shutdown for the change log.
//
// # Logging
//
//	logger := observability.NewLogger(observability.ParseLogLevel("info"), os.Stdout)
//	logger.WithField("task_id", 42).Info("Entries appended")
//
// Request scoped loggers carry the request ID, actor ID and trace IDs:
//
//	observability.FromContext(ctx).Warn("Slow analytics query")
//
// # Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	observability.RegisterMetricsEndpoint(router, registry)
//
// # Tracing
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer providers.Shutdown(ctx)
//	ctx, span := observability.Tracer().Start(ctx, "audit.Search")
package observability
