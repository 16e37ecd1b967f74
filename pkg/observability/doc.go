// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health probes and graceful shutdown for flock.
//
// Loggers travel on the request context:
//
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).Info("membership created")
//
// FromContext decorates the logger with the request, tenant and user
// identifiers found on the context, plus trace ids when a span is recording.
package observability
