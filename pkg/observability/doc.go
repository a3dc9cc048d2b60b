// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown for taskguard.
//
// # Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("component", "tasks").Info("listing tasks")
//
// FromContext adds the request and user ids installed by the HTTP middleware.
//
// # Metrics
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RecordPolicyDecision("delete_task", false, "insufficient_role")
//
// Recording methods accept a nil *Metrics.
//
// # Tracing
//
// InitOTel installs OTLP/gRPC trace and metric exporters. Packages start
// spans with observability.Tracer(); without InitOTel the spans are no-ops.
package observability
