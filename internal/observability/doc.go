// Package observability provides the metrics, structured logging and
// distributed tracing used across chatcore.
//
// Logging is built on log/slog. NewLogger returns a *slog.Logger whose
// handler redacts secrets (API keys, bearer tokens, JWTs, passwords) and
// appends the request, session and user identifiers stored in the context
// with AddRequestID, AddSessionID and AddUserID.
//
// Metrics are Prometheus collectors registered through promauto against a
// caller supplied registry, so tests can use a fresh prometheus.NewRegistry.
//
// Tracing uses OpenTelemetry with an OTLP gRPC exporter. When no endpoint is
// configured the tracer is a no-op and spans are never exported.
package observability
