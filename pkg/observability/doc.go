// Package observability provides structured logging and Prometheus metrics
// for the wiki backend.
//
// The Logger wraps log/slog with a JSON handler and supports chained field
// context (WithField, WithFields, WithError). Metrics registers HTTP,
// directory-store, and authorization-gate instruments against a dedicated
// registry and exposes them through Handler.
package observability
