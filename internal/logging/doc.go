// Package logging assembles structured slog loggers and formatting helpers used
// across genflow.
//
// It owns the console/JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so engine code can tag log lines with job
// IDs, kinds, providers, and correlation IDs. A no-op logger is provided for
// tests and wiring code that cannot fail.
package logging
