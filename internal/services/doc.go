// Package services defines shared utilities consumed by the generation engine
// and its provider adapters.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, content kinds, provider names, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that translate failures
//     into consistent terminal error kinds (validation, provider, timeout,
//     cancelled).
//
// Use these helpers when wiring new providers so operational behaviour (error
// classification, observability) stays uniform across the engine.
package services
