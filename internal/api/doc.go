// Package api defines wire-format types, converters, and the HTTP client for
// the genflow daemon. It translates engine models into transport-friendly DTOs
// that the CLI and other consumers can render without coupling to internal
// types.
//
// # Key Types
//
// SubmitRequest: the body of POST /api/generations.
//
// Record: a terminal history record with result, error kind, cost, and timing.
//
// ActiveGeneration: the live view of an executing job, including streamed text.
//
// GenerationResponse: where a job id currently lives (queued, active, history).
//
// Stats/EngineStatus/DaemonStatus: aggregate and runtime information.
//
// Event/EventStreamResponse: lifecycle events for long-poll observers.
//
// # Converters
//
// FromRecord, FromActive, FromStats, FromEngineStatus, FromEntry map engine and
// activity types to DTOs. ParseFilter turns history query parameters into an
// engine.Filter.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for JavaScript/TypeScript consumers. Enums
// (kind, status, error kind) are exposed as lowercase strings. Timestamps use
// RFC3339 with milliseconds; durations are reported in milliseconds.
package api
