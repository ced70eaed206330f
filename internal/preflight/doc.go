// Package preflight provides readiness checks for the directories and
// external services genflow depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll once at startup and logs every failing check as a
//     warning. Failures never block startup; a generation against an
//     unreachable provider fails with its own classified error.
//   - The CLI "genflow status" command runs RunAll against the local config to
//     display a readiness section next to the daemon status.
//
// Each check is gated by its config toggle; disabled features are skipped.
package preflight
