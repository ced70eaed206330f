// Package main hosts the genflow CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into HTTP
// calls against the daemon API: submitting and cancelling generations,
// watching streamed output, querying history and statistics. The serve
// command runs the daemon in the foreground. Configuration resolution and
// client construction live in commandContext so subcommands focus on output.
package main
