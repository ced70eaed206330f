// Package logs tails the daemon log file for the /api/logs endpoint and
// `genflow logs`.
//
// Reads are offset based: a negative offset returns the last N complete lines
// and the offset just past them, and a non-negative offset resumes from there.
// Only newline-terminated lines are returned, so a line still being written is
// picked up whole on the next call. A wait duration turns a call into a
// bounded long poll.
package logs
