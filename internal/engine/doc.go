// Package engine orchestrates generation jobs.
//
// An Engine bounds the number of jobs executing at once, keeps a strict FIFO
// queue for the rest, tracks live progress in an active registry, and moves
// each job into a size-bounded history the instant it reaches a terminal
// state. One mutex guards the queue, the registry, and the history; provider
// calls never run under it.
//
// Every admitted job is driven by its own goroutine. The provider receives a
// context that doubles as the cancellation token, so CancelGeneration can force
// the local state to cancelled without waiting for the remote side to comply.
//
// New history records and lifecycle events are delivered to listeners in
// terminal order by a single dispatcher goroutine (see outbox.go). The engine
// never writes durable storage itself.
package engine
