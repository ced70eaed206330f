// Package daemon coordinates the long-running genflow process.
//
// It wires configuration, the generation engine, durable history, the
// activity hub and the optional Redis publisher into a single lifecycle with
// flock-based locking to prevent multiple instances sharing one data
// directory. The HTTP API served here is a thin translation of the engine
// façade; scheduling decisions stay in internal/engine.
package daemon
