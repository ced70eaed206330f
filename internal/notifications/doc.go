// Package notifications delivers terminal generation records to ntfy.
//
// The Notifier is an engine record listener: every failed generation, and
// optionally completed or cancelled ones, becomes one ntfy message whose
// title, tags and priority reflect the outcome. When no topic is configured
// New returns nil and the daemon simply does not register a listener.
//
// Delivery failures are returned to the engine outbox, which logs them; a
// slow or unreachable ntfy server never affects generation results.
package notifications
