// Package historystore persists terminal generation records in SQLite.
//
// The engine never writes durable storage itself. The daemon seeds the
// engine with LoadRecent at startup and registers the Store as a record
// listener so every new record is appended (and the table pruned to
// history.persist_limit) in terminal order.
//
// The database lives at <data_dir>/history.db, runs in WAL mode with a busy
// timeout, and is migrated from the embedded migrations/ directory on Open.
package historystore
