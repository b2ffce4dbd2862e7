// Package journal persists connection lifecycle events to Postgres.
//
// The recorder:
//   - Accepts events through a non-blocking growable buffer
//   - Batches rows and flushes on size or interval
//   - Writes with pgx batches and ON CONFLICT DO NOTHING
//   - Drains the buffer on shutdown before the final flush
package journal
