// Package store implements the durable SQLite-backed memory store.
//
// The store owns three tables: agent memories, session summaries and agent
// trust weights. Schema initialization is idempotent and runs on every
// startup. All errors surface as one of the typed sentinels (ErrUnavailable,
// ErrDuplicateKey, ErrNotFound, ErrTimeout) so callers can degrade
// deliberately instead of crashing.
//
// Writes are serialized through a single connection; SQLite WAL mode keeps
// readers unblocked. Memories are append-only: rows are never deleted, and
// realized outcomes are filled in once per horizon by a reconciliation job.
package store
