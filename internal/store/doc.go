// Package store provides the SQLite-backed server side of the engine: the
// canonical records an async relationship is materialized from.
//
// The store holds:
//   - Records: one row per (type, id) with canonical JSON attributes
//   - Record fields: which relationship fields a write supplied
//   - Links: ordered membership of an owner's relationship field
//
// Source wraps a Store with a schema.Registry and implements
// engine.Loader. It answers a fetch with the union of the owner's own links
// and the inverse-side links naming the owner.
//
// # Critical Patterns
//
// Deterministic Query Results
//   - Every list query has a total ORDER BY (position or id, COLLATE BINARY)
//   - The same database always yields the same fetch result
//
// Atomic Writes
//   - WriteRecord replaces attributes and the supplied fields in one
//     transaction
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - One connection: ":memory:" databases live per connection
package store
