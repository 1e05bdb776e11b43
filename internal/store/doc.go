// Package store persists entities, their property documents, relationship
// collections, and the dependency index in SQLite.
//
// Every table is tenant-scoped and every operation takes the tenant ID
// explicitly; a lookup can never observe another tenant's rows.
//
// The store tracks two counters per entity. version moves on every
// persisted property change, including the status-only patches written
// during recalculation. lock_rev is the optimistic concurrency token and
// moves only on whole-entity writes, so background recomputation never
// invalidates a user's pending edit.
package store
