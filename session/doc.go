// Package session owns the session-id namespace and the key/value data stored
// under each id.
//
// # Stores
//
// A [Store] persists opaque session blobs with a TTL and offers a short-lived
// per-id lock used during id regeneration. Three implementations ship with the
// package: [MemoryStore] (process local), [BoltStore] (single file on disk)
// and [RedisStore] (shared cache). TTL enforcement by the store is
// authoritative; [Store.GC] is best-effort housekeeping.
//
// # Manager
//
// A [Manager] is bound to one request. It starts, regenerates and finishes a
// single session id and exposes the session data map plus flash entries.
//
// # Architecture boundaries
//
// The Manager is key-agnostic. Reserved keys (user id, anonymity flag,
// refresh timestamp) are enforced one layer up by the coordinator.
//
// # What this package must NOT do
//
//   - Import sessionauth, strategy or store (no upward imports).
//   - Interpret session data or make authentication decisions.
package session
