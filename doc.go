// Package dynoris implements a write-back caching layer between a
// low-latency key-value store (Redis) and a strongly-consistent table store
// (DynamoDB). Callers check an item or a query result out into the fast
// store, mutate it there cheaply, and commit it back later; a lease protocol
// built from fast-store primitives tracks what is checked out and reclaims
// leases whose owners vanished.
//
// Components:
//   - Engine: read-through and write-back for three entry shapes - a single
//     item as a string, a query result set as a hash, and one row's nested
//     sub-document as a hash.
//   - lease.Store: the checkout protocol. TimeWindow ages leases out of a
//     fixed expiry window; RefCounted tracks overlapping readers exactly.
//   - store.Store: the fast-store capability set (Redis or in-process Mem).
//   - dynattr: DynamoDB attribute maps <-> generic JSON-like documents.
//   - stamp: an independent expiring-stamp query helper, no lease protocol.
//
// Checkout pattern:
//
//	_ = eng.CacheItem(ctx, "user:42", "Users", key) // read-through under lease
//	// ... mutate the entry in the fast store ...
//	res, _ := eng.CommitItem(ctx, "user:42", "")    // write-back, or silent skip
//
// There is no atomicity spanning the two stores and no retry inside: a failed
// commit leaves the entry intact for another attempt, and a commit whose
// lease already expired is a silent no-op, which makes retries safe.
package dynoris
