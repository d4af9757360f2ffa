// Package engine implements the tandem relationship-consistency engine.
//
// The engine keeps both ends of every inverse relationship pair in agreement
// as canonical data is pushed, as collections are edited locally, as records
// are deleted, and as uncommitted edits are rolled back.
//
// ARCHITECTURE:
//
// Store Context:
// An Engine bundles the identity map, the frozen schema registry and the
// loader. There is no ambient global store; every operation goes through an
// Engine.
//
// Edit Flow:
//  1. Push, a view's Add/Remove, DeleteRecord or RollbackAttributes changes
//     the owner's relationship state (relstate.State)
//  2. The resulting delta is mirrored onto the inverse field of each
//     affected partner, exactly once, never back toward the owner
//  3. The call returns; both sides agree
//
// Canonical changes are mirrored as canonical changes and local edits as
// local edits, so rolling back either side reverts both.
//
// Async Fields:
// The first access to an unloaded async field calls the Loader. The engine
// lock is released only around the loader call. Concurrent accesses share
// one in-flight call (singleflight). On resolution the result is merged
// under the lock; keys whose canonical status changed after the fetch
// started keep their newer state.
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// Every canonical change is stamped with Clock.Next(). Fetch staleness is
// decided by comparing stamps with the clock value read when the fetch
// started. Wall-clock time is never used for ordering.
//
// Deletion Asymmetry:
// DeleteRecord removes the record from its partners but leaves its own
// state intact, so that rollback can restore the partners' side.
//
// Atomic Failure:
// Every operation validates before mutating. A failed call leaves all
// relationship state as it was.
package engine
