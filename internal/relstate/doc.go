// Package relstate implements the per-(record, field) membership state and
// its diff engine.
//
// A State holds the canonical members last received from ingestion, plus the
// uncommitted local additions and removals layered on top. Effective
// membership is canonical minus removals, followed by additions:
//
//	effective = (canonical ∪ additions) − removals
//	additions ∩ canonical = ∅
//	removals ⊆ canonical
//
// Every mutating method returns what actually changed, so callers can mirror
// exactly that change onto the inverse side and nothing more. States are not
// safe for concurrent use; the engine serializes access.
//
// # Staleness
//
// Each canonical change stamps the affected keys with the logical clock value
// of the operation. ApplyFetch uses those stamps to reconcile a materialization
// result against canonical updates that arrived while the fetch was in
// flight: a key touched after the fetch started keeps its current canonical
// status, every other key follows the fetch result. The outcome does not
// depend on whether the push or the fetch resolution is applied first.
package relstate
