// Package identity provides the identity map: the de-duplicating table of
// records keyed by (type, id).
//
// Every reference to a record, whether from ingestion, a relationship member
// list or a local creation, resolves through the Map so that there is exactly
// one Record per key. A Record owns its attributes and one relstate.State per
// relationship field; states name partners by key, never by pointer.
//
// The Map is not safe for concurrent use. The engine serializes access.
package identity
