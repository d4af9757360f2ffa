package relstate

import (
	"slices"

	"github.com/roach88/tandem/internal/ir"
)

// Origin identifies where a canonical merge came from.
type Origin int

const (
	// OriginPush is canonical ingestion naming this field directly.
	// A push is authoritative: it clears every pending local removal.
	OriginPush Origin = iota

	// OriginFetch is the result of materializing an async field.
	// Local removals of members that stay canonical survive.
	OriginFetch
)

// String returns the origin name used in logs and metrics.
func (o Origin) String() string {
	switch o {
	case OriginPush:
		return "push"
	case OriginFetch:
		return "fetch"
	}
	return "unknown"
}

// Delta is the canonical effect of a merge, expressed per key so it can be
// mirrored onto inverse states.
type Delta struct {
	// Added keys became canonical.
	Added []ir.Key
	// Dropped keys were canonical and no longer are.
	Dropped []ir.Key
	// Restored keys stayed canonical and had a local removal cleared.
	Restored []ir.Key
}

// Empty reports whether the merge changed nothing.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Dropped) == 0 && len(d.Restored) == 0
}

// State is the membership state of one relationship field of one record.
type State struct {
	canonical []ir.Key
	inCanon   map[ir.Key]struct{}
	additions []ir.Key
	removals  map[ir.Key]struct{}
	stamps    map[ir.Key]int64
	pushedAt  int64
	loaded    bool
	pending   bool
}

// New returns an empty, unloaded state.
func New() *State {
	return &State{
		inCanon:  make(map[ir.Key]struct{}),
		removals: make(map[ir.Key]struct{}),
		stamps:   make(map[ir.Key]int64),
	}
}

// MergeCanonical replaces the canonical members with keys (deduplicated,
// first occurrence wins) and normalizes the local sets against them.
// Additions that became canonical are dropped. For OriginPush every local
// removal is cleared; for OriginFetch only removals of members that left
// canonical are cleared. Both origins mark the state loaded.
func (s *State) MergeCanonical(keys []ir.Key, origin Origin, seq int64) Delta {
	next := dedupe(keys)
	nextSet := make(map[ir.Key]struct{}, len(next))
	for _, k := range next {
		nextSet[k] = struct{}{}
	}

	var d Delta
	for _, k := range s.canonical {
		if _, ok := nextSet[k]; !ok {
			d.Dropped = append(d.Dropped, k)
			delete(s.removals, k)
			s.stamps[k] = seq
		}
	}
	for _, k := range next {
		if _, ok := s.inCanon[k]; !ok {
			d.Added = append(d.Added, k)
		} else if _, removed := s.removals[k]; removed && origin == OriginPush {
			d.Restored = append(d.Restored, k)
			delete(s.removals, k)
		}
		s.stamps[k] = seq
	}

	s.additions = slices.DeleteFunc(s.additions, func(k ir.Key) bool {
		_, ok := nextSet[k]
		return ok
	})
	s.canonical = next
	s.inCanon = nextSet
	s.loaded = true
	if origin == OriginPush {
		s.pushedAt = seq
	}
	return d
}

// ApplyFetch merges a materialization result that was requested when the
// clock read since. If a push replaced the whole field after since, the
// fetch is stale in full and only marks the state loaded. Otherwise keys
// stamped after since keep their current canonical status and all other keys
// follow fetched. The merge is applied with OriginFetch at seq. overridden
// lists the keys where the fetch result lost.
func (s *State) ApplyFetch(fetched []ir.Key, since, seq int64) (d Delta, overridden []ir.Key) {
	fetched = dedupe(fetched)
	if s.pushedAt > since {
		for _, k := range fetched {
			if _, ok := s.inCanon[k]; !ok {
				overridden = append(overridden, k)
			}
		}
		return s.MergeCanonical(s.canonical, OriginFetch, seq), overridden
	}

	inFetch := make(map[ir.Key]struct{}, len(fetched))
	result := make([]ir.Key, 0, len(fetched))

	for _, k := range fetched {
		inFetch[k] = struct{}{}
		if s.stamps[k] > since {
			if _, ok := s.inCanon[k]; !ok {
				overridden = append(overridden, k)
				continue
			}
		}
		result = append(result, k)
	}
	for _, k := range s.canonical {
		if _, ok := inFetch[k]; ok {
			continue
		}
		if s.stamps[k] > since {
			overridden = append(overridden, k)
			result = append(result, k)
		}
	}

	return s.MergeCanonical(result, OriginFetch, seq), overridden
}

// AssertCanonical makes k canonical, as mirrored from the inverse side.
// A local addition of k is absorbed. When clearRemoval is set a pending
// local removal of k is cleared too. It does not change the loaded flag:
// membership learned through an inverse is not a complete materialization.
func (s *State) AssertCanonical(k ir.Key, seq int64, clearRemoval bool) (added, restored bool) {
	s.stamps[k] = seq
	if _, ok := s.inCanon[k]; !ok {
		s.canonical = append(s.canonical, k)
		s.inCanon[k] = struct{}{}
		s.additions = slices.DeleteFunc(s.additions, func(a ir.Key) bool { return a == k })
		added = true
	}
	if _, ok := s.removals[k]; ok && clearRemoval {
		delete(s.removals, k)
		restored = true
	}
	return added, restored
}

// RetractCanonical removes k from the state in every form: canonical,
// pending removal and local addition. It reports whether k was effective.
func (s *State) RetractCanonical(k ir.Key, seq int64) (wasMember bool) {
	wasMember = s.Has(k)
	s.stamps[k] = seq
	if _, ok := s.inCanon[k]; ok {
		delete(s.inCanon, k)
		s.canonical = slices.DeleteFunc(s.canonical, func(c ir.Key) bool { return c == k })
	}
	delete(s.removals, k)
	s.additions = slices.DeleteFunc(s.additions, func(a ir.Key) bool { return a == k })
	return wasMember
}

// AddLocal records a local addition of k. If k is canonical this undoes a
// pending removal instead. It reports whether effective membership changed.
func (s *State) AddLocal(k ir.Key) bool {
	if _, ok := s.inCanon[k]; ok {
		if _, removed := s.removals[k]; removed {
			delete(s.removals, k)
			return true
		}
		return false
	}
	if slices.Contains(s.additions, k) {
		return false
	}
	s.additions = append(s.additions, k)
	return true
}

// RemoveLocal records a local removal of k. If k is not canonical this drops
// its local addition instead. It reports whether effective membership
// changed.
func (s *State) RemoveLocal(k ir.Key) bool {
	if _, ok := s.inCanon[k]; ok {
		if _, removed := s.removals[k]; removed {
			return false
		}
		s.removals[k] = struct{}{}
		return true
	}
	n := len(s.additions)
	s.additions = slices.DeleteFunc(s.additions, func(a ir.Key) bool { return a == k })
	return len(s.additions) != n
}

// Rollback discards all local edits. It returns the discarded additions in
// insertion order and the discarded removals in canonical order.
func (s *State) Rollback() (discardedAdds, discardedRemovals []ir.Key) {
	discardedAdds = s.additions
	discardedRemovals = s.Removals()
	s.additions = nil
	clear(s.removals)
	return discardedAdds, discardedRemovals
}

// IsDirty reports whether any local edit is pending.
func (s *State) IsDirty() bool {
	return len(s.additions) > 0 || len(s.removals) > 0
}

// Effective returns the effective members: canonical order minus removals,
// then additions in insertion order. Never nil.
func (s *State) Effective() []ir.Key {
	out := make([]ir.Key, 0, len(s.canonical)+len(s.additions))
	for _, k := range s.canonical {
		if _, removed := s.removals[k]; !removed {
			out = append(out, k)
		}
	}
	return append(out, s.additions...)
}

// Canonical returns a copy of the canonical members. Never nil.
func (s *State) Canonical() []ir.Key {
	return append(make([]ir.Key, 0, len(s.canonical)), s.canonical...)
}

// Additions returns a copy of the local additions. Never nil.
func (s *State) Additions() []ir.Key {
	return append(make([]ir.Key, 0, len(s.additions)), s.additions...)
}

// Removals returns the local removals in canonical order. Never nil.
func (s *State) Removals() []ir.Key {
	out := make([]ir.Key, 0, len(s.removals))
	for _, k := range s.canonical {
		if _, ok := s.removals[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Has reports whether k is an effective member.
func (s *State) Has(k ir.Key) bool {
	if _, ok := s.inCanon[k]; ok {
		_, removed := s.removals[k]
		return !removed
	}
	return slices.Contains(s.additions, k)
}

// IsCanonical reports whether k is a canonical member, removed or not.
func (s *State) IsCanonical(k ir.Key) bool {
	_, ok := s.inCanon[k]
	return ok
}

// Len returns the effective member count.
func (s *State) Len() int {
	return len(s.canonical) - len(s.removals) + len(s.additions)
}

// Loaded reports whether the field has been fully materialized.
func (s *State) Loaded() bool {
	return s.loaded
}

// Pending reports whether a materialization fetch is in flight.
func (s *State) Pending() bool {
	return s.pending
}

// SetPending records whether a materialization fetch is in flight.
func (s *State) SetPending(p bool) {
	s.pending = p
}

// Stamp returns the clock value of the last canonical change to k.
func (s *State) Stamp(k ir.Key) int64 {
	return s.stamps[k]
}

func dedupe(keys []ir.Key) []ir.Key {
	out := make([]ir.Key, 0, len(keys))
	seen := make(map[ir.Key]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
