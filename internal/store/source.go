package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/schema"
)

// Source serves stored records to the engine. It implements engine.Loader.
//
// Membership of an owner's field is the union of the links stored on the
// owner and the links stored on the inverse side, so fixtures may be
// written from either end of a relationship.
type Source struct {
	store    *Store
	registry *schema.Registry
	logger   *slog.Logger
}

// NewSource creates a Source over s. reg must be frozen.
func NewSource(s *Store, reg *schema.Registry, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{store: s, registry: reg, logger: logger}
}

// Write validates p against typ's model and stores it.
func (src *Source) Write(ctx context.Context, typ string, p ir.Payload) error {
	model, err := src.registry.Model(typ)
	if err != nil {
		return fmt.Errorf("write %s: %w", typ, err)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("write %s: %w", ir.NewKey(typ, p.ID), err)
	}

	rec := Record{
		Key:           ir.NewKey(typ, p.ID),
		Attributes:    p.Attributes,
		Relationships: make(map[string][]ir.Key, len(p.Relationships)),
	}
	for name, ids := range p.Relationships {
		f := model.Field(name)
		if f == nil {
			return fmt.Errorf("write %s: %w: %q", rec.Key, schema.ErrUnknownField, name)
		}
		members := make([]ir.Key, len(ids))
		for i, id := range ids {
			members[i] = ir.NewKey(f.Target, id)
		}
		rec.Relationships[name] = members
	}
	return src.store.WriteRecord(ctx, rec)
}

// Payload returns the stored record for key as a payload, or ErrNotFound.
func (src *Source) Payload(ctx context.Context, key ir.Key) (ir.Payload, error) {
	rec, err := src.store.ReadRecord(ctx, key)
	if err != nil {
		return ir.Payload{}, err
	}
	return toPayload(rec), nil
}

// FetchRelated returns a payload for every member of key's field. Members
// with no stored record come back as bare ids.
func (src *Source) FetchRelated(ctx context.Context, key ir.Key, field string) ([]ir.Payload, error) {
	f, err := src.registry.Field(key.Type, field)
	if err != nil {
		return nil, fmt.Errorf("fetch %s.%s: %w", key, field, err)
	}

	members, err := src.store.Members(ctx, key, field)
	if err != nil {
		return nil, fmt.Errorf("fetch %s.%s: %w", key, field, err)
	}
	if inv := src.registry.InverseOf(f); inv != nil {
		referrers, err := src.store.Referrers(ctx, key, f.Target, inv.Name)
		if err != nil {
			return nil, fmt.Errorf("fetch %s.%s: %w", key, field, err)
		}
		members = union(members, referrers)
	}

	payloads := make([]ir.Payload, 0, len(members))
	for _, m := range members {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := src.Payload(ctx, m)
		if errors.Is(err, ErrNotFound) {
			payloads = append(payloads, ir.Payload{ID: m.ID})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("fetch %s.%s: %w", key, field, err)
		}
		payloads = append(payloads, p)
	}

	src.logger.Debug("source fetch",
		"record", key.String(),
		"field", field,
		"members", len(payloads),
	)
	return payloads, nil
}

func toPayload(rec Record) ir.Payload {
	p := ir.Payload{ID: rec.Key.ID, Attributes: rec.Attributes}
	if len(rec.Relationships) > 0 {
		p.Relationships = make(map[string][]string, len(rec.Relationships))
		for field, members := range rec.Relationships {
			ids := make([]string, len(members))
			for i, m := range members {
				ids[i] = m.ID
			}
			p.Relationships[field] = ids
		}
	}
	return p
}

// union appends the keys of b missing from a, keeping order.
func union(a, b []ir.Key) []ir.Key {
	seen := make(map[ir.Key]bool, len(a)+len(b))
	out := make([]ir.Key, 0, len(a)+len(b))
	for _, k := range append(a, b...) {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
