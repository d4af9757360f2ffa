package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/tandem/internal/ir"
)

// ReadRecord returns the stored record for key, or ErrNotFound.
// Relationships holds every field the record was written with, members in
// written order.
func (s *Store) ReadRecord(ctx context.Context, key ir.Key) (Record, error) {
	var attrsJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT attributes FROM records WHERE type = ? AND id = ?
	`, key.Type, key.ID).Scan(&attrsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("read record %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("read record %s: %w", key, err)
	}

	attrs, err := unmarshalAttributes(attrsJSON)
	if err != nil {
		return Record{}, fmt.Errorf("read record %s: %w", key, err)
	}
	rec := Record{Key: key, Attributes: attrs, Relationships: map[string][]ir.Key{}}

	fields, err := s.recordFields(ctx, key)
	if err != nil {
		return Record{}, err
	}
	for _, field := range fields {
		members, err := s.Members(ctx, key, field)
		if err != nil {
			return Record{}, err
		}
		rec.Relationships[field] = members
	}
	return rec, nil
}

func (s *Store) recordFields(ctx context.Context, key ir.Key) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT field FROM record_fields
		WHERE type = ? AND id = ?
		ORDER BY field COLLATE BINARY ASC
	`, key.Type, key.ID)
	if err != nil {
		return nil, fmt.Errorf("query fields of %s: %w", key, err)
	}
	defer rows.Close()

	fields := []string{}
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fields: %w", err)
	}
	return fields, nil
}

// Members returns the members stored on owner's field, in written order.
// Returns an empty slice (not nil) if there are none.
func (s *Store) Members(ctx context.Context, owner ir.Key, field string) ([]ir.Key, error) {
	return s.queryKeys(ctx, `
		SELECT member_type, member_id FROM links
		WHERE owner_type = ? AND owner_id = ? AND field = ?
		ORDER BY position ASC, member_id COLLATE BINARY ASC
	`, owner.Type, owner.ID, field)
}

// Referrers returns the records of ownerType whose field lists member,
// ordered by id. This is the inverse-side view of Members.
func (s *Store) Referrers(ctx context.Context, member ir.Key, ownerType, field string) ([]ir.Key, error) {
	return s.queryKeys(ctx, `
		SELECT owner_type, owner_id FROM links
		WHERE member_type = ? AND member_id = ? AND owner_type = ? AND field = ?
		ORDER BY owner_id COLLATE BINARY ASC
	`, member.Type, member.ID, ownerType, field)
}

// Keys returns every stored record key ordered by type, then id.
func (s *Store) Keys(ctx context.Context) ([]ir.Key, error) {
	return s.queryKeys(ctx, `
		SELECT type, id FROM records
		ORDER BY type COLLATE BINARY ASC, id COLLATE BINARY ASC
	`)
}

// Stats reports the number of stored records and links.
func (s *Store) Stats(ctx context.Context) (records, links int, err error) {
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&records); err != nil {
		return 0, 0, fmt.Errorf("count records: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM links`).Scan(&links); err != nil {
		return 0, 0, fmt.Errorf("count links: %w", err)
	}
	return records, links, nil
}

func (s *Store) queryKeys(ctx context.Context, query string, args ...any) ([]ir.Key, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	keys := []ir.Key{}
	for rows.Next() {
		var typ, id string
		if err := rows.Scan(&typ, &id); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, ir.NewKey(typ, id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}
