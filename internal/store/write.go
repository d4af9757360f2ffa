package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/tandem/internal/ir"
)

// Record is one stored record: its attributes and the relationship fields
// it was written with. A field present with no members asserts emptiness.
type Record struct {
	Key           ir.Key
	Attributes    ir.Object
	Relationships map[string][]ir.Key
}

// WriteRecord upserts rec in a single transaction. Attributes are replaced;
// each relationship field rec carries replaces that field's stored
// membership, keeping the given order. Fields rec does not carry are left
// as they were.
func (s *Store) WriteRecord(ctx context.Context, rec Record) error {
	if rec.Key.Type == "" || rec.Key.ID == "" {
		return fmt.Errorf("write record: key %q is incomplete", rec.Key)
	}
	attrsJSON, err := marshalAttributes(rec.Attributes)
	if err != nil {
		return fmt.Errorf("write record %s: %w", rec.Key, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write record %s: begin: %w", rec.Key, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (type, id, attributes)
		VALUES (?, ?, ?)
		ON CONFLICT(type, id) DO UPDATE SET attributes = excluded.attributes
	`, rec.Key.Type, rec.Key.ID, attrsJSON)
	if err != nil {
		return fmt.Errorf("write record %s: %w", rec.Key, err)
	}

	fields := make([]string, 0, len(rec.Relationships))
	for f := range rec.Relationships {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO record_fields (type, id, field) VALUES (?, ?, ?)
			ON CONFLICT DO NOTHING
		`, rec.Key.Type, rec.Key.ID, field); err != nil {
			return fmt.Errorf("write record %s: field %s: %w", rec.Key, field, err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM links WHERE owner_type = ? AND owner_id = ? AND field = ?
		`, rec.Key.Type, rec.Key.ID, field); err != nil {
			return fmt.Errorf("write record %s: field %s: %w", rec.Key, field, err)
		}
		for pos, member := range rec.Relationships[field] {
			// Repeated members keep their first position.
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO links (owner_type, owner_id, field, position, member_type, member_id)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT DO NOTHING
			`, rec.Key.Type, rec.Key.ID, field, pos, member.Type, member.ID); err != nil {
				return fmt.Errorf("write record %s: link %s: %w", rec.Key, member, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write record %s: commit: %w", rec.Key, err)
	}
	return nil
}

// DeleteRecord removes a record, its fields and every link it owns. Links
// other records hold to it are kept: the server side is not required to be
// symmetric.
func (s *Store) DeleteRecord(ctx context.Context, key ir.Key) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete record %s: begin: %w", key, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM records WHERE type = ? AND id = ?`, key.Type, key.ID)
	if err != nil {
		return fmt.Errorf("delete record %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete record %s: %w", key, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM record_fields WHERE type = ? AND id = ?`, key.Type, key.ID); err != nil {
		return fmt.Errorf("delete record %s: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM links WHERE owner_type = ? AND owner_id = ?`, key.Type, key.ID); err != nil {
		return fmt.Errorf("delete record %s: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete record %s: commit: %w", key, err)
	}
	return nil
}
