package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a record is not in the store.
var ErrNotFound = errors.New("record not found")

// pragma is one connection setting and the value SQLite reports once it
// has taken effect.
type pragma struct {
	name   string
	value  string
	report string
}

var pragmas = []pragma{
	{name: "journal_mode", value: "WAL", report: "wal"},
	{name: "synchronous", value: "NORMAL", report: "1"},
	{name: "busy_timeout", value: "5000", report: "5000"},
}

// migration upgrades a database created by an older schema.sql. Versions
// are recorded in PRAGMA user_version and applied in order.
type migration struct {
	version int
	stmt    string
}

var migrations = []migration{
	// Inverse-side lookups for Referrers.
	{version: 1, stmt: `CREATE INDEX IF NOT EXISTS idx_links_member
		ON links(member_type, member_id, owner_type, field)`},
}

// schemaVersion is the user_version of a fully migrated database.
var schemaVersion = migrations[len(migrations)-1].version

// Store is the server-side record source: canonical records and their
// relationship membership, served to the engine through Source.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at path, applies the pragmas
// and brings the schema up to date. Pass ":memory:" for a throwaway
// database. Opening the same file again is safe.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// One connection: SQLite has a single writer, and each connection to
	// ":memory:" would see its own database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	for _, p := range pragmas {
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			return fmt.Errorf("failed to set pragma %s: %w", p.name, err)
		}
	}
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return s.migrate()
}

// migrate runs every migration newer than the database's user_version, each
// in its own transaction together with the version bump.
func (s *Store) migrate() error {
	var current int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
	}

	// A new database gets the full schema from schema.sql.
	if current < schemaVersion {
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
	}
	return nil
}

// Close closes the database. Closing a zero Store is a no-op.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// pragmaValue reads the current value of a pragma.
func (s *Store) pragmaValue(name string) (string, error) {
	var v string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&v); err != nil {
		return "", fmt.Errorf("failed to read pragma %s: %w", name, err)
	}
	return v, nil
}
