// Package sqlitekv is the L3 cross-device, small-quota store: a tiny
// fixed-row metadata table (tier, preferences, session count) backed by
// github.com/mattn/go-sqlite3, adapted from the teacher's
// storage/sqlite3/sqlite3.go prepared-statement stgBase -- narrowed from
// its generic create/trim/insert/select command table down to the one
// row this tier is allowed to hold.
package sqlitekv

import (
	"context"
	"database/sql"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

const createTable = `CREATE TABLE IF NOT EXISTS metadata (
	id INTEGER PRIMARY KEY CHECK (id = 0),
	tier TEXT,
	preferences TEXT,
	session_count TEXT
)`

const upsert = `INSERT INTO metadata (id, tier, preferences, session_count)
	VALUES (0, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		tier = excluded.tier,
		preferences = excluded.preferences,
		session_count = excluded.session_count`

const selectRow = `SELECT tier, preferences, session_count FROM metadata WHERE id = 0`

// Store is an L3-tier sqlite-backed small-quota store.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at path and
// ensures the metadata table exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// PutMetadata writes the critical-metadata-only fields this tier is
// scoped to: tier, preferences, session_count. Unknown keys are ignored.
func (s *Store) PutMetadata(ctx context.Context, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, upsert, fields["tier"], fields["preferences"], fields["session_count"])
	return err
}

// GetMetadata reads back the single metadata row, used on startup to
// detect an L1/L2 wipe (a nonzero prior session_count with no snapshot
// found in either tier).
func (s *Store) GetMetadata(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRowContext(ctx, selectRow)
	var tier, prefs, count sql.NullString
	if err := row.Scan(&tier, &prefs, &count); err != nil {
		if err == sql.ErrNoRows {
			return map[string]string{}, nil
		}
		return nil, err
	}
	return map[string]string{
		"tier":          tier.String,
		"preferences":   prefs.String,
		"session_count": count.String,
	}, nil
}
