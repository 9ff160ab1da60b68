// Package sqlite provides a SQLite-backed implementation of storage.Store
// using database/sql with the modernc.org/sqlite driver (no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/harborlane/mcpserver/storage"
)

// Store implements storage.Store on a single SQLite table.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS records (
	id         TEXT PRIMARY KEY,
	fields     TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]storage.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fields, created_at FROM records ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var recs []storage.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

func (s *Store) Get(ctx context.Context, id string) (*storage.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, fields, created_at FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (s *Store) Put(ctx context.Context, rec storage.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record id is required")
	}
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields for %s: %w", rec.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO records (id, fields, created_at) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET fields = excluded.fields`,
		rec.ID, string(fields), rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to store record %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*storage.Record, error) {
	var (
		rec       storage.Record
		fields    string
		createdAt time.Time
	)
	if err := row.Scan(&rec.ID, &fields, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}
	if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fields for %s: %w", rec.ID, err)
	}
	rec.CreatedAt = createdAt
	return &rec, nil
}
