package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"yojak/internal/domain"
)

// SQLStore implements Store over an embedded SQLite database. Records are
// kept as JSON bodies keyed by (type, id), so the same engine logic runs
// unchanged against it.
type SQLStore struct {
	db *sql.DB
}

// OpenSQL opens (creating if needed) the record database at path and
// ensures the schema exists.
func OpenSQL(path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?cache=shared", path))
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS records (
		type TEXT NOT NULL,
		id   TEXT NOT NULL,
		body TEXT NOT NULL,
		PRIMARY KEY (type, id)
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure records table: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) Get(ctx context.Context, t domain.RecordType, id string) (domain.Record, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM records WHERE type=? AND id=?`, string(t), id).Scan(&body)
	if err == sql.ErrNoRows {
		return domain.Record{}, ErrNotFound
	}
	if err != nil {
		return domain.Record{}, err
	}
	var rec domain.Record
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return domain.Record{}, fmt.Errorf("decode record %s/%s: %w", t, id, err)
	}
	return rec, nil
}

func (s *SQLStore) Put(ctx context.Context, rec domain.Record) error {
	if !domain.ValidType(rec.Type) {
		return fmt.Errorf("unknown record type %q", rec.Type)
	}
	if rec.ID == "" {
		return fmt.Errorf("record id is required")
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s/%s: %w", rec.Type, rec.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO records(type,id,body) VALUES (?,?,?)
		ON CONFLICT(type,id) DO UPDATE SET body=excluded.body`, string(rec.Type), rec.ID, string(body))
	return err
}

func (s *SQLStore) List(ctx context.Context, t domain.RecordType) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM records WHERE type=? ORDER BY id`, string(t))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []domain.Record
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var rec domain.Record
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
