package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/diaryrag/internal/models"
	"github.com/hyperjump/diaryrag/internal/vector"
)

const backendSQLite = "sqlite"

// SQLiteStore keeps one row per diary in the diary_embeddings table, with the
// vector stored as a JSON list of floats.
type SQLiteStore struct {
	db   *sql.DB
	opts options
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// each connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, opts: buildOptions(opts)}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS diary_embeddings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		diary_id INTEGER UNIQUE NOT NULL,
		text TEXT NOT NULL,
		embedding BLOB NOT NULL,
		date TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_diary_embeddings_diary_id ON diary_embeddings(diary_id);
	`
	_, err := db.Exec(schema)
	return err
}

// Kind reports KindKeyValue.
func (s *SQLiteStore) Kind() Kind { return KindKeyValue }

// DecodeFailures returns how many rows were skipped since the store was opened.
func (s *SQLiteStore) DecodeFailures() int64 { return s.opts.failures.Load() }

// Upsert inserts or replaces the row for rec.ID.
func (s *SQLiteStore) Upsert(ctx context.Context, rec models.Record) error {
	if err := s.opts.checkDimensions(rec.Vector); err != nil {
		return err
	}
	embedding, err := vector.EncodeJSON(rec.Vector)
	if err != nil {
		return fmt.Errorf("failed to encode embedding: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO diary_embeddings (diary_id, text, embedding, date)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(diary_id) DO UPDATE SET
			text = excluded.text,
			embedding = excluded.embedding,
			date = excluded.date,
			updated_at = CURRENT_TIMESTAMP`,
		rec.ID, rec.Text, string(embedding), nullString(rec.Date),
	)
	return err
}

// Delete removes the row for id.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM diary_embeddings WHERE diary_id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Get returns the record for id. An undecodable row counts as absent.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (models.Record, bool, error) {
	var (
		rec       models.Record
		embedding []byte
		date      sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT diary_id, text, embedding, date FROM diary_embeddings WHERE diary_id = ?`, id,
	).Scan(&rec.ID, &rec.Text, &embedding, &date)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Record{}, false, nil
	}
	if err != nil {
		return models.Record{}, false, err
	}
	rec.Date = date.String
	if rec.Vector, err = s.decode(embedding); err != nil {
		s.opts.skipped(backendSQLite, id, err)
		return models.Record{}, false, nil
	}
	return rec, true, nil
}

// Scan streams rows in insertion order.
func (s *SQLiteStore) Scan(ctx context.Context, fn func(models.Record) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT diary_id, text, embedding, date FROM diary_embeddings ORDER BY id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec       models.Record
			embedding []byte
			date      sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Text, &embedding, &date); err != nil {
			return err
		}
		rec.Date = date.String
		if rec.Vector, err = s.decode(embedding); err != nil {
			s.opts.skipped(backendSQLite, rec.ID, err)
			continue
		}
		if err := fn(rec); err != nil {
			return endScan(err)
		}
	}
	return rows.Err()
}

func (s *SQLiteStore) decode(b []byte) ([]float32, error) {
	v, err := vector.Decode(b)
	if err != nil {
		return nil, err
	}
	if err := s.opts.checkDimensions(v); err != nil {
		return nil, err
	}
	return v, nil
}

// Count returns the number of stored rows, decodable or not.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM diary_embeddings`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
