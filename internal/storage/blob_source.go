package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteBlobSource reads points from a two-column (id, point) table, the
// layout used by embedded vector databases that persist to SQLite.
type SQLiteBlobSource struct {
	db    *sql.DB
	table string
}

// NewSQLiteBlobSource opens table in the SQLite file at path, creating it if missing.
func NewSQLiteBlobSource(path, table string) (*SQLiteBlobSource, error) {
	if table == "" {
		table = "points"
	}
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid blob table name %q", table)
	}
	if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, point BLOB)`, table)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteBlobSource{db: db, table: table}, nil
}

func (s *SQLiteBlobSource) Name() string { return "sqlite" }

func (s *SQLiteBlobSource) Each(ctx context.Context, fn func(key string, data []byte) error) error {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT id, point FROM %s ORDER BY rowid`, s.table))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key  string
			data []byte
		)
		if err := rows.Scan(&key, &data); err != nil {
			return err
		}
		if err := fn(key, data); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *SQLiteBlobSource) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT point FROM %s WHERE id = ?`, s.table), key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *SQLiteBlobSource) Put(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return errBadKey
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, point) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET point = excluded.point`, s.table),
		key, data)
	return err
}

func (s *SQLiteBlobSource) Remove(ctx context.Context, key string) (bool, error) {
	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, s.table), key)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (s *SQLiteBlobSource) Close() error { return s.db.Close() }

const blobExt = ".json"

// DirBlobSource stores one point per <key>.json file in a directory.
type DirBlobSource struct {
	dir string
}

// NewDirBlobSource uses dir, creating it if missing.
func NewDirBlobSource(dir string) (*DirBlobSource, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &DirBlobSource{dir: dir}, nil
}

func (s *DirBlobSource) Name() string { return "dir" }

// Dir returns the watched directory.
func (s *DirBlobSource) Dir() string { return s.dir }

// Each visits files in lexical order. Files that vanish mid-scan are skipped.
func (s *DirBlobSource) Each(ctx context.Context, fn func(key string, data []byte) error) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), blobExt) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())), data); err != nil {
			return err
		}
	}
	return nil
}

func (s *DirBlobSource) path(key string) string {
	return filepath.Join(s.dir, key+blobExt)
}

func (s *DirBlobSource) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Put writes through a temp file so readers never see a partial point.
func (s *DirBlobSource) Put(ctx context.Context, key string, data []byte) error {
	if key == "" || strings.ContainsAny(key, `/\`) {
		return errBadKey
	}
	tmp, err := os.CreateTemp(s.dir, ".point-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path(key))
}

func (s *DirBlobSource) Remove(ctx context.Context, key string) (bool, error) {
	err := os.Remove(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (s *DirBlobSource) Close() error { return nil }
