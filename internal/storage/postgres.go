package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/hyperjump/diaryrag/internal/models"
	"github.com/hyperjump/diaryrag/internal/vector"
)

const backendPostgres = "postgres"

// PostgresStore keeps records in a pgvector column and serves Search with the
// cosine distance operator.
type PostgresStore struct {
	conn  *sql.DB
	table string
	opts  options
}

var (
	_ Store    = (*PostgresStore)(nil)
	_ Searcher = (*PostgresStore)(nil)
)

// NewPostgresStore connects with dsn and ensures the vector extension and table exist.
func NewPostgresStore(ctx context.Context, dsn, table string, opts ...Option) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres store needs a dsn")
	}
	if table == "" {
		table = "diary_embeddings"
	}
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	p := &PostgresStore{conn: conn, table: pq.QuoteIdentifier(table), opts: buildOptions(opts)}
	if err := p.initSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return p, nil
}

func (p *PostgresStore) initSchema(ctx context.Context) error {
	column := "vector"
	if p.opts.dimensions > 0 {
		column = fmt.Sprintf("vector(%d)", p.opts.dimensions)
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq BIGSERIAL,
			diary_id BIGINT PRIMARY KEY,
			text TEXT NOT NULL,
			embedding %s NOT NULL,
			date TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, p.table, column),
	}
	for _, stmt := range stmts {
		if _, err := p.conn.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (p *PostgresStore) Kind() Kind { return KindKeyValue }

func (p *PostgresStore) DecodeFailures() int64 { return p.opts.failures.Load() }

func (p *PostgresStore) Upsert(ctx context.Context, rec models.Record) error {
	if err := p.opts.checkDimensions(rec.Vector); err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (diary_id, text, embedding, date)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (diary_id) DO UPDATE SET
			text = EXCLUDED.text,
			embedding = EXCLUDED.embedding,
			date = EXCLUDED.date,
			updated_at = now()
	`, p.table)
	_, err := p.conn.ExecContext(ctx, query, rec.ID, rec.Text, pgvector.NewVector(rec.Vector), nullString(rec.Date))
	return err
}

func (p *PostgresStore) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := p.conn.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE diary_id = $1`, p.table), id)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (p *PostgresStore) Get(ctx context.Context, id int64) (models.Record, bool, error) {
	var (
		rec  models.Record
		vec  pgvector.Vector
		date sql.NullString
	)
	err := p.conn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT diary_id, text, embedding, date FROM %s WHERE diary_id = $1`, p.table), id,
	).Scan(&rec.ID, &rec.Text, &vec, &date)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Record{}, false, nil
	}
	if err != nil {
		return models.Record{}, false, err
	}
	rec.Date = date.String
	rec.Vector = vec.Slice()
	return rec, true, nil
}

func (p *PostgresStore) Scan(ctx context.Context, fn func(models.Record) error) error {
	rows, err := p.conn.QueryContext(ctx,
		fmt.Sprintf(`SELECT diary_id, text, embedding, date FROM %s ORDER BY seq`, p.table))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec  models.Record
			vec  pgvector.Vector
			date sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Text, &vec, &date); err != nil {
			return err
		}
		rec.Date = date.String
		rec.Vector = vec.Slice()
		if err := p.opts.checkDimensions(rec.Vector); err != nil {
			p.opts.skipped(backendPostgres, rec.ID, err)
			continue
		}
		if err := fn(rec); err != nil {
			return endScan(err)
		}
	}
	return rows.Err()
}

// Search orders by cosine distance. pgvector yields NaN for zero vectors;
// those score 0 like in a linear scan.
func (p *PostgresStore) Search(ctx context.Context, query []float32, limit int, threshold float64) ([]models.ScoredHit, error) {
	hits := []models.ScoredHit{}
	if limit < 1 {
		return hits, nil
	}

	q := fmt.Sprintf(`
		SELECT
			diary_id,
			text,
			date,
			1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1, seq
		LIMIT $2
	`, p.table)

	rows, err := p.conn.QueryContext(ctx, q, pgvector.NewVector(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			hit   models.ScoredHit
			date  sql.NullString
			score sql.NullFloat64
		)
		if err := rows.Scan(&hit.ID, &hit.Text, &date, &score); err != nil {
			return nil, err
		}
		hit.Date = date.String
		if score.Valid && !math.IsNaN(score.Float64) {
			hit.Score = vector.Clamp(score.Float64)
		}
		if hit.Score < threshold {
			continue
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func (p *PostgresStore) Count(ctx context.Context) (int, error) {
	var count int
	err := p.conn.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, p.table)).Scan(&count)
	return count, err
}

func (p *PostgresStore) Close() error {
	return p.conn.Close()
}
