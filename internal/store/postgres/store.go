// Package postgres implements the row store on Postgres for deployments
// that already run one. The schema and document codec match the embedded
// SQLite backend; only placeholder style and upsert syntax differ.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rowlab/internal/dataset"
	"rowlab/internal/store"

	"github.com/goccy/go-json"
)

const (
	insertChunk = 1000
	scanChunk   = 10000
)

var schemaSQL = []string{
	`CREATE TABLE IF NOT EXISTS dataset_rows (
  id  TEXT PRIMARY KEY,
  doc BYTEA NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS dataset_manifest (
  k   INTEGER PRIMARY KEY CHECK (k = 1),
  doc BYTEA NOT NULL
)`,
}

// Repo implements store.Store for Postgres.
type Repo struct {
	pool      *pgxpool.Pool
	scanChunk int
}

func init() {
	store.Register("postgres", New)
}

// New opens a Postgres-backed store, creating the schema if needed.
func New(ctx context.Context, cfg store.Config) (store.Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	for _, stmt := range schemaSQL {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres: create schema: %w", err)
		}
	}

	chunk := cfg.ChunkSize
	if chunk <= 0 {
		chunk = scanChunk
	}
	return &Repo{pool: pool, scanChunk: chunk}, nil
}

func (r *Repo) Close() { r.pool.Close() }

func (r *Repo) Clear(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `TRUNCATE dataset_rows`); err != nil {
		return fmt.Errorf("postgres: clear: %w", err)
	}
	return nil
}

// UpsertMany writes the batch in one transaction; on failure nothing from
// the batch is durable.
func (r *Repo) UpsertMany(ctx context.Context, rows []dataset.Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for start := 0; start < len(rows); start += insertChunk {
		end := start + insertChunk
		if end > len(rows) {
			end = len(rows)
		}
		sql, args, err := buildUpsertSQL(rows[start:end])
		if err != nil {
			return 0, err
		}
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return 0, fmt.Errorf("postgres: upsert chunk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit batch: %w", err)
	}
	return len(rows), nil
}

// buildUpsertSQL constructs a multi-row upsert and its args. It is pure so
// placeholder numbering and conflict behavior are testable without a server.
//
// ON CONFLICT DO UPDATE cannot affect the same row twice in one statement,
// so duplicate ids inside the chunk collapse to their last occurrence
// before the VALUES list is built.
func buildUpsertSQL(rows []dataset.Row) (string, []any, error) {
	rows = dataset.DedupeByID(rows)

	var b strings.Builder
	b.WriteString(`INSERT INTO dataset_rows (id, doc) VALUES `)

	args := make([]any, 0, len(rows)*2)
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "($%d, $%d)", i*2+1, i*2+2)

		doc, err := dataset.EncodeRow(row)
		if err != nil {
			return "", nil, err
		}
		args = append(args, row.ID(), doc)
	}
	b.WriteString(` ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`)
	return b.String(), args, nil
}

func (r *Repo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dataset_rows`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count: %w", err)
	}
	return n, nil
}

func (r *Repo) CursorRead(ctx context.Context, offset, limit int) ([]dataset.Row, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT doc FROM dataset_rows ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: cursor read: %w", err)
	}
	defer rows.Close()

	var out []dataset.Row
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("postgres: scan doc: %w", err)
		}
		row, err := dataset.DecodeRow(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *Repo) Scan(ctx context.Context, visit func(dataset.Row) (bool, error)) error {
	lastID := ""
	for {
		page, ids, err := r.scanPage(ctx, lastID)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}

		for _, row := range page {
			keep, err := visit(row)
			if err != nil {
				return err
			}
			if !keep {
				return nil
			}
		}
		lastID = ids[len(ids)-1]
	}
}

func (r *Repo) scanPage(ctx context.Context, afterID string) ([]dataset.Row, []string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, doc FROM dataset_rows WHERE id > $1 ORDER BY id LIMIT $2`, afterID, r.scanChunk)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: scan page: %w", err)
	}
	defer rows.Close()

	var (
		out []dataset.Row
		ids []string
	)
	for rows.Next() {
		var id string
		var doc []byte
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		row, err := dataset.DecodeRow(doc)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, row)
		ids = append(ids, id)
	}
	return out, ids, rows.Err()
}

func (r *Repo) FetchAll(ctx context.Context) ([]dataset.Row, error) {
	var out []dataset.Row
	err := r.Scan(ctx, func(row dataset.Row) (bool, error) {
		out = append(out, row)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) SaveManifest(ctx context.Context, m store.Manifest) error {
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("postgres: encode manifest: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO dataset_manifest (k, doc) VALUES (1, $1)
		 ON CONFLICT (k) DO UPDATE SET doc = EXCLUDED.doc`, doc)
	if err != nil {
		return fmt.Errorf("postgres: save manifest: %w", err)
	}
	return nil
}

func (r *Repo) LoadManifest(ctx context.Context) (*store.Manifest, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx,
		`SELECT doc FROM dataset_manifest WHERE k = 1`).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load manifest: %w", err)
	}

	var m store.Manifest
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, fmt.Errorf("postgres: decode manifest: %w", err)
	}
	return &m, nil
}

var _ store.Store = (*Repo)(nil)
