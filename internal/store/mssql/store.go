// Package mssql implements the row store on Microsoft SQL Server. Upserts
// use MERGE over a VALUES table constructor, chunked to stay under the
// driver's 2100-parameter statement limit.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"rowlab/internal/dataset"
	"rowlab/internal/store"

	"github.com/goccy/go-json"
)

const (
	// 2 parameters per row; 1000 rows stays well below 2100 params.
	insertChunk = 1000
	scanChunk   = 10000
)

var schemaSQL = []string{
	`IF OBJECT_ID('dataset_rows', 'U') IS NULL
CREATE TABLE dataset_rows (
  id  NVARCHAR(450) NOT NULL PRIMARY KEY,
  doc VARBINARY(MAX) NOT NULL
)`,
	`IF OBJECT_ID('dataset_manifest', 'U') IS NULL
CREATE TABLE dataset_manifest (
  k   INT NOT NULL PRIMARY KEY CHECK (k = 1),
  doc VARBINARY(MAX) NOT NULL
)`,
}

// Repo implements store.Store for SQL Server.
type Repo struct {
	db        *sql.DB
	scanChunk int
}

func init() {
	store.Register("mssql", New)
}

// New opens a SQL Server-backed store, creating the schema if needed.
func New(ctx context.Context, cfg store.Config) (store.Store, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, stmt := range schemaSQL {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("mssql: create schema: %w", err)
		}
	}

	chunk := cfg.ChunkSize
	if chunk <= 0 {
		chunk = scanChunk
	}
	return &Repo{db: db, scanChunk: chunk}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `TRUNCATE TABLE dataset_rows`); err != nil {
		return fmt.Errorf("mssql: clear: %w", err)
	}
	return nil
}

func (r *Repo) UpsertMany(ctx context.Context, rows []dataset.Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mssql: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for start := 0; start < len(rows); start += insertChunk {
		end := start + insertChunk
		if end > len(rows) {
			end = len(rows)
		}
		stmt, args, err := buildMergeSQL(rows[start:end])
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return 0, fmt.Errorf("mssql: upsert chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mssql: commit batch: %w", err)
	}
	return len(rows), nil
}

// buildMergeSQL constructs a chunked MERGE upsert and its args. Pure, so
// parameter numbering is testable without a server.
//
// MERGE rejects a source that updates or inserts the same target row twice,
// so duplicate ids inside the chunk collapse to their last occurrence
// before the VALUES constructor is built.
func buildMergeSQL(rows []dataset.Row) (string, []any, error) {
	rows = dataset.DedupeByID(rows)

	var b strings.Builder
	b.WriteString(`MERGE INTO dataset_rows AS t USING (VALUES `)

	args := make([]any, 0, len(rows)*2)
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "(@p%d, @p%d)", i*2+1, i*2+2)

		doc, err := dataset.EncodeRow(row)
		if err != nil {
			return "", nil, err
		}
		args = append(args, row.ID(), doc)
	}

	b.WriteString(`) AS s (id, doc) ON t.id = s.id
WHEN MATCHED THEN UPDATE SET doc = s.doc
WHEN NOT MATCHED THEN INSERT (id, doc) VALUES (s.id, s.doc);`)

	return b.String(), args, nil
}

func (r *Repo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT_BIG(*) FROM dataset_rows`).Scan(&n); err != nil {
		return 0, fmt.Errorf("mssql: count: %w", err)
	}
	return n, nil
}

func (r *Repo) CursorRead(ctx context.Context, offset, limit int) ([]dataset.Row, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT doc FROM dataset_rows ORDER BY id
		 OFFSET @p1 ROWS FETCH NEXT @p2 ROWS ONLY`, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("mssql: cursor read: %w", err)
	}
	defer rows.Close()

	var out []dataset.Row
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("mssql: scan doc: %w", err)
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
	rows, err := r.db.QueryContext(ctx,
		`SELECT TOP (@p1) id, doc FROM dataset_rows WHERE id > @p2 ORDER BY id`,
		r.scanChunk, afterID)
	if err != nil {
		return nil, nil, fmt.Errorf("mssql: scan page: %w", err)
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
			return nil, nil, fmt.Errorf("mssql: scan row: %w", err)
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
		return fmt.Errorf("mssql: encode manifest: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`MERGE INTO dataset_manifest AS t USING (VALUES (1, @p1)) AS s (k, doc) ON t.k = s.k
WHEN MATCHED THEN UPDATE SET doc = s.doc
WHEN NOT MATCHED THEN INSERT (k, doc) VALUES (s.k, s.doc);`, doc)
	if err != nil {
		return fmt.Errorf("mssql: save manifest: %w", err)
	}
	return nil
}

func (r *Repo) LoadManifest(ctx context.Context) (*store.Manifest, error) {
	var doc []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT doc FROM dataset_manifest WHERE k = 1`).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mssql: load manifest: %w", err)
	}

	var m store.Manifest
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, fmt.Errorf("mssql: decode manifest: %w", err)
	}
	return &m, nil
}

var _ store.Store = (*Repo)(nil)
