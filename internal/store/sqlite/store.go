// Package sqlite implements the default embedded store backend. Rows live
// in a two-column table keyed by row id, with the typed row serialized as a
// JSON document; this keeps the schema fixed while imported files stay
// heterogeneous per row.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"rowlab/internal/dataset"
	"rowlab/internal/store"

	"github.com/goccy/go-json"
)

const (
	// insertChunk bounds rows per INSERT statement. Two bind parameters per
	// row keeps this far under SQLite's variable limit.
	insertChunk = 1000

	// scanChunk is the keyset page size for full-table scans.
	scanChunk = 10000
)

var schemaSQL = []string{
	`CREATE TABLE IF NOT EXISTS dataset_rows (
  id  TEXT PRIMARY KEY,
  doc BLOB NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS dataset_manifest (
  k   INTEGER PRIMARY KEY CHECK (k = 1),
  doc BLOB NOT NULL
)`,
}

// Repo implements store.Store for SQLite via modernc.org/sqlite (pure Go,
// no cgo), which is what makes the single-machine no-server deployment work.
type Repo struct {
	db        *sql.DB
	scanChunk int
}

func init() {
	store.Register("sqlite", New)
}

// New opens (creating if necessary) a SQLite-backed store at cfg.DSN.
func New(ctx context.Context, cfg store.Config) (store.Store, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// The write path is a single serialized writer; one connection avoids
	// SQLITE_BUSY between the writer and chunked readers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, stmt := range schemaSQL {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: create schema: %w", err)
		}
	}

	chunk := cfg.ChunkSize
	if chunk <= 0 {
		chunk = scanChunk
	}
	return &Repo{db: db, scanChunk: chunk}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// Clear empties the row table in one statement, which SQLite applies
// atomically; readers see either the full prior generation or none of it.
func (r *Repo) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM dataset_rows`); err != nil {
		return fmt.Errorf("sqlite: clear: %w", err)
	}
	return nil
}

// UpsertMany writes the batch in a single transaction, chunking the INSERT
// statements. A failure rolls the whole batch back, so written is 0 unless
// the commit succeeded.
func (r *Repo) UpsertMany(ctx context.Context, rows []dataset.Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for start := 0; start < len(rows); start += insertChunk {
		end := start + insertChunk
		if end > len(rows) {
			end = len(rows)
		}
		if err := insertRowsChunk(ctx, tx, rows[start:end]); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit batch: %w", err)
	}
	return len(rows), nil
}

func insertRowsChunk(ctx context.Context, tx *sql.Tx, rows []dataset.Row) error {
	var b strings.Builder
	b.WriteString(`INSERT OR REPLACE INTO dataset_rows (id, doc) VALUES `)

	args := make([]any, 0, len(rows)*2)
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?)")

		doc, err := dataset.EncodeRow(row)
		if err != nil {
			return err
		}
		args = append(args, row.ID(), doc)
	}

	if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("sqlite: upsert chunk: %w", err)
	}
	return nil
}

func (r *Repo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dataset_rows`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count: %w", err)
	}
	return n, nil
}

func (r *Repo) CursorRead(ctx context.Context, offset, limit int) ([]dataset.Row, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT doc FROM dataset_rows ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite: cursor read: %w", err)
	}
	defer rows.Close()

	return collectDocs(rows)
}

// Scan pages by keyset (id > last) so each query into the storage layer is
// bounded; the visit callback runs between pages without an open result set.
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

// scanPage fetches one keyset page. The id column is returned separately:
// the keyset cursor must use the stored key, not the row's rendering of it.
func (r *Repo) scanPage(ctx context.Context, afterID string) ([]dataset.Row, []string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, doc FROM dataset_rows WHERE id > ? ORDER BY id LIMIT ?`, afterID, r.scanChunk)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: scan page: %w", err)
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
			return nil, nil, fmt.Errorf("sqlite: scan row: %w", err)
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
		return fmt.Errorf("sqlite: encode manifest: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO dataset_manifest (k, doc) VALUES (1, ?)`, doc)
	if err != nil {
		return fmt.Errorf("sqlite: save manifest: %w", err)
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
		return nil, fmt.Errorf("sqlite: load manifest: %w", err)
	}

	var m store.Manifest
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, fmt.Errorf("sqlite: decode manifest: %w", err)
	}
	return &m, nil
}

func collectDocs(rows *sql.Rows) ([]dataset.Row, error) {
	var out []dataset.Row
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("sqlite: scan doc: %w", err)
		}
		row, err := dataset.DecodeRow(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

var _ store.Store = (*Repo)(nil)
