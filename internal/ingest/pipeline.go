// Package ingest turns a raw delimited-text stream into typed rows and
// drains them into the row store in fixed-size batches. Parsing and
// persisting run concurrently: batches queue behind a single writer, so at
// most one store write is in flight while the parser keeps building the
// next batch.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"rowlab/internal/config"
	"rowlab/internal/dataset"
	"rowlab/internal/metrics"
	"rowlab/internal/store"
)

// FileKind selects the delimiter for an import. The caller decides the kind
// (typically from the file extension); the pipeline never sniffs.
type FileKind string

const (
	KindCSV FileKind = "csv"
	KindTSV FileKind = "tsv"
)

// ParseKind validates a user-supplied kind string.
func ParseKind(s string) (FileKind, error) {
	switch FileKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindCSV:
		return KindCSV, nil
	case KindTSV:
		return KindTSV, nil
	}
	return "", fmt.Errorf("ingest: unknown file kind %q (want csv or tsv)", s)
}

// Delimiter returns the field separator for the kind.
func (k FileKind) Delimiter() rune {
	if k == KindTSV {
		return '\t'
	}
	return ','
}

// Logger is the minimal logging interface used by the engines.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// ParseError is a fatal malformed-input error. Rows already durably written
// remain in the store; the caller must Clear() before retrying a corrected
// file.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Summary reports a completed import.
type Summary struct {
	// Rows is the number of accepted (durably written) rows.
	Rows int64
	// Skipped counts records dropped for a missing or empty id. A defined
	// exclusion, not an error.
	Skipped int64
	// Kind echoes the delimiter kind of the import.
	Kind FileKind
	// Columns is the original header order, needed for faithful export.
	Columns []string
}

// Pipeline streams one delimited file into the store.
//
// The store is not cleared here; the caller owns the clear-then-ingest
// sequence so a failed import can be retried explicitly.
type Pipeline struct {
	Store   store.Store
	Logger  Logger
	Metrics metrics.Backend
	Runtime config.Runtime
}

func (p *Pipeline) logger() func(format string, v ...any) {
	if p.Logger == nil {
		l := log.New(io.Discard, "", 0)
		return l.Printf
	}
	return p.Logger.Printf
}

// Run ingests src until EOF.
//
// totalBytes, when > 0, drives the progress estimate; pass <= 0 for streams
// of unknown length. onProgress (optional) receives estimated percentages
// in [0,100); exactly 100 is reported only after every batch is durable.
//
// Error behavior:
//   - A malformed record aborts immediately with a *ParseError.
//   - A store write failure aborts the pipeline; the error reports how many
//     rows were durably written before the failure. Flushed batches are not
//     rolled back.
func (p *Pipeline) Run(ctx context.Context, src io.Reader, kind FileKind, totalBytes int64, onProgress func(pct float64)) (*Summary, error) {
	if p.Store == nil {
		return nil, fmt.Errorf("ingest: Store is required")
	}

	rt := p.Runtime.Normalized()
	met := metrics.OrNop(p.Metrics)
	logf := p.logger()
	start := time.Now()

	cr := newCountingReader(src)
	r := csv.NewReader(cr)
	r.Comma = kind.Delimiter()
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	line := 0
	readRec := func() ([]string, error) {
		line++
		return r.Read()
	}

	hdr, err := readRec()
	if err != nil {
		return nil, &ParseError{Line: line, Err: fmt.Errorf("read header: %w", err)}
	}
	columns := make([]string, len(hdr))
	for i, h := range hdr {
		columns[i] = config.NormalizeHeader(h, i == 0)
	}
	if !hasIDColumn(columns) {
		return nil, &ParseError{Line: line, Err: fmt.Errorf("header has no %q column", dataset.IDColumn)}
	}

	// Single-writer queue: one goroutine drains batches so at most one
	// store write is in flight; the buffered channel lets the parser run
	// ahead while a write is outstanding.
	batchCh := make(chan []dataset.Row, rt.QueueDepth)

	var written int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for batch := range batchCh {
			n, err := p.Store.UpsertMany(gctx, batch)
			written += int64(n)
			if err != nil {
				return fmt.Errorf("ingest: store write failed after %d durable rows: %w", written, err)
			}
			met.IncCounter(metrics.BatchesTotal, 1, nil)
		}
		return nil
	})

	var (
		skipped int64
		records int64
		sendErr error
	)
	batch := make([]dataset.Row, 0, rt.BatchSize)

	send := func(rows []dataset.Row) bool {
		select {
		case batchCh <- rows:
			return true
		case <-gctx.Done():
			// Writer failed or caller canceled; stop producing.
			sendErr = gctx.Err()
			return false
		}
	}

produce:
	for {
		select {
		case <-gctx.Done():
			sendErr = gctx.Err()
			break produce
		default:
		}

		rec, err := readRec()
		if err == io.EOF {
			break
		}
		if err != nil {
			close(batchCh)
			_ = g.Wait()
			return nil, &ParseError{Line: line, Err: err}
		}

		records++
		row, ok := dataset.FromRecord(columns, rec)
		if !ok {
			skipped++
			met.IncCounter(metrics.RowsTotal, 1, metrics.Labels{"kind": "skipped"})
			continue
		}

		met.IncCounter(metrics.RowsTotal, 1, metrics.Labels{"kind": "accepted"})
		batch = append(batch, row)
		if len(batch) >= rt.BatchSize {
			out := batch
			batch = make([]dataset.Row, 0, rt.BatchSize)
			if !send(out) {
				break produce
			}
		}

		if onProgress != nil && records%int64(rt.ProgressEvery) == 0 {
			onProgress(estimateProgress(cr.read, totalBytes, records, rt.ProgressEvery))
		}
	}

	if sendErr == nil && len(batch) > 0 {
		send(batch)
	}
	close(batchCh)

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if sendErr != nil {
		// The writer ended cleanly, so the cancellation came from the caller.
		return nil, sendErr
	}

	if onProgress != nil {
		onProgress(100)
	}

	dur := time.Since(start)
	met.ObserveHistogram(metrics.ScanDurationSeconds, dur.Seconds(), metrics.Labels{"stage": "ingest", "status": "ok"})
	logf("stage=ingest ok kind=%s rows=%d skipped=%d duration=%s", kind, written, skipped, dur.Truncate(time.Millisecond))

	return &Summary{
		Rows:    written,
		Skipped: skipped,
		Kind:    kind,
		Columns: columns,
	}, nil
}

func hasIDColumn(columns []string) bool {
	for _, c := range columns {
		if strings.EqualFold(c, dataset.IDColumn) {
			return true
		}
	}
	return false
}

// estimateProgress returns a percentage strictly below 100. With a known
// total size it is the byte ratio; otherwise an asymptotic record-based
// guess that grows monotonically.
func estimateProgress(bytesRead, totalBytes, records int64, progressEvery int) float64 {
	var pct float64
	if totalBytes > 0 {
		pct = float64(bytesRead) / float64(totalBytes) * 100
	} else {
		pct = float64(records) / float64(records+int64(progressEvery)) * 100
	}
	if pct >= 99.9 {
		pct = 99.9
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}

// countingReader tracks bytes consumed from the underlying stream. Only the
// parsing goroutine reads the counter, so no synchronization is needed.
type countingReader struct {
	r    io.Reader
	read int64
}

func newCountingReader(r io.Reader) *countingReader { return &countingReader{r: r} }

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += int64(n)
	return n, err
}
