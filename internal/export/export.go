// Package export writes rows back out as delimited text, restoring the
// original column order and dropping derived columns.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"rowlab/internal/dataset"
)

// Writer emits rows in the shape the file had at import time.
//
// Columns is the manifest's header, in original order; derived columns such
// as the label word count are excluded simply by not appearing there.
// Delimiter selects comma or tab output.
type Writer struct {
	Columns   []string
	Delimiter rune
}

// Write streams a header plus one record per row to w.
//
// A cell whose column is absent from a row is written empty, which
// reproduces the empty cell the import omitted. Numeric cells use the
// shortest round-tripping decimal form.
func (e *Writer) Write(w io.Writer, rows []dataset.Row) error {
	if len(e.Columns) == 0 {
		return fmt.Errorf("export: no columns to write")
	}

	cw := csv.NewWriter(w)
	if e.Delimiter != 0 {
		cw.Comma = e.Delimiter
	}

	if err := cw.Write(e.Columns); err != nil {
		return fmt.Errorf("export header: %w", err)
	}

	record := make([]string, len(e.Columns))
	for i, row := range rows {
		for j, col := range e.Columns {
			record[j] = row[col].Cell()
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("export row %d: %w", i+1, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export flush: %w", err)
	}
	return nil
}

// WriteGzip is Write behind a gzip stream, for large exports.
func (e *Writer) WriteGzip(w io.Writer, rows []dataset.Row) error {
	gz := gzip.NewWriter(w)
	if err := e.Write(gz, rows); err != nil {
		gz.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("export gzip: %w", err)
	}
	return nil
}

// Filename derives an output path from the import source by inserting a
// timestamp before the extension, e.g. photos.csv -> photos_20260825T141500.csv.
// A .gz suffix is appended for gzip output.
func Filename(source string, at time.Time, gzipped bool) string {
	ext := filepath.Ext(source)
	base := strings.TrimSuffix(source, ext)
	if ext == "" {
		ext = ".csv"
	}
	name := fmt.Sprintf("%s_%s%s", base, at.Format("20060102T150405"), ext)
	if gzipped {
		name += ".gz"
	}
	return name
}
