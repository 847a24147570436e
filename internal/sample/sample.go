// Package sample computes descriptive statistics over a column, reading the
// whole store when it is small and a deterministic stride sample when it is
// not.
package sample

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"sort"
	"time"

	"rowlab/internal/config"
	"rowlab/internal/dataset"
	"rowlab/internal/metrics"
	"rowlab/internal/store"
)

// HistogramBins is the fixed number of equal-width buckets in a histogram.
const HistogramBins = 20

// Bin is one histogram bucket. Buckets are half-open [Low, High) except the
// last, which closes at the maximum so it catches the top value.
type Bin struct {
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
	Count int     `json:"count"`
}

// ColumnStats describes the numeric values of one column.
//
// When IsSampled is true the figures are estimates computed from SampleSize
// rows out of TotalRows; otherwise they are exact.
type ColumnStats struct {
	Column     string  `json:"column"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Mean       float64 `json:"mean"`
	Median     float64 `json:"median"`
	Q1         float64 `json:"q1"`
	Q3         float64 `json:"q3"`
	SampleSize int     `json:"sample_size"`
	TotalRows  int64   `json:"total_rows"`
	IsSampled  bool    `json:"is_sampled"`
	Histogram  []Bin   `json:"histogram"`
}

// Extreme is one end of the word-count range.
type Extreme struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Words int    `json:"words"`
}

// WordCountRange reports the rows with the longest and shortest labels.
type WordCountRange struct {
	Longest  Extreme `json:"longest"`
	Shortest Extreme `json:"shortest"`
	Rows     int64   `json:"rows"`
}

// Engine samples and summarizes stored rows.
type Engine struct {
	Store   store.Store
	Logger  interface{ Printf(string, ...any) }
	Metrics metrics.Backend
	Runtime config.Runtime
}

func (e *Engine) logf(format string, v ...any) {
	if e.Logger == nil {
		log.New(io.Discard, "", 0).Printf(format, v...)
		return
	}
	e.Logger.Printf(format, v...)
}

// Sample returns up to the configured cap of rows. Below the cap it is the
// full dataset; above it, every stride-th row in id order, which makes the
// sample deterministic for a given store state.
func (e *Engine) Sample(ctx context.Context) ([]dataset.Row, int64, error) {
	rt := e.Runtime.Normalized()

	total, err := e.Store.Count(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("sample count: %w", err)
	}
	if total <= int64(rt.SampleCap) {
		rows, err := e.Store.FetchAll(ctx)
		if err != nil {
			return nil, 0, fmt.Errorf("sample fetch: %w", err)
		}
		return rows, total, nil
	}

	stride := int64(math.Ceil(float64(total) / float64(rt.SampleCap)))
	rows := make([]dataset.Row, 0, rt.SampleCap)
	var idx int64
	err = e.Store.Scan(ctx, func(row dataset.Row) (bool, error) {
		if idx%stride == 0 {
			rows = append(rows, row)
		}
		idx++
		return len(rows) < rt.SampleCap, nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("sample scan: %w", err)
	}
	return rows, total, nil
}

// Describe computes summary statistics for the numeric values of column.
// Text and missing cells are ignored. An error is returned when no row has
// a numeric value in the column.
func (e *Engine) Describe(ctx context.Context, column string) (*ColumnStats, error) {
	if column == "" {
		return nil, fmt.Errorf("sample: column is required")
	}

	met := metrics.OrNop(e.Metrics)
	start := time.Now()

	rows, total, err := e.Sample(ctx)
	if err != nil {
		met.ObserveHistogram(metrics.ScanDurationSeconds, time.Since(start).Seconds(), metrics.Labels{"stage": "stats", "status": "error"})
		return nil, err
	}

	stats, err := columnStats(column, rows, total)
	if err != nil {
		return nil, err
	}

	met.ObserveHistogram(metrics.ScanDurationSeconds, time.Since(start).Seconds(), metrics.Labels{"stage": "stats", "status": "ok"})
	e.logf("stage=stats ok column=%s sample=%d total=%d sampled=%t", column, stats.SampleSize, total, stats.IsSampled)
	return stats, nil
}

// DescribeAll computes statistics for every numeric column at once. The
// column set is discovered from the sample's first row; the derived
// word-count column is included whenever any sampled row carries it, since
// the first row may lack a label. Columns are returned in name order.
func (e *Engine) DescribeAll(ctx context.Context) ([]*ColumnStats, error) {
	met := metrics.OrNop(e.Metrics)
	start := time.Now()

	rows, total, err := e.Sample(ctx)
	if err != nil {
		met.ObserveHistogram(metrics.ScanDurationSeconds, time.Since(start).Seconds(), metrics.Labels{"stage": "stats", "status": "error"})
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sample: store is empty")
	}

	cols := make(map[string]struct{})
	for col, v := range rows[0] {
		if v.IsNumeric() {
			cols[col] = struct{}{}
		}
	}
	if _, ok := cols[dataset.WordCountColumn]; !ok {
		for _, row := range rows {
			if v, ok := row[dataset.WordCountColumn]; ok && v.IsNumeric() {
				cols[dataset.WordCountColumn] = struct{}{}
				break
			}
		}
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("sample: no numeric columns in the first sampled row")
	}

	names := make([]string, 0, len(cols))
	for col := range cols {
		names = append(names, col)
	}
	sort.Strings(names)

	out := make([]*ColumnStats, 0, len(names))
	for _, col := range names {
		stats, err := columnStats(col, rows, total)
		if err != nil {
			return nil, err
		}
		out = append(out, stats)
	}

	met.ObserveHistogram(metrics.ScanDurationSeconds, time.Since(start).Seconds(), metrics.Labels{"stage": "stats", "status": "ok"})
	e.logf("stage=stats ok columns=%d sample=%d total=%d", len(out), len(rows), total)
	return out, nil
}

// columnStats summarizes the numeric cells of one column within an already
// drawn sample.
func columnStats(column string, rows []dataset.Row, total int64) (*ColumnStats, error) {
	vals := make([]float64, 0, len(rows))
	for _, row := range rows {
		if v, ok := row[column]; ok && v.IsNumeric() {
			vals = append(vals, v.Num)
		}
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("sample: column %q has no numeric values", column)
	}
	sort.Float64s(vals)

	return &ColumnStats{
		Column:     column,
		Min:        vals[0],
		Max:        vals[len(vals)-1],
		Mean:       mean(vals),
		Median:     median(vals),
		Q1:         quartile(vals, 0.25),
		Q3:         quartile(vals, 0.75),
		SampleSize: len(vals),
		TotalRows:  total,
		IsSampled:  int64(len(rows)) < total,
		Histogram:  histogram(vals),
	}, nil
}

// WordCountExtremes scans every row and returns the longest and shortest
// labels by derived word count. Rows without a word count are skipped.
func (e *Engine) WordCountExtremes(ctx context.Context) (*WordCountRange, error) {
	met := metrics.OrNop(e.Metrics)
	start := time.Now()

	var (
		out   WordCountRange
		found bool
	)
	err := e.Store.Scan(ctx, func(row dataset.Row) (bool, error) {
		wc, ok := row[dataset.WordCountColumn]
		if !ok || !wc.IsNumeric() {
			return true, nil
		}
		out.Rows++
		words := int(wc.Num)
		ext := Extreme{ID: row.ID(), Text: row[dataset.LabelColumn].Cell(), Words: words}
		if !found {
			out.Longest, out.Shortest = ext, ext
			found = true
			return true, nil
		}
		if words > out.Longest.Words {
			out.Longest = ext
		}
		if words < out.Shortest.Words {
			out.Shortest = ext
		}
		return true, nil
	})
	status := "ok"
	if err != nil {
		status = "error"
	}
	met.ObserveHistogram(metrics.ScanDurationSeconds, time.Since(start).Seconds(), metrics.Labels{"stage": "extremes", "status": status})
	if err != nil {
		return nil, fmt.Errorf("word count scan: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("sample: no rows carry a %s column", dataset.WordCountColumn)
	}

	e.logf("stage=extremes ok rows=%d longest=%d shortest=%d", out.Rows, out.Longest.Words, out.Shortest.Words)
	return &out, nil
}

func mean(sorted []float64) float64 {
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return sum / float64(len(sorted))
}

// median is the middle element, or the midpoint of the two middle elements
// when the count is even.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// quartile picks the element at the floored rank, the same convention a
// spreadsheet-style floor index gives.
func quartile(sorted []float64, q float64) float64 {
	idx := int(math.Floor(float64(len(sorted)) * q))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func histogram(sorted []float64) []Bin {
	lo, hi := sorted[0], sorted[len(sorted)-1]
	bins := make([]Bin, HistogramBins)
	width := (hi - lo) / HistogramBins
	for i := range bins {
		bins[i].Low = lo + width*float64(i)
		bins[i].High = lo + width*float64(i+1)
	}
	bins[len(bins)-1].High = hi

	if width == 0 {
		// All values identical; everything lands in the first bucket.
		bins[0].Count = len(sorted)
		return bins
	}
	for _, v := range sorted {
		idx := int((v - lo) / width)
		if idx >= HistogramBins {
			idx = HistogramBins - 1
		}
		bins[idx].Count++
	}
	return bins
}
