// Package filter evaluates conjunctions of column conditions against the
// full row store in one streaming pass.
package filter

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"rowlab/internal/config"
	"rowlab/internal/dataset"
	"rowlab/internal/metrics"
	"rowlab/internal/store"
	"rowlab/internal/wordmatch"
)

// Condition is one predicate over a single column. The two implementations
// below are the only ones; the unexported method keeps the set closed.
type Condition interface {
	// Match reports whether the row satisfies the predicate. Rows missing
	// the column never match.
	Match(row dataset.Row) bool
	// Validate rejects ill-formed conditions before any row is read.
	Validate() error

	condition()
}

// NumericRange keeps rows whose column is numeric and falls inside
// [Min, Max], both ends inclusive.
type NumericRange struct {
	Column string  `json:"column"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

func (c NumericRange) condition() {}

func (c NumericRange) Validate() error {
	if strings.TrimSpace(c.Column) == "" {
		return fmt.Errorf("filter: numeric range needs a column")
	}
	if c.Min > c.Max {
		return fmt.Errorf("filter: numeric range on %q has min %v > max %v", c.Column, c.Min, c.Max)
	}
	return nil
}

func (c NumericRange) Match(row dataset.Row) bool {
	v, ok := row[c.Column]
	if !ok || !v.IsNumeric() {
		return false
	}
	return v.Num >= c.Min && v.Num <= c.Max
}

// TextMatch keeps rows whose column contains every Include term and none of
// the Exclude terms. Matching is caseless substring containment; terms are
// not word-bounded.
type TextMatch struct {
	Column  string   `json:"column"`
	Include []string `json:"include"`
	Exclude []string `json:"exclude"`
}

func (c TextMatch) condition() {}

func (c TextMatch) Validate() error {
	if strings.TrimSpace(c.Column) == "" {
		return fmt.Errorf("filter: text match needs a column")
	}
	if len(c.Include) == 0 && len(c.Exclude) == 0 {
		return fmt.Errorf("filter: text match on %q has no terms", c.Column)
	}
	for _, term := range append(append([]string{}, c.Include...), c.Exclude...) {
		if term == "" {
			return fmt.Errorf("filter: text match on %q has an empty term", c.Column)
		}
	}
	return nil
}

func (c TextMatch) Match(row dataset.Row) bool {
	v, ok := row[c.Column]
	if !ok {
		return false
	}
	text := v.Cell()
	for _, term := range c.Include {
		if !wordmatch.ContainsFold(text, term) {
			return false
		}
	}
	for _, term := range c.Exclude {
		if wordmatch.ContainsFold(text, term) {
			return false
		}
	}
	return true
}

// Result reports one filter pass.
type Result struct {
	Rows    []dataset.Row
	Scanned int64
}

// Engine runs filter passes against a store.
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

// Run scans every stored row once and returns those matching ALL
// conditions. An empty condition set selects nothing; call the store
// directly if everything is wanted.
func (e *Engine) Run(ctx context.Context, conds []Condition, onProgress func(scanned int64)) (*Result, error) {
	for i, c := range conds {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("condition %d: %w", i+1, err)
		}
	}
	if len(conds) == 0 {
		return &Result{}, nil
	}

	rt := e.Runtime.Normalized()
	met := metrics.OrNop(e.Metrics)
	start := time.Now()

	res := &Result{}
	err := e.Store.Scan(ctx, func(row dataset.Row) (bool, error) {
		res.Scanned++
		if matchAll(row, conds) {
			res.Rows = append(res.Rows, row)
		}
		if onProgress != nil && res.Scanned%int64(rt.ProgressEvery) == 0 {
			onProgress(res.Scanned)
		}
		return true, nil
	})
	status := "ok"
	if err != nil {
		status = "error"
	}
	met.ObserveHistogram(metrics.ScanDurationSeconds, time.Since(start).Seconds(), metrics.Labels{"stage": "filter", "status": status})
	if err != nil {
		return nil, fmt.Errorf("filter scan: %w", err)
	}

	e.logf("stage=filter ok conditions=%d scanned=%d matched=%d", len(conds), res.Scanned, len(res.Rows))
	return res, nil
}

func matchAll(row dataset.Row, conds []Condition) bool {
	for _, c := range conds {
		if !c.Match(row) {
			return false
		}
	}
	return true
}
