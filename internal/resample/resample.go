// Package resample rebalances a dataset toward per-keyword target counts.
//
// Each condition claims the rows whose column matches its keyword; claimed
// groups are then downsampled without repetition or upsampled with
// repetition to hit their targets. Rows no condition claims pass through
// exactly once.
package resample

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"strings"
	"time"

	"rowlab/internal/dataset"
	"rowlab/internal/metrics"
	"rowlab/internal/store"
	"rowlab/internal/wordmatch"
)

// Condition pins one keyword group to a target size.
type Condition struct {
	Column      string `json:"column"`
	Keyword     string `json:"keyword"`
	TargetCount int    `json:"target_count"`
}

func (c Condition) validate() error {
	if strings.TrimSpace(c.Column) == "" {
		return fmt.Errorf("resample: condition needs a column")
	}
	if c.TargetCount <= 0 {
		return fmt.Errorf("resample: target for %q must be positive, got %d", c.Keyword, c.TargetCount)
	}
	return nil
}

// Summary reports one resampling pass.
type Summary struct {
	// Scanned is the number of stored rows read.
	Scanned int64
	// Claimed counts rows matched per condition, in condition order.
	Claimed []int
	// Unclaimed is the number of pass-through rows.
	Unclaimed int64
}

// Engine builds resampled datasets.
type Engine struct {
	Store   store.Store
	Logger  interface{ Printf(string, ...any) }
	Metrics metrics.Backend

	// rng seeds randomized selection; tests pin it.
	rng *rand.Rand
}

func (e *Engine) logf(format string, v ...any) {
	if e.Logger == nil {
		log.New(io.Discard, "", 0).Printf(format, v...)
		return
	}
	e.Logger.Printf(format, v...)
}

func (e *Engine) rand() *rand.Rand {
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return e.rng
}

// Run scans the store once and returns the rebalanced row set.
//
// Claiming is first-match-wins in condition order, so a row matching two
// keywords counts only toward the earlier condition. A condition that
// claims nothing contributes nothing; its target is logged and skipped
// rather than treated as an error. The returned order is shuffled.
func (e *Engine) Run(ctx context.Context, conds []Condition) ([]dataset.Row, *Summary, error) {
	if len(conds) == 0 {
		return nil, nil, fmt.Errorf("resample: at least one condition is required")
	}

	matchers := make([]*wordmatch.Matcher, len(conds))
	for i, c := range conds {
		if err := c.validate(); err != nil {
			return nil, nil, fmt.Errorf("condition %d: %w", i+1, err)
		}
		m, err := wordmatch.New(c.Keyword)
		if err != nil {
			return nil, nil, fmt.Errorf("condition %d: %w", i+1, err)
		}
		matchers[i] = m
	}

	met := metrics.OrNop(e.Metrics)
	start := time.Now()

	claimed := make([][]dataset.Row, len(conds))
	var unclaimed []dataset.Row
	sum := &Summary{Claimed: make([]int, len(conds))}

	err := e.Store.Scan(ctx, func(row dataset.Row) (bool, error) {
		sum.Scanned++
		for i, c := range conds {
			v, ok := row[c.Column]
			if !ok {
				continue
			}
			if matchers[i].Match(v.Cell()) {
				claimed[i] = append(claimed[i], row)
				return true, nil
			}
		}
		unclaimed = append(unclaimed, row)
		return true, nil
	})
	status := "ok"
	if err != nil {
		status = "error"
	}
	met.ObserveHistogram(metrics.ScanDurationSeconds, time.Since(start).Seconds(), metrics.Labels{"stage": "resample", "status": status})
	if err != nil {
		return nil, nil, fmt.Errorf("resample scan: %w", err)
	}

	rng := e.rand()
	out := make([]dataset.Row, 0, len(unclaimed))
	for i, group := range claimed {
		sum.Claimed[i] = len(group)
		out = append(out, resize(rng, group, conds[i].TargetCount)...)
		if len(group) == 0 {
			e.logf("stage=resample keyword=%q matched no rows, target %d skipped", conds[i].Keyword, conds[i].TargetCount)
		}
	}
	sum.Unclaimed = int64(len(unclaimed))
	out = append(out, unclaimed...)

	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })

	e.logf("stage=resample ok scanned=%d out=%d unclaimed=%d", sum.Scanned, len(out), sum.Unclaimed)
	return out, sum, nil
}

// resize brings a claimed group to the target size. Oversized groups are
// cut by random permutation (no repeats); undersized groups keep every row
// and duplicate random members until the target is met.
func resize(rng *rand.Rand, group []dataset.Row, target int) []dataset.Row {
	k := len(group)
	switch {
	case k == 0:
		return nil
	case k == target:
		return group
	case k > target:
		out := make([]dataset.Row, 0, target)
		for _, idx := range rng.Perm(k)[:target] {
			out = append(out, group[idx])
		}
		return out
	default:
		out := make([]dataset.Row, 0, target)
		out = append(out, group...)
		for len(out) < target {
			out = append(out, group[rng.Intn(k)])
		}
		return out
	}
}
