// Package app wires the engines into the operations the CLI exposes. It
// owns config validation, store construction, and result printing; the
// engines stay ignorant of files and flags.
package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	json "github.com/goccy/go-json"

	"rowlab/internal/config"
	"rowlab/internal/dataset"
	"rowlab/internal/export"
	"rowlab/internal/filter"
	"rowlab/internal/ingest"
	"rowlab/internal/metrics"
	"rowlab/internal/metrics/datadog"
	"rowlab/internal/resample"
	"rowlab/internal/sample"
	"rowlab/internal/store"
)

// Pipeline is the JSON config the CLI reads. One file describes the whole
// workbench; each operation uses the sections it needs.
type Pipeline struct {
	Source struct {
		Path string `json:"path"`
		Kind string `json:"kind"`
	} `json:"source"`

	Store store.Config `json:"store"`

	Runtime config.Runtime `json:"runtime"`

	Metrics struct {
		Datadog    bool   `json:"datadog"`
		JobName    string `json:"job_name"`
		Tags       string `json:"tags"`
		FlushEvery string `json:"flush_every"`
	} `json:"metrics"`

	Filter []json.RawMessage `json:"filter"`

	Resample []resample.Condition `json:"resample"`

	Stats struct {
		Column string `json:"column"`
	} `json:"stats"`

	Export struct {
		Path string `json:"path"`
		Gzip bool   `json:"gzip"`
	} `json:"export"`
}

// Runner executes one operation against a configured store.
type Runner struct {
	// NewStore is the backend factory seam; tests swap in fakes.
	NewStore func(ctx context.Context, cfg store.Config) (store.Store, error)
	Logger   *log.Logger
	Out      io.Writer
}

func NewDefaultRunner() *Runner {
	return &Runner{
		NewStore: store.Open,
		Logger:   log.New(os.Stderr, "", log.LstdFlags),
		Out:      os.Stdout,
	}
}

// Run dispatches op. Known operations: import, filter, stats, extremes,
// resample, export.
func (r *Runner) Run(ctx context.Context, cfg Pipeline, op string) error {
	if cfg.Store.Kind == "" {
		return fmt.Errorf("store.kind must be set")
	}
	cfg.Store.DSN = os.ExpandEnv(cfg.Store.DSN)
	if cfg.Store.ChunkSize <= 0 {
		cfg.Store.ChunkSize = cfg.Runtime.Normalized().ChunkSize
	}

	st, err := r.NewStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	met, err := r.buildMetrics(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := met.Close(); err != nil {
			r.Logger.Printf("stage=metrics close err=%v", err)
		}
	}()

	switch op {
	case "import":
		return r.runImport(ctx, cfg, st, met)
	case "filter":
		return r.runFilter(ctx, cfg, st, met)
	case "stats":
		return r.runStats(ctx, cfg, st, met)
	case "extremes":
		return r.runExtremes(ctx, cfg, st, met)
	case "resample":
		return r.runResample(ctx, cfg, st, met)
	case "export":
		return r.runExport(ctx, cfg, st)
	}
	return fmt.Errorf("unknown operation %q", op)
}

func (r *Runner) buildMetrics(ctx context.Context, cfg Pipeline) (metrics.Backend, error) {
	if !cfg.Metrics.Datadog {
		return metrics.Nop{}, nil
	}
	opts := datadog.Options{
		JobName: cfg.Metrics.JobName,
		Tags:    datadog.ParseTagsCSV(cfg.Metrics.Tags),
	}
	if cfg.Metrics.FlushEvery != "" {
		d, err := time.ParseDuration(cfg.Metrics.FlushEvery)
		if err != nil {
			return nil, fmt.Errorf("metrics.flush_every: %w", err)
		}
		opts.FlushEvery = d
	}
	return datadog.NewBackend(ctx, opts)
}

func (r *Runner) runImport(ctx context.Context, cfg Pipeline, st store.Store, met metrics.Backend) error {
	if cfg.Source.Path == "" {
		return fmt.Errorf("source.path is required for import")
	}
	kind, err := ingest.ParseKind(cfg.Source.Kind)
	if err != nil {
		return err
	}

	f, err := os.Open(cfg.Source.Path)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	var total int64
	if fi, err := f.Stat(); err == nil {
		total = fi.Size()
	}

	// A re-import replaces the dataset wholesale.
	if err := st.Clear(ctx); err != nil {
		return fmt.Errorf("clear store: %w", err)
	}

	p := &ingest.Pipeline{Store: st, Logger: r.Logger, Metrics: met, Runtime: cfg.Runtime}
	sum, err := p.Run(ctx, f, kind, total, func(pct float64) {
		r.Logger.Printf("stage=ingest progress=%.1f%%", pct)
	})
	if err != nil {
		return err
	}

	// Duplicate ids overwrite in place, so the summary's written count can
	// exceed the distinct rows now stored; the manifest records the latter.
	stored, err := st.Count(ctx)
	if err != nil {
		return fmt.Errorf("count rows: %w", err)
	}
	if err := st.SaveManifest(ctx, store.Manifest{
		Columns:    sum.Columns,
		FileKind:   string(sum.Kind),
		Rows:       stored,
		ImportedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}

	return r.printJSON(sum)
}

func (r *Runner) runFilter(ctx context.Context, cfg Pipeline, st store.Store, met metrics.Backend) error {
	conds, err := filter.ParseConditions(cfg.Filter)
	if err != nil {
		return err
	}

	e := &filter.Engine{Store: st, Logger: r.Logger, Metrics: met, Runtime: cfg.Runtime}
	res, err := e.Run(ctx, conds, func(scanned int64) {
		r.Logger.Printf("stage=filter scanned=%d", scanned)
	})
	if err != nil {
		return err
	}

	if cfg.Export.Path != "" {
		if err := r.writeRows(ctx, cfg, st, res.Rows); err != nil {
			return err
		}
	}
	return r.printJSON(map[string]any{
		"matched": len(res.Rows),
		"scanned": res.Scanned,
	})
}

// runStats summarizes one named column, or every numeric column (including
// the derived word count) when no column is configured.
func (r *Runner) runStats(ctx context.Context, cfg Pipeline, st store.Store, met metrics.Backend) error {
	e := &sample.Engine{Store: st, Logger: r.Logger, Metrics: met, Runtime: cfg.Runtime}
	if cfg.Stats.Column != "" {
		stats, err := e.Describe(ctx, cfg.Stats.Column)
		if err != nil {
			return err
		}
		return r.printJSON(stats)
	}
	all, err := e.DescribeAll(ctx)
	if err != nil {
		return err
	}
	return r.printJSON(all)
}

func (r *Runner) runExtremes(ctx context.Context, cfg Pipeline, st store.Store, met metrics.Backend) error {
	e := &sample.Engine{Store: st, Logger: r.Logger, Metrics: met, Runtime: cfg.Runtime}
	out, err := e.WordCountExtremes(ctx)
	if err != nil {
		return err
	}
	return r.printJSON(out)
}

func (r *Runner) runResample(ctx context.Context, cfg Pipeline, st store.Store, met metrics.Backend) error {
	if cfg.Export.Path == "" {
		return fmt.Errorf("export.path is required for resample")
	}

	e := &resample.Engine{Store: st, Logger: r.Logger, Metrics: met}
	rows, sum, err := e.Run(ctx, cfg.Resample)
	if err != nil {
		return err
	}
	if err := r.writeRows(ctx, cfg, st, rows); err != nil {
		return err
	}
	return r.printJSON(map[string]any{
		"scanned":   sum.Scanned,
		"claimed":   sum.Claimed,
		"unclaimed": sum.Unclaimed,
		"out":       len(rows),
	})
}

func (r *Runner) runExport(ctx context.Context, cfg Pipeline, st store.Store) error {
	if cfg.Export.Path == "" {
		return fmt.Errorf("export.path is required for export")
	}
	rows, err := st.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("fetch rows: %w", err)
	}
	if err := r.writeRows(ctx, cfg, st, rows); err != nil {
		return err
	}
	return r.printJSON(map[string]any{"exported": len(rows), "path": cfg.Export.Path})
}

// writeRows renders rows to cfg.Export.Path in the dataset's original
// shape, taken from the manifest.
func (r *Runner) writeRows(ctx context.Context, cfg Pipeline, st store.Store, rows []dataset.Row) error {
	man, err := st.LoadManifest(ctx)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}
	if man == nil {
		return fmt.Errorf("no manifest: import a dataset first")
	}

	w := &export.Writer{Columns: man.Columns}
	if man.FileKind == string(ingest.KindTSV) {
		w.Delimiter = '\t'
	}

	f, err := os.Create(cfg.Export.Path)
	if err != nil {
		return fmt.Errorf("create export: %w", err)
	}
	defer f.Close()

	if cfg.Export.Gzip {
		err = w.WriteGzip(f, rows)
	} else {
		err = w.Write(f, rows)
	}
	if err != nil {
		return err
	}
	return f.Close()
}

func (r *Runner) printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(r.Out, string(b))
	return err
}
