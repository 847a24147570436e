package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"rowlab/internal/config"
	"rowlab/internal/dataset"
	"rowlab/internal/store"
)

type fakeStore struct {
	mu      sync.Mutex
	rows    map[string]dataset.Row
	batches [][]dataset.Row

	failOnBatch int // 1-based; 0 means never fail
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]dataset.Row{}}
}

func (f *fakeStore) UpsertMany(_ context.Context, rows []dataset.Row) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, rows)
	if f.failOnBatch > 0 && len(f.batches) >= f.failOnBatch {
		return 0, errors.New("disk full")
	}
	for _, r := range rows {
		f.rows[r.ID()] = r
	}
	return len(rows), nil
}

func (f *fakeStore) Close() {}

func (f *fakeStore) Clear(context.Context) error { return nil }

func (f *fakeStore) Count(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.rows)), nil
}

func (f *fakeStore) CursorRead(context.Context, int, int) ([]dataset.Row, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeStore) Scan(context.Context, func(dataset.Row) (bool, error)) error {
	return errors.New("not implemented")
}

func (f *fakeStore) FetchAll(context.Context) ([]dataset.Row, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeStore) SaveManifest(context.Context, store.Manifest) error { return nil }

func (f *fakeStore) LoadManifest(context.Context) (*store.Manifest, error) { return nil, nil }

func runPipeline(t *testing.T, st store.Store, input string, kind FileKind, rt config.Runtime) (*Summary, error) {
	t.Helper()
	p := &Pipeline{Store: st, Runtime: rt}
	return p.Run(context.Background(), strings.NewReader(input), kind, int64(len(input)), nil)
}

func TestRunIngestsCSV(t *testing.T) {
	st := newFakeStore()
	input := "id,label,score\n1,hello world,3.5\n2,bye,1\n"

	sum, err := runPipeline(t, st, input, KindCSV, config.Runtime{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Rows != 2 || sum.Skipped != 0 {
		t.Fatalf("summary rows=%d skipped=%d", sum.Rows, sum.Skipped)
	}
	if got := strings.Join(sum.Columns, ","); got != "id,label,score" {
		t.Fatalf("columns=%q", got)
	}

	row, ok := st.rows["1"]
	if !ok {
		t.Fatal("row 1 not stored")
	}
	if v := row["score"]; !v.IsNumeric() || v.Num != 3.5 {
		t.Fatalf("score=%+v want numeric 3.5", v)
	}
	if v := row[dataset.WordCountColumn]; v.Num != 2 {
		t.Fatalf("label_word_count=%v want 2", v.Num)
	}
}

func TestRunIngestsTSV(t *testing.T) {
	st := newFakeStore()
	input := "id\tcaption\n1\ta tab separated caption\n"

	sum, err := runPipeline(t, st, input, KindTSV, config.Runtime{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Rows != 1 {
		t.Fatalf("rows=%d want 1", sum.Rows)
	}
	row := st.rows["1"]
	if v := row[dataset.LabelColumn]; v.Str != "a tab separated caption" {
		t.Fatalf("caption not mirrored to label: %+v", v)
	}
}

func TestRunSkipsRowsWithoutID(t *testing.T) {
	st := newFakeStore()
	input := "id,label\n1,kept\n,no id here\n2,also kept\n"

	sum, err := runPipeline(t, st, input, KindCSV, config.Runtime{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Rows != 2 {
		t.Fatalf("rows=%d want 2", sum.Rows)
	}
	if sum.Skipped != 1 {
		t.Fatalf("skipped=%d want 1", sum.Skipped)
	}
}

func TestRunRejectsHeaderWithoutID(t *testing.T) {
	st := newFakeStore()
	_, err := runPipeline(t, st, "name,label\na,b\n", KindCSV, config.Runtime{})

	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err=%v want *ParseError", err)
	}
	if pe.Line != 1 {
		t.Fatalf("line=%d want 1", pe.Line)
	}
}

func TestRunStripsHeaderBOM(t *testing.T) {
	st := newFakeStore()
	input := "\uFEFFid,label\n1,x\n"

	sum, err := runPipeline(t, st, input, KindCSV, config.Runtime{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Columns[0] != "id" {
		t.Fatalf("first column=%q want id", sum.Columns[0])
	}
}

func TestRunAbortsOnMalformedRecord(t *testing.T) {
	st := newFakeStore()
	// Unterminated quote on line 3.
	input := "id,label\n1,fine\n2,\"broken\n"

	_, err := runPipeline(t, st, input, KindCSV, config.Runtime{})
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err=%v want *ParseError", err)
	}
	if pe.Line != 3 {
		t.Fatalf("line=%d want 3", pe.Line)
	}
}

func TestRunFlushesInBatches(t *testing.T) {
	st := newFakeStore()
	var b strings.Builder
	b.WriteString("id\n")
	for i := 0; i < 7; i++ {
		fmt.Fprintf(&b, "row%d\n", i)
	}

	sum, err := runPipeline(t, st, b.String(), KindCSV, config.Runtime{BatchSize: 3})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Rows != 7 {
		t.Fatalf("rows=%d want 7", sum.Rows)
	}
	if len(st.batches) != 3 {
		t.Fatalf("batches=%d want 3", len(st.batches))
	}
	if len(st.batches[2]) != 1 {
		t.Fatalf("final partial batch len=%d want 1", len(st.batches[2]))
	}
}

func TestRunReportsDurableRowsOnStoreFailure(t *testing.T) {
	st := newFakeStore()
	st.failOnBatch = 2
	var b strings.Builder
	b.WriteString("id\n")
	for i := 0; i < 5; i++ {
		fmt.Fprintf(&b, "row%d\n", i)
	}

	_, err := runPipeline(t, st, b.String(), KindCSV, config.Runtime{BatchSize: 2})
	if err == nil {
		t.Fatal("store failure must abort the run")
	}
	if !strings.Contains(err.Error(), "after 2 durable rows") {
		t.Fatalf("error should report durable rows: %v", err)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &Pipeline{Store: newFakeStore()}
	_, err := p.Run(ctx, strings.NewReader("id\n1\n2\n"), KindCSV, 0, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
}

func TestRunProgressReachesExactlyHundred(t *testing.T) {
	st := newFakeStore()
	var b strings.Builder
	b.WriteString("id\n")
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, "row%02d\n", i)
	}
	input := b.String()

	var pcts []float64
	p := &Pipeline{Store: st, Runtime: config.Runtime{BatchSize: 4, ProgressEvery: 3}}
	_, err := p.Run(context.Background(), strings.NewReader(input), KindCSV, int64(len(input)), func(pct float64) {
		pcts = append(pcts, pct)
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(pcts) == 0 {
		t.Fatal("no progress reported")
	}
	for _, pct := range pcts[:len(pcts)-1] {
		if pct >= 100 {
			t.Fatalf("intermediate progress %v must stay below 100", pct)
		}
	}
	if last := pcts[len(pcts)-1]; last != 100 {
		t.Fatalf("final progress=%v want exactly 100", last)
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind(" CSV "); err != nil || k != KindCSV {
		t.Fatalf("csv: %v %v", k, err)
	}
	if k, err := ParseKind("tsv"); err != nil || k != KindTSV {
		t.Fatalf("tsv: %v %v", k, err)
	}
	if _, err := ParseKind("xlsx"); err == nil {
		t.Fatal("xlsx must be rejected")
	}
}

func TestEstimateProgressBounds(t *testing.T) {
	if p := estimateProgress(50, 100, 0, 1); p != 50 {
		t.Fatalf("byte ratio=%v want 50", p)
	}
	if p := estimateProgress(200, 100, 0, 1); p >= 100 {
		t.Fatalf("overshoot must clamp below 100, got %v", p)
	}
	if p := estimateProgress(0, 0, 1000, 100); p <= 0 || p >= 100 {
		t.Fatalf("unknown-size estimate out of range: %v", p)
	}
}
