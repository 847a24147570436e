package sample

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"rowlab/internal/config"
	"rowlab/internal/dataset"
	"rowlab/internal/store"
)

// memStore serves rows in id order, like the real backends.
type memStore struct {
	rows []dataset.Row
}

func newMemStore(rows ...dataset.Row) *memStore {
	s := &memStore{rows: rows}
	sort.Slice(s.rows, func(i, j int) bool { return s.rows[i].ID() < s.rows[j].ID() })
	return s
}

func (s *memStore) Close()                      {}
func (s *memStore) Clear(context.Context) error { return nil }
func (s *memStore) UpsertMany(context.Context, []dataset.Row) (int, error) {
	return 0, errors.New("not implemented")
}
func (s *memStore) Count(context.Context) (int64, error) { return int64(len(s.rows)), nil }
func (s *memStore) CursorRead(_ context.Context, offset, limit int) ([]dataset.Row, error) {
	if offset >= len(s.rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.rows) {
		end = len(s.rows)
	}
	return s.rows[offset:end], nil
}
func (s *memStore) Scan(_ context.Context, visit func(dataset.Row) (bool, error)) error {
	for _, r := range s.rows {
		ok, err := visit(r)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
	return nil
}
func (s *memStore) FetchAll(context.Context) ([]dataset.Row, error) { return s.rows, nil }
func (s *memStore) SaveManifest(context.Context, store.Manifest) error { return nil }
func (s *memStore) LoadManifest(context.Context) (*store.Manifest, error) { return nil, nil }

func numRow(id string, col string, v float64) dataset.Row {
	return dataset.Row{"id": dataset.Text(id), col: dataset.Numeric(v)}
}

func TestDescribeExactStats(t *testing.T) {
	var rows []dataset.Row
	for i := 1; i <= 10; i++ {
		rows = append(rows, numRow(fmt.Sprintf("id%02d", i), "score", float64(i)))
	}
	e := &Engine{Store: newMemStore(rows...)}

	st, err := e.Describe(context.Background(), "score")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if st.Min != 1 || st.Max != 10 {
		t.Fatalf("min=%v max=%v", st.Min, st.Max)
	}
	if st.Mean != 5.5 {
		t.Fatalf("mean=%v want 5.5", st.Mean)
	}
	if st.Median != 5.5 {
		t.Fatalf("median=%v want 5.5", st.Median)
	}
	if st.Q1 != 3 {
		t.Fatalf("q1=%v want 3", st.Q1)
	}
	if st.Q3 != 8 {
		t.Fatalf("q3=%v want 8", st.Q3)
	}
	if st.IsSampled {
		t.Fatal("small dataset must not be sampled")
	}
	if st.SampleSize != 10 || st.TotalRows != 10 {
		t.Fatalf("sample=%d total=%d", st.SampleSize, st.TotalRows)
	}
}

func TestDescribeIgnoresTextAndMissing(t *testing.T) {
	e := &Engine{Store: newMemStore(
		numRow("a", "score", 2),
		dataset.Row{"id": dataset.Text("b"), "score": dataset.Text("n/a")},
		dataset.Row{"id": dataset.Text("c")},
		numRow("d", "score", 4),
	)}

	st, err := e.Describe(context.Background(), "score")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if st.SampleSize != 2 || st.Mean != 3 {
		t.Fatalf("sample=%d mean=%v want 2 / 3", st.SampleSize, st.Mean)
	}
}

func TestDescribeRejectsNonNumericColumn(t *testing.T) {
	e := &Engine{Store: newMemStore(
		dataset.Row{"id": dataset.Text("a"), "label": dataset.Text("words")},
	)}
	if _, err := e.Describe(context.Background(), "label"); err == nil {
		t.Fatal("all-text column must be rejected")
	}
	if _, err := e.Describe(context.Background(), ""); err == nil {
		t.Fatal("empty column must be rejected")
	}
}

func TestDescribeAllDiscoversNumericColumns(t *testing.T) {
	mk := func(id, label string, score float64) dataset.Row {
		return dataset.Row{
			"id":                    dataset.Text(id),
			"score":                 dataset.Numeric(score),
			dataset.LabelColumn:     dataset.Text(label),
			dataset.WordCountColumn: dataset.Numeric(float64(dataset.WordCount(label))),
		}
	}
	e := &Engine{Store: newMemStore(
		mk("a", "two words", 1),
		mk("b", "one", 2),
		mk("c", "three word label", 3),
	)}

	all, err := e.DescribeAll(context.Background())
	if err != nil {
		t.Fatalf("describe all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("columns=%d want 2 (score and word count)", len(all))
	}
	// Name order.
	if all[0].Column != dataset.WordCountColumn || all[1].Column != "score" {
		t.Fatalf("columns=[%s %s]", all[0].Column, all[1].Column)
	}
	if all[1].Mean != 2 {
		t.Fatalf("score mean=%v want 2", all[1].Mean)
	}
	if all[0].Max != 3 || all[0].Min != 1 {
		t.Fatalf("word count range=[%v %v] want [1 3]", all[0].Min, all[0].Max)
	}
}

func TestDescribeAllIncludesWordCountMissingFromFirstRow(t *testing.T) {
	e := &Engine{Store: newMemStore(
		// First row in id order has no label, so no derived word count.
		dataset.Row{"id": dataset.Text("a"), "score": dataset.Numeric(1)},
		dataset.Row{
			"id":                    dataset.Text("b"),
			"score":                 dataset.Numeric(2),
			dataset.LabelColumn:     dataset.Text("late label"),
			dataset.WordCountColumn: dataset.Numeric(2),
		},
	)}

	all, err := e.DescribeAll(context.Background())
	if err != nil {
		t.Fatalf("describe all: %v", err)
	}
	got := map[string]bool{}
	for _, st := range all {
		got[st.Column] = true
	}
	if !got[dataset.WordCountColumn] {
		t.Fatalf("word count column missing: %v", got)
	}
	if !got["score"] {
		t.Fatalf("score column missing: %v", got)
	}
}

func TestDescribeAllRejectsAllTextDataset(t *testing.T) {
	e := &Engine{Store: newMemStore(
		dataset.Row{"id": dataset.Text("a"), "name": dataset.Text("x")},
	)}
	if _, err := e.DescribeAll(context.Background()); err == nil {
		t.Fatal("dataset with no numeric columns must be rejected")
	}
}

func TestSampleStrideIsDeterministic(t *testing.T) {
	var rows []dataset.Row
	for i := 0; i < 100; i++ {
		rows = append(rows, numRow(fmt.Sprintf("id%03d", i), "v", float64(i)))
	}
	e := &Engine{Store: newMemStore(rows...), Runtime: config.Runtime{SampleCap: 10}}

	got, total, err := e.Sample(context.Background())
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if total != 100 {
		t.Fatalf("total=%d want 100", total)
	}
	if len(got) != 10 {
		t.Fatalf("len=%d want 10 (cap)", len(got))
	}
	// stride = ceil(100/10) = 10, so indices 0,10,20,...
	for i, r := range got {
		want := fmt.Sprintf("id%03d", i*10)
		if r.ID() != want {
			t.Fatalf("got[%d].ID=%q want %q", i, r.ID(), want)
		}
	}

	again, _, err := e.Sample(context.Background())
	if err != nil {
		t.Fatalf("second sample: %v", err)
	}
	for i := range got {
		if got[i].ID() != again[i].ID() {
			t.Fatalf("sample not deterministic at %d: %q vs %q", i, got[i].ID(), again[i].ID())
		}
	}
}

func TestDescribeMarksSampled(t *testing.T) {
	var rows []dataset.Row
	for i := 0; i < 30; i++ {
		rows = append(rows, numRow(fmt.Sprintf("id%03d", i), "v", float64(i)))
	}
	e := &Engine{Store: newMemStore(rows...), Runtime: config.Runtime{SampleCap: 5}}

	st, err := e.Describe(context.Background(), "v")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if !st.IsSampled {
		t.Fatal("over-cap dataset must be flagged as sampled")
	}
	if st.TotalRows != 30 || st.SampleSize != 5 {
		t.Fatalf("total=%d sample=%d", st.TotalRows, st.SampleSize)
	}
}

func TestHistogramBucketsCoverRange(t *testing.T) {
	var rows []dataset.Row
	for i := 0; i < 40; i++ {
		rows = append(rows, numRow(fmt.Sprintf("id%03d", i), "v", float64(i)))
	}
	e := &Engine{Store: newMemStore(rows...)}

	st, err := e.Describe(context.Background(), "v")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if len(st.Histogram) != HistogramBins {
		t.Fatalf("bins=%d want %d", len(st.Histogram), HistogramBins)
	}
	total := 0
	for _, b := range st.Histogram {
		total += b.Count
	}
	// The closed last bucket means the max value is counted, not dropped.
	if total != 40 {
		t.Fatalf("histogram counted %d values, want 40", total)
	}
	last := st.Histogram[HistogramBins-1]
	if last.High != 39 || last.Count == 0 {
		t.Fatalf("last bucket %+v must close at the max", last)
	}
}

func TestHistogramSingleValue(t *testing.T) {
	e := &Engine{Store: newMemStore(
		numRow("a", "v", 7),
		numRow("b", "v", 7),
	)}
	st, err := e.Describe(context.Background(), "v")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if st.Histogram[0].Count != 2 {
		t.Fatalf("identical values must land in the first bucket: %+v", st.Histogram[0])
	}
}

func TestWordCountExtremes(t *testing.T) {
	mk := func(id, label string) dataset.Row {
		return dataset.Row{
			"id":                    dataset.Text(id),
			dataset.LabelColumn:     dataset.Text(label),
			dataset.WordCountColumn: dataset.Numeric(float64(dataset.WordCount(label))),
		}
	}
	e := &Engine{Store: newMemStore(
		mk("a", "three word label"),
		mk("b", "one"),
		mk("c", "this is the longest label of all"),
		dataset.Row{"id": dataset.Text("d")}, // no label, skipped
	)}

	r, err := e.WordCountExtremes(context.Background())
	if err != nil {
		t.Fatalf("extremes: %v", err)
	}
	if r.Rows != 3 {
		t.Fatalf("rows=%d want 3", r.Rows)
	}
	if r.Longest.ID != "c" || r.Longest.Words != 7 {
		t.Fatalf("longest=%+v", r.Longest)
	}
	if r.Shortest.ID != "b" || r.Shortest.Words != 1 || r.Shortest.Text != "one" {
		t.Fatalf("shortest=%+v", r.Shortest)
	}
}

func TestWordCountExtremesEmptyStore(t *testing.T) {
	e := &Engine{Store: newMemStore()}
	if _, err := e.WordCountExtremes(context.Background()); err == nil {
		t.Fatal("empty store must be an error")
	}
}
