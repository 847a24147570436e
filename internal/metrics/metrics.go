// Package metrics defines the minimal instrumentation surface the engines
// write to. Engines depend only on Backend; concrete exporters live in
// subpackages and are wired in by the caller.
package metrics

// Labels attaches low-cardinality dimensions to a metric sample.
type Labels map[string]string

// Metric names emitted by the engines. Backends may ignore names they do
// not understand.
const (
	RowsTotal           = "rowlab_rows_total"            // labels: kind=accepted|skipped
	BatchesTotal        = "rowlab_batches_total"         // no labels
	ScanDurationSeconds = "rowlab_scan_duration_seconds" // labels: stage, status
)

// Backend receives metric samples.
//
// Implementations must be safe for concurrent use; the ingest writer and
// the parsing goroutine both record from their own goroutines.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)

	// Flush pushes any buffered samples to the sink.
	Flush() error

	// Close stops background work and performs a final Flush.
	Close() error
}

// Nop discards all samples. Engines treat a nil backend as Nop via OrNop.
type Nop struct{}

func (Nop) IncCounter(string, float64, Labels)       {}
func (Nop) ObserveHistogram(string, float64, Labels) {}
func (Nop) Flush() error                             { return nil }
func (Nop) Close() error                             { return nil }

// OrNop returns b, or a Nop backend when b is nil, so callers never need a
// nil check on the hot path.
func OrNop(b Backend) Backend {
	if b == nil {
		return Nop{}
	}
	return b
}
