// Package config holds the JSON-facing option types shared by the CLI and
// the engines. Options is a loosely typed bag with typed accessors so parser
// and backend knobs can ride through one JSON object without a struct per
// component.
package config

import (
	"strings"
)

// Options is a free-form option map decoded from JSON.
type Options map[string]any

// Bool returns the named option as a bool, or def when absent/mistyped.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the named option as an int, or def when absent/mistyped.
// JSON numbers decode as float64, so that is the primary case.
func (o Options) Int(key string, def int) int {
	switch v := o[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// String returns the named option as a string, or def when absent/mistyped.
func (o Options) String(key string, def string) string {
	if v, ok := o[key].(string); ok {
		return v
	}
	return def
}

// Rune returns the first rune of the named string option, or def.
func (o Options) Rune(key string, def rune) rune {
	if v, ok := o[key].(string); ok && v != "" {
		return []rune(v)[0]
	}
	return def
}

// StringMap returns the named option as a map[string]string. Non-string
// values are skipped.
func (o Options) StringMap(key string) map[string]string {
	out := map[string]string{}
	m, ok := o[key].(map[string]any)
	if !ok {
		return out
	}
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// Any returns the raw option value, or nil.
func (o Options) Any(key string) any { return o[key] }

// Runtime controls execution behavior of the ingest and scan engines.
// Zero or negative fields fall back to the defaults below.
type Runtime struct {
	// BatchSize is the number of accepted rows per store write.
	BatchSize int `json:"batch_size"`

	// QueueDepth bounds the number of parsed batches that may be pending
	// behind the single in-flight store write.
	QueueDepth int `json:"queue_depth"`

	// ProgressEvery is the record/row interval between progress callbacks.
	ProgressEvery int `json:"progress_every"`

	// ChunkSize is the page size for chunked full-table scans.
	ChunkSize int `json:"chunk_size"`

	// SampleCap is both the full-data threshold and the capped sample size
	// for the statistics engine.
	SampleCap int `json:"sample_cap"`
}

// Defaults used when the corresponding Runtime field is unset.
const (
	DefaultBatchSize     = 5000
	DefaultQueueDepth    = 64
	DefaultProgressEvery = 10000
	DefaultChunkSize     = 10000
	DefaultSampleCap     = 100000
)

// Normalized returns a copy of r with defaults applied.
func (r Runtime) Normalized() Runtime {
	if r.BatchSize <= 0 {
		r.BatchSize = DefaultBatchSize
	}
	if r.QueueDepth <= 0 {
		r.QueueDepth = DefaultQueueDepth
	}
	if r.ProgressEvery <= 0 {
		r.ProgressEvery = DefaultProgressEvery
	}
	if r.ChunkSize <= 0 {
		r.ChunkSize = DefaultChunkSize
	}
	if r.SampleCap <= 0 {
		r.SampleCap = DefaultSampleCap
	}
	return r
}

// NormalizeHeader canonicalizes a header cell: strips a UTF-8 BOM on the
// first column and trims surrounding whitespace. Column casing is preserved
// so exports can reproduce the original header verbatim.
func NormalizeHeader(name string, first bool) string {
	if first {
		name = strings.TrimPrefix(name, "\uFEFF")
	}
	return strings.TrimSpace(name)
}
