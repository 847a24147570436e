// Package dataset defines the typed row model shared by the ingest, store,
// and query layers. A row is a sparse mapping from column name to a tagged
// value; cells are either numeric or text, and empty cells are omitted
// entirely rather than stored as nulls.
package dataset

import (
	"math"
	"strconv"
	"strings"
)

// Kind tags the runtime type of a cell value.
type Kind uint8

const (
	// KindNumeric marks a cell that parsed losslessly as a finite float64.
	KindNumeric Kind = iota + 1
	// KindText marks any other non-empty cell.
	KindText
)

// Value is a tagged union over the two cell types.
//
// Exactly one of Num/Str is meaningful, selected by Kind. The zero Value
// (Kind == 0) represents "no value" and is never stored in a Row.
type Value struct {
	Kind Kind
	Num  float64
	Str  string
}

// Numeric wraps a float64 as a numeric cell value.
func Numeric(f float64) Value { return Value{Kind: KindNumeric, Num: f} }

// Text wraps a string as a text cell value.
func Text(s string) Value { return Value{Kind: KindText, Str: s} }

// IsNumeric reports whether the value carries a number.
func (v Value) IsNumeric() bool { return v.Kind == KindNumeric }

// Cell renders the value back into its delimited-file cell form.
//
// Numeric values use the shortest decimal representation that round-trips
// through float64; text values are emitted verbatim.
func (v Value) Cell() string {
	switch v.Kind {
	case KindNumeric:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindText:
		return v.Str
	default:
		return ""
	}
}

// Classify converts a raw cell into a Value.
//
// Rules:
//   - The raw cell is trimmed first; a cell that is empty after trimming
//     yields ok=false and must be omitted from the row.
//   - A cell that parses as a finite float64 is numeric.
//   - Everything else is text.
func Classify(raw string) (Value, bool) {
	s := raw
	if hasEdgeSpace(s) {
		s = strings.TrimSpace(s)
	}
	if s == "" {
		return Value{}, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return Numeric(f), true
	}
	return Text(s), true
}

// WordCount counts whitespace-delimited tokens in a cell.
func WordCount(s string) int { return len(strings.Fields(s)) }

// hasEdgeSpace reports whether s starts or ends with ASCII whitespace,
// letting the hot path skip TrimSpace for the common clean cell.
func hasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	switch s[0] {
	case ' ', '\t', '\n', '\r':
		return true
	}
	switch s[len(s)-1] {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return false
}
