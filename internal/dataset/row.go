package dataset

import "strings"

// Column names with reserved meaning. IDColumn is the row's identity and
// primary key; LabelColumn and the derived word-count column support text
// statistics downstream.
const (
	IDColumn        = "id"
	LabelColumn     = "label"
	CaptionColumn   = "caption"
	WordCountColumn = "label_word_count"
)

// Row is one imported record: a sparse, heterogeneous mapping from column
// name to typed value. Rows are immutable once built; the derived word-count
// attribute is computed at build time and stays consistent with its source
// text for the row's lifetime.
type Row map[string]Value

// ID returns the row's identity. Classification can turn a digit-only id
// cell into a numeric value, so the id is rendered back through Cell to keep
// the store key canonical either way. Header casing is preserved for export,
// so "ID" and "Id" columns are honored via a case-insensitive fallback.
func (r Row) ID() string {
	if v, ok := r[IDColumn]; ok {
		return v.Cell()
	}
	for col, v := range r {
		if strings.EqualFold(col, IDColumn) {
			return v.Cell()
		}
	}
	return ""
}

// FromRecord classifies one delimited record into a Row.
//
// columns carries the header names in file order; fields carries the raw
// cells, which may be shorter than columns (trailing cells missing).
//
// Behavior:
//   - Empty cells are omitted from the row entirely.
//   - A record whose id cell is missing or empty yields ok=false. This is a
//     defined exclusion, not an error; the caller simply drops the record.
//   - A column named "label" or "caption" (case-insensitive) gets a derived
//     numeric "label_word_count" attribute counting whitespace-delimited
//     tokens in the raw cell. A "caption" value is additionally mirrored
//     into the canonical "label" attribute for downstream uniformity.
func FromRecord(columns []string, fields []string) (Row, bool) {
	row := make(Row, len(columns))

	for i, col := range columns {
		if i >= len(fields) {
			break
		}
		v, ok := Classify(fields[i])
		if !ok {
			continue
		}
		row[col] = v

		if isLabelColumn(col) {
			raw := strings.TrimSpace(fields[i])
			row[WordCountColumn] = Numeric(float64(WordCount(raw)))
			if strings.EqualFold(col, CaptionColumn) {
				row[LabelColumn] = v
			}
		}
	}

	if row.ID() == "" {
		return nil, false
	}
	return row, true
}

func isLabelColumn(name string) bool {
	return strings.EqualFold(name, LabelColumn) || strings.EqualFold(name, CaptionColumn)
}

// DedupeByID collapses duplicate ids within a batch, keeping the last
// occurrence's values at the position the id first appeared. Backends whose
// upsert statement cannot touch the same key twice (ON CONFLICT, MERGE)
// need this; later duplicates still overwrite earlier ones.
func DedupeByID(rows []Row) []Row {
	seen := make(map[string]int, len(rows))
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		id := row.ID()
		if at, ok := seen[id]; ok {
			out[at] = row
			continue
		}
		seen[id] = len(out)
		out = append(out, row)
	}
	return out
}
