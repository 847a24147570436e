package dataset

import (
	"fmt"

	"github.com/goccy/go-json"
)

// EncodeRow serializes a row into the JSON document form the store backends
// persist. Numeric values become JSON numbers, text values JSON strings, so
// the tagged kind survives the round trip without a side channel.
func EncodeRow(r Row) ([]byte, error) {
	doc := make(map[string]any, len(r))
	for col, v := range r {
		switch v.Kind {
		case KindNumeric:
			doc[col] = v.Num
		case KindText:
			doc[col] = v.Str
		default:
			return nil, fmt.Errorf("dataset: column %q has no value kind", col)
		}
	}
	return json.Marshal(doc)
}

// DecodeRow parses a persisted JSON document back into a Row.
//
// Only numbers and strings are legal cell encodings; any other JSON type in
// the document indicates corruption or a foreign writer and is an error.
func DecodeRow(data []byte) (Row, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("dataset: decode row doc: %w", err)
	}

	row := make(Row, len(doc))
	for col, raw := range doc {
		switch t := raw.(type) {
		case float64:
			row[col] = Numeric(t)
		case string:
			row[col] = Text(t)
		default:
			return nil, fmt.Errorf("dataset: column %q has unsupported encoded type %T", col, raw)
		}
	}
	return row, nil
}
