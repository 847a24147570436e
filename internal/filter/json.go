package filter

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// conditionEnvelope carries the discriminator for condition JSON.
type conditionEnvelope struct {
	Kind string `json:"kind"`
}

// ParseConditions decodes a heterogeneous condition list. Each element
// names its type in a "kind" field, "numeric_range" or "text_match".
func ParseConditions(raws []json.RawMessage) ([]Condition, error) {
	conds := make([]Condition, 0, len(raws))
	for i, raw := range raws {
		var env conditionEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("condition %d: %w", i+1, err)
		}
		switch env.Kind {
		case "numeric_range":
			var c NumericRange
			if err := json.Unmarshal(raw, &c); err != nil {
				return nil, fmt.Errorf("condition %d: %w", i+1, err)
			}
			conds = append(conds, c)
		case "text_match":
			var c TextMatch
			if err := json.Unmarshal(raw, &c); err != nil {
				return nil, fmt.Errorf("condition %d: %w", i+1, err)
			}
			conds = append(conds, c)
		default:
			return nil, fmt.Errorf("condition %d: unknown kind %q", i+1, env.Kind)
		}
	}
	return conds, nil
}
