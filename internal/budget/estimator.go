// Package budget measures customer contexts in abstract cost units and
// reduces oversized ones with a deterministic lossy pipeline.
package budget

import (
	"unicode/utf8"

	json "github.com/goccy/go-json"

	"github.com/solsticehq/centra/internal/schema"
)

const (
	// charsPerUnit converts text length to cost units, rounding up.
	charsPerUnit = 4
	// maxDepth caps estimation recursion; values nested beyond contribute zero.
	maxDepth = 20

	scalarCost      = 1
	stringOverhead  = 2
	containerCost   = 2
	elementOverhead = 1
	keyOverhead     = 3
)

// TextCost returns the cost of a string's text content: one unit per four
// characters, rounded up.
func TextCost(s string) int {
	if s == "" {
		return 0
	}
	runes := utf8.RuneCountInString(s)
	return (runes + charsPerUnit - 1) / charsPerUnit
}

// Estimate returns the cost of an arbitrary structured value. It is total:
// any input yields a non-negative cost, and no input blocks or performs I/O.
// Values that are not already JSON-shaped are costed through their JSON form.
func Estimate(v any) int {
	return estimateValue(v, 0)
}

// EstimateContext measures a customer context as it would leave the API.
func EstimateContext(c *schema.CustomerContext) int {
	if c == nil {
		return 0
	}
	return Estimate(c)
}

func estimateValue(v any, depth int) int {
	if depth > maxDepth {
		return 0
	}
	switch val := v.(type) {
	case nil:
		return scalarCost
	case bool:
		return scalarCost
	case string:
		return TextCost(val) + stringOverhead
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return scalarCost
	case json.Number:
		return scalarCost
	case map[string]any:
		cost := containerCost
		for key, item := range val {
			cost += TextCost(key) + keyOverhead + estimateValue(item, depth+1) + elementOverhead
		}
		return cost
	case []any:
		cost := containerCost
		for _, item := range val {
			cost += estimateValue(item, depth+1) + elementOverhead
		}
		return cost
	default:
		normalized, ok := normalize(val)
		if !ok {
			return scalarCost
		}
		return estimateValue(normalized, depth)
	}
}

// normalize round-trips a typed value through JSON into plain maps, slices,
// and scalars. Unmarshalable values report false and cost as scalars.
func normalize(v any) (any, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false
	}
	return out, true
}
