package merge

import "strings"

// FieldStrategy names how competing values for one field are resolved.
type FieldStrategy string

const (
	// StrategyLatest keeps the value from the most recently imported record.
	StrategyLatest FieldStrategy = "latest"
	// StrategyArray preserves every value tagged with its source; device
	// identifiers must never be collapsed.
	StrategyArray FieldStrategy = "array"
	// StrategyConcatenate joins unique values with a separator.
	StrategyConcatenate FieldStrategy = "concatenate"
	// StrategyConflict keeps the most recent value but records the full
	// disagreement for review.
	StrategyConflict FieldStrategy = "conflict"
)

// fieldRules maps field-name substrings to resolution strategies, checked in
// order. Case-insensitive substring match on the field name; the first hit
// wins, unmatched fields resolve as conflicts.
var fieldRules = []struct {
	Substring string
	Strategy  FieldStrategy
}{
	{"date", StrategyLatest},
	{"time", StrategyLatest},
	{"last", StrategyLatest},
	{"device", StrategyArray},
	{"model", StrategyArray},
	{"imei", StrategyArray},
	{"serial", StrategyArray},
	{"status", StrategyLatest},
	{"active", StrategyLatest},
	{"description", StrategyConcatenate},
	{"note", StrategyConcatenate},
}

// classify returns the resolution strategy for a field name.
func classify(field string) FieldStrategy {
	lower := strings.ToLower(field)
	for _, r := range fieldRules {
		if strings.Contains(lower, r.Substring) {
			return r.Strategy
		}
	}
	return StrategyConflict
}
