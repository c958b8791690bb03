// Package merge combines raw records asserted to represent the same person
// in the same source into one surviving record, resolving per-field conflicts
// by a rule table and reporting every disagreement it had to arbitrate.
package merge

import (
	"errors"
	"sort"
	"strings"

	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/keys"
	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/schema"
)

// ErrNoRecords is returned when Merge is called with an empty input.
var ErrNoRecords = errors.New("no records to merge")

// ConcatSeparator joins unique values for concatenate-strategy fields.
const ConcatSeparator = "; "

// TaggedValue is one field value with its provenance.
type TaggedValue struct {
	Value  string `json:"value"`
	Source string `json:"source"`
	Ref    string `json:"ref,omitempty"`
}

// Conflict records a field whose records disagreed and could not be resolved
// by a dedicated rule. The chosen value still lands in the merged row; the
// conflict exists for visibility, never to abort the merge.
type Conflict struct {
	Field  string        `json:"field"`
	Chosen string        `json:"chosen"`
	Values []TaggedValue `json:"values"`
}

// Result is the outcome of one merge.
type Result struct {
	// MergedRow maps field name to either a string or, for array-strategy
	// fields, a []TaggedValue.
	MergedRow map[string]any `json:"mergedRow"`
	// MergedAttrs is recomputed from the merged scalar fields.
	MergedAttrs schema.AttributeSet `json:"mergedAttrs"`
	Conflicts   []Conflict          `json:"conflicts,omitempty"`
}

// Arbitrator merges same-entity records. It recomputes canonical attributes
// from merged output through the same extractor and deriver used at ingest.
type Arbitrator struct {
	extractor *schema.Extractor
	deriver   *keys.Deriver
}

// NewArbitrator constructs an Arbitrator.
func NewArbitrator(extractor *schema.Extractor, deriver *keys.Deriver) *Arbitrator {
	return &Arbitrator{extractor: extractor, deriver: deriver}
}

// Merge combines records into one row. All inputs are asserted by the caller
// to represent the same entity and the same source. primaryKey, when already
// known, is preserved on the merged attributes instead of re-derived.
//
// Annotating the losing records (merged/mergedInto/mergedAt) is the caller's
// job; the arbitrator itself has no side effects.
func (a *Arbitrator) Merge(records []schema.Row, primaryKey string) (*Result, error) {
	if len(records) == 0 {
		return nil, ErrNoRecords
	}

	// Order by import timestamp descending, stable so equal timestamps keep
	// input order. Index 0 is "most recent".
	ordered := make([]schema.Row, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].EffectiveImportTime().After(ordered[j].EffectiveImportTime())
	})

	res := &Result{MergedRow: make(map[string]any)}
	for _, field := range unionFields(records) {
		values := gather(ordered, field)
		if len(values) == 0 {
			continue
		}
		distinct := distinctValues(values)
		if len(distinct) == 1 {
			res.MergedRow[field] = distinct[0]
			continue
		}
		switch classify(field) {
		case StrategyLatest:
			res.MergedRow[field] = values[0].Value
		case StrategyArray:
			res.MergedRow[field] = values
		case StrategyConcatenate:
			res.MergedRow[field] = strings.Join(distinct, ConcatSeparator)
		default:
			res.MergedRow[field] = values[0].Value
			res.Conflicts = append(res.Conflicts, Conflict{
				Field:  field,
				Chosen: values[0].Value,
				Values: values,
			})
		}
	}

	res.MergedAttrs = a.recomputeAttrs(res.MergedRow, records, primaryKey)
	return res, nil
}

// unionFields collects every non-internal field name across the records in
// first-appearance order, walking records in input order.
func unionFields(records []schema.Row) []string {
	var fields []string
	seen := make(map[string]bool)
	for _, rec := range records {
		for _, col := range rec.DataColumns() {
			if !seen[col] {
				seen[col] = true
				fields = append(fields, col)
			}
		}
	}
	return fields
}

// gather collects non-empty trimmed values for a field with provenance, in
// recency order.
func gather(ordered []schema.Row, field string) []TaggedValue {
	var out []TaggedValue
	for _, rec := range ordered {
		v := rec.Get(field)
		if v == "" {
			continue
		}
		out = append(out, TaggedValue{Value: v, Source: rec.ProvenanceFile(), Ref: rec.Ref})
	}
	return out
}

func distinctValues(values []TaggedValue) []string {
	var out []string
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if !seen[v.Value] {
			seen[v.Value] = true
			out = append(out, v.Value)
		}
	}
	return out
}

// recomputeAttrs runs the merged scalar fields back through extraction and
// key derivation. Array fields carry device identifiers, not identity
// attributes, so they are left out of the synthetic row.
func (a *Arbitrator) recomputeAttrs(mergedRow map[string]any, records []schema.Row, primaryKey string) schema.AttributeSet {
	values := make(map[string]string, len(mergedRow))
	var columns []string
	for _, field := range unionFields(records) {
		if s, ok := mergedRow[field].(string); ok {
			values[field] = s
			columns = append(columns, field)
		}
	}
	attrs := a.extractor.Extract(schema.Row{Columns: columns, Values: values}, nil)
	if primaryKey != "" {
		attrs.PrimaryKey = primaryKey
	} else if key, err := a.deriver.Derive(attrs); err == nil {
		attrs.PrimaryKey = key
	}
	return attrs
}
