package schema

import (
	"strings"
	"time"
)

// InternalPrefix marks row fields that carry bookkeeping metadata rather than
// source data (e.g. "_file", "_date"). Such fields are never extracted or
// merged as user attributes.
const InternalPrefix = "_"

// Row is one already-parsed record from a source export: an ordered
// column -> value map tagged with its origin. Rows are input only; the engine
// never mutates them except to annotate merge outcomes through the store.
type Row struct {
	// Columns preserves the source header order; pattern-based extraction
	// and merge field ordering depend on it.
	Columns    []string
	Values     map[string]string
	SourceID   string
	ImportID   string
	Ref        string
	ImportedAt time.Time
}

// Get returns the trimmed value for a column, or "" when absent.
func (r Row) Get(col string) string {
	return strings.TrimSpace(r.Values[col])
}

// DataColumns returns the row's columns excluding internal metadata fields,
// in header order, followed by any value-map keys missing from the header
// (sorted handling is left to callers that need determinism beyond order).
func (r Row) DataColumns() []string {
	out := make([]string, 0, len(r.Columns))
	seen := make(map[string]bool, len(r.Columns))
	for _, c := range r.Columns {
		if strings.HasPrefix(c, InternalPrefix) {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	for c := range r.Values {
		if !seen[c] && !strings.HasPrefix(c, InternalPrefix) {
			out = append(out, c)
		}
	}
	return out
}

// ProvenanceFile reports where the row came from for conflict attribution:
// the "_file" metadata field when present, otherwise the source id.
func (r Row) ProvenanceFile() string {
	if f := r.Get(InternalPrefix + "file"); f != "" {
		return f
	}
	return r.SourceID
}

// EffectiveImportTime resolves the timestamp used for latest-wins merge
// ordering: the "_date" metadata field when parseable, otherwise the
// ImportedAt tag.
func (r Row) EffectiveImportTime() time.Time {
	raw := r.Get(InternalPrefix + "date")
	if raw != "" {
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, raw); err == nil {
				return ts
			}
		}
	}
	return r.ImportedAt
}
