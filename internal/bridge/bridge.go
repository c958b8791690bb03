// Package bridge finds datasets that carry more than one identifier type and
// uses them to connect identifiers across sources that share no common field.
// Everything here is a read-only analysis pass; output is advisory and may
// observe a partially processed import.
package bridge

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/schema"
)

// SampleSize bounds how many rows of a source are inspected when deciding
// whether it qualifies as a bridge.
const SampleSize = 10

// DefaultConfidence is assigned to bridge-routed matches: the link is an
// exact-value match pivoted through a bridge row, not a fuzzy guess.
const DefaultConfidence = 95

// Identifier column name patterns. A bridge needs at least one column from
// each family.
var (
	emailPatterns = []string{"email", "mail"}
	userPatterns  = []string{"username", "userid", "user", "login", "name"}
)

// Source is one known dataset.
type Source struct {
	ID   string
	Name string
}

// Catalog is the read-only view of stored datasets the matcher scans.
type Catalog interface {
	Sources(ctx context.Context) ([]Source, error)
	// SampleRows returns up to limit rows of a source in insertion order.
	SampleRows(ctx context.Context, sourceID string, limit int) ([]schema.Row, error)
	Rows(ctx context.Context, sourceID string) ([]schema.Row, error)
	// RowsForIdentity returns the raw rows linked to a canonical identity key.
	RowsForIdentity(ctx context.Context, identityKey string) ([]schema.Row, error)
}

// Dataset is a source that qualified as a bridge, with the identifier
// columns that qualified it.
type Dataset struct {
	SourceID     string   `json:"sourceId"`
	SourceName   string   `json:"sourceName"`
	EmailColumns []string `json:"emailColumns"`
	UserColumns  []string `json:"userColumns"`
}

// Match is one cross-source identifier link routed through a bridge.
type Match struct {
	SourceA    string `json:"sourceA"`
	SourceB    string `json:"sourceB"`
	IDA        string `json:"idA"`
	IDB        string `json:"idB"`
	Bridge     string `json:"bridge"`
	Confidence int    `json:"confidence"`
}

// Report is the outcome of a cross-source match scan.
type Report struct {
	Matches []Match `json:"matches"`
	// RecommendedField is the canonical field ("email" or "username") the
	// bridges most often connected through; standardizing sources on it
	// would make bridging unnecessary.
	RecommendedField string `json:"recommendedField"`
}

// Config tunes the matcher.
type Config struct {
	Confidence int
}

// Matcher scans a catalog for bridge datasets and cross-source matches.
type Matcher struct {
	catalog Catalog
	logger  *zap.SugaredLogger
	cfg     Config
}

// NewMatcher constructs a Matcher. A zero Confidence falls back to the
// default.
func NewMatcher(catalog Catalog, logger *zap.SugaredLogger, cfg Config) *Matcher {
	if cfg.Confidence == 0 {
		cfg.Confidence = DefaultConfidence
	}
	return &Matcher{catalog: catalog, logger: logger, cfg: cfg}
}

// FindBridgeDatasets classifies every known source. A source is a bridge when
// a bounded sample of its rows exposes at least one email-like column AND at
// least one user/name-like column, with at least two distinct qualifying
// columns total.
func (m *Matcher) FindBridgeDatasets(ctx context.Context) ([]Dataset, error) {
	sources, err := m.catalog.Sources(ctx)
	if err != nil {
		return nil, err
	}
	var out []Dataset
	for _, src := range sources {
		rows, err := m.catalog.SampleRows(ctx, src.ID, SampleSize)
		if err != nil {
			return nil, err
		}
		ds, ok := classifyDataset(src, rows)
		if ok {
			out = append(out, ds)
		}
	}
	return out, nil
}

func classifyDataset(src Source, rows []schema.Row) (Dataset, bool) {
	emailCols := map[string]bool{}
	userCols := map[string]bool{}
	for _, row := range rows {
		for _, col := range row.DataColumns() {
			header := strings.ToLower(col)
			if matchesAny(header, emailPatterns) {
				emailCols[col] = true
			} else if matchesAny(header, userPatterns) {
				userCols[col] = true
			}
		}
	}
	if len(emailCols) == 0 || len(userCols) == 0 || len(emailCols)+len(userCols) < 2 {
		return Dataset{}, false
	}
	return Dataset{
		SourceID:     src.ID,
		SourceName:   src.Name,
		EmailColumns: sortedKeys(emailCols),
		UserColumns:  sortedKeys(userCols),
	}, true
}

// FindCrossSourceMatches links a canonical identity's identifiers across
// sources through the given bridges. For every bridge row containing one of
// the identity's known identifier values, the other identifier values on
// that row are searched for in all remaining sources; each hit becomes a
// match. Matches are deduplicated by (sourceA, sourceB, idB).
func (m *Matcher) FindCrossSourceMatches(ctx context.Context, identityKey string, bridges []Dataset) (*Report, error) {
	targetRows, err := m.catalog.RowsForIdentity(ctx, identityKey)
	if err != nil {
		return nil, err
	}
	targets := identifierValues(targetRows)
	if len(targets) == 0 {
		return &Report{RecommendedField: "email"}, nil
	}

	sources, err := m.catalog.Sources(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(sources))
	for _, s := range sources {
		names[s.ID] = s.Name
	}

	report := &Report{}
	fieldTally := map[string]int{}
	seen := map[string]bool{}

	for _, bridge := range bridges {
		rows, err := m.catalog.Rows(ctx, bridge.SourceID)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			hit, hitValue, hitField := findHit(row, targets)
			if !hit {
				continue
			}
			fieldTally[hitField]++
			pivots := pivotValues(row, hitValue)
			if len(pivots) == 0 {
				continue
			}
			for _, src := range sources {
				if src.ID == bridge.SourceID {
					continue
				}
				found, err := m.scanSource(ctx, src.ID, pivots)
				if err != nil {
					return nil, err
				}
				for _, idB := range found {
					key := targets[hitValue].sourceID + "\x00" + src.ID + "\x00" + idB
					if seen[key] {
						continue
					}
					seen[key] = true
					report.Matches = append(report.Matches, Match{
						SourceA:    names[targets[hitValue].sourceID],
						SourceB:    names[src.ID],
						IDA:        hitValue,
						IDB:        idB,
						Bridge:     bridge.SourceName,
						Confidence: m.cfg.Confidence,
					})
				}
			}
		}
	}

	report.RecommendedField = recommendField(fieldTally)
	if m.logger != nil {
		m.logger.Debugw("cross-source scan complete",
			"identity", identityKey,
			"matches", len(report.Matches),
			"recommended_field", report.RecommendedField,
		)
	}
	return report, nil
}

type targetOrigin struct {
	sourceID string
}

// identifierValues gathers the identity's identifier values (email-like and
// user-like columns) from all its raw rows, keyed by folded value.
func identifierValues(rows []schema.Row) map[string]targetOrigin {
	out := make(map[string]targetOrigin)
	for _, row := range rows {
		for _, col := range row.DataColumns() {
			header := strings.ToLower(col)
			if !matchesAny(header, emailPatterns) && !matchesAny(header, userPatterns) {
				continue
			}
			v := fold(row.Get(col))
			if v == "" {
				continue
			}
			if _, ok := out[v]; !ok {
				out[v] = targetOrigin{sourceID: row.SourceID}
			}
		}
	}
	return out
}

// findHit looks for any column value equal to one of the target identifiers
// and reports which identifier family the connecting column belongs to.
func findHit(row schema.Row, targets map[string]targetOrigin) (bool, string, string) {
	for _, col := range row.DataColumns() {
		v := fold(row.Get(col))
		if v == "" {
			continue
		}
		if _, ok := targets[v]; !ok {
			continue
		}
		field := "username"
		if matchesAny(strings.ToLower(col), emailPatterns) {
			field = "email"
		}
		return true, v, field
	}
	return false, "", ""
}

// pivotValues collects the other identifier values present on a bridge row.
func pivotValues(row schema.Row, hitValue string) []string {
	var out []string
	for _, col := range row.DataColumns() {
		header := strings.ToLower(col)
		if !matchesAny(header, emailPatterns) && !matchesAny(header, userPatterns) {
			continue
		}
		v := fold(row.Get(col))
		if v == "" || v == hitValue {
			continue
		}
		out = append(out, v)
	}
	return out
}

// scanSource returns the pivot values that appear in any column of any row of
// the source.
func (m *Matcher) scanSource(ctx context.Context, sourceID string, pivots []string) ([]string, error) {
	rows, err := m.catalog.Rows(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(pivots))
	for _, p := range pivots {
		want[p] = true
	}
	found := map[string]bool{}
	for _, row := range rows {
		for _, col := range row.DataColumns() {
			v := fold(row.Get(col))
			if want[v] && !found[v] {
				found[v] = true
			}
		}
	}
	return sortedKeys(found), nil
}

// recommendField picks the connecting field the bridges used most, favoring
// email on a tie (or when no bridge connected anything).
func recommendField(tally map[string]int) string {
	if tally["username"] > tally["email"] {
		return "username"
	}
	return "email"
}

func matchesAny(header string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(header, p) {
			return true
		}
	}
	return false
}

func fold(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
