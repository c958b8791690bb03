// Package similarity scores how alike two records or strings are. Scores are
// advisory signals for duplicate review and missing-user investigations; they
// never trigger an automatic merge.
package similarity

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/schema"
)

// Field weights for attribute similarity. Strong identifiers dominate; names
// only nudge the score.
const (
	weightPrimaryKey = 1.0
	weightEmail      = 1.0
	weightUsername   = 0.8
	weightName       = 0.5
)

// Config carries the advisory thresholds. The potential-match band bounds are
// fixed constants in the original workflow with no stated derivation; they
// are kept configurable here.
type Config struct {
	// PotentialFloor/PotentialCeil bound the "similar but not identical"
	// band for potential matches (exclusive on both ends).
	PotentialFloor float64
	PotentialCeil  float64
	// MaxPotential caps how many potential matches are surfaced.
	MaxPotential int
}

// DefaultConfig returns the 80 < s < 100 band with a top-10 cap.
func DefaultConfig() Config {
	return Config{PotentialFloor: 80, PotentialCeil: 100, MaxPotential: 10}
}

// Scorer computes attribute and string similarity.
type Scorer struct {
	cfg Config
}

// NewScorer constructs a Scorer; zero-value bounds fall back to defaults.
func NewScorer(cfg Config) *Scorer {
	def := DefaultConfig()
	if cfg.PotentialFloor == 0 && cfg.PotentialCeil == 0 {
		cfg.PotentialFloor = def.PotentialFloor
		cfg.PotentialCeil = def.PotentialCeil
	}
	if cfg.MaxPotential == 0 {
		cfg.MaxPotential = def.MaxPotential
	}
	return &Scorer{cfg: cfg}
}

// AttributeSimilarity computes a weighted similarity in [0,1] between two
// attribute sets. Only fields present in both records count toward the
// denominator, so sparse records are not penalized for what they never
// carried.
func (s *Scorer) AttributeSimilarity(a, b schema.AttributeSet) float64 {
	var got, total float64
	add := func(av, bv string, w float64) {
		if av == "" || bv == "" {
			return
		}
		total += w
		if strings.EqualFold(av, bv) {
			got += w
		}
	}
	add(a.PrimaryKey, b.PrimaryKey, weightPrimaryKey)
	add(a.Email, b.Email, weightEmail)
	add(a.Username, b.Username, weightUsername)
	add(a.FirstName, b.FirstName, weightName)
	add(a.LastName, b.LastName, weightName)
	if total == 0 {
		return 0
	}
	return got / total
}

// StringSimilarity returns a percentage in [0,100] based on normalized
// Levenshtein distance. Symmetric; identical strings (including two empty
// strings) score 100.
func (s *Scorer) StringSimilarity(a, b string) float64 {
	if a == b {
		return 100
	}
	la, lb := len([]rune(a)), len([]rune(b))
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	if maxLen == 0 {
		return 100
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 100 * (1 - float64(dist)/float64(maxLen))
}

// Candidate is one value observed on some platform, scored against a target.
type Candidate struct {
	Platform string
	Value    string
	Score    float64
}

// PotentialMatches scores each candidate value against the target and keeps
// the ones inside the potential band: similar but not identical. Identical
// values are already linked by key equality and are confirmed, not
// "potential". Results are deduplicated by (platform, value) and capped to
// the best MaxPotential by score.
func (s *Scorer) PotentialMatches(target string, candidates []Candidate) []Candidate {
	seen := make(map[string]bool, len(candidates))
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		score := s.StringSimilarity(target, c.Value)
		if score <= s.cfg.PotentialFloor || score >= s.cfg.PotentialCeil {
			continue
		}
		dedup := c.Platform + "\x00" + c.Value
		if seen[dedup] {
			continue
		}
		seen[dedup] = true
		c.Score = score
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > s.cfg.MaxPotential {
		out = out[:s.cfg.MaxPotential]
	}
	return out
}
