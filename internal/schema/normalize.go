package schema

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeConfig controls how extracted values are normalized. Trimming is
// unconditional; folding and diacritic stripping are opt-out so sources with
// case-significant identifiers can keep them.
type NormalizeConfig struct {
	CaseFold        bool
	StripDiacritics bool
}

// DefaultNormalizeConfig trims, lowercases and strips diacritics.
func DefaultNormalizeConfig() NormalizeConfig {
	return NormalizeConfig{CaseFold: true, StripDiacritics: true}
}

// Normalize applies the configured normalization to a raw value.
func (c NormalizeConfig) Normalize(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return v
	}
	if c.CaseFold {
		v = strings.ToLower(v)
	}
	if c.StripDiacritics {
		v = stripDiacritics(v)
	}
	return v
}

// stripDiacritics decomposes to NFD and drops combining marks, so "José" and
// "Jose" normalize to the same value.
func stripDiacritics(s string) string {
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// normalizeHeader lowercases a column name and strips whitespace, underscores
// and hyphens so "First_Name", "first-name" and "FirstName" compare equal.
func normalizeHeader(h string) string {
	s := strings.ToLower(strings.TrimSpace(h))
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, "-", "")
	return s
}
