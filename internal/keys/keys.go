// Package keys derives the canonical identity key that decides whether two
// raw records refer to the same person. Derivation is deterministic: the same
// attribute set under the same configuration always yields the same key.
package keys

import (
	"errors"
	"strings"

	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/schema"
)

// ErrNotDerivable is returned when an attribute set carries nothing a key
// could be anchored on.
var ErrNotDerivable = errors.New("primary key not derivable")

// Strategy selects the key derivation algorithm.
type Strategy string

const (
	// StrategyFirstInitialLastName builds keys like "jdoe", falling back to
	// email, username, then displayName. The default.
	StrategyFirstInitialLastName Strategy = "first_initial_last_name"
	// StrategyEmail uses the normalized email only.
	StrategyEmail Strategy = "email"
	// StrategyCustom delegates to a caller-supplied function, which must be
	// deterministic and pure.
	StrategyCustom Strategy = "custom"
)

// CustomFunc is a pluggable key derivation function for StrategyCustom.
type CustomFunc func(schema.AttributeSet) (string, error)

// Config selects and parameterizes a derivation strategy. Zero value means
// the default strategy; pass explicitly at construction, no global state.
type Config struct {
	Strategy Strategy
	Custom   CustomFunc
}

// Deriver computes canonical identity keys.
type Deriver struct {
	cfg Config
}

// NewDeriver constructs a Deriver. An empty strategy defaults to
// first_initial_last_name.
func NewDeriver(cfg Config) *Deriver {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyFirstInitialLastName
	}
	return &Deriver{cfg: cfg}
}

// Derive computes the canonical key for an attribute set, or ErrNotDerivable.
func (d *Deriver) Derive(attrs schema.AttributeSet) (string, error) {
	switch d.cfg.Strategy {
	case StrategyEmail:
		if attrs.Email != "" {
			return keyNormalize(attrs.Email), nil
		}
		return "", ErrNotDerivable
	case StrategyCustom:
		if d.cfg.Custom == nil {
			return "", ErrNotDerivable
		}
		return d.cfg.Custom(attrs)
	default:
		return deriveFirstInitialLastName(attrs)
	}
}

func deriveFirstInitialLastName(attrs schema.AttributeSet) (string, error) {
	first := keyNormalize(attrs.FirstName)
	last := keyNormalize(attrs.LastName)
	if first != "" && last != "" {
		return string([]rune(first)[0]) + last, nil
	}
	for _, v := range []string{attrs.Email, attrs.Username, attrs.DisplayName} {
		if v != "" {
			return keyNormalize(v), nil
		}
	}
	return "", ErrNotDerivable
}

// keyNormalize lowercases and removes all whitespace so "Van Der Berg"
// contributes "vanderberg" to the key.
func keyNormalize(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	return strings.Join(strings.Fields(v), "")
}
