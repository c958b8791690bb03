package keys

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/schema"
)

func TestDerive_FirstInitialLastName(t *testing.T) {
	d := NewDeriver(Config{})

	key, err := d.Derive(schema.AttributeSet{FirstName: "jane", LastName: "doe"})
	require.NoError(t, err)
	assert.Equal(t, "jdoe", key)
}

func TestDerive_LastNameWhitespaceCollapsed(t *testing.T) {
	d := NewDeriver(Config{})

	key, err := d.Derive(schema.AttributeSet{FirstName: "Jan", LastName: "van der Berg"})
	require.NoError(t, err)
	assert.Equal(t, "jvanderberg", key)
}

func TestDerive_FallbackChain(t *testing.T) {
	d := NewDeriver(Config{Strategy: StrategyFirstInitialLastName})

	key, err := d.Derive(schema.AttributeSet{Email: "jane.doe@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "jane.doe@example.com", key)

	key, err = d.Derive(schema.AttributeSet{Username: "JDoe77"})
	require.NoError(t, err)
	assert.Equal(t, "jdoe77", key)

	key, err = d.Derive(schema.AttributeSet{DisplayName: "Jane Doe"})
	require.NoError(t, err)
	assert.Equal(t, "janedoe", key)
}

// Two sources describing the same person through different fields yield
// different keys and therefore never auto-merge; linking them is the bridge
// matcher's job.
func TestDerive_DifferentFieldsNoCollision(t *testing.T) {
	d := NewDeriver(Config{})

	byName, err := d.Derive(schema.AttributeSet{FirstName: "Jane", LastName: "Doe"})
	require.NoError(t, err)
	byEmail, err := d.Derive(schema.AttributeSet{Email: "jane.doe@example.com"})
	require.NoError(t, err)

	assert.Equal(t, "jdoe", byName)
	assert.Equal(t, "jane.doe@example.com", byEmail)
	assert.NotEqual(t, byName, byEmail)
}

func TestDerive_EmailStrategy(t *testing.T) {
	d := NewDeriver(Config{Strategy: StrategyEmail})

	key, err := d.Derive(schema.AttributeSet{Email: " Jane.Doe@Example.com ", FirstName: "jane", LastName: "doe"})
	require.NoError(t, err)
	assert.Equal(t, "jane.doe@example.com", key)

	_, err = d.Derive(schema.AttributeSet{FirstName: "jane", LastName: "doe"})
	assert.ErrorIs(t, err, ErrNotDerivable)
}

func TestDerive_CustomStrategy(t *testing.T) {
	d := NewDeriver(Config{
		Strategy: StrategyCustom,
		Custom: func(a schema.AttributeSet) (string, error) {
			return strings.ToUpper(a.Username), nil
		},
	})

	key, err := d.Derive(schema.AttributeSet{Username: "jdoe"})
	require.NoError(t, err)
	assert.Equal(t, "JDOE", key)
}

func TestDerive_CustomStrategyWithoutFunc(t *testing.T) {
	d := NewDeriver(Config{Strategy: StrategyCustom})
	_, err := d.Derive(schema.AttributeSet{Username: "jdoe"})
	assert.ErrorIs(t, err, ErrNotDerivable)
}

func TestDerive_NotDerivable(t *testing.T) {
	d := NewDeriver(Config{})
	_, err := d.Derive(schema.AttributeSet{})
	assert.ErrorIs(t, err, ErrNotDerivable)
}

func TestDerive_Deterministic(t *testing.T) {
	d := NewDeriver(Config{})
	attrs := schema.AttributeSet{FirstName: "jane", LastName: "doe", Email: "jane@x.test"}

	first, err := d.Derive(attrs)
	require.NoError(t, err)
	second, err := d.Derive(attrs)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
