package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/keys"
	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/schema"
)

func newTestArbitrator() *Arbitrator {
	return NewArbitrator(
		schema.NewExtractor(schema.DefaultNormalizeConfig()),
		keys.NewDeriver(keys.Config{}),
	)
}

func rowAt(file, date string, cols []string, values map[string]string) schema.Row {
	v := make(map[string]string, len(values)+2)
	for k, val := range values {
		v[k] = val
	}
	v["_file"] = file
	v["_date"] = date
	return schema.Row{Columns: cols, Values: v, ImportedAt: time.Now()}
}

func TestMerge_SingleRecordIsIdentity(t *testing.T) {
	rec := rowAt("a.csv", "2024-01-01", []string{"First Name", "Last Name", "Status"},
		map[string]string{"First Name": "Jane", "Last Name": "Doe", "Status": "Active"})

	res, err := newTestArbitrator().Merge([]schema.Row{rec}, "")
	require.NoError(t, err)

	assert.Equal(t, "Jane", res.MergedRow["First Name"])
	assert.Equal(t, "Doe", res.MergedRow["Last Name"])
	assert.Equal(t, "Active", res.MergedRow["Status"])
	assert.Empty(t, res.Conflicts)
}

func TestMerge_StatusLatestWins(t *testing.T) {
	older := rowAt("a.csv", "2024-01-01", []string{"Email", "Status"},
		map[string]string{"Email": "jane@x.test", "Status": "Active"})
	newer := rowAt("b.csv", "2024-06-01", []string{"Email", "Status"},
		map[string]string{"Email": "jane@x.test", "Status": "Disabled"})

	// input order must not matter; only the effective import time does
	res, err := newTestArbitrator().Merge([]schema.Row{newer, older}, "")
	require.NoError(t, err)
	assert.Equal(t, "Disabled", res.MergedRow["Status"])
	assert.Empty(t, res.Conflicts, "status is rule-resolved, not a conflict")

	res, err = newTestArbitrator().Merge([]schema.Row{older, newer}, "")
	require.NoError(t, err)
	assert.Equal(t, "Disabled", res.MergedRow["Status"])
}

func TestMerge_DeviceValuesAccumulate(t *testing.T) {
	recs := []schema.Row{
		rowAt("a.csv", "2024-01-01", []string{"Email", "Device Serial"},
			map[string]string{"Email": "jane@x.test", "Device Serial": "SN-001"}),
		rowAt("b.csv", "2024-02-01", []string{"Email", "Device Serial"},
			map[string]string{"Email": "jane@x.test", "Device Serial": "SN-002"}),
		rowAt("c.csv", "2024-03-01", []string{"Email", "Device Serial"},
			map[string]string{"Email": "jane@x.test", "Device Serial": "SN-003"}),
	}

	res, err := newTestArbitrator().Merge(recs, "")
	require.NoError(t, err)

	devices, ok := res.MergedRow["Device Serial"].([]TaggedValue)
	require.True(t, ok, "device fields keep every value")
	require.Len(t, devices, 3)
	// most recent first, each tagged with its file
	assert.Equal(t, "SN-003", devices[0].Value)
	assert.Equal(t, "c.csv", devices[0].Source)
	assert.Equal(t, "SN-001", devices[2].Value)
}

func TestMerge_DescriptionConcatenated(t *testing.T) {
	recs := []schema.Row{
		rowAt("a.csv", "2024-01-01", []string{"Email", "Description"},
			map[string]string{"Email": "jane@x.test", "Description": "contractor"}),
		rowAt("b.csv", "2024-02-01", []string{"Email", "Description"},
			map[string]string{"Email": "jane@x.test", "Description": "on-site"}),
	}

	res, err := newTestArbitrator().Merge(recs, "")
	require.NoError(t, err)
	assert.Equal(t, "on-site; contractor", res.MergedRow["Description"])
}

func TestMerge_UnclassifiedFieldRecordsConflict(t *testing.T) {
	recs := []schema.Row{
		rowAt("a.csv", "2024-01-01", []string{"Email", "Department"},
			map[string]string{"Email": "jane@x.test", "Department": "Finance"}),
		rowAt("b.csv", "2024-06-01", []string{"Email", "Department"},
			map[string]string{"Email": "jane@x.test", "Department": "Legal"}),
	}

	res, err := newTestArbitrator().Merge(recs, "")
	require.NoError(t, err)

	assert.Equal(t, "Legal", res.MergedRow["Department"], "most recent value still wins")
	require.Len(t, res.Conflicts, 1)
	c := res.Conflicts[0]
	assert.Equal(t, "Department", c.Field)
	assert.Equal(t, "Legal", c.Chosen)
	require.Len(t, c.Values, 2)
	assert.Equal(t, "b.csv", c.Values[0].Source)
	assert.Equal(t, "a.csv", c.Values[1].Source)
}

func TestMerge_AgreementIsNeverAConflict(t *testing.T) {
	recs := []schema.Row{
		rowAt("a.csv", "2024-01-01", []string{"Department"}, map[string]string{"Department": "Finance"}),
		rowAt("b.csv", "2024-06-01", []string{"Department"}, map[string]string{"Department": "Finance"}),
	}

	res, err := newTestArbitrator().Merge(recs, "")
	require.NoError(t, err)
	assert.Equal(t, "Finance", res.MergedRow["Department"])
	assert.Empty(t, res.Conflicts)
}

func TestMerge_EmptyValuesIgnored(t *testing.T) {
	recs := []schema.Row{
		rowAt("a.csv", "2024-01-01", []string{"Email", "Department"},
			map[string]string{"Email": "jane@x.test", "Department": "Finance"}),
		rowAt("b.csv", "2024-06-01", []string{"Email", "Department"},
			map[string]string{"Email": "jane@x.test", "Department": "  "}),
	}

	res, err := newTestArbitrator().Merge(recs, "")
	require.NoError(t, err)
	assert.Equal(t, "Finance", res.MergedRow["Department"])
	assert.Empty(t, res.Conflicts)
}

func TestMerge_PreservesGivenPrimaryKey(t *testing.T) {
	recs := []schema.Row{
		rowAt("a.csv", "2024-01-01", []string{"First Name", "Last Name"},
			map[string]string{"First Name": "Jane", "Last Name": "Doe"}),
		rowAt("b.csv", "2024-02-01", []string{"First Name", "Last Name"},
			map[string]string{"First Name": "Jane", "Last Name": "Doe"}),
	}

	res, err := newTestArbitrator().Merge(recs, "jane.doe@example.com")
	require.NoError(t, err)
	assert.Equal(t, "jane.doe@example.com", res.MergedAttrs.PrimaryKey)
	assert.Equal(t, "jane", res.MergedAttrs.FirstName)
}

func TestMerge_RederivesKeyWhenUnknown(t *testing.T) {
	recs := []schema.Row{
		rowAt("a.csv", "2024-01-01", []string{"First Name", "Last Name"},
			map[string]string{"First Name": "Jane", "Last Name": "Doe"}),
	}

	res, err := newTestArbitrator().Merge(recs, "")
	require.NoError(t, err)
	assert.Equal(t, "jdoe", res.MergedAttrs.PrimaryKey)
}

func TestMerge_NoRecords(t *testing.T) {
	_, err := newTestArbitrator().Merge(nil, "")
	assert.ErrorIs(t, err, ErrNoRecords)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, StrategyLatest, classify("Last Logon Date"))
	assert.Equal(t, StrategyLatest, classify("Status"))
	assert.Equal(t, StrategyLatest, classify("Is Active"))
	assert.Equal(t, StrategyArray, classify("Device Model"))
	assert.Equal(t, StrategyArray, classify("IMEI"))
	assert.Equal(t, StrategyConcatenate, classify("Notes"))
	assert.Equal(t, StrategyConflict, classify("Department"))
}
