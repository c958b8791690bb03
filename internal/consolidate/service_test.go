package consolidate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/consolidate/entity"
	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/keys"
	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/merge"
	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/schema"
	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/similarity"
)

// memStore is an in-memory Store for orchestrator tests.
type memStore struct {
	identities map[string]*entity.Identity // by primary key
	presences  []entity.Presence
	records    []schema.Row
	merged     map[string]string // loser ref -> survivor ref

	// fault injection
	failCreate   error
	failSave     error
	createCalls  int
	updateCalls  int
	raceOnCreate bool // first create reports a duplicate key
}

func newMemStore() *memStore {
	return &memStore{identities: map[string]*entity.Identity{}, merged: map[string]string{}}
}

func (m *memStore) FindIdentityByKey(ctx context.Context, key string) (*entity.Identity, error) {
	if ident, ok := m.identities[key]; ok {
		cp := *ident
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *memStore) CreateIdentity(ctx context.Context, ident *entity.Identity) error {
	m.createCalls++
	if m.failCreate != nil {
		return m.failCreate
	}
	if m.raceOnCreate {
		m.raceOnCreate = false
		m.identities[ident.PrimaryKey] = &entity.Identity{
			ID: "raced", PrimaryKey: ident.PrimaryKey, Email: "raced@x.test", Active: true,
		}
		return ErrDuplicateKey
	}
	if _, ok := m.identities[ident.PrimaryKey]; ok {
		return ErrDuplicateKey
	}
	cp := *ident
	m.identities[ident.PrimaryKey] = &cp
	return nil
}

func (m *memStore) UpdateIdentity(ctx context.Context, id string, patch entity.IdentityPatch) error {
	m.updateCalls++
	for _, ident := range m.identities {
		if ident.ID != id {
			continue
		}
		if patch.FirstName != "" {
			ident.FirstName = patch.FirstName
		}
		if patch.LastName != "" {
			ident.LastName = patch.LastName
		}
		if patch.Email != "" {
			ident.Email = patch.Email
		}
		if patch.Username != "" {
			ident.Username = patch.Username
		}
		if patch.DisplayName != "" {
			ident.DisplayName = patch.DisplayName
		}
		return nil
	}
	return ErrNotFound
}

func (m *memStore) ListIdentities(ctx context.Context) ([]entity.Identity, error) {
	out := make([]entity.Identity, 0, len(m.identities))
	for _, ident := range m.identities {
		out = append(out, *ident)
	}
	return out, nil
}

func (m *memStore) CreatePresence(ctx context.Context, p *entity.Presence) error {
	m.presences = append(m.presences, *p)
	return nil
}

func (m *memStore) FindPresence(ctx context.Context, identityID, sourceID, importID string) (*entity.Presence, error) {
	for i := range m.presences {
		p := m.presences[i]
		if p.IdentityID == identityID && p.SourceID == sourceID && p.ImportID == importID {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) SaveRawRecord(ctx context.Context, row schema.Row) error {
	if m.failSave != nil {
		return m.failSave
	}
	m.records = append(m.records, row)
	return nil
}

func (m *memStore) RawRowsFor(ctx context.Context, identityKey, sourceID string) ([]schema.Row, error) {
	ident, ok := m.identities[identityKey]
	if !ok {
		return nil, nil
	}
	var out []schema.Row
	for _, p := range m.presences {
		if p.IdentityID != ident.ID || p.SourceID != sourceID {
			continue
		}
		for _, r := range m.records {
			if r.Ref == p.RawRecordRef && m.merged[r.Ref] == "" {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (m *memStore) MarkRecordMerged(ctx context.Context, ref, survivorRef string, at time.Time) error {
	m.merged[ref] = survivorRef
	return nil
}

func newTestService(store Store) *Service {
	extractor := schema.NewExtractor(schema.DefaultNormalizeConfig())
	deriver := keys.NewDeriver(keys.Config{})
	return NewService(
		store,
		extractor,
		deriver,
		similarity.NewScorer(similarity.Config{}),
		merge.NewArbitrator(extractor, deriver),
		nil,
		zap.NewNop().Sugar(),
		Config{},
	)
}

func nameRow(first, last string) schema.Row {
	return schema.Row{
		Columns: []string{"First Name", "Last Name"},
		Values:  map[string]string{"First Name": first, "Last Name": last},
	}
}

func TestProcessImport_CreatesIdentity(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)

	res, err := svc.ProcessImport(context.Background(), "imp-1", "hr", []schema.Row{nameRow("Jane", "Doe")}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 0, res.Updated)
	assert.Empty(t, res.Errors)

	ident, ok := store.identities["jdoe"]
	require.True(t, ok)
	assert.Equal(t, "jane", ident.FirstName)
	assert.Equal(t, "doe", ident.LastName)
	assert.True(t, ident.Active)
	require.Len(t, store.presences, 1)
	assert.Equal(t, ident.ID, store.presences[0].IdentityID)
	require.Len(t, store.records, 1)
	assert.Equal(t, "hr", store.records[0].SourceID)
	assert.Equal(t, "imp-1", store.records[0].ImportID)
	assert.NotEmpty(t, store.records[0].Ref)
}

func TestProcessImport_Idempotent(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.ProcessImport(ctx, "imp-1", "hr", []schema.Row{nameRow("Jane", "Doe")}, nil)
	require.NoError(t, err)
	res, err := svc.ProcessImport(ctx, "imp-2", "hr", []schema.Row{nameRow("Jane", "Doe")}, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 1, res.Updated)
	assert.Len(t, store.identities, 1, "same key never mints a second identity")
	assert.Len(t, store.presences, 2, "each import leaves its own presence")
}

func TestProcessImport_PresenceDedupedWithinImport(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)

	rows := []schema.Row{nameRow("Jane", "Doe"), nameRow("Jane", "Doe")}
	res, err := svc.ProcessImport(context.Background(), "imp-1", "hr", rows, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Processed)
	assert.Len(t, store.presences, 1, "one presence per (identity, source, import)")
	assert.Len(t, store.records, 2, "raw records are all kept")
}

func TestProcessImport_FillsEmptyFieldsOnly(t *testing.T) {
	store := newMemStore()
	store.identities["jdoe"] = &entity.Identity{
		ID: "id-1", PrimaryKey: "jdoe", FirstName: "jane", LastName: "doe", Active: true,
	}
	svc := newTestService(store)

	row := schema.Row{
		Columns: []string{"First Name", "Last Name", "Email"},
		Values: map[string]string{
			"First Name": "Janet", // existing value must survive
			"Last Name":  "Doe",
			"Email":      "jane@x.test", // missing value gets filled
		},
	}
	res, err := svc.ProcessImport(context.Background(), "imp-1", "hr", []schema.Row{row}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Updated)
	ident := store.identities["jdoe"]
	assert.Equal(t, "jane", ident.FirstName)
	assert.Equal(t, "jane@x.test", ident.Email)
}

func TestProcessImport_NoPatchWhenNothingToFill(t *testing.T) {
	store := newMemStore()
	store.identities["jdoe"] = &entity.Identity{
		ID: "id-1", PrimaryKey: "jdoe",
		FirstName: "jane", LastName: "doe", DisplayName: "jane doe", Active: true,
	}
	svc := newTestService(store)

	_, err := svc.ProcessImport(context.Background(), "imp-1", "hr", []schema.Row{nameRow("Jane", "Doe")}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, store.updateCalls)
}

func TestProcessImport_RowErrorsDoNotAbortBatch(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)

	rows := []schema.Row{
		{Columns: []string{"Department"}, Values: map[string]string{"Department": "Finance"}},
		nameRow("Jane", "Doe"),
	}
	res, err := svc.ProcessImport(context.Background(), "imp-1", "hr", rows, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Processed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 0, res.Errors[0].Index)
	assert.Equal(t, ReasonExtractionFailed, res.Errors[0].Reason)
}

func TestProcessImport_StorageErrorIsPerRow(t *testing.T) {
	store := newMemStore()
	store.failCreate = errors.New("disk full")
	svc := newTestService(store)

	res, err := svc.ProcessImport(context.Background(), "imp-1", "hr",
		[]schema.Row{nameRow("Jane", "Doe"), nameRow("John", "Smith")}, nil)
	require.NoError(t, err, "the batch itself never fails on a row")

	assert.Equal(t, 0, res.Processed)
	require.Len(t, res.Errors, 2)
	for _, re := range res.Errors {
		assert.Equal(t, ReasonStorageError, re.Reason)
	}
}

func TestProcessImport_DuplicateKeyRaceBecomesUpdate(t *testing.T) {
	store := newMemStore()
	store.raceOnCreate = true
	svc := newTestService(store)

	res, err := svc.ProcessImport(context.Background(), "imp-1", "hr", []schema.Row{nameRow("Jane", "Doe")}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 1, res.Updated)
	ident := store.identities["jdoe"]
	assert.Equal(t, "raced", ident.ID, "the winner's identity is reused")
	assert.Equal(t, "jane", ident.FirstName, "missing fields still get filled")
	assert.Equal(t, "raced@x.test", ident.Email)
}

func TestProcessImport_DuplicateAdvisory(t *testing.T) {
	store := newMemStore()
	// same person, keyed by email in an earlier source
	store.identities["jane.doe@example.com"] = &entity.Identity{
		ID: "id-1", PrimaryKey: "jane.doe@example.com",
		FirstName: "jane", LastName: "doe", Email: "jane.doe@example.com", Active: true,
	}
	svc := newTestService(store)

	res, err := svc.ProcessImport(context.Background(), "imp-1", "hr", []schema.Row{nameRow("Jane", "Doe")}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Created, "advisories never block creation")
	require.Len(t, res.Advisories, 1)
	adv := res.Advisories[0]
	assert.Equal(t, "jdoe", adv.PrimaryKey)
	require.NotEmpty(t, adv.Candidates)
	assert.Equal(t, "id-1", adv.Candidates[0].Identity.ID)
	assert.GreaterOrEqual(t, adv.Candidates[0].Score, 0.7)
}

func TestProcessImport_SchemaDriven(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)

	desc := &schema.Descriptor{Columns: []schema.Column{
		{Name: "Worker", CanonicalField: schema.FieldDisplayName},
	}}
	row := schema.Row{Columns: []string{"Worker"}, Values: map[string]string{"Worker": "Jane Doe"}}

	res, err := svc.ProcessImport(context.Background(), "imp-1", "hr", []schema.Row{row}, desc)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	_, ok := store.identities["jdoe"]
	assert.True(t, ok)
}

func TestMergeSourceDuplicates(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	old := schema.Row{
		Columns:    []string{"First Name", "Last Name", "Status"},
		Values:     map[string]string{"First Name": "Jane", "Last Name": "Doe", "Status": "Active"},
		Ref:        "r-old",
		ImportedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	recent := schema.Row{
		Columns:    []string{"First Name", "Last Name", "Status"},
		Values:     map[string]string{"First Name": "Jane", "Last Name": "Doe", "Status": "Disabled"},
		Ref:        "r-new",
		ImportedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	_, err := svc.ProcessImport(ctx, "imp-1", "hr", []schema.Row{old}, nil)
	require.NoError(t, err)
	_, err = svc.ProcessImport(ctx, "imp-2", "hr", []schema.Row{recent}, nil)
	require.NoError(t, err)

	result, err := svc.MergeSourceDuplicates(ctx, "jdoe", "hr")
	require.NoError(t, err)

	assert.Equal(t, "Disabled", result.MergedRow["Status"])
	assert.Equal(t, "jdoe", result.MergedAttrs.PrimaryKey)
	assert.Equal(t, "r-new", store.merged["r-old"], "the loser points at the survivor")
	assert.Empty(t, store.merged["r-new"])
}

func TestMergeSourceDuplicates_NeedsTwoRecords(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.ProcessImport(ctx, "imp-1", "hr", []schema.Row{nameRow("Jane", "Doe")}, nil)
	require.NoError(t, err)

	_, err = svc.MergeSourceDuplicates(ctx, "jdoe", "hr")
	assert.ErrorIs(t, err, merge.ErrNoRecords)
}
