package source

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/schema"
	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/source/entity"
	sourcerepo "github.com/TylorMayfield/multi-csv-audit-sub000/internal/source/repo"
	"github.com/TylorMayfield/multi-csv-audit-sub000/pkg/database"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := database.Connect(database.Config{
		Driver:  "sqlite",
		DSN:     ":memory:",
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := sourcerepo.NewSourceRepo(db)
	require.NoError(t, repo.EnsureTable(context.Background()))
	return NewService(repo)
}

func TestEnsure_CreatesOnce(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.Ensure(ctx, "HR Export", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	second, err := svc.Ensure(ctx, "HR Export", nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "same name resolves to the same source")

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestGet_NotFound(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDescriptor_Roundtrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	raw := []byte(`{"columns":[{"name":"Work Email","canonicalField":"email"}]}`)
	src, err := svc.Ensure(ctx, "HR Export", raw)
	require.NoError(t, err)

	got, err := svc.Get(ctx, "HR Export")
	require.NoError(t, err)
	desc, err := svc.Descriptor(got)
	require.NoError(t, err)
	require.NotNil(t, desc)
	require.Len(t, desc.Columns, 1)
	assert.Equal(t, "Work Email", desc.Columns[0].Name)
	assert.Equal(t, schema.FieldEmail, desc.Columns[0].CanonicalField)
	assert.Equal(t, src.ID, got.ID)
}

func TestDescriptor_AbsentMeansNil(t *testing.T) {
	svc := newTestService(t)

	desc, err := svc.Descriptor(&entity.Source{Name: "bare"})
	require.NoError(t, err)
	assert.Nil(t, desc)
}
