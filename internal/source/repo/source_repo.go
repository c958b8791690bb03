package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/source/entity"
)

// SourceRepo is the registry of known datasets and their schema descriptors.
type SourceRepo struct {
	db *sqlx.DB
}

// NewSourceRepo constructs a SourceRepo with an existing connection.
func NewSourceRepo(db *sqlx.DB) *SourceRepo {
	return &SourceRepo{db: db}
}

// EnsureTable creates the sources table if it does not exist. Idempotent.
func (r *SourceRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS sources (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		descriptor TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

type sourceRow struct {
	ID         string `db:"id"`
	Name       string `db:"name"`
	Descriptor string `db:"descriptor"`
	CreatedAt  string `db:"created_at"`
}

func (r sourceRow) toEntity() entity.Source {
	src := entity.Source{ID: r.ID, Name: r.Name}
	if r.Descriptor != "" {
		src.Descriptor = []byte(r.Descriptor)
	}
	if t, err := time.Parse(time.RFC3339Nano, r.CreatedAt); err == nil {
		src.CreatedAt = t
	}
	return src
}

// Create inserts a new source.
func (r *SourceRepo) Create(ctx context.Context, src *entity.Source) error {
	q := r.db.Rebind(`INSERT INTO sources (id, name, descriptor, created_at) VALUES (?,?,?,?)`)
	_, err := r.db.ExecContext(ctx, q, src.ID, src.Name, string(src.Descriptor), src.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// GetByName returns a source by its unique name, or sql.ErrNoRows.
func (r *SourceRepo) GetByName(ctx context.Context, name string) (*entity.Source, error) {
	q := r.db.Rebind(`SELECT id, name, descriptor, created_at FROM sources WHERE name = ?`)
	var row sourceRow
	if err := r.db.GetContext(ctx, &row, q, name); err != nil {
		return nil, err
	}
	src := row.toEntity()
	return &src, nil
}

// List returns all registered sources ordered by name.
func (r *SourceRepo) List(ctx context.Context) ([]entity.Source, error) {
	var rows []sourceRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT id, name, descriptor, created_at FROM sources ORDER BY name`); err != nil {
		return nil, err
	}
	out := make([]entity.Source, len(rows))
	for i, row := range rows {
		out[i] = row.toEntity()
	}
	return out, nil
}

// SetDescriptor stores or replaces the schema descriptor JSON of a source.
func (r *SourceRepo) SetDescriptor(ctx context.Context, id string, descriptor []byte) error {
	q := r.db.Rebind(`UPDATE sources SET descriptor = ? WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, q, string(descriptor), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
