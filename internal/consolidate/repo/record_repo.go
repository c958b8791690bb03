package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/bridge"
	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/schema"
)

// RecordRepo stores the raw rows that produced presences. Raw records are
// kept verbatim (columns and values as JSON) so merge passes and bridge scans
// can revisit them; merge outcomes are annotations, never deletions.
type RecordRepo struct {
	db *sqlx.DB
}

// NewRecordRepo constructs a RecordRepo.
func NewRecordRepo(db *sqlx.DB) *RecordRepo {
	return &RecordRepo{db: db}
}

type rawRecordRow struct {
	Ref         string         `db:"ref"`
	SourceID    string         `db:"source_id"`
	ImportID    string         `db:"import_id"`
	Columns     string         `db:"columns"`
	FieldValues string         `db:"field_values"`
	ImportedAt  string         `db:"imported_at"`
	Merged      int            `db:"merged"`
	MergedInto  string         `db:"merged_into"`
	MergedAt    sql.NullString `db:"merged_at"`
}

func (r rawRecordRow) toRow() (schema.Row, error) {
	row := schema.Row{
		SourceID:   r.SourceID,
		ImportID:   r.ImportID,
		Ref:        r.Ref,
		ImportedAt: parseTime(r.ImportedAt),
	}
	if err := json.Unmarshal([]byte(r.Columns), &row.Columns); err != nil {
		return schema.Row{}, fmt.Errorf("decode columns of %s: %w", r.Ref, err)
	}
	if err := json.Unmarshal([]byte(r.FieldValues), &row.Values); err != nil {
		return schema.Row{}, fmt.Errorf("decode values of %s: %w", r.Ref, err)
	}
	return row, nil
}

// SaveRawRecord persists one raw row keyed by its ref. Re-saving the same ref
// is an upsert-free no-op conflict on purpose: the original record is the
// record.
func (r *RecordRepo) SaveRawRecord(ctx context.Context, row schema.Row) error {
	cols, err := json.Marshal(row.Columns)
	if err != nil {
		return fmt.Errorf("encode columns: %w", err)
	}
	vals, err := json.Marshal(row.Values)
	if err != nil {
		return fmt.Errorf("encode values: %w", err)
	}
	q := r.db.Rebind(`INSERT INTO raw_records (ref, source_id, import_id, columns, field_values, imported_at)
		VALUES (?,?,?,?,?,?)`)
	_, err = r.db.ExecContext(ctx, q, row.Ref, row.SourceID, row.ImportID, string(cols), string(vals), formatTime(row.ImportedAt))
	return translateUnique(err)
}

// MarkRecordMerged annotates a losing record of a duplicate merge with the
// survivor it was folded into.
func (r *RecordRepo) MarkRecordMerged(ctx context.Context, ref, survivorRef string, at time.Time) error {
	q := r.db.Rebind(`UPDATE raw_records SET merged = 1, merged_into = ?, merged_at = ? WHERE ref = ?`)
	_, err := r.db.ExecContext(ctx, q, survivorRef, formatTime(at), ref)
	return err
}

const rawRecordColumns = `rr.ref, rr.source_id, rr.import_id, rr.columns, rr.field_values, rr.imported_at, rr.merged, rr.merged_into, rr.merged_at`

// RawRowsFor returns the raw rows one source holds for one identity key,
// unmerged records only, oldest import first.
func (r *RecordRepo) RawRowsFor(ctx context.Context, identityKey, sourceID string) ([]schema.Row, error) {
	q := r.db.Rebind(`SELECT ` + rawRecordColumns + `
		FROM raw_records rr
		JOIN presences p ON p.raw_record_ref = rr.ref
		JOIN identities i ON i.id = p.identity_id
		WHERE i.primary_key = ? AND rr.source_id = ? AND rr.merged = 0
		ORDER BY rr.imported_at, rr.ref`)
	return r.selectRows(ctx, q, identityKey, sourceID)
}

// RowsForIdentity returns every raw row linked to a canonical identity key
// across all sources.
func (r *RecordRepo) RowsForIdentity(ctx context.Context, identityKey string) ([]schema.Row, error) {
	q := r.db.Rebind(`SELECT ` + rawRecordColumns + `
		FROM raw_records rr
		JOIN presences p ON p.raw_record_ref = rr.ref
		JOIN identities i ON i.id = p.identity_id
		WHERE i.primary_key = ?
		ORDER BY rr.imported_at, rr.ref`)
	return r.selectRows(ctx, q, identityKey)
}

// Rows returns every raw row of one source.
func (r *RecordRepo) Rows(ctx context.Context, sourceID string) ([]schema.Row, error) {
	q := r.db.Rebind(`SELECT ` + rawRecordColumns + `
		FROM raw_records rr WHERE rr.source_id = ? ORDER BY rr.imported_at, rr.ref`)
	return r.selectRows(ctx, q, sourceID)
}

// SampleRows returns up to limit rows of one source in insertion order.
func (r *RecordRepo) SampleRows(ctx context.Context, sourceID string, limit int) ([]schema.Row, error) {
	q := r.db.Rebind(`SELECT ` + rawRecordColumns + `
		FROM raw_records rr WHERE rr.source_id = ? ORDER BY rr.imported_at, rr.ref LIMIT ?`)
	return r.selectRows(ctx, q, sourceID, limit)
}

// Sources lists the known datasets from the source registry table.
func (r *RecordRepo) Sources(ctx context.Context) ([]bridge.Source, error) {
	var rows []struct {
		ID   string `db:"id"`
		Name string `db:"name"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT id, name FROM sources ORDER BY name`); err != nil {
		return nil, err
	}
	out := make([]bridge.Source, len(rows))
	for i, row := range rows {
		out[i] = bridge.Source{ID: row.ID, Name: row.Name}
	}
	return out, nil
}

func (r *RecordRepo) selectRows(ctx context.Context, query string, args ...any) ([]schema.Row, error) {
	var raw []rawRecordRow
	if err := r.db.SelectContext(ctx, &raw, query, args...); err != nil {
		return nil, err
	}
	out := make([]schema.Row, 0, len(raw))
	for _, rec := range raw {
		row, err := rec.toRow()
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// Store aggregates the repositories into the orchestrator's storage
// collaborator; it also serves as the bridge matcher's read-only catalog.
type Store struct {
	*IdentityRepo
	*RecordRepo
}

// NewStore constructs the combined storage collaborator.
func NewStore(db *sqlx.DB) *Store {
	return &Store{IdentityRepo: NewIdentityRepo(db), RecordRepo: NewRecordRepo(db)}
}
