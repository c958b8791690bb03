// Package repo implements the consolidation storage collaborator over sqlx.
// One query set serves both postgres and sqlite: queries are written with '?'
// placeholders and rebound per driver.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/consolidate"
	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/consolidate/entity"
)

// IdentityRepo provides data access for identities and presences.
type IdentityRepo struct {
	db *sqlx.DB
}

// NewIdentityRepo constructs an IdentityRepo with an existing connection.
func NewIdentityRepo(db *sqlx.DB) *IdentityRepo {
	return &IdentityRepo{db: db}
}

// identityRow is the scan target; times and bools use portable encodings.
type identityRow struct {
	ID          string `db:"id"`
	PrimaryKey  string `db:"primary_key"`
	FirstName   string `db:"first_name"`
	LastName    string `db:"last_name"`
	Email       string `db:"email"`
	Username    string `db:"username"`
	DisplayName string `db:"display_name"`
	Active      int    `db:"active"`
	CreatedAt   string `db:"created_at"`
	UpdatedAt   string `db:"updated_at"`
}

func (r identityRow) toEntity() entity.Identity {
	return entity.Identity{
		ID:          r.ID,
		PrimaryKey:  r.PrimaryKey,
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		Email:       r.Email,
		Username:    r.Username,
		DisplayName: r.DisplayName,
		Active:      r.Active != 0,
		CreatedAt:   parseTime(r.CreatedAt),
		UpdatedAt:   parseTime(r.UpdatedAt),
	}
}

const identityColumns = `id, primary_key, first_name, last_name, email, username, display_name, active, created_at, updated_at`

// FindIdentityByKey returns the identity for a canonical key, or
// consolidate.ErrNotFound.
func (r *IdentityRepo) FindIdentityByKey(ctx context.Context, key string) (*entity.Identity, error) {
	q := r.db.Rebind(`SELECT ` + identityColumns + ` FROM identities WHERE primary_key = ?`)
	var row identityRow
	if err := r.db.GetContext(ctx, &row, q, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, consolidate.ErrNotFound
		}
		return nil, err
	}
	ident := row.toEntity()
	return &ident, nil
}

// CreateIdentity inserts a new identity. A unique violation on primary_key is
// reported as consolidate.ErrDuplicateKey so callers can re-resolve instead
// of crashing.
func (r *IdentityRepo) CreateIdentity(ctx context.Context, ident *entity.Identity) error {
	q := r.db.Rebind(`INSERT INTO identities (` + identityColumns + `) VALUES (?,?,?,?,?,?,?,?,?,?)`)
	_, err := r.db.ExecContext(ctx, q,
		ident.ID, ident.PrimaryKey, ident.FirstName, ident.LastName,
		ident.Email, ident.Username, ident.DisplayName,
		boolToInt(ident.Active), formatTime(ident.CreatedAt), formatTime(ident.UpdatedAt),
	)
	return translateUnique(err)
}

// UpdateIdentity applies a fill-only patch. Empty patch fields are left
// untouched via COALESCE-free explicit column updates.
func (r *IdentityRepo) UpdateIdentity(ctx context.Context, id string, patch entity.IdentityPatch) error {
	sets := []string{"updated_at = ?"}
	args := []any{formatTime(time.Now().UTC())}
	add := func(col, v string) {
		if v != "" {
			sets = append(sets, col+" = ?")
			args = append(args, v)
		}
	}
	add("first_name", patch.FirstName)
	add("last_name", patch.LastName)
	add("email", patch.Email)
	add("username", patch.Username)
	add("display_name", patch.DisplayName)
	args = append(args, id)

	q := r.db.Rebind(`UPDATE identities SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, q, args...)
	return err
}

// ListIdentities returns every stored identity in creation order. Used by the
// advisory duplicate scan.
func (r *IdentityRepo) ListIdentities(ctx context.Context) ([]entity.Identity, error) {
	q := `SELECT ` + identityColumns + ` FROM identities ORDER BY created_at, id`
	var rows []identityRow
	if err := r.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	out := make([]entity.Identity, len(rows))
	for i, row := range rows {
		out[i] = row.toEntity()
	}
	return out, nil
}

// Deactivate marks an identity inactive; identities are never deleted.
func (r *IdentityRepo) Deactivate(ctx context.Context, id string) error {
	q := r.db.Rebind(`UPDATE identities SET active = 0, updated_at = ? WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, q, formatTime(time.Now().UTC()), id)
	return err
}

type presenceRow struct {
	ID           string         `db:"id"`
	IdentityID   string         `db:"identity_id"`
	SourceID     string         `db:"source_id"`
	ImportID     string         `db:"import_id"`
	RawRecordRef string         `db:"raw_record_ref"`
	Active       int            `db:"active"`
	LastSeenAt   sql.NullString `db:"last_seen_at"`
	Payload      string         `db:"payload"`
	CreatedAt    string         `db:"created_at"`
}

func (r presenceRow) toEntity() entity.Presence {
	p := entity.Presence{
		ID:           r.ID,
		IdentityID:   r.IdentityID,
		SourceID:     r.SourceID,
		ImportID:     r.ImportID,
		RawRecordRef: r.RawRecordRef,
		Active:       r.Active != 0,
		Payload:      []byte(r.Payload),
		CreatedAt:    parseTime(r.CreatedAt),
	}
	if r.LastSeenAt.Valid {
		t := parseTime(r.LastSeenAt.String)
		p.LastSeenAt = &t
	}
	return p
}

// CreatePresence inserts a presence row. (identity, source, import) is
// unique; a violation is reported as consolidate.ErrDuplicateKey.
func (r *IdentityRepo) CreatePresence(ctx context.Context, p *entity.Presence) error {
	payload := string(p.Payload)
	if payload == "" {
		payload = "{}"
	}
	q := r.db.Rebind(`INSERT INTO presences
		(id, identity_id, source_id, import_id, raw_record_ref, active, last_seen_at, payload, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)`)
	_, err := r.db.ExecContext(ctx, q,
		p.ID, p.IdentityID, p.SourceID, p.ImportID, p.RawRecordRef,
		boolToInt(p.Active), nullableTime(p.LastSeenAt), payload, formatTime(p.CreatedAt),
	)
	return translateUnique(err)
}

// FindPresence returns the presence for (identity, source, import), or
// consolidate.ErrNotFound.
func (r *IdentityRepo) FindPresence(ctx context.Context, identityID, sourceID, importID string) (*entity.Presence, error) {
	q := r.db.Rebind(`SELECT id, identity_id, source_id, import_id, raw_record_ref, active, last_seen_at, payload, created_at
		FROM presences WHERE identity_id = ? AND source_id = ? AND import_id = ?`)
	var row presenceRow
	if err := r.db.GetContext(ctx, &row, q, identityID, sourceID, importID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, consolidate.ErrNotFound
		}
		return nil, err
	}
	p := row.toEntity()
	return &p, nil
}

// translateUnique maps driver-specific unique violations onto the
// consolidation sentinel. Postgres reports SQLSTATE 23505; modernc sqlite
// reports "UNIQUE constraint failed" in the message.
func translateUnique(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return consolidate.ErrDuplicateKey
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return consolidate.ErrDuplicateKey
	}
	return err
}
