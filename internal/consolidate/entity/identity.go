package entity

import (
	"encoding/json"
	"time"
)

// Identity is the single consolidated record representing one real person
// across all sources. Created once per distinct primary key; fields are
// filled as sources contribute them, never overwritten; identities are
// deactivated, never deleted.
type Identity struct {
	ID          string    `db:"id" json:"id"`
	PrimaryKey  string    `db:"primary_key" json:"primaryKey"`
	FirstName   string    `db:"first_name" json:"firstName,omitempty"`
	LastName    string    `db:"last_name" json:"lastName,omitempty"`
	Email       string    `db:"email" json:"email,omitempty"`
	Username    string    `db:"username" json:"username,omitempty"`
	DisplayName string    `db:"display_name" json:"displayName,omitempty"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

// IdentityPatch carries fill-only field updates. Empty strings mean "no
// change"; the orchestrator only patches fields that are currently empty on
// the stored identity.
type IdentityPatch struct {
	FirstName   string
	LastName    string
	Email       string
	Username    string
	DisplayName string
}

// Zero reports whether the patch changes nothing.
func (p IdentityPatch) Zero() bool {
	return p == IdentityPatch{}
}

// Presence is evidence that a canonical identity was observed in a given
// source during a given import. Many presences map to one identity; each
// presence points at exactly one raw record.
type Presence struct {
	ID           string          `db:"id" json:"id"`
	IdentityID   string          `db:"identity_id" json:"identityId"`
	SourceID     string          `db:"source_id" json:"sourceId"`
	ImportID     string          `db:"import_id" json:"importId"`
	RawRecordRef string          `db:"raw_record_ref" json:"rawRecordRef"`
	Active       bool            `db:"active" json:"active"`
	LastSeenAt   *time.Time      `db:"last_seen_at" json:"lastSeenAt,omitempty"`
	Payload      json.RawMessage `db:"payload" json:"payload,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"createdAt"`
}
