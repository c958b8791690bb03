package entity

import (
	"encoding/json"
	"time"
)

// Source is one external system whose exports are ingested: a directory
// service, a device inventory, a telecom platform. The descriptor, when
// present, is the immutable column layout of the source's exports.
type Source struct {
	ID         string          `db:"id" json:"id"`
	Name       string          `db:"name" json:"name"`
	Descriptor json.RawMessage `db:"descriptor" json:"descriptor,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"createdAt"`
}
