package schema

// Field names a canonical user attribute a source column can map to.
type Field string

const (
	FieldFirstName   Field = "firstName"
	FieldLastName    Field = "lastName"
	FieldEmail       Field = "email"
	FieldUsername    Field = "username"
	FieldDisplayName Field = "displayName"
)

// Column describes one column of a source export.
type Column struct {
	Name     string `json:"name"`
	DataType string `json:"dataType,omitempty"`
	Required bool   `json:"required,omitempty"`
	// CanonicalField, when non-empty, maps this column to a canonical user
	// attribute. Columns without it are ignored by schema-driven extraction.
	CanonicalField Field `json:"canonicalField,omitempty"`
}

// Descriptor is the ordered column layout of one source. It is immutable per
// source and supplied by the source registry.
type Descriptor struct {
	Columns []Column `json:"columns"`
}

// HasCanonicalFields reports whether any column declares a canonical mapping.
func (d *Descriptor) HasCanonicalFields() bool {
	if d == nil {
		return false
	}
	for _, c := range d.Columns {
		if c.CanonicalField != "" {
			return true
		}
	}
	return false
}
