package schema

// AttributeSet is the canonical per-person attribute view derived from one
// raw row. All values are normalized; "" means absent. It is ephemeral per
// extraction and never persisted directly.
type AttributeSet struct {
	PrimaryKey  string `json:"primaryKey,omitempty"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	Email       string `json:"email,omitempty"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// Empty reports whether no attribute was extracted at all.
func (a AttributeSet) Empty() bool {
	return a.FirstName == "" && a.LastName == "" && a.Email == "" &&
		a.Username == "" && a.DisplayName == ""
}

// Identifiable reports whether the set carries at least one of the fields a
// canonical identity can be anchored on. Rows failing this are rejected by
// the orchestrator rather than stored.
func (a AttributeSet) Identifiable() bool {
	return a.FirstName != "" || a.LastName != "" || a.Email != ""
}

// Get returns the value of a canonical field by name.
func (a AttributeSet) Get(f Field) string {
	switch f {
	case FieldFirstName:
		return a.FirstName
	case FieldLastName:
		return a.LastName
	case FieldEmail:
		return a.Email
	case FieldUsername:
		return a.Username
	case FieldDisplayName:
		return a.DisplayName
	}
	return ""
}

func (a *AttributeSet) set(f Field, v string) {
	switch f {
	case FieldFirstName:
		a.FirstName = v
	case FieldLastName:
		a.LastName = v
	case FieldEmail:
		a.Email = v
	case FieldUsername:
		a.Username = v
	case FieldDisplayName:
		a.DisplayName = v
	}
}
