package schema

import "strings"

// fieldPatterns is the ordered (pattern, canonicalField) rule table used when
// no descriptor is available. Matching is case-insensitive substring on the
// normalized column name; more specific patterns come before generic ones.
// The table is static so pattern-based extraction stays auditable.
var fieldPatterns = []struct {
	Substring string
	Field     Field
}{
	{"firstname", FieldFirstName},
	{"givenname", FieldFirstName},
	{"fname", FieldFirstName},
	// displayname/fullname before "lname": "fullname" contains "lname"
	{"displayname", FieldDisplayName},
	{"fullname", FieldDisplayName},
	{"lastname", FieldLastName},
	{"surname", FieldLastName},
	{"familyname", FieldLastName},
	{"lname", FieldLastName},
	{"emailaddress", FieldEmail},
	{"email", FieldEmail},
	{"mail", FieldEmail},
	{"username", FieldUsername},
	{"userid", FieldUsername},
	{"login", FieldUsername},
	{"first", FieldFirstName},
	{"last", FieldLastName},
	{"user", FieldUsername},
	{"name", FieldDisplayName},
}

// Extractor maps raw rows to canonical attribute sets. It is a pure function
// of its inputs and configuration; construct once and share.
type Extractor struct {
	norm NormalizeConfig
}

// NewExtractor constructs an Extractor with explicit normalization config.
func NewExtractor(norm NormalizeConfig) *Extractor {
	return &Extractor{norm: norm}
}

// Extract maps a raw row to an AttributeSet. With a descriptor, only columns
// that declare a canonical field are used; the rest are ignored rather than
// pattern-guessed, so a "Last Updated Date" column can never leak into
// lastName. Without a descriptor, the ordered pattern table infers the
// mapping from column names. Either way the result is completed by
// displayName synthesis or splitting.
func (e *Extractor) Extract(row Row, desc *Descriptor) AttributeSet {
	var attrs AttributeSet
	if desc != nil && len(desc.Columns) > 0 {
		e.extractByDescriptor(row, desc, &attrs)
	} else {
		e.extractByPatterns(row, &attrs)
	}
	e.completeNames(&attrs)
	return attrs
}

func (e *Extractor) extractByDescriptor(row Row, desc *Descriptor, attrs *AttributeSet) {
	for _, col := range desc.Columns {
		if col.CanonicalField == "" {
			continue
		}
		v := e.norm.Normalize(row.Values[col.Name])
		if v == "" {
			continue
		}
		if attrs.Get(col.CanonicalField) == "" {
			attrs.set(col.CanonicalField, v)
		}
	}
}

// extractByPatterns walks columns in header order; the first column matching
// a pattern claims that canonical field, and no column feeds two fields.
func (e *Extractor) extractByPatterns(row Row, attrs *AttributeSet) {
	for _, col := range row.DataColumns() {
		header := normalizeHeader(col)
		for _, p := range fieldPatterns {
			if !strings.Contains(header, p.Substring) {
				continue
			}
			if attrs.Get(p.Field) != "" {
				break // field already claimed by an earlier column
			}
			v := e.norm.Normalize(row.Values[col])
			if v != "" {
				attrs.set(p.Field, v)
			}
			break // a column maps to at most one field
		}
	}
}

// completeNames synthesizes displayName from first+last, or splits a lone
// displayName into first token / remaining tokens.
func (e *Extractor) completeNames(attrs *AttributeSet) {
	if attrs.DisplayName == "" && attrs.FirstName != "" && attrs.LastName != "" {
		attrs.DisplayName = attrs.FirstName + " " + attrs.LastName
		return
	}
	if attrs.DisplayName != "" && attrs.FirstName == "" && attrs.LastName == "" {
		parts := strings.Fields(attrs.DisplayName)
		if len(parts) > 0 {
			attrs.FirstName = parts[0]
		}
		if len(parts) > 1 {
			attrs.LastName = strings.Join(parts[1:], " ")
		}
	}
}
