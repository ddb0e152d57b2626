package domain

// FieldKind is the closed set of storage kinds a schema field can have.
type FieldKind string

const (
	KindBoolean        FieldKind = "boolean"
	KindInteger        FieldKind = "integer"
	KindDecimal        FieldKind = "decimal"
	KindShortText      FieldKind = "short_text"
	KindMediumText     FieldKind = "medium_text"
	KindLongText       FieldKind = "long_text"
	KindParagraph      FieldKind = "paragraph"
	KindDate           FieldKind = "date"
	KindFile           FieldKind = "file"
	KindImage          FieldKind = "image"
	KindSingleSelect   FieldKind = "single_select"
	KindMultipleSelect FieldKind = "multiple_select"
	KindTag            FieldKind = "tag"
)

// ValidFieldKinds contains all recognized field kinds.
var ValidFieldKinds = []FieldKind{
	KindBoolean, KindInteger, KindDecimal,
	KindShortText, KindMediumText, KindLongText, KindParagraph,
	KindDate, KindFile, KindImage,
	KindSingleSelect, KindMultipleSelect, KindTag,
}

// IsValidFieldKind checks if a field kind is recognized.
func IsValidFieldKind(k FieldKind) bool {
	for _, fk := range ValidFieldKinds {
		if fk == k {
			return true
		}
	}
	return false
}

// MaxLength returns the character limit for text kinds, or 0 when unbounded.
func (k FieldKind) MaxLength() int {
	switch k {
	case KindShortText:
		return 32
	case KindMediumText:
		return 64
	case KindLongText:
		return 255
	}
	return 0
}

// IsAsset reports whether the kind stores uploaded files rather than values.
func (k FieldKind) IsAsset() bool {
	return k == KindFile || k == KindImage
}

// IsChoice reports whether the kind stores selections from a label set.
func (k FieldKind) IsChoice() bool {
	return k == KindSingleSelect || k == KindMultipleSelect || k == KindTag
}

// CanBeUnique reports whether values of the kind may carry a uniqueness
// constraint. Asset and choice kinds cannot.
func (k FieldKind) CanBeUnique() bool {
	return !k.IsAsset() && !k.IsChoice()
}

// ColumnMapping binds one source column to a schema field.
type ColumnMapping struct {
	Column int    `json:"column"`
	Header string `json:"header,omitempty"`

	// FieldID is empty when the column maps to a field that does not exist
	// yet. Such fields are only materialized when the import is committed.
	FieldID string    `json:"field_id,omitempty"`
	Kind    FieldKind `json:"kind"`
	Unique  bool      `json:"unique,omitempty"`

	// Delimiter splits a cell into multiple values for asset and
	// multiple-choice columns. Empty means the cell is a single value.
	Delimiter string `json:"delimiter,omitempty"`

	// AllowMultiple permits more than one asset per record in this field.
	AllowMultiple bool `json:"allow_multiple,omitempty"`

	// Sync removes attached assets that the source row no longer lists.
	// Without it an import only ever adds assets.
	Sync bool `json:"sync,omitempty"`
}

// MappingConfig describes how source columns map onto a schema.
type MappingConfig struct {
	SchemaID string `json:"schema_id"`

	// ExternalIDColumn is the index of the column holding each row's
	// external identifier, or -1 when rows always create new records.
	ExternalIDColumn int    `json:"external_id_column"`
	ExternalIDField  string `json:"external_id_field,omitempty"`

	Columns []ColumnMapping `json:"columns"`
}

// ColumnFor returns the mapping for a column index, or nil.
func (m *MappingConfig) ColumnFor(idx int) *ColumnMapping {
	for i := range m.Columns {
		if m.Columns[i].Column == idx {
			return &m.Columns[i]
		}
	}
	return nil
}
