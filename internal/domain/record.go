package domain

import "time"

// Field is a column of a schema.
type Field struct {
	ID        string    `json:"id"`
	SchemaID  string    `json:"schema_id"`
	Name      string    `json:"name"`
	Kind      FieldKind `json:"kind"`
	Unique    bool      `json:"unique"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Record is one row of curated data in a schema.
type Record struct {
	ID         string    `json:"id"`
	SchemaID   string    `json:"schema_id"`
	ParentID   string    `json:"parent_id,omitempty"`
	ExternalID string    `json:"external_id,omitempty"`
	CreatedBy  string    `json:"created_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// FieldOption is one label in the choice set of a select or tag field.
// Labels are unique per field among non-deleted options.
type FieldOption struct {
	ID        string     `json:"id"`
	FieldID   string     `json:"field_id"`
	Label     string     `json:"label"`
	CreatedBy string     `json:"created_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}
