package domain

// WorkItem is the unit of work a dispatcher enqueues and a worker consumes.
// ItemToken is unique per item and makes progress accounting idempotent under
// redelivery.
type WorkItem struct {
	JobID     string `json:"job_id"`
	ItemToken string `json:"item_token"`
	AuthToken string `json:"auth_token,omitempty"`

	// Row items (validate / commit).
	LineNum int            `json:"line_num,omitempty"`
	Values  []string       `json:"values,omitempty"`
	Mapping *MappingConfig `json:"mapping,omitempty"`

	// Tree item (xml import).
	Tree *TreeRecord `json:"tree,omitempty"`

	// Maintenance items.
	AssetName string `json:"asset_name,omitempty"`
	RecordID  string `json:"record_id,omitempty"`
	SchemaID  string `json:"schema_id,omitempty"`

	CreatedBy string `json:"created_by,omitempty"`
}

// TreeRecord is one record parsed out of a hierarchical source, with its
// field values keyed by field name and its child records nested beneath it.
type TreeRecord struct {
	ExternalID string            `json:"external_id,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	Children   []TreeRecord      `json:"children,omitempty"`
}
