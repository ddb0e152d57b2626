package domain

import "time"

// Severity classifies a job error entry. Errors block committing an import;
// warnings describe values that will be coerced or skipped but do not block.
type Severity string

const (
	SeverityError   Severity = "Error"
	SeverityWarning Severity = "Warning"
)

// JobError is one line of a job's error report.
type JobError struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"job_id"`
	Severity  Severity  `json:"severity"`
	LineNum   int       `json:"line_num,omitempty"`
	Category  string    `json:"category,omitempty"`
	Message   string    `json:"message"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Error report categories.
const (
	CategoryParse       = "Parse problems"
	CategoryUniqueness  = "Uniqueness problems"
	CategoryAsset       = "Uploaded asset problems"
	CategoryUnrecovered = "Unrecoverable problems"
)
