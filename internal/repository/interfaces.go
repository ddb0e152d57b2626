package repository

import (
	"context"

	"record-import-pipeline/internal/domain"
)

// JobRepository defines methods for job record data access.
type JobRepository interface {
	Create(ctx context.Context, job *domain.JobRecord) error
	ReuseOrCreate(ctx context.Context, job *domain.JobRecord) error
	Find(ctx context.Context, id string) (*domain.JobRecord, error)
	IncrementCompleted(ctx context.Context, jobID, itemToken string) (completed, total int, justFinished bool, err error)
	MarkFailed(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// JobErrorRepository defines methods for job error report access.
type JobErrorRepository interface {
	Append(ctx context.Context, entries ...*domain.JobError) error
	ListByJob(ctx context.Context, jobID string) ([]domain.JobError, error)
	CountBySeverity(ctx context.Context, jobID string, severity domain.Severity) (int, error)
	Purge(ctx context.Context, jobID string) error
}

// FieldRepository defines methods for schema field access.
type FieldRepository interface {
	Create(ctx context.Context, field *domain.Field) error
	Find(ctx context.Context, id string) (*domain.Field, error)
	FindByName(ctx context.Context, schemaID, name string) (*domain.Field, error)
}

// OptionRepository defines methods for choice-field option access.
type OptionRepository interface {
	// Ensure returns the live option with the given label, creating it if
	// absent. The bool result reports whether this call created it.
	Ensure(ctx context.Context, fieldID, label, createdBy string) (*domain.FieldOption, bool, error)
}

// RecordRepository defines methods for record content access.
type RecordRepository interface {
	Create(ctx context.Context, rec *domain.Record) error
	Find(ctx context.Context, recordID string) (*domain.Record, error)
	FindByExternalID(ctx context.Context, schemaID, externalID string) (*domain.Record, error)
	Touch(ctx context.Context, recordID string) error
	ListIDsBySchema(ctx context.Context, schemaID string) ([]string, error)

	LookupUniqueValue(ctx context.Context, fieldID, value string) (recordID string, err error)
	SetValue(ctx context.Context, recordID, fieldID, value string) (changed bool, err error)
	UpdateExistingValue(ctx context.Context, recordID, fieldID, value string) (changed bool, err error)
	Snapshot(ctx context.Context, recordID string) (map[string]string, error)

	ListAssets(ctx context.Context, recordID, fieldID string) ([]string, error)
	ListAssetsByField(ctx context.Context, fieldID string) ([]string, error)
	AttachAsset(ctx context.Context, recordID, fieldID, fileName string) error
	DetachAsset(ctx context.Context, recordID, fieldID, fileName string) error

	ListSelections(ctx context.Context, recordID, fieldID string) ([]string, error)
	Select(ctx context.Context, recordID, fieldID, optionID string) error
	Deselect(ctx context.Context, recordID, fieldID, optionID string) error
}
