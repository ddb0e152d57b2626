package service

import (
	"context"

	"record-import-pipeline/internal/domain"
)

// RecordCache stores rendered record snapshots. The rewarm engine writes
// them, the snapshot read path serves from them, and the commit engines drop
// them when a record changes.
type RecordCache interface {
	SetRecord(ctx context.Context, recordID string, payload []byte) error
	GetRecord(ctx context.Context, recordID string) ([]byte, error)
	Invalidate(ctx context.Context, recordID string) error
}

// ImportServiceInterface defines the operations handlers call.
// Used for dependency injection and stubbing in tests.
type ImportServiceInterface interface {
	// DispatchValidate fans a staged source file out into a validation job.
	DispatchValidate(ctx context.Context, req *ValidateRequest) (*domain.JobRecord, error)
	// DispatchCommit turns a clean, finished validation job into a commit job.
	DispatchCommit(ctx context.Context, validateJobID, actor string) (*domain.JobRecord, error)
	// DispatchXML fans a staged hierarchical source out into an import job.
	DispatchXML(ctx context.Context, sourceRef, schemaID, actor string) (*domain.JobRecord, error)
	// DispatchRebuild regenerates derived artifacts for an asset field.
	DispatchRebuild(ctx context.Context, schemaID, fieldID, actor string) (*domain.JobRecord, error)
	// DispatchRewarm refreshes the cached snapshot of every record in a schema.
	DispatchRewarm(ctx context.Context, schemaID, actor string) (*domain.JobRecord, error)
	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, id string) (*domain.JobRecord, error)
	// GetJobReport retrieves a job's error report.
	GetJobReport(ctx context.Context, jobID string) ([]domain.JobError, error)
	// GetRecordSnapshot serves a record's field values, cached when warm.
	GetRecordSnapshot(ctx context.Context, recordID string) (map[string]string, error)
}
