package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"record-import-pipeline/internal/domain"
	"record-import-pipeline/internal/logger"
	"record-import-pipeline/internal/metrics"
	"record-import-pipeline/internal/queue"
	"record-import-pipeline/internal/repository"
)

// ErrNotAssetField is returned when a derived-artifact rebuild targets a
// field that does not hold uploaded files.
var ErrNotAssetField = errors.New("field does not hold uploaded assets")

// DispatchRebuild regenerates the derived artifacts of every file attached
// through one asset field. The job restricts itself to that field, so imports
// into the same schema are blocked but rebuilds of other fields are not.
func (s *ImportService) DispatchRebuild(ctx context.Context, schemaID, fieldID, actor string) (*domain.JobRecord, error) {
	field, err := s.fields.Find(ctx, fieldID)
	if err != nil {
		return nil, err
	}
	if field == nil {
		return nil, fmt.Errorf("%w: field %s", ErrJobNotFound, fieldID)
	}
	if !field.Kind.IsAsset() {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotAssetField, field.Name, field.Kind)
	}

	names, err := s.records.ListAssetsByField(ctx, fieldID)
	if err != nil {
		return nil, err
	}

	job := &domain.JobRecord{
		ID:          uuid.New().String(),
		Type:        domain.JobTypeRebuildDerived,
		Target:      schemaID,
		Restriction: fieldID,
		Total:       len(names),
		Parameters: &domain.JobParameters{
			Description: fmt.Sprintf("rebuilding derived artifacts for %s", field.Name),
		},
		CreatedBy: actor,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		if errors.Is(err, repository.ErrJobConflict) {
			metrics.ObserveConflict(string(job.Type))
		}
		return nil, err
	}
	metrics.ObserveDispatch(string(job.Type))

	for _, name := range names {
		item := &domain.WorkItem{
			JobID:     job.ID,
			ItemToken: uuid.New().String(),
			AssetName: name,
			CreatedBy: actor,
		}
		if err := s.queue.Enqueue(ctx, queue.ChannelRebuild, item); err != nil {
			return nil, fmt.Errorf("enqueue asset %q: %w", name, err)
		}
	}

	logger.WithJobID(job.ID).Info("rebuild job dispatched",
		slog.String("field", field.Name),
		slog.Int("assets", len(names)),
	)
	return job, nil
}

// HandleRebuildItem regenerates one asset's derived artifact.
func (s *ImportService) HandleRebuildItem(ctx context.Context, item *domain.WorkItem) error {
	err := s.uploads.RebuildDerived(item.AssetName)
	if err != nil {
		entry := &domain.JobError{
			JobID:     item.JobID,
			Severity:  domain.SeverityError,
			Category:  domain.CategoryAsset,
			Message:   fmt.Sprintf("rebuild %q: %s", item.AssetName, err),
			CreatedBy: item.CreatedBy,
		}
		if appendErr := s.jobErrors.Append(ctx, entry); appendErr != nil {
			return fmt.Errorf("append report entry: %w", appendErr)
		}
	}
	if advErr := s.advance(ctx, item, string(domain.JobTypeRebuildDerived)); advErr != nil {
		return advErr
	}
	return err
}

// DispatchRewarm refreshes the cached snapshot of every record in a schema.
// Rewarm runs on a schedule, so the schema's existing rewarm job is reused
// instead of piling up a new row per run.
func (s *ImportService) DispatchRewarm(ctx context.Context, schemaID, actor string) (*domain.JobRecord, error) {
	ids, err := s.records.ListIDsBySchema(ctx, schemaID)
	if err != nil {
		return nil, err
	}

	job := &domain.JobRecord{
		ID:     uuid.New().String(),
		Type:   domain.JobTypeRewarmCache,
		Target: schemaID,
		Total:  len(ids),
		Parameters: &domain.JobParameters{
			Description: "rewarming record cache",
		},
		CreatedBy: actor,
	}
	if err := s.jobs.ReuseOrCreate(ctx, job); err != nil {
		if errors.Is(err, repository.ErrJobConflict) {
			metrics.ObserveConflict(string(job.Type))
		}
		return nil, err
	}
	metrics.ObserveDispatch(string(job.Type))

	for _, id := range ids {
		item := &domain.WorkItem{
			JobID:     job.ID,
			ItemToken: uuid.New().String(),
			RecordID:  id,
			CreatedBy: actor,
		}
		if err := s.queue.Enqueue(ctx, queue.ChannelRewarm, item); err != nil {
			return nil, fmt.Errorf("enqueue record %s: %w", id, err)
		}
	}

	logger.WithJobID(job.ID).Info("rewarm job dispatched",
		slog.String("schema", schemaID),
		slog.Int("records", len(ids)),
	)
	return job, nil
}

// HandleRewarmItem renders one record's snapshot into the cache.
func (s *ImportService) HandleRewarmItem(ctx context.Context, item *domain.WorkItem) error {
	err := s.rewarmRecord(ctx, item.RecordID)
	if err != nil {
		entry := &domain.JobError{
			JobID:     item.JobID,
			Severity:  domain.SeverityError,
			Category:  domain.CategoryUnrecovered,
			Message:   fmt.Sprintf("rewarm record %s: %s", item.RecordID, err),
			CreatedBy: item.CreatedBy,
		}
		if appendErr := s.jobErrors.Append(ctx, entry); appendErr != nil {
			return fmt.Errorf("append report entry: %w", appendErr)
		}
	}
	if advErr := s.advance(ctx, item, string(domain.JobTypeRewarmCache)); advErr != nil {
		return advErr
	}
	return err
}

func (s *ImportService) rewarmRecord(ctx context.Context, recordID string) error {
	snapshot, err := s.records.Snapshot(ctx, recordID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.cache.SetRecord(ctx, recordID, payload)
}
