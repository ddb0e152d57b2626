package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"record-import-pipeline/internal/domain"
	"record-import-pipeline/internal/logger"
)

// HandleCommitItem writes one source row into the record store. A failure
// partway through leaves the writes made so far in place; the item is still
// counted and the failure lands in the report, so the job always finishes.
func (s *ImportService) HandleCommitItem(ctx context.Context, item *domain.WorkItem) error {
	err := s.commitRow(ctx, item)
	if err != nil {
		entry := &domain.JobError{
			JobID:     item.JobID,
			Severity:  domain.SeverityError,
			LineNum:   item.LineNum,
			Category:  domain.CategoryUnrecovered,
			Message:   err.Error(),
			CreatedBy: item.CreatedBy,
		}
		if appendErr := s.jobErrors.Append(ctx, entry); appendErr != nil {
			return fmt.Errorf("append report entry: %w", appendErr)
		}
	}
	if advErr := s.advance(ctx, item, string(domain.JobTypeCommitImport)); advErr != nil {
		return advErr
	}
	return err
}

func (s *ImportService) commitRow(ctx context.Context, item *domain.WorkItem) error {
	mapping := item.Mapping
	if mapping == nil {
		return fmt.Errorf("work item without mapping")
	}

	rec, err := s.resolveRecord(ctx, item)
	if err != nil {
		return err
	}

	ac := &applyContext{svc: s, recordID: rec.ID, actor: item.CreatedBy}
	for i := range mapping.Columns {
		cm := &mapping.Columns[i]
		// The identity column lives on the record itself, not in a value slot.
		if cm.Column == mapping.ExternalIDColumn {
			continue
		}
		if cm.FieldID == "" {
			return fmt.Errorf("column %q was never materialized into a field", cm.Header)
		}
		value := cell(item.Values, cm.Column)
		if err := applierFor(cm.Kind).Apply(ctx, ac, cm, value); err != nil {
			return fmt.Errorf("column %q: %w", cm.Header, err)
		}
	}

	if err := s.records.Touch(ctx, rec.ID); err != nil {
		return fmt.Errorf("touch record: %w", err)
	}
	// The cached snapshot is stale now; the next read or rewarm re-renders it.
	if err := s.cache.Invalidate(ctx, rec.ID); err != nil {
		logger.WithJobID(item.JobID).Warn("invalidate record snapshot",
			slog.String("record_id", rec.ID), slog.Any("error", err))
	}
	return nil
}

// resolveRecord finds the record this row updates via the external identity
// column, or creates a fresh one. Rows without an identity always create.
// Re-running the same source therefore updates the same records instead of
// duplicating them.
func (s *ImportService) resolveRecord(ctx context.Context, item *domain.WorkItem) (*domain.Record, error) {
	mapping := item.Mapping

	externalID := ""
	if mapping.ExternalIDColumn >= 0 {
		externalID = cell(item.Values, mapping.ExternalIDColumn)
	}

	if externalID != "" {
		rec, err := s.records.FindByExternalID(ctx, mapping.SchemaID, externalID)
		if err != nil {
			return nil, fmt.Errorf("look up record %q: %w", externalID, err)
		}
		if rec != nil {
			return rec, nil
		}
	}

	rec := &domain.Record{
		ID:         uuid.New().String(),
		SchemaID:   mapping.SchemaID,
		ExternalID: externalID,
		CreatedBy:  item.CreatedBy,
	}
	if err := s.records.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create record: %w", err)
	}
	return rec, nil
}
