package service

import (
	"context"
	"fmt"
	"strings"

	"record-import-pipeline/internal/domain"
	"record-import-pipeline/internal/validator"
)

// HandleValidateItem checks one source row and records its findings. Any
// failure still counts the item toward job progress, as an unrecoverable
// entry, so a poisoned row can never hold the job open forever.
func (s *ImportService) HandleValidateItem(ctx context.Context, item *domain.WorkItem) error {
	entries, err := s.validateRow(ctx, item)
	if err != nil {
		entries = append(entries, &domain.JobError{
			JobID:     item.JobID,
			Severity:  domain.SeverityError,
			LineNum:   item.LineNum,
			Category:  domain.CategoryUnrecovered,
			Message:   err.Error(),
			CreatedBy: item.CreatedBy,
		})
	}

	if len(entries) > 0 {
		if appendErr := s.jobErrors.Append(ctx, entries...); appendErr != nil {
			return fmt.Errorf("append report entries: %w", appendErr)
		}
	}
	if advErr := s.advance(ctx, item, string(domain.JobTypeValidateImport)); advErr != nil {
		return advErr
	}
	return err
}

func (s *ImportService) validateRow(ctx context.Context, item *domain.WorkItem) ([]*domain.JobError, error) {
	mapping := item.Mapping
	if mapping == nil {
		return nil, fmt.Errorf("work item without mapping")
	}

	var entries []*domain.JobError
	report := func(severity domain.Severity, category, message string) {
		entries = append(entries, &domain.JobError{
			JobID:     item.JobID,
			Severity:  severity,
			LineNum:   item.LineNum,
			Category:  category,
			Message:   message,
			CreatedBy: item.CreatedBy,
		})
	}

	for _, cm := range mapping.Columns {
		value := cell(item.Values, cm.Column)
		if value == "" {
			continue
		}

		switch {
		case cm.Kind.IsAsset():
			if err := s.checkAssetCell(ctx, &cm, value, report); err != nil {
				return entries, err
			}
		case cm.Kind.IsChoice():
			for _, label := range validator.SplitCell(value, cm.Delimiter) {
				for _, issue := range s.validator.CheckLabel(label) {
					report(issue.Severity, domain.CategoryParse,
						fmt.Sprintf("column %q: %s", cm.Header, issue.Message))
				}
			}
		default:
			for _, issue := range s.validator.CheckValue(cm.Kind, value) {
				report(issue.Severity, domain.CategoryParse,
					fmt.Sprintf("column %q: %s", cm.Header, issue.Message))
			}
		}

		// Collisions with already-stored values are advisory, except on the
		// external-identity column where they are the update path itself.
		if cm.Unique && cm.FieldID != "" && cm.Column != mapping.ExternalIDColumn {
			recordID, err := s.records.LookupUniqueValue(ctx, cm.FieldID, value)
			if err != nil {
				return entries, fmt.Errorf("unique lookup on column %q: %w", cm.Header, err)
			}
			if recordID != "" {
				report(domain.SeverityWarning, domain.CategoryUniqueness,
					fmt.Sprintf("column %q: value %q already exists on a stored record", cm.Header, value))
			}
		}
	}
	return entries, nil
}

func (s *ImportService) checkAssetCell(ctx context.Context, cm *domain.ColumnMapping, value string, report func(domain.Severity, string, string)) error {
	names := validator.SplitCell(value, cm.Delimiter)

	if !cm.AllowMultiple && len(names) > 1 {
		report(domain.SeverityError, domain.CategoryAsset,
			fmt.Sprintf("column %q lists %d files but allows only one", cm.Header, len(names)))
	}

	var attached []string
	if cm.FieldID != "" {
		var err error
		attached, err = s.records.ListAssetsByField(ctx, cm.FieldID)
		if err != nil {
			return fmt.Errorf("list attached assets for column %q: %w", cm.Header, err)
		}
	}

	for _, name := range names {
		info, err := s.uploads.Asset(name)
		if err != nil {
			return fmt.Errorf("inspect asset %q: %w", name, err)
		}
		if info == nil {
			report(domain.SeverityError, domain.CategoryAsset,
				fmt.Sprintf("column %q: file %q has not been uploaded", cm.Header, name))
			continue
		}
		if cm.Kind == domain.KindImage && !strings.HasPrefix(info.MimeType, "image/") {
			report(domain.SeverityError, domain.CategoryAsset,
				fmt.Sprintf("column %q: file %q is %s, not an image", cm.Header, name, info.MimeType))
			continue
		}
		for _, have := range attached {
			if have == name {
				report(domain.SeverityWarning, domain.CategoryAsset,
					fmt.Sprintf("column %q: file %q is already attached and will be re-used", cm.Header, name))
				break
			}
		}
	}
	return nil
}
