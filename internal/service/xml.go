package service

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"record-import-pipeline/internal/domain"
	"record-import-pipeline/internal/logger"
	"record-import-pipeline/internal/metrics"
	"record-import-pipeline/internal/queue"
	"record-import-pipeline/internal/repository"
)

type xmlDocument struct {
	XMLName xml.Name    `xml:"records"`
	Records []xmlRecord `xml:"record"`
}

type xmlRecord struct {
	ExternalID string      `xml:"external_id,attr"`
	Fields     []xmlField  `xml:"field"`
	Children   []xmlRecord `xml:"record"`
}

type xmlField struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

// ParseTree decodes a hierarchical XML source into record trees. Field values
// are keyed by field name; nesting becomes parent-child record links.
func ParseTree(r io.Reader) ([]domain.TreeRecord, error) {
	var doc xmlDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode xml source: %w", err)
	}
	out := make([]domain.TreeRecord, 0, len(doc.Records))
	for _, rec := range doc.Records {
		out = append(out, toTreeRecord(rec))
	}
	return out, nil
}

func toTreeRecord(rec xmlRecord) domain.TreeRecord {
	tree := domain.TreeRecord{
		ExternalID: rec.ExternalID,
		Fields:     make(map[string]string, len(rec.Fields)),
	}
	for _, f := range rec.Fields {
		tree.Fields[f.Name] = f.Value
	}
	for _, child := range rec.Children {
		tree.Children = append(tree.Children, toTreeRecord(child))
	}
	return tree
}

// DispatchXML parses a staged hierarchical source and fans its top-level
// records out as work items. Each item carries its whole subtree, so nested
// records never straddle two workers.
func (s *ImportService) DispatchXML(ctx context.Context, sourceRef, schemaID, actor string) (*domain.JobRecord, error) {
	f, err := s.uploads.OpenXML(sourceRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadSource, err)
	}
	trees, err := ParseTree(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadSource, err)
	}

	job := &domain.JobRecord{
		ID:     uuid.New().String(),
		Type:   domain.JobTypeXMLImport,
		Target: schemaID,
		Total:  len(trees),
		Parameters: &domain.JobParameters{
			Description: fmt.Sprintf("importing %s", sourceRef),
			SourceRef:   sourceRef,
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

	for i := range trees {
		item := &domain.WorkItem{
			JobID:     job.ID,
			ItemToken: uuid.New().String(),
			Tree:      &trees[i],
			SchemaID:  schemaID,
			CreatedBy: actor,
		}
		if err := s.queue.Enqueue(ctx, queue.ChannelXML, item); err != nil {
			return nil, fmt.Errorf("enqueue record tree %d: %w", i, err)
		}
	}

	logger.WithJobID(job.ID).Info("xml import job dispatched",
		slog.String("source", sourceRef),
		slog.Int("records", len(trees)),
	)
	return job, nil
}

// HandleXMLItem imports one record tree. Unknown field names are reported and
// skipped rather than failing the whole subtree.
func (s *ImportService) HandleXMLItem(ctx context.Context, item *domain.WorkItem) error {
	var err error
	if item.Tree == nil {
		err = fmt.Errorf("work item without record tree")
	} else {
		err = s.importTree(ctx, item, item.Tree, "")
	}
	if err != nil {
		entry := &domain.JobError{
			JobID:     item.JobID,
			Severity:  domain.SeverityError,
			Category:  domain.CategoryUnrecovered,
			Message:   err.Error(),
			CreatedBy: item.CreatedBy,
		}
		if appendErr := s.jobErrors.Append(ctx, entry); appendErr != nil {
			return fmt.Errorf("append report entry: %w", appendErr)
		}
	}
	if advErr := s.advance(ctx, item, string(domain.JobTypeXMLImport)); advErr != nil {
		return advErr
	}
	return err
}

func (s *ImportService) importTree(ctx context.Context, item *domain.WorkItem, tree *domain.TreeRecord, parentID string) error {
	rec, err := s.resolveTreeRecord(ctx, item, tree, parentID)
	if err != nil {
		return err
	}

	ac := &applyContext{svc: s, recordID: rec.ID, actor: item.CreatedBy}
	for name, value := range tree.Fields {
		field, err := s.fields.FindByName(ctx, item.SchemaID, name)
		if err != nil {
			return fmt.Errorf("look up field %q: %w", name, err)
		}
		if field == nil {
			entry := &domain.JobError{
				JobID:     item.JobID,
				Severity:  domain.SeverityError,
				Category:  domain.CategoryParse,
				Message:   fmt.Sprintf("record %q references unknown field %q", tree.ExternalID, name),
				CreatedBy: item.CreatedBy,
			}
			if err := s.jobErrors.Append(ctx, entry); err != nil {
				return fmt.Errorf("append report entry: %w", err)
			}
			continue
		}
		cm := &domain.ColumnMapping{Header: name, FieldID: field.ID, Kind: field.Kind}
		if err := applierFor(field.Kind).Apply(ctx, ac, cm, value); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
	}

	for i := range tree.Children {
		if err := s.importTree(ctx, item, &tree.Children[i], rec.ID); err != nil {
			return err
		}
	}
	if err := s.records.Touch(ctx, rec.ID); err != nil {
		return err
	}
	if err := s.cache.Invalidate(ctx, rec.ID); err != nil {
		logger.WithJobID(item.JobID).Warn("invalidate record snapshot",
			slog.String("record_id", rec.ID), slog.Any("error", err))
	}
	return nil
}

func (s *ImportService) resolveTreeRecord(ctx context.Context, item *domain.WorkItem, tree *domain.TreeRecord, parentID string) (*domain.Record, error) {
	if tree.ExternalID != "" {
		rec, err := s.records.FindByExternalID(ctx, item.SchemaID, tree.ExternalID)
		if err != nil {
			return nil, fmt.Errorf("look up record %q: %w", tree.ExternalID, err)
		}
		if rec != nil {
			return rec, nil
		}
	}
	rec := &domain.Record{
		ID:         uuid.New().String(),
		SchemaID:   item.SchemaID,
		ParentID:   parentID,
		ExternalID: tree.ExternalID,
		CreatedBy:  item.CreatedBy,
	}
	if err := s.records.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create record: %w", err)
	}
	return rec, nil
}
