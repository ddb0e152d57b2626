package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"record-import-pipeline/internal/domain"
	"record-import-pipeline/internal/logger"
	"record-import-pipeline/internal/metrics"
	"record-import-pipeline/internal/queue"
	"record-import-pipeline/internal/repository"
	"record-import-pipeline/internal/upload"
	"record-import-pipeline/internal/validator"
)

var (
	// ErrJobNotFound is returned when a referenced job does not exist.
	ErrJobNotFound = errors.New("job not found")
	// ErrWrongJobType is returned when an operation references a job of the
	// wrong type.
	ErrWrongJobType = errors.New("job has the wrong type for this operation")
	// ErrValidationUnfinished is returned when a commit is requested before
	// the validation job has processed every row.
	ErrValidationUnfinished = errors.New("validation job has not finished")
	// ErrValidationFailed is returned when a commit is requested for a
	// validation job whose report contains errors.
	ErrValidationFailed = errors.New("validation job reported errors")
	// ErrBadSource is returned when a source file cannot be imported at all.
	ErrBadSource = errors.New("source file cannot be imported")
	// ErrRecordNotFound is returned when a referenced record does not exist.
	ErrRecordNotFound = errors.New("record not found")
)

// ImportService orchestrates the two-phase import pipeline and the
// maintenance jobs that share its progress accounting.
type ImportService struct {
	jobs      repository.JobRepository
	jobErrors repository.JobErrorRepository
	fields    repository.FieldRepository
	options   repository.OptionRepository
	records   repository.RecordRepository
	uploads   upload.Store
	queue     queue.Queue
	cache     RecordCache
	validator *validator.Validator
}

// NewImportService creates a new ImportService.
func NewImportService(
	jobs repository.JobRepository,
	jobErrors repository.JobErrorRepository,
	fields repository.FieldRepository,
	options repository.OptionRepository,
	records repository.RecordRepository,
	uploads upload.Store,
	q queue.Queue,
	cache RecordCache,
	v *validator.Validator,
) *ImportService {
	return &ImportService{
		jobs:      jobs,
		jobErrors: jobErrors,
		fields:    fields,
		options:   options,
		records:   records,
		uploads:   uploads,
		queue:     q,
		cache:     cache,
		validator: v,
	}
}

// ValidateRequest carries everything needed to start a validation job.
type ValidateRequest struct {
	SourceRef string
	Delimiter string
	Mapping   *domain.MappingConfig
	Actor     string
}

// DispatchValidate scans a staged source file, creates the validation job,
// and fans the rows out as work items. The first scan counts rows and runs
// the cross-row uniqueness pre-pass; rows are only enqueued on the second
// scan, after the job exists, so the source is never held in memory.
func (s *ImportService) DispatchValidate(ctx context.Context, req *ValidateRequest) (*domain.JobRecord, error) {
	if err := s.validator.ValidateMapping(req.Mapping); err != nil {
		return nil, fmt.Errorf("invalid mapping: %w", err)
	}

	src, err := s.uploads.OpenCSV(req.SourceRef, delimiterRune(req.Delimiter))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadSource, err)
	}

	header, err := src.Header()
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("%w: %s", ErrBadSource, err)
	}
	if err := checkHeader(header); err != nil {
		src.Close()
		return nil, err
	}
	fillHeaders(req.Mapping, header)

	pre := newPrepass(req.Mapping)
	total := 0
	for {
		row, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			src.Close()
			return nil, fmt.Errorf("%w: row %d: %s", ErrBadSource, total+2, err)
		}
		total++
		pre.scan(total+1, row)
	}
	src.Close()

	job := &domain.JobRecord{
		ID:     uuid.New().String(),
		Type:   domain.JobTypeValidateImport,
		Target: req.Mapping.SchemaID,
		Total:  total,
		Parameters: &domain.JobParameters{
			Description: fmt.Sprintf("validating %s", req.SourceRef),
			SourceRef:   req.SourceRef,
			Delimiter:   req.Delimiter,
			Mapping:     req.Mapping,
		},
		CreatedBy: req.Actor,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		if errors.Is(err, repository.ErrJobConflict) {
			metrics.ObserveConflict(string(job.Type))
		}
		return nil, err
	}
	metrics.ObserveDispatch(string(job.Type))

	if entries := pre.entries(job.ID, req.Actor); len(entries) > 0 {
		if err := s.jobErrors.Append(ctx, entries...); err != nil {
			return nil, fmt.Errorf("record pre-pass findings: %w", err)
		}
	}

	log := logger.WithJobID(job.ID)
	if total == 0 {
		log.Info("validation job dispatched with no rows", slog.String("source", req.SourceRef))
		return job, nil
	}

	if err := s.enqueueRows(ctx, queue.ChannelValidate, job, req.Mapping); err != nil {
		return nil, err
	}

	log.Info("validation job dispatched",
		slog.String("source", req.SourceRef),
		slog.Int("rows", total),
	)
	return job, nil
}

// DispatchCommit supersedes a finished, error-free validation job with a
// commit job over the same source. Columns mapped to fields that do not
// exist yet are materialized here, once, before any row is enqueued.
func (s *ImportService) DispatchCommit(ctx context.Context, validateJobID, actor string) (*domain.JobRecord, error) {
	vjob, err := s.jobs.Find(ctx, validateJobID)
	if err != nil {
		return nil, err
	}
	if vjob == nil {
		return nil, ErrJobNotFound
	}
	if vjob.Type != domain.JobTypeValidateImport {
		return nil, ErrWrongJobType
	}
	if !vjob.Finished() || vjob.Failed {
		return nil, ErrValidationUnfinished
	}
	errCount, err := s.jobErrors.CountBySeverity(ctx, vjob.ID, domain.SeverityError)
	if err != nil {
		return nil, err
	}
	if errCount > 0 {
		return nil, fmt.Errorf("%w: %d errors", ErrValidationFailed, errCount)
	}

	params := vjob.Parameters
	if params == nil || params.Mapping == nil {
		return nil, fmt.Errorf("validation job %s carries no mapping", vjob.ID)
	}
	mapping := params.Mapping

	if err := s.materializeFields(ctx, mapping, actor); err != nil {
		return nil, err
	}

	total, err := s.countRows(params.SourceRef, params.Delimiter)
	if err != nil {
		return nil, err
	}

	job := &domain.JobRecord{
		ID:     uuid.New().String(),
		Type:   domain.JobTypeCommitImport,
		Target: mapping.SchemaID,
		Total:  total,
		Parameters: &domain.JobParameters{
			Description: fmt.Sprintf("importing %s", params.SourceRef),
			SourceRef:   params.SourceRef,
			Delimiter:   params.Delimiter,
			Mapping:     mapping,
		},
		CreatedBy: actor,
	}
	// The finished validation job no longer holds the target, so the commit
	// job is created first. A conflict here leaves the validation job and
	// its report untouched for the next attempt.
	if err := s.jobs.Create(ctx, job); err != nil {
		if errors.Is(err, repository.ErrJobConflict) {
			metrics.ObserveConflict(string(job.Type))
		}
		return nil, err
	}
	metrics.ObserveDispatch(string(job.Type))

	if err := s.jobErrors.Purge(ctx, vjob.ID); err != nil {
		return nil, err
	}
	if err := s.jobs.Delete(ctx, vjob.ID); err != nil {
		return nil, err
	}

	if total > 0 {
		if err := s.enqueueRows(ctx, queue.ChannelCommit, job, mapping); err != nil {
			return nil, err
		}
	}

	logger.WithJobID(job.ID).Info("commit job dispatched",
		slog.String("superseded_job", vjob.ID),
		slog.Int("rows", total),
	)
	return job, nil
}

// GetJob retrieves a job by ID.
func (s *ImportService) GetJob(ctx context.Context, id string) (*domain.JobRecord, error) {
	job, err := s.jobs.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// GetJobReport retrieves a job's error report.
func (s *ImportService) GetJobReport(ctx context.Context, jobID string) ([]domain.JobError, error) {
	job, err := s.jobs.Find(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return s.jobErrors.ListByJob(ctx, jobID)
}

// GetRecordSnapshot serves a record's rendered field values, from the cache
// when a rewarm has been through, straight from the store otherwise. A miss
// warms the cache on the way out.
func (s *ImportService) GetRecordSnapshot(ctx context.Context, recordID string) (map[string]string, error) {
	if payload, err := s.cache.GetRecord(ctx, recordID); err == nil && payload != nil {
		var snapshot map[string]string
		if err := json.Unmarshal(payload, &snapshot); err == nil {
			return snapshot, nil
		}
		// A corrupt entry is dropped and re-rendered below.
		_ = s.cache.Invalidate(ctx, recordID)
	}

	rec, err := s.records.Find(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrRecordNotFound
	}
	snapshot, err := s.records.Snapshot(ctx, recordID)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(snapshot); err == nil {
		if err := s.cache.SetRecord(ctx, recordID, payload); err != nil {
			logger.Warn("cache record snapshot", slog.String("record_id", recordID), slog.Any("error", err))
		}
	}
	return snapshot, nil
}

// enqueueRows re-reads the source and publishes one work item per data row.
// Line numbers count the header as line 1.
func (s *ImportService) enqueueRows(ctx context.Context, channel string, job *domain.JobRecord, mapping *domain.MappingConfig) error {
	params := job.Parameters
	src, err := s.uploads.OpenCSV(params.SourceRef, delimiterRune(params.Delimiter))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBadSource, err)
	}
	defer src.Close()

	line := 1
	for {
		row, err := src.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: row %d: %s", ErrBadSource, line+1, err)
		}
		line++

		item := &domain.WorkItem{
			JobID:     job.ID,
			ItemToken: uuid.New().String(),
			LineNum:   line,
			Values:    row,
			Mapping:   mapping,
			CreatedBy: job.CreatedBy,
		}
		if err := s.queue.Enqueue(ctx, channel, item); err != nil {
			return fmt.Errorf("enqueue row %d: %w", line, err)
		}
	}
}

// advance counts one finished work item and logs the job's completion when
// this item was the last one.
func (s *ImportService) advance(ctx context.Context, item *domain.WorkItem, channel string) error {
	completed, total, justFinished, err := s.jobs.IncrementCompleted(ctx, item.JobID, item.ItemToken)
	if err != nil {
		return fmt.Errorf("advance job %s: %w", item.JobID, err)
	}
	if justFinished {
		metrics.ObserveJobFinished(channel)
		logger.WithJobID(item.JobID).Info("job finished",
			slog.String("channel", channel),
			slog.Int("items", total),
		)
	} else {
		logger.WithJobID(item.JobID).Debug("item completed",
			slog.Int("completed", completed),
			slog.Int("total", total),
		)
	}
	return nil
}

// materializeFields creates the fields for columns mapped to not-yet-existing
// fields and writes their IDs back into the mapping. A field left behind by
// an earlier dispatch attempt is adopted by name, so retrying after a failure
// never trips the per-schema name uniqueness.
func (s *ImportService) materializeFields(ctx context.Context, mapping *domain.MappingConfig, actor string) error {
	for i := range mapping.Columns {
		cm := &mapping.Columns[i]
		if cm.FieldID != "" {
			continue
		}
		name := cm.Header
		if name == "" {
			name = fmt.Sprintf("Column %d", cm.Column+1)
		}
		existing, err := s.fields.FindByName(ctx, mapping.SchemaID, name)
		if err != nil {
			return fmt.Errorf("look up field %q: %w", name, err)
		}
		if existing != nil {
			cm.FieldID = existing.ID
			continue
		}
		field := &domain.Field{
			ID:        uuid.New().String(),
			SchemaID:  mapping.SchemaID,
			Name:      name,
			Kind:      cm.Kind,
			Unique:    cm.Unique,
			CreatedBy: actor,
		}
		if err := s.fields.Create(ctx, field); err != nil {
			return fmt.Errorf("materialize field %q: %w", name, err)
		}
		cm.FieldID = field.ID
	}
	return nil
}

func (s *ImportService) countRows(sourceRef, delimiter string) (int, error) {
	src, err := s.uploads.OpenCSV(sourceRef, delimiterRune(delimiter))
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrBadSource, err)
	}
	defer src.Close()

	total := 0
	for {
		_, err := src.Next()
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return 0, fmt.Errorf("%w: row %d: %s", ErrBadSource, total+2, err)
		}
		total++
	}
}

func checkHeader(header []string) error {
	for i, h := range header {
		if strings.TrimSpace(h) == "" {
			return fmt.Errorf("%w: column %d has a blank header", ErrBadSource, i+1)
		}
	}
	return nil
}

func fillHeaders(mapping *domain.MappingConfig, header []string) {
	for i := range mapping.Columns {
		cm := &mapping.Columns[i]
		if cm.Header == "" && cm.Column < len(header) {
			cm.Header = strings.TrimSpace(header[cm.Column])
		}
	}
}

func delimiterRune(s string) rune {
	if s == "" {
		return ','
	}
	return []rune(s)[0]
}

// cell returns the trimmed value of a column, tolerating short rows.
func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}
