package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"record-import-pipeline/internal/domain"
	"record-import-pipeline/internal/repository"
)

// The fakes below are stateful in-memory stands-ins for the postgres
// repositories and the redis queue. Tests assert on their end state, which is
// what the idempotence guarantees are about.

type fakeJobs struct {
	mu     sync.Mutex
	jobs   map[string]*domain.JobRecord
	tokens map[string]map[string]bool
	errs   *fakeJobErrors
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{
		jobs:   make(map[string]*domain.JobRecord),
		tokens: make(map[string]map[string]bool),
	}
}

// cloneJob copies a job the way the postgres repository round-trips it:
// parameters go through JSON, so the stored job never shares mapping state
// with the caller's struct.
func cloneJob(job *domain.JobRecord) *domain.JobRecord {
	cp := *job
	if job.Parameters != nil {
		raw, err := json.Marshal(job.Parameters)
		if err != nil {
			panic(err)
		}
		cp.Parameters = &domain.JobParameters{}
		if err := json.Unmarshal(raw, cp.Parameters); err != nil {
			panic(err)
		}
	}
	return &cp
}

func (f *fakeJobs) Create(_ context.Context, job *domain.JobRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, open := range f.jobs {
		if !open.Finished() && job.ConflictsWith(open) {
			return repository.ErrJobConflict
		}
	}
	f.insert(job)
	return nil
}

func (f *fakeJobs) ReuseOrCreate(_ context.Context, job *domain.JobRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.jobs {
		if existing.Type == job.Type && existing.Target == job.Target {
			existing.Total = job.Total
			existing.Completed = 0
			existing.Parameters = cloneJob(job).Parameters
			existing.StartedAt = nil
			existing.CompletedAt = nil
			existing.Failed = false
			if existing.Total == 0 {
				now := time.Now()
				existing.CompletedAt = &now
			}
			delete(f.tokens, existing.ID)
			f.tokens[existing.ID] = make(map[string]bool)
			if f.errs != nil {
				_ = f.errs.Purge(context.Background(), existing.ID)
			}
			*job = *cloneJob(existing)
			return nil
		}
	}
	f.insert(job)
	return nil
}

func (f *fakeJobs) insert(job *domain.JobRecord) {
	job.CreatedAt = time.Now()
	if job.Total == 0 {
		now := time.Now()
		job.CompletedAt = &now
	}
	f.jobs[job.ID] = cloneJob(job)
	f.tokens[job.ID] = make(map[string]bool)
}

func (f *fakeJobs) Find(_ context.Context, id string) (*domain.JobRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, nil
	}
	return cloneJob(job), nil
}

func (f *fakeJobs) IncrementCompleted(_ context.Context, jobID, itemToken string) (int, int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return 0, 0, false, fmt.Errorf("job %s not found", jobID)
	}
	if f.tokens[jobID][itemToken] {
		return job.Completed, job.Total, false, nil
	}
	f.tokens[jobID][itemToken] = true
	job.Completed++
	if job.StartedAt == nil {
		now := time.Now()
		job.StartedAt = &now
	}
	just := false
	if job.Completed >= job.Total && job.CompletedAt == nil {
		now := time.Now()
		job.CompletedAt = &now
		just = true
	}
	return job.Completed, job.Total, just, nil
}

func (f *fakeJobs) MarkFailed(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[id]; ok {
		job.Failed = true
	}
	return nil
}

func (f *fakeJobs) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, id)
	delete(f.tokens, id)
	return nil
}

// finish marks a job complete, as if every item had been processed.
func (f *fakeJobs) finish(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[id]; ok {
		job.Completed = job.Total
		now := time.Now()
		job.CompletedAt = &now
	}
}

type fakeJobErrors struct {
	mu      sync.Mutex
	entries []domain.JobError
	nextID  int64
}

func newFakeJobErrors() *fakeJobErrors { return &fakeJobErrors{} }

func (f *fakeJobErrors) Append(_ context.Context, entries ...*domain.JobError) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range entries {
		f.nextID++
		cp := *e
		cp.ID = f.nextID
		cp.CreatedAt = time.Now()
		f.entries = append(f.entries, cp)
	}
	return nil
}

func (f *fakeJobErrors) ListByJob(_ context.Context, jobID string) ([]domain.JobError, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.JobError
	for _, e := range f.entries {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LineNum != out[j].LineNum {
			return out[i].LineNum < out[j].LineNum
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeJobErrors) CountBySeverity(_ context.Context, jobID string, severity domain.Severity) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if e.JobID == jobID && e.Severity == severity {
			n++
		}
	}
	return n, nil
}

func (f *fakeJobErrors) Purge(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.entries[:0]
	for _, e := range f.entries {
		if e.JobID != jobID {
			kept = append(kept, e)
		}
	}
	f.entries = kept
	return nil
}

type fakeFields struct {
	mu     sync.Mutex
	fields map[string]*domain.Field
}

func newFakeFields() *fakeFields {
	return &fakeFields{fields: make(map[string]*domain.Field)}
}

func (f *fakeFields) Create(_ context.Context, field *domain.Field) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	field.CreatedAt = time.Now()
	cp := *field
	f.fields[field.ID] = &cp
	return nil
}

func (f *fakeFields) Find(_ context.Context, id string) (*domain.Field, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	field, ok := f.fields[id]
	if !ok {
		return nil, nil
	}
	cp := *field
	return &cp, nil
}

func (f *fakeFields) FindByName(_ context.Context, schemaID, name string) (*domain.Field, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, field := range f.fields {
		if field.SchemaID == schemaID && field.Name == name {
			cp := *field
			return &cp, nil
		}
	}
	return nil, nil
}

type fakeOptions struct {
	mu      sync.Mutex
	nextID  int
	options map[string]*domain.FieldOption // key fieldID + "\x00" + label
}

func newFakeOptions() *fakeOptions {
	return &fakeOptions{options: make(map[string]*domain.FieldOption)}
}

func (f *fakeOptions) Ensure(_ context.Context, fieldID, label, createdBy string) (*domain.FieldOption, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fieldID + "\x00" + label
	if opt, ok := f.options[key]; ok {
		cp := *opt
		return &cp, false, nil
	}
	f.nextID++
	opt := &domain.FieldOption{
		ID:        fmt.Sprintf("opt-%d", f.nextID),
		FieldID:   fieldID,
		Label:     label,
		CreatedBy: createdBy,
		CreatedAt: time.Now(),
	}
	f.options[key] = opt
	cp := *opt
	return &cp, true, nil
}

type slotKey struct {
	recordID string
	fieldID  string
}

type fakeRecords struct {
	mu         sync.Mutex
	records    map[string]*domain.Record
	values     map[slotKey]string
	assets     map[slotKey][]string
	selections map[slotKey][]string
	fieldNames map[string]string // fieldID -> name, for snapshots
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{
		records:    make(map[string]*domain.Record),
		values:     make(map[slotKey]string),
		assets:     make(map[slotKey][]string),
		selections: make(map[slotKey][]string),
		fieldNames: make(map[string]string),
	}
}

func (f *fakeRecords) Create(_ context.Context, rec *domain.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec.ExternalID != "" {
		// Adopt the winner of an external-id race, like the real store does.
		for _, existing := range f.records {
			if existing.SchemaID == rec.SchemaID && existing.ExternalID == rec.ExternalID {
				*rec = *existing
				return nil
			}
		}
	}
	rec.CreatedAt = time.Now()
	rec.UpdatedAt = rec.CreatedAt
	cp := *rec
	f.records[rec.ID] = &cp
	return nil
}

func (f *fakeRecords) Find(_ context.Context, recordID string) (*domain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[recordID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeRecords) FindByExternalID(_ context.Context, schemaID, externalID string) (*domain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec.SchemaID == schemaID && rec.ExternalID == externalID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRecords) Touch(_ context.Context, recordID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.records[recordID]; ok {
		rec.UpdatedAt = time.Now()
	}
	return nil
}

func (f *fakeRecords) ListIDsBySchema(_ context.Context, schemaID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for id, rec := range f.records {
		if rec.SchemaID == schemaID {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeRecords) LookupUniqueValue(_ context.Context, fieldID, value string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, v := range f.values {
		if key.fieldID == fieldID && v == value {
			return key.recordID, nil
		}
	}
	return "", nil
}

func (f *fakeRecords) SetValue(_ context.Context, recordID, fieldID, value string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := slotKey{recordID, fieldID}
	if old, ok := f.values[key]; ok && old == value {
		return false, nil
	}
	f.values[key] = value
	return true, nil
}

func (f *fakeRecords) UpdateExistingValue(_ context.Context, recordID, fieldID, value string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := slotKey{recordID, fieldID}
	old, ok := f.values[key]
	if !ok || old == value {
		return false, nil
	}
	f.values[key] = value
	return true, nil
}

func (f *fakeRecords) Snapshot(_ context.Context, recordID string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string)
	for key, v := range f.values {
		if key.recordID == recordID {
			name := f.fieldNames[key.fieldID]
			if name == "" {
				name = key.fieldID
			}
			out[name] = v
		}
	}
	return out, nil
}

func (f *fakeRecords) ListAssets(_ context.Context, recordID, fieldID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.assets[slotKey{recordID, fieldID}]...), nil
}

func (f *fakeRecords) ListAssetsByField(_ context.Context, fieldID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for key, names := range f.assets {
		if key.fieldID == fieldID {
			out = append(out, names...)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeRecords) AttachAsset(_ context.Context, recordID, fieldID, fileName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := slotKey{recordID, fieldID}
	for _, name := range f.assets[key] {
		if name == fileName {
			return nil
		}
	}
	f.assets[key] = append(f.assets[key], fileName)
	return nil
}

func (f *fakeRecords) DetachAsset(_ context.Context, recordID, fieldID, fileName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := slotKey{recordID, fieldID}
	kept := f.assets[key][:0]
	for _, name := range f.assets[key] {
		if name != fileName {
			kept = append(kept, name)
		}
	}
	f.assets[key] = kept
	return nil
}

func (f *fakeRecords) ListSelections(_ context.Context, recordID, fieldID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.selections[slotKey{recordID, fieldID}]...), nil
}

func (f *fakeRecords) Select(_ context.Context, recordID, fieldID, optionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := slotKey{recordID, fieldID}
	for _, id := range f.selections[key] {
		if id == optionID {
			return nil
		}
	}
	f.selections[key] = append(f.selections[key], optionID)
	return nil
}

func (f *fakeRecords) Deselect(_ context.Context, recordID, fieldID, optionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := slotKey{recordID, fieldID}
	kept := f.selections[key][:0]
	for _, id := range f.selections[key] {
		if id != optionID {
			kept = append(kept, id)
		}
	}
	f.selections[key] = kept
	return nil
}

// fakeQueue records what was enqueued, per channel.
type fakeQueue struct {
	mu    sync.Mutex
	items map[string][]*domain.WorkItem
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{items: make(map[string][]*domain.WorkItem)}
}

func (f *fakeQueue) Enqueue(_ context.Context, channel string, item *domain.WorkItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *item
	f.items[channel] = append(f.items[channel], &cp)
	return nil
}

func (f *fakeQueue) Dequeue(_ context.Context, channels []string) (*domain.WorkItem, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range channels {
		if len(f.items[ch]) > 0 {
			item := f.items[ch][0]
			f.items[ch] = f.items[ch][1:]
			return item, ch, nil
		}
	}
	return nil, "", fmt.Errorf("no items queued")
}

func (f *fakeQueue) Depth(_ context.Context, channel string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.items[channel])), nil
}

func (f *fakeQueue) enqueued(channel string) []*domain.WorkItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.WorkItem(nil), f.items[channel]...)
}

type fakeCache struct {
	mu       sync.Mutex
	payloads map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{payloads: make(map[string][]byte)}
}

func (f *fakeCache) SetRecord(_ context.Context, recordID string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads[recordID] = append([]byte(nil), payload...)
	return nil
}

func (f *fakeCache) GetRecord(_ context.Context, recordID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payload, ok := f.payloads[recordID]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), payload...), nil
}

func (f *fakeCache) Invalidate(_ context.Context, recordID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.payloads, recordID)
	return nil
}
