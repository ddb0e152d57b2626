package domain

import "time"

// JobType identifies the kind of background work a job tracks.
type JobType string

const (
	JobTypeValidateImport JobType = "validate_import"
	JobTypeCommitImport   JobType = "commit_import"
	JobTypeXMLImport      JobType = "xml_import"
	JobTypeMigrateField   JobType = "migrate_field"
	JobTypeRebuildDerived JobType = "rebuild_derived_artifact"
	JobTypeRewarmCache    JobType = "rewarm_cache"
)

// ValidJobTypes contains all recognized job types.
var ValidJobTypes = []JobType{
	JobTypeValidateImport,
	JobTypeCommitImport,
	JobTypeXMLImport,
	JobTypeMigrateField,
	JobTypeRebuildDerived,
	JobTypeRewarmCache,
}

// IsValidJobType checks if a job type is recognized.
func IsValidJobType(t JobType) bool {
	for _, jt := range ValidJobTypes {
		if jt == t {
			return true
		}
	}
	return false
}

// JobRecord tracks the lifecycle of one background job: how many work items
// it fans out to, how many have finished, and whether the whole job is done.
type JobRecord struct {
	ID          string         `json:"id"`
	Type        JobType        `json:"type"`
	Target      string         `json:"target"`
	Restriction string         `json:"restriction,omitempty"`
	Total       int            `json:"total"`
	Completed   int            `json:"completed"`
	Parameters  *JobParameters `json:"parameters,omitempty"`
	CreatedBy   string         `json:"created_by"`
	Failed      bool           `json:"failed"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// JobParameters carries the job-type specific payload stored alongside a job.
type JobParameters struct {
	Description string         `json:"description,omitempty"`
	SourceRef   string         `json:"source_ref,omitempty"`
	Delimiter   string         `json:"delimiter,omitempty"`
	Mapping     *MappingConfig `json:"mapping,omitempty"`
}

// Finished reports whether every work item of the job has completed.
func (j *JobRecord) Finished() bool {
	return j.CompletedAt != nil
}

// Progress returns the completed fraction in [0, 1]. A zero-total job counts
// as fully complete.
func (j *JobRecord) Progress() float64 {
	if j.Total <= 0 {
		return 1
	}
	return float64(j.Completed) / float64(j.Total)
}

// conflictClass groups job types whose instances must not run concurrently.
type conflictClass int

const (
	classImport conflictClass = iota
	classField
	classRewarm
)

func (t JobType) class() conflictClass {
	switch t {
	case JobTypeMigrateField, JobTypeRebuildDerived:
		return classField
	case JobTypeRewarmCache:
		return classRewarm
	default:
		return classImport
	}
}

// ConflictsWith reports whether a new job of j's shape may not start while
// other is still in flight. Import-class jobs (validate, commit, xml import)
// exclude every import and field job on the same target, since both rewrite
// record content. Field-class jobs additionally require the same restriction
// so that work on unrelated fields can proceed in parallel. Cache rewarms
// only exclude other rewarms.
func (j *JobRecord) ConflictsWith(other *JobRecord) bool {
	if j.Target != other.Target {
		return false
	}
	a, b := j.Type.class(), other.Type.class()
	switch {
	case a == classImport || b == classImport:
		return a != classRewarm && b != classRewarm
	case a == classField && b == classField:
		return j.Restriction == other.Restriction
	case a == classRewarm && b == classRewarm:
		return true
	}
	return false
}
