package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobConflicts(t *testing.T) {
	openJob := func(jobType JobType, target, restriction string) *JobRecord {
		return &JobRecord{Type: jobType, Target: target, Restriction: restriction, Total: 10}
	}

	tests := []struct {
		name     string
		incoming *JobRecord
		existing *JobRecord
		conflict bool
	}{
		{
			name:     "validate excludes validate on the same target",
			incoming: openJob(JobTypeValidateImport, "schema-1", ""),
			existing: openJob(JobTypeValidateImport, "schema-1", ""),
			conflict: true,
		},
		{
			name:     "commit excludes validate on the same target",
			incoming: openJob(JobTypeCommitImport, "schema-1", ""),
			existing: openJob(JobTypeValidateImport, "schema-1", ""),
			conflict: true,
		},
		{
			name:     "xml import excludes commit on the same target",
			incoming: openJob(JobTypeXMLImport, "schema-1", ""),
			existing: openJob(JobTypeCommitImport, "schema-1", ""),
			conflict: true,
		},
		{
			name:     "import excludes a field migration on the same target",
			incoming: openJob(JobTypeValidateImport, "schema-1", ""),
			existing: openJob(JobTypeMigrateField, "schema-1", "f-1"),
			conflict: true,
		},
		{
			name:     "different targets never conflict",
			incoming: openJob(JobTypeValidateImport, "schema-1", ""),
			existing: openJob(JobTypeValidateImport, "schema-2", ""),
			conflict: false,
		},
		{
			name:     "field jobs on different fields run in parallel",
			incoming: openJob(JobTypeRebuildDerived, "schema-1", "f-1"),
			existing: openJob(JobTypeMigrateField, "schema-1", "f-2"),
			conflict: false,
		},
		{
			name:     "field jobs on the same field conflict",
			incoming: openJob(JobTypeRebuildDerived, "schema-1", "f-1"),
			existing: openJob(JobTypeMigrateField, "schema-1", "f-1"),
			conflict: true,
		},
		{
			name:     "rewarm ignores a running import",
			incoming: openJob(JobTypeRewarmCache, "schema-1", ""),
			existing: openJob(JobTypeCommitImport, "schema-1", ""),
			conflict: false,
		},
		{
			name:     "rewarm excludes another rewarm",
			incoming: openJob(JobTypeRewarmCache, "schema-1", ""),
			existing: openJob(JobTypeRewarmCache, "schema-1", ""),
			conflict: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.conflict, tt.incoming.ConflictsWith(tt.existing))
			assert.Equal(t, tt.conflict, tt.existing.ConflictsWith(tt.incoming), "conflicts are symmetric")
		})
	}
}

func TestJobProgress(t *testing.T) {
	job := &JobRecord{Total: 8, Completed: 2}
	assert.InDelta(t, 0.25, job.Progress(), 1e-9)
	assert.False(t, job.Finished())

	empty := &JobRecord{Total: 0}
	assert.InDelta(t, 1.0, empty.Progress(), 1e-9)
}

func TestFieldKind(t *testing.T) {
	assert.True(t, IsValidFieldKind(KindInteger))
	assert.False(t, IsValidFieldKind(FieldKind("geolocation")))

	assert.Equal(t, 32, KindShortText.MaxLength())
	assert.Equal(t, 64, KindMediumText.MaxLength())
	assert.Equal(t, 255, KindLongText.MaxLength())
	assert.Equal(t, 0, KindParagraph.MaxLength())

	assert.True(t, KindImage.IsAsset())
	assert.True(t, KindTag.IsChoice())
	assert.False(t, KindImage.CanBeUnique())
	assert.False(t, KindSingleSelect.CanBeUnique())
	assert.True(t, KindShortText.CanBeUnique())
}

func TestMappingColumnFor(t *testing.T) {
	mapping := &MappingConfig{
		SchemaID:         "schema-1",
		ExternalIDColumn: 0,
		Columns: []ColumnMapping{
			{Column: 0, FieldID: "f-ext"},
			{Column: 2, FieldID: "f-name"},
		},
	}

	assert.Equal(t, "f-name", mapping.ColumnFor(2).FieldID)
	assert.Nil(t, mapping.ColumnFor(1))
}
