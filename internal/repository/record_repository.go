package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"record-import-pipeline/internal/domain"
)

// PostgresRecordRepository implements RecordRepository using PostgreSQL.
type PostgresRecordRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRecordRepository creates a new PostgresRecordRepository.
func NewPostgresRecordRepository(pool *pgxpool.Pool) *PostgresRecordRepository {
	return &PostgresRecordRepository{pool: pool}
}

// Create inserts a new record. When two workers race to create the record for
// the same external ID, the partial unique index rejects the loser, who then
// adopts the winner's row.
func (r *PostgresRecordRepository) Create(ctx context.Context, rec *domain.Record) error {
	var parentID, externalID *string
	if rec.ParentID != "" {
		parentID = &rec.ParentID
	}
	if rec.ExternalID != "" {
		externalID = &rec.ExternalID
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO records (id, schema_id, parent_id, external_id, created_by)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.ID, rec.SchemaID, parentID, externalID, rec.CreatedBy)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" &&
			strings.Contains(pgErr.ConstraintName, "external_id") {
			existing, fetchErr := r.FindByExternalID(ctx, rec.SchemaID, rec.ExternalID)
			if fetchErr != nil {
				return fmt.Errorf("fetch existing record after race: %w", fetchErr)
			}
			if existing != nil {
				*rec = *existing
				return nil
			}
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// Find retrieves a record by ID. Returns nil, nil when absent.
func (r *PostgresRecordRepository) Find(ctx context.Context, recordID string) (*domain.Record, error) {
	var rec domain.Record
	var parentID, extID *string
	err := r.pool.QueryRow(ctx, `
		SELECT id, schema_id, parent_id, external_id, created_by, created_at, updated_at
		FROM records
		WHERE id = $1
	`, recordID).Scan(&rec.ID, &rec.SchemaID, &parentID, &extID,
		&rec.CreatedBy, &rec.CreatedAt, &rec.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	if parentID != nil {
		rec.ParentID = *parentID
	}
	if extID != nil {
		rec.ExternalID = *extID
	}
	return &rec, nil
}

// FindByExternalID retrieves the record carrying an external identifier.
// Returns nil, nil when absent.
func (r *PostgresRecordRepository) FindByExternalID(ctx context.Context, schemaID, externalID string) (*domain.Record, error) {
	var rec domain.Record
	var parentID, extID *string
	err := r.pool.QueryRow(ctx, `
		SELECT id, schema_id, parent_id, external_id, created_by, created_at, updated_at
		FROM records
		WHERE schema_id = $1 AND external_id = $2
	`, schemaID, externalID).Scan(&rec.ID, &rec.SchemaID, &parentID, &extID,
		&rec.CreatedBy, &rec.CreatedAt, &rec.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record by external id: %w", err)
	}
	if parentID != nil {
		rec.ParentID = *parentID
	}
	if extID != nil {
		rec.ExternalID = *extID
	}
	return &rec, nil
}

// Touch bumps a record's updated_at timestamp.
func (r *PostgresRecordRepository) Touch(ctx context.Context, recordID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE records SET updated_at = NOW() WHERE id = $1
	`, recordID)
	if err != nil {
		return fmt.Errorf("touch record %s: %w", recordID, err)
	}
	return nil
}

// ListIDsBySchema returns the IDs of every record in a schema.
func (r *PostgresRecordRepository) ListIDsBySchema(ctx context.Context, schemaID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM records WHERE schema_id = $1 ORDER BY created_at
	`, schemaID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LookupUniqueValue returns the ID of the record storing the given value in
// a field, or "" when no record does.
func (r *PostgresRecordRepository) LookupUniqueValue(ctx context.Context, fieldID, value string) (string, error) {
	var recordID string
	err := r.pool.QueryRow(ctx, `
		SELECT record_id FROM record_values WHERE field_id = $1 AND value = $2 LIMIT 1
	`, fieldID, value).Scan(&recordID)

	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup value: %w", err)
	}
	return recordID, nil
}

// SetValue stores a value in a record's field slot. Writes that would not
// change the stored value are elided; the returned flag reports whether a
// row was actually written.
func (r *PostgresRecordRepository) SetValue(ctx context.Context, recordID, fieldID, value string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO record_values (record_id, field_id, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (record_id, field_id) DO UPDATE
			SET value = EXCLUDED.value, updated_at = NOW()
			WHERE record_values.value IS DISTINCT FROM EXCLUDED.value
	`, recordID, fieldID, value)
	if err != nil {
		return false, fmt.Errorf("set value: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateExistingValue overwrites a field slot only if the record already has
// one. Used for blank incoming values, which must clear an existing slot but
// never create an empty one.
func (r *PostgresRecordRepository) UpdateExistingValue(ctx context.Context, recordID, fieldID, value string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE record_values
		SET value = $3, updated_at = NOW()
		WHERE record_id = $1 AND field_id = $2 AND value IS DISTINCT FROM $3
	`, recordID, fieldID, value)
	if err != nil {
		return false, fmt.Errorf("update value: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Snapshot returns all stored values of a record keyed by field ID.
func (r *PostgresRecordRepository) Snapshot(ctx context.Context, recordID string) (map[string]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT field_id, value FROM record_values WHERE record_id = $1
	`, recordID)
	if err != nil {
		return nil, fmt.Errorf("snapshot record: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var fieldID, value string
		if err := rows.Scan(&fieldID, &value); err != nil {
			return nil, err
		}
		values[fieldID] = value
	}
	return values, rows.Err()
}

// ListAssets returns the file names attached to a record's asset field.
func (r *PostgresRecordRepository) ListAssets(ctx context.Context, recordID, fieldID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT file_name FROM record_assets
		WHERE record_id = $1 AND field_id = $2
		ORDER BY created_at
	`, recordID, fieldID)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// ListAssetsByField returns every file name attached through a field, across
// all records.
func (r *PostgresRecordRepository) ListAssetsByField(ctx context.Context, fieldID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT file_name FROM record_assets WHERE field_id = $1
	`, fieldID)
	if err != nil {
		return nil, fmt.Errorf("list field assets: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// AttachAsset links an uploaded file to a record's asset field. Attaching a
// file that is already linked is a no-op.
func (r *PostgresRecordRepository) AttachAsset(ctx context.Context, recordID, fieldID, fileName string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO record_assets (record_id, field_id, file_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (record_id, field_id, file_name) DO NOTHING
	`, recordID, fieldID, fileName)
	if err != nil {
		return fmt.Errorf("attach asset: %w", err)
	}
	return nil
}

// DetachAsset removes the link between an uploaded file and a record.
func (r *PostgresRecordRepository) DetachAsset(ctx context.Context, recordID, fieldID, fileName string) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM record_assets
		WHERE record_id = $1 AND field_id = $2 AND file_name = $3
	`, recordID, fieldID, fileName)
	if err != nil {
		return fmt.Errorf("detach asset: %w", err)
	}
	return nil
}

// ListSelections returns the option IDs selected in a record's choice field.
func (r *PostgresRecordRepository) ListSelections(ctx context.Context, recordID, fieldID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT option_id FROM record_selections
		WHERE record_id = $1 AND field_id = $2
		ORDER BY created_at
	`, recordID, fieldID)
	if err != nil {
		return nil, fmt.Errorf("list selections: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// Select marks an option as selected. Re-selecting is a no-op.
func (r *PostgresRecordRepository) Select(ctx context.Context, recordID, fieldID, optionID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO record_selections (record_id, field_id, option_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (record_id, field_id, option_id) DO NOTHING
	`, recordID, fieldID, optionID)
	if err != nil {
		return fmt.Errorf("select option: %w", err)
	}
	return nil
}

// Deselect unmarks a selected option.
func (r *PostgresRecordRepository) Deselect(ctx context.Context, recordID, fieldID, optionID string) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM record_selections
		WHERE record_id = $1 AND field_id = $2 AND option_id = $3
	`, recordID, fieldID, optionID)
	if err != nil {
		return fmt.Errorf("deselect option: %w", err)
	}
	return nil
}

func scanStrings(rows pgx.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
