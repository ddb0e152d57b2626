package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"record-import-pipeline/internal/domain"
)

// PostgresFieldRepository implements FieldRepository using PostgreSQL.
type PostgresFieldRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresFieldRepository creates a new PostgresFieldRepository.
func NewPostgresFieldRepository(pool *pgxpool.Pool) *PostgresFieldRepository {
	return &PostgresFieldRepository{pool: pool}
}

// Create inserts a new schema field.
func (r *PostgresFieldRepository) Create(ctx context.Context, field *domain.Field) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO fields (id, schema_id, name, kind, is_unique, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, field.ID, field.SchemaID, field.Name, field.Kind, field.Unique, field.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert field: %w", err)
	}
	return nil
}

// Find retrieves a field by ID. Returns nil, nil when the field does not exist.
func (r *PostgresFieldRepository) Find(ctx context.Context, id string) (*domain.Field, error) {
	var field domain.Field
	err := r.pool.QueryRow(ctx, `
		SELECT id, schema_id, name, kind, is_unique, created_by, created_at
		FROM fields
		WHERE id = $1
	`, id).Scan(&field.ID, &field.SchemaID, &field.Name, &field.Kind,
		&field.Unique, &field.CreatedBy, &field.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get field: %w", err)
	}
	return &field, nil
}

// FindByName retrieves a field by its name within a schema. Returns nil, nil
// when absent.
func (r *PostgresFieldRepository) FindByName(ctx context.Context, schemaID, name string) (*domain.Field, error) {
	var field domain.Field
	err := r.pool.QueryRow(ctx, `
		SELECT id, schema_id, name, kind, is_unique, created_by, created_at
		FROM fields
		WHERE schema_id = $1 AND name = $2
	`, schemaID, name).Scan(&field.ID, &field.SchemaID, &field.Name, &field.Kind,
		&field.Unique, &field.CreatedBy, &field.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get field by name: %w", err)
	}
	return &field, nil
}
