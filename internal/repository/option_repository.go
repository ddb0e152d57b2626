package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"record-import-pipeline/internal/domain"
)

// PostgresOptionRepository implements OptionRepository using PostgreSQL.
type PostgresOptionRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresOptionRepository creates a new PostgresOptionRepository.
func NewPostgresOptionRepository(pool *pgxpool.Pool) *PostgresOptionRepository {
	return &PostgresOptionRepository{pool: pool}
}

// Ensure returns the live option with the given label, creating it when
// absent. Concurrent callers race through the insert; the partial unique
// index on (field_id, label) picks one winner and everyone re-reads that
// winner's row, so the caller never keeps a loser's ID.
func (r *PostgresOptionRepository) Ensure(ctx context.Context, fieldID, label, createdBy string) (*domain.FieldOption, bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO field_options (id, field_id, label, created_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (field_id, label) WHERE deleted_at IS NULL DO NOTHING
	`, uuid.New().String(), fieldID, label, createdBy)
	if err != nil {
		return nil, false, fmt.Errorf("ensure option: %w", err)
	}
	created := tag.RowsAffected() == 1

	var opt domain.FieldOption
	err = r.pool.QueryRow(ctx, `
		SELECT id, field_id, label, created_by, created_at, deleted_at
		FROM field_options
		WHERE field_id = $1 AND label = $2 AND deleted_at IS NULL
	`, fieldID, label).Scan(&opt.ID, &opt.FieldID, &opt.Label,
		&opt.CreatedBy, &opt.CreatedAt, &opt.DeletedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("option %q vanished after ensure", label)
	}
	if err != nil {
		return nil, false, fmt.Errorf("refetch option: %w", err)
	}
	return &opt, created, nil
}
