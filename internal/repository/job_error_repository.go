package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"record-import-pipeline/internal/domain"
)

// PostgresJobErrorRepository implements JobErrorRepository using PostgreSQL.
type PostgresJobErrorRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresJobErrorRepository creates a new PostgresJobErrorRepository.
func NewPostgresJobErrorRepository(pool *pgxpool.Pool) *PostgresJobErrorRepository {
	return &PostgresJobErrorRepository{pool: pool}
}

// Append inserts error report entries for a job.
func (r *PostgresJobErrorRepository) Append(ctx context.Context, entries ...*domain.JobError) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO job_errors (job_id, severity, line_num, category, message, created_by)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, e.JobID, e.Severity, e.LineNum, e.Category, e.Message, e.CreatedBy)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("append job error: %w", err)
		}
	}
	return nil
}

// ListByJob retrieves all error entries for a job, ordered by source line.
func (r *PostgresJobErrorRepository) ListByJob(ctx context.Context, jobID string) ([]domain.JobError, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, job_id, severity, line_num, category, message, created_by, created_at
		FROM job_errors
		WHERE job_id = $1
		ORDER BY line_num, id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job errors: %w", err)
	}
	defer rows.Close()

	var entries []domain.JobError
	for rows.Next() {
		var e domain.JobError
		if err := rows.Scan(&e.ID, &e.JobID, &e.Severity, &e.LineNum, &e.Category,
			&e.Message, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job error: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountBySeverity counts a job's entries at the given severity.
func (r *PostgresJobErrorRepository) CountBySeverity(ctx context.Context, jobID string, severity domain.Severity) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM job_errors WHERE job_id = $1 AND severity = $2
	`, jobID, severity).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count job errors: %w", err)
	}
	return count, nil
}

// Purge removes every entry belonging to a job.
func (r *PostgresJobErrorRepository) Purge(ctx context.Context, jobID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM job_errors WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("purge job errors: %w", err)
	}
	return nil
}
