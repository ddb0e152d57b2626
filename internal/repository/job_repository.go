package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"record-import-pipeline/internal/domain"
)

// ErrJobConflict is returned by Create when another incomplete job already
// holds the target.
var ErrJobConflict = errors.New("conflicting job already in progress")

// PostgresJobRepository implements JobRepository using PostgreSQL.
type PostgresJobRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresJobRepository creates a new PostgresJobRepository.
func NewPostgresJobRepository(pool *pgxpool.Pool) *PostgresJobRepository {
	return &PostgresJobRepository{pool: pool}
}

const jobColumns = `id, job_type, target, restriction, total, completed, parameters,
		created_by, failed, created_at, started_at, completed_at`

func scanJob(row pgx.Row) (*domain.JobRecord, error) {
	var job domain.JobRecord
	var params []byte
	var startedAt, completedAt *time.Time

	err := row.Scan(&job.ID, &job.Type, &job.Target, &job.Restriction, &job.Total,
		&job.Completed, &params, &job.CreatedBy, &job.Failed,
		&job.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if params != nil {
		if err := json.Unmarshal(params, &job.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshal parameters: %w", err)
		}
	}
	job.StartedAt = startedAt
	job.CompletedAt = completedAt

	return &job, nil
}

// Create inserts a new job after checking that no incomplete job excludes it.
// The check and the insert are not atomic; two dispatchers racing through
// this window can both win, which callers accept in exchange for never
// holding a table lock across the lookup.
func (r *PostgresJobRepository) Create(ctx context.Context, job *domain.JobRecord) error {
	open, err := r.listOpenByTarget(ctx, job.Target)
	if err != nil {
		return fmt.Errorf("check conflicting jobs: %w", err)
	}
	for _, existing := range open {
		if job.ConflictsWith(existing) {
			return fmt.Errorf("%s job %s holds target %s: %w",
				existing.Type, existing.ID, job.Target, ErrJobConflict)
		}
	}

	return r.insert(ctx, job)
}

// ReuseOrCreate resets an incomplete job with the same type, target and
// restriction if one exists, otherwise creates a new one.
func (r *PostgresJobRepository) ReuseOrCreate(ctx context.Context, job *domain.JobRecord) error {
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}

	var existingID string
	err = r.pool.QueryRow(ctx, `
		SELECT id FROM job_records
		WHERE job_type = $1 AND target = $2 AND restriction = $3
			AND completed_at IS NULL AND failed = FALSE
		ORDER BY created_at
		LIMIT 1
	`, job.Type, job.Target, job.Restriction).Scan(&existingID)

	if errors.Is(err, pgx.ErrNoRows) {
		return r.Create(ctx, job)
	}
	if err != nil {
		return fmt.Errorf("find reusable job: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		UPDATE job_records
		SET total = $2, completed = 0, parameters = $3, created_by = $4,
			started_at = NULL
		WHERE id = $1
	`, existingID, job.Total, params, job.CreatedBy)
	if err != nil {
		return fmt.Errorf("reset job %s: %w", existingID, err)
	}

	// Stale completion tokens and report entries belong to the previous
	// run and must not carry into the new one.
	_, err = r.pool.Exec(ctx, `DELETE FROM job_item_completions WHERE job_id = $1`, existingID)
	if err != nil {
		return fmt.Errorf("clear completions for job %s: %w", existingID, err)
	}
	_, err = r.pool.Exec(ctx, `DELETE FROM job_errors WHERE job_id = $1`, existingID)
	if err != nil {
		return fmt.Errorf("clear report for job %s: %w", existingID, err)
	}

	reloaded, err := r.Find(ctx, existingID)
	if err != nil {
		return err
	}
	*job = *reloaded
	return nil
}

// Find retrieves a job by ID. Returns nil, nil when the job does not exist.
func (r *PostgresJobRepository) Find(ctx context.Context, id string) (*domain.JobRecord, error) {
	job, err := scanJob(r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM job_records
		WHERE id = $1
	`, id))

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// IncrementCompleted records the completion of one work item. Each item token
// counts at most once, so queue redeliveries do not inflate the counter. The
// returned justFinished flag is true for exactly one call per job: the one
// whose increment reached the total and stamped completed_at.
func (r *PostgresJobRepository) IncrementCompleted(ctx context.Context, jobID, itemToken string) (int, int, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, 0, false, fmt.Errorf("begin increment: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO job_item_completions (job_id, item_token)
		VALUES ($1, $2)
		ON CONFLICT (job_id, item_token) DO NOTHING
	`, jobID, itemToken)
	if err != nil {
		return 0, 0, false, fmt.Errorf("record item completion: %w", err)
	}

	var completed, total int

	if tag.RowsAffected() == 0 {
		// Redelivered item, already counted.
		err = tx.QueryRow(ctx, `
			SELECT completed, total FROM job_records WHERE id = $1
		`, jobID).Scan(&completed, &total)
		if err != nil {
			return 0, 0, false, fmt.Errorf("get job progress: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return 0, 0, false, fmt.Errorf("commit increment: %w", err)
		}
		return completed, total, false, nil
	}

	err = tx.QueryRow(ctx, `
		UPDATE job_records
		SET completed = completed + 1,
			started_at = COALESCE(started_at, NOW())
		WHERE id = $1
		RETURNING completed, total
	`, jobID).Scan(&completed, &total)
	if err != nil {
		return 0, 0, false, fmt.Errorf("increment job %s: %w", jobID, err)
	}

	justFinished := false
	if completed >= total {
		tag, err := tx.Exec(ctx, `
			UPDATE job_records
			SET completed_at = NOW()
			WHERE id = $1 AND completed_at IS NULL
		`, jobID)
		if err != nil {
			return 0, 0, false, fmt.Errorf("stamp job %s complete: %w", jobID, err)
		}
		justFinished = tag.RowsAffected() == 1
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, false, fmt.Errorf("commit increment: %w", err)
	}
	return completed, total, justFinished, nil
}

// MarkFailed flags a job as failed, which releases its target for new jobs.
func (r *PostgresJobRepository) MarkFailed(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE job_records SET failed = TRUE WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark job %s failed: %w", id, err)
	}
	return nil
}

// Delete removes a job; its error entries and completion tokens cascade.
func (r *PostgresJobRepository) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM job_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

func (r *PostgresJobRepository) listOpenByTarget(ctx context.Context, target string) ([]*domain.JobRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM job_records
		WHERE target = $1 AND completed_at IS NULL AND failed = FALSE
	`, target)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.JobRecord
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *PostgresJobRepository) insert(ctx context.Context, job *domain.JobRecord) error {
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}

	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	// A job with nothing to fan out is born complete.
	if job.Total == 0 && job.CompletedAt == nil {
		now := time.Now().UTC()
		job.CompletedAt = &now
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO job_records (id, job_type, target, restriction, total, completed,
			parameters, created_by, failed, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, job.ID, job.Type, job.Target, job.Restriction, job.Total, job.Completed,
		params, job.CreatedBy, job.Failed, job.CreatedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}
