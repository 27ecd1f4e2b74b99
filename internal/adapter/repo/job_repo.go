package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/restyle-app/server/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository backed by PostgreSQL.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO generation_jobs
  (id, user_id, status, attempts, prompt_text, input_image_url, source_image_stock_id,
   generation_type, model, background_change)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, '')::uuid, $8, $9, $10);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.UserID,
		job.Status,
		job.Attempts,
		job.PromptText,
		job.InputImageURL,
		job.SourceImageStockID,
		job.GenerationType,
		job.Model,
		job.BackgroundChange,
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, selectJobColumns+` WHERE id = $1;`, jobID)
	return scanJob(row)
}

// ListByUser returns the user's most recent jobs.
func (r *JobRepositoryPG) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, selectJobColumns+` WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2;`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ClaimForProcessing performs the optimistic compare-and-swap that gives a
// single worker ownership of the job. Zero affected rows means another worker
// already holds it.
func (r *JobRepositoryPG) ClaimForProcessing(ctx context.Context, jobID string, now time.Time) (bool, error) {
	query := `
UPDATE generation_jobs
SET status = $2,
    started_at = $3,
    updated_at = NOW()
WHERE id = $1
  AND status IN ($4, $5);
`
	tag, err := r.pool.Exec(ctx, query, jobID,
		domain.JobStatusProcessing, now,
		domain.JobStatusQueued, domain.JobStatusFailed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Requeue returns the job to queued for another attempt.
func (r *JobRepositoryPG) Requeue(ctx context.Context, jobID string, attempts int) error {
	query := `
UPDATE generation_jobs
SET status = $2,
    attempts = $3,
    started_at = NULL,
    updated_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, jobID, domain.JobStatusQueued, attempts)
	return err
}

// RequeueStale returns an abandoned job to queued, but only while the row
// still shows the run the recovery observed. A worker that was merely slow
// finishes in between and the guard makes this a no-op.
func (r *JobRepositoryPG) RequeueStale(ctx context.Context, jobID string, attempts int, startedAt time.Time) (bool, error) {
	query := `
UPDATE generation_jobs
SET status = $2,
    attempts = $3,
    started_at = NULL,
    updated_at = NOW()
WHERE id = $1
  AND status = $4
  AND started_at = $5;
`
	tag, err := r.pool.Exec(ctx, query, jobID, domain.JobStatusQueued, attempts,
		domain.JobStatusProcessing, startedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFailed finalizes the job with an error message.
func (r *JobRepositoryPG) MarkFailed(ctx context.Context, jobID string, attempts int, errMsg string) error {
	query := `
UPDATE generation_jobs
SET status = $2,
    attempts = $3,
    error_message = $4,
    completed_at = NOW(),
    updated_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, jobID, domain.JobStatusFailed, attempts, errMsg)
	return err
}

// FailStale finalizes an abandoned job under the same guard as RequeueStale.
func (r *JobRepositoryPG) FailStale(ctx context.Context, jobID string, attempts int, errMsg string, startedAt time.Time) (bool, error) {
	query := `
UPDATE generation_jobs
SET status = $2,
    attempts = $3,
    error_message = $4,
    completed_at = NOW(),
    updated_at = NOW()
WHERE id = $1
  AND status = $5
  AND started_at = $6;
`
	tag, err := r.pool.Exec(ctx, query, jobID, domain.JobStatusFailed, attempts, errMsg,
		domain.JobStatusProcessing, startedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkSucceeded finalizes the job with its result URL.
func (r *JobRepositoryPG) MarkSucceeded(ctx context.Context, jobID string, resultURL string) error {
	query := `
UPDATE generation_jobs
SET status = $2,
    result_image_url = $3,
    completed_at = NOW(),
    updated_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, jobID, domain.JobStatusSucceeded, resultURL)
	return err
}

const selectJobColumns = `
SELECT id, user_id, status, attempts, prompt_text, input_image_url,
       COALESCE(source_image_stock_id::text, ''), generation_type, model,
       background_change, COALESCE(result_image_url, ''),
       COALESCE(error_message, ''), started_at, completed_at, created_at, updated_at
FROM generation_jobs`

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Status,
		&job.Attempts,
		&job.PromptText,
		&job.InputImageURL,
		&job.SourceImageStockID,
		&job.GenerationType,
		&job.Model,
		&job.BackgroundChange,
		&job.ResultImageURL,
		&job.ErrorMessage,
		&job.StartedAt,
		&job.CompletedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}
