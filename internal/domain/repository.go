package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for job entities.
//
// ClaimForProcessing is the only mutual-exclusion primitive between workers:
// an optimistic conditional update guarded by the current status set. There
// is no pessimistic locking anywhere in the pipeline.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Job, error)

	// ClaimForProcessing transitions the job to processing with started_at=now,
	// guarded by WHERE status IN (queued, failed). Returns false when another
	// worker won the race (zero rows affected).
	ClaimForProcessing(ctx context.Context, jobID string, now time.Time) (bool, error)

	// Requeue returns a job to queued for another attempt, recording the new
	// attempt count and clearing started_at. The caller must hold the claim.
	Requeue(ctx context.Context, jobID string, attempts int) error

	// RequeueStale is Requeue guarded by WHERE status = processing AND
	// started_at = startedAt. The guard keeps stale recovery from clobbering
	// a job whose presumed-dead worker finished or re-claimed it in the
	// meantime. Returns false when zero rows were affected.
	RequeueStale(ctx context.Context, jobID string, attempts int, startedAt time.Time) (bool, error)

	// MarkFailed finalizes the job with an error message.
	MarkFailed(ctx context.Context, jobID string, attempts int, errMsg string) error

	// FailStale finalizes the job under the same guard as RequeueStale.
	// Returns false when the observed run is no longer the current one.
	FailStale(ctx context.Context, jobID string, attempts int, errMsg string, startedAt time.Time) (bool, error)

	// MarkSucceeded finalizes the job with its result URL.
	MarkSucceeded(ctx context.Context, jobID string, resultURL string) error
}

// StockImageRepository defines persistence for stocked source photos.
type StockImageRepository interface {
	Create(ctx context.Context, stock *StockImage) error
	// GetForUser returns ErrNotFound when the stock does not exist or belongs
	// to a different user; ownership is never reported separately.
	GetForUser(ctx context.Context, stockID, userID string) (*StockImage, error)
}

// GeneratedImageRepository defines persistence for result entities.
type GeneratedImageRepository interface {
	Create(ctx context.Context, img *GeneratedImage) error
}
