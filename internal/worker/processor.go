package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/restyle-app/server/internal/domain"
	"github.com/restyle-app/server/internal/infra"
	"github.com/restyle-app/server/internal/providers/genai"
	"github.com/restyle-app/server/internal/providers/prompt"
	"github.com/restyle-app/server/internal/storage"
)

// Ledger is the credit operations surface the processor needs. All three are
// idempotent per (user, job), so replaying a message never double-charges or
// double-refunds.
type Ledger interface {
	Deduct(ctx context.Context, userID, jobID string, amount int) error
	Refund(ctx context.Context, userID, jobID string, amount int) error
	LinkGeneration(ctx context.Context, userID, jobID, generationID string) error
}

// Generator produces an edited image from a source image and instruction.
type Generator interface {
	EditImage(ctx context.Context, req genai.EditRequest) (*genai.EditResult, error)
}

// SourceResolver fetches the job's source image bytes.
type SourceResolver interface {
	Resolve(ctx context.Context, job *domain.Job) ([]byte, string, error)
}

// Processor executes a single job end to end. It is safe for concurrent use;
// the conditional claim in the job repository is what keeps two processors
// off the same job.
type Processor struct {
	jobs      domain.JobRepository
	generated domain.GeneratedImageRepository
	ledger    Ledger
	resolver  SourceResolver
	generator Generator
	store     storage.Store
	logger    *infra.Logger

	staleTimeout time.Duration
	maxAttempts  int
	now          func() time.Time
}

// ProcessorOptions wires a Processor.
type ProcessorOptions struct {
	Jobs         domain.JobRepository
	Generated    domain.GeneratedImageRepository
	Ledger       Ledger
	Resolver     SourceResolver
	Generator    Generator
	Store        storage.Store
	Logger       *infra.Logger
	StaleTimeout time.Duration
	MaxAttempts  int
	// Now overrides the clock in tests.
	Now func() time.Time
}

func NewProcessor(opts ProcessorOptions) *Processor {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Processor{
		jobs:         opts.Jobs,
		generated:    opts.Generated,
		ledger:       opts.Ledger,
		resolver:     opts.Resolver,
		generator:    opts.Generator,
		store:        opts.Store,
		logger:       opts.Logger,
		staleTimeout: opts.StaleTimeout,
		maxAttempts:  maxAttempts,
		now:          now,
	}
}

// Process runs the job state machine for one delivered message. The returned
// ack reports whether the message should be deleted: true for any terminal
// outcome or harmless duplicate, false when the message must come back after
// its visibility window (requeued attempt, job mid-flight elsewhere, or a
// transient infrastructure error).
func (p *Processor) Process(ctx context.Context, jobID string) (ack bool, err error) {
	job, err := p.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			p.logger.Warn().Str("job_id", jobID).Msg("worker: message references unknown job")
			return true, nil
		}
		return false, fmt.Errorf("load job %s: %w", jobID, err)
	}

	now := p.now()

	switch job.Status {
	case domain.JobStatusSucceeded:
		// Duplicate delivery after a completed run.
		return true, nil

	case domain.JobStatusProcessing:
		if !job.Stale(now, p.staleTimeout) {
			// Another worker is legitimately on it. Keep the message so a
			// crash during that run still gets recovered on redelivery.
			return false, nil
		}
		return p.recoverStale(ctx, job)
	}

	// queued or failed: try to claim it.
	claimed, err := p.jobs.ClaimForProcessing(ctx, job.ID, now)
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", job.ID, err)
	}
	if !claimed {
		p.logger.Debug().Str("job_id", job.ID).Msg("worker: lost claim race")
		return true, nil
	}

	return p.run(ctx, job, job.Attempts+1)
}

// recoverStale handles a processing job whose worker evidently died. The
// abandoned run consumes one attempt. Both writes are guarded on the observed
// started_at: a worker that was merely slow may commit its own outcome between
// our read and our write, and a succeeded row must stay succeeded. When the
// guard rejects the write, the message is left alone so the next delivery
// observes the settled state.
func (p *Processor) recoverStale(ctx context.Context, job *domain.Job) (bool, error) {
	attempts := job.Attempts + 1
	p.logger.Warn().
		Str("job_id", job.ID).
		Int("attempts", attempts).
		Time("started_at", *job.StartedAt).
		Msg("worker: recovering stale job")

	if attempts >= p.maxAttempts {
		failed, err := p.jobs.FailStale(ctx, job.ID, attempts, "processing timed out", *job.StartedAt)
		if err != nil {
			return false, fmt.Errorf("fail stale job %s: %w", job.ID, err)
		}
		if !failed {
			p.logger.Debug().Str("job_id", job.ID).Msg("worker: stale recovery lost to the owning worker")
			return false, nil
		}
		if err := p.ledger.Refund(ctx, job.UserID, job.ID, job.Model.Cost()); err != nil {
			p.logger.Error().Str("job_id", job.ID).Err(err).Msg("worker: refund after failure")
		}
		return true, nil
	}

	requeued, err := p.jobs.RequeueStale(ctx, job.ID, attempts, *job.StartedAt)
	if err != nil {
		return false, fmt.Errorf("requeue stale job %s: %w", job.ID, err)
	}
	if !requeued {
		p.logger.Debug().Str("job_id", job.ID).Msg("worker: stale recovery lost to the owning worker")
	}
	// Leave the message; redelivery drives the next attempt.
	return false, nil
}

// run executes a claimed job through deduct, resolve, generate and persist.
func (p *Processor) run(ctx context.Context, job *domain.Job, attempt int) (bool, error) {
	if err := p.ledger.Deduct(ctx, job.UserID, job.ID, job.Model.Cost()); err != nil {
		if errors.Is(err, domain.ErrInsufficientCredits) {
			if err := p.jobs.MarkFailed(ctx, job.ID, attempt, "insufficient credits"); err != nil {
				return false, fmt.Errorf("fail job %s: %w", job.ID, err)
			}
			return true, nil
		}
		return p.failAttempt(ctx, job, attempt, fmt.Errorf("deduct credits: %w", err), false)
	}

	data, mime, err := p.resolver.Resolve(ctx, job)
	if err != nil {
		return p.failAttempt(ctx, job, attempt, fmt.Errorf("resolve source image: %w", err), false)
	}

	instruction := prompt.BuildInstruction(prompt.Request{
		GenerationType:   job.GenerationType,
		OutfitText:       job.PromptText,
		BackgroundChange: job.BackgroundChange,
	})

	result, err := p.generator.EditImage(ctx, genai.EditRequest{
		Model:       job.Model,
		ImageData:   data,
		ImageMIME:   mime,
		Instruction: instruction,
		RequestID:   job.ID,
	})
	if err != nil {
		// Repeated empty results will not improve on a retry; burn no more
		// attempts on them.
		permanent := errors.Is(err, genai.ErrNoImages)
		return p.failAttempt(ctx, job, attempt, err, permanent)
	}

	key := fmt.Sprintf("results/%s/%s%s", job.UserID, job.ID, extensionFor(result.MIMEType))
	if _, err := p.store.Upload(ctx, key, result.Data, result.MIMEType); err != nil {
		return p.failAttempt(ctx, job, attempt, fmt.Errorf("store result: %w", err), false)
	}
	resultURL := p.store.PublicURL(key)

	generated := &domain.GeneratedImage{
		ID:         uuid.NewString(),
		UserID:     job.UserID,
		JobID:      job.ID,
		ImageURL:   resultURL,
		PromptText: job.PromptText,
		Model:      job.Model,
	}
	if err := p.generated.Create(ctx, generated); err != nil {
		return p.failAttempt(ctx, job, attempt, fmt.Errorf("record generated image: %w", err), false)
	}

	if err := p.jobs.MarkSucceeded(ctx, job.ID, resultURL); err != nil {
		return false, fmt.Errorf("mark job %s succeeded: %w", job.ID, err)
	}

	// Best effort; the consumption stands on its own without the link.
	if err := p.ledger.LinkGeneration(ctx, job.UserID, job.ID, generated.ID); err != nil {
		p.logger.Warn().Str("job_id", job.ID).Err(err).Msg("worker: link generation to transaction")
	}

	p.logger.Info().
		Str("job_id", job.ID).
		Str("user_id", job.UserID).
		Int("attempt", attempt).
		Str("result_url", resultURL).
		Msg("worker: job succeeded")
	return true, nil
}

// failAttempt decides between another attempt and a terminal failure.
// Permanent errors and an exhausted budget finalize the job and refund the
// deduction; otherwise the job goes back to queued and the message is left
// for redelivery.
func (p *Processor) failAttempt(ctx context.Context, job *domain.Job, attempt int, cause error, permanent bool) (bool, error) {
	p.logger.Warn().
		Str("job_id", job.ID).
		Int("attempt", attempt).
		Int("max_attempts", p.maxAttempts).
		Err(cause).
		Msg("worker: attempt failed")

	if permanent || attempt >= p.maxAttempts {
		return p.finalizeFailure(ctx, job, attempt, failureMessage(cause))
	}
	if err := p.jobs.Requeue(ctx, job.ID, attempt); err != nil {
		return false, fmt.Errorf("requeue job %s: %w", job.ID, err)
	}
	return false, nil
}

func (p *Processor) finalizeFailure(ctx context.Context, job *domain.Job, attempt int, msg string) (bool, error) {
	if err := p.jobs.MarkFailed(ctx, job.ID, attempt, msg); err != nil {
		return false, fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	if err := p.ledger.Refund(ctx, job.UserID, job.ID, job.Model.Cost()); err != nil {
		// The job is already failed; surface the refund problem loudly but
		// still ack so the message does not loop forever.
		p.logger.Error().Str("job_id", job.ID).Err(err).Msg("worker: refund after failure")
	}
	return true, nil
}

func failureMessage(err error) string {
	if errors.Is(err, genai.ErrNoImages) {
		return "No images generated"
	}
	return err.Error()
}

func extensionFor(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
