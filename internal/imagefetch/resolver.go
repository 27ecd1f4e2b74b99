// Package imagefetch resolves a job's source image bytes. Resolution walks
// three tiers, each strictly a fallback for the previous one:
//
//  1. plain HTTP GET of the job's input URL, with bounded retries
//  2. re-fetch through the blob store API, deriving the key from the URL
//  3. re-resolution from the referenced stock image record
//
// Only when all applicable tiers fail does resolution fail, and the returned
// error names every tier that was tried.
package imagefetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/restyle-app/server/internal/domain"
	"github.com/restyle-app/server/internal/infra"
	"github.com/restyle-app/server/internal/retry"
	"github.com/restyle-app/server/internal/storage"
)

// Resolver fetches source image bytes for the worker.
type Resolver struct {
	httpClient *http.Client
	store      storage.Store
	stocks     domain.StockImageRepository
	logger     *infra.Logger

	maxBytes   int64
	httpPolicy retry.Policy
}

// Options configures a Resolver. HTTPClient and backoff default sensibly when
// zero.
type Options struct {
	HTTPClient *http.Client
	Store      storage.Store
	Stocks     domain.StockImageRepository
	Logger     *infra.Logger
	// MaxBytes caps the downloaded image size. Zero means no cap.
	MaxBytes int64
	// Attempts bounds tier-1 HTTP retries. Zero means 3.
	Attempts int
	// BackoffBase seeds the exponential backoff between tier-1 attempts.
	// Zero means 500ms.
	BackoffBase time.Duration
}

// statusError is a terminal HTTP response within tier 1. Only timeouts,
// connection failures and a retriable status set get another attempt; any
// other status means the URL will not start working on a retry.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

func retriableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

// NewResolver builds a resolver over the given store and stock repository.
func NewResolver(opts Options) *Resolver {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	base := opts.BackoffBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	return &Resolver{
		httpClient: client,
		store:      opts.Store,
		stocks:     opts.Stocks,
		logger:     opts.Logger,
		maxBytes:   opts.MaxBytes,
		httpPolicy: retry.Policy{
			MaxAttempts: attempts,
			Backoff:     retry.ExponentialBackoff(base, 8*base),
			Retriable: func(err error) bool {
				if errors.Is(err, domain.ErrSourceTooLarge) {
					return false
				}
				var se *statusError
				if errors.As(err, &se) {
					return retriableStatus(se.code)
				}
				return true
			},
		},
	}
}

// Resolve returns the source image bytes and content type for a job. The job
// must carry an input URL, a stock reference, or both.
func (r *Resolver) Resolve(ctx context.Context, job *domain.Job) ([]byte, string, error) {
	var failures []string

	if job.InputImageURL != "" {
		data, mime, err := r.fetchURL(ctx, job.InputImageURL)
		if err == nil {
			return data, mime, nil
		}
		failures = append(failures, fmt.Sprintf("direct fetch: %v", err))
		r.logEvent(job.ID, "direct fetch failed, trying storage api", err)

		data, mime, err = r.fetchViaStore(ctx, job.InputImageURL)
		if err == nil {
			return data, mime, nil
		}
		failures = append(failures, fmt.Sprintf("storage api: %v", err))
		r.logEvent(job.ID, "storage api fetch failed", err)
	}

	if job.SourceImageStockID != "" {
		data, mime, err := r.fetchStock(ctx, job.SourceImageStockID, job.UserID)
		if err == nil {
			return data, mime, nil
		}
		failures = append(failures, fmt.Sprintf("stock %s: %v", job.SourceImageStockID, err))
		r.logEvent(job.ID, "stock re-resolution failed", err)
	}

	if len(failures) == 0 {
		return nil, "", errors.New("imagefetch: job has no input image url and no stock reference")
	}
	return nil, "", fmt.Errorf("imagefetch: all tiers failed: %s", strings.Join(failures, "; "))
}

func (r *Resolver) fetchURL(ctx context.Context, rawURL string) ([]byte, string, error) {
	var data []byte
	var mime string
	err := retry.Do(ctx, r.httpPolicy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		resp, err := r.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return &statusError{code: resp.StatusCode}
		}

		body := io.Reader(resp.Body)
		if r.maxBytes > 0 {
			body = io.LimitReader(resp.Body, r.maxBytes+1)
		}
		data, err = io.ReadAll(body)
		if err != nil {
			return err
		}
		if r.maxBytes > 0 && int64(len(data)) > r.maxBytes {
			return domain.ErrSourceTooLarge
		}
		mime = resp.Header.Get("Content-Type")
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return data, mime, nil
}

func (r *Resolver) fetchViaStore(ctx context.Context, rawURL string) ([]byte, string, error) {
	if r.store == nil {
		return nil, "", errors.New("no store configured")
	}
	key, err := r.store.ParseKey(rawURL)
	if err != nil {
		return nil, "", err
	}
	return r.store.Download(ctx, key)
}

func (r *Resolver) fetchStock(ctx context.Context, stockID, userID string) ([]byte, string, error) {
	if r.stocks == nil {
		return nil, "", errors.New("no stock repository configured")
	}
	stock, err := r.stocks.GetForUser(ctx, stockID, userID)
	if err != nil {
		return nil, "", err
	}
	var storeErr error
	if stock.StoragePath != "" && r.store != nil {
		data, mime, err := r.store.Download(ctx, stock.StoragePath)
		if err == nil {
			return data, mime, nil
		}
		storeErr = fmt.Errorf("storage path %s: %w", stock.StoragePath, err)
	}
	if stock.PublicURL != "" {
		data, mime, err := r.fetchURL(ctx, stock.PublicURL)
		if err == nil {
			return data, mime, nil
		}
		if storeErr != nil {
			return nil, "", fmt.Errorf("%v; public url: %w", storeErr, err)
		}
		return nil, "", fmt.Errorf("public url: %w", err)
	}
	if storeErr != nil {
		return nil, "", storeErr
	}
	return nil, "", errors.New("stock record has no fetchable location")
}

func (r *Resolver) logEvent(jobID, msg string, err error) {
	if r.logger == nil {
		return
	}
	r.logger.Warn().Str("job_id", jobID).Err(err).Msg("imagefetch: " + msg)
}
