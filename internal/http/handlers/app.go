// Package handlers implements the public HTTP API: job submission and
// polling, stock photo uploads, and credit balance/history.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/restyle-app/server/internal/domain"
	"github.com/restyle-app/server/internal/infra"
	"github.com/restyle-app/server/internal/middleware"
	"github.com/restyle-app/server/internal/storage"
)

// JobEnqueuer is the producer-side queue surface.
type JobEnqueuer interface {
	SendJob(ctx context.Context, jobID string, delay time.Duration) (int64, error)
}

// CreditReader exposes the ledger's read side to the API.
type CreditReader interface {
	Account(ctx context.Context, userID string) (*domain.CreditAccount, error)
	History(ctx context.Context, userID string, limit int) ([]domain.CreditTransaction, error)
}

// App is the handler container; one instance serves all routes.
type App struct {
	Jobs    domain.JobRepository
	Stocks  domain.StockImageRepository
	Credits CreditReader
	Queue   JobEnqueuer
	Store   storage.Store
	Logger  *infra.Logger

	// WorkerWakeURL, when set, receives a fire-and-forget POST after each
	// enqueue so a worker polls immediately instead of on its next interval.
	WorkerWakeURL string
	WakeClient    *http.Client

	// MaxSourceBytes caps uploaded source images.
	MaxSourceBytes int64
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, msg string) {
	a.json(w, code, map[string]string{"error": errCode, "message": msg})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// wakeWorker nudges the worker out of its poll sleep. Any failure is logged
// and swallowed; the periodic poll is the fallback path.
func (a *App) wakeWorker() {
	if a.WorkerWakeURL == "" {
		return
	}
	client := a.WakeClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Second}
	}
	go func() {
		resp, err := client.Post(a.WorkerWakeURL, "application/json", nil)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("api: worker wake-up failed")
			return
		}
		resp.Body.Close()
	}()
}
