package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/restyle-app/server/internal/domain"
)

// CreditsBalance returns the caller's balance and its promo/paid split.
func (a *App) CreditsBalance(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	account, err := a.Credits.Account(r.Context(), userID)
	if err != nil {
		a.Logger.Error().Err(err).Msg("api: read credit account")
		a.error(w, http.StatusInternalServerError, "internal", "failed to read credit balance")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"balance":       account.Balance,
		"promo_balance": account.PromoBalance,
		"paid_balance":  account.PaidBalance,
	})
}

// CreditsHistory returns the caller's ledger entries, newest first. Refunds
// are silent at failure time; this endpoint is where they become visible.
func (a *App) CreditsHistory(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	txs, err := a.Credits.History(r.Context(), userID, limit)
	if err != nil {
		a.Logger.Error().Err(err).Msg("api: read credit history")
		a.error(w, http.StatusInternalServerError, "internal", "failed to read transactions")
		return
	}
	views := make([]map[string]any, 0, len(txs))
	for i := range txs {
		views = append(views, transactionView(&txs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"transactions": views})
}

func transactionView(tx *domain.CreditTransaction) map[string]any {
	view := map[string]any{
		"id":         tx.ID,
		"type":       string(tx.Type),
		"amount":     tx.Amount,
		"created_at": tx.CreatedAt.Format(time.RFC3339),
	}
	if tx.JobID != "" {
		view["job_id"] = tx.JobID
	}
	if tx.RelatedGenerationID != "" {
		view["generation_id"] = tx.RelatedGenerationID
	}
	return view
}
