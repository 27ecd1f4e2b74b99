package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/restyle-app/server/internal/domain"
)

type generationRequest struct {
	Prompt           string `json:"prompt"`
	GenerationType   string `json:"generation_type"`
	Model            string `json:"model"`
	BackgroundChange string `json:"background_change"`
	ImageBase64      string `json:"image_base64"`
	ImageMIME        string `json:"image_mime"`
	StockImageID     string `json:"stock_image_id"`
}

type generationResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// GenerationsSubmit accepts a new outfit generation job. The response is 202
// as soon as the job row exists; the debit, the generation call and the
// result all happen in the worker.
func (a *App) GenerationsSubmit(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}

	var req generationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	genType := domain.GenerationType(req.GenerationType)
	if req.GenerationType == "" {
		genType = domain.GenerationTypeOutfitSwap
	}
	if !domain.ValidGenerationType(genType) {
		a.error(w, http.StatusBadRequest, "bad_request", "unsupported generation_type")
		return
	}

	model := domain.GenerationModel(req.Model)
	if req.Model == "" {
		model = domain.ModelFlashImage
	}
	if !domain.ValidGenerationModel(model) {
		a.error(w, http.StatusBadRequest, "unsupported_model", "unknown generation model")
		return
	}

	if req.ImageBase64 == "" && req.StockImageID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "either image_base64 or stock_image_id is required")
		return
	}

	// The base64 payload is ~4/3 of the decoded size; reject before decoding.
	if a.MaxSourceBytes > 0 && int64(len(req.ImageBase64)) > a.MaxSourceBytes*4/3+4 {
		a.error(w, http.StatusRequestEntityTooLarge, "source_too_large", "source image exceeds the size limit")
		return
	}

	inputURL, stockID, err := a.resolveInput(r, userID, &req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusNotFound, "not_found", "stock image not found")
		case errors.Is(err, domain.ErrInvalidRequest):
			a.error(w, http.StatusBadRequest, "bad_request", "invalid source image")
		default:
			a.Logger.Error().Err(err).Msg("api: prepare source image")
			a.error(w, http.StatusInternalServerError, "internal", "failed to store source image")
		}
		return
	}

	// Advisory only; the authoritative debit re-checks inside the worker.
	account, err := a.Credits.Account(r.Context(), userID)
	if err != nil {
		a.Logger.Error().Err(err).Msg("api: read credit account")
		a.error(w, http.StatusInternalServerError, "internal", "failed to read credit balance")
		return
	}
	if account.Balance < model.Cost() {
		a.error(w, http.StatusPaymentRequired, "insufficient_credits",
			fmt.Sprintf("model costs %d credits, balance is %d", model.Cost(), account.Balance))
		return
	}

	job := &domain.Job{
		ID:                 uuid.NewString(),
		UserID:             userID,
		Status:             domain.JobStatusQueued,
		PromptText:         req.Prompt,
		InputImageURL:      inputURL,
		SourceImageStockID: stockID,
		GenerationType:     genType,
		Model:              model,
		BackgroundChange:   req.BackgroundChange,
	}
	if err := a.Jobs.Create(r.Context(), job); err != nil {
		a.Logger.Error().Err(err).Msg("api: create job")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create job")
		return
	}

	if _, err := a.Queue.SendJob(r.Context(), job.ID, 0); err != nil {
		// The job row exists, so polling will still pick it up once a stale
		// sweep or manual requeue runs. Surface the degradation, keep the 202.
		a.Logger.Warn().Str("job_id", job.ID).Err(err).Msg("api: enqueue failed, job created without message")
	} else {
		a.wakeWorker()
	}

	a.json(w, http.StatusAccepted, generationResponse{JobID: job.ID, Status: string(domain.JobStatusQueued)})
}

// resolveInput turns the request's image payload into an input URL. A fresh
// upload wins over a stock reference when both are present.
func (a *App) resolveInput(r *http.Request, userID string, req *generationRequest) (inputURL, stockID string, err error) {
	if req.ImageBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil {
			return "", "", domain.ErrInvalidRequest
		}
		if a.MaxSourceBytes > 0 && int64(len(data)) > a.MaxSourceBytes {
			return "", "", domain.ErrInvalidRequest
		}
		mime := req.ImageMIME
		if mime == "" {
			mime = "image/jpeg"
		}
		key := fmt.Sprintf("uploads/%s/%s%s", userID, uuid.NewString(), extensionFor(mime))
		if _, err := a.Store.Upload(r.Context(), key, data, mime); err != nil {
			return "", "", err
		}
		return a.Store.PublicURL(key), req.StockImageID, nil
	}

	stock, err := a.Stocks.GetForUser(r.Context(), req.StockImageID, userID)
	if err != nil {
		return "", "", err
	}
	return stock.PublicURL, stock.ID, nil
}

// GenerationStatus returns one job, scoped to the caller.
func (a *App) GenerationStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil || job.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	a.json(w, http.StatusOK, jobView(job))
}

// GenerationsList returns the caller's recent jobs, newest first.
func (a *App) GenerationsList(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	jobs, err := a.Jobs.ListByUser(r.Context(), userID, limit)
	if err != nil {
		a.Logger.Error().Err(err).Msg("api: list jobs")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list jobs")
		return
	}
	views := make([]map[string]any, 0, len(jobs))
	for i := range jobs {
		views = append(views, jobView(&jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"generations": views})
}

func jobView(job *domain.Job) map[string]any {
	view := map[string]any{
		"job_id":          job.ID,
		"status":          string(job.Status),
		"generation_type": string(job.GenerationType),
		"model":           string(job.Model),
		"prompt":          job.PromptText,
		"attempts":        job.Attempts,
		"created_at":      job.CreatedAt.Format(time.RFC3339),
	}
	if job.ResultImageURL != "" {
		view["result_image_url"] = job.ResultImageURL
	}
	if job.ErrorMessage != "" {
		view["error"] = job.ErrorMessage
	}
	if job.CompletedAt != nil {
		view["completed_at"] = job.CompletedAt.Format(time.RFC3339)
	}
	return view
}

func extensionFor(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
