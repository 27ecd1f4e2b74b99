package handlers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/restyle-app/server/internal/domain"
)

type stockUploadRequest struct {
	ImageBase64 string `json:"image_base64"`
	ImageMIME   string `json:"image_mime"`
}

// StocksUpload stores a source photo ahead of time, so later submissions can
// reference it by id instead of re-uploading the bytes.
func (a *App) StocksUpload(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}

	var req stockUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ImageBase64 == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "image_base64 is required")
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "image_base64 is not valid base64")
		return
	}
	if a.MaxSourceBytes > 0 && int64(len(data)) > a.MaxSourceBytes {
		a.error(w, http.StatusRequestEntityTooLarge, "source_too_large", "source image exceeds the size limit")
		return
	}

	mime := req.ImageMIME
	if mime == "" {
		mime = "image/jpeg"
	}
	stock := &domain.StockImage{
		ID:     uuid.NewString(),
		UserID: userID,
	}
	key := fmt.Sprintf("stocks/%s/%s%s", userID, stock.ID, extensionFor(mime))
	if _, err := a.Store.Upload(r.Context(), key, data, mime); err != nil {
		a.Logger.Error().Err(err).Msg("api: upload stock image")
		a.error(w, http.StatusInternalServerError, "internal", "failed to store image")
		return
	}
	stock.StoragePath = key
	stock.PublicURL = a.Store.PublicURL(key)

	if err := a.Stocks.Create(r.Context(), stock); err != nil {
		a.Logger.Error().Err(err).Msg("api: create stock record")
		a.error(w, http.StatusInternalServerError, "internal", "failed to record image")
		return
	}

	a.json(w, http.StatusCreated, map[string]string{
		"stock_image_id": stock.ID,
		"public_url":     stock.PublicURL,
	})
}
