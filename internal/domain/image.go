package domain

import "time"

// StockImage is a source photo a user uploaded ahead of time. Jobs may
// reference it by id instead of carrying a fresh upload.
type StockImage struct {
	ID          string
	UserID      string
	StoragePath string
	PublicURL   string
	CreatedAt   time.Time
}

// GeneratedImage is the result entity created when a job succeeds. Its id is
// linked back into the consumption transaction once it exists.
type GeneratedImage struct {
	ID         string
	UserID     string
	JobID      string
	ImageURL   string
	PromptText string
	Model      GenerationModel
	CreatedAt  time.Time
}
