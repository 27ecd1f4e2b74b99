package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/restyle-app/server/internal/domain"
)

// GeneratedImageRepositoryPG implements domain.GeneratedImageRepository.
type GeneratedImageRepositoryPG struct {
	pool *pgxpool.Pool
}

func NewGeneratedImageRepository(pool *pgxpool.Pool) *GeneratedImageRepositoryPG {
	return &GeneratedImageRepositoryPG{pool: pool}
}

func (r *GeneratedImageRepositoryPG) Create(ctx context.Context, img *domain.GeneratedImage) error {
	query := `
INSERT INTO generated_images (id, user_id, job_id, image_url, prompt_text, model)
VALUES ($1, $2, $3, $4, $5, $6);
`
	_, err := r.pool.Exec(ctx, query,
		img.ID, img.UserID, img.JobID, img.ImageURL, img.PromptText, img.Model)
	return err
}
