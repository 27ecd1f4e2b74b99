package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/restyle-app/server/internal/domain"
)

// StockImageRepositoryPG implements domain.StockImageRepository.
type StockImageRepositoryPG struct {
	pool *pgxpool.Pool
}

func NewStockImageRepository(pool *pgxpool.Pool) *StockImageRepositoryPG {
	return &StockImageRepositoryPG{pool: pool}
}

func (r *StockImageRepositoryPG) Create(ctx context.Context, stock *domain.StockImage) error {
	query := `
INSERT INTO stock_images (id, user_id, storage_path, public_url)
VALUES ($1, $2, $3, $4);
`
	_, err := r.pool.Exec(ctx, query, stock.ID, stock.UserID, stock.StoragePath, stock.PublicURL)
	return err
}

// GetForUser fetches a stock image scoped to its owner. A stock belonging to
// another user is indistinguishable from a missing one.
func (r *StockImageRepositoryPG) GetForUser(ctx context.Context, stockID, userID string) (*domain.StockImage, error) {
	query := `
SELECT id, user_id, storage_path, public_url, created_at
FROM stock_images
WHERE id = $1 AND user_id = $2;
`
	row := r.pool.QueryRow(ctx, query, stockID, userID)
	var s domain.StockImage
	if err := row.Scan(&s.ID, &s.UserID, &s.StoragePath, &s.PublicURL, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}
