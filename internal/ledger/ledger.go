// Package ledger implements the credit ledger: a per-user balance split into
// promotional and paid buckets plus an append-only transaction log. Debit and
// refund are idempotent per job id and safe under concurrent workers; every
// balance mutation and its transaction row commit in one database transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/restyle-app/server/internal/domain"
	"github.com/restyle-app/server/internal/infra"
)

// DB is the slice of pgxpool.Pool the ledger needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Service struct {
	db     DB
	logger infra.Logger
}

func NewService(db DB, logger infra.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Deduct charges amount credits for the given job. Promotional credit is
// always spent before paid credit, and the chosen split is recorded on the
// consumption row so a later refund can restore the exact same buckets.
//
// Calling Deduct again with the same job id is a no-op: the existence check
// runs inside the transaction and the unique (user, job, type) constraint is
// the backstop against two workers passing that check at once.
func (s *Service) Deduct(ctx context.Context, userID, jobID string, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("deduct amount must be positive, got %d", amount)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin deduct tx: %w", err)
	}
	defer tx.Rollback(ctx)

	billed, err := hasTransaction(ctx, tx, userID, jobID, domain.TransactionConsumption)
	if err != nil {
		return err
	}
	if billed {
		s.logger.Debug().Str("job_id", jobID).Str("user_id", userID).Msg("ledger: consumption already recorded")
		return nil
	}

	account, err := lockAccount(ctx, tx, userID)
	if err != nil {
		return err
	}

	fromPromo, fromPaid, err := debitSplit(account.PromoBalance, account.PaidBalance, amount)
	if err != nil {
		return err
	}

	if err := applyDelta(ctx, tx, userID, -fromPromo, -fromPaid); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
INSERT INTO credit_transactions
  (id, user_id, amount, transaction_type, job_id, from_promo, from_paid)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`, uuid.NewString(), userID, -amount, domain.TransactionConsumption, jobID, fromPromo, fromPaid)
	if err != nil {
		if infra.IsUniqueViolation(err) {
			// Another worker billed this job between our check and insert.
			return nil
		}
		return fmt.Errorf("insert consumption: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit deduct: %w", err)
	}

	s.logger.Info().
		Str("job_id", jobID).
		Str("user_id", userID).
		Int("amount", amount).
		Int("from_promo", fromPromo).
		Int("from_paid", fromPaid).
		Msg("ledger: credits deducted")
	return nil
}

// Refund restores the credits a job consumed. It is an idempotent no-op when
// the job was already refunded, and a no-op when the job was never billed.
// The refund credits the exact buckets the consumption debited.
func (s *Service) Refund(ctx context.Context, userID, jobID string, amount int) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin refund tx: %w", err)
	}
	defer tx.Rollback(ctx)

	refunded, err := hasTransaction(ctx, tx, userID, jobID, domain.TransactionRefund)
	if err != nil {
		return err
	}
	if refunded {
		s.logger.Debug().Str("job_id", jobID).Str("user_id", userID).Msg("ledger: refund already recorded")
		return nil
	}

	var fromPromo, fromPaid int
	row := tx.QueryRow(ctx, `
SELECT from_promo, from_paid
FROM credit_transactions
WHERE user_id = $1 AND job_id = $2 AND transaction_type = $3;
`, userID, jobID, domain.TransactionConsumption)
	if err := row.Scan(&fromPromo, &fromPaid); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Never refund a job that was never billed.
			s.logger.Warn().Str("job_id", jobID).Str("user_id", userID).Msg("ledger: refund requested without consumption")
			return nil
		}
		return fmt.Errorf("load consumption split: %w", err)
	}

	if _, err := lockAccount(ctx, tx, userID); err != nil {
		return err
	}
	if err := applyDelta(ctx, tx, userID, fromPromo, fromPaid); err != nil {
		return err
	}

	restored := fromPromo + fromPaid
	if amount > 0 && amount != restored {
		s.logger.Warn().
			Str("job_id", jobID).
			Int("requested", amount).
			Int("restored", restored).
			Msg("ledger: refund amount differs from recorded consumption, using recorded split")
	}

	_, err = tx.Exec(ctx, `
INSERT INTO credit_transactions
  (id, user_id, amount, transaction_type, job_id, to_promo, to_paid)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`, uuid.NewString(), userID, restored, domain.TransactionRefund, jobID, fromPromo, fromPaid)
	if err != nil {
		if infra.IsUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("insert refund: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit refund: %w", err)
	}

	s.logger.Info().
		Str("job_id", jobID).
		Str("user_id", userID).
		Int("to_promo", fromPromo).
		Int("to_paid", fromPaid).
		Msg("ledger: credits refunded")
	return nil
}

// Grant credits an account outside the job flow: purchases go to the paid
// bucket, bonus kinds to the promotional bucket.
func (s *Service) Grant(ctx context.Context, userID string, amount int, kind domain.TransactionType) error {
	if amount <= 0 {
		return fmt.Errorf("grant amount must be positive, got %d", amount)
	}
	var toPromo, toPaid int
	switch kind {
	case domain.TransactionPurchase:
		toPaid = amount
	case domain.TransactionBonusSignup, domain.TransactionBonusReferral:
		toPromo = amount
	default:
		return fmt.Errorf("unsupported grant type %q", kind)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin grant tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := lockAccount(ctx, tx, userID); err != nil {
		return err
	}
	if err := applyDelta(ctx, tx, userID, toPromo, toPaid); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
INSERT INTO credit_transactions
  (id, user_id, amount, transaction_type, to_promo, to_paid)
VALUES ($1, $2, $3, $4, $5, $6);
`, uuid.NewString(), userID, amount, kind, toPromo, toPaid)
	if err != nil {
		return fmt.Errorf("insert grant: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit grant: %w", err)
	}
	return nil
}

// LinkGeneration backfills the consumption row with the generated image id.
// This is the single permitted mutation of an existing ledger entry: the
// consumption is inserted before the image exists and linked after success.
func (s *Service) LinkGeneration(ctx context.Context, userID, jobID, generationID string) error {
	_, err := s.db.Exec(ctx, `
UPDATE credit_transactions
SET related_generation_id = $3
WHERE user_id = $1 AND job_id = $2 AND transaction_type = $4;
`, userID, jobID, generationID, domain.TransactionConsumption)
	if err != nil {
		return fmt.Errorf("link generation: %w", err)
	}
	return nil
}

// Account returns the user's balance; a user with no ledger activity reads as
// a zero-balanced account.
func (s *Service) Account(ctx context.Context, userID string) (*domain.CreditAccount, error) {
	row := s.db.QueryRow(ctx, `
SELECT user_id, balance, paid_balance, promo_balance, created_at, updated_at
FROM credit_accounts
WHERE user_id = $1;
`, userID)
	var a domain.CreditAccount
	if err := row.Scan(&a.UserID, &a.Balance, &a.PaidBalance, &a.PromoBalance, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &domain.CreditAccount{UserID: userID}, nil
		}
		return nil, err
	}
	return &a, nil
}

// History lists the user's most recent ledger entries.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]domain.CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
SELECT id, user_id, amount, transaction_type, COALESCE(job_id::text, ''),
       from_promo, from_paid, to_promo, to_paid,
       COALESCE(related_generation_id::text, ''), created_at
FROM credit_transactions
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2;
`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.CreditTransaction
	for rows.Next() {
		var t domain.CreditTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Type, &t.JobID,
			&t.FromPromo, &t.FromPaid, &t.ToPromo, &t.ToPaid,
			&t.RelatedGenerationID, &t.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, t)
	}
	return entries, rows.Err()
}

// debitSplit spends promotional credit first, then paid credit. A shortfall
// in the paid bucket after promo is exhausted means insufficient funds.
func debitSplit(promoBalance, paidBalance, amount int) (fromPromo, fromPaid int, err error) {
	fromPromo = amount
	if promoBalance < fromPromo {
		fromPromo = promoBalance
	}
	fromPaid = amount - fromPromo
	if fromPaid > paidBalance {
		return 0, 0, fmt.Errorf("%w: need %d, have promo=%d paid=%d",
			domain.ErrInsufficientCredits, amount, promoBalance, paidBalance)
	}
	return fromPromo, fromPaid, nil
}

func hasTransaction(ctx context.Context, tx pgx.Tx, userID, jobID string, kind domain.TransactionType) (bool, error) {
	row := tx.QueryRow(ctx, `
SELECT EXISTS (
  SELECT 1 FROM credit_transactions
  WHERE user_id = $1 AND job_id = $2 AND transaction_type = $3
);
`, userID, jobID, kind)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("check %s transaction: %w", kind, err)
	}
	return exists, nil
}

// lockAccount lazily creates a zero-balanced account and row-locks it for the
// remainder of the transaction. The account row is the one hot shared
// resource; FOR UPDATE serializes concurrent ledger operations on it.
func lockAccount(ctx context.Context, tx pgx.Tx, userID string) (*domain.CreditAccount, error) {
	if _, err := tx.Exec(ctx, `
INSERT INTO credit_accounts (user_id)
VALUES ($1)
ON CONFLICT (user_id) DO NOTHING;
`, userID); err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}

	row := tx.QueryRow(ctx, `
SELECT user_id, balance, paid_balance, promo_balance
FROM credit_accounts
WHERE user_id = $1
FOR UPDATE;
`, userID)
	var a domain.CreditAccount
	if err := row.Scan(&a.UserID, &a.Balance, &a.PaidBalance, &a.PromoBalance); err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}
	return &a, nil
}

// applyDelta moves both buckets and recomputes the total from them in the
// same statement; the cached balance column is never trusted as an input.
func applyDelta(ctx context.Context, tx pgx.Tx, userID string, promoDelta, paidDelta int) error {
	_, err := tx.Exec(ctx, `
UPDATE credit_accounts
SET promo_balance = promo_balance + $2,
    paid_balance = paid_balance + $3,
    balance = (promo_balance + $2) + (paid_balance + $3),
    updated_at = NOW()
WHERE user_id = $1;
`, userID, promoDelta, paidDelta)
	if err != nil {
		return fmt.Errorf("update balances: %w", err)
	}
	return nil
}
