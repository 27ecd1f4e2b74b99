// Package db holds the schema and its idempotent migration entrypoint.
// Statements only ever add objects; destructive changes are done by hand.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by pgxpool.Pool and pgx.Tx alike.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

var statements = []string{
	`CREATE TABLE IF NOT EXISTS generation_jobs (
		id uuid PRIMARY KEY,
		user_id uuid NOT NULL,
		status text NOT NULL DEFAULT 'queued',
		attempts int NOT NULL DEFAULT 0,
		prompt_text text NOT NULL DEFAULT '',
		input_image_url text NOT NULL DEFAULT '',
		source_image_stock_id uuid,
		generation_type text NOT NULL DEFAULT 'outfit_swap',
		model text NOT NULL,
		background_change text NOT NULL DEFAULT '',
		result_image_url text,
		error_message text,
		started_at timestamptz,
		completed_at timestamptz,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS generation_jobs_user_created_idx
		ON generation_jobs (user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS generation_jobs_status_idx
		ON generation_jobs (status)`,

	`CREATE TABLE IF NOT EXISTS credit_accounts (
		user_id uuid PRIMARY KEY,
		balance int NOT NULL DEFAULT 0,
		paid_balance int NOT NULL DEFAULT 0,
		promo_balance int NOT NULL DEFAULT 0,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now(),
		CONSTRAINT credit_accounts_non_negative
			CHECK (paid_balance >= 0 AND promo_balance >= 0),
		CONSTRAINT credit_accounts_balance_consistent
			CHECK (balance = paid_balance + promo_balance)
	)`,

	`CREATE TABLE IF NOT EXISTS credit_transactions (
		id uuid PRIMARY KEY,
		user_id uuid NOT NULL,
		amount int NOT NULL,
		transaction_type text NOT NULL,
		job_id uuid,
		from_promo int NOT NULL DEFAULT 0,
		from_paid int NOT NULL DEFAULT 0,
		to_promo int NOT NULL DEFAULT 0,
		to_paid int NOT NULL DEFAULT 0,
		related_generation_id uuid,
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	// One consumption and one refund per job; this index is the idempotency
	// backstop behind the ledger's read-before-insert check.
	`CREATE UNIQUE INDEX IF NOT EXISTS credit_transactions_job_type_uniq
		ON credit_transactions (user_id, job_id, transaction_type)
		WHERE job_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS credit_transactions_user_created_idx
		ON credit_transactions (user_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS queue_messages (
		msg_id bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		queue text NOT NULL,
		payload jsonb NOT NULL,
		vt timestamptz NOT NULL DEFAULT now(),
		read_count int NOT NULL DEFAULT 0,
		enqueued_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS queue_messages_ready_idx
		ON queue_messages (queue, vt)`,

	`CREATE TABLE IF NOT EXISTS stock_images (
		id uuid PRIMARY KEY,
		user_id uuid NOT NULL,
		storage_path text NOT NULL DEFAULT '',
		public_url text NOT NULL DEFAULT '',
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS stock_images_user_idx
		ON stock_images (user_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS generated_images (
		id uuid PRIMARY KEY,
		user_id uuid NOT NULL,
		job_id uuid NOT NULL,
		image_url text NOT NULL,
		prompt_text text NOT NULL DEFAULT '',
		model text NOT NULL,
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS generated_images_user_idx
		ON generated_images (user_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS integration_tokens (
		provider text PRIMARY KEY,
		token text NOT NULL,
		properties jsonb NOT NULL DEFAULT '{}',
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
}

// Migrate applies every schema statement in order.
func Migrate(ctx context.Context, db DBTX) error {
	for i, stmt := range statements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
