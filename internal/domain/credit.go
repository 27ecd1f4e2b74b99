package domain

import "time"

// TransactionType enumerates ledger entry kinds.
type TransactionType string

const (
	TransactionConsumption   TransactionType = "consumption"
	TransactionRefund        TransactionType = "refund"
	TransactionPurchase      TransactionType = "purchase"
	TransactionBonusSignup   TransactionType = "bonus_signup"
	TransactionBonusReferral TransactionType = "bonus_referral"
)

// CreditAccount is a user's spendable balance split into two buckets.
// Invariant: Balance == PaidBalance + PromoBalance, both buckets >= 0.
// The invariant is enforced by recomputing Balance from the buckets inside
// the same update, never by trusting a cached total.
type CreditAccount struct {
	UserID       string
	Balance      int
	PaidBalance  int
	PromoBalance int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreditTransaction is an append-only ledger entry. Entries are never updated
// or deleted; the single exception is the RelatedGenerationID backfill once
// the generated image exists, because consumption rows are inserted before
// the image does.
//
// JobID is the idempotency key: at most one consumption row and at most one
// refund row may exist per (user, job) pair. The split columns record exactly
// how a debit was taken from the two buckets so a refund restores the same
// split rather than a recomputed one.
type CreditTransaction struct {
	ID                  string
	UserID              string
	Amount              int // signed: negative for consumption, positive otherwise
	Type                TransactionType
	JobID               string // empty for grants
	FromPromo           int
	FromPaid            int
	ToPromo             int
	ToPaid              int
	RelatedGenerationID string
	CreatedAt           time.Time
}
