package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/restyle-app/server/internal/domain"
)

// fakeDB interprets the ledger's SQL against in-memory state so the
// transactional semantics (idempotency, split conservation, rollback on
// constraint violation) can be exercised without a database.
type fakeDB struct {
	accounts map[string]*fakeAccount
	txs      []fakeTxRow

	// blindExistsCheck makes the duplicate-check SELECT report no rows so the
	// unique-constraint backstop path can be driven.
	blindExistsCheck bool
}

type fakeAccount struct {
	balance int
	promo   int
	paid    int
}

type fakeTxRow struct {
	userID    string
	jobID     string
	kind      string
	amount    int
	fromPromo int
	fromPaid  int
	toPromo   int
	toPaid    int
	related   string
}

func newFakeDB() *fakeDB {
	return &fakeDB{accounts: map[string]*fakeAccount{}}
}

func (db *fakeDB) seed(userID string, promo, paid int) {
	db.accounts[userID] = &fakeAccount{balance: promo + paid, promo: promo, paid: paid}
}

func (db *fakeDB) snapshot() *fakeDB {
	clone := newFakeDB()
	clone.blindExistsCheck = db.blindExistsCheck
	for id, a := range db.accounts {
		c := *a
		clone.accounts[id] = &c
	}
	clone.txs = append(clone.txs, db.txs...)
	return clone
}

func (db *fakeDB) restore(from *fakeDB) {
	db.accounts = from.accounts
	db.txs = from.txs
}

func (db *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	return &fakeTx{db: db, pending: db.snapshot()}, nil
}

func (db *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return db.exec(sql, args)
}

func (db *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("query not supported by fake")
}

func (db *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return db.queryRow(sql, args)
}

func (db *fakeDB) exec(sql string, args []any) (pgconn.CommandTag, error) {
	switch {
	case strings.Contains(sql, "INSERT INTO credit_accounts"):
		userID := args[0].(string)
		if _, ok := db.accounts[userID]; !ok {
			db.accounts[userID] = &fakeAccount{}
		}
		return pgconn.CommandTag{}, nil

	case strings.Contains(sql, "UPDATE credit_accounts"):
		userID := args[0].(string)
		promoDelta := args[1].(int)
		paidDelta := args[2].(int)
		a := db.accounts[userID]
		a.promo += promoDelta
		a.paid += paidDelta
		a.balance = a.promo + a.paid
		return pgconn.CommandTag{}, nil

	case strings.Contains(sql, "INSERT INTO credit_transactions"):
		row := fakeTxRow{userID: args[1].(string), amount: args[2].(int), kind: string(args[3].(domain.TransactionType))}
		switch {
		case strings.Contains(sql, "from_promo, from_paid"):
			row.jobID = args[4].(string)
			row.fromPromo = args[5].(int)
			row.fromPaid = args[6].(int)
		case strings.Contains(sql, "job_id, to_promo, to_paid"):
			row.jobID = args[4].(string)
			row.toPromo = args[5].(int)
			row.toPaid = args[6].(int)
		default:
			row.toPromo = args[4].(int)
			row.toPaid = args[5].(int)
		}
		if row.jobID != "" {
			for _, existing := range db.txs {
				if existing.userID == row.userID && existing.jobID == row.jobID && existing.kind == row.kind {
					return pgconn.CommandTag{}, &pgconn.PgError{Code: "23505"}
				}
			}
		}
		db.txs = append(db.txs, row)
		return pgconn.CommandTag{}, nil

	case strings.Contains(sql, "SET related_generation_id"):
		userID, jobID, related := args[0].(string), args[1].(string), args[2].(string)
		for i := range db.txs {
			if db.txs[i].userID == userID && db.txs[i].jobID == jobID && db.txs[i].kind == string(args[3].(domain.TransactionType)) {
				db.txs[i].related = related
			}
		}
		return pgconn.CommandTag{}, nil
	}
	return pgconn.CommandTag{}, fmt.Errorf("fake exec: unrecognized sql %q", sql)
}

func (db *fakeDB) queryRow(sql string, args []any) pgx.Row {
	switch {
	case strings.Contains(sql, "SELECT EXISTS"):
		exists := false
		if !db.blindExistsCheck {
			userID, jobID, kind := args[0].(string), args[1].(string), string(args[2].(domain.TransactionType))
			for _, t := range db.txs {
				if t.userID == userID && t.jobID == jobID && t.kind == kind {
					exists = true
				}
			}
		}
		return scanFunc(func(dest ...any) error {
			*(dest[0].(*bool)) = exists
			return nil
		})

	case strings.Contains(sql, "SELECT from_promo, from_paid"):
		userID, jobID := args[0].(string), args[1].(string)
		for _, t := range db.txs {
			if t.userID == userID && t.jobID == jobID && t.kind == string(args[2].(domain.TransactionType)) {
				row := t
				return scanFunc(func(dest ...any) error {
					*(dest[0].(*int)) = row.fromPromo
					*(dest[1].(*int)) = row.fromPaid
					return nil
				})
			}
		}
		return scanFunc(func(...any) error { return pgx.ErrNoRows })

	case strings.Contains(sql, "FOR UPDATE"):
		userID := args[0].(string)
		a, ok := db.accounts[userID]
		if !ok {
			return scanFunc(func(...any) error { return pgx.ErrNoRows })
		}
		acct := *a
		return scanFunc(func(dest ...any) error {
			*(dest[0].(*string)) = userID
			*(dest[1].(*int)) = acct.balance
			*(dest[2].(*int)) = acct.paid
			*(dest[3].(*int)) = acct.promo
			return nil
		})

	case strings.Contains(sql, "FROM credit_accounts"):
		userID := args[0].(string)
		a, ok := db.accounts[userID]
		if !ok {
			return scanFunc(func(...any) error { return pgx.ErrNoRows })
		}
		acct := *a
		return scanFunc(func(dest ...any) error {
			*(dest[0].(*string)) = userID
			*(dest[1].(*int)) = acct.balance
			*(dest[2].(*int)) = acct.paid
			*(dest[3].(*int)) = acct.promo
			*(dest[4].(*time.Time)) = time.Time{}
			*(dest[5].(*time.Time)) = time.Time{}
			return nil
		})
	}
	return scanFunc(func(...any) error { return fmt.Errorf("fake query: unrecognized sql %q", sql) })
}

type scanFunc func(dest ...any) error

func (f scanFunc) Scan(dest ...any) error { return f(dest...) }

// fakeTx buffers mutations against a snapshot and publishes them on Commit.
type fakeTx struct {
	db        *fakeDB
	pending   *fakeDB
	committed bool
}

func (t *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }

func (t *fakeTx) Commit(ctx context.Context) error {
	t.db.restore(t.pending)
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if t.committed {
		return pgx.ErrTxClosed
	}
	return nil
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.pending.exec(sql, args)
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("query not supported by fake tx")
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.pending.queryRow(sql, args)
}

func (t *fakeTx) CopyFrom(ctx context.Context, _ pgx.Identifier, _ []string, _ pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("not supported")
}

func (t *fakeTx) SendBatch(ctx context.Context, _ *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *fakeTx) Prepare(ctx context.Context, _, _ string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("not supported")
}
func (t *fakeTx) Conn() *pgx.Conn { return nil }

func newTestService(db *fakeDB) *Service {
	return NewService(db, zerolog.New(io.Discard))
}

func countTxs(db *fakeDB, jobID string, kind domain.TransactionType) int {
	n := 0
	for _, t := range db.txs {
		if t.jobID == jobID && t.kind == string(kind) {
			n++
		}
	}
	return n
}

func assertInvariant(t *testing.T, db *fakeDB, userID string) {
	t.Helper()
	a := db.accounts[userID]
	if a == nil {
		return
	}
	if a.balance != a.promo+a.paid {
		t.Fatalf("balance invariant violated: balance=%d promo=%d paid=%d", a.balance, a.promo, a.paid)
	}
	if a.promo < 0 || a.paid < 0 {
		t.Fatalf("negative bucket: promo=%d paid=%d", a.promo, a.paid)
	}
}

func TestDeductIdempotent(t *testing.T) {
	db := newFakeDB()
	db.seed("user-1", 30, 70)
	svc := newTestService(db)

	for i := 0; i < 2; i++ {
		if err := svc.Deduct(context.Background(), "user-1", "job-1", 20); err != nil {
			t.Fatalf("Deduct #%d error: %v", i+1, err)
		}
	}

	if got := countTxs(db, "job-1", domain.TransactionConsumption); got != 1 {
		t.Fatalf("expected exactly one consumption, got %d", got)
	}
	if db.accounts["user-1"].balance != 80 {
		t.Fatalf("balance = %d, want 80", db.accounts["user-1"].balance)
	}
	assertInvariant(t, db, "user-1")
}

func TestDeductSpendsPromoFirst(t *testing.T) {
	db := newFakeDB()
	db.seed("user-1", 10, 50)
	svc := newTestService(db)

	if err := svc.Deduct(context.Background(), "user-1", "job-1", 20); err != nil {
		t.Fatalf("Deduct error: %v", err)
	}

	tx := db.txs[0]
	if tx.fromPromo != 10 || tx.fromPaid != 10 {
		t.Fatalf("split = promo %d / paid %d, want 10/10", tx.fromPromo, tx.fromPaid)
	}
	if tx.amount != -20 {
		t.Fatalf("consumption amount = %d, want -20", tx.amount)
	}
	a := db.accounts["user-1"]
	if a.promo != 0 || a.paid != 40 {
		t.Fatalf("buckets after debit = promo %d / paid %d, want 0/40", a.promo, a.paid)
	}
	assertInvariant(t, db, "user-1")
}

func TestDeductInsufficientFunds(t *testing.T) {
	db := newFakeDB()
	db.seed("user-1", 5, 5)
	svc := newTestService(db)

	err := svc.Deduct(context.Background(), "user-1", "job-1", 20)
	if !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if len(db.txs) != 0 {
		t.Fatalf("expected no transactions, got %d", len(db.txs))
	}
	if db.accounts["user-1"].balance != 10 {
		t.Fatalf("balance changed on failed debit: %d", db.accounts["user-1"].balance)
	}
}

func TestDeductLazilyCreatesAccount(t *testing.T) {
	db := newFakeDB()
	svc := newTestService(db)

	err := svc.Deduct(context.Background(), "user-new", "job-1", 20)
	if !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if _, ok := db.accounts["user-new"]; !ok {
		t.Fatal("expected lazily created account")
	}
	assertInvariant(t, db, "user-new")
}

func TestDeductUniqueConstraintBackstop(t *testing.T) {
	db := newFakeDB()
	db.seed("user-1", 0, 100)
	svc := newTestService(db)

	if err := svc.Deduct(context.Background(), "user-1", "job-1", 20); err != nil {
		t.Fatalf("first Deduct error: %v", err)
	}

	// Hide the existing consumption from the pre-check so the insert runs
	// into the unique constraint, as it would when two workers race.
	db.blindExistsCheck = true
	if err := svc.Deduct(context.Background(), "user-1", "job-1", 20); err != nil {
		t.Fatalf("racing Deduct should be a no-op, got %v", err)
	}

	if got := countTxs(db, "job-1", domain.TransactionConsumption); got != 1 {
		t.Fatalf("expected exactly one consumption, got %d", got)
	}
	if db.accounts["user-1"].balance != 80 {
		t.Fatalf("second debit leaked through: balance=%d", db.accounts["user-1"].balance)
	}
}

func TestRefundRestoresSameSplit(t *testing.T) {
	db := newFakeDB()
	db.seed("user-1", 10, 90)
	svc := newTestService(db)

	if err := svc.Deduct(context.Background(), "user-1", "job-1", 20); err != nil {
		t.Fatalf("Deduct error: %v", err)
	}
	if err := svc.Refund(context.Background(), "user-1", "job-1", 20); err != nil {
		t.Fatalf("Refund error: %v", err)
	}

	consumption, refund := db.txs[0], db.txs[1]
	if refund.toPromo != consumption.fromPromo || refund.toPaid != consumption.fromPaid {
		t.Fatalf("refund split %d/%d does not mirror consumption %d/%d",
			refund.toPromo, refund.toPaid, consumption.fromPromo, consumption.fromPaid)
	}
	a := db.accounts["user-1"]
	if a.promo != 10 || a.paid != 90 || a.balance != 100 {
		t.Fatalf("balance not restored: promo=%d paid=%d balance=%d", a.promo, a.paid, a.balance)
	}
	assertInvariant(t, db, "user-1")
}

func TestRefundIdempotent(t *testing.T) {
	db := newFakeDB()
	db.seed("user-1", 0, 100)
	svc := newTestService(db)

	if err := svc.Deduct(context.Background(), "user-1", "job-1", 20); err != nil {
		t.Fatalf("Deduct error: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := svc.Refund(context.Background(), "user-1", "job-1", 20); err != nil {
			t.Fatalf("Refund #%d error: %v", i+1, err)
		}
	}

	if got := countTxs(db, "job-1", domain.TransactionRefund); got != 1 {
		t.Fatalf("expected exactly one refund, got %d", got)
	}
	if db.accounts["user-1"].balance != 100 {
		t.Fatalf("double refund leaked: balance=%d", db.accounts["user-1"].balance)
	}
}

func TestRefundWithoutConsumptionIsNoop(t *testing.T) {
	db := newFakeDB()
	db.seed("user-1", 0, 100)
	svc := newTestService(db)

	if err := svc.Refund(context.Background(), "user-1", "job-never-billed", 20); err != nil {
		t.Fatalf("Refund error: %v", err)
	}
	if len(db.txs) != 0 {
		t.Fatalf("expected no transactions, got %d", len(db.txs))
	}
	if db.accounts["user-1"].balance != 100 {
		t.Fatalf("balance changed: %d", db.accounts["user-1"].balance)
	}
}

func TestGrantBuckets(t *testing.T) {
	db := newFakeDB()
	svc := newTestService(db)

	if err := svc.Grant(context.Background(), "user-1", 100, domain.TransactionPurchase); err != nil {
		t.Fatalf("Grant purchase error: %v", err)
	}
	if err := svc.Grant(context.Background(), "user-1", 25, domain.TransactionBonusSignup); err != nil {
		t.Fatalf("Grant bonus error: %v", err)
	}

	a := db.accounts["user-1"]
	if a.paid != 100 || a.promo != 25 || a.balance != 125 {
		t.Fatalf("unexpected buckets: promo=%d paid=%d balance=%d", a.promo, a.paid, a.balance)
	}
	assertInvariant(t, db, "user-1")
}

func TestLinkGenerationBackfillsConsumption(t *testing.T) {
	db := newFakeDB()
	db.seed("user-1", 0, 100)
	svc := newTestService(db)

	if err := svc.Deduct(context.Background(), "user-1", "job-1", 20); err != nil {
		t.Fatalf("Deduct error: %v", err)
	}
	if err := svc.LinkGeneration(context.Background(), "user-1", "job-1", "gen-9"); err != nil {
		t.Fatalf("LinkGeneration error: %v", err)
	}
	if db.txs[0].related != "gen-9" {
		t.Fatalf("related_generation_id = %q, want gen-9", db.txs[0].related)
	}
}

func TestDebitSplit(t *testing.T) {
	tests := []struct {
		name                string
		promo, paid, amount int
		wantPromo, wantPaid int
		wantErr             bool
	}{
		{name: "all promo", promo: 50, paid: 0, amount: 20, wantPromo: 20},
		{name: "all paid", promo: 0, paid: 50, amount: 20, wantPaid: 20},
		{name: "promo exhausted first", promo: 5, paid: 50, amount: 20, wantPromo: 5, wantPaid: 15},
		{name: "exact", promo: 10, paid: 10, amount: 20, wantPromo: 10, wantPaid: 10},
		{name: "insufficient", promo: 10, paid: 5, amount: 20, wantErr: true},
		{name: "empty account", amount: 20, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fromPromo, fromPaid, err := debitSplit(tc.promo, tc.paid, tc.amount)
			if tc.wantErr {
				if !errors.Is(err, domain.ErrInsufficientCredits) {
					t.Fatalf("expected ErrInsufficientCredits, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("debitSplit error: %v", err)
			}
			if fromPromo != tc.wantPromo || fromPaid != tc.wantPaid {
				t.Fatalf("split = %d/%d, want %d/%d", fromPromo, fromPaid, tc.wantPromo, tc.wantPaid)
			}
		})
	}
}
