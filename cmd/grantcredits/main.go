package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/restyle-app/server/internal/domain"
	"github.com/restyle-app/server/internal/infra"
	"github.com/restyle-app/server/internal/ledger"
)

func main() {
	_ = godotenv.Load()

	var (
		userFlag   string
		amountFlag int
		typeFlag   string
	)
	flag.StringVar(&userFlag, "user", "", "user id to credit")
	flag.IntVar(&amountFlag, "amount", 0, "number of credits to grant")
	flag.StringVar(&typeFlag, "type", string(domain.TransactionBonusSignup),
		"grant type (purchase, bonus_signup or bonus_referral)")
	flag.Parse()

	userID := strings.TrimSpace(userFlag)
	if userID == "" {
		fmt.Fprintln(os.Stderr, "-user is required")
		os.Exit(1)
	}
	if amountFlag <= 0 {
		fmt.Fprintln(os.Stderr, "-amount must be positive")
		os.Exit(1)
	}

	grantType := domain.TransactionType(strings.TrimSpace(typeFlag))
	switch grantType {
	case domain.TransactionPurchase, domain.TransactionBonusSignup, domain.TransactionBonusReferral:
	default:
		fmt.Fprintf(os.Stderr, "unsupported grant type %q\n", typeFlag)
		os.Exit(1)
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger := infra.NewLogger(os.Getenv("APP_ENV"))
	credits := ledger.NewService(pool, logger)

	if err := credits.Grant(ctx, userID, amountFlag, grantType); err != nil {
		fmt.Fprintf(os.Stderr, "grant credits: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("granted %d credits (%s) to %s\n", amountFlag, grantType, userID)
}
