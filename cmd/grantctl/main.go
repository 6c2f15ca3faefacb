package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iepose/aigcd/internal/domain"
	"github.com/iepose/aigcd/internal/storage/postgres"
)

// grantctl creates or inspects magic point grants. Grants normally come
// from the payment collaborator; this tool covers trials and operations.
func main() {
	var (
		uidFlag    int64
		kindFlag   string
		pointsFlag int
		daysFlag   int
		showFlag   bool
	)

	flag.Int64Var(&uidFlag, "uid", 0, "user id the grant belongs to")
	flag.StringVar(&kindFlag, "kind", "trial", "grant kind (trial, paid)")
	flag.IntVar(&pointsFlag, "points", 10, "daily magic point allowance")
	flag.IntVar(&daysFlag, "days", 0, "days until the grant expires (0 = never)")
	flag.BoolVar(&showFlag, "show", false, "print the user's active grant instead of creating one")
	flag.Parse()

	if uidFlag <= 0 {
		exitWithError(errors.New("-uid is required"))
	}
	kind := domain.GrantKind(kindFlag)
	if kind != domain.GrantTrial && kind != domain.GrantPaid {
		exitWithError(fmt.Errorf("unsupported grant kind %q", kindFlag))
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	store := postgres.NewStore(pool)

	if showFlag {
		grant, err := store.CurrentGrant(ctx, uidFlag)
		if err != nil {
			exitWithError(err)
		}
		printJSON(grant)
		return
	}

	if pointsFlag <= 0 {
		exitWithError(errors.New("-points must be positive"))
	}

	grant := &domain.CreditGrant{
		UID:     uidFlag,
		Kind:    kind,
		Init:    pointsFlag,
		Remains: pointsFlag,
	}
	if daysFlag > 0 {
		expires := time.Now().AddDate(0, 0, daysFlag)
		grant.ExpiresAt = &expires
	}
	if err := store.CreateGrant(ctx, grant); err != nil {
		exitWithError(err)
	}
	printJSON(grant)
}

func printJSON(v any) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, "grantctl:", err)
	os.Exit(1)
}
