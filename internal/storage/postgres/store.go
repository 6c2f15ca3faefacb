// Package postgres persists jobs and credit grants in PostgreSQL. It is the
// durable backend: job rows and grant balances survive process restarts, and
// every balance mutation runs in its own transaction.
package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iepose/aigcd/internal/domain"
)

// Store implements domain.Ledger, domain.Admitter and domain.JobStore on a
// pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var (
	_ domain.Ledger   = (*Store)(nil)
	_ domain.Admitter = (*Store)(nil)
	_ domain.JobStore = (*Store)(nil)
)
