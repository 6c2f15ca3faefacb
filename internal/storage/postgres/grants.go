package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/iepose/aigcd/internal/domain"
)

// activeGrantQuery selects the single chargeable grant for a user: unexpired,
// paid preferred over trial, newest first.
const activeGrantQuery = `
SELECT id, uid, kind, init, remains, ctime, utime, expires_at, expired
FROM magic_point_grant
WHERE uid = $1
  AND expired = FALSE
  AND (expires_at IS NULL OR expires_at > now())
ORDER BY CASE kind WHEN 'paid' THEN 0 ELSE 1 END, ctime DESC
LIMIT 1;
`

// CurrentGrant returns the active grant for uid, or domain.ErrNoActiveGrant.
func (s *Store) CurrentGrant(ctx context.Context, uid int64) (*domain.CreditGrant, error) {
	row := s.pool.QueryRow(ctx, activeGrantQuery, uid)
	grant, err := scanGrant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNoActiveGrant
		}
		return nil, fmt.Errorf("select active grant: %w", err)
	}
	return grant, nil
}

// Refund returns amount to uid's active grant. The guarded subselect keeps
// the refund on whichever grant is chargeable right now, matching where a
// concurrent deduction would land.
func (s *Store) Refund(ctx context.Context, uid int64, amount int) error {
	query := `
UPDATE magic_point_grant
SET remains = remains + $2, utime = now()
WHERE id = (
    SELECT id FROM magic_point_grant
    WHERE uid = $1
      AND expired = FALSE
      AND (expires_at IS NULL OR expires_at > now())
    ORDER BY CASE kind WHEN 'paid' THEN 0 ELSE 1 END, ctime DESC
    LIMIT 1
);
`
	tag, err := s.pool.Exec(ctx, query, uid, amount)
	if err != nil {
		return fmt.Errorf("refund grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNoActiveGrant
	}
	return nil
}

// RefreshAll marks lapsed grants expired and resets remains on live ones,
// recording the sweep in grant_refresh_log.
func (s *Store) RefreshAll(ctx context.Context, now time.Time) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin refresh: %w", err)
	}
	defer tx.Rollback(ctx)

	expired, err := tx.Exec(ctx, `
UPDATE magic_point_grant
SET expired = TRUE, utime = $1
WHERE expired = FALSE AND expires_at IS NOT NULL AND expires_at < $1;
`, now)
	if err != nil {
		return 0, fmt.Errorf("expire grants: %w", err)
	}

	reset, err := tx.Exec(ctx, `
UPDATE magic_point_grant
SET remains = init, utime = $1
WHERE expired = FALSE;
`, now)
	if err != nil {
		return 0, fmt.Errorf("reset grants: %w", err)
	}

	total := int(expired.RowsAffected() + reset.RowsAffected())
	if _, err := tx.Exec(ctx,
		`INSERT INTO grant_refresh_log (refresh_time, cnt) VALUES ($1, $2);`,
		now, total,
	); err != nil {
		return 0, fmt.Errorf("record refresh: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit refresh: %w", err)
	}
	return total, nil
}

// LastRefresh returns the time of the most recent grant refresh, or the zero
// time when none has ever run.
func (s *Store) LastRefresh(ctx context.Context) (time.Time, error) {
	var last time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT refresh_time FROM grant_refresh_log ORDER BY refresh_time DESC LIMIT 1;`,
	).Scan(&last)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("select last refresh: %w", err)
	}
	return last, nil
}

// CreateGrant inserts a new grant. Grants normally arrive from the payment
// collaborator; this path serves signup trials and the grantctl tool.
func (s *Store) CreateGrant(ctx context.Context, grant *domain.CreditGrant) error {
	err := s.pool.QueryRow(ctx, `
INSERT INTO magic_point_grant (uid, kind, init, remains, ctime, utime, expires_at, expired)
VALUES ($1, $2, $3, $4, now(), now(), $5, FALSE)
RETURNING id, ctime, utime;
`, grant.UID, grant.Kind, grant.Init, grant.Remains, grant.ExpiresAt,
	).Scan(&grant.ID, &grant.CTime, &grant.UTime)
	if err != nil {
		return fmt.Errorf("insert grant: %w", err)
	}
	return nil
}

func scanGrant(row pgx.Row) (*domain.CreditGrant, error) {
	var g domain.CreditGrant
	if err := row.Scan(
		&g.ID,
		&g.UID,
		&g.Kind,
		&g.Init,
		&g.Remains,
		&g.CTime,
		&g.UTime,
		&g.ExpiresAt,
		&g.Expired,
	); err != nil {
		return nil, err
	}
	return &g, nil
}
