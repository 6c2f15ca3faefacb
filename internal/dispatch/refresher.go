package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/iepose/aigcd/internal/domain"
)

// RefreshLedger is a ledger that also remembers when grants were last
// refreshed, so a restarted dispatcher does not refresh twice in one day.
type RefreshLedger interface {
	domain.Ledger
	LastRefresh(ctx context.Context) (time.Time, error)
}

// Refresher resets grant balances once per day at local midnight and marks
// lapsed grants expired.
type Refresher struct {
	ledger RefreshLedger
	logger zerolog.Logger
}

// NewRefresher creates the daily grant refresher.
func NewRefresher(ledger RefreshLedger, logger zerolog.Logger) *Refresher {
	return &Refresher{ledger: ledger, logger: logger}
}

// Run refreshes immediately if today's refresh has not happened yet, then
// once per midnight until ctx is canceled.
func (r *Refresher) Run(ctx context.Context) error {
	now := time.Now()

	last, err := r.ledger.LastRefresh(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("refresher: read last refresh failed")
	} else if last.Before(midnightOf(now)) {
		r.refresh(ctx, now)
	}

	for {
		delay := untilNextMidnight(time.Now())
		r.logger.Debug().Dur("delay", delay).Msg("refresher: next refresh scheduled")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
			r.refresh(ctx, time.Now())
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (r *Refresher) refresh(ctx context.Context, now time.Time) {
	cnt, err := r.ledger.RefreshAll(ctx, now)
	if err != nil {
		r.logger.Error().Err(err).Msg("refresher: refresh grants failed")
		return
	}
	r.logger.Info().Int("cnt", cnt).Msg("refresher: refreshed grants")
}

func midnightOf(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

// untilNextMidnight is never zero, so back-to-back refreshes cannot happen
// even when called exactly at midnight.
func untilNextMidnight(now time.Time) time.Duration {
	next := midnightOf(now).AddDate(0, 0, 1)
	delay := next.Sub(now)
	if delay <= 0 {
		delay = 24 * time.Hour
	}
	return delay
}
