package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/iepose/aigcd/internal/domain"
)

const sweepBatch = 100

// Sweeper re-enqueues waiting jobs whose queue message never made it: the
// gateway treats an enqueue failure as retryable because the job row and
// the charge already exist. Re-enqueueing a job whose message is merely
// slow is harmless, since claiming is idempotent.
type Sweeper struct {
	jobs   domain.JobStore
	queue  domain.Queue
	every  time.Duration
	age    time.Duration
	logger zerolog.Logger
}

// NewSweeper creates a sweeper that runs every interval and requeues
// waiting jobs older than age.
func NewSweeper(jobs domain.JobStore, queue domain.Queue, every, age time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{jobs: jobs, queue: queue, every: every, age: age, logger: logger}
}

// Run sweeps until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.age)
	jobs, err := s.jobs.ListWaitingBefore(ctx, cutoff, sweepBatch)
	if err != nil {
		s.logger.Error().Err(err).Msg("sweeper: list waiting jobs failed")
		return
	}

	for _, job := range jobs {
		msg := domain.QueueMessage{Token: job.Token, UID: job.UID, URL: job.URL}
		if err := s.queue.Enqueue(ctx, msg); err != nil {
			s.logger.Error().Err(err).Str("tid", job.Token).Msg("sweeper: requeue failed")
			continue
		}
		s.logger.Info().Str("tid", job.Token).
			Time("ctime", job.CTime).Msg("sweeper: requeued stale waiting job")
	}
}
