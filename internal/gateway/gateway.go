// Package gateway is the client-facing side of the inference subsystem:
// admission (quota check, deduct, persist, enqueue) plus the poll,
// long-poll and cancel operations.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iepose/aigcd/internal/domain"
	"github.com/iepose/aigcd/internal/notify"
	"github.com/iepose/aigcd/internal/upstream"
)

// Gateway validates and admits inference submissions and serves job queries.
type Gateway struct {
	ledger   domain.Ledger
	admitter domain.Admitter
	jobs     domain.JobStore
	queue    domain.Queue
	notifier *notify.Notifier
	registry Registry
	logger   zerolog.Logger
}

// New assembles the gateway.
func New(
	ledger domain.Ledger,
	admitter domain.Admitter,
	jobs domain.JobStore,
	queue domain.Queue,
	notifier *notify.Notifier,
	registry Registry,
	logger zerolog.Logger,
) *Gateway {
	return &Gateway{
		ledger:   ledger,
		admitter: admitter,
		jobs:     jobs,
		queue:    queue,
		notifier: notifier,
		registry: registry,
		logger:   logger,
	}
}

// Submit admits one inference request: resolve the target, check and deduct
// credit, persist the job and enqueue it. The deduction and the job insert
// commit together; a failed enqueue is deliberately not an error, because
// the job row already exists and the sweeper re-enqueues it.
func (g *Gateway) Submit(ctx context.Context, uid int64, jobType domain.JobType, request []byte) (*domain.Job, error) {
	target, ok := g.registry[jobType]
	if !ok {
		return nil, domain.ErrUnknownJobType
	}

	grant, err := g.ledger.CurrentGrant(ctx, uid)
	if err != nil {
		return nil, err
	}
	if grant.Remains < target.Cost {
		return nil, domain.ErrInsufficientCredit
	}

	job := &domain.Job{
		UID:     uid,
		Token:   domain.NewToken(),
		Type:    jobType,
		Cost:    target.Cost,
		URL:     target.URL,
		Request: request,
	}
	if err := g.admitter.Admit(ctx, grant, job); err != nil {
		return nil, err
	}

	msg := domain.QueueMessage{Token: job.Token, UID: job.UID, URL: job.URL}
	if err := g.queue.Enqueue(ctx, msg); err != nil {
		g.logger.Warn().Err(err).Str("tid", job.Token).
			Msg("gateway: enqueue failed, sweeper will requeue")
	} else {
		g.logger.Info().Str("tid", job.Token).Int64("uid", uid).
			Str("type", string(jobType)).Int("point", job.Cost).
			Msg("gateway: new inference")
	}
	return job, nil
}

// State returns the job's current state. Jobs are only visible to their
// owner; anyone else sees ErrNotFound.
func (g *Gateway) State(ctx context.Context, uid int64, token string) (domain.JobState, error) {
	job, err := g.get(ctx, uid, token)
	if err != nil {
		return "", err
	}
	return job.State, nil
}

// Result returns the job with its response payload. While the job is not
// yet terminal it reports ErrStillWorking.
func (g *Gateway) Result(ctx context.Context, uid int64, token string) (*domain.Job, error) {
	job, err := g.get(ctx, uid, token)
	if err != nil {
		return nil, err
	}
	if !job.State.Terminal() {
		return job, domain.ErrStillWorking
	}
	return job, nil
}

// Wait long-polls for the job to reach a terminal state, up to timeout. On
// timeout it returns the job as-is together with ErrStillWorking.
func (g *Gateway) Wait(ctx context.Context, uid int64, token string, timeout time.Duration) (*domain.Job, error) {
	if _, err := g.get(ctx, uid, token); err != nil {
		return nil, err
	}

	if _, err := g.notifier.Wait(ctx, token, timeout); err != nil {
		return nil, err
	}

	job, err := g.get(ctx, uid, token)
	if err != nil {
		return nil, err
	}
	if !job.State.Terminal() {
		return job, domain.ErrStillWorking
	}
	return job, nil
}

// Cancel cancels a still-waiting job, refunds its cost and notifies
// waiters. A cancel racing a dispatcher claim may lose; the loser observes
// ErrAlreadyInProgress.
func (g *Gateway) Cancel(ctx context.Context, uid int64, token string) error {
	job, err := g.get(ctx, uid, token)
	if err != nil {
		return err
	}

	body := upstream.ErrorBody(upstream.CodeCanceled, "inference has been canceled")
	if err := g.jobs.Cancel(ctx, token, body); err != nil {
		return err
	}

	if err := g.ledger.Refund(ctx, uid, job.Cost); err != nil {
		// The job is canceled either way; surface the ledger problem
		// instead of hiding a lost refund.
		g.logger.Error().Err(err).Str("tid", token).Int64("uid", uid).
			Int("point", job.Cost).Msg("gateway: refund after cancel failed")
		return fmt.Errorf("refund canceled job %s: %w", token, err)
	}

	g.logger.Info().Str("tid", token).Int64("uid", uid).Msg("gateway: inference canceled")
	g.notifier.Publish(ctx, token, uid, domain.StateCanceled)
	return nil
}

func (g *Gateway) get(ctx context.Context, uid int64, token string) (*domain.Job, error) {
	job, err := g.jobs.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if job.UID != uid {
		return nil, domain.ErrNotFound
	}
	return job, nil
}
