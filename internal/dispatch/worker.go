// Package dispatch consumes queued inference jobs, invokes the external
// inference endpoints with bounded concurrency, and settles each job:
// response stored and state down on success, failure response stored plus a
// credit refund otherwise.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iepose/aigcd/internal/domain"
	"github.com/iepose/aigcd/internal/notify"
	"github.com/iepose/aigcd/internal/upstream"
)

const receiveRetryDelay = time.Second

// Invoker posts an inference request to its endpoint.
type Invoker interface {
	Invoke(ctx context.Context, url string, request []byte) (*upstream.Result, error)
}

// Worker pulls queue messages and drives jobs to a terminal state. Claiming
// happens on the consume loop before a concurrency slot is acquired, so
// in_progress is observable as soon as a job is picked up and slot admission
// stays FIFO; the upstream call itself runs without any lock held.
type Worker struct {
	queue    domain.Queue
	jobs     domain.JobStore
	ledger   domain.Ledger
	notifier *notify.Notifier
	invoker  Invoker
	logger   zerolog.Logger

	slots    chan struct{}
	watchdog time.Duration
	wg       sync.WaitGroup
}

// NewWorker creates a dispatch worker with the given in-flight limit and
// per-job watchdog timeout.
func NewWorker(
	queue domain.Queue,
	jobs domain.JobStore,
	ledger domain.Ledger,
	notifier *notify.Notifier,
	invoker Invoker,
	concurrency int,
	watchdog time.Duration,
	logger zerolog.Logger,
) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		queue:    queue,
		jobs:     jobs,
		ledger:   ledger,
		notifier: notifier,
		invoker:  invoker,
		logger:   logger,
		slots:    make(chan struct{}, concurrency),
		watchdog: watchdog,
	}
}

// Run consumes the queue until ctx is canceled, then waits for in-flight
// jobs to settle. A single job's failure never stops the loop; only the
// context ends it.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Int("concurrency", cap(w.slots)).Msg("dispatch: started")

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			w.logger.Info().Msg("dispatch: stopped")
			return ctx.Err()
		default:
		}

		msg, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error().Err(err).Msg("dispatch: receive failed")
			time.Sleep(receiveRetryDelay)
			continue
		}
		if msg == nil {
			continue
		}
		w.handle(ctx, msg)
	}
}

func (w *Worker) handle(ctx context.Context, msg *domain.QueueMessage) {
	job, err := w.jobs.Claim(ctx, msg.Token)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAlreadyClaimed):
			// Redelivery, or the user canceled first. Either way the
			// row is settled or being settled elsewhere.
			w.logger.Debug().Str("tid", msg.Token).Str("state", string(job.State)).
				Msg("dispatch: skip non-waiting job")
			w.ack(msg)
		case errors.Is(err, domain.ErrNotFound):
			w.logger.Warn().Str("tid", msg.Token).Msg("dispatch: message for unknown job")
			w.ack(msg)
		default:
			// Leave the message pending; the store may recover.
			w.logger.Error().Err(err).Str("tid", msg.Token).Msg("dispatch: claim failed")
		}
		return
	}

	// FIFO admission into the in-flight set: the loop blocks here until a
	// slot frees up, so later messages cannot overtake this job.
	select {
	case w.slots <- struct{}{}:
	case <-ctx.Done():
		w.settleFailure(job, fmt.Sprintf("inference error, dispatcher shutdown before job %s started", job.Token))
		w.ack(msg)
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.slots }()
		w.process(ctx, msg, job)
	}()
}

func (w *Worker) process(ctx context.Context, msg *domain.QueueMessage, job *domain.Job) {
	w.logger.Info().Str("tid", job.Token).Int64("uid", job.UID).
		Str("type", string(job.Type)).Msg("dispatch: job in progress")

	callCtx, cancel := context.WithTimeout(ctx, w.watchdog)
	defer cancel()

	result, err := w.invoker.Invoke(callCtx, job.URL, job.Request)
	switch {
	case err != nil:
		reason := fmt.Sprintf("inference error, %v", err)
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			reason = fmt.Sprintf("inference timeout after %s", w.watchdog)
		}
		w.settleFailure(job, reason)

	case result.Code != upstream.CodeOK:
		w.logger.Error().Str("tid", job.Token).Int("code", result.Code).
			Str("msg", result.Msg).Msg("dispatch: inference rejected by server")
		w.fail(job, result.Raw)

	default:
		if err := w.jobs.Complete(context.Background(), job.Token, result.Raw); err != nil {
			w.logger.Error().Err(err).Str("tid", job.Token).Msg("dispatch: complete failed")
		} else {
			w.logger.Info().Str("tid", job.Token).Msg("dispatch: inference complete")
			w.notifier.Publish(context.Background(), job.Token, job.UID, domain.StateDown)
		}
	}

	w.ack(msg)
}

// settleFailure records a failure generated on this side of the call.
func (w *Worker) settleFailure(job *domain.Job, reason string) {
	w.logger.Error().Str("tid", job.Token).Str("reason", reason).Msg("dispatch: inference failed")
	w.fail(job, upstream.ErrorBody(upstream.CodeDispatchError, reason))
}

// fail marks the job failed, refunds its cost and wakes waiters. Settlement
// runs on a background context so shutdown cannot strand a deducted charge.
func (w *Worker) fail(job *domain.Job, response []byte) {
	ctx := context.Background()

	if err := w.jobs.Fail(ctx, job.Token, response); err != nil {
		w.logger.Error().Err(err).Str("tid", job.Token).Msg("dispatch: fail transition failed")
		return
	}
	if err := w.ledger.Refund(ctx, job.UID, job.Cost); err != nil {
		w.logger.Error().Err(err).Str("tid", job.Token).Int64("uid", job.UID).
			Int("point", job.Cost).Msg("dispatch: refund failed")
	} else {
		w.logger.Info().Str("tid", job.Token).Int("point", job.Cost).
			Msg("dispatch: recharged point for failed inference")
	}
	w.notifier.Publish(ctx, job.Token, job.UID, domain.StateFailed)
}

func (w *Worker) ack(msg *domain.QueueMessage) {
	if err := w.queue.Ack(context.Background(), msg); err != nil {
		w.logger.Warn().Err(err).Str("tid", msg.Token).Msg("dispatch: ack failed")
	}
}
