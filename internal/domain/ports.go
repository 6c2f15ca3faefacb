package domain

import (
	"context"
	"time"
)

// Ledger mutates credit grants. Every mutation runs in its own durable
// transaction; concurrent deductions against one grant never drive Remains
// below zero.
type Ledger interface {
	// CurrentGrant selects the single active grant to charge for uid,
	// preferring paid over trial. ErrNoActiveGrant when none is usable.
	CurrentGrant(ctx context.Context, uid int64) (*CreditGrant, error)

	// Refund returns amount to uid's active grant. Callers are responsible
	// for invoking it at most once per job.
	Refund(ctx context.Context, uid int64, amount int) error

	// RefreshAll resets Remains to Init on every live grant and marks
	// lapsed grants expired. Returns the number of grants touched.
	RefreshAll(ctx context.Context, now time.Time) (int, error)
}

// Admitter performs the admission write: deduct the job's cost from the
// grant and persist the job with state waiting, as one atomic step.
// ErrInsufficientCredit when the grant no longer covers the cost.
type Admitter interface {
	Admit(ctx context.Context, grant *CreditGrant, job *Job) error
}

// JobStore is the durable record of every job. Rows are never deleted.
type JobStore interface {
	// Claim transitions waiting -> in_progress and returns the claimed
	// job. If the job is no longer waiting it returns the current row
	// together with ErrAlreadyClaimed, which makes dispatch idempotent
	// against queue redelivery.
	Claim(ctx context.Context, token string) (*Job, error)

	// Complete / Fail transition in_progress to down / failed and store
	// the response payload.
	Complete(ctx context.Context, token string, response []byte) error
	Fail(ctx context.Context, token string, response []byte) error

	// Cancel transitions waiting -> canceled. ErrAlreadyInProgress once a
	// worker has claimed the job, ErrAlreadyComplete on terminal jobs.
	Cancel(ctx context.Context, token string, response []byte) error

	Get(ctx context.Context, token string) (*Job, error)

	// ListWaitingBefore returns waiting jobs created before cutoff in
	// submission order, for the requeue sweeper.
	ListWaitingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Job, error)
}

// Queue carries new-job notifications with at-least-once delivery.
type Queue interface {
	Enqueue(ctx context.Context, msg QueueMessage) error

	// Receive blocks up to the backend's block interval and returns the
	// next message, or (nil, nil) when none arrived in time.
	Receive(ctx context.Context) (*QueueMessage, error)

	// Ack marks a delivery as processed on backends that track pending
	// deliveries; a no-op otherwise.
	Ack(ctx context.Context, msg *QueueMessage) error
}
