package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/iepose/aigcd/internal/domain"
)

const jobColumns = `id, uid, tid, type, point, url, state, request, response, ctime, utime`

// Admit deducts the job's cost from the grant and inserts the job row in one
// transaction, so a crash can never leave a charge without a recoverable job.
// The guarded update loses to a concurrent deduction that drained the grant
// and reports domain.ErrInsufficientCredit in that case.
func (s *Store) Admit(ctx context.Context, grant *domain.CreditGrant, job *domain.Job) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin admission: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
UPDATE magic_point_grant
SET remains = remains - $2, utime = now()
WHERE id = $1 AND expired = FALSE AND remains >= $2;
`, grant.ID, job.Cost)
	if err != nil {
		return fmt.Errorf("deduct grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientCredit
	}

	err = tx.QueryRow(ctx, `
INSERT INTO inference_log (uid, tid, type, point, url, state, request, response, ctime, utime)
VALUES ($1, $2, $3, $4, $5, $6, $7, '', now(), now())
RETURNING id, ctime, utime;
`, job.UID, job.Token, job.Type, job.Cost, job.URL, domain.StateWaiting, string(job.Request),
	).Scan(&job.ID, &job.CTime, &job.UTime)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	job.State = domain.StateWaiting

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit admission: %w", err)
	}
	return nil
}

// Claim transitions waiting -> in_progress with a compare-and-swap update,
// so a redelivered queue message claims nothing the second time.
func (s *Store) Claim(ctx context.Context, token string) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx, `
UPDATE inference_log
SET state = $2, utime = now()
WHERE tid = $1 AND state = $3
RETURNING `+jobColumns+`;
`, token, domain.StateInProgress, domain.StateWaiting)

	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	// Lost the swap: report the current row so the caller can tell
	// redelivery apart from an unknown token.
	current, err := s.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	return current, domain.ErrAlreadyClaimed
}

// Complete transitions in_progress -> down and stores the response.
func (s *Store) Complete(ctx context.Context, token string, response []byte) error {
	return s.settle(ctx, token, domain.StateDown, response)
}

// Fail transitions in_progress -> failed and stores the failure response.
func (s *Store) Fail(ctx context.Context, token string, response []byte) error {
	return s.settle(ctx, token, domain.StateFailed, response)
}

func (s *Store) settle(ctx context.Context, token string, state domain.JobState, response []byte) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE inference_log
SET state = $2, response = $3, utime = now()
WHERE tid = $1 AND state = $4;
`, token, state, string(response), domain.StateInProgress)
	if err != nil {
		return fmt.Errorf("settle job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, token); err != nil {
			return err
		}
		return domain.ErrAlreadyComplete
	}
	return nil
}

// Cancel transitions waiting -> canceled. Once a worker has claimed the job
// the cancel loses with ErrAlreadyInProgress; terminal jobs report
// ErrAlreadyComplete.
func (s *Store) Cancel(ctx context.Context, token string, response []byte) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE inference_log
SET state = $2, response = $3, utime = now()
WHERE tid = $1 AND state = $4;
`, token, domain.StateCanceled, string(response), domain.StateWaiting)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	current, err := s.Get(ctx, token)
	if err != nil {
		return err
	}
	if current.State == domain.StateInProgress {
		return domain.ErrAlreadyInProgress
	}
	return domain.ErrAlreadyComplete
}

// Get fetches a job by token.
func (s *Store) Get(ctx context.Context, token string) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM inference_log WHERE tid = $1;`, token)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// ListWaitingBefore returns waiting jobs created before cutoff in submission
// order, for the requeue sweeper.
func (s *Store) ListWaitingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Job, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+jobColumns+`
FROM inference_log
WHERE state = $1 AND ctime < $2
ORDER BY ctime ASC
LIMIT $3;
`, domain.StateWaiting, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list waiting jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan waiting job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list waiting jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		j        domain.Job
		request  string
		response string
	)
	if err := row.Scan(
		&j.ID,
		&j.UID,
		&j.Token,
		&j.Type,
		&j.Cost,
		&j.URL,
		&j.State,
		&request,
		&response,
		&j.CTime,
		&j.UTime,
	); err != nil {
		return nil, err
	}
	j.Request = []byte(request)
	j.Response = []byte(response)
	return &j, nil
}
