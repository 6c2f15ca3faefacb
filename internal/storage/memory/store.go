// Package memory keeps jobs and credit grants in process memory behind a
// mutex. It mirrors the postgres backend's semantics exactly and backs tests
// and single-process deployments; queued admissions do not survive a crash.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iepose/aigcd/internal/domain"
)

// Store implements domain.Ledger, domain.Admitter and domain.JobStore.
type Store struct {
	mu          sync.Mutex
	jobs        map[string]*domain.Job
	grants      []*domain.CreditGrant
	nextJobID   int64
	nextGrantID int64
	lastRefresh time.Time
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{jobs: make(map[string]*domain.Job)}
}

var (
	_ domain.Ledger   = (*Store)(nil)
	_ domain.Admitter = (*Store)(nil)
	_ domain.JobStore = (*Store)(nil)
)

// CreateGrant registers a grant, assigning it an id.
func (s *Store) CreateGrant(_ context.Context, grant *domain.CreditGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextGrantID++
	grant.ID = s.nextGrantID
	now := time.Now()
	grant.CTime = now
	grant.UTime = now

	stored := *grant
	s.grants = append(s.grants, &stored)
	return nil
}

// CurrentGrant returns the active grant for uid, paid preferred over trial.
func (s *Store) CurrentGrant(_ context.Context, uid int64) (*domain.CreditGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	grant := s.activeGrantLocked(uid, time.Now())
	if grant == nil {
		return nil, domain.ErrNoActiveGrant
	}
	copied := *grant
	return &copied, nil
}

func (s *Store) activeGrantLocked(uid int64, now time.Time) *domain.CreditGrant {
	var best *domain.CreditGrant
	for _, g := range s.grants {
		if g.UID != uid || !g.Usable(now) {
			continue
		}
		if best == nil {
			best = g
			continue
		}
		if g.Kind == domain.GrantPaid && best.Kind != domain.GrantPaid {
			best = g
		} else if g.Kind == best.Kind && g.CTime.After(best.CTime) {
			best = g
		}
	}
	return best
}

// Admit deducts the job's cost and records the job atomically.
func (s *Store) Admit(_ context.Context, grant *domain.CreditGrant, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target *domain.CreditGrant
	for _, g := range s.grants {
		if g.ID == grant.ID {
			target = g
			break
		}
	}
	if target == nil || !target.Usable(time.Now()) {
		return domain.ErrInsufficientCredit
	}
	if target.Remains < job.Cost {
		return domain.ErrInsufficientCredit
	}

	now := time.Now()
	target.Remains -= job.Cost
	target.UTime = now

	s.nextJobID++
	job.ID = s.nextJobID
	job.State = domain.StateWaiting
	job.CTime = now
	job.UTime = now

	stored := *job
	stored.Request = append([]byte(nil), job.Request...)
	s.jobs[job.Token] = &stored
	return nil
}

// Refund returns amount to uid's active grant.
func (s *Store) Refund(_ context.Context, uid int64, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	grant := s.activeGrantLocked(uid, time.Now())
	if grant == nil {
		return domain.ErrNoActiveGrant
	}
	grant.Remains += amount
	grant.UTime = time.Now()
	return nil
}

// RefreshAll expires lapsed grants and resets remains on live ones.
func (s *Store) RefreshAll(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	touched := 0
	for _, g := range s.grants {
		if g.Expired {
			continue
		}
		if g.ExpiresAt != nil && g.ExpiresAt.Before(now) {
			g.Expired = true
		} else {
			g.Remains = g.Init
		}
		g.UTime = now
		touched++
	}
	s.lastRefresh = now
	return touched, nil
}

// LastRefresh returns when RefreshAll last ran, or the zero time.
func (s *Store) LastRefresh(_ context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRefresh, nil
}

// Claim transitions waiting -> in_progress.
func (s *Store) Claim(_ context.Context, token string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[token]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if job.State != domain.StateWaiting {
		copied := *job
		return &copied, domain.ErrAlreadyClaimed
	}
	job.State = domain.StateInProgress
	job.UTime = time.Now()
	copied := *job
	return &copied, nil
}

// Complete transitions in_progress -> down.
func (s *Store) Complete(ctx context.Context, token string, response []byte) error {
	return s.settle(ctx, token, domain.StateDown, response)
}

// Fail transitions in_progress -> failed.
func (s *Store) Fail(ctx context.Context, token string, response []byte) error {
	return s.settle(ctx, token, domain.StateFailed, response)
}

func (s *Store) settle(_ context.Context, token string, state domain.JobState, response []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[token]
	if !ok {
		return domain.ErrNotFound
	}
	if job.State != domain.StateInProgress {
		return domain.ErrAlreadyComplete
	}
	job.State = state
	job.Response = append([]byte(nil), response...)
	job.UTime = time.Now()
	return nil
}

// Cancel transitions waiting -> canceled.
func (s *Store) Cancel(_ context.Context, token string, response []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[token]
	if !ok {
		return domain.ErrNotFound
	}
	switch job.State {
	case domain.StateWaiting:
	case domain.StateInProgress:
		return domain.ErrAlreadyInProgress
	default:
		return domain.ErrAlreadyComplete
	}
	job.State = domain.StateCanceled
	job.Response = append([]byte(nil), response...)
	job.UTime = time.Now()
	return nil
}

// Get fetches a job by token.
func (s *Store) Get(_ context.Context, token string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[token]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *job
	copied.Request = append([]byte(nil), job.Request...)
	copied.Response = append([]byte(nil), job.Response...)
	return &copied, nil
}

// ListWaitingBefore returns waiting jobs created before cutoff in submission
// order.
func (s *Store) ListWaitingBefore(_ context.Context, cutoff time.Time, limit int) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []*domain.Job
	for _, job := range s.jobs {
		if job.State == domain.StateWaiting && job.CTime.Before(cutoff) {
			copied := *job
			jobs = append(jobs, &copied)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CTime.Before(jobs[j].CTime) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}
