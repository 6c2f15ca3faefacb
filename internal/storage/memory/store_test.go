package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iepose/aigcd/internal/domain"
)

func newGrant(t *testing.T, s *Store, uid int64, kind domain.GrantKind, points int) *domain.CreditGrant {
	t.Helper()
	grant := &domain.CreditGrant{UID: uid, Kind: kind, Init: points, Remains: points}
	if err := s.CreateGrant(context.Background(), grant); err != nil {
		t.Fatalf("CreateGrant: %v", err)
	}
	return grant
}

func admitJob(t *testing.T, s *Store, grant *domain.CreditGrant, cost int) *domain.Job {
	t.Helper()
	job := &domain.Job{
		UID:     grant.UID,
		Token:   domain.NewToken(),
		Type:    domain.JobTypeReplaceWithAny,
		Cost:    cost,
		URL:     "http://infer.local/replace_with_any",
		Request: []byte(`{"init_image":"zzz"}`),
	}
	if err := s.Admit(context.Background(), grant, job); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	return job
}

func TestCurrentGrantPrefersPaid(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	newGrant(t, s, 7, domain.GrantTrial, 10)
	paid := newGrant(t, s, 7, domain.GrantPaid, 100)

	got, err := s.CurrentGrant(ctx, 7)
	if err != nil {
		t.Fatalf("CurrentGrant: %v", err)
	}
	if got.ID != paid.ID {
		t.Fatalf("CurrentGrant picked grant %d, want paid grant %d", got.ID, paid.ID)
	}
}

func TestCurrentGrantSkipsExpired(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	grant := &domain.CreditGrant{UID: 7, Kind: domain.GrantPaid, Init: 100, Remains: 100, ExpiresAt: &past}
	if err := s.CreateGrant(ctx, grant); err != nil {
		t.Fatalf("CreateGrant: %v", err)
	}

	if _, err := s.CurrentGrant(ctx, 7); !errors.Is(err, domain.ErrNoActiveGrant) {
		t.Fatalf("CurrentGrant error = %v, want ErrNoActiveGrant", err)
	}
}

func TestAdmitDeductsAndPersists(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	grant := newGrant(t, s, 1, domain.GrantTrial, 10)
	job := admitJob(t, s, grant, 3)

	got, err := s.CurrentGrant(ctx, 1)
	if err != nil {
		t.Fatalf("CurrentGrant: %v", err)
	}
	if got.Remains != 7 {
		t.Fatalf("Remains = %d, want 7", got.Remains)
	}

	stored, err := s.Get(ctx, job.Token)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.State != domain.StateWaiting {
		t.Fatalf("State = %s, want waiting", stored.State)
	}
}

func TestAdmitInsufficientCreditHasNoSideEffects(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	grant := newGrant(t, s, 1, domain.GrantTrial, 5)
	job := &domain.Job{UID: 1, Token: domain.NewToken(), Type: domain.JobTypeImageToVideo, Cost: 6}

	if err := s.Admit(ctx, grant, job); !errors.Is(err, domain.ErrInsufficientCredit) {
		t.Fatalf("Admit error = %v, want ErrInsufficientCredit", err)
	}

	got, err := s.CurrentGrant(ctx, 1)
	if err != nil {
		t.Fatalf("CurrentGrant: %v", err)
	}
	if got.Remains != 5 {
		t.Fatalf("Remains = %d, want 5 untouched", got.Remains)
	}
	if _, err := s.Get(ctx, job.Token); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get error = %v, want ErrNotFound", err)
	}
}

func TestClaimIsIdempotent(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	grant := newGrant(t, s, 1, domain.GrantTrial, 10)
	job := admitJob(t, s, grant, 1)

	claimed, err := s.Claim(ctx, job.Token)
	if err != nil {
		t.Fatalf("first Claim: %v", err)
	}
	if claimed.State != domain.StateInProgress {
		t.Fatalf("State = %s, want in_progress", claimed.State)
	}

	again, err := s.Claim(ctx, job.Token)
	if !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("second Claim error = %v, want ErrAlreadyClaimed", err)
	}
	if again.State != domain.StateInProgress {
		t.Fatalf("second Claim state = %s, want in_progress", again.State)
	}
}

func TestCancelConflicts(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	grant := newGrant(t, s, 1, domain.GrantTrial, 10)

	t.Run("waiting job cancels", func(t *testing.T) {
		job := admitJob(t, s, grant, 1)
		if err := s.Cancel(ctx, job.Token, []byte(`{"code":20}`)); err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		got, _ := s.Get(ctx, job.Token)
		if got.State != domain.StateCanceled {
			t.Fatalf("State = %s, want canceled", got.State)
		}
	})

	t.Run("claimed job rejects cancel", func(t *testing.T) {
		job := admitJob(t, s, grant, 1)
		if _, err := s.Claim(ctx, job.Token); err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if err := s.Cancel(ctx, job.Token, nil); !errors.Is(err, domain.ErrAlreadyInProgress) {
			t.Fatalf("Cancel error = %v, want ErrAlreadyInProgress", err)
		}
	})

	t.Run("terminal job rejects cancel", func(t *testing.T) {
		job := admitJob(t, s, grant, 1)
		if _, err := s.Claim(ctx, job.Token); err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if err := s.Complete(ctx, job.Token, []byte(`{"code":0}`)); err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if err := s.Cancel(ctx, job.Token, nil); !errors.Is(err, domain.ErrAlreadyComplete) {
			t.Fatalf("Cancel error = %v, want ErrAlreadyComplete", err)
		}
	})
}

func TestCancelClaimRaceHasOneWinner(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	grant := newGrant(t, s, 1, domain.GrantTrial, 1000)

	for i := 0; i < 100; i++ {
		job := admitJob(t, s, grant, 1)

		var (
			wg        sync.WaitGroup
			claimErr  error
			cancelErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, claimErr = s.Claim(ctx, job.Token)
		}()
		go func() {
			defer wg.Done()
			cancelErr = s.Cancel(ctx, job.Token, nil)
		}()
		wg.Wait()

		claimWon := claimErr == nil
		cancelWon := cancelErr == nil
		if claimWon == cancelWon {
			t.Fatalf("iteration %d: claimErr=%v cancelErr=%v, want exactly one winner", i, claimErr, cancelErr)
		}
		if !cancelWon && !errors.Is(cancelErr, domain.ErrAlreadyInProgress) {
			t.Fatalf("iteration %d: losing cancel error = %v, want ErrAlreadyInProgress", i, cancelErr)
		}
		if !claimWon && !errors.Is(claimErr, domain.ErrAlreadyClaimed) {
			t.Fatalf("iteration %d: losing claim error = %v, want ErrAlreadyClaimed", i, claimErr)
		}
	}
}

func TestSettleRequiresInProgress(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	grant := newGrant(t, s, 1, domain.GrantTrial, 10)
	job := admitJob(t, s, grant, 1)

	if err := s.Complete(ctx, job.Token, nil); !errors.Is(err, domain.ErrAlreadyComplete) {
		t.Fatalf("Complete on waiting job error = %v, want ErrAlreadyComplete", err)
	}
	if _, err := s.Claim(ctx, job.Token); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := s.Fail(ctx, job.Token, []byte(`{"code":1}`)); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if err := s.Fail(ctx, job.Token, nil); !errors.Is(err, domain.ErrAlreadyComplete) {
		t.Fatalf("second Fail error = %v, want ErrAlreadyComplete", err)
	}
}

func TestRefreshAllResetsAndExpires(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	live := newGrant(t, s, 1, domain.GrantTrial, 10)
	admitJob(t, s, live, 4)

	past := time.Now().Add(-time.Minute)
	lapsed := &domain.CreditGrant{UID: 2, Kind: domain.GrantPaid, Init: 50, Remains: 50, ExpiresAt: &past}
	if err := s.CreateGrant(ctx, lapsed); err != nil {
		t.Fatalf("CreateGrant: %v", err)
	}

	cnt, err := s.RefreshAll(ctx, time.Now())
	if err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	if cnt != 2 {
		t.Fatalf("RefreshAll touched %d grants, want 2", cnt)
	}

	got, err := s.CurrentGrant(ctx, live.UID)
	if err != nil {
		t.Fatalf("CurrentGrant: %v", err)
	}
	if got.Remains != got.Init {
		t.Fatalf("Remains = %d, want reset to %d", got.Remains, got.Init)
	}
	if _, err := s.CurrentGrant(ctx, 2); !errors.Is(err, domain.ErrNoActiveGrant) {
		t.Fatalf("lapsed grant still active: %v", err)
	}
}

func TestListWaitingBeforeOrdersBySubmission(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	grant := newGrant(t, s, 1, domain.GrantTrial, 100)

	first := admitJob(t, s, grant, 1)
	time.Sleep(2 * time.Millisecond)
	second := admitJob(t, s, grant, 1)
	time.Sleep(2 * time.Millisecond)
	claimed := admitJob(t, s, grant, 1)
	if _, err := s.Claim(ctx, claimed.Token); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	jobs, err := s.ListWaitingBefore(ctx, time.Now().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("ListWaitingBefore: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("got %d waiting jobs, want 2", len(jobs))
	}
	if jobs[0].Token != first.Token || jobs[1].Token != second.Token {
		t.Fatalf("order = %s,%s want %s,%s", jobs[0].Token, jobs[1].Token, first.Token, second.Token)
	}
}
