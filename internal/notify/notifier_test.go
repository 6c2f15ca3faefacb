package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/iepose/aigcd/internal/domain"
	"github.com/iepose/aigcd/internal/storage/memory"
)

func setupJob(t *testing.T, store *memory.Store) *domain.Job {
	t.Helper()
	ctx := context.Background()
	grant := &domain.CreditGrant{UID: 1, Kind: domain.GrantTrial, Init: 10, Remains: 10}
	if err := store.CreateGrant(ctx, grant); err != nil {
		t.Fatalf("CreateGrant: %v", err)
	}
	job := &domain.Job{UID: 1, Token: domain.NewToken(), Type: domain.JobTypeReplaceWithAny, Cost: 1}
	if err := store.Admit(ctx, grant, job); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	return job
}

func TestWaitReturnsImmediatelyWhenTerminal(t *testing.T) {
	store := memory.NewStore()
	n := New(store, nil, "", zerolog.Nop())
	ctx := context.Background()

	job := setupJob(t, store)
	if _, err := store.Claim(ctx, job.Token); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := store.Complete(ctx, job.Token, []byte(`{"code":0}`)); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	start := time.Now()
	state, err := n.Wait(ctx, job.Token, 5*time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if state != domain.StateDown {
		t.Fatalf("state = %s, want down", state)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Wait on terminal job took %s, want immediate", elapsed)
	}
}

func TestWaitTimesOutOnWaitingJob(t *testing.T) {
	store := memory.NewStore()
	n := New(store, nil, "", zerolog.Nop())
	job := setupJob(t, store)

	timeout := 100 * time.Millisecond
	start := time.Now()
	state, err := n.Wait(context.Background(), job.Token, timeout)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if state.Terminal() {
		t.Fatalf("state = %s, want non-terminal", state)
	}
	if elapsed := time.Since(start); elapsed < timeout {
		t.Fatalf("Wait returned after %s, want at least %s", elapsed, timeout)
	}
}

func TestWaitWakesOnPublish(t *testing.T) {
	store := memory.NewStore()
	n := New(store, nil, "", zerolog.Nop())
	ctx := context.Background()
	job := setupJob(t, store)

	type result struct {
		state domain.JobState
		err   error
	}
	got := make(chan result, 1)
	go func() {
		state, err := n.Wait(ctx, job.Token, 5*time.Second)
		got <- result{state, err}
	}()

	// Settle the job while the waiter blocks.
	time.Sleep(20 * time.Millisecond)
	if _, err := store.Claim(ctx, job.Token); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := store.Fail(ctx, job.Token, []byte(`{"code":1}`)); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	n.Publish(ctx, job.Token, job.UID, domain.StateFailed)

	select {
	case res := <-got:
		if res.err != nil {
			t.Fatalf("Wait: %v", res.err)
		}
		if res.state != domain.StateFailed {
			t.Fatalf("state = %s, want failed", res.state)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not woken within 1s of publish")
	}
}

func TestWaitSurvivesPublishBeforeRegistration(t *testing.T) {
	store := memory.NewStore()
	n := New(store, nil, "", zerolog.Nop())
	ctx := context.Background()
	job := setupJob(t, store)

	// Publish with no waiter registered, then settle: Wait must still see
	// the terminal state through its store re-read.
	if _, err := store.Claim(ctx, job.Token); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := store.Complete(ctx, job.Token, []byte(`{"code":0}`)); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	n.Publish(ctx, job.Token, job.UID, domain.StateDown)

	state, err := n.Wait(ctx, job.Token, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if state != domain.StateDown {
		t.Fatalf("state = %s, want down", state)
	}
}

func TestWaitUnknownToken(t *testing.T) {
	store := memory.NewStore()
	n := New(store, nil, "", zerolog.Nop())

	if _, err := n.Wait(context.Background(), "deadbeef", time.Second); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Wait error = %v, want ErrNotFound", err)
	}
}
