// Package notify wakes long-poll callers when a job reaches a terminal
// state. Local waiters block on per-token channels; a Redis Pub/Sub channel
// fans the same updates out to other processes, so a client long-polling one
// API replica still wakes when a dispatcher elsewhere settles its job.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iepose/aigcd/internal/domain"
)

// StateUpdate is the wire form of a job state change on the pub/sub channel.
type StateUpdate struct {
	Tid   string          `json:"tid"`
	UID   int64           `json:"uid"`
	State domain.JobState `json:"state"`
}

// Notifier implements wait/publish over a job store. The Redis client is
// optional: with a nil client the notifier only wakes waiters in-process.
type Notifier struct {
	jobs    domain.JobStore
	client  *redis.Client
	channel string
	logger  zerolog.Logger

	mu      sync.Mutex
	waiters map[string][]chan domain.JobState
}

// New creates a notifier. client may be nil for single-process deployments.
func New(jobs domain.JobStore, client *redis.Client, channel string, logger zerolog.Logger) *Notifier {
	return &Notifier{
		jobs:    jobs,
		client:  client,
		channel: channel,
		logger:  logger,
		waiters: make(map[string][]chan domain.JobState),
	}
}

// Wait blocks until the job reaches a terminal state or timeout elapses,
// then returns the job's current state. Callers distinguish completion from
// a still-running job with JobState.Terminal. The store is re-read after
// registration and again after waking, so a publish racing the registration
// is never missed and the returned state is always the authoritative row.
func (n *Notifier) Wait(ctx context.Context, token string, timeout time.Duration) (domain.JobState, error) {
	job, err := n.jobs.Get(ctx, token)
	if err != nil {
		return "", err
	}
	if job.State.Terminal() {
		return job.State, nil
	}

	ch := n.register(token)
	defer n.unregister(token, ch)

	// The job may have settled between the read above and registration.
	job, err = n.jobs.Get(ctx, token)
	if err != nil {
		return "", err
	}
	if job.State.Terminal() {
		return job.State, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
	case <-timer.C:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	job, err = n.jobs.Get(ctx, token)
	if err != nil {
		return "", err
	}
	return job.State, nil
}

// Publish wakes local waiters and broadcasts the update for other processes.
func (n *Notifier) Publish(ctx context.Context, token string, uid int64, state domain.JobState) {
	n.wake(token, state)

	if n.client == nil {
		return
	}
	payload, err := json.Marshal(StateUpdate{Tid: token, UID: uid, State: state})
	if err != nil {
		n.logger.Error().Err(err).Str("tid", token).Msg("notify: encode state update")
		return
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		// Local waiters are already awake; remote ones fall back to their
		// long-poll timeout and re-read the job row.
		n.logger.Error().Err(err).Str("tid", token).Msg("notify: publish state update")
	}
}

// Run subscribes to the pub/sub channel and feeds remote updates into the
// local wait registry until ctx is canceled. No-op without a Redis client.
func (n *Notifier) Run(ctx context.Context) error {
	if n.client == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	sub := n.client.Subscribe(ctx, n.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return errors.New("notify: subscription closed")
			}
			var update StateUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
				n.logger.Warn().Err(err).Msg("notify: bad state update payload")
				continue
			}
			n.wake(update.Tid, update.State)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (n *Notifier) register(token string) chan domain.JobState {
	ch := make(chan domain.JobState, 1)
	n.mu.Lock()
	n.waiters[token] = append(n.waiters[token], ch)
	n.mu.Unlock()
	return ch
}

func (n *Notifier) unregister(token string, ch chan domain.JobState) {
	n.mu.Lock()
	defer n.mu.Unlock()

	list := n.waiters[token]
	for i, c := range list {
		if c == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(n.waiters, token)
	} else {
		n.waiters[token] = list
	}
}

func (n *Notifier) wake(token string, state domain.JobState) {
	n.mu.Lock()
	list := n.waiters[token]
	delete(n.waiters, token)
	n.mu.Unlock()

	for _, ch := range list {
		select {
		case ch <- state:
		default:
		}
	}
}
