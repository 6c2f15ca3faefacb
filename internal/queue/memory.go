package queue

import (
	"context"
	"time"

	"github.com/iepose/aigcd/internal/domain"
)

// Memory is a buffered-channel implementation of domain.Queue for tests and
// single-process deployments. See the package comment for the tradeoff
// against Stream.
type Memory struct {
	ch    chan domain.QueueMessage
	block time.Duration
}

// NewMemory creates a memory queue holding at most size undelivered messages.
func NewMemory(size int, block time.Duration) *Memory {
	return &Memory{ch: make(chan domain.QueueMessage, size), block: block}
}

var _ domain.Queue = (*Memory)(nil)

// Enqueue delivers msg to the channel, blocking while the buffer is full.
func (m *Memory) Enqueue(ctx context.Context, msg domain.QueueMessage) error {
	select {
	case m.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive waits up to the block interval for the next message.
func (m *Memory) Receive(ctx context.Context) (*domain.QueueMessage, error) {
	timer := time.NewTimer(m.block)
	defer timer.Stop()

	select {
	case msg := <-m.ch:
		return &msg, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ack is a no-op; channel delivery has no pending-entry tracking.
func (m *Memory) Ack(context.Context, *domain.QueueMessage) error {
	return nil
}
