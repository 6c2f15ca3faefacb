// Package queue delivers new-job notifications from the submission gateway
// to dispatch workers with at-least-once semantics.
//
// Two backends exist. Stream rides a Redis Stream with a consumer group:
// it survives dispatcher restarts and lets multiple dispatcher replicas
// share load without double-processing, at the price of a Redis dependency.
// Memory is a plain buffered channel: simpler, but anything queued is lost
// when the process dies and the sweeper has to restore it from the job
// table. Deployments that run more than one dispatcher need Stream.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/iepose/aigcd/internal/domain"
)

// Stream is the Redis Streams implementation of domain.Queue.
type Stream struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	block    time.Duration
}

// NewStream creates a stream queue. Each Stream instance gets its own
// consumer name so replicas divide deliveries inside the group.
func NewStream(client *redis.Client, stream, group string, block time.Duration) *Stream {
	return &Stream{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: "dispatch-" + uuid.NewString()[:8],
		block:    block,
	}
}

var _ domain.Queue = (*Stream)(nil)

// EnsureGroup creates the consumer group if it does not exist yet.
func (s *Stream) EnsureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Enqueue appends a new-job notification to the stream.
func (s *Stream) Enqueue(ctx context.Context, msg domain.QueueMessage) error {
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"tid": msg.Token,
			"uid": strconv.FormatInt(msg.UID, 10),
			"url": msg.URL,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", msg.Token, err)
	}
	return nil
}

// Receive blocks up to the configured block interval for the next delivery.
// (nil, nil) means nothing arrived in time.
func (s *Stream) Receive(ctx context.Context) (*domain.QueueMessage, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, ">"},
		Count:    1,
		Block:    s.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read stream: %w", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}
	return parseMessage(streams[0].Messages[0])
}

// Ack acknowledges a delivery so the group stops tracking it as pending.
func (s *Stream) Ack(ctx context.Context, msg *domain.QueueMessage) error {
	if msg.MessageID == "" {
		return nil
	}
	if err := s.client.XAck(ctx, s.stream, s.group, msg.MessageID).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", msg.MessageID, err)
	}
	return nil
}

func parseMessage(msg redis.XMessage) (*domain.QueueMessage, error) {
	out := &domain.QueueMessage{MessageID: msg.ID}

	token, ok := msg.Values["tid"].(string)
	if !ok || token == "" {
		return nil, fmt.Errorf("message %s has no tid", msg.ID)
	}
	out.Token = token

	if raw, ok := msg.Values["uid"].(string); ok {
		uid, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("message %s has bad uid %q", msg.ID, raw)
		}
		out.UID = uid
	}
	if url, ok := msg.Values["url"].(string); ok {
		out.URL = url
	}
	return out, nil
}
