package queue

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iepose/aigcd/internal/domain"
)

func TestMemoryQueueDeliversInOrder(t *testing.T) {
	q := NewMemory(8, 10*time.Millisecond)
	ctx := context.Background()

	for _, token := range []string{"aaaa", "bbbb", "cccc"} {
		if err := q.Enqueue(ctx, domain.QueueMessage{Token: token, UID: 1}); err != nil {
			t.Fatalf("Enqueue(%s): %v", token, err)
		}
	}

	for _, want := range []string{"aaaa", "bbbb", "cccc"} {
		msg, err := q.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		if msg == nil || msg.Token != want {
			t.Fatalf("Receive = %+v, want token %s", msg, want)
		}
	}
}

func TestMemoryQueueReceiveTimesOutEmpty(t *testing.T) {
	q := NewMemory(1, 20*time.Millisecond)

	start := time.Now()
	msg, err := q.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if msg != nil {
		t.Fatalf("Receive = %+v, want nil on empty queue", msg)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("Receive returned after %s, want at least the block interval", elapsed)
	}
}

func TestMemoryQueueReceiveHonorsContext(t *testing.T) {
	q := NewMemory(1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if _, err := q.Receive(ctx); err != context.Canceled {
		t.Fatalf("Receive error = %v, want context.Canceled", err)
	}
}

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]interface{}
		wantErr bool
		want    domain.QueueMessage
	}{
		{
			name:   "full message",
			values: map[string]interface{}{"tid": "cafebabe", "uid": "42", "url": "http://infer.local/x"},
			want:   domain.QueueMessage{Token: "cafebabe", UID: 42, URL: "http://infer.local/x", MessageID: "1-0"},
		},
		{
			name:    "missing tid",
			values:  map[string]interface{}{"uid": "42"},
			wantErr: true,
		},
		{
			name:    "bad uid",
			values:  map[string]interface{}{"tid": "cafebabe", "uid": "forty-two"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := parseMessage(redis.XMessage{ID: "1-0", Values: tt.values})
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseMessage = %+v, want error", msg)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseMessage: %v", err)
			}
			if *msg != tt.want {
				t.Fatalf("parseMessage = %+v, want %+v", *msg, tt.want)
			}
		})
	}
}
