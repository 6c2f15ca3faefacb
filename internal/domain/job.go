package domain

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// JobType enumerates supported inference job categories.
type JobType string

const (
	JobTypeReplaceWithAny       JobType = "replace_with_any"
	JobTypeReplaceWithReference JobType = "replace_with_reference"
	JobTypeSegmentAny           JobType = "segment_any"
	JobTypeImageToVideo         JobType = "image_to_video"
	JobTypeEditWithPrompt       JobType = "edit_with_prompt"
)

// JobTypes lists every known job type in a stable order.
func JobTypes() []JobType {
	return []JobType{
		JobTypeReplaceWithAny,
		JobTypeReplaceWithReference,
		JobTypeSegmentAny,
		JobTypeImageToVideo,
		JobTypeEditWithPrompt,
	}
}

// Valid reports whether t names a known job type.
func (t JobType) Valid() bool {
	for _, known := range JobTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// JobState enumerates job lifecycle states.
//
// Transitions: waiting -> in_progress -> {down, failed}, and
// waiting -> canceled. down, failed and canceled are terminal.
type JobState string

const (
	StateWaiting    JobState = "waiting"
	StateInProgress JobState = "in_progress"
	StateDown       JobState = "down"
	StateFailed     JobState = "failed"
	StateCanceled   JobState = "canceled"
)

// Terminal reports whether no further transition can leave s.
func (s JobState) Terminal() bool {
	return s == StateDown || s == StateFailed || s == StateCanceled
}

// Job is one durable record of a submitted inference request.
//
// Cost is fixed at admission and never changes afterwards; exactly one
// deduct and at most one refund happen per job over its whole life.
type Job struct {
	ID       int64
	UID      int64
	Token    string
	Type     JobType
	Cost     int
	URL      string
	State    JobState
	Request  []byte
	Response []byte
	CTime    time.Time
	UTime    time.Time
}

const tokenLen = 8 // bytes of entropy, 16 hex chars on the wire

// NewToken returns a fresh opaque job token.
func NewToken() string {
	buf := make([]byte, tokenLen)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

// QueueMessage carries a new-job notification from the submission gateway
// to dispatch workers. It is ephemeral and may be delivered more than once;
// the Job row is authoritative.
type QueueMessage struct {
	Token string
	UID   int64
	URL   string

	// MessageID identifies the delivery on durable queue backends so it
	// can be acknowledged; empty for in-memory delivery.
	MessageID string
}
