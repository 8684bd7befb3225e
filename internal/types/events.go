package types

import "time"

// SegmentEventType names a segment lifecycle transition
type SegmentEventType string

const (
	EventSegmentStarted     SegmentEventType = "segment_started"
	EventSegmentAnswered    SegmentEventType = "segment_answered"
	EventSegmentEnded       SegmentEventType = "segment_ended"
	EventSegmentTransferred SegmentEventType = "segment_transferred"
	EventAttemptFailed      SegmentEventType = "attempt_failed"
)

// SegmentEvent is broadcast to dashboard websocket clients whenever a
// segment changes state
type SegmentEvent struct {
	Type          SegmentEventType `json:"type"`
	TenantID      string           `json:"tenantId"`
	ChainID       string           `json:"chainId"`
	CallID        string           `json:"callId"`
	SegmentNumber int              `json:"segmentNumber"`
	Status        SegmentStatus    `json:"status"`
	AnsweredBy    *Identity        `json:"answeredBy,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}
