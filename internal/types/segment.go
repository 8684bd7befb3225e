package types

import (
	"fmt"
	"time"
)

// SegmentStatus represents the lifecycle state of a call segment
type SegmentStatus string

const (
	StatusRinging     SegmentStatus = "ringing"     // caller connected, no agent yet
	StatusInProgress  SegmentStatus = "in_progress" // answered by an agent
	StatusCompleted   SegmentStatus = "completed"   // ended normally
	StatusNoAnswer    SegmentStatus = "no_answer"   // caller left before any answer
	StatusVoicemail   SegmentStatus = "voicemail"   // ended in a voicemail recording
	StatusFailed      SegmentStatus = "failed"      // provider-side failure
	StatusTransferred SegmentStatus = "transferred" // superseded by a transfer segment
)

// IsTerminal reports whether the segment can no longer change
func (s SegmentStatus) IsTerminal() bool {
	return s != StatusRinging && s != StatusInProgress
}

// CallDirection distinguishes inbound from outbound chains
type CallDirection string

const (
	DirectionInbound  CallDirection = "inbound"
	DirectionOutbound CallDirection = "outbound"
)

// IdentityKind says what an answering party resolved to
type IdentityKind string

const (
	IdentityUser    IdentityKind = "user"    // a platform user, dialed as a client
	IdentityPhone   IdentityKind = "phone"   // an external phone number
	IdentityUnknown IdentityKind = "unknown" // answering leg with no recorded resolution
)

// Identity is the resolved (tenant, party) an answer is attributed to
type Identity struct {
	Kind    IdentityKind `json:"kind"`
	UserID  string       `json:"userId,omitempty"`
	Phone   string       `json:"phone,omitempty"`
	Address string       `json:"address"` // dial target: "tenant:userId" or a phone number
	Name    string       `json:"name,omitempty"`
}

// TagValue is a name/value pair appended to a segment by a tag step
type TagValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Utterance is one transcript line with offsets in seconds.
// On a chain-level transcript offsets are relative to the chain start;
// after segmenting they are relative to the owning segment's start.
type Utterance struct {
	Speaker   string  `json:"speaker,omitempty"`
	Text      string  `json:"text"`
	StartSecs float64 `json:"startSecs"`
	EndSecs   float64 `json:"endSecs"`
}

// ScratchSchemaVersion guards against decoding scratch state written
// by an incompatible release.
const ScratchSchemaVersion = 1

// ScratchState is the ephemeral per-segment state that drives an attempt
// across webhook callbacks. It is persisted on the segment row and every
// read-decide-write against it goes through a version-checked update.
type ScratchState struct {
	SchemaVersion int `json:"schemaVersion"`

	// PendingLegs holds outbound agent leg IDs still ringing
	PendingLegs []string `json:"pendingLegs,omitempty"`

	// LegIdentities maps agent leg ID to its resolved identity.
	// Needed for simulcall, where only one dialed leg wins.
	LegIdentities map[string]Identity `json:"legIdentities,omitempty"`

	// StepPath and Attempt are the resume coordinates of the active
	// dial-type step (path is the dotted step address within the tree)
	StepPath string `json:"stepPath,omitempty"`
	Attempt  int    `json:"attempt,omitempty"`

	// AttemptFailed is set when the last pending leg ends unanswered;
	// the next callback to observe it takes the retry/fall-through decision
	AttemptFailed bool `json:"attemptFailed,omitempty"`
}

// RemovePendingLeg deletes legID from the pending list.
// Returns true if the leg was present.
func (s *ScratchState) RemovePendingLeg(legID string) bool {
	for i, id := range s.PendingLegs {
		if id == legID {
			s.PendingLegs = append(s.PendingLegs[:i], s.PendingLegs[i+1:]...)
			return true
		}
	}
	return false
}

// CallSegment is one leg/attempt of a call chain, numbered from 0.
// A transfer ends the active segment and creates the next one.
type CallSegment struct {
	TenantID string `json:"tenantId" dynamodbav:"TenantID"`

	// CallID keys the segment. Segment 0 uses the caller leg's provider
	// call ID; transfer segments use a synthetic ID derived from the
	// chain so the caller leg can key at most one row.
	CallID string `json:"callId" dynamodbav:"CallID"`

	// CallerLegID is the provider call ID of the caller's leg. Equal to
	// CallID on segment 0.
	CallerLegID string `json:"callerLegId" dynamodbav:"CallerLegID"`

	ChainID       string        `json:"chainId" dynamodbav:"ChainID"`
	SegmentNumber int           `json:"segmentNumber" dynamodbav:"SegmentNumber"`
	LineID        string        `json:"lineId" dynamodbav:"LineID"`
	Direction     CallDirection `json:"direction" dynamodbav:"Direction"`
	Status        SegmentStatus `json:"status" dynamodbav:"Status"`

	CallerNumber string `json:"callerNumber,omitempty" dynamodbav:"CallerNumber"`
	BuyerID      string `json:"buyerId,omitempty" dynamodbav:"BuyerID"`

	StartedAt    time.Time  `json:"startedAt" dynamodbav:"StartedAt"`
	AnsweredAt   *time.Time `json:"answeredAt,omitempty" dynamodbav:"AnsweredAt,omitempty"`
	EndedAt      *time.Time `json:"endedAt,omitempty" dynamodbav:"EndedAt,omitempty"`
	DurationSecs float64    `json:"durationSecs,omitempty" dynamodbav:"DurationSecs"`

	ConferenceName string `json:"conferenceName,omitempty" dynamodbav:"ConferenceName"`
	ConferenceID   string `json:"conferenceId,omitempty" dynamodbav:"ConferenceID"`

	AnsweredBy *Identity `json:"answeredBy,omitempty" dynamodbav:"AnsweredBy,omitempty"`

	// AllLegs lists every agent leg ever dialed for this segment,
	// answered or not. Used to find a segment by an agent leg ID.
	AllLegs []string `json:"allLegs,omitempty" dynamodbav:"AllLegs"`

	RecordingURL      string      `json:"recordingUrl,omitempty" dynamodbav:"RecordingURL"`
	RecordingDuration float64     `json:"recordingDuration,omitempty" dynamodbav:"RecordingDuration"`
	Transcript        []Utterance `json:"transcript,omitempty" dynamodbav:"Transcript"`

	// Transfer linkage
	TransferredFrom *Identity  `json:"transferredFrom,omitempty" dynamodbav:"TransferredFrom,omitempty"`
	TransferredTo   *Identity  `json:"transferredTo,omitempty" dynamodbav:"TransferredTo,omitempty"`
	TransferReason  string     `json:"transferReason,omitempty" dynamodbav:"TransferReason"`
	TransferredAt   *time.Time `json:"transferredAt,omitempty" dynamodbav:"TransferredAt,omitempty"`

	// AgentDialedFromTransfer suppresses dial-on-join for segments
	// whose agent was already dialed by the transfer orchestrator
	AgentDialedFromTransfer bool `json:"agentDialedFromTransfer,omitempty" dynamodbav:"AgentDialedFromTransfer"`

	Tags    []TagValue   `json:"tags,omitempty" dynamodbav:"Tags"`
	Scratch ScratchState `json:"scratch" dynamodbav:"Scratch"`

	// Version enables optimistic concurrency on every update
	Version int64 `json:"version" dynamodbav:"Version"`
}

// TransferCallID derives the provider call ID for transfer segment n of chain
func TransferCallID(chainID string, n int) string {
	return fmt.Sprintf("%s_transfer_%d", chainID, n)
}

// HasLeg reports whether legID belongs to this segment, as either the
// caller leg or one of the dialed agent legs.
func (c *CallSegment) HasLeg(legID string) bool {
	if c.CallID == legID || c.CallerLegID == legID {
		return true
	}
	for _, id := range c.AllLegs {
		if id == legID {
			return true
		}
	}
	return false
}

// IsCallerLeg reports whether legID is the caller's own leg
func (c *CallSegment) IsCallerLeg(legID string) bool {
	if c.CallerLegID != "" {
		return legID == c.CallerLegID
	}
	return legID == c.CallID
}

// Window returns the segment's [start, end) offsets in seconds relative
// to chainStart. An open segment extends to +Inf via ok=false on end.
func (c *CallSegment) Window(chainStart time.Time) (start, end float64, closed bool) {
	start = c.StartedAt.Sub(chainStart).Seconds()
	if c.EndedAt == nil {
		return start, 0, false
	}
	return start, c.EndedAt.Sub(chainStart).Seconds(), true
}
