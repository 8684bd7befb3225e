// Package transfer moves an in-progress call from its current agent to
// a new destination by closing the active segment and opening the next
// one in the chain. The transfer target is dialed before the caller is
// moved, so a refused transfer never strands the caller.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/velora-auto/trunkline/backend/internal/callback"
	"github.com/velora-auto/trunkline/backend/internal/conference"
	"github.com/velora-auto/trunkline/backend/internal/metrics"
	"github.com/velora-auto/trunkline/backend/internal/resolve"
	"github.com/velora-auto/trunkline/backend/internal/storage"
	"github.com/velora-auto/trunkline/backend/internal/telephony"
	"github.com/velora-auto/trunkline/backend/internal/types"
)

const transferDialTimeout = 30

var (
	// ErrNoActiveSegment is returned when the leg does not belong to any
	// known segment
	ErrNoActiveSegment = errors.New("no active segment for leg")

	// ErrNotInProgress is returned when the segment is not in a
	// transferable state
	ErrNotInProgress = errors.New("segment is not in progress")

	// ErrTransferRace is returned when another transfer already created
	// the next segment of the chain
	ErrTransferRace = errors.New("transfer already in progress")
)

// Request describes one transfer. LegID may be any leg of the active
// segment: the caller's, or the agent leg the transferring user is on.
// FromIdentity, when set, overrides the closing segment's answering
// identity as the recorded transfer source.
type Request struct {
	TenantID     string          `json:"tenantId"`
	LegID        string          `json:"legId"`
	Destination  string          `json:"destination"`
	Reason       string          `json:"reason,omitempty"`
	FromIdentity *types.Identity `json:"fromIdentity,omitempty"`
}

// Result reports the closed and opened segments
type Result struct {
	From *types.CallSegment `json:"from"`
	To   *types.CallSegment `json:"to"`
}

// Orchestrator executes transfers
type Orchestrator struct {
	store    storage.SegmentStore
	resolver *resolve.Resolver
	tel      telephony.Client
	urls     *callback.Builder
	notifier conference.Notifier
	logger   zerolog.Logger
	clock    func() time.Time
}

// New creates a transfer orchestrator
func New(store storage.SegmentStore, resolver *resolve.Resolver, tel telephony.Client, urls *callback.Builder, notifier conference.Notifier, logger zerolog.Logger) *Orchestrator {
	if notifier == nil {
		notifier = conference.NopNotifier{}
	}
	return &Orchestrator{
		store:    store,
		resolver: resolver,
		tel:      tel,
		urls:     urls,
		notifier: notifier,
		logger:   logger.With().Str("component", "transfer").Logger(),
		clock:    time.Now,
	}
}

// Transfer closes the active segment and dials the destination into a
// fresh conference, then moves the caller over. The old agent leg drops
// on its own when the caller exits the old conference.
func (o *Orchestrator) Transfer(ctx context.Context, req Request) (*Result, error) {
	seg, err := o.activeSegment(ctx, req.TenantID, req.LegID)
	if err != nil {
		return nil, err
	}
	if seg.Status != types.StatusInProgress {
		return nil, fmt.Errorf("%w: segment %s is %s", ErrNotInProgress, seg.CallID, seg.Status)
	}

	target, err := o.resolver.Resolve(ctx, req.TenantID, req.Destination)
	if err != nil {
		return nil, err
	}

	callerLeg := seg.CallerLegID
	if callerLeg == "" {
		callerLeg = seg.CallID
	}

	from := seg.AnsweredBy
	if req.FromIdentity != nil {
		from = req.FromIdentity
	}

	n := seg.SegmentNumber + 1
	newCallID := types.TransferCallID(seg.ChainID, n)
	now := o.clock()
	next := &types.CallSegment{
		TenantID:                seg.TenantID,
		CallID:                  newCallID,
		CallerLegID:             callerLeg,
		ChainID:                 seg.ChainID,
		SegmentNumber:           n,
		LineID:                  seg.LineID,
		Direction:               seg.Direction,
		Status:                  types.StatusRinging,
		CallerNumber:            seg.CallerNumber,
		BuyerID:                 seg.BuyerID,
		StartedAt:               now,
		ConferenceName:          fmt.Sprintf("conf_%s_0", newCallID),
		TransferredFrom:         from,
		TransferredTo:           &target.Identity,
		TransferReason:          req.Reason,
		AgentDialedFromTransfer: true,
		Scratch: types.ScratchState{
			SchemaVersion: types.ScratchSchemaVersion,
		},
	}

	if err := o.store.CreateSegment(ctx, next); err != nil {
		if errors.Is(err, storage.ErrSegmentExists) {
			return nil, ErrTransferRace
		}
		return nil, err
	}

	legID, err := o.tel.PlaceCall(ctx, telephony.CallRequest{
		From:                 seg.CallerNumber,
		To:                   target.DialString(),
		URL:                  o.urls.AgentJoin(seg.TenantID, seg.LineID, newCallID, 0),
		StatusCallback:       o.urls.AgentStatus(seg.TenantID, seg.LineID, newCallID, "", types.ActionDefault, 0),
		StatusCallbackEvents: []string{"completed", "no-answer", "busy", "failed", "canceled"},
		TimeoutSecs:          transferDialTimeout,
	})
	if err != nil {
		o.abort(ctx, next)
		return nil, fmt.Errorf("failed to dial transfer target: %w", err)
	}

	next, err = storage.Mutate(ctx, o.store, seg.TenantID, newCallID, func(s *types.CallSegment) error {
		s.AllLegs = append(s.AllLegs, legID)
		s.Scratch.PendingLegs = append(s.Scratch.PendingLegs, legID)
		if s.Scratch.LegIdentities == nil {
			s.Scratch.LegIdentities = make(map[string]types.Identity, 1)
		}
		s.Scratch.LegIdentities[legID] = target.Identity
		return nil
	})
	if err != nil {
		return nil, err
	}

	prev, err := storage.Mutate(ctx, o.store, seg.TenantID, seg.CallID, func(s *types.CallSegment) error {
		if s.Status != types.StatusInProgress {
			return fmt.Errorf("%w: segment %s is %s", ErrNotInProgress, s.CallID, s.Status)
		}
		ended := o.clock()
		s.Status = types.StatusTransferred
		s.TransferredTo = &target.Identity
		s.TransferReason = req.Reason
		s.TransferredAt = &ended
		s.EndedAt = &ended
		if s.AnsweredAt != nil {
			s.DurationSecs = ended.Sub(*s.AnsweredAt).Seconds()
		}
		s.Scratch.PendingLegs = nil
		return nil
	})
	if err != nil {
		o.terminateLeg(ctx, legID)
		o.abort(ctx, next)
		return nil, err
	}

	if err := o.tel.RedirectCall(ctx, callerLeg, o.urls.CallerJoin(seg.TenantID, seg.LineID, newCallID, 0)); err != nil {
		metrics.Get().RecordTransferError()
		o.logger.Error().Err(err).
			Str("chain_id", seg.ChainID).
			Str("caller_leg", callerLeg).
			Msg("failed to move caller into transfer conference")
		return nil, fmt.Errorf("failed to move caller: %w", err)
	}

	metrics.Get().RecordTransfer()
	o.publish(types.EventSegmentTransferred, prev)
	o.publish(types.EventSegmentStarted, next)
	return &Result{From: prev, To: next}, nil
}

// activeSegment locates the segment the leg belongs to, following the
// chain to its open tail when the leg's own segment was already closed
// by an earlier transfer
func (o *Orchestrator) activeSegment(ctx context.Context, tenantID, legID string) (*types.CallSegment, error) {
	seg, err := o.store.FindSegmentByLeg(ctx, tenantID, legID)
	if err != nil {
		if errors.Is(err, storage.ErrSegmentNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoActiveSegment, legID)
		}
		return nil, err
	}
	if seg.Status != types.StatusTransferred {
		return seg, nil
	}

	chain, err := o.store.GetChain(ctx, tenantID, seg.ChainID)
	if err != nil {
		return nil, err
	}
	for i := len(chain) - 1; i >= 0; i-- {
		if !chain[i].Status.IsTerminal() {
			return &chain[i], nil
		}
	}
	return seg, nil
}

// abort marks a freshly created transfer segment failed after its
// setup could not complete
func (o *Orchestrator) abort(ctx context.Context, next *types.CallSegment) {
	_, err := storage.Mutate(ctx, o.store, next.TenantID, next.CallID, func(s *types.CallSegment) error {
		if s.Status.IsTerminal() {
			return storage.ErrNoChange
		}
		now := o.clock()
		s.Status = types.StatusFailed
		s.EndedAt = &now
		s.Scratch.PendingLegs = nil
		return nil
	})
	if err != nil {
		o.logger.Error().Err(err).
			Str("call_id", next.CallID).
			Msg("failed to mark aborted transfer segment")
	}
}

func (o *Orchestrator) terminateLeg(ctx context.Context, legID string) {
	if err := o.tel.TerminateCall(ctx, legID); err != nil {
		o.logger.Debug().Err(err).Str("leg_id", legID).Msg("terminate failed")
	}
}

func (o *Orchestrator) publish(t types.SegmentEventType, seg *types.CallSegment) {
	o.notifier.Publish(types.SegmentEvent{
		Type:          t,
		TenantID:      seg.TenantID,
		ChainID:       seg.ChainID,
		CallID:        seg.CallID,
		SegmentNumber: seg.SegmentNumber,
		Status:        seg.Status,
		AnsweredBy:    seg.AnsweredBy,
		Timestamp:     o.clock(),
	})
}
