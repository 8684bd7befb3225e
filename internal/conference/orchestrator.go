// Package conference orchestrates the dial side of a call segment: the
// caller sits in a per-attempt conference while outbound agent legs are
// placed, raced, and cleaned up. All state transitions run through
// version-checked segment updates, so concurrent provider callbacks
// (two agents answering at once, a leg ending while another answers)
// serialize into exactly one winner and one failure decision.
package conference

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/velora-auto/trunkline/backend/internal/callback"
	"github.com/velora-auto/trunkline/backend/internal/flow"
	"github.com/velora-auto/trunkline/backend/internal/metrics"
	"github.com/velora-auto/trunkline/backend/internal/resolve"
	"github.com/velora-auto/trunkline/backend/internal/storage"
	"github.com/velora-auto/trunkline/backend/internal/telephony"
	"github.com/velora-auto/trunkline/backend/internal/types"
)

const defaultDialTimeout = 30

// Notifier receives segment lifecycle events for the dashboard feed
type Notifier interface {
	Publish(event types.SegmentEvent)
}

// NopNotifier drops all events
type NopNotifier struct{}

// Publish implements Notifier
func (NopNotifier) Publish(types.SegmentEvent) {}

// Orchestrator reacts to conference and agent-leg callbacks
type Orchestrator struct {
	store    storage.SegmentStore
	flows    flow.Store
	resolver *resolve.Resolver
	tel      telephony.Client
	urls     *callback.Builder
	notifier Notifier
	logger   zerolog.Logger
	clock    func() time.Time
}

// New creates a conference orchestrator
func New(store storage.SegmentStore, flows flow.Store, resolver *resolve.Resolver, tel telephony.Client, urls *callback.Builder, notifier Notifier, logger zerolog.Logger) *Orchestrator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Orchestrator{
		store:    store,
		flows:    flows,
		resolver: resolver,
		tel:      tel,
		urls:     urls,
		notifier: notifier,
		logger:   logger.With().Str("component", "conference").Logger(),
		clock:    time.Now,
	}
}

// HandleEvent dispatches a conference status callback. The caller leg
// joining starts the outbound dials; any other leg joining is an agent
// answering.
func (o *Orchestrator) HandleEvent(ctx context.Context, p *types.WebhookParams) error {
	seg, err := o.store.GetSegment(ctx, p.TenantID, p.CallRef)
	if err != nil {
		return err
	}
	isCaller := seg.IsCallerLeg(p.CallID)

	switch p.ConferenceEvent {
	case types.ConferenceJoin:
		if isCaller {
			return o.callerJoined(ctx, p)
		}
		return o.agentJoined(ctx, p)
	case types.ConferenceLeave:
		if isCaller {
			return o.callerLeft(ctx, p)
		}
		return nil
	default:
		o.logger.Debug().
			Str("call_id", p.CallRef).
			Str("event", p.ConferenceEvent).
			Msg("ignoring conference event")
		return nil
	}
}

// callerJoined records the provider conference ID and places the
// outbound legs for the active dial step. Transfer segments arrive with
// their agent already dialed, so only the conference ID is recorded.
func (o *Orchestrator) callerJoined(ctx context.Context, p *types.WebhookParams) error {
	dialOut := false
	seg, err := storage.Mutate(ctx, o.store, p.TenantID, p.CallRef, func(s *types.CallSegment) error {
		dialOut = false
		if s.ConferenceID == p.ConferenceID {
			// Replay: the delivery that committed the conference ID
			// owns the dial-out
			return storage.ErrNoChange
		}
		dialOut = !s.AgentDialedFromTransfer &&
			s.AnsweredBy == nil &&
			len(s.Scratch.PendingLegs) == 0 &&
			!s.Status.IsTerminal()
		s.ConferenceID = p.ConferenceID
		return nil
	})
	if err != nil {
		return err
	}
	if !dialOut {
		return nil
	}
	return o.dialOut(ctx, seg)
}

// dialOut resolves the step's destinations and places one leg each.
// Unresolvable destinations are skipped; if nothing could be placed the
// attempt fails immediately.
func (o *Orchestrator) dialOut(ctx context.Context, seg *types.CallSegment) error {
	def, err := o.flows.GetFlowForLine(ctx, seg.TenantID, seg.LineID)
	if err != nil {
		o.logger.Error().Err(err).
			Str("call_id", seg.CallID).
			Str("line_id", seg.LineID).
			Msg("cannot load flow for dial-out")
		return o.failAttempt(ctx, seg.TenantID, seg.CallID)
	}

	p, err := flow.ParsePath(seg.Scratch.StepPath)
	if err != nil {
		return o.failAttempt(ctx, seg.TenantID, seg.CallID)
	}
	step, ok := flow.LocateStep(def.Steps, p)
	if !ok {
		return o.failAttempt(ctx, seg.TenantID, seg.CallID)
	}

	dests, timeout, callerID := dialPlan(step, seg.Scratch.Attempt)
	if callerID == "" {
		callerID = seg.CallerNumber
	}

	placed := make([]string, 0, len(dests))
	identities := make(map[string]types.Identity, len(dests))
	for _, dest := range dests {
		target, err := o.resolver.Resolve(ctx, seg.TenantID, dest)
		if err != nil {
			if errors.Is(err, resolve.ErrUnresolvable) {
				o.logger.Warn().
					Str("call_id", seg.CallID).
					Str("destination", dest).
					Msg("skipping unresolvable destination")
				continue
			}
			return err
		}

		legID, err := o.tel.PlaceCall(ctx, telephony.CallRequest{
			From:                 callerID,
			To:                   target.DialString(),
			URL:                  o.urls.AgentJoin(seg.TenantID, seg.LineID, seg.CallID, seg.Scratch.Attempt),
			StatusCallback:       o.urls.AgentStatus(seg.TenantID, seg.LineID, seg.CallID, seg.Scratch.StepPath, types.ActionDefault, seg.Scratch.Attempt),
			StatusCallbackEvents: []string{"completed", "no-answer", "busy", "failed", "canceled"},
			TimeoutSecs:          timeout,
		})
		if err != nil {
			o.logger.Error().Err(err).
				Str("call_id", seg.CallID).
				Str("destination", dest).
				Msg("failed to place agent leg")
			continue
		}
		placed = append(placed, legID)
		identities[legID] = target.Identity
		metrics.Get().RecordDialPlaced()
	}

	if len(placed) == 0 {
		return o.failAttempt(ctx, seg.TenantID, seg.CallID)
	}

	_, err = storage.Mutate(ctx, o.store, seg.TenantID, seg.CallID, func(s *types.CallSegment) error {
		s.AllLegs = append(s.AllLegs, placed...)
		s.Scratch.PendingLegs = append(s.Scratch.PendingLegs, placed...)
		if s.Scratch.LegIdentities == nil {
			s.Scratch.LegIdentities = make(map[string]types.Identity, len(identities))
		}
		for id, identity := range identities {
			s.Scratch.LegIdentities[id] = identity
		}
		return nil
	})
	return err
}

// agentJoined handles an agent leg entering the conference: the answer
// event. The first joiner wins the segment; everyone still ringing is
// hung up, and a joiner that lost the race is hung up itself.
func (o *Orchestrator) agentJoined(ctx context.Context, p *types.WebhookParams) error {
	var losers []string
	lost := false
	seg, err := storage.Mutate(ctx, o.store, p.TenantID, p.CallRef, func(s *types.CallSegment) error {
		losers = losers[:0]
		lost = false

		if s.AnsweredBy != nil || s.Status.IsTerminal() {
			lost = true
			return storage.ErrNoChange
		}

		s.Scratch.RemovePendingLeg(p.CallID)

		identity, ok := s.Scratch.LegIdentities[p.CallID]
		if !ok {
			o.logger.Warn().
				Str("call_id", p.CallRef).
				Str("leg_id", p.CallID).
				Msg("answering leg has no recorded identity")
			identity = types.Identity{Kind: types.IdentityUnknown, Address: p.CallID}
		}
		s.AnsweredBy = &identity
		now := o.clock()
		s.AnsweredAt = &now
		s.Status = types.StatusInProgress
		s.Scratch.AttemptFailed = false

		losers = append(losers, s.Scratch.PendingLegs...)
		s.Scratch.PendingLegs = nil
		return nil
	})
	if err != nil {
		return err
	}

	if lost {
		// Two agents answered near-simultaneously; this one was second
		o.terminate(ctx, p.CallID)
		return nil
	}

	for _, leg := range losers {
		o.terminate(ctx, leg)
	}
	metrics.Get().RecordSegmentAnswered()
	o.publish(types.EventSegmentAnswered, seg)
	return nil
}

// callerLeft cleans up legs still ringing when the caller drops out of
// the conference. For flow-driven segments the final status is owned by
// the caller leg's own status callback, so a leave during a round robin
// re-bridge never closes the segment early. Transfer segments have no
// status callback pointing at them, so the leave settles them directly.
func (o *Orchestrator) callerLeft(ctx context.Context, p *types.WebhookParams) error {
	var pending []string
	settleNow := false
	seg, err := storage.Mutate(ctx, o.store, p.TenantID, p.CallRef, func(s *types.CallSegment) error {
		pending = append(pending[:0], s.Scratch.PendingLegs...)
		settleNow = s.AgentDialedFromTransfer
		if s.Status.IsTerminal() || len(s.Scratch.PendingLegs) == 0 {
			return storage.ErrNoChange
		}
		s.Scratch.PendingLegs = nil
		return nil
	})
	if err != nil {
		return err
	}

	if !seg.Status.IsTerminal() {
		for _, leg := range pending {
			o.terminate(ctx, leg)
		}
	}
	if settleNow {
		return o.settle(ctx, p.TenantID, p.CallRef, types.LegStatusCompleted, false)
	}
	return nil
}

// LegStatus handles a final status callback for a dialed agent leg.
// When the last pending leg ends without an answer, the attempt has
// failed and the retry/fall-through decision is taken inside the same
// atomic update that observes the empty pending list.
func (o *Orchestrator) LegStatus(ctx context.Context, p *types.WebhookParams) error {
	switch p.CallStatus {
	case types.LegStatusAnswered, types.LegStatusInProgress:
		// Answer attribution comes from the conference join event
		return nil
	}

	var out decision
	seg, err := storage.Mutate(ctx, o.store, p.TenantID, p.CallRef, func(s *types.CallSegment) error {
		out = decision{}
		if !s.Scratch.RemovePendingLeg(p.CallID) {
			// Replay, or the leg was already terminated as a race loser
			return storage.ErrNoChange
		}
		if len(s.Scratch.PendingLegs) > 0 || s.AnsweredBy != nil {
			return nil
		}
		s.Scratch.AttemptFailed = true
		return o.decide(ctx, s, &out)
	})
	if err != nil {
		return err
	}

	switch {
	case out.redirectURL != "":
		metrics.Get().RecordAttemptFailure()
		o.publish(types.EventAttemptFailed, seg)
		if err := o.tel.RedirectCall(ctx, seg.CallerLegID, out.redirectURL); err != nil {
			o.logger.Error().Err(err).
				Str("call_id", seg.CallID).
				Msg("failed to redirect caller after attempt failure")
		}
	case out.terminate:
		metrics.Get().RecordAttemptFailure()
		o.publish(types.EventSegmentEnded, seg)
		// The caller's provider leg, not the segment key: they differ
		// on transfer segments
		o.terminate(ctx, seg.CallerLegID)
	}
	return nil
}

// decision is the side effect LegStatus performs after the state
// transition commits
type decision struct {
	redirectURL string
	terminate   bool
}

// decide picks what happens to the caller after a failed attempt:
// round robin steps retry the next destination, transfer segments end
// outright, everything else advances past the dial step with a spoken
// apology.
func (o *Orchestrator) decide(ctx context.Context, s *types.CallSegment, out *decision) error {
	if s.AgentDialedFromTransfer {
		now := o.clock()
		s.Status = types.StatusFailed
		s.EndedAt = &now
		out.terminate = true
		return nil
	}

	def, err := o.flows.GetFlowForLine(ctx, s.TenantID, s.LineID)
	if err != nil {
		o.logger.Error().Err(err).
			Str("call_id", s.CallID).
			Msg("cannot load flow for failure decision")
		now := o.clock()
		s.Status = types.StatusFailed
		s.EndedAt = &now
		out.terminate = true
		return nil
	}

	p, perr := flow.ParsePath(s.Scratch.StepPath)
	if perr == nil {
		if step, ok := flow.LocateStep(def.Steps, p); ok &&
			step.Type == types.StepRoundRobin && step.RoundRobin != nil &&
			s.Scratch.Attempt+1 < len(step.RoundRobin.Destinations) {
			out.redirectURL = o.urls.Flow(s.TenantID, s.LineID, s.CallID, s.Scratch.StepPath,
				types.ActionRoundRobinRedirect, s.Scratch.Attempt+1)
			return nil
		}
	}

	next := flow.RootPath(0)
	if perr == nil {
		next = p.Advance()
	}
	out.redirectURL = callback.WithNotice(
		o.urls.Flow(s.TenantID, s.LineID, s.CallID, next.String(), types.ActionDefault, 0),
		callback.NoticeUnavailable)
	return nil
}

// failAttempt marks the running attempt failed when no leg was ever
// placed and applies the same decision as a fully rung-out attempt
func (o *Orchestrator) failAttempt(ctx context.Context, tenantID, callID string) error {
	var out decision
	seg, err := storage.Mutate(ctx, o.store, tenantID, callID, func(s *types.CallSegment) error {
		out = decision{}
		if s.Scratch.AttemptFailed || s.AnsweredBy != nil || s.Status.IsTerminal() {
			return storage.ErrNoChange
		}
		s.Scratch.AttemptFailed = true
		s.Scratch.PendingLegs = nil
		return o.decide(ctx, s, &out)
	})
	if err != nil {
		return err
	}

	switch {
	case out.redirectURL != "":
		o.publish(types.EventAttemptFailed, seg)
		if err := o.tel.RedirectCall(ctx, seg.CallerLegID, out.redirectURL); err != nil {
			o.logger.Error().Err(err).
				Str("call_id", seg.CallID).
				Msg("failed to redirect caller after empty dial-out")
		}
	case out.terminate:
		o.publish(types.EventSegmentEnded, seg)
		o.terminate(ctx, seg.CallerLegID)
	}
	return nil
}

// CallEnded handles the caller leg's own final status callback. The
// callback always addresses segment 0; if the chain was transferred the
// still-open tail segment is the one to close.
func (o *Orchestrator) CallEnded(ctx context.Context, p *types.WebhookParams) error {
	return o.settle(ctx, p.TenantID, p.CallRef, p.CallStatus, true)
}

// settle moves a segment into its terminal state and hangs up any legs
// still ringing. With followChain set, a segment already closed by a
// transfer forwards the settlement to the chain's open tail segment.
func (o *Orchestrator) settle(ctx context.Context, tenantID, callID, callStatus string, followChain bool) error {
	var pending []string
	changed := false
	seg, err := storage.Mutate(ctx, o.store, tenantID, callID, func(s *types.CallSegment) error {
		pending = append(pending[:0], s.Scratch.PendingLegs...)
		changed = false
		if s.Status.IsTerminal() {
			return storage.ErrNoChange
		}
		changed = true

		now := o.clock()
		s.EndedAt = &now
		switch {
		case s.Status == types.StatusInProgress:
			s.Status = types.StatusCompleted
			if s.AnsweredAt != nil {
				s.DurationSecs = now.Sub(*s.AnsweredAt).Seconds()
			}
		case callStatus == types.LegStatusFailed:
			s.Status = types.StatusFailed
		default:
			s.Status = types.StatusNoAnswer
		}
		s.Scratch.PendingLegs = nil
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrSegmentNotFound) {
			return nil
		}
		return err
	}

	if changed {
		for _, leg := range pending {
			o.terminate(ctx, leg)
		}
		metrics.Get().RecordSegmentEnded()
		o.publish(types.EventSegmentEnded, seg)
		return nil
	}

	if followChain && seg.Status == types.StatusTransferred {
		chain, err := o.store.GetChain(ctx, tenantID, seg.ChainID)
		if err != nil {
			return err
		}
		for i := len(chain) - 1; i >= 0; i-- {
			if !chain[i].Status.IsTerminal() {
				return o.settle(ctx, tenantID, chain[i].CallID, callStatus, false)
			}
		}
	}
	return nil
}

func (o *Orchestrator) terminate(ctx context.Context, legID string) {
	if err := o.tel.TerminateCall(ctx, legID); err != nil {
		// Usually the leg already ended on its own
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

// dialPlan extracts the destinations to ring for the current attempt
// plus the ring timeout and caller ID override
func dialPlan(step *types.Step, attempt int) (dests []string, timeoutSecs int, callerID string) {
	timeoutSecs = defaultDialTimeout
	switch step.Type {
	case types.StepDial:
		if step.Dial == nil {
			return nil, timeoutSecs, ""
		}
		if step.Dial.TimeoutSecs > 0 {
			timeoutSecs = step.Dial.TimeoutSecs
		}
		return []string{step.Dial.Destination}, timeoutSecs, step.Dial.CallerID

	case types.StepSimulcall:
		if step.Simulcall == nil {
			return nil, timeoutSecs, ""
		}
		if step.Simulcall.TimeoutSecs > 0 {
			timeoutSecs = step.Simulcall.TimeoutSecs
		}
		return step.Simulcall.Destinations, timeoutSecs, step.Simulcall.CallerID

	case types.StepRoundRobin:
		if step.RoundRobin == nil || attempt >= len(step.RoundRobin.Destinations) {
			return nil, timeoutSecs, ""
		}
		if step.RoundRobin.TimeoutSecs > 0 {
			timeoutSecs = step.RoundRobin.TimeoutSecs
		}
		return []string{step.RoundRobin.Destinations[attempt]}, timeoutSecs, step.RoundRobin.CallerID
	}
	return nil, timeoutSecs, ""
}
