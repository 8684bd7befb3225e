// Package webhooks is the telephony provider surface: every request is
// a provider callback about a live call, and most responses are markup
// documents steering that call. Handlers are stateless; they rebuild
// their position from the callback coordinates and the segment row.
package webhooks

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/velora-auto/trunkline/backend/internal/callback"
	"github.com/velora-auto/trunkline/backend/internal/conference"
	"github.com/velora-auto/trunkline/backend/internal/flow"
	"github.com/velora-auto/trunkline/backend/internal/interpreter"
	"github.com/velora-auto/trunkline/backend/internal/markup"
	"github.com/velora-auto/trunkline/backend/internal/metrics"
	"github.com/velora-auto/trunkline/backend/internal/resolve"
	"github.com/velora-auto/trunkline/backend/internal/speech"
	"github.com/velora-auto/trunkline/backend/internal/storage"
	"github.com/velora-auto/trunkline/backend/internal/transcripts"
	"github.com/velora-auto/trunkline/backend/internal/types"
)

// NotAvailableText is spoken to the caller when a dial attempt could
// not reach anyone before the flow continues
const NotAvailableText = "The person you are trying to reach is not available."

const notConfiguredText = "This number is not configured. Goodbye."

// Handler serves all provider callbacks
type Handler struct {
	store      storage.SegmentStore
	flows      flow.Store
	interp     *interpreter.Interpreter
	conf       *conference.Orchestrator
	segmenter  *transcripts.Segmenter
	recordings *speech.RecordingStore
	dir        resolve.Directory
	urls       *callback.Builder
	notifier   conference.Notifier
	logger     zerolog.Logger
	clock      func() time.Time
}

// NewHandler creates the webhook handler. recordings and dir may be nil
// when recording archival or buyer attribution are disabled.
func NewHandler(store storage.SegmentStore, flows flow.Store, interp *interpreter.Interpreter, conf *conference.Orchestrator, segmenter *transcripts.Segmenter, recordings *speech.RecordingStore, dir resolve.Directory, urls *callback.Builder, notifier conference.Notifier, logger zerolog.Logger) *Handler {
	if notifier == nil {
		notifier = conference.NopNotifier{}
	}
	return &Handler{
		store:      store,
		flows:      flows,
		interp:     interp,
		conf:       conf,
		segmenter:  segmenter,
		recordings: recordings,
		dir:        dir,
		urls:       urls,
		notifier:   notifier,
		logger:     logger.With().Str("component", "webhooks").Logger(),
		clock:      time.Now,
	}
}

// Routes mounts the webhook endpoints
func (h *Handler) Routes(r chi.Router) {
	r.Post("/voice", h.Voice)
	r.Post("/flow", h.Flow)
	r.Post("/conference", h.Conference)
	r.Post("/agent", h.AgentStatus)
	r.Post("/agent/join", h.AgentJoin)
	r.Post("/recording", h.Recording)
	r.Post("/transcription", h.Transcription)
}

// Voice answers the line's configured webhook. A fresh call creates
// segment 0 and starts the flow; the same endpoint also receives the
// caller leg's final status callback.
func (h *Handler) Voice(w http.ResponseWriter, r *http.Request) {
	p := parseParams(r)
	if p.TenantID == "" || p.LineID == "" || p.CallID == "" {
		http.Error(w, "tenant, line and CallSid are required", http.StatusBadRequest)
		return
	}
	metrics.Get().RecordWebhook("voice")

	if legEnded(p.CallStatus) {
		if p.CallRef == "" {
			p.CallRef = p.CallID
		}
		if err := h.conf.CallEnded(r.Context(), p); err != nil {
			h.fail(w, err, "call-ended handling failed")
			return
		}
		h.writeMarkup(w, markup.New())
		return
	}

	now := h.clock()
	seg := &types.CallSegment{
		TenantID:      p.TenantID,
		CallID:        p.CallID,
		CallerLegID:   p.CallID,
		ChainID:       p.CallID,
		SegmentNumber: 0,
		LineID:        p.LineID,
		Direction:     types.DirectionInbound,
		Status:        types.StatusRinging,
		CallerNumber:  p.From,
		StartedAt:     now,
		Scratch:       types.ScratchState{SchemaVersion: types.ScratchSchemaVersion},
	}
	if h.dir != nil && p.From != "" {
		if buyerID, err := h.dir.FindBuyerByPhone(r.Context(), p.TenantID, p.From); err == nil {
			seg.BuyerID = buyerID
		}
	}

	if err := h.store.CreateSegment(r.Context(), seg); err != nil {
		if !errors.Is(err, storage.ErrSegmentExists) {
			h.fail(w, err, "failed to create segment")
			return
		}
		// Replayed initial webhook: re-serve the opening markup
	} else {
		metrics.Get().RecordSegmentStarted()
		h.notifier.Publish(types.SegmentEvent{
			Type:          types.EventSegmentStarted,
			TenantID:      seg.TenantID,
			ChainID:       seg.ChainID,
			CallID:        seg.CallID,
			SegmentNumber: 0,
			Status:        seg.Status,
			Timestamp:     now,
		})
	}

	def, err := h.flows.GetFlowForLine(r.Context(), p.TenantID, p.LineID)
	if err != nil {
		if errors.Is(err, flow.ErrFlowNotFound) {
			h.logger.Warn().
				Str("tenant_id", p.TenantID).
				Str("line_id", p.LineID).
				Msg("inbound call on a line without a flow")
			h.writeMarkup(w, markup.New().SayText(notConfiguredText).HangupNow())
			return
		}
		h.fail(w, err, "failed to load flow")
		return
	}

	var resp *markup.Response
	_, err = storage.Mutate(r.Context(), h.store, p.TenantID, p.CallID, func(s *types.CallSegment) error {
		ectx := h.execContext(p, s, def)
		var runErr error
		resp, runErr = h.interp.ExecuteAt(ectx, flow.RootPath(0), "")
		return runErr
	})
	if err != nil {
		h.fail(w, err, "flow execution failed")
		return
	}
	h.writeMarkup(w, resp)
}

// Flow serves every continuation callback: redirects between steps,
// gathered menu and keypad digits, and round robin retries
func (h *Handler) Flow(w http.ResponseWriter, r *http.Request) {
	p := parseParams(r)
	if p.TenantID == "" || p.CallRef == "" {
		http.Error(w, "tenant and call are required", http.StatusBadRequest)
		return
	}
	metrics.Get().RecordWebhook("flow")

	def, err := h.flows.GetFlowForLine(r.Context(), p.TenantID, p.LineID)
	if err != nil {
		h.fail(w, err, "failed to load flow")
		return
	}

	notice := ""
	if r.URL.Query().Get("notice") == callback.NoticeUnavailable {
		notice = NotAvailableText
	}

	var resp *markup.Response
	_, err = storage.Mutate(r.Context(), h.store, p.TenantID, p.CallRef, func(s *types.CallSegment) error {
		ectx := h.execContext(p, s, def)
		var runErr error
		if notice != "" {
			var pp flow.Path
			pp, runErr = flow.ParsePath(p.StepPath)
			if runErr != nil {
				resp = markup.New().SayText(notice).HangupNow()
				return nil
			}
			resp, runErr = h.interp.ExecuteAt(ectx, pp, notice)
			return runErr
		}
		resp, runErr = h.interp.HandleAction(ectx, p)
		return runErr
	})
	if err != nil {
		h.fail(w, err, "flow continuation failed")
		return
	}
	h.writeMarkup(w, resp)
}

// Conference receives participant join/leave events
func (h *Handler) Conference(w http.ResponseWriter, r *http.Request) {
	p := parseParams(r)
	if p.TenantID == "" || p.CallRef == "" {
		http.Error(w, "tenant and call are required", http.StatusBadRequest)
		return
	}
	metrics.Get().RecordWebhook("conference")

	if err := h.conf.HandleEvent(r.Context(), p); err != nil {
		if errors.Is(err, storage.ErrSegmentNotFound) {
			w.WriteHeader(http.StatusOK)
			return
		}
		h.fail(w, err, "conference event handling failed")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// AgentStatus receives per-leg status callbacks for dialed agents
func (h *Handler) AgentStatus(w http.ResponseWriter, r *http.Request) {
	p := parseParams(r)
	if p.TenantID == "" || p.CallRef == "" {
		http.Error(w, "tenant and call are required", http.StatusBadRequest)
		return
	}
	metrics.Get().RecordWebhook("agent")

	if err := h.conf.LegStatus(r.Context(), p); err != nil {
		if errors.Is(err, storage.ErrSegmentNotFound) {
			w.WriteHeader(http.StatusOK)
			return
		}
		h.fail(w, err, "agent status handling failed")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// AgentJoin serves the markup an answering leg runs: join the segment's
// conference. Callers re-bridged after a transfer arrive here too, with
// role=caller so their exit tears the conference down.
func (h *Handler) AgentJoin(w http.ResponseWriter, r *http.Request) {
	p := parseParams(r)
	if p.TenantID == "" || p.CallRef == "" {
		http.Error(w, "tenant and call are required", http.StatusBadRequest)
		return
	}
	metrics.Get().RecordWebhook("agent_join")

	seg, err := h.store.GetSegment(r.Context(), p.TenantID, p.CallRef)
	if err != nil {
		h.fail(w, err, "failed to load segment for join")
		return
	}
	if seg.ConferenceName == "" {
		h.writeMarkup(w, markup.New().HangupNow())
		return
	}

	isCaller := r.URL.Query().Get("role") == "caller"
	h.writeMarkup(w, markup.New().Add(&markup.Dial{
		Conference: &markup.Conference{
			StartConferenceOnEnter: true,
			EndConferenceOnExit:    isCaller,
			StatusCallback:         h.urls.Conference(p.TenantID, seg.LineID, seg.CallID, seg.Scratch.StepPath, seg.Scratch.Attempt),
			StatusCallbackEvent:    "join leave",
			Name:                   seg.ConferenceName,
		},
	}))
}

// Recording stores the recording reference on the segment and archives
// the audio when an archive bucket is configured
func (h *Handler) Recording(w http.ResponseWriter, r *http.Request) {
	p := parseParams(r)
	if p.TenantID == "" || p.CallRef == "" {
		http.Error(w, "tenant and call are required", http.StatusBadRequest)
		return
	}
	metrics.Get().RecordWebhook("recording")

	if p.RecordingURL != "" {
		_, err := storage.Mutate(r.Context(), h.store, p.TenantID, p.CallRef, func(s *types.CallSegment) error {
			if s.RecordingURL == p.RecordingURL && s.RecordingDuration == p.RecordingDuration {
				return storage.ErrNoChange
			}
			s.RecordingURL = p.RecordingURL
			s.RecordingDuration = p.RecordingDuration
			return nil
		})
		if err != nil {
			h.fail(w, err, "failed to store recording reference")
			return
		}

		if h.recordings != nil {
			if _, err := h.recordings.Archive(r.Context(), p.TenantID, p.CallRef, p.RecordingURL); err != nil {
				h.logger.Error().Err(err).
					Str("call_id", p.CallRef).
					Msg("failed to archive recording")
			}
		}
	}

	// The Record verb's action callback expects markup; status
	// callbacks ignore the body
	h.writeMarkup(w, markup.New().HangupNow())
}

// Transcription receives the provider's transcript and distributes it
// onto the chain's segments
func (h *Handler) Transcription(w http.ResponseWriter, r *http.Request) {
	p := parseParams(r)
	if p.TenantID == "" || p.CallRef == "" {
		http.Error(w, "tenant and call are required", http.StatusBadRequest)
		return
	}
	metrics.Get().RecordWebhook("transcription")

	utterances := parseTranscript(r, p)
	if len(utterances) == 0 {
		w.WriteHeader(http.StatusOK)
		return
	}

	seg, err := h.store.GetSegment(r.Context(), p.TenantID, p.CallRef)
	if err != nil {
		if errors.Is(err, storage.ErrSegmentNotFound) {
			w.WriteHeader(http.StatusOK)
			return
		}
		h.fail(w, err, "failed to load segment for transcription")
		return
	}

	if err := h.segmenter.Apply(r.Context(), p.TenantID, seg.ChainID, utterances); err != nil {
		h.fail(w, err, "failed to apply transcript")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// parseTranscript accepts either a structured utterance list or the
// provider's plain transcription text as a single utterance
func parseTranscript(r *http.Request, p *types.WebhookParams) []types.Utterance {
	if payload := r.PostFormValue("TranscriptionPayload"); payload != "" {
		var utterances []types.Utterance
		if err := json.Unmarshal([]byte(payload), &utterances); err == nil {
			return utterances
		}
	}
	if text := r.PostFormValue("TranscriptionText"); text != "" {
		return []types.Utterance{{
			Text:      text,
			StartSecs: 0,
			EndSecs:   p.RecordingDuration,
		}}
	}
	return nil
}

func (h *Handler) execContext(p *types.WebhookParams, s *types.CallSegment, def *types.FlowDefinition) *interpreter.Context {
	lineID := p.LineID
	if lineID == "" {
		lineID = s.LineID
	}
	return &interpreter.Context{
		TenantID: p.TenantID,
		LineID:   lineID,
		CallID:   s.CallID,
		ChainID:  s.ChainID,
		Flow:     def,
		Segment:  s,
		Attempt:  p.Attempt,
	}
}

// legEnded reports whether a call status means the leg is gone
func legEnded(status string) bool {
	switch status {
	case types.LegStatusCompleted, types.LegStatusNoAnswer, types.LegStatusBusy,
		types.LegStatusFailed, types.LegStatusCanceled:
		return true
	}
	return false
}

func (h *Handler) writeMarkup(w http.ResponseWriter, resp *markup.Response) {
	body, err := resp.Render()
	if err != nil {
		h.fail(w, err, "failed to render markup")
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.Write([]byte(body))
}

func (h *Handler) fail(w http.ResponseWriter, err error, msg string) {
	metrics.Get().RecordWebhookError()
	h.logger.Error().Err(err).Msg(msg)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
