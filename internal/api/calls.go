package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/velora-auto/trunkline/backend/internal/auth"
	"github.com/velora-auto/trunkline/backend/internal/resolve"
	"github.com/velora-auto/trunkline/backend/internal/storage"
	"github.com/velora-auto/trunkline/backend/internal/transfer"
	"github.com/velora-auto/trunkline/backend/internal/types"
)

// CallsHandler provides REST endpoints for live call control and call
// history
type CallsHandler struct {
	store     storage.SegmentStore
	transfers *transfer.Orchestrator
	logger    zerolog.Logger
}

// NewCallsHandler creates a new CallsHandler
func NewCallsHandler(store storage.SegmentStore, transfers *transfer.Orchestrator, logger zerolog.Logger) *CallsHandler {
	return &CallsHandler{
		store:     store,
		transfers: transfers,
		logger:    logger.With().Str("component", "calls_api").Logger(),
	}
}

// Routes mounts the call endpoints
func (h *CallsHandler) Routes(r chi.Router) {
	r.Get("/calls/{callId}", h.Get)
	r.Get("/calls/{callId}/chain", h.Chain)
	r.Post("/calls/{callId}/transfer", h.Transfer)
}

// Get handles GET /api/calls/{callId}
func (h *CallsHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	callID := chi.URLParam(r, "callId")

	seg, err := h.store.FindSegmentByLeg(r.Context(), claims.TenantID, callID)
	if err != nil {
		if errors.Is(err, storage.ErrSegmentNotFound) {
			http.Error(w, "call not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("call_id", callID).Msg("failed to load segment")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(seg)
}

// Chain handles GET /api/calls/{callId}/chain: the full transfer
// history of the call, ordered by segment number
func (h *CallsHandler) Chain(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	callID := chi.URLParam(r, "callId")

	seg, err := h.store.FindSegmentByLeg(r.Context(), claims.TenantID, callID)
	if err != nil {
		if errors.Is(err, storage.ErrSegmentNotFound) {
			http.Error(w, "call not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("call_id", callID).Msg("failed to load segment")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	chain, err := h.store.GetChain(r.Context(), claims.TenantID, seg.ChainID)
	if err != nil {
		h.logger.Error().Err(err).Str("chain_id", seg.ChainID).Msg("failed to load chain")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(chain)
}

// transferRequest is the console's transfer payload. fromIdentity lets
// the console attribute the transfer to the user initiating it when
// that differs from whoever answered the segment.
type transferRequest struct {
	Destination  string          `json:"destination"`
	Reason       string          `json:"reason,omitempty"`
	FromIdentity *types.Identity `json:"fromIdentity,omitempty"`
}

// Transfer handles POST /api/calls/{callId}/transfer
func (h *CallsHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	callID := chi.URLParam(r, "callId")

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Destination == "" {
		http.Error(w, "destination is required", http.StatusBadRequest)
		return
	}

	result, err := h.transfers.Transfer(r.Context(), transfer.Request{
		TenantID:     claims.TenantID,
		LegID:        callID,
		Destination:  req.Destination,
		Reason:       req.Reason,
		FromIdentity: req.FromIdentity,
	})
	if err != nil {
		switch {
		case errors.Is(err, transfer.ErrNoActiveSegment):
			http.Error(w, "no active call for leg", http.StatusNotFound)
		case errors.Is(err, transfer.ErrNotInProgress):
			http.Error(w, "call is not in progress", http.StatusConflict)
		case errors.Is(err, transfer.ErrTransferRace):
			http.Error(w, "transfer already in progress", http.StatusConflict)
		case errors.Is(err, resolve.ErrUnresolvable):
			http.Error(w, "destination cannot be resolved", http.StatusUnprocessableEntity)
		default:
			h.logger.Error().Err(err).Str("call_id", callID).Msg("transfer failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	h.logger.Info().
		Str("tenant_id", claims.TenantID).
		Str("chain_id", result.From.ChainID).
		Int("segment", result.To.SegmentNumber).
		Msg("call transferred")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
