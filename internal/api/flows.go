// Package api is the authenticated console surface: flow management
// and call control for dealership staff. Tenancy comes from the
// caller's token, never from the request body.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/velora-auto/trunkline/backend/internal/auth"
	"github.com/velora-auto/trunkline/backend/internal/flow"
	"github.com/velora-auto/trunkline/backend/internal/types"
)

// FlowsHandler provides REST endpoints for flow management
type FlowsHandler struct {
	store  flow.Store
	synth  flow.Synthesizer
	logger zerolog.Logger
}

// NewFlowsHandler creates a new FlowsHandler. synth may be nil when no
// synthesis backend is configured; text prompts are then served as
// live speech instead of cached audio.
func NewFlowsHandler(store flow.Store, synth flow.Synthesizer, logger zerolog.Logger) *FlowsHandler {
	return &FlowsHandler{
		store:  store,
		synth:  synth,
		logger: logger.With().Str("component", "flows_api").Logger(),
	}
}

// Routes mounts the flow endpoints
func (h *FlowsHandler) Routes(r chi.Router) {
	r.Get("/flows/{lineId}", h.Get)
	r.Put("/flows/{lineId}", h.Put)
	r.Post("/flows/validate", h.Validate)
}

// flowRequest is the console's flow payload
type flowRequest struct {
	Name  string       `json:"name"`
	Steps []types.Step `json:"steps"`
}

// Get handles GET /api/flows/{lineId}
func (h *FlowsHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	lineID := chi.URLParam(r, "lineId")

	def, err := h.store.GetFlowForLine(r.Context(), claims.TenantID, lineID)
	if err != nil {
		if errors.Is(err, flow.ErrFlowNotFound) {
			http.Error(w, "no flow configured for line", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("line_id", lineID).Msg("failed to load flow")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(def)
}

// Put handles PUT /api/flows/{lineId}: validate, synthesize missing
// prompt audio, persist
func (h *FlowsHandler) Put(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !auth.CanManageFlows(claims) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	lineID := chi.URLParam(r, "lineId")

	var req flowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	if err := flow.Validate(req.Steps); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	if h.synth != nil {
		if err := flow.EnsureAudioCached(r.Context(), h.synth, req.Steps); err != nil {
			h.logger.Error().Err(err).Str("line_id", lineID).Msg("prompt synthesis failed")
			http.Error(w, "prompt synthesis failed", http.StatusBadGateway)
			return
		}
	}

	def := &types.FlowDefinition{
		TenantID:  claims.TenantID,
		LineID:    lineID,
		Name:      req.Name,
		Steps:     req.Steps,
		UpdatedAt: time.Now().UTC(),
	}
	if err := h.store.PutFlow(r.Context(), def); err != nil {
		h.logger.Error().Err(err).Str("line_id", lineID).Msg("failed to store flow")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.logger.Info().
		Str("tenant_id", claims.TenantID).
		Str("line_id", lineID).
		Str("flow_name", req.Name).
		Msg("flow updated")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(def)
}

// Validate handles POST /api/flows/validate: dry-run validation for
// the flow editor
func (h *FlowsHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req flowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := flow.Validate(req.Steps); err != nil {
		json.NewEncoder(w).Encode(map[string]any{"valid": false, "error": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"valid": true})
}
