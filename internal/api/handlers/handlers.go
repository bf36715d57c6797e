// Package handlers implements the HTTP handlers for the Legion control plane.
// Every handler goes through legion.Service; nothing here touches the store
// directly.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/agentoven/legion/internal/legion"
	"github.com/agentoven/legion/internal/store"
	"github.com/agentoven/legion/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Legion *legion.Service
}

// New creates a new Handlers instance.
func New(svc *legion.Service) *Handlers {
	return &Handlers{Legion: svc}
}

// ══════════════════════════════════════════════════════════════
// ── API Key Handlers ─────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	pool, err := h.Legion.ListAPIKeys(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	masked := make([]models.APIKey, len(pool))
	for i := range pool {
		masked[i] = pool[i].Masked()
	}
	respondJSON(w, http.StatusOK, masked)
}

func (h *Handlers) AddAPIKey(w http.ResponseWriter, r *http.Request) {
	var k models.APIKey
	if !decode(w, r, &k) {
		return
	}
	created, err := h.Legion.AddAPIKey(r.Context(), &k)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created.Masked())
}

func (h *Handlers) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	if err := h.Legion.DeleteAPIKey(r.Context(), chi.URLParam(r, "keyID")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════
// ── Minion Handlers ──────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListMinions(w http.ResponseWriter, r *http.Request) {
	minions, err := h.Legion.ListMinions(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if minions == nil {
		minions = []models.Minion{}
	}
	respondJSON(w, http.StatusOK, minions)
}

func (h *Handlers) CreateMinion(w http.ResponseWriter, r *http.Request) {
	var p models.MinionPayload
	if !decode(w, r, &p) {
		return
	}
	m, err := h.Legion.CreateMinion(r.Context(), &p)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, m)
}

func (h *Handlers) UpdateMinion(w http.ResponseWriter, r *http.Request) {
	var p models.MinionPayload
	if !decode(w, r, &p) {
		return
	}
	m, err := h.Legion.UpdateMinion(r.Context(), chi.URLParam(r, "minionID"), &p)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (h *Handlers) DeleteMinion(w http.ResponseWriter, r *http.Request) {
	if err := h.Legion.DeleteMinion(r.Context(), chi.URLParam(r, "minionID")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════
// ── Channel Handlers ─────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := h.Legion.ListChannels(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if channels == nil {
		channels = []models.Channel{}
	}
	respondJSON(w, http.StatusOK, channels)
}

func (h *Handlers) CreateChannel(w http.ResponseWriter, r *http.Request) {
	var p models.ChannelPayload
	if !decode(w, r, &p) {
		return
	}
	c, err := h.Legion.CreateChannel(r.Context(), &p)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func (h *Handlers) UpdateChannel(w http.ResponseWriter, r *http.Request) {
	var p models.ChannelPayload
	if !decode(w, r, &p) {
		return
	}
	c, err := h.Legion.UpdateChannel(r.Context(), chi.URLParam(r, "channelID"), &p)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) DeleteChannel(w http.ResponseWriter, r *http.Request) {
	if err := h.Legion.DeleteChannel(r.Context(), chi.URLParam(r, "channelID")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ContinueChannel runs an unprompted turn on the channel's latest message.
func (h *Handlers) ContinueChannel(w http.ResponseWriter, r *http.Request) {
	out, err := h.Legion.ContinueConversation(turnContext(r), chi.URLParam(r, "channelID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// ══════════════════════════════════════════════════════════════
// ── Message Handlers ─────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.Legion.ListMessages(r.Context(), chi.URLParam(r, "channelID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	respondJSON(w, http.StatusOK, msgs)
}

// PostMessage delivers a commander message and responds with the turn's
// System logs followed by the minion replies.
func (h *Handlers) PostMessage(w http.ResponseWriter, r *http.Request) {
	var p models.UserMessagePayload
	if !decode(w, r, &p) {
		return
	}
	if p.ChannelID == "" || strings.TrimSpace(p.UserInput) == "" {
		respondError(w, http.StatusBadRequest, "channelId and userInput are required")
		return
	}
	out, err := h.Legion.HandleUserMessage(turnContext(r), p.ChannelID, p.UserInput)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// ══════════════════════════════════════════════════════════════
// ── Helpers ──────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// turnContext detaches a turn from the request lifetime. Once started, a
// turn runs every phase to completion even if the client goes away; request
// values such as the trace span and request ID are kept.
func turnContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case store.IsNotFound(err):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, legion.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg("Request failed")
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
