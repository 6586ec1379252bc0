// Package admin implements the out-of-core HTTP admin surface referenced by
// spec §4/§6: conversation-config CRUD, history read, and conversation
// deletion. It talks to the same [bus.Keystore] the orchestrator writes
// through, following the spec's "gateway and others are read-only" rule —
// admin is a privileged exception allowed to write conversation_config
// (the orchestrator only reads it).
//
// Handlers follow the teacher's internal/health.Handler idiom: a small
// struct holding its dependencies, registered onto a caller-owned
// [http.ServeMux] via Register, JSON responses via a shared writeJSON
// helper.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/MrWong99/glyphoxa/internal/config"
	"github.com/MrWong99/glyphoxa/pkg/bus"
	"github.com/MrWong99/glyphoxa/pkg/dialog"
)

// maxConfigBodyBytes bounds a config PATCH body; well above any realistic
// ConversationConfig payload.
const maxConfigBodyBytes = 1 << 16

// Handler serves the admin HTTP surface.
type Handler struct {
	bus  *bus.Bus
	keys config.ResolvedKeyPrefixes
}

// New creates a Handler backed by b.
func New(b *bus.Bus, keys config.ResolvedKeyPrefixes) *Handler {
	return &Handler{bus: b, keys: keys}
}

// Register mounts every admin route onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /conversations/{id}/config", h.patchConfig)
	mux.HandleFunc("GET /conversations/{id}/config", h.getConfig)
	mux.HandleFunc("GET /conversations/{id}/history", h.getHistory)
	mux.HandleFunc("DELETE /conversations/{id}", h.deleteConversation)
	mux.HandleFunc("GET /health", h.health)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// patchConfig merges the JSON body on top of the stored config (or the
// zero-value defaults envelope if none exists yet) and persists the result
// with no TTL, matching spec §6's "conversation_config … No TTL by default".
func (h *Handler) patchConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}
	if len(body) > maxConfigBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("config patch body too large"))
		return
	}

	base, err := h.loadConfig(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	merged, err := dialog.ApplyConfigPatch(base, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	payload, err := json.Marshal(merged)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("marshal merged config: %w", err))
		return
	}
	if err := h.bus.Keystore.Set(r.Context(), h.keys.ConversationConfig+id.String(), payload); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("persist config: %w", err))
		return
	}

	writeJSON(w, http.StatusOK, merged)
}

// getConfig returns the stored config or a defaults envelope — per spec §6
// this endpoint never 404s.
func (h *Handler) getConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	cfg, err := h.loadConfig(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// getHistory returns the conversation's message history, or an empty array
// if none has been recorded yet. Added per SPEC_FULL.md's original_source
// supplement — spec.md's distilled admin surface lists only the config
// CRUD + health endpoints, but the original exposes history read too.
func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	raw, err := h.bus.Keystore.Get(r.Context(), h.keys.ConversationHistory+id.String())
	if errors.Is(err, bus.ErrNotFound) {
		writeJSON(w, http.StatusOK, []dialog.Message{})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("load history: %w", err))
		return
	}
	var history []dialog.Message
	if err := json.Unmarshal(raw, &history); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("decode history: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// deleteConversation removes the stored config, history, and any lingering
// TTS-active sentinel for id — the explicit-deletion path spec §3 names
// alongside TTL expiry as a conversation's two teardown routes.
func (h *Handler) deleteConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	var errs []error
	if err := h.bus.Keystore.Delete(ctx, h.keys.ConversationConfig+id.String()); err != nil {
		errs = append(errs, err)
	}
	if err := h.bus.Keystore.Delete(ctx, h.keys.ConversationHistory+id.String()); err != nil {
		errs = append(errs, err)
	}
	if err := h.bus.Keystore.Delete(ctx, h.keys.TTSActiveState+id.String()); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		slog.Warn("admin: delete conversation encountered errors", "conversation_id", id.String(), "err", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) loadConfig(ctx context.Context, id dialog.ConversationID) (dialog.ConversationConfig, error) {
	raw, err := h.bus.Keystore.Get(ctx, h.keys.ConversationConfig+id.String())
	if errors.Is(err, bus.ErrNotFound) {
		return dialog.ConversationConfig{}, nil
	}
	if err != nil {
		return dialog.ConversationConfig{}, fmt.Errorf("load config: %w", err)
	}
	var cfg dialog.ConversationConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return dialog.ConversationConfig{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (dialog.ConversationID, bool) {
	id, err := dialog.ParseConversationID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid conversation id: %w", err))
		return dialog.ConversationID{}, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("admin: encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
