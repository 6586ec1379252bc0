package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/glyphoxa/internal/config"
	"github.com/MrWong99/glyphoxa/pkg/bus"
	"github.com/MrWong99/glyphoxa/pkg/bus/membus"
	"github.com/MrWong99/glyphoxa/pkg/dialog"
)

func newTestHandler(t *testing.T) (*Handler, *bus.Bus) {
	t.Helper()
	b := &bus.Bus{Broker: membus.New(), Keystore: membus.NewKeystore(time.Minute)}
	keys := config.KeyPrefixesConfig{}.Resolve()
	return New(b, keys), b
}

func newMux(h *Handler) http.Handler {
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := newMux(h)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestGetConfig_NeverNotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := newMux(h)

	id := dialog.NewConversationID()
	req := httptest.NewRequest(http.MethodGet, "/conversations/"+id.String()+"/config", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for an unseen conversation", rec.Code)
	}
	var cfg dialog.ConversationConfig
	if err := json.Unmarshal(rec.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestPatchConfig_MergesAndPersists(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := newMux(h)

	id := dialog.NewConversationID()
	patch := `{"llm_model_name":"gpt-4o-mini","llm_temperature":0.9}`
	req := httptest.NewRequest(http.MethodPost, "/conversations/"+id.String()+"/config", strings.NewReader(patch))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", rec.Code, rec.Body.String())
	}

	// A subsequent GET should reflect the merged value.
	getReq := httptest.NewRequest(http.MethodGet, "/conversations/"+id.String()+"/config", nil)
	getRec := httptest.NewRecorder()
	mux.ServeHTTP(getRec, getReq)

	var cfg dialog.ConversationConfig
	if err := json.Unmarshal(getRec.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.LLMModelName != "gpt-4o-mini" {
		t.Errorf("llm_model_name = %q, want gpt-4o-mini", cfg.LLMModelName)
	}
}

func TestPatchConfig_RejectsOutOfRangeTemperature(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := newMux(h)

	id := dialog.NewConversationID()
	patch := `{"llm_temperature":5.0}`
	req := httptest.NewRequest(http.MethodPost, "/conversations/"+id.String()+"/config", strings.NewReader(patch))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for out-of-range temperature", rec.Code)
	}
}

func TestGetHistory_EmptyWhenUnset(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := newMux(h)

	id := dialog.NewConversationID()
	req := httptest.NewRequest(http.MethodGet, "/conversations/"+id.String()+"/history", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var history []dialog.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("history = %v, want empty", history)
	}
}

func TestDeleteConversation_RemovesConfig(t *testing.T) {
	h, b := newTestHandler(t)
	mux := newMux(h)

	id := dialog.NewConversationID()
	keys := config.KeyPrefixesConfig{}.Resolve()
	if err := b.Keystore.Set(t.Context(), keys.ConversationConfig+id.String(), []byte(`{"llm_model_name":"x"}`)); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/conversations/"+id.String(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if _, err := b.Keystore.Get(t.Context(), keys.ConversationConfig+id.String()); err == nil {
		t.Error("expected config to be deleted")
	}
}

func TestPatchConfig_InvalidConversationID(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := newMux(h)

	req := httptest.NewRequest(http.MethodGet, "/conversations/not-a-uuid/config", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for malformed id", rec.Code)
	}
}
