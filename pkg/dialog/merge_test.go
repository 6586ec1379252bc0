package dialog

import (
	"strings"
	"testing"
)

func TestApplyConfigPatch_OmittedFieldKeepsBase(t *testing.T) {
	base := ConversationConfig{LLMModelName: "gpt-4", LLMTemperature: 0.7}
	out, err := ApplyConfigPatch(base, []byte(`{"tts_voice_id":"rachel"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.LLMModelName != "gpt-4" {
		t.Errorf("llm_model_name = %q, want unchanged", out.LLMModelName)
	}
	if out.LLMTemperature != 0.7 {
		t.Errorf("llm_temperature = %v, want unchanged", out.LLMTemperature)
	}
	if out.TTSVoiceID != "rachel" {
		t.Errorf("tts_voice_id = %q, want %q", out.TTSVoiceID, "rachel")
	}
}

func TestApplyConfigPatch_ExplicitNullResetsField(t *testing.T) {
	base := ConversationConfig{LLMModelName: "gpt-4"}
	out, err := ApplyConfigPatch(base, []byte(`{"llm_model_name":null}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.LLMModelName != "" {
		t.Errorf("llm_model_name = %q, want reset to empty", out.LLMModelName)
	}
}

func TestApplyConfigPatch_EmptyPatchIsNoop(t *testing.T) {
	base := ConversationConfig{LLMModelName: "gpt-4", VADAggressiveness: 2}
	out, err := ApplyConfigPatch(base, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != base {
		t.Errorf("out = %+v, want unchanged %+v", out, base)
	}
}

func TestApplyConfigPatch_UnknownFieldRejected(t *testing.T) {
	_, err := ApplyConfigPatch(ConversationConfig{}, []byte(`{"bogus_field":1}`))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "bogus_field") {
		t.Errorf("error should mention bogus_field, got: %v", err)
	}
}

func TestApplyConfigPatch_InvalidJSON(t *testing.T) {
	_, err := ApplyConfigPatch(ConversationConfig{}, []byte(`{not json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

func TestApplyConfigPatch_NotAnObject(t *testing.T) {
	_, err := ApplyConfigPatch(ConversationConfig{}, []byte(`[1,2,3]`))
	if err == nil {
		t.Fatal("expected error for non-object patch, got nil")
	}
}

func TestApplyConfigPatch_TemperatureOutOfRange(t *testing.T) {
	_, err := ApplyConfigPatch(ConversationConfig{}, []byte(`{"llm_temperature":2.5}`))
	if err == nil {
		t.Fatal("expected error for out-of-range llm_temperature, got nil")
	}
}

func TestApplyConfigPatch_VADAggressivenessOutOfRange(t *testing.T) {
	_, err := ApplyConfigPatch(ConversationConfig{}, []byte(`{"vad_aggressiveness":4}`))
	if err == nil {
		t.Fatal("expected error for out-of-range vad_aggressiveness, got nil")
	}
}

func TestEncodeConfigPatch_RoundTrip(t *testing.T) {
	cfg := ConversationConfig{
		LLMModelName:      "gpt-4",
		LLMTemperature:    0.9,
		LLMMaxTokens:      512,
		TTSVoiceID:        "rachel",
		VADAggressiveness: 3,
	}
	body, err := EncodeConfigPatch(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := ApplyConfigPatch(ConversationConfig{}, body)
	if err != nil {
		t.Fatalf("unexpected error applying encoded patch: %v", err)
	}
	if out != cfg {
		t.Errorf("out = %+v, want %+v", out, cfg)
	}
}
