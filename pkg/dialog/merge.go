package dialog

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// configPatchFields lists the JSON keys of ConversationConfig that the admin
// merge-patch endpoint accepts. Anything else in the patch body is rejected
// so that typos surface immediately instead of being silently dropped.
var configPatchFields = map[string]bool{
	"llm_model_name":     true,
	"llm_temperature":    true,
	"llm_max_tokens":     true,
	"tts_voice_id":       true,
	"vad_aggressiveness": true,
}

// ApplyConfigPatch applies a raw JSON merge-patch body on top of base and
// returns the resulting config.
//
// gjson distinguishes a field that is absent from one that is explicitly
// null, which plain unmarshaling into ConversationConfig cannot: a field
// omitted from patch leaves base untouched, while a field present as `null`
// resets it to its zero value. This is the distinction [ConversationConfig.Merge]
// itself cannot make, since it only sees zero values after decoding.
func ApplyConfigPatch(base ConversationConfig, patch []byte) (ConversationConfig, error) {
	if len(patch) == 0 {
		return base, nil
	}
	if !gjson.ValidBytes(patch) {
		return ConversationConfig{}, fmt.Errorf("dialog: config patch is not valid JSON")
	}
	root := gjson.ParseBytes(patch)
	if !root.IsObject() {
		return ConversationConfig{}, fmt.Errorf("dialog: config patch must be a JSON object")
	}

	out := base
	var unknown []string
	root.ForEach(func(key, value gjson.Result) bool {
		k := key.String()
		if !configPatchFields[k] {
			unknown = append(unknown, k)
			return true
		}
		null := value.Type == gjson.Null
		switch k {
		case "llm_model_name":
			if null {
				out.LLMModelName = ""
			} else {
				out.LLMModelName = value.String()
			}
		case "llm_temperature":
			if null {
				out.LLMTemperature = 0
			} else {
				out.LLMTemperature = value.Float()
			}
		case "llm_max_tokens":
			if null {
				out.LLMMaxTokens = 0
			} else {
				out.LLMMaxTokens = int(value.Int())
			}
		case "tts_voice_id":
			if null {
				out.TTSVoiceID = ""
			} else {
				out.TTSVoiceID = value.String()
			}
		case "vad_aggressiveness":
			if null {
				out.VADAggressiveness = 0
			} else {
				out.VADAggressiveness = int(value.Int())
			}
		}
		return true
	})
	if len(unknown) > 0 {
		return ConversationConfig{}, fmt.Errorf("dialog: config patch has unknown field(s): %v", unknown)
	}
	if err := validateConfig(out); err != nil {
		return ConversationConfig{}, err
	}
	return out, nil
}

// validateConfig enforces the bounds the admin HTTP surface documents for a
// conversation config patch.
func validateConfig(c ConversationConfig) error {
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		return fmt.Errorf("dialog: llm_temperature must be in [0, 2], got %v", c.LLMTemperature)
	}
	if c.LLMMaxTokens < 0 {
		return fmt.Errorf("dialog: llm_max_tokens must be >= 0, got %d", c.LLMMaxTokens)
	}
	if c.VADAggressiveness < 0 || c.VADAggressiveness > 3 {
		return fmt.Errorf("dialog: vad_aggressiveness must be in [0, 3], got %d", c.VADAggressiveness)
	}
	return nil
}

// EncodeConfigPatch renders cfg as a merge-patch JSON body, used by the admin
// client helper and by tests that round-trip a config through ApplyConfigPatch.
func EncodeConfigPatch(cfg ConversationConfig) ([]byte, error) {
	doc := "{}"
	var err error
	if doc, err = sjson.Set(doc, "llm_model_name", cfg.LLMModelName); err != nil {
		return nil, err
	}
	if doc, err = sjson.Set(doc, "llm_temperature", cfg.LLMTemperature); err != nil {
		return nil, err
	}
	if doc, err = sjson.Set(doc, "llm_max_tokens", cfg.LLMMaxTokens); err != nil {
		return nil, err
	}
	if doc, err = sjson.Set(doc, "tts_voice_id", cfg.TTSVoiceID); err != nil {
		return nil, err
	}
	if doc, err = sjson.Set(doc, "vad_aggressiveness", cfg.VADAggressiveness); err != nil {
		return nil, err
	}
	return []byte(doc), nil
}
