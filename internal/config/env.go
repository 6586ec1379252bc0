package config

import (
	"os"
	"strconv"
	"time"
)

// ApplyEnvOverrides layers environment-variable overrides on top of a
// YAML-loaded [Config], following the env-override helper idiom from the
// sibling corpus repo's cmd/gateway/config.go. Only secrets and
// deployment-specific values are sourced from the environment — per spec
// §6, these are never expected to be committed to the YAML file.
//
// Call this after [Load] and before passing cfg to any worker's New
// function.
func ApplyEnvOverrides(cfg *Config) {
	cfg.Server.ListenAddr = envStr("LISTEN_ADDR", cfg.Server.ListenAddr)
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.Server.LogLevel = LogLevel(lvl)
	}
	cfg.Server.LogFormat = envStr("LOG_FORMAT", cfg.Server.LogFormat)

	cfg.Bus.PostgresDSN = envStr("BUS_POSTGRES_DSN", cfg.Bus.PostgresDSN)
	if driver := os.Getenv("BUS_DRIVER"); driver != "" {
		cfg.Bus.Driver = BusDriver(driver)
	}

	cfg.Providers.LLM.APIKey = envStr("LLM_API_KEY", cfg.Providers.LLM.APIKey)
	cfg.Providers.LLM.BaseURL = envStr("LLM_BASE_URL", cfg.Providers.LLM.BaseURL)
	cfg.Providers.LLM.Model = envStr("LLM_MODEL", cfg.Providers.LLM.Model)

	cfg.Providers.STT.APIKey = envStr("STT_API_KEY", cfg.Providers.STT.APIKey)
	cfg.Providers.STT.BaseURL = envStr("STT_BASE_URL", cfg.Providers.STT.BaseURL)
	cfg.Providers.STT.Model = envStr("STT_MODEL", cfg.Providers.STT.Model)

	cfg.Providers.TTS.APIKey = envStr("TTS_API_KEY", cfg.Providers.TTS.APIKey)
	cfg.Providers.TTS.BaseURL = envStr("TTS_BASE_URL", cfg.Providers.TTS.BaseURL)
	cfg.Providers.TTS.Model = envStr("TTS_MODEL", cfg.Providers.TTS.Model)

	cfg.Providers.VAD.Model = envStr("VAD_MODEL_PATH", cfg.Providers.VAD.Model)

	cfg.Pipeline.ConversationTTL = envDuration("CONVERSATION_TTL", cfg.Pipeline.ConversationTTL)
	cfg.Pipeline.ProcessorInactivityTimeout = envDuration("PROCESSOR_INACTIVITY_TIMEOUT", cfg.Pipeline.ProcessorInactivityTimeout)
	cfg.Pipeline.TTSProcessorIdleTimeout = envDuration("TTS_PROCESSOR_IDLE_TIMEOUT", cfg.Pipeline.TTSProcessorIdleTimeout)
	cfg.Pipeline.ToolCallTimeout = envDuration("TOOL_CALL_TIMEOUT", cfg.Pipeline.ToolCallTimeout)
	cfg.Pipeline.MaxToolRecursion = envInt("MAX_TOOL_RECURSION", cfg.Pipeline.MaxToolRecursion)
	cfg.Pipeline.HistoryMaxTurns = envInt("HISTORY_MAX_TURNS", cfg.Pipeline.HistoryMaxTurns)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// envDuration reads key as a whole number of seconds, matching how the
// pipeline's timeout knobs are documented in spec §5.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(secs) * time.Second
}
