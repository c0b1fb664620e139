package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the ink tutoring service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	DatabaseURL string

	MathpixBaseURL string
	MathpixAppID   string
	MathpixAppKey  string
	HRRSessionTTL  time.Duration

	GroqBaseURL  string
	GroqAPIKey   string
	GroqSTTModel string

	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	ReasoningModel    string

	DeepInfraBaseURL string
	DeepInfraAPIKey  string
	TTSModel         string
	TTSVoice         string
	TTSSpeed         float64

	TranscribeDebounce time.Duration
	ReasoningDebounce  time.Duration
	TranscriptionWait  time.Duration
	TTSHandleTTL       time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "inkwell"),
		AllowAnyOrigin:   false,
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		MathpixBaseURL:   envOrDefault("MATHPIX_BASE_URL", "https://api.mathpix.com"),
		MathpixAppID:     stringsTrimSpace("MATHPIX_APP_ID"),
		MathpixAppKey:    stringsTrimSpace("MATHPIX_APP_KEY"),
		GroqBaseURL:      envOrDefault("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		GroqAPIKey:       stringsTrimSpace("GROQ_API_KEY"),
		// Turbo trades a little accuracy for clip turnaround, which matters
		// more for short spoken questions.
		GroqSTTModel:      envOrDefault("GROQ_STT_MODEL", "whisper-large-v3-turbo"),
		OpenRouterBaseURL: envOrDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterAPIKey:  stringsTrimSpace("OPENROUTER_API_KEY"),
		ReasoningModel:    envOrDefault("REASONING_MODEL", "openai/gpt-oss-120b"),
		DeepInfraBaseURL:  envOrDefault("DEEPINFRA_BASE_URL", "https://api.deepinfra.com/v1/openai"),
		DeepInfraAPIKey:   stringsTrimSpace("DEEPINFRA_API_KEY"),
		TTSModel:          envOrDefault("TTS_MODEL", "hexgrad/Kokoro-82M"),
		TTSVoice:          envOrDefault("TTS_VOICE", "af_heart"),
		TTSSpeed:          0.95,

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 30 * time.Minute,
		TranscribeDebounce:       1500 * time.Millisecond,
		ReasoningDebounce:        1500 * time.Millisecond,
		TranscriptionWait:        10 * time.Second,
		HRRSessionTTL:            4*time.Minute + 30*time.Second,
		TTSHandleTTL:             5 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.TranscribeDebounce, err = durationFromEnv("TRANSCRIBE_DEBOUNCE", cfg.TranscribeDebounce)
	if err != nil {
		return Config{}, err
	}
	cfg.ReasoningDebounce, err = durationFromEnv("REASONING_DEBOUNCE", cfg.ReasoningDebounce)
	if err != nil {
		return Config{}, err
	}
	cfg.TranscriptionWait, err = durationFromEnv("TRANSCRIPTION_WAIT", cfg.TranscriptionWait)
	if err != nil {
		return Config{}, err
	}
	cfg.HRRSessionTTL, err = durationFromEnv("HRR_SESSION_TTL", cfg.HRRSessionTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSHandleTTL, err = durationFromEnv("TTS_HANDLE_TTL", cfg.TTSHandleTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSSpeed, err = floatFromEnv("TTS_SPEED", cfg.TTSSpeed)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.TranscribeDebounce < 0 {
		return Config{}, fmt.Errorf("TRANSCRIBE_DEBOUNCE must be >= 0")
	}
	if cfg.ReasoningDebounce < 0 {
		return Config{}, fmt.Errorf("REASONING_DEBOUNCE must be >= 0")
	}
	if cfg.TranscriptionWait <= 0 {
		return Config{}, fmt.Errorf("TRANSCRIPTION_WAIT must be positive")
	}
	if cfg.HRRSessionTTL <= 0 {
		return Config{}, fmt.Errorf("HRR_SESSION_TTL must be positive")
	}
	if cfg.TTSHandleTTL <= 0 {
		return Config{}, fmt.Errorf("TTS_HANDLE_TTL must be positive")
	}
	if cfg.TTSSpeed <= 0 {
		return Config{}, fmt.Errorf("TTS_SPEED must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
