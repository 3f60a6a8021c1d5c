package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the chatbot service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogDir           string
	Debug            bool
	AllowAnyOrigin   bool

	// DatabaseURL selects the document store driver by scheme
	// (mongodb://, postgres://). Empty means in-memory.
	DatabaseURL   string
	MongoDatabase string

	SessionCookieName   string
	SessionCookieMaxAge time.Duration

	OpenAIAPIKey  string
	OpenAIBaseURL string
	ChatModel     string
	HistoryWindow int

	AudioCacheDir     string
	DefaultVoice      string
	FallbackToDefault bool

	TortoisePython    string
	TortoiseScript    string
	TortoiseVoiceDir  string
	TortoiseKillGrace time.Duration
	// Per-preset synthesis deadlines; higher quality is allowed more time.
	TortoiseTimeoutFast   time.Duration
	TortoiseTimeoutMedium time.Duration
	TortoiseTimeoutHigh   time.Duration

	ConversationRetention time.Duration
	JanitorInterval       time.Duration
}

// Load reads environment variables and applies safe defaults. A .env file in
// the working directory is honored when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		BindAddr:                envOrDefault("APP_BIND_ADDR", ":3000"),
		MetricsNamespace:        envOrDefault("APP_METRICS_NAMESPACE", "goggins"),
		LogDir:                  envOrDefault("APP_LOG_DIR", "logs"),
		DatabaseURL:             envTrimmed("DATABASE_URL"),
		MongoDatabase:           envOrDefault("MONGO_DATABASE", "goggins-chatbot"),
		SessionCookieName:       envOrDefault("SESSION_COOKIE_NAME", "goggins_session"),
		OpenAIAPIKey:            envTrimmed("OPENAI_API_KEY"),
		OpenAIBaseURL:           envOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		ChatModel:               envOrDefault("OPENAI_CHAT_MODEL", "gpt-3.5-turbo"),
		HistoryWindow:           12,
		AudioCacheDir:           envOrDefault("AUDIO_CACHE_DIR", "audio_cache"),
		DefaultVoice:            envOrDefault("TTS_DEFAULT_VOICE", "onyx"),
		FallbackToDefault:       true,
		TortoisePython:          envOrDefault("TORTOISE_PYTHON", "python3"),
		TortoiseScript:          envOrDefault("TORTOISE_SCRIPT", "scripts/generate_speech.py"),
		TortoiseVoiceDir:        envOrDefault("TORTOISE_VOICE_DIR", "voice_samples"),
		TortoiseKillGrace:       5 * time.Second,
		TortoiseTimeoutFast:     4 * time.Minute,
		TortoiseTimeoutMedium:   10 * time.Minute,
		TortoiseTimeoutHigh:     25 * time.Minute,
		ShutdownTimeout:         15 * time.Second,
		SessionCookieMaxAge:     7 * 24 * time.Hour,
		ConversationRetention:   30 * 24 * time.Hour,
		JanitorInterval:         time.Hour,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionCookieMaxAge, err = durationFromEnv("SESSION_COOKIE_MAX_AGE", cfg.SessionCookieMaxAge)
	if err != nil {
		return Config{}, err
	}
	cfg.TortoiseKillGrace, err = durationFromEnv("TORTOISE_KILL_GRACE", cfg.TortoiseKillGrace)
	if err != nil {
		return Config{}, err
	}
	cfg.TortoiseTimeoutFast, err = durationFromEnv("TORTOISE_TIMEOUT_FAST", cfg.TortoiseTimeoutFast)
	if err != nil {
		return Config{}, err
	}
	cfg.TortoiseTimeoutMedium, err = durationFromEnv("TORTOISE_TIMEOUT_MEDIUM", cfg.TortoiseTimeoutMedium)
	if err != nil {
		return Config{}, err
	}
	cfg.TortoiseTimeoutHigh, err = durationFromEnv("TORTOISE_TIMEOUT_HIGH", cfg.TortoiseTimeoutHigh)
	if err != nil {
		return Config{}, err
	}
	cfg.ConversationRetention, err = durationFromEnv("CONVERSATION_RETENTION", cfg.ConversationRetention)
	if err != nil {
		return Config{}, err
	}
	cfg.JanitorInterval, err = durationFromEnv("JANITOR_INTERVAL", cfg.JanitorInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryWindow, err = intFromEnv("CHAT_HISTORY_WINDOW", cfg.HistoryWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.Debug, err = boolFromEnv("APP_DEBUG", cfg.Debug)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.FallbackToDefault, err = boolFromEnv("TTS_FALLBACK_TO_DEFAULT", cfg.FallbackToDefault)
	if err != nil {
		return Config{}, err
	}

	if cfg.HistoryWindow <= 0 {
		return Config{}, fmt.Errorf("CHAT_HISTORY_WINDOW must be positive")
	}
	if cfg.SessionCookieMaxAge < time.Minute {
		return Config{}, fmt.Errorf("SESSION_COOKIE_MAX_AGE must be at least 1m")
	}
	if cfg.TortoiseKillGrace <= 0 {
		return Config{}, fmt.Errorf("TORTOISE_KILL_GRACE must be positive")
	}
	if cfg.TortoiseTimeoutFast <= 0 || cfg.TortoiseTimeoutMedium <= 0 || cfg.TortoiseTimeoutHigh <= 0 {
		return Config{}, fmt.Errorf("tortoise timeouts must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
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
