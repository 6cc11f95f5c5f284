package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds client and gateway configuration
type Config struct {
	// Client
	ServerURL      string        `yaml:"server_url"`
	UserID         string        `yaml:"user_id"`
	Audio          bool          `yaml:"audio"`
	Token          string        `yaml:"token"`
	TokenFile      string        `yaml:"token_file"`
	TokenPlacement string        `yaml:"token_placement"` // "query" or "subprotocol"
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	PlaybackPeriod time.Duration `yaml:"playback_period"`
	MaxBufferSize  int           `yaml:"max_buffer_size"` // Maximum audio bytes held between flushes
	LogLevel       string        `yaml:"log_level"`
	LogFormat      string        `yaml:"log_format"`

	// Gateway
	Port            int           `yaml:"port"`
	RedisURL        string        `yaml:"redis_url"`
	RedisPassword   string        `yaml:"redis_password"`
	MaxSessions     int           `yaml:"max_sessions"`
	SessionTimeout  time.Duration `yaml:"session_timeout"`
	GeminiAPIKey    string        `yaml:"gemini_api_key"`
	AgentBackend    string        `yaml:"agent_backend"` // "gemini" or "echo"
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	KeepAlivePeriod time.Duration `yaml:"keepalive_period"`
	GatewayTokens   []string      `yaml:"gateway_tokens"`
	HistoryTTL      time.Duration `yaml:"history_ttl"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		ServerURL:      "ws://localhost:8080",
		UserID:         "local-user",
		Audio:          false,
		TokenPlacement: "query",
		ReconnectDelay: 3 * time.Second,
		FlushInterval:  200 * time.Millisecond,
		PlaybackPeriod: 20 * time.Millisecond,
		MaxBufferSize:  5 * 1024 * 1024, // 5MB default
		LogLevel:       "info",
		LogFormat:      "console",

		Port:            8080,
		RedisURL:        "localhost:6379",
		MaxSessions:     100,
		SessionTimeout:  30 * time.Minute,
		AgentBackend:    "gemini",
		AllowedOrigins:  []string{"*"},
		KeepAlivePeriod: 30 * time.Second,
		HistoryTTL:      7 * 24 * time.Hour,
	}
}

// LoadConfig loads defaults, then the YAML file named by CONVERSE_CONFIG,
// then environment variables.
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := Default()

	if path := os.Getenv("CONVERSE_CONFIG"); path != "" {
		if err := LoadFile(config, path); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(config); err != nil {
		return nil, err
	}

	return config, nil
}

func applyEnv(config *Config) error {
	setString(&config.ServerURL, "CONVERSE_SERVER_URL")
	setString(&config.UserID, "CONVERSE_USER_ID")
	setString(&config.Token, "CONVERSE_TOKEN")
	setString(&config.TokenFile, "CONVERSE_TOKEN_FILE")
	setString(&config.TokenPlacement, "CONVERSE_TOKEN_PLACEMENT")
	setString(&config.LogLevel, "LOG_LEVEL")
	setString(&config.LogFormat, "LOG_FORMAT")
	setString(&config.RedisURL, "REDIS_URL")
	setString(&config.RedisPassword, "REDIS_PASSWORD")
	setString(&config.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&config.AgentBackend, "AGENT_BACKEND")

	if audio := os.Getenv("CONVERSE_AUDIO"); audio != "" {
		a, err := strconv.ParseBool(audio)
		if err != nil {
			return fmt.Errorf("invalid CONVERSE_AUDIO: %w", err)
		}
		config.Audio = a
	}

	for _, d := range []struct {
		key  string
		unit time.Duration
		dst  *time.Duration
	}{
		{"RECONNECT_DELAY_MS", time.Millisecond, &config.ReconnectDelay},
		{"FLUSH_INTERVAL_MS", time.Millisecond, &config.FlushInterval},
		{"PLAYBACK_PERIOD_MS", time.Millisecond, &config.PlaybackPeriod},
		{"SESSION_TIMEOUT", time.Minute, &config.SessionTimeout},   // in minutes
		{"KEEPALIVE_PERIOD", time.Second, &config.KeepAlivePeriod}, // in seconds
		{"HISTORY_TTL", time.Hour, &config.HistoryTTL},             // in hours
	} {
		if err := setDuration(d.dst, d.key, d.unit); err != nil {
			return err
		}
	}

	if err := setInt(&config.Port, "PORT"); err != nil {
		return err
	}
	if err := setInt(&config.MaxSessions, "MAX_SESSIONS"); err != nil {
		return err
	}
	if err := setInt(&config.MaxBufferSize, "MAX_BUFFER_SIZE"); err != nil {
		return err
	}

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = splitList(origins)
	}

	// Optional: GATEWAY_TOKENS (comma-separated)
	if tokens := os.Getenv("GATEWAY_TOKENS"); tokens != "" {
		config.GatewayTokens = splitList(tokens)
	}

	return nil
}

// ValidateClient checks the settings the conversation client needs
func (c *Config) ValidateClient() error {
	var errs []error
	if c.ServerURL == "" {
		errs = append(errs, errors.New("CONVERSE_SERVER_URL is required"))
	}
	if c.UserID == "" {
		errs = append(errs, errors.New("CONVERSE_USER_ID is required"))
	}
	switch c.TokenPlacement {
	case "query", "subprotocol":
	default:
		errs = append(errs, fmt.Errorf("invalid CONVERSE_TOKEN_PLACEMENT %q: must be 'query' or 'subprotocol'", c.TokenPlacement))
	}
	if c.ReconnectDelay <= 0 {
		errs = append(errs, errors.New("RECONNECT_DELAY_MS must be positive"))
	}
	if c.FlushInterval <= 0 {
		errs = append(errs, errors.New("FLUSH_INTERVAL_MS must be positive"))
	}
	if c.PlaybackPeriod <= 0 {
		errs = append(errs, errors.New("PLAYBACK_PERIOD_MS must be positive"))
	}
	return errors.Join(errs...)
}

// ValidateGateway checks the settings the gateway server needs
func (c *Config) ValidateGateway() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid PORT %d", c.Port))
	}
	if c.MaxSessions <= 0 {
		errs = append(errs, errors.New("MAX_SESSIONS must be positive"))
	}
	switch c.AgentBackend {
	case "gemini":
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY environment variable is required"))
		}
	case "echo":
	default:
		errs = append(errs, fmt.Errorf("invalid AGENT_BACKEND %q: must be 'gemini' or 'echo'", c.AgentBackend))
	}
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string, unit time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = time.Duration(n) * unit
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
