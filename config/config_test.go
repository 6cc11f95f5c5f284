package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CONVERSE_CONFIG", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ReconnectDelay != 3*time.Second {
		t.Errorf("ReconnectDelay = %v, want 3s", cfg.ReconnectDelay)
	}
	if cfg.FlushInterval != 200*time.Millisecond {
		t.Errorf("FlushInterval = %v, want 200ms", cfg.FlushInterval)
	}
	if cfg.TokenPlacement != "query" {
		t.Errorf("TokenPlacement = %q", cfg.TokenPlacement)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("CONVERSE_CONFIG", "")
	t.Setenv("CONVERSE_SERVER_URL", "wss://agent.example.com")
	t.Setenv("CONVERSE_AUDIO", "true")
	t.Setenv("RECONNECT_DELAY_MS", "1500")
	t.Setenv("SESSION_TIMEOUT", "5")
	t.Setenv("GATEWAY_TOKENS", "a, b,,c")
	t.Setenv("PORT", "9000")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ServerURL != "wss://agent.example.com" || !cfg.Audio {
		t.Errorf("client settings = %q, %v", cfg.ServerURL, cfg.Audio)
	}
	if cfg.ReconnectDelay != 1500*time.Millisecond {
		t.Errorf("ReconnectDelay = %v", cfg.ReconnectDelay)
	}
	if cfg.SessionTimeout != 5*time.Minute {
		t.Errorf("SessionTimeout = %v", cfg.SessionTimeout)
	}
	if strings.Join(cfg.GatewayTokens, "|") != "a|b|c" {
		t.Errorf("GatewayTokens = %v", cfg.GatewayTokens)
	}
	if cfg.Port != 9000 {
		t.Errorf("Port = %d", cfg.Port)
	}
}

func TestLoadConfigRejectsBadNumbers(t *testing.T) {
	t.Setenv("CONVERSE_CONFIG", "")
	t.Setenv("MAX_SESSIONS", "lots")

	_, err := LoadConfig()
	if err == nil || !strings.Contains(err.Error(), "invalid MAX_SESSIONS") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "converse.yaml")
	yaml := `server_url: ws://file.example.com
user_id: ${TEST_USER}
flush_interval: 100ms
agent_backend: echo
allowed_origins:
  - https://app.example.com
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONVERSE_CONFIG", path)
	t.Setenv("TEST_USER", "alice")
	t.Setenv("CONVERSE_SERVER_URL", "ws://env.example.com")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.UserID != "alice" {
		t.Errorf("UserID = %q", cfg.UserID)
	}
	if cfg.ServerURL != "ws://env.example.com" {
		t.Errorf("ServerURL = %q, env should win", cfg.ServerURL)
	}
	if cfg.FlushInterval != 100*time.Millisecond {
		t.Errorf("FlushInterval = %v", cfg.FlushInterval)
	}
	if cfg.PlaybackPeriod != 20*time.Millisecond {
		t.Errorf("PlaybackPeriod = %v, default should survive", cfg.PlaybackPeriod)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "https://app.example.com" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("CONVERSE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := LoadConfig(); err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidateGateway(t *testing.T) {
	cfg := Default()
	cfg.GeminiAPIKey = ""
	if err := cfg.ValidateGateway(); err == nil || !strings.Contains(err.Error(), "GEMINI_API_KEY") {
		t.Fatalf("err = %v", err)
	}

	cfg.AgentBackend = "echo"
	if err := cfg.ValidateGateway(); err != nil {
		t.Fatalf("echo backend: %v", err)
	}

	cfg.AgentBackend = "parrot"
	if err := cfg.ValidateGateway(); err == nil {
		t.Fatal("accepted unknown backend")
	}
}

func TestValidateClient(t *testing.T) {
	cfg := Default()
	if err := cfg.ValidateClient(); err != nil {
		t.Fatalf("defaults: %v", err)
	}

	cfg.TokenPlacement = "header"
	cfg.UserID = ""
	err := cfg.ValidateClient()
	if err == nil || !strings.Contains(err.Error(), "CONVERSE_TOKEN_PLACEMENT") || !strings.Contains(err.Error(), "CONVERSE_USER_ID") {
		t.Fatalf("err = %v", err)
	}
}
