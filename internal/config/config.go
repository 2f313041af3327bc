// Package config loads voicebridge configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// Config is the full service configuration. Values are resolved in order:
// struct defaults, YAML file, environment variables.
type Config struct {
	// Addr is the listen address for the HTTP/websocket server.
	Addr string `yaml:"addr" env:"VOICEBRIDGE_ADDR"`

	// PublicHost is the externally reachable host (no scheme) used when
	// building webhook and stream URLs handed to the call provider.
	PublicHost string `yaml:"public_host" env:"VOICEBRIDGE_PUBLIC_HOST"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" env:"VOICEBRIDGE_LOG_LEVEL"`

	Twilio     TwilioConfig     `yaml:"twilio"`
	ElevenLabs ElevenLabsConfig `yaml:"elevenlabs"`
}

// TwilioConfig holds call-provider credentials.
type TwilioConfig struct {
	AccountSID string `yaml:"account_sid" env:"TWILIO_ACCOUNT_SID"`
	AuthToken  string `yaml:"auth_token" env:"TWILIO_AUTH_TOKEN"`

	// CallerID is the number outbound calls are placed from.
	CallerID string `yaml:"caller_id" env:"TWILIO_CALLER_ID"`
}

// ElevenLabsConfig holds agent-backend credentials and per-call defaults.
type ElevenLabsConfig struct {
	APIKey  string `yaml:"api_key" env:"ELEVENLABS_API_KEY"`
	AgentID string `yaml:"agent_id" env:"ELEVENLABS_AGENT_ID"`

	// DefaultPrompt is used when a call supplies no prompt parameter.
	DefaultPrompt string `yaml:"default_prompt" env:"ELEVENLABS_DEFAULT_PROMPT"`

	// DefaultFirstMessage is the opening utterance used when a call
	// supplies none.
	DefaultFirstMessage string `yaml:"default_first_message" env:"ELEVENLABS_DEFAULT_FIRST_MESSAGE"`
}

// Load reads configuration. path may be empty, in which case only defaults
// and environment variables apply. A .env file in the working directory is
// loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:     ":8080",
		LogLevel: "info",
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required credentials are present.
func (c *Config) Validate() error {
	var missing []string
	if c.ElevenLabs.APIKey == "" {
		missing = append(missing, "elevenlabs.api_key")
	}
	if c.ElevenLabs.AgentID == "" {
		missing = append(missing, "elevenlabs.agent_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required fields: %s", strings.Join(missing, ", "))
	}
	if c.Addr == "" {
		return errors.New("config: addr must not be empty")
	}
	return nil
}

// SlogLevel maps the configured log level onto slog.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
