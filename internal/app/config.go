package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr    string
	DatabaseURL string
	SentryDSN   string
	LogLevel    string

	// Dialog agent
	ProjectID      string
	AgentLocation  string
	AgentID        string
	DialogLanguage string
	DialogEndpoint string // host:port of the regional dialog API

	// Speech recognition
	STTProvider    string // "google" or "deepgram"
	STTLanguage    string
	STTModel       string
	DeepgramAPIKey string

	// Turn result delivery
	WebhookTimeout time.Duration

	// Socket access
	SocketTokenSecret string

	// Graceful shutdown
	DrainTimeout time.Duration
}

// fileConfig mirrors Config for the optional YAML file. Every value is a
// default that the matching env var overrides.
type fileConfig struct {
	Port              string `yaml:"port"`
	DatabaseURL       string `yaml:"database_url"`
	SentryDSN         string `yaml:"sentry_dsn"`
	LogLevel          string `yaml:"log_level"`
	ProjectID         string `yaml:"project_id"`
	AgentLocation     string `yaml:"agent_location"`
	AgentID           string `yaml:"agent_id"`
	DialogLanguage    string `yaml:"dialog_language"`
	DialogEndpoint    string `yaml:"dialog_endpoint"`
	STTProvider       string `yaml:"stt_provider"`
	STTLanguage       string `yaml:"stt_language"`
	STTModel          string `yaml:"stt_model"`
	DeepgramAPIKey    string `yaml:"deepgram_api_key"`
	WebhookTimeout    string `yaml:"webhook_timeout"`
	SocketTokenSecret string `yaml:"socket_token_secret"`
	DrainTimeoutSec   int    `yaml:"drain_timeout_sec"`
}

// LoadConfig reads CONFIG_FILE when set and applies env overrides on top.
func LoadConfig() (Config, error) {
	var fc fileConfig
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	return configFrom(fc), nil
}

// LoadConfigFromEnv builds the config from env vars and built-in defaults.
func LoadConfigFromEnv() Config {
	return configFrom(fileConfig{})
}

func configFrom(fc fileConfig) Config {
	webhookTimeout, err := time.ParseDuration(getenv("WEBHOOK_TIMEOUT", or(fc.WebhookTimeout, "10s")))
	if err != nil || webhookTimeout <= 0 {
		webhookTimeout = 10 * time.Second
	}

	drainDefault := 30
	if fc.DrainTimeoutSec > 0 {
		drainDefault = fc.DrainTimeoutSec
	}

	return Config{
		HTTPAddr:    ":" + getenv("PORT", or(fc.Port, "5000")),
		DatabaseURL: getenv("DATABASE_URL", fc.DatabaseURL),
		SentryDSN:   getenv("SENTRY_DSN", fc.SentryDSN),
		LogLevel:    getenv("LOG_LEVEL", or(fc.LogLevel, "info")),

		// Dialog agent
		ProjectID:      getenv("GCLOUD_PROJECT_ID", fc.ProjectID),
		AgentLocation:  getenv("DF_AGENT_LOCATION", or(fc.AgentLocation, "global")),
		AgentID:        getenv("DF_AGENT_ID", fc.AgentID),
		DialogLanguage: getenv("DF_LANGUAGE", or(fc.DialogLanguage, "en")),
		DialogEndpoint: getenv("DF_API_ENDPOINT", fc.DialogEndpoint),

		// Speech recognition
		STTProvider:    strings.ToLower(getenv("STT_PROVIDER", or(fc.STTProvider, "google"))),
		STTLanguage:    getenv("STT_LANGUAGE", or(fc.STTLanguage, "en-US")),
		STTModel:       getenv("STT_MODEL", or(fc.STTModel, "command_and_search")),
		DeepgramAPIKey: getenv("DEEPGRAM_API_KEY", fc.DeepgramAPIKey),

		WebhookTimeout:    webhookTimeout,
		SocketTokenSecret: getenv("SOCKET_TOKEN_SECRET", fc.SocketTokenSecret),

		DrainTimeout: time.Duration(getenvIntClamped("DRAIN_TIMEOUT_SEC", drainDefault, 1, 600)) * time.Second,
	}
}

// Validate reports the first missing setting the server cannot start
// without.
func (c Config) Validate() error {
	switch {
	case c.ProjectID == "":
		return fmt.Errorf("GCLOUD_PROJECT_ID is required")
	case c.AgentID == "":
		return fmt.Errorf("DF_AGENT_ID is required")
	case c.STTProvider != "google" && c.STTProvider != "deepgram":
		return fmt.Errorf("unknown STT_PROVIDER %q", c.STTProvider)
	case c.STTProvider == "deepgram" && c.DeepgramAPIKey == "":
		return fmt.Errorf("DEEPGRAM_API_KEY is required for the deepgram provider")
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntClamped(k string, def, lo, hi int) int {
	v, err := strconv.Atoi(os.Getenv(k))
	if err != nil {
		return def
	}
	return min(max(v, lo), hi)
}

func or(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
