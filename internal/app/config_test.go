package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetenv(t *testing.T) {
	tests := []struct {
		name     string
		envKey   string
		envValue string
		defValue string
		want     string
	}{
		{
			name:     "env set",
			envKey:   "TEST_ENV_VAR",
			envValue: "custom_value",
			defValue: "default",
			want:     "custom_value",
		},
		{
			name:     "env not set",
			envKey:   "TEST_ENV_VAR_NOTSET",
			envValue: "",
			defValue: "default",
			want:     "default",
		},
		{
			name:     "empty default",
			envKey:   "TEST_ENV_VAR_EMPTY",
			envValue: "",
			defValue: "",
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.envKey, tt.envValue)
				defer os.Unsetenv(tt.envKey)
			}

			got := getenv(tt.envKey, tt.defValue)
			if got != tt.want {
				t.Errorf("getenv(%q, %q) = %q, want %q", tt.envKey, tt.defValue, got, tt.want)
			}
		})
	}
}

func TestGetenvIntClamped(t *testing.T) {
	tests := []struct {
		name     string
		envKey   string
		envValue string
		def      int
		min      int
		max      int
		want     int
	}{
		{
			name:     "value within range",
			envKey:   "TEST_INT_NORMAL",
			envValue: "500",
			def:      100,
			min:      0,
			max:      1000,
			want:     500,
		},
		{
			name:     "value below min - clamp to min",
			envKey:   "TEST_INT_LOW",
			envValue: "-100",
			def:      100,
			min:      0,
			max:      1000,
			want:     0,
		},
		{
			name:     "value above max - clamp to max",
			envKey:   "TEST_INT_HIGH",
			envValue: "2000",
			def:      100,
			min:      0,
			max:      1000,
			want:     1000,
		},
		{
			name:     "env not set - use default",
			envKey:   "TEST_INT_NOTSET",
			envValue: "",
			def:      100,
			min:      0,
			max:      1000,
			want:     100,
		},
		{
			name:     "invalid value - use default",
			envKey:   "TEST_INT_INVALID",
			envValue: "not_a_number",
			def:      100,
			min:      0,
			max:      1000,
			want:     100,
		},
		{
			name:     "boundary: exactly min",
			envKey:   "TEST_INT_MIN",
			envValue: "200",
			def:      500,
			min:      200,
			max:      800,
			want:     200,
		},
		{
			name:     "boundary: exactly max",
			envKey:   "TEST_INT_MAX",
			envValue: "800",
			def:      500,
			min:      200,
			max:      800,
			want:     800,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.envKey, tt.envValue)
				defer os.Unsetenv(tt.envKey)
			}

			got := getenvIntClamped(tt.envKey, tt.def, tt.min, tt.max)
			if got != tt.want {
				t.Errorf("getenvIntClamped(%q, %d, %d, %d) = %d, want %d",
					tt.envKey, tt.def, tt.min, tt.max, got, tt.want)
			}
		})
	}
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CONFIG_FILE", "PORT", "DATABASE_URL", "SENTRY_DSN", "LOG_LEVEL",
		"GCLOUD_PROJECT_ID", "DF_AGENT_LOCATION", "DF_AGENT_ID", "DF_LANGUAGE", "DF_API_ENDPOINT",
		"STT_PROVIDER", "STT_LANGUAGE", "STT_MODEL", "DEEPGRAM_API_KEY",
		"WEBHOOK_TIMEOUT", "SOCKET_TOKEN_SECRET", "DRAIN_TIMEOUT_SEC",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	clearConfigEnv(t)

	cfg := LoadConfigFromEnv()

	if cfg.HTTPAddr != ":5000" {
		t.Errorf("HTTPAddr = %q, want :5000", cfg.HTTPAddr)
	}
	if cfg.AgentLocation != "global" {
		t.Errorf("AgentLocation = %q, want global", cfg.AgentLocation)
	}
	if cfg.DialogLanguage != "en" {
		t.Errorf("DialogLanguage = %q, want en", cfg.DialogLanguage)
	}
	if cfg.STTLanguage != "en-US" || cfg.STTModel != "command_and_search" {
		t.Errorf("STT = %q/%q", cfg.STTLanguage, cfg.STTModel)
	}
	if cfg.STTProvider != "google" {
		t.Errorf("STTProvider = %q, want google", cfg.STTProvider)
	}
	if cfg.WebhookTimeout != 10*time.Second {
		t.Errorf("WebhookTimeout = %v, want 10s", cfg.WebhookTimeout)
	}
	if cfg.DrainTimeout != 30*time.Second {
		t.Errorf("DrainTimeout = %v, want 30s", cfg.DrainTimeout)
	}
}

func TestLoadConfigFromEnv_InvalidWebhookTimeout(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("WEBHOOK_TIMEOUT", "soon")

	if got := LoadConfigFromEnv().WebhookTimeout; got != 10*time.Second {
		t.Errorf("WebhookTimeout = %v, want 10s fallback", got)
	}
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	clearConfigEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`port: "7000"
project_id: file-project
agent_location: europe-west3
agent_id: file-agent
stt_provider: Deepgram
deepgram_api_key: dg-key
webhook_timeout: 3s
drain_timeout_sec: 45
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("DF_AGENT_ID", "env-agent")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.HTTPAddr != ":7000" {
		t.Errorf("HTTPAddr = %q, want :7000", cfg.HTTPAddr)
	}
	if cfg.ProjectID != "file-project" {
		t.Errorf("ProjectID = %q", cfg.ProjectID)
	}
	if cfg.AgentLocation != "europe-west3" {
		t.Errorf("AgentLocation = %q", cfg.AgentLocation)
	}
	if cfg.AgentID != "env-agent" {
		t.Errorf("AgentID = %q, want env override", cfg.AgentID)
	}
	if cfg.STTProvider != "deepgram" {
		t.Errorf("STTProvider = %q, want deepgram", cfg.STTProvider)
	}
	if cfg.WebhookTimeout != 3*time.Second {
		t.Errorf("WebhookTimeout = %v, want 3s", cfg.WebhookTimeout)
	}
	if cfg.DrainTimeout != 45*time.Second {
		t.Errorf("DrainTimeout = %v, want 45s", cfg.DrainTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadConfig_BadFile(t *testing.T) {
	clearConfigEnv(t)

	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for missing config file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("port: [1, 2"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for malformed config file")
	}
}

func TestConfigValidate(t *testing.T) {
	valid := Config{ProjectID: "p", AgentID: "a", STTProvider: "google"}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid google", mutate: func(c *Config) {}},
		{name: "missing project", mutate: func(c *Config) { c.ProjectID = "" }, wantErr: true},
		{name: "missing agent", mutate: func(c *Config) { c.AgentID = "" }, wantErr: true},
		{name: "unknown provider", mutate: func(c *Config) { c.STTProvider = "whisper" }, wantErr: true},
		{name: "deepgram without key", mutate: func(c *Config) { c.STTProvider = "deepgram" }, wantErr: true},
		{name: "deepgram with key", mutate: func(c *Config) { c.STTProvider = "deepgram"; c.DeepgramAPIKey = "k" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
