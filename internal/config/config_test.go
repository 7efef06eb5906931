package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Speech: SpeechConfig{
			URL:            "wss://speech.example.com/live",
			APIKey:         "test-key",
			Model:          "live-v2",
			Voice:          "Aoede",
			ConnectTimeout: 10,
		},
		Capture: CaptureConfig{
			Device:           "default",
			EchoCancellation: true,
			NoiseSuppression: true,
			WatchdogTimeout:  3,
			WatchdogInterval: 1,
		},
		Turn: TurnConfig{
			InactivityTimeout: 5.0,
			SentenceThreshold: 2,
			FinalizeDelay:     0.5,
		},
		Relay: RelayConfig{
			Enabled: true,
			URL:     "ws://127.0.0.1:8081/ws",
		},
		Sinks: SinksConfig{
			LoggingURL: "https://api.example.com/log",
			WebhookURL: "https://hooks.example.com/transcripts",
		},
		HTTP: HTTPConfig{
			Port:    8090,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Settings: SettingsConfig{
			Path: "./settings.yaml",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid configuration",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "empty speech URL",
			mutate:      func(c *Config) { c.Speech.URL = "" },
			expectError: true,
			errorMsg:    "url cannot be empty",
		},
		{
			name:        "empty API key",
			mutate:      func(c *Config) { c.Speech.APIKey = "" },
			expectError: true,
			errorMsg:    "api_key cannot be empty",
		},
		{
			name:        "watchdog interval exceeds timeout",
			mutate:      func(c *Config) { c.Capture.WatchdogInterval = 10 },
			expectError: true,
			errorMsg:    "watchdog_interval",
		},
		{
			name:        "zero inactivity timeout",
			mutate:      func(c *Config) { c.Turn.InactivityTimeout = 0 },
			expectError: true,
			errorMsg:    "inactivity_timeout must be positive",
		},
		{
			name:        "finalize delay not below inactivity window",
			mutate:      func(c *Config) { c.Turn.FinalizeDelay = 5.0 },
			expectError: true,
			errorMsg:    "finalize_delay",
		},
		{
			name:        "zero sentence threshold",
			mutate:      func(c *Config) { c.Turn.SentenceThreshold = 0 },
			expectError: true,
			errorMsg:    "sentence_threshold must be at least 1",
		},
		{
			name:        "relay enabled without URL",
			mutate:      func(c *Config) { c.Relay.URL = "" },
			expectError: true,
			errorMsg:    "url cannot be empty when relay is enabled",
		},
		{
			name:        "relay disabled without URL is fine",
			mutate:      func(c *Config) { c.Relay.Enabled = false; c.Relay.URL = "" },
			expectError: false,
		},
		{
			name:        "invalid HTTP port",
			mutate:      func(c *Config) { c.HTTP.Port = 70000 },
			expectError: true,
			errorMsg:    "http port must be between 1 and 65535",
		},
		{
			name:        "HTTP disabled skips port check",
			mutate:      func(c *Config) { c.HTTP.Enabled = false; c.HTTP.Port = 0 },
			expectError: false,
		},
		{
			name:        "empty settings path",
			mutate:      func(c *Config) { c.Settings.Path = "" },
			expectError: true,
			errorMsg:    "path cannot be empty",
		},
		{
			name:        "invalid log level",
			mutate:      func(c *Config) { c.Logging.Level = "trace" },
			expectError: true,
			errorMsg:    "level must be one of",
		},
		{
			name:        "invalid log format",
			mutate:      func(c *Config) { c.Logging.Format = "xml" },
			expectError: true,
			errorMsg:    "format must be 'json' or 'text'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(&config)

			err := config.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				}
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config file",
			configYAML: `
speech:
  url: "wss://speech.example.com/live"
  api_key: "test-key"
  model: "live-v2"
  voice: "Aoede"
  connect_timeout: 10
capture:
  device: "default"
  echo_cancellation: true
  noise_suppression: true
  watchdog_timeout: 3
  watchdog_interval: 1
turn:
  inactivity_timeout: 5.0
  sentence_threshold: 2
  finalize_delay: 0.5
relay:
  enabled: true
  url: "ws://127.0.0.1:8081/ws"
sinks:
  logging_url: "https://api.example.com/log"
  webhook_url: "https://hooks.example.com/transcripts"
http:
  port: 8090
  address: "127.0.0.1"
  enabled: true
settings:
  path: "./settings.yaml"
logging:
  level: "info"
  format: "json"
  output: "stdout"
`,
			expectError: false,
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
speech:
  url: "wss://speech.example.com/live"
  connect_timeout: invalid_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "missing required fields",
			configYAML: `
speech:
  url: "wss://speech.example.com/live"
  # missing api_key
`,
			expectError: true,
			errorMsg:    "api_key cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			err := os.WriteFile(configPath, []byte(tt.configYAML), 0644)
			if err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				} else if config == nil {
					t.Errorf("Expected config to be loaded but got nil")
				}
			}
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Errorf("Expected error for nonexistent file but got none")
	}
	if !contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestDurationHelpers(t *testing.T) {
	speech := SpeechConfig{ConnectTimeout: 10}
	if speech.GetConnectTimeout() != 10*time.Second {
		t.Errorf("Expected 10 seconds, got %v", speech.GetConnectTimeout())
	}

	capture := CaptureConfig{WatchdogTimeout: 3, WatchdogInterval: 1}
	if capture.GetWatchdogTimeout() != 3*time.Second {
		t.Errorf("Expected 3 seconds, got %v", capture.GetWatchdogTimeout())
	}
	if capture.GetWatchdogInterval() != time.Second {
		t.Errorf("Expected 1 second, got %v", capture.GetWatchdogInterval())
	}

	turn := TurnConfig{InactivityTimeout: 5.0, FinalizeDelay: 0.5}
	if turn.GetInactivityTimeout() != 5*time.Second {
		t.Errorf("Expected 5 seconds, got %v", turn.GetInactivityTimeout())
	}
	if turn.GetFinalizeDelay() != 500*time.Millisecond {
		t.Errorf("Expected 0.5 seconds, got %v", turn.GetFinalizeDelay())
	}
}

func TestLoggingConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config LoggingConfig
		valid  bool
	}{
		{
			name: "valid json to stdout",
			config: LoggingConfig{
				Level:  "info",
				Format: "json",
				Output: "stdout",
			},
			valid: true,
		},
		{
			name: "valid text to stderr",
			config: LoggingConfig{
				Level:  "debug",
				Format: "text",
				Output: "stderr",
			},
			valid: true,
		},
		{
			name: "invalid log level",
			config: LoggingConfig{
				Level:  "trace",
				Format: "json",
				Output: "stdout",
			},
			valid: false,
		},
		{
			name: "invalid format",
			config: LoggingConfig{
				Level:  "info",
				Format: "xml",
				Output: "stdout",
			},
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config but got error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected invalid config but got no error")
			}
		})
	}
}

// Helper function to check if a string contains a substring
func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(substr) == 0 ||
		(len(s) > len(substr) && findSubstring(s, substr)))
}

func findSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
