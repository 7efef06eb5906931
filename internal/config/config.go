package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Speech   SpeechConfig   `yaml:"speech"`
	Capture  CaptureConfig  `yaml:"capture"`
	Turn     TurnConfig     `yaml:"turn"`
	Relay    RelayConfig    `yaml:"relay"`
	Sinks    SinksConfig    `yaml:"sinks"`
	HTTP     HTTPConfig     `yaml:"http"`
	Settings SettingsConfig `yaml:"settings"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SpeechConfig contains speech service connection configuration
type SpeechConfig struct {
	URL            string `yaml:"url"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	Voice          string `yaml:"voice"`
	ConnectTimeout int    `yaml:"connect_timeout"` // seconds
}

// CaptureConfig contains microphone capture configuration
type CaptureConfig struct {
	Device           string `yaml:"device"`
	EchoCancellation bool   `yaml:"echo_cancellation"`
	NoiseSuppression bool   `yaml:"noise_suppression"`
	WatchdogTimeout  int    `yaml:"watchdog_timeout"`  // seconds
	WatchdogInterval int    `yaml:"watchdog_interval"` // seconds
}

// TurnConfig contains turn finalization configuration
type TurnConfig struct {
	InactivityTimeout float64 `yaml:"inactivity_timeout"` // seconds
	SentenceThreshold int     `yaml:"sentence_threshold"`
	FinalizeDelay     float64 `yaml:"finalize_delay"` // seconds
}

// RelayConfig contains local relay mirror configuration
type RelayConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// SinksConfig contains external delivery endpoints
type SinksConfig struct {
	LoggingURL string `yaml:"logging_url"`
	WebhookURL string `yaml:"webhook_url"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// SettingsConfig locates the persisted user settings file
type SettingsConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Speech.Validate(); err != nil {
		return fmt.Errorf("speech config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Turn.Validate(); err != nil {
		return fmt.Errorf("turn config: %w", err)
	}

	if err := c.Relay.Validate(); err != nil {
		return fmt.Errorf("relay config: %w", err)
	}

	if err := c.Sinks.Validate(); err != nil {
		return fmt.Errorf("sinks config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Settings.Validate(); err != nil {
		return fmt.Errorf("settings config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates speech service configuration
func (s *SpeechConfig) Validate() error {
	if s.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}

	if s.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if s.ConnectTimeout < 1 {
		return fmt.Errorf("connect_timeout must be at least 1 second, got %d", s.ConnectTimeout)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	if c.WatchdogTimeout < 1 {
		return fmt.Errorf("watchdog_timeout must be at least 1 second, got %d", c.WatchdogTimeout)
	}

	if c.WatchdogInterval < 1 {
		return fmt.Errorf("watchdog_interval must be at least 1 second, got %d", c.WatchdogInterval)
	}

	if c.WatchdogInterval > c.WatchdogTimeout {
		return fmt.Errorf("watchdog_interval (%d) must not exceed watchdog_timeout (%d)",
			c.WatchdogInterval, c.WatchdogTimeout)
	}

	return nil
}

// Validate validates turn finalization configuration
func (t *TurnConfig) Validate() error {
	if t.InactivityTimeout <= 0 {
		return fmt.Errorf("inactivity_timeout must be positive, got %f", t.InactivityTimeout)
	}

	if t.SentenceThreshold < 1 {
		return fmt.Errorf("sentence_threshold must be at least 1, got %d", t.SentenceThreshold)
	}

	if t.FinalizeDelay < 0 {
		return fmt.Errorf("finalize_delay cannot be negative, got %f", t.FinalizeDelay)
	}

	if t.FinalizeDelay >= t.InactivityTimeout {
		return fmt.Errorf("finalize_delay (%f) must be less than inactivity_timeout (%f)",
			t.FinalizeDelay, t.InactivityTimeout)
	}

	return nil
}

// Validate validates relay configuration
func (r *RelayConfig) Validate() error {
	if r.Enabled && r.URL == "" {
		return fmt.Errorf("url cannot be empty when relay is enabled")
	}

	return nil
}

// Validate validates sink configuration
func (s *SinksConfig) Validate() error {
	// Both endpoints are optional; an empty URL disables that sink.
	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates settings configuration
func (s *SettingsConfig) Validate() error {
	if s.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetConnectTimeout returns the speech connect timeout as a time.Duration
func (s *SpeechConfig) GetConnectTimeout() time.Duration {
	return time.Duration(s.ConnectTimeout) * time.Second
}

// GetWatchdogTimeout returns the capture watchdog timeout as a time.Duration
func (c *CaptureConfig) GetWatchdogTimeout() time.Duration {
	return time.Duration(c.WatchdogTimeout) * time.Second
}

// GetWatchdogInterval returns the capture watchdog poll interval as a time.Duration
func (c *CaptureConfig) GetWatchdogInterval() time.Duration {
	return time.Duration(c.WatchdogInterval) * time.Second
}

// GetInactivityTimeout returns the turn inactivity window as a time.Duration
func (t *TurnConfig) GetInactivityTimeout() time.Duration {
	return time.Duration(t.InactivityTimeout * float64(time.Second))
}

// GetFinalizeDelay returns the turn finalize delay as a time.Duration
func (t *TurnConfig) GetFinalizeDelay() time.Duration {
	return time.Duration(t.FinalizeDelay * float64(time.Second))
}
