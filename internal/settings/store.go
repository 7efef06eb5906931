package settings

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Mode selects the transcription engine.
type Mode string

const (
	// ModeNeural streams audio to the speech service.
	ModeNeural Mode = "neural"
	// ModeNative uses the local recognizer.
	ModeNative Mode = "native"
)

// Settings are the user-tunable values persisted between runs.
type Settings struct {
	MeetingID     string  `yaml:"meeting_id" json:"meeting_id"`
	VoiceFocus    float64 `yaml:"voice_focus" json:"voice_focus"`
	Mode          Mode    `yaml:"mode" json:"mode"`
	Language      string  `yaml:"language" json:"language"`
	Voice         string  `yaml:"voice" json:"voice"`
	Model         string  `yaml:"model" json:"model"`
	LoggingSinkOn bool    `yaml:"logging_sink_on" json:"logging_sink_on"`
	WebhookOn     bool    `yaml:"webhook_on" json:"webhook_on"`
}

// Defaults returns the settings used when no file exists yet.
func Defaults() Settings {
	return Settings{
		VoiceFocus:    1.0,
		Mode:          ModeNeural,
		Language:      "en-US",
		LoggingSinkOn: true,
	}
}

// Validate checks the settings for out-of-range values.
func (s Settings) Validate() error {
	if s.VoiceFocus < 0 || s.VoiceFocus > 1 {
		return fmt.Errorf("voice_focus must be between 0 and 1, got %f", s.VoiceFocus)
	}
	switch s.Mode {
	case ModeNeural, ModeNative:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeNeural, ModeNative, s.Mode)
	}
	return nil
}

// Store is a file-backed settings store.
type Store struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	current Settings
}

// NewStore opens the store at path, loading existing settings or falling
// back to defaults when the file does not exist.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("settings path cannot be empty")
	}

	s := &Store{path: path, logger: logger, current: Defaults()}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	var loaded Settings
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse settings file: %w", err)
	}
	if err := loaded.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings file: %w", err)
	}
	s.current = loaded
	return s, nil
}

// Get returns the current settings.
func (s *Store) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Update validates and persists new settings.
func (s *Store) Update(next Settings) error {
	if err := next.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.saveLocked(next); err != nil {
		return err
	}
	s.current = next

	if s.logger != nil {
		s.logger.Debug("Settings saved", slog.String("path", s.path))
	}
	return nil
}

// saveLocked writes the file atomically: full write to a temp file in the
// same directory, then rename over the target.
func (s *Store) saveLocked(next Settings) error {
	data, err := yaml.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	return nil
}
