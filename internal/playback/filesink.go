package playback

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/panyeroa1/translateq/internal/audio"
)

// SystemClock reports seconds elapsed since construction on the monotonic
// clock, matching the timeline positions the scheduler expects.
type SystemClock struct {
	start time.Time
}

// NewSystemClock creates a clock anchored at the current instant.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

// Now returns the timeline position in seconds.
func (c *SystemClock) Now() float64 {
	return time.Since(c.start).Seconds()
}

// FileSink renders scheduled playback into WAV files instead of a sound
// device. Each rebuilt output path becomes one file, so every uninterrupted
// agent utterance lands in its own recording. Buffer end callbacks fire on
// real timers so the scheduler sees hardware-like completion timing.
type FileSink struct {
	dir    string
	logger *slog.Logger
	clock  Clock

	mu      sync.Mutex
	pcm     []byte
	segment int
	faded   bool
}

// NewFileSink creates a sink writing WAV segments under dir.
func NewFileSink(dir string, clock Clock, logger *slog.Logger) (*FileSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("output directory cannot be empty")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock cannot be nil")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &FileSink{dir: dir, logger: logger, clock: clock}, nil
}

// Schedule appends the buffer to the current segment and arms the end
// callback for when the buffer's timeline slot has played out.
func (s *FileSink) Schedule(samples []float64, at float64, onEnded func()) {
	pcm16 := audio.FloatToPCM16(samples)

	s.mu.Lock()
	if !s.faded {
		s.pcm = append(s.pcm, audio.PCM16ToBytes(pcm16)...)
	}
	s.mu.Unlock()

	if onEnded != nil {
		endsIn := at + float64(len(samples))/float64(audio.PlaybackSampleRate) - s.clock.Now()
		if endsIn < 0 {
			endsIn = 0
		}
		time.AfterFunc(time.Duration(endsIn*float64(time.Second)), onEnded)
	}
}

// RampDown marks the current segment as fading. File output has no live
// gain to fade; the mark only keeps late buffers out of the closed segment.
func (s *FileSink) RampDown(over float64) {
	s.mu.Lock()
	s.faded = true
	s.mu.Unlock()
}

// Rebuild closes the current segment to disk and starts a fresh one.
func (s *FileSink) Rebuild() {
	s.mu.Lock()
	pcm := s.pcm
	s.pcm = nil
	s.faded = false
	s.segment++
	n := s.segment
	s.mu.Unlock()

	if len(pcm) == 0 {
		return
	}
	s.writeSegment(pcm, n)
}

// Flush writes any open segment to disk. Call on shutdown.
func (s *FileSink) Flush() {
	s.Rebuild()
}

func (s *FileSink) writeSegment(pcm []byte, n int) {
	wav, err := audio.EncodeWAV(pcm, audio.PlaybackSampleRate)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("Failed to encode playback segment",
				slog.Int("segment", n),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	name := fmt.Sprintf("playback-%s-%03d.wav", time.Now().Format("20060102-150405"), n)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		if s.logger != nil {
			s.logger.Error("Failed to write playback segment",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	if s.logger != nil {
		s.logger.Debug("Playback segment written",
			slog.String("path", path),
			slog.Int("bytes", len(wav)),
		)
	}
}
