package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/panyeroa1/translateq/internal/audio"
)

// PCMDevice reads raw signed 16-bit little-endian mono samples from a file
// or FIFO and delivers them at the live capture cadence. It stands in for a
// hardware microphone on headless hosts; pipe arecord or ffmpeg output into
// the configured path.
type PCMDevice struct {
	path string
}

// NewPCMDevice creates a device backed by the given path. The special names
// "stdin" and "-" read from standard input.
func NewPCMDevice(path string) (*PCMDevice, error) {
	if path == "" {
		return nil, fmt.Errorf("device path cannot be empty")
	}
	return &PCMDevice{path: path}, nil
}

// Open acquires the sample source.
func (d *PCMDevice) Open(ctx context.Context, cfg DeviceConfig) (DeviceStream, error) {
	var src io.ReadCloser
	if d.path == "stdin" || d.path == "-" {
		src = io.NopCloser(os.Stdin)
	} else {
		f, err := os.Open(d.path)
		if err != nil {
			return nil, fmt.Errorf("failed to open capture source %s: %w", d.path, err)
		}
		src = f
	}

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = audio.CaptureSampleRate
	}
	frame := audio.CaptureFrameSamples
	return &pcmStream{
		src:    src,
		raw:    make([]byte, frame*2),
		period: time.Duration(frame) * time.Second / time.Duration(sampleRate),
	}, nil
}

type pcmStream struct {
	src    io.ReadCloser
	raw    []byte
	period time.Duration
	next   time.Time
}

// Read returns one frame of normalized samples, pacing delivery so a file
// source plays out in real time rather than as fast as it can be read.
func (s *pcmStream) Read(ctx context.Context) ([]float64, error) {
	now := time.Now()
	if s.next.IsZero() {
		s.next = now
	}
	if wait := s.next.Sub(now); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	s.next = s.next.Add(s.period)

	if _, err := io.ReadFull(s.src, s.raw); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return nil, err
	}

	samples := make([]float64, len(s.raw)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(s.raw[i*2:]))
		samples[i] = float64(v) / 32768.0
	}
	return samples, nil
}

func (s *pcmStream) Close() error {
	return s.src.Close()
}
