package audio

import (
	"encoding/base64"
	"fmt"
)

const (
	// CaptureSampleRate is the microphone capture rate in Hz.
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the remote-session output rate in Hz.
	PlaybackSampleRate = 24000

	// CaptureFrameSamples is the fixed capture chunk size (~32ms at 16kHz).
	CaptureFrameSamples = 512

	// PlaybackBufferSamples is the fixed playback buffer size (0.32s at 24kHz).
	PlaybackBufferSamples = 7680
)

// SoftClip limits a normalized sample to [-1, 1].
func SoftClip(sample float64) float64 {
	if sample > 1.0 {
		return 1.0
	}
	if sample < -1.0 {
		return -1.0
	}
	return sample
}

// FloatToPCM16 converts normalized float samples to 16-bit signed PCM,
// soft-clipping each sample before integer conversion.
func FloatToPCM16(samples []float64) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = int16(SoftClip(s) * 32767)
	}
	return out
}

// PCM16ToFloat converts 16-bit signed PCM samples to normalized floats.
func PCM16ToFloat(samples []int16) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s) / 32768
	}
	return out
}

// PCM16ToBytes serializes samples as little-endian bytes.
func PCM16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// BytesToPCM16 parses little-endian bytes into samples. The byte count must
// be even; a trailing odd byte indicates a framing bug upstream.
func BytesToPCM16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("PCM16 byte length must be even, got %d", len(data))
	}
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return out, nil
}

// BytesToFloat decodes little-endian PCM16 bytes directly to normalized
// floats, the form the playback scheduler buffers internally.
func BytesToFloat(data []byte) ([]float64, error) {
	samples, err := BytesToPCM16(data)
	if err != nil {
		return nil, err
	}
	return PCM16ToFloat(samples), nil
}

// EncodePayload base64-encodes a PCM16 byte frame for transport.
func EncodePayload(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodePayload reverses EncodePayload.
func DecodePayload(payload string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 audio payload: %w", err)
	}
	return data, nil
}

// SplitFrames splits samples into frames of the given size. The final frame
// may be shorter; it is emitted rather than dropped so trailing audio
// survives a capture stop.
func SplitFrames(samples []float64, frameSize int) [][]float64 {
	if frameSize <= 0 || len(samples) == 0 {
		return nil
	}
	frames := make([][]float64, 0, len(samples)/frameSize+1)
	for len(samples) >= frameSize {
		frames = append(frames, samples[:frameSize])
		samples = samples[frameSize:]
	}
	if len(samples) > 0 {
		frames = append(frames, samples)
	}
	return frames
}
