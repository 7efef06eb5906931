// Package capture owns the microphone stream for a recording session. It
// conditions each frame through the sensitivity controller, applies the
// resulting gain with soft clipping, frames PCM16 samples into fixed-size
// chunks, and emits base64 chunk and volume events to subscribers.
package capture
