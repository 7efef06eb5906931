// Package agc implements the adaptive sensitivity controller: automatic gain
// control driven by an adaptively tracked noise floor, plus hysteresis-based
// voice activity detection used for turn flow control and ducking.
package agc
