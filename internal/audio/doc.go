// Package audio provides linear PCM-16 framing primitives shared by the
// capture and playback pipelines: little-endian byte/sample/float conversion
// with soft clipping, fixed-size frame splitting, base64 payload encoding,
// and WAV wrapping for exported turn audio.
package audio
