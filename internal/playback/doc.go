// Package playback schedules decoded agent audio onto an output sink with
// a small lead buffer so bursts and gaps in delivery do not cause glitches.
//
// Incoming PCM16 chunks are accumulated into fixed-size sample buffers and
// scheduled ahead of the output clock. The scheduler keeps a monotonically
// advancing timeline cursor, re-anchoring it only when playback starts or
// resumes after a stop. Completion of the final buffer is reported through
// a callback so callers can sequence turn handling after audio finishes.
package playback
