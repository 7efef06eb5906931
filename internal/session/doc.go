// Package session wires the capture pipeline, playback scheduler, turn
// machine, relay, and external sinks into one live transcription session
// driven by speech service events.
package session
