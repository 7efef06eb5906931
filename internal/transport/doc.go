// Package transport carries the duplex stream between the client and the
// speech service: microphone audio and tool results go up, agent audio,
// transcriptions, and control signals come down.
//
// Wire messages are validated at the boundary and surfaced as a closed set
// of event types, so downstream code switches over concrete events instead
// of inspecting raw JSON.
package transport
