// Package relay fans finalized transcriptions and chat messages out to
// in-process subscribers, optionally mirrored over a WebSocket to a relay
// server on the local machine.
//
// Delivery is scoped by meeting identifier: a message tagged with a meeting
// only reaches subscribers in the same meeting, while untagged messages and
// unscoped subscribers always match. The mirror connection is best effort;
// it dials once with a short timeout and never retries, so a missing relay
// server costs nothing at runtime.
package relay
