// Package turn assembles streaming transcription fragments into finalized
// turns.
//
// Incoming fragments are merged into a short segment buffer that tolerates
// overlapping re-sends from the recognizer. Three triggers race to close a
// turn: an inactivity window with no new speech, enough completed sentences
// in the buffer, and an explicit end-of-turn signal from the transport.
// Whichever fires first wins; finalization is idempotent and an empty
// buffer never produces a turn.
package turn
