// Package speech adapts a native speech recognizer behind a small
// interface, with a wrapper that keeps recognition running across the
// short sessions the underlying engine imposes.
package speech
