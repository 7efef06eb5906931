// Package sessionlog keeps the append-only record of finalized turns for
// one capture session, keyed by a generated session identifier.
package sessionlog
