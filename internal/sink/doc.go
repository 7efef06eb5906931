// Package sink delivers finalized turns to external HTTP endpoints.
//
// Delivery is best effort: sinks post in the background with a bounded
// timeout, and failures are logged and swallowed so an unreachable endpoint
// never blocks or breaks the capture path.
package sink
