package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// requestTimeout bounds one delivery attempt.
const requestTimeout = 10 * time.Second

// Sink names used for filtering and metric labels.
const (
	NameLogging = "logging"
	NameWebhook = "webhook"
)

// Event is one finalized turn handed to sinks.
type Event struct {
	SessionID string
	MeetingID string
	UserText  string
	AgentText string
	Language  string
	Timestamp time.Time
}

// Sink delivers one event to an external endpoint.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, e Event) error
}

// Observer receives the outcome of each delivery attempt. It keeps the
// fanout decoupled from the metrics exporter.
type Observer func(sink string, success bool, durationSeconds float64)

// Stats reports fanout counters for monitoring.
type Stats struct {
	Sinks     int    `json:"sinks"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
}

// Fanout pushes events to a set of sinks in the background.
type Fanout struct {
	logger *slog.Logger

	mu      sync.Mutex
	sinks   []Sink
	observe Observer
	wg      sync.WaitGroup

	delivered uint64
	failed    uint64
}

// NewFanout creates a fanout over the given sinks. Nil sinks are skipped.
func NewFanout(logger *slog.Logger, sinks ...Sink) *Fanout {
	f := &Fanout{logger: logger}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// SetObserver installs a delivery outcome callback. A nil observer turns
// reporting off.
func (f *Fanout) SetObserver(obs Observer) {
	f.mu.Lock()
	f.observe = obs
	f.mu.Unlock()
}

// Publish delivers the event to every sink without blocking the caller.
func (f *Fanout) Publish(e Event) {
	f.PublishFiltered(e, nil)
}

// PublishFiltered delivers the event to the sinks the filter admits by
// name. A nil filter admits every sink.
func (f *Fanout) PublishFiltered(e Event, allow func(name string) bool) {
	f.mu.Lock()
	observe := f.observe
	sinks := make([]Sink, 0, len(f.sinks))
	for _, s := range f.sinks {
		if allow == nil || allow(s.Name()) {
			sinks = append(sinks, s)
		}
	}
	f.mu.Unlock()

	for _, s := range sinks {
		f.wg.Add(1)
		go func(s Sink) {
			defer f.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()

			start := time.Now()
			err := s.Deliver(ctx, e)
			if observe != nil {
				observe(s.Name(), err == nil, time.Since(start).Seconds())
			}
			if err != nil {
				f.mu.Lock()
				f.failed++
				f.mu.Unlock()
				if f.logger != nil {
					f.logger.Warn("Sink delivery failed",
						slog.String("sink", s.Name()),
						slog.String("error", err.Error()),
					)
				}
				return
			}
			f.mu.Lock()
			f.delivered++
			f.mu.Unlock()
		}(s)
	}
}

// Wait blocks until all in-flight deliveries finish. Used on shutdown and
// in tests.
func (f *Fanout) Wait() {
	f.wg.Wait()
}

// GetStats returns fanout counters.
func (f *Fanout) GetStats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		Sinks:     len(f.sinks),
		Delivered: f.delivered,
		Failed:    f.failed,
	}
}
