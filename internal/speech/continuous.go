package speech

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// restartDelay spaces out session restarts so a recognizer that dies
// immediately cannot spin.
const restartDelay = 250 * time.Millisecond

// ResultHandler receives recognizer results in order.
type ResultHandler func(Result)

// Stats reports continuous recognition counters.
type Stats struct {
	Running  bool   `json:"running"`
	Results  uint64 `json:"results"`
	Restarts uint64 `json:"restarts"`
	Failures uint64 `json:"failures"`
}

// Continuous keeps a recognizer running until stopped. The native engine
// ends sessions on its own after pauses; this wrapper opens a fresh session
// whenever that happens while the caller still wants recognition.
type Continuous struct {
	factory Factory
	handler ResultHandler
	logger  *slog.Logger

	mu       sync.Mutex
	running  bool
	language string
	cancel   context.CancelFunc
	done     chan struct{}

	results  uint64
	restarts uint64
	failures uint64
}

// NewContinuous creates a continuous recognition wrapper.
func NewContinuous(factory Factory, handler ResultHandler, logger *slog.Logger) (*Continuous, error) {
	if factory == nil {
		return nil, fmt.Errorf("recognizer factory cannot be nil")
	}
	if handler == nil {
		return nil, fmt.Errorf("result handler cannot be nil")
	}
	return &Continuous{factory: factory, handler: handler, logger: logger}, nil
}

// Start begins continuous recognition in the given language. Start while
// running is a no-op.
func (c *Continuous) Start(language string) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.language = language
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go c.run(ctx, done)
}

// Stop ends recognition and waits for the session loop to exit.
func (c *Continuous) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	cancel()
	<-done
}

// Running reports whether recognition is active.
func (c *Continuous) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// GetStats returns recognition counters.
func (c *Continuous) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Running:  c.running,
		Results:  c.results,
		Restarts: c.restarts,
		Failures: c.failures,
	}
}

func (c *Continuous) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	first := true
	for {
		if ctx.Err() != nil {
			return
		}
		if !first {
			c.mu.Lock()
			c.restarts++
			c.mu.Unlock()
			select {
			case <-time.After(restartDelay):
			case <-ctx.Done():
				return
			}
		}
		first = false

		c.mu.Lock()
		lang := c.language
		c.mu.Unlock()

		rec, err := c.factory(ctx, lang)
		if err != nil {
			c.mu.Lock()
			c.failures++
			c.mu.Unlock()
			if c.logger != nil {
				c.logger.Warn("Recognizer session failed to open", slog.String("error", err.Error()))
			}
			continue
		}
		c.consume(ctx, rec)
	}
}

// consume drains one session until it ends or recognition is stopped.
func (c *Continuous) consume(ctx context.Context, rec Recognizer) {
	defer rec.Close()

	for {
		result, err := rec.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil || IsSessionEnd(err) {
				return
			}
			c.mu.Lock()
			c.failures++
			c.mu.Unlock()
			if c.logger != nil {
				c.logger.Warn("Recognizer session error", slog.String("error", err.Error()))
			}
			return
		}
		c.mu.Lock()
		c.results++
		c.mu.Unlock()
		c.handler(result)
	}
}
