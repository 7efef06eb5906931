package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const connectTimeout = 10 * time.Second

// EventHandler receives every event the connection produces, in arrival
// order, from a single goroutine.
type EventHandler func(Event)

// Stats reports connection counters for monitoring.
type Stats struct {
	Connected      bool   `json:"connected"`
	EventsReceived uint64 `json:"events_received"`
	EventsDropped  uint64 `json:"events_dropped"`
	ChunksSent     uint64 `json:"chunks_sent"`
	BytesSent      uint64 `json:"bytes_sent"`
}

// Client is a duplex connection to the speech service.
type Client struct {
	handler EventHandler
	logger  *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	eventsReceived uint64
	eventsDropped  uint64
	chunksSent     uint64
	bytesSent      uint64
}

// NewClient creates a disconnected client. All events, including open and
// close, are delivered to the handler.
func NewClient(handler EventHandler, logger *slog.Logger) (*Client, error) {
	if handler == nil {
		return nil, fmt.Errorf("event handler cannot be nil")
	}
	return &Client{handler: handler, logger: logger}, nil
}

// Connect dials the speech service and starts the read loop. Calling
// Connect while connected is an error; callers reconnect by closing first.
func (c *Client) Connect(ctx context.Context, url string) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: connectTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to speech service: %w", err)
	}

	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("already connected")
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Info("Speech service connected", slog.String("url", url))
	}
	c.handler(OpenEvent{})
	go c.readLoop(conn)
	return nil
}

// Connected reports whether the connection is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SendAudio forwards one base64 PCM16 chunk upstream.
func (c *Client) SendAudio(payload string) error {
	msg := encodeAudio(payload)
	if err := c.send(msg); err != nil {
		return err
	}
	c.mu.Lock()
	c.chunksSent++
	c.bytesSent += uint64(len(payload))
	c.mu.Unlock()
	return nil
}

// SendToolResponse acknowledges a tool call with its result.
func (c *Client) SendToolResponse(id string, output map[string]any) error {
	return c.send(encodeToolResponse(id, output))
}

func (c *Client) send(msg wireMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteJSON(msg)
}

// Close shuts the connection down. The close event is delivered through the
// read loop.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// GetStats returns connection counters.
func (c *Client) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Connected:      c.connected,
		EventsReceived: c.eventsReceived,
		EventsDropped:  c.eventsDropped,
		ChunksSent:     c.chunksSent,
		BytesSent:      c.bytesSent,
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			code, reason := closeDetails(err)
			c.mu.Lock()
			c.connected = false
			c.conn = nil
			c.mu.Unlock()
			if c.logger != nil {
				c.logger.Info("Speech service disconnected",
					slog.Int("code", code),
					slog.String("reason", reason),
				)
			}
			c.handler(CloseEvent{Code: code, Reason: reason})
			return
		}

		event, err := DecodeEvent(raw)
		if err != nil {
			// Malformed messages are dropped, not fatal.
			c.mu.Lock()
			c.eventsDropped++
			c.mu.Unlock()
			if c.logger != nil {
				c.logger.Warn("Dropping invalid message", slog.String("error", err.Error()))
			}
			c.handler(ErrorEvent{Err: err})
			continue
		}

		c.mu.Lock()
		c.eventsReceived++
		c.mu.Unlock()
		c.handler(event)
	}
}

func closeDetails(err error) (int, string) {
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Code, ce.Text
	}
	return websocket.CloseAbnormalClosure, err.Error()
}
