package relay

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// dialTimeout bounds the single connection attempt to the relay server.
const dialTimeout = 1 * time.Second

// Mirror forwards hub traffic over a WebSocket to a relay server running on
// the local machine and feeds remote messages back into the hub.
type Mirror struct {
	hub    *Hub
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// ConnectMirror dials the relay server once and attaches the mirror to the
// hub. Only loopback addresses are accepted; a mirror to a remote host
// would leak transcriptions off the machine. Dial failure is returned to
// the caller and never retried.
func ConnectMirror(rawURL string, hub *Hub, logger *slog.Logger) (*Mirror, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("relay URL must use ws or wss scheme, got %q", u.Scheme)
	}
	if !isLoopback(u.Hostname()) {
		return nil, fmt.Errorf("relay mirror is restricted to loopback, got host %q", u.Hostname())
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.Dial(rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay server: %w", err)
	}

	m := &Mirror{hub: hub, logger: logger, conn: conn}
	hub.SetMirror(m)
	go m.readLoop(conn)

	if logger != nil {
		logger.Info("Relay mirror connected", slog.String("url", rawURL))
	}
	return m, nil
}

// Send forwards one message to the relay server.
func (m *Mirror) Send(msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return fmt.Errorf("mirror connection closed")
	}
	return m.conn.WriteJSON(msg)
}

// Close detaches the mirror from the hub and closes the connection.
func (m *Mirror) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	m.hub.SetMirror(nil)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (m *Mirror) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			wasClosed := m.closed
			m.mu.Unlock()
			if !wasClosed && m.logger != nil {
				m.logger.Warn("Relay mirror disconnected", slog.String("error", err.Error()))
			}
			m.Close()
			return
		}
		m.hub.DeliverRemote(ParseMessage(raw))
	}
}

// isLoopback reports whether the host names the local machine.
func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
