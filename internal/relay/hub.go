package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Message is one relayed payload.
type Message struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	IsFinal   bool   `json:"isFinal,omitempty"`
	MeetingID string `json:"meetingId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Language  string `json:"language,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// NewTranscription builds a finalized-transcription message.
func NewTranscription(sessionID, meetingID, text, language string) Message {
	return Message{
		Type:      "transcription_finalized",
		Text:      text,
		IsFinal:   true,
		MeetingID: meetingID,
		SessionID: sessionID,
		Language:  language,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// ParseMessage decodes a raw relay payload. Anything that is not valid JSON
// with a type field is wrapped as a plain chat message so free-form senders
// still get through.
func ParseMessage(raw []byte) Message {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type == "" {
		return Message{Type: "chat", Text: string(raw)}
	}
	return msg
}

// Sender forwards messages to an external relay.
type Sender interface {
	Send(Message) error
}

// Stats reports hub counters for monitoring.
type Stats struct {
	Subscribers int    `json:"subscribers"`
	Delivered   uint64 `json:"delivered"`
	Filtered    uint64 `json:"filtered"`
	Mirrored    uint64 `json:"mirrored"`
	MirrorDrops uint64 `json:"mirror_drops"`
}

type subscriber struct {
	meetingID string
	handler   func(Message)
}

// Hub routes messages between in-process subscribers and the optional
// mirror connection.
type Hub struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[int]subscriber
	nextID int
	mirror Sender

	delivered   uint64
	filtered    uint64
	mirrored    uint64
	mirrorDrops uint64
}

// NewHub creates an empty relay hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		subs:   make(map[int]subscriber),
	}
}

// Subscribe registers a handler scoped to a meeting. An empty meetingID
// receives every message. The returned function removes the subscription.
func (h *Hub) Subscribe(meetingID string, handler func(Message)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.subs[id] = subscriber{meetingID: meetingID, handler: handler}
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

// SetMirror attaches an external relay sender. Pass nil to detach.
func (h *Hub) SetMirror(s Sender) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mirror = s
}

// Broadcast delivers a message to matching local subscribers and the mirror.
func (h *Hub) Broadcast(msg Message) {
	h.deliver(msg, true)
}

// DeliverRemote delivers a message that arrived from the mirror to local
// subscribers only, so it is not echoed back out.
func (h *Hub) DeliverRemote(msg Message) {
	h.deliver(msg, false)
}

func (h *Hub) deliver(msg Message, toMirror bool) {
	h.mu.Lock()
	var handlers []func(Message)
	for _, sub := range h.subs {
		if scopeMatches(sub.meetingID, msg.MeetingID) {
			handlers = append(handlers, sub.handler)
			h.delivered++
		} else {
			h.filtered++
		}
	}
	mirror := h.mirror
	h.mu.Unlock()

	for _, fn := range handlers {
		fn(msg)
	}

	if toMirror && mirror != nil {
		if err := mirror.Send(msg); err != nil {
			h.mu.Lock()
			h.mirrorDrops++
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Warn("Mirror send failed", slog.String("error", err.Error()))
			}
		} else {
			h.mu.Lock()
			h.mirrored++
			h.mu.Unlock()
		}
	}
}

// GetStats returns hub counters.
func (h *Hub) GetStats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		Subscribers: len(h.subs),
		Delivered:   h.delivered,
		Filtered:    h.filtered,
		Mirrored:    h.mirrored,
		MirrorDrops: h.mirrorDrops,
	}
}

// scopeMatches reports whether a subscriber scope admits a message scope.
// A message only misses when both sides name a meeting and they differ.
func scopeMatches(subScope, msgScope string) bool {
	if subScope == "" || msgScope == "" {
		return true
	}
	return subScope == msgScope
}
