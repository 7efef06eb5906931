package sessionlog

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/panyeroa1/translateq/internal/turn"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Entry is one logged turn with its position in the session.
type Entry struct {
	Index       int          `json:"index"`
	Role        Role         `json:"role"`
	Text        string       `json:"text"`
	Language    string       `json:"language,omitempty"`
	Trigger     turn.Trigger `json:"trigger,omitempty"`
	Audio       string       `json:"audio,omitempty"`
	FinalizedAt time.Time    `json:"finalized_at"`
}

// Stats reports session log counters for monitoring.
type Stats struct {
	SessionID string `json:"session_id"`
	Entries   int    `json:"entries"`
	Appended  uint64 `json:"appended"`
	Updated   uint64 `json:"updated"`
	Cleared   uint64 `json:"cleared"`
}

// Log is the append-only turn record for one session.
type Log struct {
	logger *slog.Logger

	mu        sync.Mutex
	sessionID string
	startedAt time.Time
	entries   []Entry

	appended uint64
	updated  uint64
	cleared  uint64
}

// NewLog creates a session log with a fresh session identifier.
func NewLog(logger *slog.Logger) *Log {
	return &Log{
		logger:    logger,
		sessionID: uuid.New().String(),
		startedAt: time.Now(),
	}
}

// SessionID returns the current session identifier.
func (l *Log) SessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessionID
}

// StartedAt returns when the current session began.
func (l *Log) StartedAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.startedAt
}

// Append records a finalized user turn at the end of the log.
func (l *Log) Append(t turn.Turn) Entry {
	return l.append(Entry{
		Role:        RoleUser,
		Text:        t.Text,
		Language:    t.Language,
		Trigger:     t.Trigger,
		FinalizedAt: t.FinalizedAt,
	})
}

// AppendAgent records the agent's response text as its own turn.
func (l *Log) AppendAgent(text, language string) Entry {
	return l.append(Entry{
		Role:        RoleAgent,
		Text:        text,
		Language:    language,
		FinalizedAt: time.Now(),
	})
}

func (l *Log) append(e Entry) Entry {
	l.mu.Lock()
	e.Index = len(l.entries)
	l.entries = append(l.entries, e)
	l.appended++
	sessionID := l.sessionID
	l.mu.Unlock()

	if l.logger != nil {
		l.logger.Debug("Turn appended",
			slog.String("session_id", sessionID),
			slog.String("role", string(e.Role)),
			slog.Int("index", e.Index),
			slog.Int("text_length", len(e.Text)),
		)
	}
	return e
}

// UpdateLast rewrites the text of the most recent entry. Returns false when
// the log is empty.
func (l *Log) UpdateLast(text string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return false
	}
	l.entries[len(l.entries)-1].Text = text
	l.updated++
	return true
}

// Last returns the most recent entry, if any.
func (l *Log) Last() (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Entries returns a copy of the full log in append order.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of logged turns.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Clear discards all entries and starts a new session with a fresh
// identifier.
func (l *Log) Clear() string {
	l.mu.Lock()
	old := l.sessionID
	l.entries = nil
	l.sessionID = uuid.New().String()
	l.startedAt = time.Now()
	l.cleared++
	fresh := l.sessionID
	l.mu.Unlock()

	if l.logger != nil {
		l.logger.Info("Session cleared",
			slog.String("old_session_id", old),
			slog.String("new_session_id", fresh),
		)
	}
	return fresh
}

// GetStats returns session log counters.
func (l *Log) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		SessionID: l.sessionID,
		Entries:   len(l.entries),
		Appended:  l.appended,
		Updated:   l.updated,
		Cleared:   l.cleared,
	}
}
