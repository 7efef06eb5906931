package turn

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// State is the lifecycle phase of the current turn.
type State string

const (
	// StateIdle means no unfinalized speech is buffered.
	StateIdle State = "idle"
	// StateAccumulating means fragments are being collected.
	StateAccumulating State = "accumulating"
	// StateFinalizing means a trigger fired and the settle delay is running.
	StateFinalizing State = "finalizing"
)

// Trigger identifies which condition closed a turn.
type Trigger string

const (
	// TriggerInactivity closes a turn after a quiet window with no new text.
	TriggerInactivity Trigger = "inactivity"
	// TriggerSentences closes a turn once enough sentences have completed.
	TriggerSentences Trigger = "sentences"
	// TriggerExplicit closes a turn on an end-of-turn signal.
	TriggerExplicit Trigger = "explicit"
)

// Turn is one finalized utterance.
type Turn struct {
	Text        string    `json:"text"`
	Language    string    `json:"language,omitempty"`
	Trigger     Trigger   `json:"trigger"`
	FinalizedAt time.Time `json:"finalized_at"`
}

// Handler receives finalized turns.
type Handler func(Turn)

// AfterFunc arms a one-shot timer. The returned function cancels it.
type AfterFunc func(d time.Duration, fn func()) (cancel func())

const (
	// segmentWindow is how many trailing fragments the buffer keeps.
	segmentWindow = 2

	defaultInactivityTimeout = 5 * time.Second
	defaultSentenceThreshold = 2
	defaultFinalizeDelay     = 500 * time.Millisecond
)

// Options tune the machine's trigger timings. Zero values take defaults.
type Options struct {
	InactivityTimeout time.Duration
	SentenceThreshold int
	FinalizeDelay     time.Duration
}

// Stats reports state machine counters for monitoring.
type Stats struct {
	State            State  `json:"state"`
	BufferedText     string `json:"buffered_text"`
	TurnsFinalized   uint64 `json:"turns_finalized"`
	ByInactivity     uint64 `json:"by_inactivity"`
	BySentences      uint64 `json:"by_sentences"`
	ByExplicit       uint64 `json:"by_explicit"`
	EmptySuppressed  uint64 `json:"empty_suppressed"`
	DuplicatesMerged uint64 `json:"duplicates_merged"`
}

// Machine turns streaming fragments into finalized turns.
type Machine struct {
	after  AfterFunc
	logger *slog.Logger
	opts   Options

	mu       sync.Mutex
	state    State
	segments []string
	language string

	// generation invalidates timers armed before a reset.
	generation uint64
	// pendingEmits counts finalized turns whose settle delay is running.
	pendingEmits int

	inactivityCancel func()
	lastFinalized    string

	handlers []Handler

	turnsFinalized   uint64
	byInactivity     uint64
	bySentences      uint64
	byExplicit       uint64
	emptySuppressed  uint64
	duplicatesMerged uint64
}

// NewMachine creates a turn state machine. after defaults to time.AfterFunc
// when nil.
func NewMachine(opts Options, after AfterFunc, logger *slog.Logger) *Machine {
	if opts.InactivityTimeout <= 0 {
		opts.InactivityTimeout = defaultInactivityTimeout
	}
	if opts.SentenceThreshold <= 0 {
		opts.SentenceThreshold = defaultSentenceThreshold
	}
	if opts.FinalizeDelay <= 0 {
		opts.FinalizeDelay = defaultFinalizeDelay
	}
	if after == nil {
		after = func(d time.Duration, fn func()) func() {
			t := time.AfterFunc(d, fn)
			return func() { t.Stop() }
		}
	}
	return &Machine{
		after:  after,
		logger: logger,
		opts:   opts,
		state:  StateIdle,
	}
}

// OnTurn registers a handler for finalized turns.
func (m *Machine) OnTurn(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// SetLanguage records the detected language attached to subsequent turns.
func (m *Machine) SetLanguage(lang string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.language = lang
}

// AddFragment merges one transcription fragment into the buffer. Fragments
// that extend the previous one replace it rather than append, so overlapping
// recognizer re-sends do not duplicate text.
func (m *Machine) AddFragment(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}

	m.mu.Lock()
	if m.state == StateFinalizing {
		// A new fragment during the settle delay starts the next turn.
		m.state = StateIdle
	}

	if n := len(m.segments); n > 0 && strings.HasPrefix(text, m.segments[n-1]) {
		m.segments[n-1] = text
		m.duplicatesMerged++
	} else {
		m.segments = append(m.segments, text)
		if len(m.segments) > segmentWindow {
			m.segments = m.segments[len(m.segments)-segmentWindow:]
		}
	}
	m.state = StateAccumulating
	combined := m.combinedLocked()
	gen := m.generation

	// Re-arm the quiet window against the buffer as it stands now. If more
	// text lands before it fires, the snapshot no longer matches and the
	// timer is a no-op.
	if m.inactivityCancel != nil {
		m.inactivityCancel()
	}
	m.inactivityCancel = m.after(m.opts.InactivityTimeout, func() {
		m.inactivityFired(gen, combined)
	})

	sentences := countSentences(combined)
	m.mu.Unlock()

	if sentences >= m.opts.SentenceThreshold {
		m.finalize(TriggerSentences)
	}
}

// FinalizeNow closes the current turn on an explicit end-of-turn signal.
func (m *Machine) FinalizeNow() {
	m.finalize(TriggerExplicit)
}

// Reset discards any buffered text without emitting a turn. Used when the
// upstream connection drops.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.segments = nil
	m.state = StateIdle
	m.lastFinalized = ""
	m.generation++
	m.pendingEmits = 0
	if m.inactivityCancel != nil {
		m.inactivityCancel()
		m.inactivityCancel = nil
	}
	m.mu.Unlock()
}

// State returns the current lifecycle phase.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Text returns the buffered unfinalized text.
func (m *Machine) Text() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.combinedLocked()
}

// GetStats returns state machine counters.
func (m *Machine) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		State:            m.state,
		BufferedText:     m.combinedLocked(),
		TurnsFinalized:   m.turnsFinalized,
		ByInactivity:     m.byInactivity,
		BySentences:      m.bySentences,
		ByExplicit:       m.byExplicit,
		EmptySuppressed:  m.emptySuppressed,
		DuplicatesMerged: m.duplicatesMerged,
	}
}

func (m *Machine) inactivityFired(gen uint64, snapshot string) {
	m.mu.Lock()
	stale := gen != m.generation ||
		m.state != StateAccumulating ||
		m.combinedLocked() != snapshot
	m.mu.Unlock()
	if stale {
		return
	}
	m.finalize(TriggerInactivity)
}

// finalize captures and clears the buffer, then emits the turn after the
// settle delay. Racing triggers are collapsed: only the first caller sees a
// non-empty buffer. A turn committed here always emits unless Reset drops
// the whole session; new accumulation during the settle delay does not
// touch the pending emit.
func (m *Machine) finalize(trigger Trigger) {
	m.mu.Lock()
	if m.state == StateFinalizing {
		m.mu.Unlock()
		return
	}
	text := strings.TrimSpace(m.combinedLocked())
	m.segments = nil
	gen := m.generation
	if m.inactivityCancel != nil {
		m.inactivityCancel()
		m.inactivityCancel = nil
	}

	if text == "" {
		m.state = StateIdle
		m.emptySuppressed++
		m.mu.Unlock()
		return
	}
	if text == m.lastFinalized {
		m.state = StateIdle
		m.duplicatesMerged++
		m.mu.Unlock()
		return
	}

	m.state = StateFinalizing
	m.lastFinalized = text
	m.pendingEmits++
	lang := m.language
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Debug("Turn finalizing",
			slog.String("trigger", string(trigger)),
			slog.Int("text_length", len(text)),
		)
	}

	m.after(m.opts.FinalizeDelay, func() {
		m.emit(gen, Turn{
			Text:        text,
			Language:    lang,
			Trigger:     trigger,
			FinalizedAt: time.Now(),
		})
	})
}

func (m *Machine) emit(gen uint64, t Turn) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	if m.pendingEmits > 0 {
		m.pendingEmits--
	}
	if m.state == StateFinalizing && m.pendingEmits == 0 {
		m.state = StateIdle
	}
	// The duplicate guard only covers re-sends racing this settle window;
	// repeating the same sentence later is a new turn.
	if m.lastFinalized == t.Text {
		m.lastFinalized = ""
	}
	m.turnsFinalized++
	switch t.Trigger {
	case TriggerInactivity:
		m.byInactivity++
	case TriggerSentences:
		m.bySentences++
	case TriggerExplicit:
		m.byExplicit++
	}
	handlers := make([]Handler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	for _, h := range handlers {
		h(t)
	}
}

func (m *Machine) combinedLocked() string {
	return strings.Join(m.segments, " ")
}

// countSentences counts terminal punctuation marks in the text.
func countSentences(text string) int {
	n := 0
	for _, r := range text {
		switch r {
		case '.', '!', '?':
			n++
		}
	}
	return n
}
