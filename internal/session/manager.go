package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/panyeroa1/translateq/internal/agc"
	"github.com/panyeroa1/translateq/internal/capture"
	"github.com/panyeroa1/translateq/internal/config"
	"github.com/panyeroa1/translateq/internal/metrics"
	"github.com/panyeroa1/translateq/internal/playback"
	"github.com/panyeroa1/translateq/internal/relay"
	"github.com/panyeroa1/translateq/internal/sessionlog"
	"github.com/panyeroa1/translateq/internal/settings"
	"github.com/panyeroa1/translateq/internal/sink"
	"github.com/panyeroa1/translateq/internal/speech"
	"github.com/panyeroa1/translateq/internal/transport"
	"github.com/panyeroa1/translateq/internal/turn"
)

// duckMultiplier is the mic gain scale applied while agent audio plays, so
// speaker bleed does not feed back into capture.
const duckMultiplier = 0.2

// Transport is the upstream connection the manager drives.
type Transport interface {
	Connect(ctx context.Context, url string) error
	Connected() bool
	SendAudio(payload string) error
	SendToolResponse(id string, output map[string]any) error
	Close() error
	GetStats() transport.Stats
}

// Deps bundles the components a session manager orchestrates.
type Deps struct {
	Config     *config.Config
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Controller *agc.Controller
	Pipeline   *capture.Pipeline
	Player     *playback.Scheduler
	Turns      *turn.Machine
	Log        *sessionlog.Log
	Hub        *relay.Hub
	Fanout     *sink.Fanout
	Settings   *settings.Store

	// NativeFactory opens local recognizer sessions for native mode.
	// Optional; native mode is rejected when nil.
	NativeFactory speech.Factory
}

// Stats aggregates the session's component counters.
type Stats struct {
	Active         bool             `json:"active"`
	Mode           settings.Mode    `json:"mode"`
	Language       string           `json:"language,omitempty"`
	StallsDetected uint64           `json:"stalls_detected"`
	Controller     agc.Stats        `json:"controller"`
	Capture        capture.Stats    `json:"capture"`
	Playback       playback.Stats   `json:"playback"`
	Turns          turn.Stats       `json:"turns"`
	SessionLog     sessionlog.Stats `json:"session_log"`
	Relay          relay.Stats      `json:"relay"`
	Sinks          sink.Stats       `json:"sinks"`
	Transport      transport.Stats  `json:"transport"`
}

// Manager runs one live transcription session.
type Manager struct {
	cfg    *config.Config
	logger *slog.Logger
	m      *metrics.Metrics

	ctrl     *agc.Controller
	pipeline *capture.Pipeline
	player   *playback.Scheduler
	turns    *turn.Machine
	log      *sessionlog.Log
	hub      *relay.Hub
	fanout   *sink.Fanout
	store    *settings.Store
	native   *speech.Continuous

	mu             sync.Mutex
	client         Transport
	active         bool
	mode           settings.Mode
	language       string
	agentText      strings.Builder
	lastFragment   time.Time
	lastSpeaking   bool
	stallsDetected uint64
	snap           metricsSnapshot
	watchdogCancel context.CancelFunc
	watchdogDone   chan struct{}
}

// metricsSnapshot remembers the component counter values already mirrored
// to Prometheus, so each refresh publishes only the increment.
type metricsSnapshot struct {
	buffersScheduled uint64
	emptySuppressed  uint64
	relayDelivered   uint64
	relayFiltered    uint64
	relayMirrored    uint64
}

// NewManager creates a session manager and wires the component callbacks.
// The transport is attached separately because its event handler is the
// manager itself.
func NewManager(deps Deps) (*Manager, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	for name, missing := range map[string]bool{
		"controller": deps.Controller == nil,
		"pipeline":   deps.Pipeline == nil,
		"player":     deps.Player == nil,
		"turns":      deps.Turns == nil,
		"log":        deps.Log == nil,
		"hub":        deps.Hub == nil,
		"fanout":     deps.Fanout == nil,
		"settings":   deps.Settings == nil,
	} {
		if missing {
			return nil, fmt.Errorf("%s cannot be nil", name)
		}
	}

	mgr := &Manager{
		cfg:      deps.Config,
		logger:   deps.Logger,
		m:        deps.Metrics,
		ctrl:     deps.Controller,
		pipeline: deps.Pipeline,
		player:   deps.Player,
		turns:    deps.Turns,
		log:      deps.Log,
		hub:      deps.Hub,
		fanout:   deps.Fanout,
		store:    deps.Settings,
		mode:     deps.Settings.Get().Mode,
		language: deps.Settings.Get().Language,
	}

	if deps.NativeFactory != nil {
		native, err := speech.NewContinuous(deps.NativeFactory, mgr.handleNativeResult, deps.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create native recognizer: %w", err)
		}
		mgr.native = native
	}

	deps.Pipeline.OnData(mgr.handleChunk)
	deps.Pipeline.OnVolume(mgr.handleVolume)
	deps.Turns.OnTurn(mgr.handleTurn)

	return mgr, nil
}

// SetTransport attaches the upstream client. Must be called before Start.
func (mg *Manager) SetTransport(client Transport) {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	mg.client = client
}

// Start connects upstream and begins capturing.
func (mg *Manager) Start(ctx context.Context) error {
	mg.mu.Lock()
	if mg.active {
		mg.mu.Unlock()
		return nil
	}
	client := mg.client
	mode := mg.mode
	mg.mu.Unlock()

	if client == nil {
		return fmt.Errorf("transport not attached")
	}

	userSettings := mg.store.Get()
	if err := mg.ctrl.SetVolumeMultiplier(userSettings.VoiceFocus); err != nil {
		return fmt.Errorf("invalid voice focus setting: %w", err)
	}

	if mode == settings.ModeNeural {
		if err := client.Connect(ctx, mg.cfg.Speech.URL); err != nil {
			return err
		}
	} else {
		if mg.native == nil {
			return fmt.Errorf("native mode requires a local recognizer")
		}
		mg.native.Start(userSettings.Language)
	}

	if err := mg.pipeline.Start(ctx); err != nil {
		if mode == settings.ModeNeural {
			client.Close()
		} else if mg.native != nil {
			mg.native.Stop()
		}
		return err
	}

	wctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	mg.mu.Lock()
	mg.active = true
	mg.language = userSettings.Language
	mg.lastFragment = time.Now()
	mg.watchdogCancel = cancel
	mg.watchdogDone = done
	mg.mu.Unlock()

	go mg.watchdog(wctx, done)

	if mg.logger != nil {
		mg.logger.Info("Session started",
			slog.String("session_id", mg.log.SessionID()),
			slog.String("mode", string(mode)),
		)
	}
	return nil
}

// Stop ends the session, releasing the microphone and the upstream
// connection, and waits for in-flight sink deliveries.
func (mg *Manager) Stop() {
	mg.mu.Lock()
	if !mg.active {
		mg.mu.Unlock()
		return
	}
	mg.active = false
	cancel := mg.watchdogCancel
	done := mg.watchdogDone
	client := mg.client
	mg.watchdogCancel = nil
	mg.watchdogDone = nil
	mg.mu.Unlock()

	cancel()
	<-done

	mg.pipeline.Stop()
	if mg.native != nil {
		mg.native.Stop()
	}
	if client != nil {
		client.Close()
	}
	mg.player.Stop()
	mg.turns.Reset()
	mg.fanout.Wait()
	mg.publishMetrics()

	if mg.logger != nil {
		mg.logger.Info("Session stopped", slog.String("session_id", mg.log.SessionID()))
	}
}

// Active reports whether a session is running.
func (mg *Manager) Active() bool {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	return mg.active
}

// Clear discards the turn log and buffered text, starting a fresh session
// identifier.
func (mg *Manager) Clear() string {
	mg.turns.Reset()
	return mg.log.Clear()
}

// Entries returns a copy of the session's finalized turns.
func (mg *Manager) Entries() []sessionlog.Entry {
	return mg.log.Entries()
}

// SetMode switches between the neural and native engines. The session must
// be restarted for the switch to take effect.
func (mg *Manager) SetMode(mode settings.Mode) error {
	if mode == settings.ModeNative && mg.native == nil {
		return fmt.Errorf("native mode requires a local recognizer")
	}
	next := mg.store.Get()
	next.Mode = mode
	if err := mg.store.Update(next); err != nil {
		return err
	}
	mg.mu.Lock()
	mg.mode = mode
	mg.mu.Unlock()
	return nil
}

// HandleEvent dispatches one speech service event. It is the transport's
// event handler.
func (mg *Manager) HandleEvent(e transport.Event) {
	switch ev := e.(type) {
	case transport.OpenEvent:
		if mg.logger != nil {
			mg.logger.Debug("Upstream connection open")
		}

	case transport.AudioEvent:
		mg.recordEvent("audio")
		// Remote audio is about to play; duck the mic so it does not hear
		// the speakers.
		mg.duck(true)
		if err := mg.player.AddPCM16(ev.Data); err != nil && mg.logger != nil {
			mg.logger.Warn("Dropping bad audio chunk", slog.String("error", err.Error()))
		}

	case transport.InputTranscriptionEvent:
		mg.recordEvent("input_transcription")
		mg.markFragment()
		if ev.Text != "" {
			mg.turns.AddFragment(ev.Text)
		}
		if ev.Final {
			mg.turns.FinalizeNow()
		}

	case transport.OutputTranscriptionEvent:
		mg.recordEvent("output_transcription")
		mg.mu.Lock()
		mg.agentText.WriteString(ev.Text)
		mg.mu.Unlock()

	case transport.TurnCompleteEvent:
		mg.recordEvent("turn_complete")
		mg.player.MarkComplete(func() { mg.duck(false) })

	case transport.InterruptedEvent:
		mg.recordEvent("interrupted")
		mg.player.Stop()
		mg.duck(false)
		if mg.m != nil {
			mg.m.RecordPlaybackStop()
		}

	case transport.ToolCallEvent:
		mg.recordEvent("tool_call")
		mg.handleToolCall(ev)

	case transport.CloseEvent:
		mg.recordEvent("close")
		// Unfinalized text is dropped on disconnect rather than guessed at.
		mg.turns.Reset()
		mg.player.Stop()
		mg.duck(false)

	case transport.ErrorEvent:
		if mg.m != nil {
			mg.m.RecordTransportDropped()
		}
	}
}

// handleToolCall executes one tool request and acknowledges it.
func (mg *Manager) handleToolCall(ev transport.ToolCallEvent) {
	mg.mu.Lock()
	client := mg.client
	mg.mu.Unlock()

	output := map[string]any{"success": true}

	switch ev.Name {
	case "broadcast_to_websocket":
		text, _ := ev.Args["message"].(string)
		meetingID, _ := ev.Args["meetingId"].(string)
		if meetingID == "" {
			meetingID = mg.store.Get().MeetingID
		}
		mg.hub.Broadcast(relay.Message{
			Type:      "chat",
			Text:      text,
			MeetingID: meetingID,
			SessionID: mg.log.SessionID(),
		})

	case "report_detected_language":
		lang, _ := ev.Args["language"].(string)
		if lang != "" {
			mg.mu.Lock()
			mg.language = lang
			mg.mu.Unlock()
			mg.turns.SetLanguage(lang)
			if mg.logger != nil {
				mg.logger.Info("Language detected", slog.String("language", lang))
			}
		}

	default:
		output = map[string]any{"success": false, "error": "unknown tool"}
		if mg.logger != nil {
			mg.logger.Warn("Unknown tool call", slog.String("name", ev.Name))
		}
	}

	if client != nil {
		if err := client.SendToolResponse(ev.ID, output); err != nil && mg.logger != nil {
			mg.logger.Warn("Tool response failed",
				slog.String("tool", ev.Name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// handleChunk forwards one captured chunk upstream in neural mode.
func (mg *Manager) handleChunk(payload string) {
	mg.mu.Lock()
	client := mg.client
	neural := mg.mode == settings.ModeNeural
	mg.mu.Unlock()

	if mg.m != nil {
		mg.m.RecordChunkSent()
	}
	if !neural || client == nil || !client.Connected() {
		return
	}
	if err := client.SendAudio(payload); err != nil && mg.logger != nil {
		mg.logger.Warn("Failed to send audio chunk", slog.String("error", err.Error()))
	}
}

func (mg *Manager) handleVolume(volume float64) {
	if mg.m == nil {
		return
	}
	mg.m.RecordFrameCaptured()
	mg.m.SetGainState(mg.ctrl.CurrentGain(), mg.ctrl.NoiseFloor())

	speaking := mg.ctrl.Speaking()
	mg.mu.Lock()
	changed := speaking != mg.lastSpeaking
	mg.lastSpeaking = speaking
	mg.mu.Unlock()
	if changed {
		mg.m.RecordSpeechTransition(speaking)
	}
}

// handleNativeResult feeds local recognizer output into the turn machine.
func (mg *Manager) handleNativeResult(r speech.Result) {
	mg.markFragment()
	if r.Text != "" {
		mg.turns.AddFragment(r.Text)
	}
	if r.Final {
		mg.turns.FinalizeNow()
	}
}

// handleTurn records and distributes one finalized turn.
func (mg *Manager) handleTurn(t turn.Turn) {
	mg.mu.Lock()
	agentText := mg.agentText.String()
	mg.agentText.Reset()
	mg.mu.Unlock()

	entry := mg.log.Append(t)
	if agentText != "" {
		mg.log.AppendAgent(agentText, t.Language)
	}
	userSettings := mg.store.Get()

	mg.hub.Broadcast(relay.NewTranscription(
		mg.log.SessionID(), userSettings.MeetingID, t.Text, t.Language))

	mg.fanout.PublishFiltered(sink.Event{
		SessionID: mg.log.SessionID(),
		MeetingID: userSettings.MeetingID,
		UserText:  t.Text,
		AgentText: agentText,
		Language:  t.Language,
		Timestamp: t.FinalizedAt,
	}, func(name string) bool {
		switch name {
		case sink.NameLogging:
			return userSettings.LoggingSinkOn
		case sink.NameWebhook:
			return userSettings.WebhookOn
		}
		return true
	})

	if mg.m != nil {
		mg.m.RecordTurnFinalized(string(t.Trigger), len(t.Text))
	}
	if mg.logger != nil {
		mg.logger.Info("Turn finalized",
			slog.String("session_id", mg.log.SessionID()),
			slog.Int("index", entry.Index),
			slog.String("trigger", string(t.Trigger)),
			slog.Int("text_length", len(t.Text)),
		)
	}
}

// duck scales mic gain down while remote audio plays and restores the
// user's configured focus level afterwards.
func (mg *Manager) duck(on bool) {
	target := mg.store.Get().VoiceFocus
	if on {
		target = min(target, duckMultiplier)
	}
	if err := mg.ctrl.SetVolumeMultiplier(target); err != nil && mg.logger != nil {
		mg.logger.Warn("Failed to set mic multiplier", slog.String("error", err.Error()))
	}
}

func (mg *Manager) markFragment() {
	mg.mu.Lock()
	mg.lastFragment = time.Now()
	mg.mu.Unlock()
}

func (mg *Manager) recordEvent(eventType string) {
	if mg.m != nil {
		mg.m.RecordTransportEvent(eventType)
	}
}

// watchdog flags sessions where the user is speaking but no transcription
// has arrived for the configured window.
func (mg *Manager) watchdog(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(mg.cfg.Capture.GetWatchdogInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		mg.publishMetrics()

		if !mg.ctrl.Speaking() {
			continue
		}
		mg.mu.Lock()
		stalled := time.Since(mg.lastFragment) > mg.cfg.Capture.GetWatchdogTimeout()
		if stalled {
			mg.stallsDetected++
			mg.lastFragment = time.Now()
		}
		mg.mu.Unlock()

		if stalled && mg.logger != nil {
			mg.logger.Warn("Transcription stalled while speaking",
				slog.String("session_id", mg.log.SessionID()),
			)
		}
	}
}

// publishMetrics mirrors component counters into Prometheus. All of the
// source counters are monotonic, so the diff against the last snapshot is
// never negative.
func (mg *Manager) publishMetrics() {
	if mg.m == nil {
		return
	}
	pb := mg.player.GetStats()
	tn := mg.turns.GetStats()
	rl := mg.hub.GetStats()

	mg.mu.Lock()
	prev := mg.snap
	mg.snap = metricsSnapshot{
		buffersScheduled: pb.BuffersScheduled,
		emptySuppressed:  tn.EmptySuppressed,
		relayDelivered:   rl.Delivered,
		relayFiltered:    rl.Filtered,
		relayMirrored:    rl.Mirrored,
	}
	mg.mu.Unlock()

	mg.m.SetQueuedBuffers(pb.QueuedBuffers)
	mg.m.RecordBuffersScheduled(int(pb.BuffersScheduled - prev.buffersScheduled))
	mg.m.RecordEmptyTurns(int(tn.EmptySuppressed - prev.emptySuppressed))
	mg.m.RecordRelayDelivery(
		int(rl.Delivered-prev.relayDelivered),
		int(rl.Filtered-prev.relayFiltered),
	)
	mg.m.RecordRelayMirrored(int(rl.Mirrored - prev.relayMirrored))
}

// GetStats returns the aggregated session statistics.
func (mg *Manager) GetStats() Stats {
	mg.mu.Lock()
	active := mg.active
	mode := mg.mode
	language := mg.language
	stalls := mg.stallsDetected
	client := mg.client
	mg.mu.Unlock()

	stats := Stats{
		Active:         active,
		Mode:           mode,
		Language:       language,
		StallsDetected: stalls,
		Controller:     mg.ctrl.GetStats(),
		Capture:        mg.pipeline.GetStats(),
		Playback:       mg.player.GetStats(),
		Turns:          mg.turns.GetStats(),
		SessionLog:     mg.log.GetStats(),
		Relay:          mg.hub.GetStats(),
		Sinks:          mg.fanout.GetStats(),
	}
	if client != nil {
		stats.Transport = client.GetStats()
	}
	return stats
}
