package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription service
type Metrics struct {
	// Capture metrics
	FramesCaptured prometheus.Counter
	ChunksSent     prometheus.Counter
	CurrentGain    prometheus.Gauge
	NoiseFloor     prometheus.Gauge
	SpeechOnsets   prometheus.Counter
	SpeechEnds     prometheus.Counter

	// Playback metrics
	BuffersScheduled prometheus.Counter
	PlaybackStops    prometheus.Counter
	QueuedBuffers    prometheus.Gauge

	// Turn metrics
	TurnsFinalized *prometheus.CounterVec
	TurnTextLength prometheus.Histogram
	EmptyTurns     prometheus.Counter

	// Relay metrics
	RelayDelivered prometheus.Counter
	RelayFiltered  prometheus.Counter
	RelayMirrored  prometheus.Counter

	// Sink metrics
	SinkDeliveries *prometheus.CounterVec
	SinkFailures   *prometheus.CounterVec
	SinkDuration   prometheus.Histogram

	// Transport metrics
	TransportEvents  *prometheus.CounterVec
	TransportDropped prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Capture metrics
		FramesCaptured: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_frames_captured_total",
			Help: "Total number of microphone frames processed",
		}),
		ChunksSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_chunks_sent_total",
			Help: "Total number of encoded audio chunks sent upstream",
		}),
		CurrentGain: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_current_gain",
			Help: "Current adaptive gain applied to microphone audio",
		}),
		NoiseFloor: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_noise_floor",
			Help: "Current estimated background noise floor",
		}),
		SpeechOnsets: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_speech_onsets_total",
			Help: "Total number of silence-to-speech transitions",
		}),
		SpeechEnds: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_speech_ends_total",
			Help: "Total number of speech-to-silence transitions",
		}),

		// Playback metrics
		BuffersScheduled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_playback_buffers_scheduled_total",
			Help: "Total number of audio buffers scheduled for playback",
		}),
		PlaybackStops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_playback_stops_total",
			Help: "Total number of playback interruptions",
		}),
		QueuedBuffers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_playback_queued_buffers",
			Help: "Current number of buffers waiting for playback",
		}),

		// Turn metrics
		TurnsFinalized: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_turns_finalized_total",
			Help: "Total number of finalized turns by trigger",
		}, []string{"trigger"}),
		TurnTextLength: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_turn_text_length_chars",
			Help:    "Length of finalized turn text in characters",
			Buckets: prometheus.ExponentialBuckets(8, 2, 10), // 8 chars to ~4K
		}),
		EmptyTurns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_empty_turns_suppressed_total",
			Help: "Total number of finalize attempts with an empty buffer",
		}),

		// Relay metrics
		RelayDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_relay_delivered_total",
			Help: "Total number of relay messages delivered to subscribers",
		}),
		RelayFiltered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_relay_filtered_total",
			Help: "Total number of relay messages dropped by meeting scope",
		}),
		RelayMirrored: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_relay_mirrored_total",
			Help: "Total number of messages forwarded to the relay server",
		}),

		// Sink metrics
		SinkDeliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_sink_deliveries_total",
			Help: "Total number of successful sink deliveries",
		}, []string{"sink"}),
		SinkFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_sink_failures_total",
			Help: "Total number of failed sink deliveries",
		}, []string{"sink"}),
		SinkDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_sink_duration_seconds",
			Help:    "Duration of sink delivery requests",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		}),

		// Transport metrics
		TransportEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_transport_events_total",
			Help: "Total number of speech service events by type",
		}, []string{"type"}),
		TransportDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_transport_dropped_total",
			Help: "Total number of malformed speech service messages dropped",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scribe_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordFrameCaptured increments the captured frames counter
func (m *Metrics) RecordFrameCaptured() {
	m.FramesCaptured.Inc()
}

// RecordChunkSent increments the sent chunks counter
func (m *Metrics) RecordChunkSent() {
	m.ChunksSent.Inc()
}

// SetGainState updates the gain and noise floor gauges
func (m *Metrics) SetGainState(gain, noiseFloor float64) {
	m.CurrentGain.Set(gain)
	m.NoiseFloor.Set(noiseFloor)
}

// RecordSpeechTransition records a voice activity boundary
func (m *Metrics) RecordSpeechTransition(speaking bool) {
	if speaking {
		m.SpeechOnsets.Inc()
	} else {
		m.SpeechEnds.Inc()
	}
}

// RecordBuffersScheduled adds to the playback buffers counter
func (m *Metrics) RecordBuffersScheduled(count int) {
	m.BuffersScheduled.Add(float64(count))
}

// RecordPlaybackStop increments the playback stop counter
func (m *Metrics) RecordPlaybackStop() {
	m.PlaybackStops.Inc()
}

// SetQueuedBuffers sets the current playback queue depth
func (m *Metrics) SetQueuedBuffers(count int) {
	m.QueuedBuffers.Set(float64(count))
}

// RecordTurnFinalized records a finalized turn
func (m *Metrics) RecordTurnFinalized(trigger string, textLength int) {
	m.TurnsFinalized.WithLabelValues(trigger).Inc()
	m.TurnTextLength.Observe(float64(textLength))
}

// RecordEmptyTurns adds to the suppressed empty turn counter
func (m *Metrics) RecordEmptyTurns(count int) {
	m.EmptyTurns.Add(float64(count))
}

// RecordRelayDelivery records relay fanout results
func (m *Metrics) RecordRelayDelivery(delivered, filtered int) {
	m.RelayDelivered.Add(float64(delivered))
	m.RelayFiltered.Add(float64(filtered))
}

// RecordRelayMirrored adds to the mirrored messages counter
func (m *Metrics) RecordRelayMirrored(count int) {
	m.RelayMirrored.Add(float64(count))
}

// RecordSinkDelivery records a sink delivery attempt
func (m *Metrics) RecordSinkDelivery(sink string, success bool, durationSeconds float64) {
	if success {
		m.SinkDeliveries.WithLabelValues(sink).Inc()
	} else {
		m.SinkFailures.WithLabelValues(sink).Inc()
	}
	m.SinkDuration.Observe(durationSeconds)
}

// RecordTransportEvent records one decoded speech service event
func (m *Metrics) RecordTransportEvent(eventType string) {
	m.TransportEvents.WithLabelValues(eventType).Inc()
}

// RecordTransportDropped increments the dropped messages counter
func (m *Metrics) RecordTransportDropped() {
	m.TransportDropped.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
