package playback

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panyeroa1/translateq/internal/audio"
)

const (
	// SampleRate is the fixed output rate of agent audio.
	SampleRate = audio.PlaybackSampleRate

	// BufferSamples is the size of one scheduled output buffer.
	BufferSamples = audio.PlaybackBufferSamples

	// initialBufferTime is the lead applied when the timeline is anchored,
	// absorbing delivery jitter before the first buffer plays.
	initialBufferTime = 0.1

	// scheduleAheadTime bounds how far past the output clock buffers are
	// committed to the sink.
	scheduleAheadTime = 0.15

	// idlePollInterval is the re-check cadence while the queue is empty.
	idlePollInterval = 30 * time.Millisecond

	// timerLeadMargin wakes the scheduling pass slightly before the
	// committed horizon is reached.
	timerLeadMargin = 100 * time.Millisecond

	// stopRampTime is the fade applied on Stop to avoid clicks.
	stopRampTime = 0.1

	// sinkRebuildDelay is how long after the fade the sink path is rebuilt.
	sinkRebuildDelay = 200 * time.Millisecond
)

// Clock reports the output timeline position in seconds.
type Clock interface {
	Now() float64
}

// Sink plays scheduled sample buffers on an output timeline.
type Sink interface {
	// Schedule commits a buffer to start at the given timeline position.
	// onEnded, when non-nil, fires after the buffer finishes playing.
	Schedule(samples []float64, at float64, onEnded func())

	// RampDown fades the output to silence over the given duration.
	RampDown(over float64)

	// Rebuild discards the faded output path and prepares a fresh one at
	// unity gain.
	Rebuild()
}

// AfterFunc arms a one-shot timer. The returned function cancels it.
type AfterFunc func(d time.Duration, fn func()) (cancel func())

// Stats reports scheduler counters for monitoring.
type Stats struct {
	Playing          bool    `json:"playing"`
	QueuedBuffers    int     `json:"queued_buffers"`
	PendingSamples   int     `json:"pending_samples"`
	BuffersScheduled uint64  `json:"buffers_scheduled"`
	ScheduledTime    float64 `json:"scheduled_time"`
}

// Scheduler drives buffered audio onto a Sink ahead of its clock.
type Scheduler struct {
	sink   Sink
	clock  Clock
	after  AfterFunc
	logger *slog.Logger

	mu            sync.Mutex
	queue         [][]float64
	pending       []float64
	scheduledTime float64
	playing       bool
	complete      bool
	onComplete    func()
	cancelTimer   func()

	// generation invalidates timer and completion callbacks that were
	// armed before a Stop.
	generation uint64

	buffersScheduled uint64
}

// NewScheduler creates a playback scheduler over the given sink and clock.
// after defaults to time.AfterFunc when nil.
func NewScheduler(sink Sink, clock Clock, after AfterFunc, logger *slog.Logger) (*Scheduler, error) {
	if sink == nil {
		return nil, fmt.Errorf("sink cannot be nil")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock cannot be nil")
	}
	if after == nil {
		after = func(d time.Duration, fn func()) func() {
			t := time.AfterFunc(d, fn)
			return func() { t.Stop() }
		}
	}
	return &Scheduler{
		sink:   sink,
		clock:  clock,
		after:  after,
		logger: logger,
	}, nil
}

// AddPCM16 appends a little-endian PCM16 chunk to the playback queue and
// starts playback if it is not already running.
func (s *Scheduler) AddPCM16(data []byte) error {
	samples, err := audio.BytesToFloat(data)
	if err != nil {
		return fmt.Errorf("invalid playback chunk: %w", err)
	}

	s.mu.Lock()
	if !s.playing {
		s.playing = true
		s.complete = false
		s.scheduledTime = s.clock.Now() + initialBufferTime
	}
	s.pending = append(s.pending, samples...)
	for len(s.pending) >= BufferSamples {
		buf := make([]float64, BufferSamples)
		copy(buf, s.pending[:BufferSamples])
		s.pending = s.pending[BufferSamples:]
		s.queue = append(s.queue, buf)
	}
	s.mu.Unlock()

	s.schedulePass()
	return nil
}

// MarkComplete flags the stream as finished. Any partial buffer is flushed
// and onComplete fires after the final scheduled buffer ends. If nothing is
// queued or pending, onComplete fires immediately.
func (s *Scheduler) MarkComplete(onComplete func()) {
	s.mu.Lock()
	s.complete = true
	s.onComplete = onComplete
	if len(s.pending) > 0 {
		buf := make([]float64, len(s.pending))
		copy(buf, s.pending)
		s.pending = s.pending[:0]
		s.queue = append(s.queue, buf)
	}
	idle := len(s.queue) == 0
	done := s.onComplete
	if idle {
		s.onComplete = nil
		s.playing = false
	}
	s.mu.Unlock()

	if idle {
		if done != nil {
			done()
		}
		return
	}
	s.schedulePass()
}

// Stop fades the output, discards everything queued, and rebuilds the sink
// path. The timeline is re-anchored on the next AddPCM16 or Resume.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.playing && len(s.queue) == 0 && len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	s.playing = false
	s.complete = false
	s.onComplete = nil
	s.queue = nil
	s.pending = nil
	s.generation++
	if s.cancelTimer != nil {
		s.cancelTimer()
		s.cancelTimer = nil
	}
	s.mu.Unlock()

	s.sink.RampDown(stopRampTime)
	s.after(sinkRebuildDelay, s.sink.Rebuild)

	if s.logger != nil {
		s.logger.Info("Playback stopped")
	}
}

// Resume re-anchors the timeline for continued playback after a Stop.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.playing = true
	s.scheduledTime = s.clock.Now() + initialBufferTime
	s.mu.Unlock()
	s.schedulePass()
}

// Playing reports whether the scheduler has an active timeline.
func (s *Scheduler) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// GetStats returns scheduler counters.
func (s *Scheduler) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Playing:          s.playing,
		QueuedBuffers:    len(s.queue),
		PendingSamples:   len(s.pending),
		BuffersScheduled: s.buffersScheduled,
		ScheduledTime:    s.scheduledTime,
	}
}

// schedulePass commits queued buffers up to the look-ahead horizon and arms
// the timer for the next pass.
func (s *Scheduler) schedulePass() {
	type commit struct {
		buf     []float64
		at      float64
		onEnded func()
	}
	var commits []commit

	s.mu.Lock()
	if !s.playing {
		s.mu.Unlock()
		return
	}
	gen := s.generation
	now := s.clock.Now()

	// Once the committed audio has drained with nothing fuller queued, a
	// trailing partial chunk plays rather than waiting on a completion
	// signal that may never arrive.
	if len(s.queue) == 0 && len(s.pending) > 0 && now >= s.scheduledTime {
		buf := make([]float64, len(s.pending))
		copy(buf, s.pending)
		s.pending = s.pending[:0]
		s.queue = append(s.queue, buf)
	}

	for len(s.queue) > 0 && s.scheduledTime < now+scheduleAheadTime {
		buf := s.queue[0]
		s.queue = s.queue[1:]

		// A buffer that fell behind the clock starts immediately; the
		// cursor never moves backwards.
		start := max(s.scheduledTime, now)
		s.scheduledTime = start + float64(len(buf))/float64(SampleRate)
		s.buffersScheduled++

		var onEnded func()
		if len(s.queue) == 0 && s.complete {
			onEnded = func() { s.finishStream(gen) }
		}
		commits = append(commits, commit{buf: buf, at: start, onEnded: onEnded})
	}

	// Arm the next pass: just before the committed horizon drains when
	// buffers remain, or on a short poll while waiting for more audio.
	if s.cancelTimer != nil {
		s.cancelTimer()
		s.cancelTimer = nil
	}
	if len(s.queue) > 0 {
		delay := time.Duration((s.scheduledTime-now)*float64(time.Second)) - timerLeadMargin
		if delay < 0 {
			delay = 0
		}
		s.cancelTimer = s.after(delay, func() { s.timerFired(gen) })
	} else if !s.complete {
		s.cancelTimer = s.after(idlePollInterval, func() { s.timerFired(gen) })
	}
	s.mu.Unlock()

	for _, c := range commits {
		s.sink.Schedule(c.buf, c.at, c.onEnded)
	}
}

func (s *Scheduler) timerFired(gen uint64) {
	s.mu.Lock()
	stale := gen != s.generation
	s.mu.Unlock()
	if stale {
		return
	}
	s.schedulePass()
}

// finishStream runs after the tail buffer ends.
func (s *Scheduler) finishStream(gen uint64) {
	s.mu.Lock()
	if gen != s.generation || !s.complete || len(s.queue) > 0 {
		s.mu.Unlock()
		return
	}
	done := s.onComplete
	s.onComplete = nil
	s.playing = false
	if s.cancelTimer != nil {
		s.cancelTimer()
		s.cancelTimer = nil
	}
	s.mu.Unlock()

	if done != nil {
		done()
	}
	if s.logger != nil {
		s.logger.Debug("Playback stream complete")
	}
}
