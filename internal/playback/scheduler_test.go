package playback

import (
	"sync"
	"testing"
	"time"

	"github.com/panyeroa1/translateq/internal/audio"
)

type fakeClock struct {
	mu  sync.Mutex
	now float64
}

func (c *fakeClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d float64) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

type scheduledBuffer struct {
	samples []float64
	at      float64
	onEnded func()
}

type fakeSink struct {
	mu        sync.Mutex
	scheduled []scheduledBuffer
	rampDowns []float64
	rebuilds  int
}

func (s *fakeSink) Schedule(samples []float64, at float64, onEnded func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled = append(s.scheduled, scheduledBuffer{samples: samples, at: at, onEnded: onEnded})
}

func (s *fakeSink) RampDown(over float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rampDowns = append(s.rampDowns, over)
}

func (s *fakeSink) Rebuild() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuilds++
}

type manualTimers struct {
	mu     sync.Mutex
	armed  []func()
	delays []time.Duration
}

func (m *manualTimers) after(d time.Duration, fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := len(m.armed)
	m.armed = append(m.armed, fn)
	m.delays = append(m.delays, d)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if i < len(m.armed) {
			m.armed[i] = nil
		}
	}
}

// fireAll runs every timer armed before the call. Timers armed by the
// callbacks themselves wait for the next fireAll, so the idle poll cannot
// spin forever.
func (m *manualTimers) fireAll() {
	m.mu.Lock()
	limit := len(m.armed)
	m.mu.Unlock()
	for i := 0; i < limit; i++ {
		m.mu.Lock()
		fn := m.armed[i]
		m.armed[i] = nil
		m.mu.Unlock()
		if fn != nil {
			fn()
		}
	}
}

func pcmChunk(samples int) []byte {
	buf := make([]int16, samples)
	for i := range buf {
		buf[i] = 1000
	}
	return audio.PCM16ToBytes(buf)
}

func newTestScheduler(t *testing.T) (*Scheduler, *fakeSink, *fakeClock, *manualTimers) {
	t.Helper()
	sink := &fakeSink{}
	clock := &fakeClock{}
	timers := &manualTimers{}
	s, err := NewScheduler(sink, clock, timers.after, nil)
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	return s, sink, clock, timers
}

func TestNewSchedulerValidation(t *testing.T) {
	clock := &fakeClock{}
	if _, err := NewScheduler(nil, clock, nil, nil); err == nil {
		t.Error("Expected error for nil sink")
	}
	if _, err := NewScheduler(&fakeSink{}, nil, nil, nil); err == nil {
		t.Error("Expected error for nil clock")
	}
}

func TestAddPCM16RejectsOddLength(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)
	if err := s.AddPCM16([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for odd-length chunk")
	}
}

func TestFirstBufferAnchorsTimeline(t *testing.T) {
	s, sink, clock, _ := newTestScheduler(t)
	clock.now = 5.0

	if err := s.AddPCM16(pcmChunk(BufferSamples)); err != nil {
		t.Fatalf("AddPCM16 failed: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.scheduled) != 1 {
		t.Fatalf("Expected 1 scheduled buffer, got %d", len(sink.scheduled))
	}
	want := 5.0 + initialBufferTime
	if got := sink.scheduled[0].at; got != want {
		t.Errorf("Expected first buffer at %f, got %f", want, got)
	}
}

func TestBuffersScheduledInOrderMonotonically(t *testing.T) {
	s, sink, clock, timers := newTestScheduler(t)

	// Queue five buffers of audio in one burst.
	for i := 0; i < 5; i++ {
		if err := s.AddPCM16(pcmChunk(BufferSamples)); err != nil {
			t.Fatalf("AddPCM16 failed: %v", err)
		}
	}

	// Drain the look-ahead horizon by stepping the clock and firing the
	// armed pass timers.
	for i := 0; i < 10; i++ {
		clock.advance(float64(BufferSamples) / float64(SampleRate))
		timers.fireAll()
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.scheduled) != 5 {
		t.Fatalf("Expected 5 scheduled buffers, got %d", len(sink.scheduled))
	}
	for i := 1; i < len(sink.scheduled); i++ {
		prev := sink.scheduled[i-1]
		cur := sink.scheduled[i]
		prevEnd := prev.at + float64(len(prev.samples))/float64(SampleRate)
		if cur.at < prevEnd {
			t.Errorf("Buffer %d starts at %f before previous ends at %f", i, cur.at, prevEnd)
		}
	}
}

func TestLateBufferStartsAtClock(t *testing.T) {
	s, sink, clock, _ := newTestScheduler(t)

	if err := s.AddPCM16(pcmChunk(BufferSamples)); err != nil {
		t.Fatalf("AddPCM16 failed: %v", err)
	}

	// Let the clock run well past the committed timeline, then add more.
	clock.advance(10)
	if err := s.AddPCM16(pcmChunk(BufferSamples)); err != nil {
		t.Fatalf("AddPCM16 failed: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.scheduled) != 2 {
		t.Fatalf("Expected 2 scheduled buffers, got %d", len(sink.scheduled))
	}
	if got, now := sink.scheduled[1].at, clock.Now(); got < now {
		t.Errorf("Late buffer scheduled at %f, before clock %f", got, now)
	}
}

func TestPartialChunksAccumulate(t *testing.T) {
	s, sink, _, _ := newTestScheduler(t)

	// Two half buffers only make one full buffer.
	if err := s.AddPCM16(pcmChunk(BufferSamples / 2)); err != nil {
		t.Fatalf("AddPCM16 failed: %v", err)
	}
	sink.mu.Lock()
	n := len(sink.scheduled)
	sink.mu.Unlock()
	if n != 0 {
		t.Fatalf("Expected no buffer from a half chunk, got %d", n)
	}

	if err := s.AddPCM16(pcmChunk(BufferSamples / 2)); err != nil {
		t.Fatalf("AddPCM16 failed: %v", err)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.scheduled) != 1 {
		t.Fatalf("Expected 1 buffer after second half chunk, got %d", len(sink.scheduled))
	}
	if got := len(sink.scheduled[0].samples); got != BufferSamples {
		t.Errorf("Expected %d samples, got %d", BufferSamples, got)
	}
}

func TestTrailingPartialPlaysWhenStreamStalls(t *testing.T) {
	s, sink, clock, timers := newTestScheduler(t)

	if err := s.AddPCM16(pcmChunk(100)); err != nil {
		t.Fatalf("AddPCM16 failed: %v", err)
	}

	// No completion signal ever arrives. Once the clock passes the
	// anchored timeline the idle poll must flush the tail anyway.
	clock.advance(initialBufferTime + 0.01)
	timers.fireAll()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.scheduled) != 1 {
		t.Fatalf("Expected the stalled tail to play, got %d buffers", len(sink.scheduled))
	}
	if got := len(sink.scheduled[0].samples); got != 100 {
		t.Errorf("Expected 100-sample tail, got %d", got)
	}
	if at, now := sink.scheduled[0].at, clock.Now(); at < now {
		t.Errorf("Tail scheduled at %f, before clock %f", at, now)
	}
}

func TestMarkCompleteFlushesTailAndFiresCallback(t *testing.T) {
	s, sink, _, _ := newTestScheduler(t)

	if err := s.AddPCM16(pcmChunk(100)); err != nil {
		t.Fatalf("AddPCM16 failed: %v", err)
	}

	completed := false
	s.MarkComplete(func() { completed = true })

	sink.mu.Lock()
	if len(sink.scheduled) != 1 {
		sink.mu.Unlock()
		t.Fatalf("Expected partial tail to be flushed, got %d buffers", len(sink.scheduled))
	}
	tail := sink.scheduled[0]
	sink.mu.Unlock()

	if len(tail.samples) != 100 {
		t.Errorf("Expected 100-sample tail, got %d", len(tail.samples))
	}
	if tail.onEnded == nil {
		t.Fatal("Tail buffer must carry the completion callback")
	}
	if completed {
		t.Error("Completion must not fire before the tail buffer ends")
	}
	tail.onEnded()
	if !completed {
		t.Error("Completion did not fire after the tail buffer ended")
	}
	if s.Playing() {
		t.Error("Scheduler must be idle after the stream completes")
	}
}

func TestMarkCompleteEmptyFiresImmediately(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)

	completed := false
	s.MarkComplete(func() { completed = true })
	if !completed {
		t.Error("Completion must fire immediately when nothing is queued")
	}
}

func TestStopClearsQueueAndRampsDown(t *testing.T) {
	s, sink, _, timers := newTestScheduler(t)

	for i := 0; i < 3; i++ {
		if err := s.AddPCM16(pcmChunk(BufferSamples)); err != nil {
			t.Fatalf("AddPCM16 failed: %v", err)
		}
	}
	s.Stop()

	if s.Playing() {
		t.Error("Scheduler must not be playing after Stop")
	}
	stats := s.GetStats()
	if stats.QueuedBuffers != 0 || stats.PendingSamples != 0 {
		t.Errorf("Expected empty queue after Stop, got %d buffers %d pending",
			stats.QueuedBuffers, stats.PendingSamples)
	}

	sink.mu.Lock()
	ramps := len(sink.rampDowns)
	sink.mu.Unlock()
	if ramps != 1 {
		t.Fatalf("Expected 1 ramp down, got %d", ramps)
	}

	timers.fireAll()
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.rebuilds != 1 {
		t.Errorf("Expected sink rebuild after Stop, got %d", sink.rebuilds)
	}
}

func TestStaleCompletionIgnoredAfterStop(t *testing.T) {
	s, sink, _, _ := newTestScheduler(t)

	if err := s.AddPCM16(pcmChunk(100)); err != nil {
		t.Fatalf("AddPCM16 failed: %v", err)
	}
	completed := false
	s.MarkComplete(func() { completed = true })

	sink.mu.Lock()
	tail := sink.scheduled[0]
	sink.mu.Unlock()

	s.Stop()
	tail.onEnded()
	if completed {
		t.Error("Completion from before Stop must not fire")
	}
}

func TestResumeReanchorsTimeline(t *testing.T) {
	s, sink, clock, _ := newTestScheduler(t)

	if err := s.AddPCM16(pcmChunk(BufferSamples)); err != nil {
		t.Fatalf("AddPCM16 failed: %v", err)
	}
	s.Stop()

	clock.advance(3)
	s.Resume()
	if err := s.AddPCM16(pcmChunk(BufferSamples)); err != nil {
		t.Fatalf("AddPCM16 failed: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	last := sink.scheduled[len(sink.scheduled)-1]
	want := clock.Now() + initialBufferTime
	if last.at != want {
		t.Errorf("Expected resumed buffer at %f, got %f", want, last.at)
	}
}
