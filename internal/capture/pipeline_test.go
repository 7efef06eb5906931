package capture

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/panyeroa1/translateq/internal/agc"
	"github.com/panyeroa1/translateq/internal/audio"
)

type fakeStream struct {
	frames chan []float64
	closed chan struct{}
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		frames: make(chan []float64, 64),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) Read(ctx context.Context) ([]float64, error) {
	select {
	case f, ok := <-s.frames:
		if !ok {
			return nil, io.EOF
		}
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, io.EOF
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fakeDevice struct {
	mu       sync.Mutex
	stream   *fakeStream
	opened   int
	openErr  error
	openGate chan struct{}
}

func (d *fakeDevice) Open(ctx context.Context, cfg DeviceConfig) (DeviceStream, error) {
	if d.openGate != nil {
		<-d.openGate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.opened++
	d.stream = newFakeStream()
	return d.stream, nil
}

func newTestPipeline(t *testing.T, dev *fakeDevice) *Pipeline {
	t.Helper()
	p, err := NewPipeline(dev, agc.NewController(), nil)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	return p
}

func TestNewPipelineValidation(t *testing.T) {
	if _, err := NewPipeline(nil, agc.NewController(), nil); err == nil {
		t.Error("Expected error for nil device")
	}
	if _, err := NewPipeline(&fakeDevice{}, nil, nil); err == nil {
		t.Error("Expected error for nil controller")
	}
}

func TestStartStop(t *testing.T) {
	dev := &fakeDevice{}
	p := newTestPipeline(t, dev)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !p.Running() {
		t.Error("Expected pipeline to be running after Start")
	}

	// Second Start is a no-op.
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}
	dev.mu.Lock()
	opened := dev.opened
	dev.mu.Unlock()
	if opened != 1 {
		t.Errorf("Expected 1 device open, got %d", opened)
	}

	p.Stop()
	if p.Running() {
		t.Error("Expected pipeline to be stopped after Stop")
	}

	// Stop when already stopped is a no-op.
	p.Stop()
}

func TestStartError(t *testing.T) {
	dev := &fakeDevice{openErr: fmt.Errorf("permission denied")}
	p := newTestPipeline(t, dev)

	if err := p.Start(context.Background()); err == nil {
		t.Fatal("Expected Start to fail when device open fails")
	}
	if p.Running() {
		t.Error("Pipeline must not be running after failed Start")
	}
}

func TestStopDuringStart(t *testing.T) {
	gate := make(chan struct{})
	dev := &fakeDevice{openGate: gate}
	p := newTestPipeline(t, dev)

	startDone := make(chan error, 1)
	go func() { startDone <- p.Start(context.Background()) }()

	// Wait for the start attempt to be in flight, then request a stop.
	deadline := time.Now().Add(time.Second)
	for {
		p.mu.Lock()
		inFlight := p.starting != nil
		p.mu.Unlock()
		if inFlight {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Start never became in flight")
		}
		time.Sleep(time.Millisecond)
	}
	p.Stop()
	close(gate)

	if err := <-startDone; err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// The queued stop must win: the device handle is released.
	deadline = time.Now().Add(time.Second)
	for p.Running() {
		if time.Now().After(deadline) {
			t.Fatal("Pipeline still running after queued Stop")
		}
		time.Sleep(time.Millisecond)
	}
	select {
	case <-dev.stream.closed:
	default:
		t.Error("Expected device stream to be closed by queued Stop")
	}
}

func TestConcurrentStartJoinsAttempt(t *testing.T) {
	gate := make(chan struct{})
	dev := &fakeDevice{openGate: gate}
	p := newTestPipeline(t, dev)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = p.Start(context.Background())
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Start %d failed: %v", i, err)
		}
	}
	dev.mu.Lock()
	opened := dev.opened
	dev.mu.Unlock()
	if opened != 1 {
		t.Errorf("Expected concurrent starts to share one device open, got %d", opened)
	}
	p.Stop()
}

func TestChunkEmission(t *testing.T) {
	dev := &fakeDevice{}
	p := newTestPipeline(t, dev)

	var mu sync.Mutex
	var chunks []string
	unsub := p.OnData(func(payload string) {
		mu.Lock()
		chunks = append(chunks, payload)
		mu.Unlock()
	})
	defer unsub()

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Two full device frames make exactly two chunks at 512 samples each.
	frame := make([]float64, audio.CaptureFrameSamples)
	for i := range frame {
		frame[i] = 0.1
	}
	dev.stream.frames <- frame
	dev.stream.frames <- frame

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(chunks)
		mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expected 2 chunks, got %d", n)
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	first := chunks[0]
	mu.Unlock()
	data, err := audio.DecodePayload(first)
	if err != nil {
		t.Fatalf("Chunk payload is not valid base64: %v", err)
	}
	if len(data) != audio.CaptureFrameSamples*2 {
		t.Errorf("Expected %d bytes per chunk, got %d", audio.CaptureFrameSamples*2, len(data))
	}

	p.Stop()
}

func TestPartialChunkFlushOnStop(t *testing.T) {
	dev := &fakeDevice{}
	p := newTestPipeline(t, dev)

	chunks := make(chan string, 4)
	p.OnData(func(payload string) { chunks <- payload })

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Half a chunk worth of samples, then stop.
	frame := make([]float64, audio.CaptureFrameSamples/2)
	for i := range frame {
		frame[i] = 0.2
	}
	dev.stream.frames <- frame

	// Give the loop time to consume the frame before stopping.
	deadline := time.Now().Add(time.Second)
	for p.GetStats().FramesRead == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Frame never consumed")
		}
		time.Sleep(time.Millisecond)
	}
	p.Stop()

	select {
	case payload := <-chunks:
		data, err := audio.DecodePayload(payload)
		if err != nil {
			t.Fatalf("Flushed payload is not valid base64: %v", err)
		}
		if len(data) != audio.CaptureFrameSamples {
			t.Errorf("Expected %d bytes in partial chunk, got %d", audio.CaptureFrameSamples, len(data))
		}
	default:
		t.Error("Expected partial chunk to be flushed on Stop")
	}
}

func TestVolumeEvents(t *testing.T) {
	dev := &fakeDevice{}
	p := newTestPipeline(t, dev)

	volumes := make(chan float64, 16)
	p.OnVolume(func(v float64) { volumes <- v })

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop()

	frame := make([]float64, audio.CaptureFrameSamples)
	for i := range frame {
		frame[i] = 0.5
	}
	dev.stream.frames <- frame

	select {
	case v := <-volumes:
		// RMS of a constant 0.5 signal is 0.5.
		if v < 0.49 || v > 0.51 {
			t.Errorf("Expected volume near 0.5, got %f", v)
		}
	case <-time.After(time.Second):
		t.Fatal("No volume event received")
	}
}

func TestUnsubscribe(t *testing.T) {
	dev := &fakeDevice{}
	p := newTestPipeline(t, dev)

	var mu sync.Mutex
	count := 0
	unsub := p.OnVolume(func(float64) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	unsub()

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop()

	frame := make([]float64, 64)
	dev.stream.frames <- frame

	deadline := time.Now().Add(200 * time.Millisecond)
	for p.GetStats().FramesRead == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Frame never consumed")
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("Expected no events after unsubscribe, got %d", count)
	}
}
