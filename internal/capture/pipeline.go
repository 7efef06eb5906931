package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/panyeroa1/translateq/internal/agc"
	"github.com/panyeroa1/translateq/internal/audio"
)

// DataHandler receives one base64-encoded PCM16 chunk.
type DataHandler func(payload string)

// VolumeHandler receives one raw per-frame volume scalar.
type VolumeHandler func(volume float64)

// Stats reports pipeline counters for monitoring.
type Stats struct {
	Running        bool   `json:"running"`
	FramesRead     uint64 `json:"frames_read"`
	ChunksEmitted  uint64 `json:"chunks_emitted"`
	SamplesEmitted uint64 `json:"samples_emitted"`
}

// Pipeline wires the microphone device through the sensitivity controller
// and the PCM16 chunker. One pipeline owns at most one active capture
// session; Start while running is a no-op and Start while a prior start is
// in flight joins that attempt.
type Pipeline struct {
	device Device
	ctrl   *agc.Controller
	logger *slog.Logger

	mu          sync.Mutex
	running     bool
	starting    chan struct{}
	startErr    error
	stopPending bool
	loopCancel  context.CancelFunc
	loopDone    chan struct{}
	stream      DeviceStream

	chunk     []int16
	chunkFill int
	frameGain float64

	framesRead     uint64
	chunksEmitted  uint64
	samplesEmitted uint64

	subMu      sync.Mutex
	nextSubID  int
	dataSubs   map[int]DataHandler
	volumeSubs map[int]VolumeHandler
}

// NewPipeline creates a capture pipeline over the given device.
func NewPipeline(device Device, ctrl *agc.Controller, logger *slog.Logger) (*Pipeline, error) {
	if device == nil {
		return nil, fmt.Errorf("device cannot be nil")
	}
	if ctrl == nil {
		return nil, fmt.Errorf("sensitivity controller cannot be nil")
	}
	return &Pipeline{
		device:     device,
		ctrl:       ctrl,
		logger:     logger,
		chunk:      make([]int16, audio.CaptureFrameSamples),
		frameGain:  1.0,
		dataSubs:   make(map[int]DataHandler),
		volumeSubs: make(map[int]VolumeHandler),
	}, nil
}

// OnData subscribes to encoded chunk events. The returned function removes
// the subscription.
func (p *Pipeline) OnData(h DataHandler) func() {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	p.dataSubs[id] = h
	return func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		delete(p.dataSubs, id)
	}
}

// OnVolume subscribes to raw volume events.
func (p *Pipeline) OnVolume(h VolumeHandler) func() {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	p.volumeSubs[id] = h
	return func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		delete(p.volumeSubs, id)
	}
}

// Start acquires the microphone and begins emitting chunk and volume events.
// Concurrent callers during an in-flight start all receive that attempt's
// result. A Stop issued while the start is in flight is applied as soon as
// the start resolves.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	if p.starting != nil {
		ch := p.starting
		p.mu.Unlock()
		<-ch
		p.mu.Lock()
		err := p.startErr
		p.mu.Unlock()
		return err
	}
	ch := make(chan struct{})
	p.starting = ch
	p.mu.Unlock()

	stream, err := p.device.Open(ctx, DeviceConfig{
		SampleRate:       audio.CaptureSampleRate,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  false,
	})

	if err != nil {
		err = fmt.Errorf("failed to open capture device: %w", err)
	}
	p.mu.Lock()
	p.startErr = err
	p.starting = nil
	if err != nil {
		p.stopPending = false
		p.mu.Unlock()
		close(ch)
		return err
	}

	p.stream = stream
	p.running = true
	p.ctrl.Reset()
	loopCtx, cancel := context.WithCancel(context.Background())
	p.loopCancel = cancel
	p.loopDone = make(chan struct{})
	go p.processLoop(loopCtx, stream, p.loopDone)

	deferredStop := p.stopPending
	p.stopPending = false
	p.mu.Unlock()
	close(ch)

	if p.logger != nil {
		p.logger.Info("Capture started",
			slog.Int("sample_rate", audio.CaptureSampleRate),
			slog.Int("chunk_samples", audio.CaptureFrameSamples),
		)
	}

	if deferredStop {
		p.Stop()
	}
	return nil
}

// Stop releases the device and resets all adaptive state. It is safe to call
// while a Start is still completing; the teardown is then queued behind the
// in-flight attempt so a live device handle cannot leak.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.starting != nil {
		p.stopPending = true
		p.mu.Unlock()
		return
	}
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.loopCancel
	done := p.loopDone
	stream := p.stream
	p.loopCancel = nil
	p.loopDone = nil
	p.stream = nil
	p.mu.Unlock()

	cancel()
	<-done

	if err := stream.Close(); err != nil && p.logger != nil {
		p.logger.Warn("Error closing capture device", slog.String("error", err.Error()))
	}

	p.mu.Lock()
	p.flushChunkLocked()
	p.chunkFill = 0
	p.frameGain = 1.0
	p.mu.Unlock()
	p.ctrl.Reset()

	if p.logger != nil {
		p.logger.Info("Capture stopped")
	}
}

// Running reports whether a capture session is active.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// GetStats returns pipeline counters.
func (p *Pipeline) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Running:        p.running,
		FramesRead:     p.framesRead,
		ChunksEmitted:  p.chunksEmitted,
		SamplesEmitted: p.samplesEmitted,
	}
}

// processLoop reads device frames until the session is stopped or the
// stream fails.
func (p *Pipeline) processLoop(ctx context.Context, stream DeviceStream, done chan struct{}) {
	defer close(done)

	for {
		frame, err := stream.Read(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && p.logger != nil {
				p.logger.Warn("Capture stream ended", slog.String("error", err.Error()))
			}
			return
		}
		p.processFrame(frame)
	}
}

// processFrame runs one device frame through the vu meter, the sensitivity
// controller, and the chunker.
func (p *Pipeline) processFrame(frame []float64) {
	if len(frame) == 0 {
		return
	}

	volume := rms(frame)
	p.emitVolume(volume)

	// The gain computed from this frame's volume scales the next frame;
	// the current frame uses the previous result, matching the one-frame
	// worklet delay of the source pipeline.
	p.mu.Lock()
	gain := p.frameGain
	p.framesRead++
	p.mu.Unlock()

	result := p.ctrl.Process(volume)

	p.mu.Lock()
	p.frameGain = result.Gain
	for _, s := range frame {
		scaled := audio.SoftClip(s * gain)
		p.chunk[p.chunkFill] = int16(scaled * 32767)
		p.chunkFill++
		if p.chunkFill == len(p.chunk) {
			p.flushChunkLocked()
		}
	}
	p.mu.Unlock()
}

// flushChunkLocked emits the accumulated chunk, full or partial. Callers
// must hold p.mu.
func (p *Pipeline) flushChunkLocked() {
	if p.chunkFill == 0 {
		return
	}
	data := audio.PCM16ToBytes(p.chunk[:p.chunkFill])
	payload := audio.EncodePayload(data)
	p.chunksEmitted++
	p.samplesEmitted += uint64(p.chunkFill)
	p.chunkFill = 0

	// Delivered under the state lock so chunks arrive in capture order.
	// Handlers must not call back into the pipeline.
	p.subMu.Lock()
	handlers := make([]DataHandler, 0, len(p.dataSubs))
	for _, h := range p.dataSubs {
		handlers = append(handlers, h)
	}
	p.subMu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
}

func (p *Pipeline) emitVolume(volume float64) {
	p.subMu.Lock()
	handlers := make([]VolumeHandler, 0, len(p.volumeSubs))
	for _, h := range p.volumeSubs {
		handlers = append(handlers, h)
	}
	p.subMu.Unlock()
	for _, h := range handlers {
		h(volume)
	}
}

// rms computes root-mean-square energy of a normalized frame.
func rms(frame []float64) float64 {
	var sum float64
	for _, s := range frame {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(frame)))
}
