package agc

import (
	"fmt"
	"sync"
)

const (
	// historySize is the capacity of the rolling volume average.
	historySize = 12

	// calibrationFrames is the number of frames spent establishing the
	// initial noise floor after capture start (~750ms at typical frame rates).
	calibrationFrames = 30

	// silenceFrameLimit is the number of consecutive below-threshold frames
	// required to leave the speaking state (~1 second).
	silenceFrameLimit = 40

	// targetLevel is the RMS level the gain stage drives speech toward.
	targetLevel = 0.5

	maxBoost      = 15.0
	minSpeechGain = 0.5
	silentGain    = 0.05

	noiseFloorEpsilon = 0.0005
)

// Controller converts raw per-frame volume samples into a smoothed gain
// multiplier and a speaking/silence classification. State is owned by a
// single capture session; Reset returns it to start-of-capture defaults.
type Controller struct {
	currentGain float64
	targetGain  float64
	noiseFloor  float64
	speaking    bool

	silenceFrames   int
	calibrationLeft int
	volumeHistory   []float64

	// Ducking: an externally set target multiplier blended asymmetrically
	// so remote playback can suppress mic gain immediately and recover slowly.
	volumeMultiplier       float64
	targetVolumeMultiplier float64

	// Statistics
	framesProcessed uint64
	speechFrames    uint64
	speechOnsets    uint64

	mu sync.Mutex
}

// Frame is the per-frame output of the controller: the gain to apply to the
// next audio frame and the current voice activity classification.
type Frame struct {
	Gain        float64 `json:"gain"`
	Speaking    bool    `json:"speaking"`
	NoiseFloor  float64 `json:"noise_floor"`
	SmoothedVol float64 `json:"smoothed_volume"`
	Calibrating bool    `json:"calibrating"`
}

// Stats reports controller counters for monitoring.
type Stats struct {
	FramesProcessed uint64  `json:"frames_processed"`
	SpeechFrames    uint64  `json:"speech_frames"`
	SpeechOnsets    uint64  `json:"speech_onsets"`
	SpeechRatio     float64 `json:"speech_ratio"`
	CurrentGain     float64 `json:"current_gain"`
	NoiseFloor      float64 `json:"noise_floor"`
	Speaking        bool    `json:"speaking"`
}

// NewController creates a sensitivity controller with start-of-capture state.
func NewController() *Controller {
	c := &Controller{}
	c.resetLocked()
	return c
}

// SetVolumeMultiplier sets the ducking target. The effective multiplier
// blends toward it: fast when ducking down, slow when recovering.
func (c *Controller) SetVolumeMultiplier(multiplier float64) error {
	if multiplier < 0 || multiplier > 1 {
		return fmt.Errorf("volume multiplier must be between 0 and 1, got %f", multiplier)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targetVolumeMultiplier = multiplier
	return nil
}

// Process runs one frame of the sensitivity algorithm for the given raw
// volume sample (RMS-like energy, roughly 0..1). It is pure arithmetic over
// bounded inputs and cannot fail.
func (c *Controller) Process(volume float64) Frame {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.framesProcessed++

	// Rolling average for energy smoothing.
	c.volumeHistory = append(c.volumeHistory, volume)
	if len(c.volumeHistory) > historySize {
		c.volumeHistory = c.volumeHistory[1:]
	}
	var sum float64
	for _, v := range c.volumeHistory {
		sum += v
	}
	smoothVolume := sum / float64(len(c.volumeHistory))

	// Calibration phase: establish the baseline floor aggressively, do not
	// classify speech yet.
	if c.calibrationLeft > 0 {
		c.noiseFloor = c.noiseFloor*0.7 + smoothVolume*0.3
		c.calibrationLeft--
		return Frame{
			Gain:        c.effectiveGainLocked(),
			NoiseFloor:  c.noiseFloor,
			SmoothedVol: smoothVolume,
			Calibrating: true,
		}
	}

	// Adaptive noise floor: drifts up quickly on background frames, down
	// very slowly otherwise, and never reaches zero.
	isBackground := smoothVolume < c.noiseFloor*1.8
	noiseAlpha := 0.0005
	if isBackground {
		noiseAlpha = 0.02
	}
	c.noiseFloor = c.noiseFloor*(1-noiseAlpha) + max(noiseFloorEpsilon, smoothVolume)*noiseAlpha

	// Dynamic thresholding: more headroom in noisy environments. Start is
	// above stop by construction, giving Schmidt-trigger hysteresis.
	headroom := 1.5 + c.noiseFloor*20
	startThreshold := c.noiseFloor*(2.5*headroom) + 0.008
	stopThreshold := c.noiseFloor*(1.2*headroom) + 0.004

	if !c.speaking && smoothVolume > startThreshold {
		c.speaking = true
		c.silenceFrames = 0
		c.speechOnsets++
	} else if c.speaking {
		if smoothVolume < stopThreshold {
			c.silenceFrames++
			if c.silenceFrames > silenceFrameLimit {
				c.speaking = false
			}
		} else {
			c.silenceFrames = 0
		}
	}

	// Proportional AGC: drive speech toward the target level, suppress
	// amplification of background noise when silent.
	if c.speaking {
		c.speechFrames++
		neededBoost := targetLevel / max(0.001, smoothVolume)
		c.targetGain = min(maxBoost, max(minSpeechGain, neededBoost))
	} else {
		c.targetGain = silentGain
	}

	// Asymmetric smoothing: fast attack, graceful release.
	gainAlpha := 0.08
	if c.targetGain > c.currentGain {
		gainAlpha = 0.35
	}
	c.currentGain = c.currentGain*(1-gainAlpha) + c.targetGain*gainAlpha

	// Ducking blend: instant duck, slow recovery.
	duckingAlpha := 0.04
	if c.targetVolumeMultiplier < c.volumeMultiplier {
		duckingAlpha = 0.5
	}
	c.volumeMultiplier = c.volumeMultiplier*(1-duckingAlpha) + c.targetVolumeMultiplier*duckingAlpha

	return Frame{
		Gain:        c.effectiveGainLocked(),
		Speaking:    c.speaking,
		NoiseFloor:  c.noiseFloor,
		SmoothedVol: smoothVolume,
	}
}

// effectiveGainLocked returns the per-frame gain delivered to the capture
// worklet. Callers must hold c.mu.
func (c *Controller) effectiveGainLocked() float64 {
	return c.currentGain * c.volumeMultiplier
}

// Speaking reports the current voice activity classification.
func (c *Controller) Speaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking
}

// CurrentGain returns the smoothed gain before ducking is applied.
func (c *Controller) CurrentGain() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentGain
}

// NoiseFloor returns the adaptively tracked ambient energy baseline.
func (c *Controller) NoiseFloor() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.noiseFloor
}

// GetStats returns controller counters for monitoring.
func (c *Controller) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	ratio := float64(0)
	if c.framesProcessed > 0 {
		ratio = float64(c.speechFrames) / float64(c.framesProcessed)
	}

	return Stats{
		FramesProcessed: c.framesProcessed,
		SpeechFrames:    c.speechFrames,
		SpeechOnsets:    c.speechOnsets,
		SpeechRatio:     ratio,
		CurrentGain:     c.currentGain,
		NoiseFloor:      c.noiseFloor,
		Speaking:        c.speaking,
	}
}

// Reset returns all adaptive state to capture-start defaults, including a
// fresh calibration phase.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Controller) resetLocked() {
	c.currentGain = 1.0
	c.targetGain = 1.0
	c.noiseFloor = 0.005
	c.speaking = false
	c.silenceFrames = 0
	c.calibrationLeft = calibrationFrames
	c.volumeHistory = c.volumeHistory[:0]
	c.volumeMultiplier = 1.0
	c.targetVolumeMultiplier = 1.0
	c.framesProcessed = 0
	c.speechFrames = 0
	c.speechOnsets = 0
}
