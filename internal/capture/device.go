package capture

import "context"

// DeviceConfig is passed to the platform when acquiring the microphone.
// Platform AGC is explicitly disabled: the sensitivity controller performs
// its own gain control.
type DeviceConfig struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// Device abstracts the platform microphone. Implementations live outside
// this package (platform bindings, test fakes).
type Device interface {
	// Open acquires the microphone and returns a live sample stream.
	// It fails when no device or permission is available.
	Open(ctx context.Context, cfg DeviceConfig) (DeviceStream, error)
}

// DeviceStream delivers normalized mono samples at the device frame cadence.
type DeviceStream interface {
	// Read blocks until the next frame of samples in [-1, 1] is available.
	// It returns an error once the stream is closed.
	Read(ctx context.Context) ([]float64, error)

	// Close releases the underlying device handle.
	Close() error
}
