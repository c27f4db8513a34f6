// Package capture acquires raw microphone audio as a stream of
// [audio.Block] values at the device's native sample rate.
//
// Sources deliver fixed-size mono blocks driven by the device clock. Only the
// first channel of a multi-channel device is kept. No noise suppression, echo
// cancellation or automatic gain is applied; the recognizer gets the signal
// as the device produced it.
//
// The PortAudio backed implementation is compiled in with the "portaudio"
// build tag. Without it, [Open] reports [ErrDeviceUnavailable].
package capture

import (
	"context"
	"errors"

	"github.com/MrWong99/voxstream/pkg/audio"
)

// ErrDeviceUnavailable is returned when no input device can be opened, either
// because none exists or because access was denied.
var ErrDeviceUnavailable = errors.New("capture: input device unavailable")

// ErrBusy is returned by [Source.Start] when the source is already capturing.
var ErrBusy = errors.New("capture: source already started")

// ErrClosed is returned by [Source.Start] after the source has been closed.
var ErrClosed = errors.New("capture: source closed")

// Source is a capture device that produces [audio.Block] values.
//
// A Source holds the device exclusively between Start and Close. Close must
// release the device on every exit path and is safe to call more than once.
type Source interface {
	// Start begins capture and returns the block stream. The channel is
	// closed when capture stops, either through Close or ctx cancellation.
	Start(ctx context.Context) (<-chan audio.Block, error)

	// NativeRate is the rate in Hz at which blocks are produced.
	NativeRate() int

	// Close stops capture and releases the device.
	Close() error
}

// Config selects and sizes the capture device.
type Config struct {
	// Device is the input device name. Empty selects the system default.
	Device string

	// BlockSize is the number of frames per delivered block. Default: 1024.
	BlockSize int

	// Channels is the number of channels requested from the device. Only the
	// first is kept. Default: 1.
	Channels int

	// Buffer is the capacity of the block channel. When the consumer falls
	// behind, new blocks are dropped rather than queued. Default: 4.
	Buffer int
}

func (c Config) withDefaults() Config {
	if c.BlockSize <= 0 {
		c.BlockSize = audio.DefaultBlockSize
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.Buffer <= 0 {
		c.Buffer = 4
	}
	return c
}

// FirstChannel copies the first channel out of non-interleaved device input.
// It returns nil when in carries no channels.
func FirstChannel(in [][]float32) []float32 {
	if len(in) == 0 {
		return nil
	}
	out := make([]float32, len(in[0]))
	copy(out, in[0])
	return out
}
