//go:build portaudio

package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxstream/pkg/audio"
)

// PortAudioSource captures from a PortAudio input device using the callback
// API, so block production follows the device clock.
type PortAudioSource struct {
	cfg    Config
	device *portaudio.DeviceInfo
	rate   int

	mu      sync.Mutex
	stream  *portaudio.Stream
	out     chan audio.Block
	done    chan struct{}
	started bool
	closed  bool

	dropped atomic.Uint64
}

var _ Source = (*PortAudioSource)(nil)

// Open initialises PortAudio and resolves the input device. The returned
// source owns the PortAudio session; Close terminates it.
func Open(cfg Config) (Source, error) {
	cfg = cfg.withDefaults()
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initialize portaudio: %v", ErrDeviceUnavailable, err)
	}

	dev, err := findDevice(cfg.Device)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}
	if dev.MaxInputChannels < 1 {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: device %q has no input channels", ErrDeviceUnavailable, dev.Name)
	}
	cfg.Channels = min(cfg.Channels, dev.MaxInputChannels)

	return &PortAudioSource{
		cfg:    cfg,
		device: dev,
		rate:   int(dev.DefaultSampleRate),
	}, nil
}

func findDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: default input: %v", ErrDeviceUnavailable, err)
		}
		return dev, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: list devices: %v", ErrDeviceUnavailable, err)
	}
	for _, d := range devices {
		if d.Name == name && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: no input device named %q", ErrDeviceUnavailable, name)
}

// NativeRate implements [Source].
func (s *PortAudioSource) NativeRate() int { return s.rate }

// Dropped returns how many blocks were discarded because the consumer was
// not keeping up.
func (s *PortAudioSource) Dropped() uint64 { return s.dropped.Load() }

// Start implements [Source].
func (s *PortAudioSource) Start(ctx context.Context) (<-chan audio.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.started {
		return nil, ErrBusy
	}

	params := portaudio.LowLatencyParameters(s.device, nil)
	params.Input.Channels = s.cfg.Channels
	params.SampleRate = float64(s.rate)
	params.FramesPerBuffer = s.cfg.BlockSize

	out := make(chan audio.Block, s.cfg.Buffer)
	stream, err := portaudio.OpenStream(params, func(in [][]float32) {
		b := audio.Block{
			Samples:    FirstChannel(in),
			SampleRate: s.rate,
			Channels:   1,
		}
		select {
		case out <- b:
		default:
			s.dropped.Add(1)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open stream: %v", ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("%w: start stream: %v", ErrDeviceUnavailable, err)
	}

	s.stream = stream
	s.out = out
	s.done = make(chan struct{})
	s.started = true

	slog.Info("capture started",
		"device", s.device.Name,
		"sample_rate", s.rate,
		"block_size", s.cfg.BlockSize,
		"channels", s.cfg.Channels,
	)

	go func(done <-chan struct{}) {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-done:
		}
	}(s.done)
	return out, nil
}

// Close implements [Source]. It stops and closes the stream, closes the block
// channel and terminates PortAudio.
func (s *PortAudioSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	if s.stream != nil {
		if err := s.stream.Stop(); err != nil {
			firstErr = fmt.Errorf("capture: stop stream: %w", err)
		}
		if err := s.stream.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("capture: close stream: %w", err)
		}
		s.stream = nil
	}
	// The callback can no longer fire once the stream is stopped.
	if s.out != nil {
		close(s.out)
		close(s.done)
	}
	if err := portaudio.Terminate(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("capture: terminate portaudio: %w", err)
	}

	slog.Info("capture stopped", "device", s.device.Name, "dropped_blocks", s.dropped.Load())
	return firstErr
}
