package capture

import (
	"errors"
	"testing"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.BlockSize != 1024 {
		t.Errorf("BlockSize = %d, want 1024", cfg.BlockSize)
	}
	if cfg.Channels != 1 {
		t.Errorf("Channels = %d, want 1", cfg.Channels)
	}
	if cfg.Buffer != 4 {
		t.Errorf("Buffer = %d, want 4", cfg.Buffer)
	}

	custom := Config{BlockSize: 512, Channels: 2, Buffer: 8}.withDefaults()
	if custom.BlockSize != 512 || custom.Channels != 2 || custom.Buffer != 8 {
		t.Errorf("explicit values overwritten: %+v", custom)
	}
}

func TestFirstChannel(t *testing.T) {
	left := []float32{0.1, 0.2, 0.3}
	right := []float32{-0.1, -0.2, -0.3}

	got := FirstChannel([][]float32{left, right})
	if len(got) != 3 || got[0] != 0.1 || got[2] != 0.3 {
		t.Fatalf("FirstChannel = %v, want %v", got, left)
	}
	// The device buffer is reused by the driver, so the result must be a copy.
	left[0] = 9
	if got[0] != 0.1 {
		t.Error("FirstChannel aliases the device buffer")
	}

	if FirstChannel(nil) != nil {
		t.Error("FirstChannel(nil) should be nil")
	}
}

func TestErrorsAreDistinct(t *testing.T) {
	if errors.Is(ErrBusy, ErrDeviceUnavailable) || errors.Is(ErrClosed, ErrBusy) {
		t.Error("sentinel errors must not match each other")
	}
}
