//go:build !portaudio

package capture

import (
	"errors"
	"testing"
)

func TestOpen_WithoutPortAudio(t *testing.T) {
	src, err := Open(Config{})
	if src != nil {
		t.Error("expected nil source")
	}
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("err = %v, want ErrDeviceUnavailable", err)
	}
}
