//go:build !portaudio

package capture

import "fmt"

// Open reports [ErrDeviceUnavailable]: this binary was built without audio
// device support.
func Open(_ Config) (Source, error) {
	return nil, fmt.Errorf("%w: rebuild with -tags portaudio", ErrDeviceUnavailable)
}
