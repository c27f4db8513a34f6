// Package audio holds the sample-level building blocks of the capture
// pipeline: the [Block] type produced by capture sources, nearest-neighbour
// decimation to the recognizer rate, PCM16 quantization (headerless frames
// and WAV containers) and a per-session [Recording] buffer.
//
// Everything in this package is pure and allocation-bounded so it can run
// inside a real-time audio callback.
package audio

import "fmt"

// DefaultBlockSize is the number of frames a capture source delivers per
// device callback.
const DefaultBlockSize = 1024

// DefaultTargetRate is the sample rate expected by the speech recognizer.
const DefaultTargetRate = 16000

// Block is a single block of float samples produced by a capture source.
// Blocks are owned by whichever pipeline stage is processing them and are
// discarded after encoding.
type Block struct {
	// Samples holds the first (left) channel in the range [-1, 1].
	Samples []float32

	// Right holds the second channel. It is nil for mono input, which is the
	// only layout the streaming path produces.
	Right []float32

	// SampleRate in Hz (the device's native rate before resampling).
	SampleRate int

	// Channels is the channel count the block is tagged with.
	Channels int
}

// Len returns the number of frames in the block.
func (b Block) Len() int { return len(b.Samples) }

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
