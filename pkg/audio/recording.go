package audio

import (
	"sync"
)

// Recording accumulates the resampled mono samples of a session so the whole
// utterance can be exported as a WAV file after the fact. It is safe for
// concurrent use: the capture pipeline appends while the session teardown
// clears.
type Recording struct {
	sampleRate int
	enc        Encoder

	mu      sync.Mutex
	samples []float32
}

// NewRecording creates an empty recording for samples at sampleRate. enc
// controls the gain applied on export.
func NewRecording(sampleRate int, enc Encoder) *Recording {
	return &Recording{sampleRate: sampleRate, enc: enc}
}

// SampleRate returns the rate the recording is tagged with.
func (r *Recording) SampleRate() int { return r.sampleRate }

// Append copies the first channel of b into the recording. Blocks at a
// different rate are ignored.
func (r *Recording) Append(b Block) {
	if b.SampleRate != r.sampleRate || len(b.Samples) == 0 {
		return
	}
	r.mu.Lock()
	r.samples = append(r.samples, b.Samples...)
	r.mu.Unlock()
}

// Len returns the number of buffered samples.
func (r *Recording) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

// TakeWAV encodes the buffered samples as a mono WAV file and clears the
// buffer. It returns nil when nothing was recorded.
func (r *Recording) TakeWAV() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.samples) == 0 {
		return nil
	}
	wav := r.enc.WAV(r.samples, 1, r.sampleRate)
	r.samples = nil
	return wav
}

// Reset discards all buffered samples.
func (r *Recording) Reset() {
	r.mu.Lock()
	r.samples = nil
	r.mu.Unlock()
}
