package audio

// Resample converts samples captured at inRate to outRate by nearest-neighbour
// decimation: output slot i copies input[floor(i*step)] where
// step = max(inRate/outRate, 1). No interpolation or anti-alias filtering is
// applied; the pipeline only ever downsamples towards speech bandwidth.
//
// The output length is floor(len(samples) / step). If the rates match, or
// either rate is not positive, samples is returned unchanged.
func Resample(samples []float32, inRate, outRate int) []float32 {
	if inRate <= 0 || outRate <= 0 || inRate == outRate {
		return samples
	}
	step := float64(inRate) / float64(outRate)
	if step < 1 {
		// Never upsample.
		step = 1
	}

	n := int(float64(len(samples)) / step)
	if n == 0 {
		return nil
	}

	out := make([]float32, n)
	j := 0.0
	for i := range n {
		idx := int(j)
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		out[i] = samples[idx]
		j += step
	}
	return out
}

// ResampleBlock resamples b to outRate. The second channel is processed only
// when present.
func ResampleBlock(b Block, outRate int) Block {
	if b.SampleRate == outRate || b.SampleRate <= 0 || outRate <= 0 {
		return b
	}
	out := Block{
		Samples:    Resample(b.Samples, b.SampleRate, outRate),
		SampleRate: outRate,
		Channels:   b.Channels,
	}
	if b.Right != nil {
		out.Right = Resample(b.Right, b.SampleRate, outRate)
	}
	return out
}

// ResampledLen returns the number of frames [Resample] produces for n input
// frames.
func ResampledLen(n, inRate, outRate int) int {
	if inRate <= 0 || outRate <= 0 || inRate == outRate {
		return n
	}
	step := float64(inRate) / float64(outRate)
	if step < 1 {
		step = 1
	}
	return int(float64(n) / step)
}
