package audio

import (
	"encoding/binary"
	"math"
)

// WAVHeaderSize is the size of the canonical RIFF/WAVE PCM header.
const WAVHeaderSize = 44

const (
	pcmMax = math.MaxInt16
	pcmMin = math.MinInt16
)

// Encoder quantizes float samples to 16-bit signed little-endian PCM.
//
// Each sample s is stored as round(s * 32767 * Volume), clamped to the int16
// range. Samples pushed beyond unity by the volume gain saturate instead of
// wrapping around. The zero value is ready to use with unity gain.
type Encoder struct {
	// Volume is the linear gain applied before quantization. Zero means 1.
	Volume float64
}

func (e Encoder) gain() float64 {
	if e.Volume == 0 {
		return 1
	}
	return e.Volume
}

// Quantize converts a single float sample to int16 using the encoder's gain.
func (e Encoder) Quantize(s float32) int16 {
	v := math.Round(float64(s) * pcmMax * e.gain())
	switch {
	case math.IsNaN(v):
		return 0
	case v > pcmMax:
		return pcmMax
	case v < pcmMin:
		return pcmMin
	}
	return int16(v)
}

// Headerless returns the raw PCM16 payload for samples: exactly
// 2*len(samples) bytes with no header or timestamp. This is the per-frame
// format streamed to the recognizer.
func (e Encoder) Headerless(samples []float32) []byte {
	buf := make([]byte, len(samples)*2)
	e.put(buf, samples)
	return buf
}

// WAV returns samples wrapped in a 44-byte RIFF/WAVE header. samples must
// already be interleaved when channels > 1.
func (e Encoder) WAV(samples []float32, channels, sampleRate int) []byte {
	dataSize := len(samples) * 2
	buf := make([]byte, WAVHeaderSize+dataSize)
	hdr := WAVHeader(dataSize, channels, sampleRate)
	copy(buf, hdr[:])
	e.put(buf[WAVHeaderSize:], samples)
	return buf
}

func (e Encoder) put(dst []byte, samples []float32) {
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(e.Quantize(s)))
	}
}

// WAVHeader builds the 44-byte header for dataSize bytes of 16-bit PCM.
func WAVHeader(dataSize, channels, sampleRate int) [WAVHeaderSize]byte {
	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	var hdr [WAVHeaderSize]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(36+dataSize))
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(hdr[34:36], bitsPerSample)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], uint32(dataSize))
	return hdr
}
