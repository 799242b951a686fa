package audio

import (
	"encoding/binary"
	"math"
)

const (
	// SampleRate is the wire sample rate expected by the backend.
	SampleRate = 16000
	// Channels is the wire channel count expected by the backend.
	Channels = 1
	// DefaultBufferSamples is the capture callback length in samples.
	DefaultBufferSamples = 4096
)

// Format describes an interleaved float sample stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Wire is the canonical capture format: mono, 16 kHz.
var Wire = Format{SampleRate: SampleRate, Channels: Channels}

// Float32ToPCM16 converts [-1,1] float samples to signed 16-bit PCM.
// Values at or beyond the range edges clamp to 32767 / -32768.
func Float32ToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = floatToPCM16(s)
	}
	return out
}

func floatToPCM16(s float32) int16 {
	v := float64(s)
	switch {
	case math.IsNaN(v):
		return 0
	case v >= 1:
		return math.MaxInt16
	case v <= -1:
		return math.MinInt16
	case v < 0:
		return int16(math.Round(v * 32768))
	default:
		return int16(math.Round(v * 32767))
	}
}

// PCM16Bytes serializes samples as little-endian bytes.
func PCM16Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// PCM16Samples parses little-endian PCM16 bytes. A trailing odd byte is ignored.
func PCM16Samples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// Level returns the mean absolute sample value scaled by 10 and clamped to [0,1].
func Level(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += math.Abs(float64(s))
	}
	level := sum / float64(len(samples)) * 10
	if math.IsNaN(level) || level < 0 {
		return 0
	}
	if level > 1 {
		return 1
	}
	return level
}

// Downmix averages interleaved frames into a mono stream.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(interleaved))
		copy(out, interleaved)
		return out
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for f := 0; f < frames; f++ {
		var sum float32
		base := f * channels
		for c := 0; c < channels; c++ {
			sum += interleaved[base+c]
		}
		out[f] = sum / float32(channels)
	}
	return out
}

// Resample converts mono samples between rates using linear interpolation.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate <= 0 || toRate <= 0 || fromRate == toRate || len(samples) == 0 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}

	n := int(float64(len(samples)) * float64(toRate) / float64(fromRate))
	out := make([]float32, n)
	ratio := float64(fromRate) / float64(toRate)
	last := len(samples) - 1
	for i := 0; i < n; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx] + frac*(samples[idx+1]-samples[idx])
	}
	return out
}

// Normalize downmixes and resamples an interleaved stream to the wire format.
func Normalize(interleaved []float32, from Format) []float32 {
	mono := Downmix(interleaved, from.Channels)
	if from.SampleRate == SampleRate {
		return mono
	}
	return Resample(mono, from.SampleRate, SampleRate)
}
