// Package audio provides the PCM primitives shared by the capture,
// segmentation and playback stages: 16-bit frames, signal energy
// statistics, a linear resampler and a WAV container encoder.
package audio

import "math"

// Frame is a chunk of mono PCM16 audio at a known sample rate.
type Frame struct {
	// Samples contains PCM16 audio samples (little-endian).
	Samples []int16

	// Rate is the sample rate of this frame in Hz.
	Rate int
}

// Bytes returns the raw little-endian bytes of the frame.
func (f *Frame) Bytes() []byte {
	return SamplesToBytes(f.Samples)
}

// Duration returns the frame duration in seconds.
func (f *Frame) Duration() float64 {
	if f.Rate == 0 {
		return 0
	}
	return float64(len(f.Samples)) / float64(f.Rate)
}

// RMS returns the root-mean-square energy of the frame on a normalized
// [-1,1] sample scale, so values are comparable across frame sizes.
func (f *Frame) RMS() float64 {
	return RMS(f.Samples)
}

// RMS computes normalized root-mean-square energy over PCM16 samples.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// BytesToSamples converts raw PCM16 little-endian bytes to int16 samples.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes converts int16 samples to raw PCM16 little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

// Stats accumulates per-frame RMS energy incrementally so an utterance
// can be summarized without retaining per-frame values.
type Stats struct {
	Sum   float64
	Count int
	Max   float64
}

// Add folds one frame's RMS into the running stats.
func (s *Stats) Add(rms float64) {
	s.Sum += rms
	s.Count++
	if rms > s.Max {
		s.Max = rms
	}
}

// Avg returns the mean frame RMS, or 0 with no frames.
func (s *Stats) Avg() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

// Reset zeroes the running stats.
func (s *Stats) Reset() {
	*s = Stats{}
}

// Features is the immutable per-utterance summary computed at
// finalization. It is never mutated after creation.
type Features struct {
	DurationMs int     `json:"duration_ms"`
	AvgRMS     float64 `json:"avg_rms"`
	MaxRMS     float64 `json:"max_rms"`
}
