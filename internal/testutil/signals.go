package testutil

import (
	"math"
	"math/rand"
)

// DeterministicNoise generates white noise with a fixed seed for reproducibility.
func DeterministicNoise(seed int64, amplitude float64, length int) []float64 {
	out := make([]float64, length)
	rng := rand.New(rand.NewSource(seed))
	for i := range out {
		out[i] = (rng.Float64()*2 - 1) * amplitude
	}
	return out
}

// DecayingNoise generates a synthetic room impulse response: seeded noise
// under an exponential envelope that falls by 60 dB over length samples.
func DecayingNoise(seed int64, length int) []float64 {
	out := DeterministicNoise(seed, 1, length)
	if length == 0 {
		return out
	}
	rate := math.Log(1000) / float64(length)
	for i := range out {
		out[i] *= math.Exp(-rate * float64(i))
	}
	return out
}

// Impulse generates a unit impulse at the given position.
func Impulse(length, pos int) []float64 {
	out := make([]float64, length)
	if pos >= 0 && pos < length {
		out[pos] = 1
	}
	return out
}

// RenderBlocks feeds signal through process in blocks of blockSize samples,
// zero-padding the last block, and returns the concatenated output. It stops
// at the first error.
func RenderBlocks(signal []float64, blockSize int, process func(in, out []float64) error) ([]float64, error) {
	blocks := (len(signal) + blockSize - 1) / blockSize
	out := make([]float64, blocks*blockSize)
	in := make([]float64, blockSize)

	for b := range blocks {
		clear(in)
		copy(in, signal[b*blockSize:])
		if err := process(in, out[b*blockSize:(b+1)*blockSize]); err != nil {
			return out[:b*blockSize], err
		}
	}

	return out, nil
}
