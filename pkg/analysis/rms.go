package analysis

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// RMS returns the root-mean-square amplitude of centered, zero padded frames
// of frameLength samples every hop samples.
func RMS(samples []float64, frameLength, hop int) []float64 {
	pad := frameLength / 2
	numFrames := 1 + (len(samples)+2*pad-frameLength)/hop
	if numFrames < 1 {
		return nil
	}

	out := make([]float64, numFrames)
	for i := range out {
		start := i*hop - pad
		lo := max(start, 0)
		hi := min(start+frameLength, len(samples))

		sumSq := 0.0
		for _, v := range samples[lo:max(lo, hi)] {
			sumSq += v * v
		}
		out[i] = math.Sqrt(sumSq / float64(frameLength))
	}
	return out
}

// MeanRMS is the average of RMS frames, a coarse loudness measure.
func MeanRMS(samples []float64, frameLength, hop int) float64 {
	frames := RMS(samples, frameLength, hop)
	if len(frames) == 0 {
		return 0
	}
	return stat.Mean(frames, nil)
}
