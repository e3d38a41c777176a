package analysis

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// STFTConfig describes parameters for STFT computation.
type STFTConfig struct {
	FFTSize int // FFT window size (e.g., 1024, 2048, 4096)
	HopSize int // Hop between frames (e.g., 512 for ~23ms at 22050Hz)
}

// DefaultSTFTConfig returns the STFT configuration used for onset detection.
func DefaultSTFTConfig() STFTConfig {
	return STFTConfig{FFTSize: 2048, HopSize: 512}
}

// NumFrames returns the number of centered frames for n samples.
func (cfg STFTConfig) NumFrames(n int) int {
	return 1 + n/cfg.HopSize
}

// NumBins returns the number of one-sided frequency bins.
func (cfg STFTConfig) NumBins() int {
	return cfg.FFTSize/2 + 1
}

// PowerSpectrogram computes a centered Short-Time Fourier Transform and returns
// the power |X|^2 as [frames][bins]. The signal is zero padded by FFTSize/2
// on both sides so frame t is centered on sample t*HopSize.
func PowerSpectrogram(samples []float64, cfg STFTConfig) [][]float64 {
	window := hannWindow(cfg.FFTSize)
	fft := fourier.NewFFT(cfg.FFTSize)

	pad := cfg.FFTSize / 2
	numFrames := cfg.NumFrames(len(samples))
	numBins := cfg.NumBins()

	result := make([][]float64, numFrames)
	frame := make([]float64, cfg.FFTSize)
	coeffs := make([]complex128, numBins)

	for i := range numFrames {
		start := i*cfg.HopSize - pad

		// Clear frame and apply window
		for j := range frame {
			idx := start + j
			if idx < 0 || idx >= len(samples) {
				frame[j] = 0
				continue
			}
			frame[j] = samples[idx] * window[j]
		}

		coeffs = fft.Coefficients(coeffs, frame)

		result[i] = make([]float64, numBins)
		for j, c := range coeffs {
			re, im := real(c), imag(c)
			result[i][j] = re*re + im*im
		}
	}

	return result
}

// hannWindow generates a periodic Hann window of given size, the form used
// for spectral analysis.
func hannWindow(size int) []float64 {
	w := make([]float64, size)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(size))
	}
	return w
}
