package analysis

import (
	"math"
	"sort"
)

// OnsetConfig holds parameters for the onset strength envelope.
type OnsetConfig struct {
	STFT    STFTConfig
	NumMels int
	// Lag is the frame distance of the spectral difference. Default: 1
	Lag int
	// TopDB limits the log-mel dynamic range. Default: 80
	TopDB float64
}

// DefaultOnsetConfig returns the onset configuration used by beat tracking.
func DefaultOnsetConfig() OnsetConfig {
	return OnsetConfig{
		STFT:    DefaultSTFTConfig(),
		NumMels: 128,
		Lag:     1,
		TopDB:   80,
	}
}

// OnsetStrength computes the spectral flux onset envelope of a mono signal:
// the median across mel bands of the positive first difference of the
// log-mel spectrogram. The result has one value per STFT frame.
func OnsetStrength(samples []float64, sampleRate int, cfg OnsetConfig) []float64 {
	power := PowerSpectrogram(samples, cfg.STFT)
	bank := MelFilterBank(sampleRate, cfg.STFT.FFTSize, cfg.NumMels, 0, 0)
	mel := ApplyFilterBank(power, bank)
	PowerToDB(mel, 1e-10, cfg.TopDB)

	return onsetFromLogMel(mel, cfg.Lag, cfg.STFT)
}

// onsetFromLogMel differences a [frames][mels] log spectrogram. The envelope
// is shifted right by lag plus half a window so that it lines up with the
// centered frames, then cut to the frame count.
func onsetFromLogMel(mel [][]float64, lag int, stft STFTConfig) []float64 {
	numFrames := len(mel)
	onset := make([]float64, numFrames)
	if numFrames <= lag {
		return onset
	}

	pad := lag + stft.FFTSize/(2*stft.HopSize)
	diff := make([]float64, len(mel[0]))

	for j := 0; j+lag < numFrames; j++ {
		t := j + pad
		if t >= numFrames {
			break
		}
		cur, prev := mel[j+lag], mel[j]
		for m := range diff {
			diff[m] = math.Max(0, cur[m]-prev[m])
		}
		onset[t] = median(diff)
	}
	return onset
}

// median returns the median of values without modifying them.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
