package analysis

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Slaney mel scale: linear below 1 kHz, logarithmic above.
const (
	melFSP       = 200.0 / 3
	melMinLogHz  = 1000.0
	melMinLogMel = melMinLogHz / melFSP
)

var melLogStep = math.Log(6.4) / 27.0

// HzToMel converts a frequency in Hz to the Slaney mel scale.
func HzToMel(hz float64) float64 {
	if hz >= melMinLogHz {
		return melMinLogMel + math.Log(hz/melMinLogHz)/melLogStep
	}
	return hz / melFSP
}

// MelToHz converts a Slaney mel value back to Hz.
func MelToHz(mel float64) float64 {
	if mel >= melMinLogMel {
		return melMinLogHz * math.Exp(melLogStep*(mel-melMinLogMel))
	}
	return melFSP * mel
}

// MelFilterBank builds triangular mel filters with Slaney area normalization
// as [numMels][fftSize/2+1]. fmax <= 0 means the Nyquist frequency.
func MelFilterBank(sampleRate, fftSize, numMels int, fmin, fmax float64) [][]float64 {
	if fmax <= 0 {
		fmax = float64(sampleRate) / 2
	}
	numBins := fftSize/2 + 1

	fftFreqs := make([]float64, numBins)
	floats.Span(fftFreqs, 0, float64(sampleRate)/2)

	melPts := make([]float64, numMels+2)
	floats.Span(melPts, HzToMel(fmin), HzToMel(fmax))
	for i, m := range melPts {
		melPts[i] = MelToHz(m)
	}

	weights := make([][]float64, numMels)
	for i := range numMels {
		lowerWidth := melPts[i+1] - melPts[i]
		upperWidth := melPts[i+2] - melPts[i+1]
		enorm := 2.0 / (melPts[i+2] - melPts[i])

		row := make([]float64, numBins)
		for k, f := range fftFreqs {
			lower := (f - melPts[i]) / lowerWidth
			upper := (melPts[i+2] - f) / upperWidth
			if w := math.Min(lower, upper); w > 0 {
				row[k] = w * enorm
			}
		}
		weights[i] = row
	}
	return weights
}

// ApplyFilterBank projects a power spectrogram [frames][bins] onto the filter
// bank, returning [frames][filters].
func ApplyFilterBank(power, bank [][]float64) [][]float64 {
	out := make([][]float64, len(power))
	for t, frame := range power {
		row := make([]float64, len(bank))
		for m, filter := range bank {
			row[m] = floats.Dot(filter, frame)
		}
		out[t] = row
	}
	return out
}

// PowerToDB converts power values to decibels in place, clamping at amin and
// limiting the dynamic range to topDB below the global maximum.
func PowerToDB(spec [][]float64, amin, topDB float64) {
	maxDB := math.Inf(-1)
	for _, row := range spec {
		for i, v := range row {
			db := 10 * math.Log10(math.Max(amin, v))
			row[i] = db
			maxDB = math.Max(maxDB, db)
		}
	}
	if topDB <= 0 {
		return
	}
	floor := maxDB - topDB
	for _, row := range spec {
		for i, v := range row {
			if v < floor {
				row[i] = floor
			}
		}
	}
}
