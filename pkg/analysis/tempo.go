package analysis

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// TempoConfig holds parameters for global tempo estimation.
type TempoConfig struct {
	// StartBPM centers the log-normal tempo prior. Default: 120
	StartBPM float64
	// StdBPM is the prior width in octaves. Default: 1.0
	StdBPM float64
	// ACSize is the autocorrelation window in seconds. Default: 8.0
	ACSize float64
	// MaxTempo excludes faster tempi. Default: 320
	MaxTempo float64
}

// DefaultTempoConfig returns the default tempo estimation parameters.
func DefaultTempoConfig() TempoConfig {
	return TempoConfig{
		StartBPM: 120,
		StdBPM:   1.0,
		ACSize:   8.0,
		MaxTempo: 320,
	}
}

// EstimateTempo returns the global tempo in BPM of an onset envelope sampled
// every hop samples. The autocorrelation tempogram is averaged over time and
// weighted by a log-normal prior around StartBPM.
func EstimateTempo(onset []float64, sampleRate, hop int, cfg TempoConfig) float64 {
	winLength := int(cfg.ACSize*float64(sampleRate)) / hop
	if winLength < 2 {
		winLength = 2
	}

	tg := meanTempogram(onset, winLength)
	bpms := TempoFrequencies(winLength, sampleRate, hop)

	// first lag slower than MaxTempo
	minLag := 1
	for minLag < len(bpms) && bpms[minLag] >= cfg.MaxTempo {
		minLag++
	}

	best := -1
	bestScore := math.Inf(-1)
	logStart := math.Log2(cfg.StartBPM)
	for k := minLag; k < len(bpms); k++ {
		z := (math.Log2(bpms[k]) - logStart) / cfg.StdBPM
		score := math.Log1p(1e6*tg[k]) - 0.5*z*z
		if score > bestScore {
			best, bestScore = k, score
		}
	}
	if best < 0 {
		return 0
	}
	return bpms[best]
}

// TempoFrequencies returns the BPM of each autocorrelation lag. Lag 0 is +Inf.
func TempoFrequencies(numLags, sampleRate, hop int) []float64 {
	bpms := make([]float64, numLags)
	if numLags == 0 {
		return bpms
	}
	bpms[0] = math.Inf(1)
	for k := 1; k < numLags; k++ {
		bpms[k] = 60.0 * float64(sampleRate) / (float64(hop) * float64(k))
	}
	return bpms
}

// meanTempogram computes the local autocorrelation of the onset envelope in
// Hann-windowed frames centered on every onset frame, normalizes each frame by
// its peak and averages the frames.
func meanTempogram(onset []float64, winLength int) []float64 {
	half := winLength / 2
	padded := linearRampPad(onset, half)
	window := hannWindow(winLength)

	numFrames := len(padded) - winLength + 1
	mean := make([]float64, winLength)
	if numFrames <= 0 {
		return mean
	}

	ac := newAutocorrelator(winLength)
	frame := make([]float64, winLength)
	for i := range numFrames {
		for j := range frame {
			frame[j] = padded[i+j] * window[j]
		}
		lags := ac.compute(frame)

		norm := 0.0
		for _, v := range lags {
			norm = math.Max(norm, math.Abs(v))
		}
		if norm < math.SmallestNonzeroFloat32 {
			norm = 1
		}
		for k, v := range lags {
			mean[k] += v / norm
		}
	}

	for k := range mean {
		mean[k] /= float64(numFrames)
	}
	return mean
}

// linearRampPad pads both ends with width values ramping linearly from zero
// up to the edge value.
func linearRampPad(x []float64, width int) []float64 {
	out := make([]float64, len(x)+2*width)
	copy(out[width:], x)
	if len(x) == 0 || width == 0 {
		return out
	}

	first, last := x[0], x[len(x)-1]
	for i := range width {
		out[i] = first * float64(i) / float64(width)
		out[len(out)-1-i] = last * float64(i) / float64(width)
	}
	return out
}

// autocorrelator computes autocorrelations of fixed size frames through a
// zero-padded FFT.
type autocorrelator struct {
	size   int
	fft    *fourier.FFT
	buf    []float64
	coeffs []complex128
	seq    []float64
}

func newAutocorrelator(size int) *autocorrelator {
	n := 1
	for n < 2*size-1 {
		n <<= 1
	}
	return &autocorrelator{
		size:   size,
		fft:    fourier.NewFFT(n),
		buf:    make([]float64, n),
		coeffs: make([]complex128, n/2+1),
		seq:    make([]float64, n),
	}
}

// compute returns lags 0..size-1 of the autocorrelation of frame. The returned
// slice is reused by the next call.
func (a *autocorrelator) compute(frame []float64) []float64 {
	copy(a.buf, frame)
	for i := len(frame); i < len(a.buf); i++ {
		a.buf[i] = 0
	}

	a.coeffs = a.fft.Coefficients(a.coeffs, a.buf)
	for i, c := range a.coeffs {
		re, im := real(c), imag(c)
		a.coeffs[i] = complex(re*re+im*im, 0)
	}
	a.seq = a.fft.Sequence(a.seq, a.coeffs)

	n := float64(len(a.buf))
	lags := a.seq[:a.size]
	for i := range lags {
		lags[i] /= n
	}
	return lags
}
