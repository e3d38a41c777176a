package analysis

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// BeatConfig holds parameters for dynamic programming beat tracking.
type BeatConfig struct {
	// Tightness controls how strictly beats follow the tempo.
	// Higher values = stricter. Default: 100
	Tightness float64
	// Trim drops weak beats at the start and end. Default: true
	Trim bool
}

// DefaultBeatConfig returns the default beat tracking parameters.
func DefaultBeatConfig() BeatConfig {
	return BeatConfig{Tightness: 100, Trim: true}
}

// TrackBeats picks beat frames from an onset envelope given a tempo estimate.
// framesPerSec is the envelope rate (sample rate / hop). It returns nil when
// the envelope is silent or the tempo is not positive.
func TrackBeats(onset []float64, bpm, framesPerSec float64, cfg BeatConfig) []int {
	if bpm <= 0 || len(onset) == 0 || !hasNonZero(onset) {
		return nil
	}

	period := int(math.RoundToEven(60.0 * framesPerSec / bpm))
	if period < 1 {
		period = 1
	}

	localScore := beatLocalScore(normalizeOnsets(onset), period)
	backlink, cumScore := beatTrackDP(localScore, period, cfg.Tightness)

	tail, ok := lastBeat(cumScore)
	if !ok {
		return nil
	}

	beats := []int{tail}
	for backlink[beats[len(beats)-1]] >= 0 {
		beats = append(beats, backlink[beats[len(beats)-1]])
	}
	for i, j := 0, len(beats)-1; i < j; i, j = i+1, j-1 {
		beats[i], beats[j] = beats[j], beats[i]
	}

	return trimBeats(localScore, beats, cfg.Trim)
}

// FramesToTime converts frame indices to seconds.
func FramesToTime(frames []int, sampleRate, hop int) []float64 {
	times := make([]float64, len(frames))
	for i, f := range frames {
		times[i] = float64(f*hop) / float64(sampleRate)
	}
	return times
}

func hasNonZero(x []float64) bool {
	for _, v := range x {
		if v != 0 {
			return true
		}
	}
	return false
}

// normalizeOnsets scales the envelope by its sample standard deviation.
func normalizeOnsets(onset []float64) []float64 {
	norm := 0.0
	if len(onset) > 1 {
		norm = stat.StdDev(onset, nil)
	}
	out := make([]float64, len(onset))
	floats.ScaleTo(out, 1/(norm+math.SmallestNonzeroFloat64), onset)
	return out
}

// beatLocalScore smooths the envelope with a Gaussian spanning one beat
// period on either side.
func beatLocalScore(onset []float64, period int) []float64 {
	window := make([]float64, 2*period+1)
	for i := range window {
		k := float64(i-period) * 32.0 / float64(period)
		window[i] = math.Exp(-0.5 * k * k)
	}
	return convolveSame(onset, window)
}

// convolveSame returns the centered part of the full convolution of x and
// kernel, with the same length as x.
func convolveSame(x, kernel []float64) []float64 {
	out := make([]float64, len(x))
	offset := (len(kernel) - 1) / 2
	for i := range out {
		sum := 0.0
		for m, w := range kernel {
			j := i + offset - m
			if j < 0 || j >= len(x) {
				continue
			}
			sum += x[j] * w
		}
		out[i] = sum
	}
	return out
}

// beatTrackDP accumulates the best score of a beat sequence ending at every
// frame. The previous beat is searched between two periods and half a period
// back, penalized by its log distance from one period.
func beatTrackDP(localScore []float64, period int, tightness float64) ([]int, []float64) {
	backlink := make([]int, len(localScore))
	cumScore := make([]float64, len(localScore))

	lo := -2 * period
	hi := -int(math.RoundToEven(float64(period) / 2))
	if hi < lo {
		hi = lo
	}
	window := make([]int, hi-lo+1)
	txwt := make([]float64, len(window))
	for i := range window {
		window[i] = lo + i
		l := math.Log(-float64(window[i]) / float64(period))
		txwt[i] = -tightness * l * l
	}

	maxScore := floats.Max(localScore)
	firstBeat := true
	for i, score := range localScore {
		// offsets before frame 0 only carry the transition weight
		zPad := max(0, min(-window[0], len(window)))

		bestIdx := 0
		bestVal := math.Inf(-1)
		for j := range window {
			v := txwt[j]
			if j >= zPad {
				v += cumScore[window[j]]
			}
			if v > bestVal {
				bestIdx, bestVal = j, v
			}
		}

		cumScore[i] = score + bestVal

		if firstBeat && score < 0.01*maxScore {
			backlink[i] = -1
		} else {
			backlink[i] = window[bestIdx]
			firstBeat = false
		}

		for j := range window {
			window[j]++
		}
	}

	return backlink, cumScore
}

// lastBeat returns the last frame whose doubled cumulative score, counted only
// at local maxima and as zero elsewhere, exceeds the median of all local
// maxima.
func lastBeat(cumScore []float64) (int, bool) {
	maxes := localMax(cumScore)

	var peaks []float64
	for i, isMax := range maxes {
		if isMax {
			peaks = append(peaks, cumScore[i])
		}
	}
	if len(peaks) == 0 {
		return 0, false
	}
	medScore := median(peaks)

	for i := len(cumScore) - 1; i >= 0; i-- {
		v := 0.0
		if maxes[i] {
			v = 2 * cumScore[i]
		}
		if v > medScore {
			return i, true
		}
	}
	return 0, false
}

// localMax marks x[i] > x[i-1] && x[i] >= x[i+1], with edges compared to
// themselves so the first element is never a maximum.
func localMax(x []float64) []bool {
	out := make([]bool, len(x))
	for i := range x {
		prev := x[max(i-1, 0)]
		next := x[min(i+1, len(x)-1)]
		out[i] = x[i] > prev && x[i] >= next
	}
	return out
}

// trimBeats keeps the run of beats between the first and last beat whose
// smoothed local score is above half the RMS of the smoothed scores. The last
// qualifying beat itself is dropped.
func trimBeats(localScore []float64, beats []int, trim bool) []int {
	if len(beats) == 0 {
		return beats
	}

	scores := make([]float64, len(beats))
	for i, b := range beats {
		scores[i] = localScore[b]
	}
	smooth := convolveSame(scores, []float64{0, 0.5, 1, 0.5, 0})

	threshold := 0.0
	if trim {
		sumSq := floats.Dot(smooth, smooth)
		threshold = 0.5 * math.Sqrt(sumSq/float64(len(smooth)))
	}

	first, last := -1, -1
	for i, v := range smooth {
		if v > threshold {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return nil
	}
	return beats[first:last]
}
