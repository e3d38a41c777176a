package analysis

import "math"

// CuePoint is a suggested edit point in a track.
type CuePoint struct {
	Time Float `json:"time"` // Time in seconds
	Beat int   `json:"beat"` // Index into Result.Beats
	Bar  int   `json:"bar"`  // 1-based bar, 4 beats per bar
}

// cutTolerance is how far, in seconds, a beat interval may stray from the
// tempo's beat period and still be a clean cut.
const cutTolerance = 0.1

// NearestBeat returns the beat closest to t. The earliest beat wins ties.
// Without beats, t is returned unchanged.
func NearestBeat(beats []float64, t float64) float64 {
	if len(beats) == 0 {
		return t
	}

	closest := beats[0]
	minDiff := math.Abs(beats[0] - t)
	for _, b := range beats[1:] {
		if d := math.Abs(b - t); d < minDiff {
			minDiff = d
			closest = b
		}
	}
	return closest
}

// SuggestCutPoints returns the first beat followed by every beat that lands
// one steady beat period after its predecessor.
func SuggestCutPoints(r *Result) []float64 {
	if r == nil || len(r.Beats) == 0 {
		return []float64{}
	}

	cuts := []float64{r.Beats[0]}
	if r.BPM <= 0 {
		return cuts
	}

	interval := 60 / r.BPM
	for i := 1; i < len(r.Beats); i++ {
		if math.Abs(r.Beats[i]-r.Beats[i-1]-interval) < cutTolerance {
			cuts = append(cuts, r.Beats[i])
		}
	}
	return cuts
}

// CuePoints annotates the suggested cut points with their beat and bar.
func CuePoints(r *Result) []CuePoint {
	cuts := SuggestCutPoints(r)
	out := make([]CuePoint, 0, len(cuts))

	j := 0
	for _, t := range cuts {
		for j < len(r.Beats) && r.Beats[j] != t {
			j++
		}
		out = append(out, CuePoint{Time: Float(t), Beat: j, Bar: j/4 + 1})
	}
	return out
}
