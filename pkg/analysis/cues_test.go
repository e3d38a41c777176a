package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNearestBeat(t *testing.T) {
	beats := []float64{1, 2, 3}

	assert.Equal(t, 2.0, NearestBeat(beats, 2.4))
	assert.Equal(t, 2.0, NearestBeat(beats, 2.5), "earliest beat wins ties")
	assert.Equal(t, 1.0, NearestBeat(beats, -5))
	assert.Equal(t, 3.0, NearestBeat(beats, 99))
	assert.Equal(t, 7.5, NearestBeat(nil, 7.5))
}

func TestSuggestCutPoints(t *testing.T) {
	r := &Result{BPM: 120, Beats: []float64{0.5, 1.0, 1.52, 2.3, 2.8}}
	assert.Equal(t, []float64{0.5, 1.0, 1.52, 2.8}, SuggestCutPoints(r))

	assert.Equal(t, []float64{}, SuggestCutPoints(&Result{}))
	assert.Equal(t, []float64{}, SuggestCutPoints(nil))
	assert.Equal(t, []float64{4}, SuggestCutPoints(&Result{Beats: []float64{4, 5}}))
}

func TestCuePoints(t *testing.T) {
	r := &Result{BPM: 120, Beats: []float64{0.5, 1.0, 1.52, 2.3, 2.8}}

	assert.Equal(t, []CuePoint{
		{Time: 0.5, Beat: 0, Bar: 1},
		{Time: 1.0, Beat: 1, Bar: 1},
		{Time: 1.52, Beat: 2, Bar: 1},
		{Time: 2.8, Beat: 4, Bar: 2},
	}, CuePoints(r))

	assert.Empty(t, CuePoints(&Result{}))
}
