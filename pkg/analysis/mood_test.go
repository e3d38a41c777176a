package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyMood(t *testing.T) {
	tests := []struct {
		bpm  float64
		want Mood
	}{
		{180, MoodEnergetic},
		{120, MoodEnergetic},
		{119.99, MoodUpbeat},
		{100, MoodUpbeat},
		{99.95, MoodDramatic},
		{90, MoodDramatic},
		{89.9, MoodCalm},
		{0, MoodCalm},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyMood(tt.bpm), "bpm %g", tt.bpm)
	}
}

func TestParseMood(t *testing.T) {
	m, err := ParseMood(" Energetic ")
	require.NoError(t, err)
	assert.Equal(t, MoodEnergetic, m)

	_, err = ParseMood("happy")
	assert.EqualError(t, err, `unknown mood "happy"`)
}
