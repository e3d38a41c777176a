package analysis

import (
	"fmt"
	"strings"
)

// Mood is a coarse label derived from tempo.
type Mood string

const (
	MoodEnergetic Mood = "energetic" // 120 BPM and up
	MoodUpbeat    Mood = "upbeat"    // 100 to 120 BPM
	MoodDramatic  Mood = "dramatic"  // 90 to 100 BPM
	MoodCalm      Mood = "calm"      // below 90 BPM
)

// Moods lists every mood from fastest to slowest.
var Moods = []Mood{MoodEnergetic, MoodUpbeat, MoodDramatic, MoodCalm}

// ClassifyMood buckets a tempo in BPM into a mood.
func ClassifyMood(bpm float64) Mood {
	switch {
	case bpm >= 120:
		return MoodEnergetic
	case bpm >= 100:
		return MoodUpbeat
	case bpm >= 90:
		return MoodDramatic
	default:
		return MoodCalm
	}
}

// ParseMood validates a mood name, case insensitively.
func ParseMood(s string) (Mood, error) {
	m := Mood(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Moods {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mood %q", s)
}
