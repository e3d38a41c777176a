package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzoschke/beatdetect/pkg/analysis/analysistest"
)

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	a, err := New(DefaultConfig(), nil)
	require.NoError(t, err)
	return a
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"negative sample rate", func(c *Config) { c.SampleRate = -1 }},
		{"odd fft size", func(c *Config) { c.FFTSize = 2047 }},
		{"zero hop", func(c *Config) { c.HopLength = 0 }},
		{"zero mels", func(c *Config) { c.NumMels = 0 }},
		{"zero start bpm", func(c *Config) { c.StartBPM = 0 }},
		{"negative tightness", func(c *Config) { c.Tightness = -1 }},
		{"negative workers", func(c *Config) { c.Workers = -2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())

			_, err := New(cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestAnalyzeSamples_ClickTrack(t *testing.T) {
	a := newTestAnalyzer(t)
	samples := analysistest.ClickTrack(22050, 120, 10)

	result, err := a.AnalyzeSamples(context.Background(), samples, 22050)
	require.NoError(t, err)

	assert.InDelta(t, 120, result.BPM, 6)
	assert.Equal(t, ClassifyMood(result.Tempo), result.Mood)
	assert.Equal(t, 10.0, result.Duration)
	assert.Greater(t, result.Energy, 0.0)
	require.GreaterOrEqual(t, len(result.Beats), 10)

	assert.True(t, sort.Float64sAreSorted(result.Beats))
	assert.Less(t, result.Beats[len(result.Beats)-1], result.Duration)

	intervals := make([]float64, len(result.Beats)-1)
	for i := range intervals {
		intervals[i] = result.Beats[i+1] - result.Beats[i]
	}
	assert.InDelta(t, 0.5, median(intervals), 0.04)
}

func TestAnalyzeSamples_Silence(t *testing.T) {
	a := newTestAnalyzer(t)

	result, err := a.AnalyzeSamples(context.Background(), make([]float32, 44100), 22050)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, result))
	assert.Equal(t, `{
  "bpm": 0.0,
  "beats": [],
  "duration": 2.0,
  "energy": 0.0,
  "mood": "calm"
}
`, buf.String())
}

func TestAnalyzeSamples_Errors(t *testing.T) {
	a := newTestAnalyzer(t)

	_, err := a.AnalyzeSamples(context.Background(), nil, 22050)
	assert.ErrorIs(t, err, ErrNoSamples)

	_, err = a.AnalyzeSamples(context.Background(), make([]float32, 10), 0)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.AnalyzeSamples(ctx, analysistest.ClickTrack(22050, 120, 2), 22050)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyzeSamples_Resample(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SampleRate = 11025
	a, err := New(cfg, nil)
	require.NoError(t, err)

	result, err := a.AnalyzeSamples(context.Background(), analysistest.ClickTrack(22050, 120, 6), 22050)
	require.NoError(t, err)
	assert.Equal(t, 6.0, result.Duration)
	assert.InDelta(t, 120, result.BPM, 10)
}

func TestAnalyzeFile(t *testing.T) {
	a := newTestAnalyzer(t)
	dir := t.TempDir()

	path := filepath.Join(dir, "clicks.wav")
	analysistest.WriteWAV(t, path, analysistest.ClickTrack(22050, 120, 8), 22050, 2)

	result, err := a.AnalyzeFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 8.0, result.Duration)
	assert.InDelta(t, 120, result.BPM, 6)
	assert.NotEmpty(t, result.Beats)

	_, err = a.AnalyzeFile(context.Background(), filepath.Join(dir, "missing.wav"))
	require.Error(t, err)
	assert.True(t, IsInputError(err))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestResult_JSON(t *testing.T) {
	r := Result{
		BPM:      123,
		Beats:    []float64{0.5, 1, 1.512},
		Duration: 30,
		Energy:   0.1234,
		Mood:     MoodEnergetic,
		Tempo:    123.046875,
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &r))
	assert.Equal(t, `{
  "bpm": 123.0,
  "beats": [
    0.5,
    1.0,
    1.512
  ],
  "duration": 30.0,
  "energy": 0.1234,
  "mood": "energetic"
}
`, buf.String())

	path := filepath.Join(t.TempDir(), "track.json")
	require.NoError(t, r.WriteJSON(path))

	var decoded map[string]any
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "energetic", decoded["mood"])
	assert.NotContains(t, decoded, "Tempo")
}

func TestErrorResult_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, NewErrorResult(errors.New("decode WAV: <bad> & broken"))))
	assert.Equal(t, "{\n  \"error\": \"decode WAV: <bad> & broken\"\n}\n", buf.String())
}

func TestFloat_MarshalJSON(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0.0"},
		{120, "120.0"},
		{117.5, "117.5"},
		{0.0001, "0.0001"},
		{-2, "-2.0"},
		{1e21, "1000000000000000000000.0"},
	}

	for _, tt := range tests {
		b, err := Float(tt.in).MarshalJSON()
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(b))
	}
}

func TestRoundTo(t *testing.T) {
	tests := []struct {
		x      float64
		places int
		want   float64
	}{
		{117.45383522727273, 1, 117.5},
		{2.675, 2, 2.67}, // 2.675 is stored just below the tie
		{0.0625, 3, 0.062},
		{0.5, 0, 0},
		{1.5, 0, 2},
		{0.12345678, 4, 0.1235},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, RoundTo(tt.x, tt.places), "RoundTo(%v, %d)", tt.x, tt.places)
	}
}

func TestResult_Bars(t *testing.T) {
	assert.Equal(t, 0.0, (&Result{}).Bars())
	assert.Equal(t, 1.5, (&Result{Beats: make([]float64, 6)}).Bars())
}
