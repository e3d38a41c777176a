// Package analysis provides tempo, beat, energy and mood analysis of audio files.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/nzoschke/beatdetect/pkg/metrics"
)

// Config holds configuration for the analyzer.
type Config struct {
	// SampleRate resamples decoded audio before analysis.
	// Default: 0 (keep the file's native rate)
	SampleRate int

	// FFTSize is the STFT window size in samples. Default: 2048
	FFTSize int

	// HopLength is the distance between analysis frames in samples.
	// Default: 512
	HopLength int

	// NumMels is the number of mel bands for onset detection. Default: 128
	NumMels int

	// StartBPM is the tempo prior center. Default: 120
	StartBPM float64

	// Tightness controls how strictly beats follow the tempo. Default: 100
	Tightness float64

	// TrimBeats drops weak leading and trailing beats. Default: true
	TrimBeats bool

	// TrimEncoderDelay drops MP3 priming samples. Default: true
	TrimEncoderDelay bool

	// Workers bounds concurrent analyses in AnalyzeDir.
	// Default: 0 (NumCPU-1, at least 2)
	Workers int
}

// DefaultConfig returns the default analyzer configuration.
func DefaultConfig() Config {
	return Config{
		FFTSize:          2048,
		HopLength:        512,
		NumMels:          128,
		StartBPM:         120,
		Tightness:        100,
		TrimBeats:        true,
		TrimEncoderDelay: true,
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.SampleRate < 0:
		return fmt.Errorf("sample rate must not be negative, got %d", c.SampleRate)
	case c.FFTSize < 16 || c.FFTSize%2 != 0:
		return fmt.Errorf("fft size must be an even number >= 16, got %d", c.FFTSize)
	case c.HopLength < 1:
		return fmt.Errorf("hop length must be positive, got %d", c.HopLength)
	case c.NumMels < 1:
		return fmt.Errorf("mel bands must be positive, got %d", c.NumMels)
	case c.StartBPM <= 0:
		return fmt.Errorf("start bpm must be positive, got %g", c.StartBPM)
	case c.Tightness <= 0:
		return fmt.Errorf("tightness must be positive, got %g", c.Tightness)
	case c.Workers < 0:
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	return nil
}

// Result is the analysis of one track.
type Result struct {
	BPM      float64   `json:"bpm"`      // BPM is the tempo rounded to one decimal.
	Beats    []float64 `json:"beats"`    // Beats are beat times in seconds, three decimals.
	Duration float64   `json:"duration"` // Duration is the track length in seconds, two decimals.
	Energy   float64   `json:"energy"`   // Energy is the mean RMS amplitude, four decimals.
	Mood     Mood      `json:"mood"`

	// Tempo is the unrounded tempo estimate the mood was classified from.
	Tempo float64 `json:"-"`
}

// Bars returns the number of bars (4 beats per bar) in the track.
func (r *Result) Bars() float64 {
	if len(r.Beats) == 0 {
		return 0
	}
	return float64(len(r.Beats)) / 4.0
}

// MarshalJSON keeps a decimal point on every float and encodes missing beats
// as an empty array.
func (r Result) MarshalJSON() ([]byte, error) {
	beats := make([]Float, len(r.Beats))
	for i, b := range r.Beats {
		beats[i] = Float(b)
	}
	return json.Marshal(struct {
		BPM      Float   `json:"bpm"`
		Beats    []Float `json:"beats"`
		Duration Float   `json:"duration"`
		Energy   Float   `json:"energy"`
		Mood     Mood    `json:"mood"`
	}{Float(r.BPM), beats, Float(r.Duration), Float(r.Energy), r.Mood})
}

// WriteJSON writes the analysis to a JSON file.
func (r *Result) WriteJSON(path string) error {
	return writeJSONFile(path, r)
}

// ErrorResult is the document emitted when analysis fails.
type ErrorResult struct {
	Error string `json:"error"`
}

// NewErrorResult wraps err for output.
func NewErrorResult(err error) ErrorResult {
	return ErrorResult{Error: err.Error()}
}

// Float is a float64 that always encodes with a decimal point, so 120 is
// written as 120.0.
type Float float64

// MarshalJSON implements json.Marshaler.
func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("unsupported float value %v", v)
	}
	b := strconv.AppendFloat(nil, v, 'f', -1, 64)
	for _, c := range b {
		if c == '.' {
			return b, nil
		}
	}
	return append(b, '.', '0'), nil
}

// RoundTo rounds x to the given number of decimal places using the exact
// decimal value of x, with ties to even.
func RoundTo(x float64, places int) float64 {
	s := strconv.FormatFloat(x, 'f', places, 64)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return x
	}
	return v
}

// Encode writes v as two-space indented JSON followed by a newline.
func Encode(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func writeJSONFile(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write JSON: %w", err)
	}
	if err := Encode(f, v); err != nil {
		f.Close()
		return fmt.Errorf("write JSON: %w", err)
	}
	return f.Close()
}

// Analyzer estimates tempo, beats, energy and mood.
type Analyzer struct {
	cfg Config
	log *zap.Logger
}

// New creates an Analyzer. A nil logger discards logs.
func New(cfg Config, log *zap.Logger) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Analyzer{cfg: cfg, log: log}, nil
}

// Config returns the analyzer configuration.
func (a *Analyzer) Config() Config {
	return a.cfg
}

// AnalyzeFile decodes and analyzes an audio file.
func (a *Analyzer) AnalyzeFile(ctx context.Context, path string) (*Result, error) {
	start := time.Now()

	result, err := a.analyzeFile(ctx, path)
	if err != nil {
		metrics.ObserveAnalysis(metrics.StatusError, "", time.Since(start))
		return nil, err
	}

	metrics.ObserveAnalysis(metrics.StatusOK, string(result.Mood), time.Since(start))
	a.log.Debug("analyzed file",
		zap.String("path", path),
		zap.Float64("bpm", result.BPM),
		zap.Int("beats", len(result.Beats)),
		zap.String("mood", string(result.Mood)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

func (a *Analyzer) analyzeFile(ctx context.Context, path string) (*Result, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}

	samples, sampleRate, err := LoadAudioMonoOptions(path, LoadOptions{TrimEncoderDelay: a.cfg.TrimEncoderDelay})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return a.AnalyzeSamples(ctx, samples, sampleRate)
}

// AnalyzeSamples analyzes mono samples at sampleRate.
func (a *Analyzer) AnalyzeSamples(ctx context.Context, samples []float32, sampleRate int) (*Result, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}

	if a.cfg.SampleRate > 0 && a.cfg.SampleRate != sampleRate {
		samples = Resample(samples, sampleRate, a.cfg.SampleRate)
		sampleRate = a.cfg.SampleRate
	}

	y := make([]float64, len(samples))
	for i, s := range samples {
		y[i] = float64(s)
	}
	duration := float64(len(y)) / float64(sampleRate)

	onsetCfg := DefaultOnsetConfig()
	onsetCfg.STFT = STFTConfig{FFTSize: a.cfg.FFTSize, HopSize: a.cfg.HopLength}
	onsetCfg.NumMels = a.cfg.NumMels
	onset := OnsetStrength(y, sampleRate, onsetCfg)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		tempo float64
		beats []int
	)
	if hasNonZero(onset) {
		tempoCfg := DefaultTempoConfig()
		tempoCfg.StartBPM = a.cfg.StartBPM
		tempo = EstimateTempo(onset, sampleRate, a.cfg.HopLength, tempoCfg)
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		framesPerSec := float64(sampleRate) / float64(a.cfg.HopLength)
		beats = TrackBeats(onset, tempo, framesPerSec, BeatConfig{
			Tightness: a.cfg.Tightness,
			Trim:      a.cfg.TrimBeats,
		})
	}

	energy := MeanRMS(y, a.cfg.FFTSize, a.cfg.HopLength)

	times := FramesToTime(beats, sampleRate, a.cfg.HopLength)
	for i, t := range times {
		times[i] = RoundTo(t, 3)
	}

	return &Result{
		BPM:      RoundTo(tempo, 1),
		Beats:    times,
		Duration: RoundTo(duration, 2),
		Energy:   RoundTo(energy, 4),
		Mood:     ClassifyMood(tempo),
		Tempo:    tempo,
	}, nil
}

// IsInputError reports whether err came from reading or decoding the input
// rather than from the analyzer itself.
func IsInputError(err error) bool {
	return errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrNoSamples) ||
		errors.Is(err, os.ErrNotExist)
}
