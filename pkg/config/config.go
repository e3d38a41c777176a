// Package config provides configuration with support for defaults,
// BEATDETECT_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/nzoschke/beatdetect/pkg/analysis"
	"github.com/nzoschke/beatdetect/pkg/logging"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "BEATDETECT_"

// Config holds the application configuration.
type Config struct {
	Analysis analysis.Config
	Logger   LoggerConfig
	Server   ServerConfig
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level  string // debug, info, warn, error (default: warn)
	Format string // console or json (default: console)
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Addr            string        // Listen address (default: :8080)
	LibraryDir      string        // Music library root (default: music)
	MaxUploadMB     int           // Upload size limit for /api/analyze (default: 100)
	ShutdownTimeout time.Duration // Graceful shutdown budget (default: 10s)
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Analysis: analysis.DefaultConfig(),
		Logger: LoggerConfig{
			Level:  "warn",
			Format: logging.FormatConsole,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			LibraryDir:      "music",
			MaxUploadMB:     100,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// ApplyEnv overrides fields from BEATDETECT_* variables found by lookup,
// usually os.LookupEnv. Empty values are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(EnvPrefix + key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	var errs []error
	setString := func(key string, dst *string) {
		if v, ok := get(key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, key, v, err))
				return
			}
			*dst = n
		}
	}
	setFloat := func(key string, dst *float64) {
		if v, ok := get(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, key, v, err))
				return
			}
			*dst = f
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := get(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, key, v, err))
				return
			}
			*dst = b
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v, ok := get(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, key, v, err))
				return
			}
			*dst = d
		}
	}

	setInt("SAMPLE_RATE", &c.Analysis.SampleRate)
	setInt("N_FFT", &c.Analysis.FFTSize)
	setInt("HOP_LENGTH", &c.Analysis.HopLength)
	setInt("N_MELS", &c.Analysis.NumMels)
	setFloat("START_BPM", &c.Analysis.StartBPM)
	setFloat("TIGHTNESS", &c.Analysis.Tightness)
	setBool("TRIM_BEATS", &c.Analysis.TrimBeats)
	setBool("TRIM_ENCODER_DELAY", &c.Analysis.TrimEncoderDelay)
	setInt("WORKERS", &c.Analysis.Workers)

	setString("LOG_LEVEL", &c.Logger.Level)
	setString("LOG_FORMAT", &c.Logger.Format)

	setString("ADDR", &c.Server.Addr)
	setString("LIBRARY", &c.Server.LibraryDir)
	setInt("MAX_UPLOAD_MB", &c.Server.MaxUploadMB)
	setDuration("SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)

	return errors.Join(errs...)
}

// BindFlags registers the analysis and logging flags on fs. The current
// field values become the flag defaults, so call it after ApplyEnv.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.IntVar(&c.Analysis.SampleRate, "sample-rate", c.Analysis.SampleRate, "Resample to this rate before analysis (0 keeps the native rate)")
	fs.IntVar(&c.Analysis.FFTSize, "n-fft", c.Analysis.FFTSize, "STFT window size in samples")
	fs.IntVar(&c.Analysis.HopLength, "hop-length", c.Analysis.HopLength, "Samples between analysis frames")
	fs.IntVar(&c.Analysis.NumMels, "n-mels", c.Analysis.NumMels, "Mel bands for onset detection")
	fs.Float64Var(&c.Analysis.StartBPM, "start-bpm", c.Analysis.StartBPM, "Center of the tempo prior")
	fs.Float64Var(&c.Analysis.Tightness, "tightness", c.Analysis.Tightness, "How strictly beats follow the tempo")
	fs.BoolVar(&c.Analysis.TrimBeats, "trim-beats", c.Analysis.TrimBeats, "Drop weak leading and trailing beats")
	fs.BoolVar(&c.Analysis.TrimEncoderDelay, "trim-encoder-delay", c.Analysis.TrimEncoderDelay, "Drop MP3 encoder priming samples")
	fs.IntVar(&c.Analysis.Workers, "workers", c.Analysis.Workers, "Concurrent analyses in batch mode (0 picks from CPU count)")
	fs.StringVar(&c.Logger.Level, "log-level", c.Logger.Level, "Log level (debug, info, warn, error)")
	fs.StringVar(&c.Logger.Format, "log-format", c.Logger.Format, "Log format (console, json)")
}

// BindServerFlags registers the server flags on fs.
func (c *Config) BindServerFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Server.Addr, "addr", c.Server.Addr, "Listen address")
	fs.StringVar(&c.Server.LibraryDir, "library", c.Server.LibraryDir, "Music library directory")
	fs.IntVar(&c.Server.MaxUploadMB, "max-upload-mb", c.Server.MaxUploadMB, "Upload size limit in megabytes")
	fs.DurationVar(&c.Server.ShutdownTimeout, "shutdown-timeout", c.Server.ShutdownTimeout, "Graceful shutdown timeout")
}

// Validate checks that all config values are usable.
func (c *Config) Validate() error {
	if err := c.Analysis.Validate(); err != nil {
		return err
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	switch c.Logger.Format {
	case logging.FormatConsole, logging.FormatJSON:
	default:
		return fmt.Errorf("invalid log format: %s (must be console or json)", c.Logger.Format)
	}

	if c.Server.Addr == "" {
		return errors.New("server address cannot be empty")
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("max upload must be positive, got %d", c.Server.MaxUploadMB)
	}
	return nil
}
