// CLI for tempo, beat, energy and mood analysis of audio files.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nzoschke/beatdetect/pkg/analysis"
	"github.com/nzoschke/beatdetect/pkg/config"
	"github.com/nzoschke/beatdetect/pkg/logging"
	"github.com/nzoschke/beatdetect/pkg/server"
)

var errUsage = errors.New("Usage: beatdetect <audio_file>")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Getenv, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the CLI and returns the process exit code. Analysis failures
// are reported as {"error": ...} on stdout with status 0. Missing arguments,
// bad flags and invalid configuration exit 1.
func run(ctx context.Context, args []string, getenv func(string) string, stdout, stderr io.Writer) int {
	cfg := config.Default()
	lookup := func(k string) (string, bool) {
		v := getenv(k)
		return v, v != ""
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		analysis.Encode(stdout, analysis.NewErrorResult(err))
		return 1
	}

	app := &cli{cfg: &cfg, stdout: stdout, stderr: stderr, log: zap.NewNop()}
	rootCmd := app.rootCommand()
	if len(args) > 0 && shadowsCommand(rootCmd, args[0]) {
		args = append([]string{"--"}, args...)
	}
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stderr)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	app.log.Sync()
	switch {
	case errors.Is(err, errUsage):
		printUsageError(stdout)
		return 1
	case err != nil:
		analysis.Encode(stdout, analysis.NewErrorResult(err))
		return 1
	}
	return 0
}

// shadowsCommand reports whether arg is an existing file whose name would
// otherwise parse as a subcommand or flag.
func shadowsCommand(root *cobra.Command, arg string) bool {
	info, err := os.Stat(arg)
	if err != nil || info.IsDir() {
		return false
	}
	if strings.HasPrefix(arg, "-") || arg == "help" {
		return true
	}
	for _, cmd := range root.Commands() {
		if cmd.Name() == arg || cmd.HasAlias(arg) {
			return true
		}
	}
	return false
}

// printUsageError writes the usage error on a single line.
func printUsageError(w io.Writer) {
	var msg bytes.Buffer
	enc := json.NewEncoder(&msg)
	enc.SetEscapeHTML(false)
	enc.Encode(errUsage.Error())
	fmt.Fprintf(w, "{\"error\": %s}\n", bytes.TrimSpace(msg.Bytes()))
}

type cli struct {
	cfg      *config.Config
	stdout   io.Writer
	stderr   io.Writer
	log      *zap.Logger
	analyzer *analysis.Analyzer
}

func (c *cli) rootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "beatdetect <audio_file>",
		Short: "Tempo, beat, energy and mood analysis",
		Long: `Analyze an audio file and print its tempo, beat times, duration,
energy and mood as JSON on stdout. Supports MP3, WAV, FLAC and Ogg Vorbis.

Use "beatdetect [flags] -- <audio_file>" for a file named like a
subcommand or starting with "-".`,
		Args:              cobra.ArbitraryArgs,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return errUsage
			}
			return c.runAnalyze(cmd.Context(), args[0])
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	c.cfg.BindFlags(rootCmd.PersistentFlags())

	batchCmd := &cobra.Command{
		Use:   "batch <directory>",
		Short: "Analyze audio files and create JSON sidecars",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			return c.runBatch(cmd.Context(), args[0], force)
		},
	}
	batchCmd.Flags().BoolP("force", "f", false, "Force re-analysis even if JSON exists")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the library and analysis web server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return server.New(c.cfg.Server, c.analyzer, c.log).Run(cmd.Context())
		},
	}
	c.cfg.BindServerFlags(serveCmd.Flags())

	cutsCmd := &cobra.Command{
		Use:   "cuts <audio_file>",
		Short: "Suggest beat-aligned cut points",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var at *float64
			if cmd.Flags().Changed("at") {
				v, _ := cmd.Flags().GetFloat64("at")
				at = &v
			}
			return c.runCuts(cmd.Context(), args[0], at)
		},
	}
	cutsCmd.Flags().Float64("at", 0, "Print the beat nearest to this time in seconds")

	rootCmd.AddCommand(batchCmd, serveCmd, cutsCmd)
	return rootCmd
}

// setup validates configuration and builds the logger and analyzer once
// flags are parsed.
func (c *cli) setup(cmd *cobra.Command, args []string) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(c.cfg.Logger.Level, c.cfg.Logger.Format)
	if err != nil {
		return err
	}
	c.log = log

	analyzer, err := analysis.New(c.cfg.Analysis, log)
	if err != nil {
		return fmt.Errorf("create analyzer: %w", err)
	}
	c.analyzer = analyzer
	return nil
}

// runAnalyze prints the analysis of one file. Analysis errors are written as
// an error document and do not fail the command.
func (c *cli) runAnalyze(ctx context.Context, path string) error {
	result, err := c.analyzer.AnalyzeFile(ctx, path)
	if err != nil {
		c.log.Debug("analysis failed", zap.String("path", path), zap.Error(err))
		return analysis.Encode(c.stdout, analysis.NewErrorResult(err))
	}
	return analysis.Encode(c.stdout, result)
}

func (c *cli) runBatch(ctx context.Context, dir string, force bool) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	summary, err := c.analyzer.AnalyzeDir(ctx, dir, analysis.BatchOptions{
		Force:    force,
		Progress: c.stderr,
	})
	if err != nil {
		return err
	}
	return analysis.Encode(c.stdout, summary)
}

type nearestBeat struct {
	At   analysis.Float `json:"at"`
	Beat analysis.Float `json:"beat"`
}

type cutsOut struct {
	BPM  analysis.Float      `json:"bpm"`
	Cuts []analysis.CuePoint `json:"cuts"`
}

func (c *cli) runCuts(ctx context.Context, path string, at *float64) error {
	result, err := c.analyzer.AnalyzeFile(ctx, path)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return analysis.Encode(c.stdout, analysis.NewErrorResult(err))
	}

	if at != nil {
		return analysis.Encode(c.stdout, nearestBeat{
			At:   analysis.Float(*at),
			Beat: analysis.Float(analysis.NearestBeat(result.Beats, *at)),
		})
	}
	return analysis.Encode(c.stdout, cutsOut{
		BPM:  analysis.Float(result.BPM),
		Cuts: analysis.CuePoints(result),
	})
}
