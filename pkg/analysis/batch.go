package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"go.uber.org/zap"
)

// BatchOptions controls AnalyzeDir.
type BatchOptions struct {
	// Force re-analyzes files that already have a JSON sidecar.
	Force bool
	// Workers overrides Config.Workers when positive.
	Workers int
	// Progress receives the progress bar. Nil disables it.
	Progress io.Writer
}

// BatchSummary counts what AnalyzeDir did.
type BatchSummary struct {
	Analyzed int `json:"analyzed"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

// SidecarPath returns the JSON sidecar path for an audio file.
func SidecarPath(audioPath string) string {
	return strings.TrimSuffix(audioPath, filepath.Ext(audioPath)) + ".json"
}

// AnalyzeDir recursively analyzes all audio files in a directory.
// For each audio file, it creates a corresponding .json sidecar file holding
// either the Result or an ErrorResult. Existing sidecars are kept unless
// opts.Force is set. A failing file does not stop the walk.
func (a *Analyzer) AnalyzeDir(ctx context.Context, dir string, opts BatchOptions) (BatchSummary, error) {
	var summary BatchSummary

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsSupportedAudio(filepath.Ext(path)) {
			return nil
		}

		if !opts.Force {
			if _, err := os.Stat(SidecarPath(path)); err == nil {
				a.log.Info("skipping, already analyzed", zap.String("path", path))
				summary.Skipped++
				return nil
			}
		}

		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return summary, fmt.Errorf("walk %s: %w", dir, err)
	}
	if len(paths) == 0 {
		return summary, nil
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = a.cfg.Workers
	}
	if workers <= 0 {
		workers = max(runtime.NumCPU()-1, 2)
	}
	workers = min(workers, len(paths))

	if err := ctx.Err(); err != nil {
		return summary, err
	}

	// Cancellation aborts the bar below. A context-bound container would
	// shut down before the bar is added.
	p := mpb.New(mpb.WithOutput(opts.Progress), mpb.WithWidth(64))
	bar := p.AddBar(int64(len(paths)),
		mpb.PrependDecorators(
			decor.Name("Analyzing: "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.EwmaETA(decor.ET_STYLE_GO, 30),
		),
	)

	jobs := make(chan string)
	results := make(chan error, len(paths))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				results <- a.analyzeToSidecar(ctx, path)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, path := range paths {
			select {
			case jobs <- path:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for err := range results {
		switch {
		case err == nil:
			summary.Analyzed++
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		default:
			summary.Failed++
		}
		bar.Increment()
	}

	if err := ctx.Err(); err != nil {
		bar.Abort(false)
		p.Wait()
		return summary, err
	}
	p.Wait()

	a.log.Info("batch complete",
		zap.String("dir", dir),
		zap.Int("analyzed", summary.Analyzed),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
	)
	return summary, nil
}

// analyzeToSidecar analyzes one file and writes its sidecar. Analysis
// failures are written as an ErrorResult and returned. Cancellation writes
// nothing.
func (a *Analyzer) analyzeToSidecar(ctx context.Context, path string) error {
	jsonPath := SidecarPath(path)

	result, err := a.AnalyzeFile(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.log.Warn("analysis failed", zap.String("path", path), zap.Error(err))
		if werr := writeJSONFile(jsonPath, NewErrorResult(err)); werr != nil {
			return errors.Join(err, werr)
		}
		return err
	}

	if err := result.WriteJSON(jsonPath); err != nil {
		a.log.Error("write sidecar", zap.String("path", jsonPath), zap.Error(err))
		return err
	}
	return nil
}
