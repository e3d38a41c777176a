// Package server provides the Echo web server for browsing and analyzing the
// music library.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nzoschke/beatdetect/pkg/analysis"
	"github.com/nzoschke/beatdetect/pkg/config"
	"github.com/nzoschke/beatdetect/pkg/metrics"
)

// Track represents a track in the music library.
type Track struct {
	Name     string         `json:"name"`
	Path     string         `json:"path"`
	HasJSON  bool           `json:"has_json"`
	JSONPath string         `json:"json_path,omitempty"`
	BPM      analysis.Float `json:"bpm,omitempty"`
	Mood     analysis.Mood  `json:"mood,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// sidecar is the subset of a JSON sidecar the listing reports.
type sidecar struct {
	BPM   float64       `json:"bpm"`
	Mood  analysis.Mood `json:"mood"`
	Error string        `json:"error"`
}

// Server serves the library and the analysis API.
type Server struct {
	cfg      config.ServerConfig
	analyzer *analysis.Analyzer
	log      *zap.Logger
	echo     *echo.Echo
}

// New creates a Server and registers its routes.
func New(cfg config.ServerConfig, analyzer *analysis.Analyzer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	metrics.Register()

	s := &Server{cfg: cfg, analyzer: analyzer, log: log}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogMethod:  true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			metrics.HTTPRequests.WithLabelValues(route, v.Method, fmt.Sprint(v.Status)).Inc()

			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			s.log.Info("request", fields...)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", cfg.MaxUploadMB)))

	// Routes
	e.GET("/healthz", s.healthz)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/api/tracks", s.listTracks)
	e.GET("/api/tracks/*", s.serveTrack)
	e.POST("/api/analyze", s.analyzeUpload)

	s.echo = e
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run starts the web server and shuts it down gracefully when ctx is done.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", s.cfg.Addr), zap.String("library", s.cfg.LibraryDir))
		errCh <- s.echo.Start(s.cfg.Addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("start server: %w", err)
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.log.Info("shutting down")
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	return nil
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// listTracks returns all tracks in the library, optionally filtered by mood
// and an inclusive min_bpm/max_bpm range. A BPM filter skips tracks without
// an analysis.
func (s *Server) listTracks(c echo.Context) error {
	var want analysis.Mood
	if q := c.QueryParam("mood"); q != "" {
		m, err := analysis.ParseMood(q)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		want = m
	}

	minBPM, maxBPM := 0.0, math.Inf(1)
	err := echo.QueryParamsBinder(c).
		Float64("min_bpm", &minBPM).
		Float64("max_bpm", &maxBPM).
		BindError()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if minBPM > maxBPM {
		return echo.NewHTTPError(http.StatusBadRequest, "min_bpm is greater than max_bpm")
	}
	byBPM := c.QueryParam("min_bpm") != "" || c.QueryParam("max_bpm") != ""

	root := s.cfg.LibraryDir
	tracks := []Track{}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if !analysis.IsSupportedAudio(ext) {
			return nil
		}

		// Convert path to URL path (relative to the library)
		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		jsonPath := analysis.SidecarPath(path)

		track := Track{
			Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			Path: filepath.ToSlash(relPath),
		}

		if data, err := os.ReadFile(jsonPath); err == nil {
			track.HasJSON = true
			track.JSONPath = filepath.ToSlash(analysis.SidecarPath(relPath))

			var sc sidecar
			if err := json.Unmarshal(data, &sc); err != nil {
				track.Error = "invalid JSON"
			} else {
				track.BPM = analysis.Float(sc.BPM)
				track.Mood = sc.Mood
				track.Error = sc.Error
			}
		}

		if want != "" && track.Mood != want {
			return nil
		}
		if byBPM {
			bpm := float64(track.BPM)
			if !track.HasJSON || track.Error != "" || bpm < minBPM || bpm > maxBPM {
				return nil
			}
		}
		tracks = append(tracks, track)
		return nil
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, tracks)
}

// serveTrack serves audio files and JSON analysis files from the library.
func (s *Server) serveTrack(c echo.Context) error {
	decodedPath, err := url.PathUnescape(c.Param("*"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid path encoding")
	}

	fullPath, ok := s.libraryPath(decodedPath)
	if !ok {
		return echo.NewHTTPError(http.StatusForbidden, "invalid path")
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "file not found")
	}
	if info.IsDir() {
		return echo.NewHTTPError(http.StatusForbidden, "cannot serve directory")
	}

	// Only serve allowed file types
	ext := strings.ToLower(filepath.Ext(decodedPath))
	if analysis.IsSupportedAudio(ext) {
		return c.File(fullPath)
	}
	if ext == ".json" {
		data, err := os.ReadFile(fullPath)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if !json.Valid(data) {
			return echo.NewHTTPError(http.StatusInternalServerError, "invalid JSON")
		}
		return c.JSONBlob(http.StatusOK, data)
	}
	return echo.NewHTTPError(http.StatusForbidden, "file type not allowed")
}

// libraryPath resolves a request path inside the library root. It rejects
// any path that would escape the root.
func (s *Server) libraryPath(rel string) (string, bool) {
	if strings.Contains(rel, "..") || filepath.IsAbs(rel) {
		return "", false
	}

	root := filepath.Clean(s.cfg.LibraryDir)
	full := filepath.Join(root, filepath.FromSlash(rel))

	r, err := filepath.Rel(root, full)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", false
	}
	return full, true
}

// analyzeUpload analyzes a multipart upload in the "file" field.
func (s *Server) analyzeUpload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "missing file upload")
	}

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !analysis.IsSupportedAudio(ext) {
		err := fmt.Errorf("%w: %s", analysis.ErrUnsupportedFormat, ext)
		return c.JSON(http.StatusUnprocessableEntity, analysis.NewErrorResult(err))
	}

	path, err := saveUpload(fh, ext)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer os.Remove(path)

	result, err := s.analyzer.AnalyzeFile(c.Request().Context(), path)
	if err != nil {
		s.log.Warn("upload analysis failed", zap.String("filename", fh.Filename), zap.Error(err))
		return c.JSON(http.StatusUnprocessableEntity, analysis.NewErrorResult(err))
	}
	return c.JSON(http.StatusOK, result)
}

// saveUpload copies an upload to a temp file that keeps its extension, since
// decoders are chosen by extension.
func saveUpload(fh *multipart.FileHeader, ext string) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "beatdetect-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("save upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("save upload: %w", err)
	}
	return tmp.Name(), nil
}
