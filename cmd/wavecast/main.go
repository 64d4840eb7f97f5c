// Command wavecast captures raw PCM audio from a file or stdin and runs it
// through the streaming pipeline into a WAV file, an Ogg/Opus file, or an
// RTP stream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/justivo/wavecast/internal/capture"
	"github.com/justivo/wavecast/internal/config"
	"github.com/justivo/wavecast/internal/health"
	"github.com/justivo/wavecast/internal/observe"
	"github.com/justivo/wavecast/internal/pipeline"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	inputPath := flag.String("input", "-", `raw S16LE PCM input file, or "-" for stdin`)
	duration := flag.Duration("duration", 0, "stop capturing after this long (0 = until EOF or signal)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "wavecast: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "wavecast: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("wavecast starting",
		"config", *configPath,
		"input", *inputPath,
		"sink", cfg.Sink.Kind,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Input ─────────────────────────────────────────────────────────────────
	input, err := openInput(*inputPath)
	if err != nil {
		slog.Error("failed to open input", "err", err)
		return 1
	}
	defer input.Close()

	// ── Pipeline ──────────────────────────────────────────────────────────────
	ctrl := pipeline.New(pipeline.WithMetrics(observe.DefaultMetrics()))
	if err := ctrl.Initialize(pipeline.Config{
		SampleRate: cfg.Session.SampleRate,
		Channels:   cfg.Session.Channels,
		BitrateBps: cfg.Session.BitrateBps,
		Sink: pipeline.Sink{
			Kind:     pipeline.SinkKind(cfg.Sink.Kind),
			Channels: cfg.Sink.Channels,
			Path:     cfg.Sink.Path,
			Host:     cfg.Sink.Host,
			Port:     cfg.Sink.Port,
		},
	}); err != nil {
		slog.Error("failed to initialise pipeline", "err", err)
		return 1
	}
	defer ctrl.Stop()

	if err := ctrl.Start(); err != nil {
		slog.Error("failed to start pipeline", "err", err)
		return 1
	}

	// ── Capture loop ──────────────────────────────────────────────────────────
	src := capture.NewReaderSource(input)
	loop, err := capture.NewLoop(capture.Config{
		Source:      src,
		Pusher:      ctrl,
		TeePath:     cfg.Capture.TeePath,
		SampleRate:  cfg.Session.SampleRate,
		Channels:    cfg.Session.Channels,
		BufferBytes: bufferBytes(cfg),
	})
	if err != nil {
		slog.Error("failed to create capture loop", "err", err)
		return 1
	}

	// End-of-input must release the watcher goroutines below, so the capture
	// loop cancels runCtx on every exit, clean or not.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancelRun()
		return loop.Run()
	})
	g.Go(func() error {
		<-gctx.Done()
		src.StopRecording()
		loop.Stop()
		return nil
	})

	if cfg.Server.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: serviceMux(ctrl)}
		g.Go(func() error {
			slog.Info("metrics endpoint listening", "addr", cfg.Server.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	slog.Info("capturing — press Ctrl+C to stop")

	runErr := g.Wait()
	stop()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	ctrl.Stop()
	if lastErr := ctrl.LastError(); lastErr != "" {
		slog.Warn("pipeline reported a problem during the session", "err", lastErr)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// bufferBytes resolves the capture read size: configured value, or 100 ms of
// audio when unset.
func bufferBytes(cfg *config.Config) int {
	if cfg.Capture.BufferBytes > 0 {
		return cfg.Capture.BufferBytes
	}
	return cfg.Session.SampleRate * cfg.Session.Channels * 2 / 10
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	return f, nil
}

// serviceMux serves the Prometheus scrape endpoint plus liveness and
// readiness probes tied to the pipeline state.
func serviceMux(ctrl *pipeline.Controller) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	health.New(health.PipelineChecker(ctrl.Active, ctrl.LastError)).Register(mux)
	return mux
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
