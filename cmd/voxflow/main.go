package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxflow/voxflow/internal/api"
	"github.com/voxflow/voxflow/internal/ari"
	"github.com/voxflow/voxflow/internal/assets"
	"github.com/voxflow/voxflow/internal/config"
	"github.com/voxflow/voxflow/internal/flow"
	"github.com/voxflow/voxflow/internal/metrics"
	"github.com/voxflow/voxflow/internal/tts"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	slog.Info("starting voxflow",
		"http_port", cfg.HTTPPort,
		"ari_url", cfg.ARIURL,
		"ari_app", cfg.ARIApp,
		"flow", cfg.FlowPath,
		"data_dir", cfg.DataDir,
	)

	// Load and validate the call flow. A partially valid graph must never
	// serve calls, so any load error is fatal.
	graph, err := flow.LoadFile(cfg.FlowPath)
	if err != nil {
		slog.Error("failed to load call flow", "error", err)
		os.Exit(1)
	}
	slog.Info("call flow loaded", "nodes", graph.Len(), "root", graph.Root().ID)

	// Open the asset store.
	store, err := assets.OpenStore(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open asset store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Speech pipeline: synthesis provider -> transcoder -> cache.
	synth := tts.NewClient(cfg.TTSURL, cfg.TTSTimeout, cfg.TTSRate, cfg.TTSBurst, logger)
	transcoder := tts.NewFFmpegTranscoder(cfg.FFmpegPath, logger)
	cache := assets.NewCache(synth, transcoder, store, cfg.TTSTimeout, logger)
	if err := cache.Hydrate(appCtx); err != nil {
		slog.Error("failed to hydrate asset cache", "error", err)
		os.Exit(1)
	}

	// Call-control client and flow engine.
	ariClient := ari.NewClient(cfg.ARIURL, cfg.ARIUsername, cfg.ARIPassword, cfg.ARIApp, logger)
	states := flow.NewStateTable()
	engine := flow.NewEngine(graph, states, cache, ariClient, logger)

	// Optionally materialize every prompt before the first call arrives.
	if cfg.Prewarm {
		go func() {
			if err := flow.Prewarm(appCtx, graph, cache, logger); err != nil {
				slog.Warn("prewarm aborted", "error", err)
			}
		}()
	}

	// Prometheus registry with the voxflow collector.
	startTime := time.Now()
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(&engineMetricsAdapter{engine: engine}, &cacheMetricsAdapter{cache: cache}, startTime),
	)
	metricsHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	// Admin/ops HTTP server.
	prewarm := func(ctx context.Context) error {
		return flow.Prewarm(ctx, graph, cache, logger)
	}
	apiServer := api.NewServer(states, cache, prewarm, metricsHandler, cfg.AdminToken)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      apiServer,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Consume telephony events until shutdown. Listen reconnects internally;
	// it only returns once appCtx is done.
	go func() {
		if err := ariClient.Listen(appCtx, func(ev flow.Event) {
			engine.HandleEvent(appCtx, ev)
		}); err != nil && appCtx.Err() == nil {
			slog.Error("event listener stopped", "error", err)
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	appCancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("voxflow stopped")
}

// engineMetricsAdapter exposes the flow engine to the metrics collector.
type engineMetricsAdapter struct {
	engine *flow.Engine
}

func (a *engineMetricsAdapter) GetActiveCallCount() int {
	return a.engine.GetActiveCallCount()
}

func (a *engineMetricsAdapter) GetCounters() metrics.EngineCounters {
	s := a.engine.GetStats()
	return metrics.EngineCounters{
		EventsHandled:    s.EventsHandled,
		Playbacks:        s.Playbacks,
		PlaybackFailures: s.PlaybackFailures,
		SynthFailures:    s.SynthFailures,
		InvalidDigits:    s.InvalidDigits,
	}
}

// cacheMetricsAdapter exposes the asset cache to the metrics collector.
type cacheMetricsAdapter struct {
	cache *assets.Cache
}

func (a *cacheMetricsAdapter) GetCacheCounts() metrics.CacheCounts {
	s := a.cache.Stats()
	return metrics.CacheCounts{
		Ready:     s.Ready,
		Pending:   s.Pending,
		Failed:    s.Failed,
		Syntheses: s.Syntheses,
		Failures:  s.Failures,
	}
}
