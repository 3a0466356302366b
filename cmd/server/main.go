package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lexiqai/reader-voice/internal/config"
	"github.com/lexiqai/reader-voice/internal/document"
	"github.com/lexiqai/reader-voice/internal/observability"
	"github.com/lexiqai/reader-voice/internal/session"
	"github.com/lexiqai/reader-voice/internal/speech"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("media_base_url", cfg.MediaBaseURL).
		Str("synthesis_url", cfg.SynthesisURL()).
		Int("cache_max_entries", cfg.SpeechCacheMaxEntries).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Reader voice service starting")

	// Speech pipeline shared by all sessions: client -> cache -> resolver
	httpClient := &http.Client{}
	synthClient := speech.NewClient(cfg, httpClient, observability.Component("synthesis"))
	cache := speech.NewCache(synthClient, cfg.SpeechCacheMaxEntries, observability.Component("speech_cache"))
	resolver := speech.NewResolver(cfg.MediaBaseURL, cache, speech.Request{
		Language: cfg.SynthesisLanguage,
		Voice:    cfg.SynthesisVoice,
		Speed:    cfg.SynthesisSpeed,
	}, observability.Component("resolver"))

	documents := document.NewSource(cfg.APIBaseURL, cfg.DocumentPageSize, httpClient, observability.Component("documents"))

	// Create HTTP server
	mux := http.NewServeMux()

	// Reader UI WebSocket
	mux.HandleFunc("/streams/reader", session.HandleReaderWS(session.Deps{
		Resolver:            resolver,
		Prefetcher:          cache,
		PrefetchAhead:       cfg.PrefetchAhead,
		PrefetchConcurrency: cfg.PrefetchConcurrency,
		MediaOpenTimeout:    cfg.MediaOpenTimeoutDuration(),
	}))

	mux.HandleFunc("/api/documents", document.ListHandler(documents))

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness: the backend API and the media host must answer
	probe := &http.Client{Timeout: 5 * time.Second}
	checks := []observability.DependencyCheck{
		{Name: "api", Check: observability.HTTPReachable(probe, cfg.APIBaseURL)},
	}
	if cfg.MediaBaseURL != cfg.APIBaseURL {
		checks = append(checks, observability.DependencyCheck{
			Name:  "media",
			Check: observability.HTTPReachable(probe, cfg.MediaBaseURL),
		})
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks...))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// WriteTimeout is left unset so long-lived WebSocket sessions are not cut off
	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/streams/reader", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("Server stopped with error")
	}

	stats := cache.Stats()
	logger.Info().
		Int("cache_entries", stats.Entries).
		Int64("cache_hits", stats.Hits).
		Int64("cache_misses", stats.Misses).
		Msg("Server exited gracefully")
}
