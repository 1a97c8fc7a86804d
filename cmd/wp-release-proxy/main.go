// Command wp-release-proxy serves WordPress plugin and theme release
// metadata and ZIP artifacts resolved from GitHub releases, with layered
// caching in front of the origin.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/wolfeidau/wp-release-proxy/server"
	"github.com/wolfeidau/wp-release-proxy/telemetry"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Parse flags
	var (
		address        = flag.String("address", ":8080", "Address to listen on")
		storage        = flag.String("storage", "./data", "Storage directory path")
		githubAPI      = flag.String("github-api", "", "GitHub release API URL (default: api.github.com)")
		githubRaw      = flag.String("github-raw", "", "GitHub raw content URL (default: raw.githubusercontent.com)")
		githubUsername = flag.String("github-username", os.Getenv("GITHUB_USERNAME"), "GitHub username for origin authentication")
		githubToken    = flag.String("github-token", os.Getenv("GITHUB_TOKEN"), "GitHub token for origin authentication")
		userAgent      = flag.String("user-agent", "", "User-Agent sent on origin calls")
		metadataTTL    = flag.Duration("metadata-ttl", 4*time.Hour, "TTL for cached release lookups")
		edgeTTL        = flag.Duration("edge-ttl", time.Hour, "TTL for cached full responses")
		artifactRetain = flag.Int("artifact-retain", 5, "Artifact versions to keep per package")
		reaperInterval = flag.Duration("reaper-interval", 5*time.Minute, "How often to reclaim expired metadata")
		redisAddr      = flag.String("redis-addr", "", "Redis address for shared cache tiers (optional)")
		redisPassword  = flag.String("redis-password", os.Getenv("REDIS_PASSWORD"), "Redis password")
		otlpEndpoint   = flag.String("otlp-endpoint", "", "OTLP gRPC endpoint for metrics export (optional)")
		prometheus     = flag.Bool("prometheus", true, "Enable the Prometheus /metrics endpoint")
		logLevel       = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		logFormat      = flag.String("log-format", "text", "Log format (text, json)")
	)
	flag.Parse()

	// Setup logger
	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level: %s", *logLevel)
	}

	var handler slog.Handler
	switch *logFormat {
	case "text":
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	default:
		return fmt.Errorf("invalid log format: %s", *logFormat)
	}
	logger := slog.New(handler)

	// Setup metrics
	shutdownMetrics, err := telemetry.InitMetrics(context.Background(), telemetry.MetricsConfig{
		ServiceName:      "wp-release-proxy",
		ServiceVersion:   version,
		OTLPEndpoint:     *otlpEndpoint,
		EnablePrometheus: *prometheus,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	// Create server
	cfg := server.Config{
		Address:        *address,
		StoragePath:    *storage,
		GitHubAPIURL:   *githubAPI,
		GitHubRawURL:   *githubRaw,
		GitHubUsername: *githubUsername,
		GitHubToken:    *githubToken,
		UserAgent:      *userAgent,
		MetadataTTL:    *metadataTTL,
		EdgeTTL:        *edgeTTL,
		ArtifactRetain: *artifactRetain,
		ReaperInterval: *reaperInterval,
		RedisAddr:      *redisAddr,
		RedisPassword:  *redisPassword,
		Logger:         logger,
	}

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Handle shutdown signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	logger.Info("server started",
		"address", srv.Address(),
		"version", version,
		"metadata_url", fmt.Sprintf("http://localhost%s/plugins/{vendor}/{package}", srv.Address()),
		"download_url", fmt.Sprintf("http://localhost%s/plugins/{vendor}/{package}/download", srv.Address()),
	)

	// Wait for shutdown or error
	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		err := srv.Shutdown(shutdownCtx)
		if merr := shutdownMetrics(shutdownCtx); merr != nil && err == nil {
			err = merr
		}
		return err
	case err := <-errCh:
		return err
	}
}
