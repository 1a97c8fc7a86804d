// Package server provides the HTTP server for the release proxy.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wolfeidau/wp-release-proxy/protocol/wordpress"
	"github.com/wolfeidau/wp-release-proxy/store"
	"github.com/wolfeidau/wp-release-proxy/store/artifacts"
	"github.com/wolfeidau/wp-release-proxy/store/edgecache"
	"github.com/wolfeidau/wp-release-proxy/store/metadb"
	"github.com/wolfeidau/wp-release-proxy/store/rediscache"
	"github.com/wolfeidau/wp-release-proxy/telemetry"
)

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// StoragePath is the root path for the metadata database and artifacts
	StoragePath string

	// GitHubAPIURL is the release API endpoint (default: api.github.com)
	GitHubAPIURL string

	// GitHubRawURL is the raw content endpoint (default: raw.githubusercontent.com)
	GitHubRawURL string

	// GitHubUsername for origin authentication (optional)
	GitHubUsername string

	// GitHubToken for origin authentication (optional)
	GitHubToken string

	// UserAgent sent on origin calls (optional)
	UserAgent string

	// MetadataTTL is how long resolved lookups stay fresh.
	// Default: 4 hours.
	MetadataTTL time.Duration

	// EdgeTTL is how long full responses stay cached.
	// Default: 1 hour.
	EdgeTTL time.Duration

	// ArtifactRetain is how many artifact versions to keep per package.
	// Default: 5.
	ArtifactRetain int

	// ReaperInterval is how often expired metadata is reclaimed.
	// Default: 5 minutes. Ignored when Redis is used.
	ReaperInterval time.Duration

	// RedisAddr enables the Redis cache tiers instead of the local
	// metadata database, for deployments sharing cache state across
	// replicas (optional).
	RedisAddr string

	// RedisPassword for Redis authentication (optional)
	RedisPassword string

	// Logger for the server
	Logger *slog.Logger
}

// Server is the HTTP server for the release proxy.
type Server struct {
	config     Config
	httpServer *http.Server
	logger     *slog.Logger

	// Components
	db          *metadb.DB
	redisClient *redis.Client
	reaper      *metadb.Reaper
	reaperStop  context.CancelFunc
	artifacts   *artifacts.Store
	lookupDocs  store.DocumentStore
	edgeDocs    store.DocumentStore
	wp          *wordpress.Handler
}

// New creates a new server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
	if cfg.StoragePath == "" {
		cfg.StoragePath = "./data"
	}
	if cfg.MetadataTTL == 0 {
		cfg.MetadataTTL = wordpress.DefaultMetadataTTL
	}
	if cfg.EdgeTTL == 0 {
		cfg.EdgeTTL = edgecache.DefaultTTL
	}
	if cfg.ArtifactRetain == 0 {
		cfg.ArtifactRetain = wordpress.DefaultArtifactRetain
	}

	s := &Server{
		config: cfg,
		logger: cfg.Logger,
	}

	// Cache tiers: Redis when shared state across replicas is wanted,
	// otherwise the local bbolt metadata database.
	var lookupDocs, edgeDocs store.DocumentStore
	if cfg.RedisAddr != "" {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		lookupDocs = rediscache.New(s.redisClient, "lookup", rediscache.WithDefaultTTL(cfg.MetadataTTL))
		edgeDocs = rediscache.New(s.redisClient, "edge", rediscache.WithDefaultTTL(cfg.EdgeTTL))
	} else {
		db, err := metadb.Open(filepath.Join(cfg.StoragePath, "meta.db"),
			metadb.WithLogger(cfg.Logger.With("component", "metadb")))
		if err != nil {
			return nil, fmt.Errorf("opening metadata database: %w", err)
		}
		s.db = db
		lookupDocs = db.Index("lookup", cfg.MetadataTTL)
		edgeDocs = db.Index("edge", cfg.EdgeTTL)

		reaperOpts := []metadb.ReaperOption{
			metadb.WithReaperLogger(cfg.Logger.With("component", "reaper")),
		}
		if cfg.ReaperInterval > 0 {
			reaperOpts = append(reaperOpts, metadb.WithReaperInterval(cfg.ReaperInterval))
		}
		s.reaper = metadb.NewReaper(db, reaperOpts...)
	}
	s.lookupDocs = lookupDocs
	s.edgeDocs = edgeDocs

	artifactStore, err := artifacts.New(filepath.Join(cfg.StoragePath, "artifacts"),
		artifacts.WithLogger(cfg.Logger))
	if err != nil {
		if s.db != nil {
			_ = s.db.Close()
		}
		return nil, fmt.Errorf("creating artifact store: %w", err)
	}
	s.artifacts = artifactStore

	upstreamOpts := []wordpress.UpstreamOption{
		wordpress.WithUpstreamLogger(cfg.Logger),
	}
	if cfg.GitHubAPIURL != "" {
		upstreamOpts = append(upstreamOpts, wordpress.WithAPIURL(cfg.GitHubAPIURL))
	}
	if cfg.GitHubRawURL != "" {
		upstreamOpts = append(upstreamOpts, wordpress.WithRawURL(cfg.GitHubRawURL))
	}
	if cfg.GitHubUsername != "" || cfg.GitHubToken != "" {
		upstreamOpts = append(upstreamOpts, wordpress.WithBasicAuth(cfg.GitHubUsername, cfg.GitHubToken))
	}
	if cfg.UserAgent != "" {
		upstreamOpts = append(upstreamOpts, wordpress.WithUserAgent(cfg.UserAgent))
	}

	s.wp = wordpress.NewHandler(
		wordpress.NewIndex(lookupDocs, wordpress.WithIndexTTL(cfg.MetadataTTL)),
		edgecache.New(edgeDocs, edgecache.WithTTL(cfg.EdgeTTL), edgecache.WithLogger(cfg.Logger)),
		artifactStore,
		wordpress.WithUpstream(wordpress.NewUpstream(upstreamOpts...)),
		wordpress.WithLogger(cfg.Logger),
		wordpress.WithArtifactRetain(cfg.ArtifactRetain),
	)

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.loggingMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // Long timeout for large zip downloads
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Health check
	mux.HandleFunc("GET /health", s.handleHealth)

	// Artifact store and cache tier stats
	mux.HandleFunc("GET /stats", s.handleStats)

	// Prometheus metrics endpoint (returns 404 if not enabled)
	mux.Handle("GET /metrics", telemetry.PrometheusHandler())

	// The resolution pipeline handles everything else:
	// /{plugin|plugins|theme|themes}/{vendor}/{package}[/{version}]/[download]
	// GET patterns also match HEAD, so a single registration covers both.
	mux.Handle("GET /", s.wp)
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// statsResponse reports artifact store stats alongside the live key counts of
// the cache tiers.
type statsResponse struct {
	Artifacts  artifacts.Stats `json:"artifacts"`
	LookupKeys int             `json:"lookup_keys"`
	EdgeKeys   int             `json:"edge_keys"`
}

// handleStats handles storage statistics requests.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.artifacts.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	lookupKeys, err := s.lookupDocs.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	edgeKeys, err := s.edgeDocs.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(statsResponse{
		Artifacts:  stats,
		LookupKeys: len(lookupKeys),
		EdgeKeys:   len(edgeKeys),
	})
}

// loggingMiddleware logs HTTP requests with structured fields for analysis.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		// Inject request tags so handlers can set cache_result, endpoint, etc.
		r = telemetry.InjectTags(r)
		tags := telemetry.GetTags(r)

		// Wrap response writer to capture status and bytes
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		attrs := []any{
			// Request identification
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,

			// Response details
			"status", wrapped.status,
			"status_class", telemetry.StatusClass(wrapped.status),
			"bytes_sent", wrapped.bytesWritten,

			// Timing
			"duration_ms", duration.Milliseconds(),
			"duration", duration.String(),

			// Client info
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
			"http_version", fmt.Sprintf("%d.%d", r.ProtoMajor, r.ProtoMinor),
		}

		// Add handler-set tags
		if tags.Entity != "" {
			attrs = append(attrs, "entity", tags.Entity)
		}
		if tags.Endpoint != "" {
			attrs = append(attrs, "endpoint", tags.Endpoint)
		}
		if tags.CacheResult != "" {
			attrs = append(attrs, "cache_result", string(tags.CacheResult))
		}

		if ct := wrapped.Header().Get("Content-Type"); ct != "" {
			attrs = append(attrs, "content_type", ct)
		}

		s.logger.Info("http request", attrs...)

		telemetry.RecordHTTP(r.Context(), r, wrapped.status, wrapped.bytesWritten, duration)
	})
}

// Start starts the server.
func (s *Server) Start() error {
	if s.reaper != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.reaperStop = cancel
		go s.reaper.Run(ctx)
	}

	s.logger.Info("starting server", "address", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server, draining in-flight background
// cache writes before closing the stores.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	if s.reaperStop != nil {
		s.reaperStop()
	}

	err := s.httpServer.Shutdown(ctx)

	s.wp.Close()

	if s.db != nil {
		if cerr := s.db.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if s.redisClient != nil {
		if cerr := s.redisClient.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}

	return err
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// responseWriter wraps http.ResponseWriter to capture the status code and bytes written.
// It preserves http.Flusher and http.Hijacker interfaces for streaming support.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher for streaming responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker for connection upgrades.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacking not supported")
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
