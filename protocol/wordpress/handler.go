package wordpress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/wolfeidau/wp-release-proxy/store"
	"github.com/wolfeidau/wp-release-proxy/store/artifacts"
	"github.com/wolfeidau/wp-release-proxy/store/edgecache"
	"github.com/wolfeidau/wp-release-proxy/telemetry"
)

const (
	// cacheTimeout is the maximum time allowed for background caching operations.
	cacheTimeout = 2 * time.Minute

	// edgeMaxAge governs downstream shared caching of successful responses.
	edgeMaxAge = 3600

	// DefaultArtifactRetain is how many artifact versions to keep per package.
	DefaultArtifactRetain = 5
)

// Handler implements the release resolution pipeline as an HTTP handler.
type Handler struct {
	index     *Index
	edge      *edgecache.Cache
	artifacts *artifacts.Store
	upstream  *Upstream
	retain    int
	logger    *slog.Logger

	// Lifecycle management for background goroutines
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLogger sets the logger for the handler.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithUpstream sets the release origin client.
func WithUpstream(upstream *Upstream) HandlerOption {
	return func(h *Handler) {
		h.upstream = upstream
	}
}

// WithArtifactRetain sets how many artifact versions to keep per package.
func WithArtifactRetain(n int) HandlerOption {
	return func(h *Handler) {
		h.retain = n
	}
}

// NewHandler creates a resolution pipeline handler.
func NewHandler(index *Index, edge *edgecache.Cache, artifactStore *artifacts.Store, opts ...HandlerOption) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		index:     index,
		edge:      edge,
		artifacts: artifactStore,
		upstream:  NewUpstream(),
		retain:    DefaultArtifactRetain,
		logger:    slog.Default(),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "wordpress")
	return h
}

// Close shuts down the handler and waits for background operations to complete.
func (h *Handler) Close() {
	h.cancel()
	h.wg.Wait()
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	edgeKey := edgecache.Key(r)

	if cached, err := h.edge.Match(r.Context(), edgeKey); err == nil {
		telemetry.SetCacheResult(r, telemetry.CacheHit)
		if err := cached.WriteTo(w); err != nil {
			h.logger.Debug("failed to replay cached response", "error", err)
		}
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		h.logger.Error("edge cache read failed", "error", err)
	}

	req, err := ParseRequest(r)
	if err != nil {
		var reqErr *RequestError
		if errors.As(err, &reqErr) {
			h.writeError(w, http.StatusBadRequest, reqErr.Message)
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	telemetry.SetEntity(r, string(req.Type))
	telemetry.SetCacheResult(r, telemetry.CacheMiss)

	// Retention runs opportunistically on version-less lookups.
	if req.Version == "" {
		h.startPrune(req)
	}

	if req.IsDownload {
		telemetry.SetEndpoint(r, "download")
		h.serveDownload(w, r, req, edgeKey)
		return
	}

	telemetry.SetEndpoint(r, "metadata")
	h.serveMetadata(w, r, req, edgeKey)
}

// resolution holds the origin resolution result. requested equals latest
// unless an explicit version was asked for.
type resolution struct {
	latest    *Release
	requested *Release
}

// resolve fetches the latest usable release, plus the explicitly tagged
// release when a version was requested. A single failed origin call fails the
// whole step; there are no retries.
func (h *Handler) resolve(ctx context.Context, req *Request) (*resolution, error) {
	releases, err := h.upstream.ListReleases(ctx, req.Vendor, req.Package)
	if err != nil {
		return nil, err
	}

	latest, err := SelectLatest(releases)
	if err != nil {
		return nil, err
	}

	if req.Version == "" {
		return &resolution{latest: latest, requested: latest}, nil
	}

	tagged, err := h.upstream.GetReleaseByTag(ctx, req.Vendor, req.Package, req.Version)
	if err != nil {
		return nil, err
	}
	requested, err := ValidateTagged(tagged)
	if err != nil {
		return nil, err
	}

	return &resolution{latest: latest, requested: requested}, nil
}

// serveMetadata resolves and serves the JSON payload. Origin failure has no
// fallback here; metadata must reflect the true upstream state.
func (h *Handler) serveMetadata(w http.ResponseWriter, r *http.Request, req *Request, edgeKey string) {
	ctx := r.Context()
	logger := h.logger.With("vendor", req.Vendor, "package", req.Package, "endpoint", "metadata")

	res, err := h.resolve(ctx, req)
	if err != nil {
		logger.Warn("origin resolution failed", "error", err)
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	payload, err := h.buildPayload(ctx, req, res)
	if err != nil {
		logger.Warn("failed to build payload", "error", err)
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("Unable to fetch %s file", req.Type))
		return
	}

	h.storeLookup(req, res, payload, logger)

	body, err := json.Marshal(payload)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to encode payload")
		return
	}

	header := map[string]string{
		"Content-Type":  "application/json",
		"Cache-Control": fmt.Sprintf("public, s-maxage=%d", edgeMaxAge),
	}
	for k, v := range header {
		w.Header().Set(k, v)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		logger.Debug("failed to write response", "error", err)
	}

	h.storeEdge(edgeKey, &edgecache.CachedResponse{
		Status: http.StatusOK,
		Header: header,
		Body:   body,
	}, logger)
}

// serveDownload serves the artifact for a release. A cached lookup lets the
// durable store answer before paying for an origin round-trip; a failed
// origin falls back to any stored artifact, and a failed store degrades to a
// redirect. Once a valid release is resolved the caller always gets something
// downloadable.
func (h *Handler) serveDownload(w http.ResponseWriter, r *http.Request, req *Request, edgeKey string) {
	ctx := r.Context()
	logger := h.logger.With("vendor", req.Vendor, "package", req.Package, "endpoint", "download")

	// Fast path: a cached lookup names a tag we may already hold.
	if lookup, err := h.index.Get(ctx, req.CachePath()); err == nil {
		tag := req.Version
		if tag == "" {
			tag = lookup.LatestRelease.TagName
		}
		if tag != "" {
			key := artifacts.Key(tag, req.Package)
			if h.serveArtifact(w, r, req, key, edgeKey, logger) {
				logger.Debug("served artifact via fast path", "key", key)
				return
			}
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		logger.Error("metadata cache read failed", "error", err)
	}

	res, err := h.resolve(ctx, req)
	if err != nil {
		logger.Warn("origin resolution failed, trying artifact fallback", "error", err)
		h.serveArtifactFallback(w, r, req, edgeKey, err, logger)
		return
	}

	payload, err := h.buildPayload(ctx, req, res)
	if err != nil {
		logger.Warn("failed to build payload", "error", err)
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("Unable to fetch %s file", req.Type))
		return
	}

	h.storeLookup(req, res, payload, logger)

	assetURL := res.requested.DownloadURL()
	key := artifacts.Key(res.requested.TagName, req.Package)

	if err := h.materializeArtifact(ctx, key, assetURL); err != nil {
		logger.Warn("failed to persist artifact, redirecting to origin", "key", key, "error", err)
		// Transient degradation; never edge-cached.
		http.Redirect(w, r, assetURL, http.StatusFound)
		return
	}

	if h.serveArtifact(w, r, req, key, edgeKey, logger) {
		return
	}

	logger.Warn("failed to serve persisted artifact, redirecting to origin", "key", key)
	http.Redirect(w, r, assetURL, http.StatusFound)
}

// serveArtifactFallback serves the newest stored artifact when the origin is
// unreachable. Absent any artifact, the origin error surfaces as a 404.
func (h *Handler) serveArtifactFallback(w http.ResponseWriter, r *http.Request, req *Request, edgeKey string, originErr error, logger *slog.Logger) {
	if req.Version != "" {
		key := artifacts.Key(req.Version, req.Package)
		if h.serveArtifact(w, r, req, key, edgeKey, logger) {
			logger.Info("served pinned artifact despite origin failure", "key", key)
			return
		}
	}

	keys, err := h.artifacts.ListForPackage(r.Context(), req.Package)
	if err != nil {
		logger.Error("artifact listing failed", "error", err)
	}
	for _, key := range keys {
		if h.serveArtifact(w, r, req, key, edgeKey, logger) {
			logger.Info("served fallback artifact despite origin failure", "key", key)
			return
		}
	}

	h.writeError(w, http.StatusNotFound, originErr.Error())
}

// serveArtifact streams a stored artifact if present, caching the response at
// the edge. Returns false when the artifact is absent or unreadable.
func (h *Handler) serveArtifact(w http.ResponseWriter, r *http.Request, req *Request, key, edgeKey string, logger *slog.Logger) bool {
	rc, _, err := h.artifacts.Get(r.Context(), key)
	if err != nil {
		if !errors.Is(err, artifacts.ErrNotFound) {
			logger.Error("artifact read failed", "key", key, "error", err)
		}
		return false
	}
	defer rc.Close()

	body, err := io.ReadAll(rc)
	if err != nil {
		logger.Error("artifact read failed", "key", key, "error", err)
		return false
	}

	header := map[string]string{
		"Content-Type":        "application/zip",
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", key),
		"Cache-Control":       fmt.Sprintf("public, s-maxage=%d", edgeMaxAge),
	}
	for k, v := range header {
		w.Header().Set(k, v)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		logger.Debug("failed to write response", "error", err)
	}

	h.storeEdge(edgeKey, &edgecache.CachedResponse{
		Status: http.StatusOK,
		Header: header,
		Body:   body,
	}, logger)

	return true
}

// materializeArtifact persists the release asset if not already stored. The
// existence check narrows but does not eliminate the duplicate-upload race;
// concurrent writers produce identical bytes so last write wins.
func (h *Handler) materializeArtifact(ctx context.Context, key, assetURL string) error {
	if assetURL == "" {
		return ErrNoAssetForRelease
	}

	exists, err := h.artifacts.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	rc, err := h.upstream.FetchAsset(ctx, assetURL)
	if err != nil {
		return err
	}
	defer rc.Close()

	result, err := h.artifacts.Put(ctx, key, rc)
	if err != nil {
		return err
	}

	h.logger.Info("persisted artifact",
		"key", key,
		"size", result.Size,
		"digest", result.Digest.ShortString())
	return nil
}

// buildPayload fetches the source file at the resolved tag and merges its
// headers with the release records.
func (h *Handler) buildPayload(ctx context.Context, req *Request, res *resolution) (*Payload, error) {
	fileText, err := h.upstream.FetchFile(ctx, req.Vendor, req.Package, res.requested.TagName, req.File)
	if err != nil {
		return nil, err
	}

	headers := ExtractHeaders(fileText)

	nameKey, uriKey := "Plugin Name", "Plugin URI"
	if req.Type == Theme {
		nameKey, uriKey = "Theme Name", "Theme URI"
	}

	name := headers[nameKey]
	if name == "" {
		name = req.Package
	}

	current := headers["Version"]
	if current == "" {
		current = res.requested.TagName
	}

	payload := &Payload{
		Name: name,
		Type: req.Type,
		Version: PayloadVersion{
			Current: current,
			Latest:  res.latest.TagName,
		},
		Description: headers["Description"],
		Author: PayloadAuthor{
			Name: headers["Author"],
			URL:  headers["Author URI"],
		},
		Updated: res.requested.PublishedAt,
		Requires: PayloadRequires{
			WP:  headers["Requires at least"],
			PHP: headers["Requires PHP"],
		},
		Tested: PayloadTested{
			WP: headers["Tested up to"],
		},
		URL:      headers[uriKey],
		Download: res.requested.DownloadURL(),
		Slug:     req.Slug,
	}

	if req.Type == Plugin {
		payload.Basename = req.Basename()
	}

	return payload, nil
}

// storeLookup writes the lookup snapshot to the metadata cache in the
// background. Write failures are logged and never surface to the requester.
func (h *Handler) storeLookup(req *Request, res *resolution, payload *Payload, logger *slog.Logger) {
	path := req.CachePath()
	lookup := &CachedLookup{
		LatestRelease: *res.latest,
		Payload:       *payload,
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(h.ctx, cacheTimeout)
		defer cancel()
		if err := h.index.Put(ctx, path, lookup); err != nil {
			logger.Error("failed to cache lookup", "path", path, "error", err)
		} else {
			logger.Debug("cached lookup", "path", path)
		}
	}()
}

// storeEdge writes the full response to the edge cache in the background.
func (h *Handler) storeEdge(key string, cr *edgecache.CachedResponse, logger *slog.Logger) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(h.ctx, cacheTimeout)
		defer cancel()
		if err := h.edge.Put(ctx, key, cr); err != nil {
			logger.Error("failed to cache response", "key", key, "error", err)
		} else {
			logger.Debug("cached response", "key", key)
		}
	}()
}

// startPrune applies per-package retention in the background.
func (h *Handler) startPrune(req *Request) {
	pkg := req.Package
	entity := string(req.Type)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(h.ctx, cacheTimeout)
		defer cancel()
		ctx = telemetry.WithEntityContext(ctx, entity)
		if _, err := h.artifacts.Prune(ctx, pkg, h.retain); err != nil {
			h.logger.Error("artifact prune failed", "package", pkg, "error", err)
		}
	}()
}

// writeError writes the JSON error body used by all failure paths.
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "error",
		"message": message,
	})
}
