package wordpress

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/wolfeidau/wp-release-proxy/telemetry"
)

const (
	// DefaultAPIURL is the GitHub release API endpoint.
	DefaultAPIURL = "https://api.github.com"

	// DefaultRawURL is the raw file content endpoint.
	DefaultRawURL = "https://raw.githubusercontent.com"

	// DefaultTimeout is the origin HTTP client timeout.
	DefaultTimeout = 30 * time.Second

	acceptHeader     = "application/vnd.github.v3+json"
	defaultUserAgent = "wp-release-proxy"
)

// OriginError is an upstream non-2xx response, carrying the status code and
// raw body. Calls are never retried; a single failure fails the resolution
// step.
type OriginError struct {
	StatusCode int
	Body       string
}

func (e *OriginError) Error() string {
	return fmt.Sprintf("origin returned %d: %s", e.StatusCode, e.Body)
}

// Upstream issues authenticated calls to the release origin.
type Upstream struct {
	apiURL    string
	rawURL    string
	username  string
	token     string
	userAgent string
	client    *http.Client
	logger    *slog.Logger
}

// UpstreamOption configures an Upstream.
type UpstreamOption func(*Upstream)

// WithAPIURL overrides the release API endpoint.
func WithAPIURL(apiURL string) UpstreamOption {
	return func(u *Upstream) {
		u.apiURL = apiURL
	}
}

// WithRawURL overrides the raw file content endpoint.
func WithRawURL(rawURL string) UpstreamOption {
	return func(u *Upstream) {
		u.rawURL = rawURL
	}
}

// WithBasicAuth sets the origin credentials.
func WithBasicAuth(username, token string) UpstreamOption {
	return func(u *Upstream) {
		u.username = username
		u.token = token
	}
}

// WithUserAgent overrides the User-Agent sent to the origin.
func WithUserAgent(userAgent string) UpstreamOption {
	return func(u *Upstream) {
		u.userAgent = userAgent
	}
}

// WithHTTPClient sets the HTTP client used for origin calls.
func WithHTTPClient(client *http.Client) UpstreamOption {
	return func(u *Upstream) {
		u.client = client
	}
}

// WithUpstreamLogger sets the logger for the upstream client.
func WithUpstreamLogger(logger *slog.Logger) UpstreamOption {
	return func(u *Upstream) {
		u.logger = logger
	}
}

// NewUpstream creates an origin client with the given options.
func NewUpstream(opts ...UpstreamOption) *Upstream {
	u := &Upstream{
		apiURL:    DefaultAPIURL,
		rawURL:    DefaultRawURL,
		userAgent: defaultUserAgent,
		client:    &http.Client{Timeout: DefaultTimeout},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	u.logger = u.logger.With("component", "upstream")
	return u
}

// ListReleases fetches all releases for a repository.
func (u *Upstream) ListReleases(ctx context.Context, vendor, pkg string) ([]Release, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases",
		u.apiURL, url.PathEscape(vendor), url.PathEscape(pkg))

	var releases []Release
	if err := u.getJSON(ctx, "releases", endpoint, &releases); err != nil {
		return nil, err
	}
	return releases, nil
}

// GetReleaseByTag fetches the release for an explicit tag.
func (u *Upstream) GetReleaseByTag(ctx context.Context, vendor, pkg, tag string) (*Release, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases/tags/%s",
		u.apiURL, url.PathEscape(vendor), url.PathEscape(pkg), url.PathEscape(tag))

	var release Release
	if err := u.getJSON(ctx, "release_by_tag", endpoint, &release); err != nil {
		return nil, err
	}
	return &release, nil
}

// FetchFile fetches a raw source file at the given tag.
func (u *Upstream) FetchFile(ctx context.Context, vendor, pkg, tag, file string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/%s/%s/%s",
		u.rawURL, url.PathEscape(vendor), url.PathEscape(pkg), url.PathEscape(tag), file)

	start := time.Now()

	resp, err := u.do(ctx, endpoint, "")
	if err != nil {
		telemetry.RecordOriginFetch(ctx, "file", time.Since(start), 0, "error")
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		telemetry.RecordOriginFetch(ctx, "file", time.Since(start), 0, "error")
		return "", fmt.Errorf("reading origin response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		telemetry.RecordOriginFetch(ctx, "file", time.Since(start), 0, "upstream_error")
		return "", &OriginError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	telemetry.RecordOriginFetch(ctx, "file", time.Since(start), int64(len(body)), "success")
	return string(body), nil
}

// FetchAsset streams a release asset. The caller owns the returned body.
func (u *Upstream) FetchAsset(ctx context.Context, assetURL string) (io.ReadCloser, error) {
	start := time.Now()

	resp, err := u.do(ctx, assetURL, "application/octet-stream")
	if err != nil {
		telemetry.RecordOriginFetch(ctx, "asset", time.Since(start), 0, "error")
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		telemetry.RecordOriginFetch(ctx, "asset", time.Since(start), 0, "upstream_error")
		return nil, &OriginError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	telemetry.RecordOriginFetch(ctx, "asset", time.Since(start), resp.ContentLength, "success")
	return resp.Body, nil
}

func (u *Upstream) getJSON(ctx context.Context, op, endpoint string, v any) error {
	start := time.Now()

	resp, err := u.do(ctx, endpoint, acceptHeader)
	if err != nil {
		telemetry.RecordOriginFetch(ctx, op, time.Since(start), 0, "error")
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		telemetry.RecordOriginFetch(ctx, op, time.Since(start), 0, "error")
		return fmt.Errorf("reading origin response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		telemetry.RecordOriginFetch(ctx, op, time.Since(start), 0, "upstream_error")
		return &OriginError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, v); err != nil {
		telemetry.RecordOriginFetch(ctx, op, time.Since(start), int64(len(body)), "decode_error")
		return fmt.Errorf("decoding origin response: %w", err)
	}

	telemetry.RecordOriginFetch(ctx, op, time.Since(start), int64(len(body)), "success")
	return nil
}

func (u *Upstream) do(ctx context.Context, endpoint, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building origin request: %w", err)
	}

	req.Header.Set("User-Agent", u.userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if u.username != "" || u.token != "" {
		req.SetBasicAuth(u.username, u.token)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling origin: %w", err)
	}
	return resp, nil
}
