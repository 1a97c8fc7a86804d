// Package wordpress resolves WordPress plugin and theme release lookups
// against a GitHub-style release origin, layering an edge response cache, a
// short-TTL metadata cache, and a durable artifact store in front of it.
package wordpress

import (
	"time"
)

// EntityType is the kind of WordPress package being resolved.
type EntityType string

const (
	Plugin EntityType = "plugin"
	Theme  EntityType = "theme"
)

// Request describes a parsed lookup. Derived once per request; immutable.
type Request struct {
	Type       EntityType
	Vendor     string
	Package    string
	Slug       string
	File       string
	Version    string
	IsDownload bool
}

// CachePath returns the normalized metadata cache key for this request.
// Metadata and download requests for the same package share an entry, so the
// download marker is excluded.
func (r *Request) CachePath() string {
	path := string(r.Type) + "/" + r.Vendor + "/" + r.Package
	if r.Version != "" {
		path += "/" + r.Version
	}
	return path
}

// Basename returns the conventional relative path WordPress uses to identify
// an installed plugin.
func (r *Request) Basename() string {
	return r.Slug + "/" + r.File
}

// Asset is a downloadable file attached to a release.
type Asset struct {
	Name               string `json:"name"`
	ContentType        string `json:"content_type"`
	Size               int64  `json:"size"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// Release is a tagged release as returned by the origin. Read-only once
// fetched.
type Release struct {
	TagName     string    `json:"tag_name"`
	PublishedAt time.Time `json:"published_at"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
	Assets      []Asset   `json:"assets"`
}

// DownloadURL returns the release's first asset URL, or empty if it has no
// assets.
func (r *Release) DownloadURL() string {
	if len(r.Assets) == 0 {
		return ""
	}
	return r.Assets[0].BrowserDownloadURL
}

// PayloadVersion carries the resolved and latest version strings.
type PayloadVersion struct {
	Current string `json:"current"`
	Latest  string `json:"latest"`
}

// PayloadAuthor identifies the package author.
type PayloadAuthor struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// PayloadRequires carries minimum platform requirements.
type PayloadRequires struct {
	WP  string `json:"wp"`
	PHP string `json:"php"`
}

// PayloadTested carries tested-up-to platform versions.
type PayloadTested struct {
	WP string `json:"wp"`
}

// Payload is the user-facing resolution document, built by merging file
// headers, release records, and the request. Basename is present only for
// plugins.
type Payload struct {
	Name        string          `json:"name"`
	Type        EntityType      `json:"type"`
	Version     PayloadVersion  `json:"version"`
	Description string          `json:"description"`
	Author      PayloadAuthor   `json:"author"`
	Updated     time.Time       `json:"updated"`
	Requires    PayloadRequires `json:"requires"`
	Tested      PayloadTested   `json:"tested"`
	URL         string          `json:"url"`
	Download    string          `json:"download"`
	Slug        string          `json:"slug"`
	Basename    string          `json:"basename,omitempty"`
}

// CachedLookup is the metadata cache snapshot for a request path. It steers
// the download fast path; the payload is kept alongside for reuse but is not
// the source of truth.
type CachedLookup struct {
	LatestRelease Release   `json:"latestRelease"`
	Payload       Payload   `json:"payload"`
	CachedAt      time.Time `json:"cachedAt"`
}
