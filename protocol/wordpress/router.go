package wordpress

import (
	"fmt"
	"net/http"
	"strings"
)

// RequestError is a malformed-request failure surfaced as HTTP 400.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string {
	return e.Message
}

// ParseRequest parses an inbound URL of the form
// /{plugin|plugins|theme|themes}/{vendor}/{package}[/{version}]/[download]
// with optional slug and file query overrides. Validation failures return a
// RequestError before any cache or origin access happens.
func ParseRequest(r *http.Request) (*Request, error) {
	segments := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(segments) > 0 && segments[len(segments)-1] == "" {
		segments = segments[:len(segments)-1]
	}

	req := &Request{}

	if len(segments) == 0 || segments[0] == "" {
		return nil, &RequestError{Message: "entity type is required, expected plugin or theme"}
	}

	switch segments[0] {
	case "plugin", "plugins":
		req.Type = Plugin
	case "theme", "themes":
		req.Type = Theme
	default:
		return nil, &RequestError{Message: fmt.Sprintf("invalid entity type %q, expected plugin or theme", segments[0])}
	}

	if len(segments) < 2 || segments[1] == "" {
		return nil, &RequestError{Message: "vendor is required"}
	}
	req.Vendor = segments[1]

	if len(segments) < 3 || segments[2] == "" {
		return nil, &RequestError{Message: "package is required"}
	}
	req.Package = segments[2]

	rest := segments[3:]
	if len(rest) > 0 && rest[len(rest)-1] == "download" {
		req.IsDownload = true
		rest = rest[:len(rest)-1]
	}

	switch len(rest) {
	case 0:
	case 1:
		req.Version = rest[0]
	default:
		return nil, &RequestError{Message: fmt.Sprintf("unexpected path segments after version: %s", strings.Join(rest[1:], "/"))}
	}

	req.Slug = r.URL.Query().Get("slug")
	if req.Slug == "" {
		req.Slug = req.Package
	}

	req.File = r.URL.Query().Get("file")
	if req.File == "" {
		if req.Type == Theme {
			req.File = "style.css"
		} else {
			req.File = req.Package + ".php"
		}
	}

	return req, nil
}
