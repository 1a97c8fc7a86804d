package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/releases"):
			_, _ = w.Write([]byte(`[{"tag_name":"1.0.0","published_at":"2025-03-01T00:00:00Z","assets":[{"name":"hello.zip","browser_download_url":"` + "http://" + r.Host + `/assets/hello.zip"}]}]`))
		case strings.HasPrefix(r.URL.Path, "/assets/"):
			_, _ = w.Write([]byte("zip bytes"))
		default:
			_, _ = w.Write([]byte("/* Plugin Name: Hello\nVersion: 1.0.0 */"))
		}
	}))
	t.Cleanup(origin.Close)

	s, err := New(Config{
		Address:      "127.0.0.1:0",
		StoragePath:  t.TempDir(),
		GitHubAPIURL: origin.URL,
		GitHubRawURL: origin.URL,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})

	return s, origin
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStats(t *testing.T) {
	s, _ := newTestServer(t)

	ctx := context.Background()
	require.NoError(t, s.lookupDocs.Put(ctx, "plugin/acme/hello", []byte("{}"), 0))
	require.NoError(t, s.edgeDocs.Put(ctx, "http://example.com/plugins/acme/hello", []byte("{}"), 0))

	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var stats statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, 0, stats.Artifacts.Count)
	require.Equal(t, 1, stats.LookupKeys)
	require.Equal(t, 1, stats.EdgeKeys)
}

// Route registration must not mix method-qualified patterns that the mux
// rejects as conflicting; a HEAD request reaches the pipeline via the GET
// registration.
func TestHeadRequestRouting(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest("HEAD", "/plugins/acme/hello", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestMetadataRouting(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/plugins/acme/hello", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "Hello", payload["name"])
}

func TestUnknownEntityType(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/widgets/acme/hello", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
