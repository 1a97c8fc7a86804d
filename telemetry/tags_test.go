package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTaggedRequest() *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	return InjectTags(r)
}

func TestInjectTags_DefaultsCacheResultToBypass(t *testing.T) {
	r := newTaggedRequest()
	tags := GetTags(r)
	require.NotNil(t, tags)
	require.Equal(t, CacheBypass, tags.CacheResult)
}

func TestGetTags_NilWithoutInject(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	require.Nil(t, GetTags(r))
}

func TestSetEntity(t *testing.T) {
	r := newTaggedRequest()
	SetEntity(r, "plugin")
	require.Equal(t, "plugin", GetTags(r).Entity)
}

func TestSetEntity_NoopWithoutInject(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	SetEntity(r, "plugin") // should not panic
}

func TestSetCacheResult(t *testing.T) {
	r := newTaggedRequest()
	SetCacheResult(r, CacheHit)
	require.Equal(t, CacheHit, GetTags(r).CacheResult)
}

func TestSetEndpoint(t *testing.T) {
	r := newTaggedRequest()
	SetEndpoint(r, "download")
	require.Equal(t, "download", GetTags(r).Endpoint)
}

func TestTagsMutationVisibleThroughPointer(t *testing.T) {
	r := newTaggedRequest()
	tags := GetTags(r)

	SetEntity(r, "theme")
	SetCacheResult(r, CacheHit)
	SetEndpoint(r, "metadata")

	require.Equal(t, "theme", tags.Entity)
	require.Equal(t, CacheHit, tags.CacheResult)
	require.Equal(t, "metadata", tags.Endpoint)
}

func TestEntityFromContext(t *testing.T) {
	r := newTaggedRequest()
	SetEntity(r, "plugin")
	require.Equal(t, "plugin", EntityFromContext(r.Context()))

	bg := WithEntityContext(context.Background(), "theme")
	require.Equal(t, "theme", EntityFromContext(bg))

	require.Empty(t, EntityFromContext(context.Background()))
}

func TestStatusClass(t *testing.T) {
	require.Equal(t, "2xx", StatusClass(200))
	require.Equal(t, "3xx", StatusClass(302))
	require.Equal(t, "4xx", StatusClass(404))
	require.Equal(t, "5xx", StatusClass(503))
	require.Equal(t, "unknown", StatusClass(100))
}
