// Package telemetry provides request tagging for structured logging and metrics.
package telemetry

import (
	"context"
	"net/http"
)

type contextKey string

const (
	// requestTagsKey is the context key for request tags holder.
	requestTagsKey contextKey = "request_tags"
	// entityKey is the context key for propagating entity type to background goroutines.
	entityKey contextKey = "entity"
)

// CacheResult represents the outcome of a cache lookup.
type CacheResult string

const (
	CacheHit    CacheResult = "hit"
	CacheMiss   CacheResult = "miss"
	CacheBypass CacheResult = "bypass"
	CacheNA     CacheResult = "na"
)

// RequestTags holds mutable request metadata that handlers can set for logging.
type RequestTags struct {
	Entity      string
	CacheResult CacheResult
	Endpoint    string
}

// InjectTags creates a new request with an empty RequestTags in context.
// Call this in middleware before handlers run.
func InjectTags(r *http.Request) *http.Request {
	tags := &RequestTags{CacheResult: CacheBypass}
	return r.WithContext(context.WithValue(r.Context(), requestTagsKey, tags))
}

// GetTags retrieves the request tags from context.
// Returns nil if not in a request context with logging middleware.
func GetTags(r *http.Request) *RequestTags {
	if tags, ok := r.Context().Value(requestTagsKey).(*RequestTags); ok {
		return tags
	}
	return nil
}

// SetCacheResult sets the cache result for logging.
func SetCacheResult(r *http.Request, result CacheResult) {
	if tags := GetTags(r); tags != nil {
		tags.CacheResult = result
	}
}

// SetEntity sets the entity type tag for metrics and logging.
func SetEntity(r *http.Request, entity string) {
	if tags := GetTags(r); tags != nil {
		tags.Entity = entity
	}
}

// SetEndpoint sets the endpoint type for logging.
func SetEndpoint(r *http.Request, endpoint string) {
	if tags := GetTags(r); tags != nil {
		tags.Endpoint = endpoint
	}
}

// EntityFromContext retrieves the entity type from a context.
// It checks both background contexts (set by WithEntityContext) and
// request contexts (set by SetEntity via InjectTags).
func EntityFromContext(ctx context.Context) string {
	if e, ok := ctx.Value(entityKey).(string); ok && e != "" {
		return e
	}
	if tags, ok := ctx.Value(requestTagsKey).(*RequestTags); ok && tags != nil {
		return tags.Entity
	}
	return ""
}

// WithEntityContext returns a context with the entity type stored.
// Use this to propagate the entity into goroutines that outlive the request context.
func WithEntityContext(ctx context.Context, entity string) context.Context {
	return context.WithValue(ctx, entityKey, entity)
}
