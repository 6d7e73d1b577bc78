package storage

import (
	"context"
	"fmt"
	"time"
)

// CacheInterface defines the set of methods that need to be
// implemented to be used as a cache storage.
type CacheInterface interface {
	Connect(url string) error
	Disconnect() error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// ErrCacheMiss is the message returned by Get for an absent key.
const ErrCacheMiss = "key does not exist"

// AnalyticsKey is the cache key under which a user's analytics
// snapshot is stored.
func AnalyticsKey(userID string) string {
	return "analytics_" + userID
}

// SuggestionsKey is the cache key under which a user's habit
// suggestions are stored.
func SuggestionsKey(userID string) string {
	return "suggestions_" + userID
}

// NewCache creates a new CacheInterface with a Redis backend.
// It connects to the provided address, and returns the cache instance
// or an error if the connection failed.
func NewCache(url string) (CacheInterface, error) {
	cache := NewRedisCache() // Currently, the redis cache is hardcoded.
	err := cache.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	return cache, nil
}
