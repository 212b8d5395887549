// Package cache provides the TTL key/value store the enrichment and
// tracking pipeline depends on.
package cache

import (
	"context"
	"time"
)

// Cache is a key/value store with per-entry TTL. Get returns false after
// the entry's TTL has elapsed; no other eviction order is assumed.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
