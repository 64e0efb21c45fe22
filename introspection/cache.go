/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package introspection

import (
	"context"
	"crypto/sha256"
	"time"

	"github.com/acronis/go-appkit/lrucache"
)

const (
	// DefaultCacheMaxEntries is a default maximum number of entries in the introspection result cache.
	DefaultCacheMaxEntries = 1000

	// DefaultCacheTTL is a default time-to-live for the introspection result cache.
	DefaultCacheTTL = 1 * time.Minute
)

// ResultCacheItem is a cached introspection result together with its expiry.
type ResultCacheItem struct {
	Result     Result
	ValidUntil time.Time
}

// ResultCache stores introspection results keyed by token fingerprint.
// Tokens are fingerprinted with SHA-256 before being used as keys,
// so raw secrets are not kept as cache key material.
// Both active and inactive results are stored under the same expiry rules (negative caching).
type ResultCache interface {
	Get(ctx context.Context, key [sha256.Size]byte) (Result, bool)
	Put(ctx context.Context, key [sha256.Size]byte, result Result)
	Purge(ctx context.Context)
	Len(ctx context.Context) int
}

// expiryTime computes the moment until which a cached introspection result stays valid:
// min(now+ttl, expiresAt) when both the configured TTL and the endpoint-reported expiry are set,
// whichever of the two is set otherwise.
// Zero time means the result is not cacheable at all.
func expiryTime(now time.Time, ttl time.Duration, expiresAt time.Time) time.Time {
	var validUntil time.Time
	if ttl > 0 {
		validUntil = now.Add(ttl)
	}
	if !expiresAt.IsZero() && (validUntil.IsZero() || expiresAt.Before(validUntil)) {
		validUntil = expiresAt
	}
	return validUntil
}

type lruResultCache struct {
	cache *lrucache.LRUCache[[sha256.Size]byte, ResultCacheItem]
	ttl   time.Duration
}

func (c *lruResultCache) Get(_ context.Context, key [sha256.Size]byte) (Result, bool) {
	item, ok := c.cache.Get(key)
	if !ok {
		return Result{}, false
	}
	if !time.Now().Before(item.ValidUntil) {
		// Stale entries are reported as misses and left for LRU eviction.
		return Result{}, false
	}
	return item.Result, true
}

func (c *lruResultCache) Put(_ context.Context, key [sha256.Size]byte, result Result) {
	validUntil := expiryTime(time.Now(), c.ttl, result.ExpiresAt)
	if validUntil.IsZero() {
		return
	}
	c.cache.Add(key, ResultCacheItem{Result: result, ValidUntil: validUntil})
}

func (c *lruResultCache) Purge(_ context.Context) {
	c.cache.Purge()
}

func (c *lruResultCache) Len(_ context.Context) int {
	return c.cache.Len()
}

type disabledResultCache struct{}

func (c *disabledResultCache) Get(_ context.Context, _ [sha256.Size]byte) (Result, bool) {
	return Result{}, false
}
func (c *disabledResultCache) Put(_ context.Context, _ [sha256.Size]byte, _ Result) {}
func (c *disabledResultCache) Purge(_ context.Context)                             {}
func (c *disabledResultCache) Len(_ context.Context) int                           { return 0 }
