/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package introspection

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/acronis/go-appkit/lrucache"
	"github.com/stretchr/testify/require"
)

func TestExpiryTime(t *testing.T) {
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		ttl       time.Duration
		expiresAt time.Time
		want      time.Time
	}{
		{
			name: "no ttl, no expiry, not cacheable",
			want: time.Time{},
		},
		{
			name: "only ttl",
			ttl:  time.Minute,
			want: now.Add(time.Minute),
		},
		{
			name:      "only token expiry",
			expiresAt: now.Add(30 * time.Second),
			want:      now.Add(30 * time.Second),
		},
		{
			name:      "token expiry sooner than ttl",
			ttl:       10 * time.Minute,
			expiresAt: now.Add(2 * time.Minute),
			want:      now.Add(2 * time.Minute),
		},
		{
			name:      "ttl sooner than token expiry",
			ttl:       time.Minute,
			expiresAt: now.Add(time.Hour),
			want:      now.Add(time.Minute),
		},
		{
			name:      "token already expired",
			ttl:       time.Minute,
			expiresAt: now.Add(-time.Second),
			want:      now.Add(-time.Second),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, expiryTime(now, tt.ttl, tt.expiresAt))
		})
	}
}

func TestLRUResultCache(t *testing.T) {
	ctx := context.Background()
	key := sha256.Sum256([]byte("opaque-token"))

	t.Run("hit until ttl passes", func(t *testing.T) {
		cache := newTestResultCache(t, 100*time.Millisecond)
		cache.Put(ctx, key, Result{Active: true, Claims: map[string]string{"sub": "user-1"}})

		result, ok := cache.Get(ctx, key)
		require.True(t, ok)
		require.True(t, result.Active)
		require.Equal(t, "user-1", result.Claims["sub"])
		require.Equal(t, 1, cache.Len(ctx))

		time.Sleep(200 * time.Millisecond)

		_, ok = cache.Get(ctx, key)
		require.False(t, ok)
	})

	t.Run("token expiry caps ttl", func(t *testing.T) {
		cache := newTestResultCache(t, time.Hour)
		cache.Put(ctx, key, Result{Active: true, ExpiresAt: time.Now().Add(100 * time.Millisecond)})

		_, ok := cache.Get(ctx, key)
		require.True(t, ok)

		time.Sleep(200 * time.Millisecond)

		_, ok = cache.Get(ctx, key)
		require.False(t, ok)
	})

	t.Run("inactive results are cached too", func(t *testing.T) {
		cache := newTestResultCache(t, time.Minute)
		cache.Put(ctx, key, Result{Active: false})

		result, ok := cache.Get(ctx, key)
		require.True(t, ok)
		require.False(t, result.Active)
	})

	t.Run("purge drops everything", func(t *testing.T) {
		cache := newTestResultCache(t, time.Minute)
		cache.Put(ctx, key, Result{Active: true})
		require.Equal(t, 1, cache.Len(ctx))

		cache.Purge(ctx)
		require.Equal(t, 0, cache.Len(ctx))
	})
}

func TestLRUResultCacheNotCacheableEntry(t *testing.T) {
	ctx := context.Background()
	key := sha256.Sum256([]byte("opaque-token"))

	cache := newTestResultCache(t, 0)
	cache.Put(ctx, key, Result{Active: true})

	_, ok := cache.Get(ctx, key)
	require.False(t, ok)
	require.Equal(t, 0, cache.Len(ctx))
}

func TestDisabledResultCache(t *testing.T) {
	ctx := context.Background()
	key := sha256.Sum256([]byte("opaque-token"))

	cache := &disabledResultCache{}
	cache.Put(ctx, key, Result{Active: true})

	_, ok := cache.Get(ctx, key)
	require.False(t, ok)
	require.Equal(t, 0, cache.Len(ctx))
}

func newTestResultCache(t *testing.T, ttl time.Duration) *lruResultCache {
	t.Helper()
	cache, err := lrucache.New[[sha256.Size]byte, ResultCacheItem](DefaultCacheMaxEntries, nil)
	require.NoError(t, err)
	return &lruResultCache{cache: cache, ttl: ttl}
}
