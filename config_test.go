/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package introkit

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/acronis/go-appkit/config"
	"github.com/stretchr/testify/require"

	"github.com/introkit/go-introkit/introspection"
)

func TestConfig_Set(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		cfgData := bytes.NewBufferString(`
auth:
  authority: https://my-idp.com
  requireKeySet: true
  saveToken: true
  clientAuth:
    method: client_secret_basic
    clientId: my-service
    clientSecret: my-service-secret
  cache:
    enabled: true
    maxEntries: 42000
    ttl: 10m
  discoveryCache:
    ttl: 12h
  httpClient:
    requestTimeout: 1m
`)
		cfg := Config{}
		err := config.NewDefaultLoader("").LoadFromReader(cfgData, config.DataTypeYAML, &cfg)
		require.NoError(t, err)
		require.Equal(t, "https://my-idp.com", cfg.Authority)
		require.True(t, cfg.RequireKeySet)
		require.True(t, cfg.SaveToken)
		require.Equal(t, cfg.ClientAuth, ClientAuthConfig{
			Method:       "client_secret_basic",
			ClientID:     "my-service",
			ClientSecret: "my-service-secret",
		})
		require.Equal(t, cfg.Cache, CacheConfig{
			Enabled:    true,
			MaxEntries: 42000,
			TTL:        config.TimeDuration(10 * time.Minute),
		})
		require.Equal(t, config.TimeDuration(12*time.Hour), cfg.DiscoveryCache.TTL)
		require.Equal(t, config.TimeDuration(time.Minute), cfg.HTTPClient.RequestTimeout)
	})

	t.Run("defaults", func(t *testing.T) {
		cfgData := bytes.NewBufferString(`
auth:
  authority: https://my-idp.com
  clientAuth:
    clientId: my-service
    clientSecret: my-service-secret
`)
		cfg := Config{}
		err := config.NewDefaultLoader("").LoadFromReader(cfgData, config.DataTypeYAML, &cfg)
		require.NoError(t, err)
		require.Equal(t, "client_secret_basic", cfg.ClientAuth.Method)
		require.True(t, cfg.Cache.Enabled)
		require.Equal(t, introspection.DefaultCacheMaxEntries, cfg.Cache.MaxEntries)
		require.Equal(t, config.TimeDuration(introspection.DefaultCacheTTL), cfg.Cache.TTL)
		require.Equal(t, config.TimeDuration(introspection.DefaultDiscoveryCacheTTL), cfg.DiscoveryCache.TTL)
	})
}

func TestConfig_SetErrors(t *testing.T) {
	tests := []struct {
		name    string
		cfgData string
		errKey  string
		errMsg  string
	}{
		{
			name: "missing authority",
			cfgData: `
auth:
  clientAuth:
    clientId: my-service
`,
			errKey: cfgKeyAuthority,
			errMsg: "authority is required",
		},
		{
			name: "invalid authority URL",
			cfgData: `
auth:
  authority: ://invalid-url
  clientAuth:
    clientId: my-service
`,
			errKey: cfgKeyAuthority,
			errMsg: "missing protocol scheme",
		},
		{
			name: "unknown client auth method",
			cfgData: `
auth:
  authority: https://my-idp.com
  clientAuth:
    method: tls_client_auth
    clientId: my-service
`,
			errKey: cfgKeyClientAuthMethod,
			errMsg: "unknown client auth method",
		},
		{
			name: "missing client id",
			cfgData: `
auth:
  authority: https://my-idp.com
`,
			errKey: cfgKeyClientAuthClientID,
			errMsg: "client id is required",
		},
		{
			name: "private key jwt without private key file",
			cfgData: `
auth:
  authority: https://my-idp.com
  clientAuth:
    method: private_key_jwt
    clientId: my-service
`,
			errKey: cfgKeyClientAuthPrivateKeyFile,
			errMsg: "private key file is required",
		},
		{
			name: "negative cache max entries",
			cfgData: `
auth:
  authority: https://my-idp.com
  clientAuth:
    clientId: my-service
  cache:
    maxEntries: -1
`,
			errKey: cfgKeyCacheMaxEntries,
			errMsg: "max entries should be non-negative",
		},
		{
			name: "invalid cache TTL",
			cfgData: `
auth:
  authority: https://my-idp.com
  clientAuth:
    clientId: my-service
  cache:
    ttl: invalid
`,
			errKey: cfgKeyCacheTTL,
			errMsg: "invalid duration",
		},
		{
			name: "invalid discovery cache TTL",
			cfgData: `
auth:
  authority: https://my-idp.com
  clientAuth:
    clientId: my-service
  discoveryCache:
    ttl: invalid
`,
			errKey: cfgKeyDiscoveryCacheTTL,
			errMsg: "invalid duration",
		},
		{
			name: "invalid HTTP client timeout",
			cfgData: `
auth:
  authority: https://my-idp.com
  clientAuth:
    clientId: my-service
  httpClient:
    requestTimeout: invalid
`,
			errKey: cfgKeyHTTPClientRequestTimeout,
			errMsg: "invalid duration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgData := bytes.NewBufferString(tt.cfgData)
			cfg := Config{}
			err := config.NewDefaultLoader("").LoadFromReader(cfgData, config.DataTypeYAML, &cfg)
			require.ErrorContains(t, err, tt.errMsg)
			require.Truef(t, strings.HasPrefix(err.Error(), tt.errKey),
				"expected error starts with %q, got %q", tt.errKey, err.Error())
		})
	}
}
