/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package introkit

import (
	"fmt"
	"net/url"
	"time"

	"github.com/acronis/go-appkit/config"

	"github.com/introkit/go-introkit/internal/idputil"
	"github.com/introkit/go-introkit/introspection"
)

const cfgDefaultKeyPrefix = "auth"

const (
	cfgKeyAuthority                = "authority"
	cfgKeyRequireKeySet            = "requireKeySet"
	cfgKeySaveToken                = "saveToken"
	cfgKeyClientAuthMethod         = "clientAuth.method"
	cfgKeyClientAuthClientID       = "clientAuth.clientId"
	cfgKeyClientAuthClientSecret   = "clientAuth.clientSecret" // nolint:gosec // false positive
	cfgKeyClientAuthPrivateKeyFile = "clientAuth.privateKeyFile"
	cfgKeyCacheEnabled             = "cache.enabled"
	cfgKeyCacheMaxEntries          = "cache.maxEntries"
	cfgKeyCacheTTL                 = "cache.ttl"
	cfgKeyDiscoveryCacheTTL        = "discoveryCache.ttl"
	cfgKeyHTTPClientRequestTimeout = "httpClient.requestTimeout"
)

// Config represents a set of configuration parameters for token authentication.
type Config struct {
	Authority     string `mapstructure:"authority" yaml:"authority" json:"authority"`
	RequireKeySet bool   `mapstructure:"requireKeySet" yaml:"requireKeySet" json:"requireKeySet"`
	SaveToken     bool   `mapstructure:"saveToken" yaml:"saveToken" json:"saveToken"`

	ClientAuth     ClientAuthConfig     `mapstructure:"clientAuth" yaml:"clientAuth" json:"clientAuth"`
	Cache          CacheConfig          `mapstructure:"cache" yaml:"cache" json:"cache"`
	DiscoveryCache DiscoveryCacheConfig `mapstructure:"discoveryCache" yaml:"discoveryCache" json:"discoveryCache"`
	HTTPClient     HTTPClientConfig     `mapstructure:"httpClient" yaml:"httpClient" json:"httpClient"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// ConfigOption is a type for functional options for the Config.
type ConfigOption func(*configOptions)

type configOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
// This prefix will be used by config.Loader.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(o *configOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{keyPrefix: opts.keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{
		keyPrefix: opts.keyPrefix,
		ClientAuth: ClientAuthConfig{
			Method: string(introspection.ClientAuthMethodSecretBasic),
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxEntries: introspection.DefaultCacheMaxEntries,
			TTL:        config.TimeDuration(introspection.DefaultCacheTTL),
		},
		DiscoveryCache: DiscoveryCacheConfig{
			TTL: config.TimeDuration(introspection.DefaultDiscoveryCacheTTL),
		},
		HTTPClient: HTTPClientConfig{
			RequestTimeout: config.TimeDuration(idputil.DefaultHTTPRequestTimeout),
		},
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for auth in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyClientAuthMethod, string(introspection.ClientAuthMethodSecretBasic))
	dp.SetDefault(cfgKeyCacheEnabled, true)
	dp.SetDefault(cfgKeyCacheMaxEntries, introspection.DefaultCacheMaxEntries)
	dp.SetDefault(cfgKeyCacheTTL, introspection.DefaultCacheTTL.String())
	dp.SetDefault(cfgKeyDiscoveryCacheTTL, introspection.DefaultDiscoveryCacheTTL.String())
	dp.SetDefault(cfgKeyHTTPClientRequestTimeout, idputil.DefaultHTTPRequestTimeout.String())
}

// ClientAuthConfig is a configuration of how the library authenticates itself
// when calling the introspection endpoint.
type ClientAuthConfig struct {
	Method         string `mapstructure:"method" yaml:"method" json:"method"`
	ClientID       string `mapstructure:"clientId" yaml:"clientId" json:"clientId"`
	ClientSecret   string `mapstructure:"clientSecret" yaml:"clientSecret" json:"clientSecret"`
	PrivateKeyFile string `mapstructure:"privateKeyFile" yaml:"privateKeyFile" json:"privateKeyFile"`
}

// CacheConfig is a configuration of how introspection results will be cached.
type CacheConfig struct {
	Enabled    bool                `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	MaxEntries int                 `mapstructure:"maxEntries" yaml:"maxEntries" json:"maxEntries"`
	TTL        config.TimeDuration `mapstructure:"ttl" yaml:"ttl" json:"ttl"`
}

// DiscoveryCacheConfig is a configuration of how the discovery document will be cached.
type DiscoveryCacheConfig struct {
	TTL config.TimeDuration `mapstructure:"ttl" yaml:"ttl" json:"ttl"`
}

type HTTPClientConfig struct {
	RequestTimeout config.TimeDuration `mapstructure:"requestTimeout" yaml:"requestTimeout" json:"requestTimeout"`
}

// Set sets auth configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.Authority, err = dp.GetString(cfgKeyAuthority); err != nil {
		return err
	}
	if c.Authority == "" {
		return dp.WrapKeyErr(cfgKeyAuthority, fmt.Errorf("authority is required"))
	}
	if _, err = url.ParseRequestURI(c.Authority); err != nil {
		return dp.WrapKeyErr(cfgKeyAuthority, err)
	}
	if c.RequireKeySet, err = dp.GetBool(cfgKeyRequireKeySet); err != nil {
		return err
	}
	if c.SaveToken, err = dp.GetBool(cfgKeySaveToken); err != nil {
		return err
	}
	if err = c.setClientAuthConfig(dp); err != nil {
		return err
	}
	if err = c.setCacheConfig(dp); err != nil {
		return err
	}

	var discoveryCacheTTL time.Duration
	if discoveryCacheTTL, err = dp.GetDuration(cfgKeyDiscoveryCacheTTL); err != nil {
		return err
	}
	c.DiscoveryCache.TTL = config.TimeDuration(discoveryCacheTTL)

	var reqTimeout time.Duration
	if reqTimeout, err = dp.GetDuration(cfgKeyHTTPClientRequestTimeout); err != nil {
		return err
	}
	c.HTTPClient.RequestTimeout = config.TimeDuration(reqTimeout)

	return nil
}

func (c *Config) setClientAuthConfig(dp config.DataProvider) error {
	var err error

	if c.ClientAuth.Method, err = dp.GetString(cfgKeyClientAuthMethod); err != nil {
		return err
	}
	switch introspection.ClientAuthMethod(c.ClientAuth.Method) {
	case introspection.ClientAuthMethodSecretBasic, introspection.ClientAuthMethodPrivateKeyJWT:
	default:
		return dp.WrapKeyErr(cfgKeyClientAuthMethod, fmt.Errorf("unknown client auth method %q", c.ClientAuth.Method))
	}
	if c.ClientAuth.ClientID, err = dp.GetString(cfgKeyClientAuthClientID); err != nil {
		return err
	}
	if c.ClientAuth.ClientID == "" {
		return dp.WrapKeyErr(cfgKeyClientAuthClientID, fmt.Errorf("client id is required"))
	}
	if c.ClientAuth.ClientSecret, err = dp.GetString(cfgKeyClientAuthClientSecret); err != nil {
		return err
	}
	if c.ClientAuth.PrivateKeyFile, err = dp.GetString(cfgKeyClientAuthPrivateKeyFile); err != nil {
		return err
	}
	if introspection.ClientAuthMethod(c.ClientAuth.Method) == introspection.ClientAuthMethodPrivateKeyJWT &&
		c.ClientAuth.PrivateKeyFile == "" {
		return dp.WrapKeyErr(cfgKeyClientAuthPrivateKeyFile, fmt.Errorf("private key file is required for %s", c.ClientAuth.Method))
	}

	return nil
}

func (c *Config) setCacheConfig(dp config.DataProvider) error {
	var err error

	if c.Cache.Enabled, err = dp.GetBool(cfgKeyCacheEnabled); err != nil {
		return err
	}
	if c.Cache.MaxEntries, err = dp.GetInt(cfgKeyCacheMaxEntries); err != nil {
		return err
	}
	if c.Cache.MaxEntries < 0 {
		return dp.WrapKeyErr(cfgKeyCacheMaxEntries, fmt.Errorf("max entries should be non-negative"))
	}
	var cacheTTL time.Duration
	if cacheTTL, err = dp.GetDuration(cfgKeyCacheTTL); err != nil {
		return err
	}
	c.Cache.TTL = config.TimeDuration(cacheTTL)

	return nil
}
