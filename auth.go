/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package introkit

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/acronis/go-appkit/log"

	"github.com/introkit/go-introkit/internal/idputil"
	"github.com/introkit/go-introkit/introspection"
)

// NewIntrospector creates a new introspection.Introspector with the given configuration.
// If cfg.Cache.Enabled is true, definitive introspection results are cached and repeated
// authentication attempts for the same token are served without network calls until they expire.
func NewIntrospector(cfg *Config, opts ...IntrospectorOption) (*introspection.Introspector, error) {
	var options introspectorOptions
	for _, opt := range opts {
		opt(&options)
	}

	var privateKey *rsa.PrivateKey
	if introspection.ClientAuthMethod(cfg.ClientAuth.Method) == introspection.ClientAuthMethodPrivateKeyJWT {
		var err error
		if privateKey, err = loadRSAPrivateKey(cfg.ClientAuth.PrivateKeyFile); err != nil {
			return nil, fmt.Errorf("load client private key: %w", err)
		}
	}

	introspectorOpts := introspection.IntrospectorOpts{
		HTTPClient:                 idputil.MakeDefaultHTTPClient(time.Duration(cfg.HTTPClient.RequestTimeout), options.logger),
		Logger:                     options.logger,
		ClientAuthMethod:           introspection.ClientAuthMethod(cfg.ClientAuth.Method),
		PrivateKey:                 privateKey,
		RequireKeySet:              cfg.RequireKeySet,
		SaveToken:                  cfg.SaveToken,
		DiscoveryCacheTTL:          time.Duration(cfg.DiscoveryCache.TTL),
		PrometheusLibInstanceLabel: options.prometheusLibInstanceLabel,
		Cache: introspection.IntrospectorCacheOpts{
			Enabled:    cfg.Cache.Enabled,
			MaxEntries: cfg.Cache.MaxEntries,
			TTL:        time.Duration(cfg.Cache.TTL),
		},
	}
	return introspection.NewIntrospectorWithOpts(
		cfg.Authority, cfg.ClientAuth.ClientID, cfg.ClientAuth.ClientSecret, introspectorOpts)
}

type introspectorOptions struct {
	logger                     log.FieldLogger
	prometheusLibInstanceLabel string
}

// IntrospectorOption is an option for creating introspection.Introspector.
type IntrospectorOption func(options *introspectorOptions)

// WithIntrospectorLogger sets the logger for the introspector.
func WithIntrospectorLogger(logger log.FieldLogger) IntrospectorOption {
	return func(options *introspectorOptions) {
		options.logger = logger
	}
}

// WithIntrospectorPrometheusLibInstanceLabel sets the Prometheus lib instance label for the introspector.
func WithIntrospectorPrometheusLibInstanceLabel(label string) IntrospectorOption {
	return func(options *introspectorOptions) {
		options.prometheusLibInstanceLabel = label
	}
}

// SetDefaultLogger sets the default logger for the library.
func SetDefaultLogger(logger log.FieldLogger) {
	idputil.DefaultLogger = logger
}

func loadRSAPrivateKey(path string) (*rsa.PrivateKey, error) {
	pemData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %q", path)
	}
	if key, parseErr := x509.ParsePKCS1PrivateKey(block.Bytes); parseErr == nil {
		return key, nil
	}
	keyAny, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	rsaKey, ok := keyAny.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key in %q is not RSA", path)
	}
	return rsaKey, nil
}
