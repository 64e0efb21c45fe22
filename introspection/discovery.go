/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package introspection

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/acronis/go-appkit/log"
	"golang.org/x/sync/singleflight"

	"github.com/introkit/go-introkit/internal/idputil"
	"github.com/introkit/go-introkit/internal/metrics"
)

// DefaultDiscoveryCacheTTL is a default time-to-live for the cached OpenID configuration document.
const DefaultDiscoveryCacheTTL = 24 * time.Hour

// DiscoveryDocument contains the authority's OpenID configuration values needed for token introspection.
type DiscoveryDocument struct {
	IntrospectionEndpoint    string
	TokenEndpointAuthMethods []string
	JWKSURI                  string
}

// ResolverOpts is a set of options for creating Resolver.
type ResolverOpts struct {
	// HTTPClient is an HTTP client for doing requests to the /.well-known/openid-configuration endpoint.
	HTTPClient *http.Client

	// Logger is a logger for logging errors and debug information.
	Logger log.FieldLogger

	// RequireKeySet makes resolution fail when the discovery document publishes no JWKS URI.
	RequireKeySet bool

	// CacheTTL is a time-to-live for the cached discovery document.
	// Zero value means DefaultDiscoveryCacheTTL.
	CacheTTL time.Duration

	// PrometheusLibInstanceLabel is a label for Prometheus metrics.
	// It allows distinguishing metrics from different instances of the same library.
	PrometheusLibInstanceLabel string
}

// Resolver obtains and caches the discovery document of a single configured authority.
// A successfully fetched document is served without network calls until its cache window expires.
// A failed fetch caches nothing, so the next Resolve call retries from scratch.
type Resolver struct {
	authority     string
	requireKeySet bool
	cacheTTL      time.Duration

	httpClient  *http.Client
	logger      log.FieldLogger
	promMetrics *metrics.PrometheusMetrics

	sfGroup singleflight.Group

	mu        sync.RWMutex
	doc       DiscoveryDocument
	expiresAt time.Time
	hasDoc    bool
}

// NewResolver creates a new Resolver for the given authority with default options.
func NewResolver(authority string) (*Resolver, error) {
	return NewResolverWithOpts(authority, ResolverOpts{})
}

// NewResolverWithOpts creates a new Resolver for the given authority.
// See ResolverOpts for more details.
func NewResolverWithOpts(authority string, opts ResolverOpts) (*Resolver, error) {
	if authority == "" {
		return nil, fmt.Errorf("authority is mandatory")
	}
	if _, err := url.ParseRequestURI(authority); err != nil {
		return nil, fmt.Errorf("parse authority URL: %w", err)
	}
	opts.Logger = idputil.PrepareLogger(opts.Logger)
	if opts.HTTPClient == nil {
		opts.HTTPClient = idputil.MakeDefaultHTTPClient(idputil.DefaultHTTPRequestTimeout, opts.Logger)
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = DefaultDiscoveryCacheTTL
	}
	return &Resolver{
		authority:     authority,
		requireKeySet: opts.RequireKeySet,
		cacheTTL:      opts.CacheTTL,
		httpClient:    opts.HTTPClient,
		logger:        opts.Logger,
		promMetrics:   metrics.GetPrometheusMetrics(opts.PrometheusLibInstanceLabel, "discovery_resolver"),
	}, nil
}

// Resolve returns the authority's discovery document,
// fetching it only when there is no cached document or the cached one has expired.
// Concurrent calls needing a fetch are collapsed into a single network request.
func (r *Resolver) Resolve(ctx context.Context) (DiscoveryDocument, error) {
	if doc, ok := r.cachedDocument(); ok {
		return doc, nil
	}

	v, err, _ := r.sfGroup.Do("openid_configuration", func() (interface{}, error) {
		if doc, ok := r.cachedDocument(); ok {
			return doc, nil
		}
		doc, fetchErr := r.fetchDocument(ctx)
		if fetchErr != nil {
			return DiscoveryDocument{}, fetchErr
		}
		r.mu.Lock()
		r.doc = doc
		r.expiresAt = time.Now().Add(r.cacheTTL)
		r.hasDoc = true
		r.mu.Unlock()
		return doc, nil
	})
	if err != nil {
		return DiscoveryDocument{}, err
	}
	return v.(DiscoveryDocument), nil
}

// Invalidate drops the cached discovery document. The next Resolve call will fetch it again.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.hasDoc = false
	r.doc = DiscoveryDocument{}
	r.mu.Unlock()
}

func (r *Resolver) cachedDocument() (DiscoveryDocument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.hasDoc && time.Now().Before(r.expiresAt) {
		return r.doc, true
	}
	return DiscoveryDocument{}, false
}

func (r *Resolver) fetchDocument(ctx context.Context) (DiscoveryDocument, error) {
	openIDCfgURL := strings.TrimSuffix(r.authority, "/") + idputil.OpenIDConfigurationPath
	openIDCfg, err := idputil.GetOpenIDConfiguration(
		ctx, r.httpClient, openIDCfgURL, nil, r.logger, r.promMetrics)
	if err != nil {
		return DiscoveryDocument{}, makeDiscoveryError(fmt.Errorf("get OpenID configuration: %w", err))
	}
	if openIDCfg.IntrospectionEndpoint == "" {
		return DiscoveryDocument{}, makeDiscoveryError(fmt.Errorf("no introspection endpoint URL found on %s", openIDCfgURL))
	}
	if _, err = url.ParseRequestURI(openIDCfg.IntrospectionEndpoint); err != nil {
		return DiscoveryDocument{}, makeDiscoveryError(fmt.Errorf(
			"authority returned a non-valid introspection endpoint URL %q: %w", openIDCfg.IntrospectionEndpoint, err))
	}
	if r.requireKeySet && openIDCfg.JWKSURI == "" {
		return DiscoveryDocument{}, makeDiscoveryError(fmt.Errorf("no JWKS URI found on %s", openIDCfgURL))
	}
	return DiscoveryDocument{
		IntrospectionEndpoint:    openIDCfg.IntrospectionEndpoint,
		TokenEndpointAuthMethods: openIDCfg.TokenEndpointAuthMethods,
		JWKSURI:                  openIDCfg.JWKSURI,
	}, nil
}
