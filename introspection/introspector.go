/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package introspection

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/lrucache"

	"github.com/introkit/go-introkit/internal/idputil"
	"github.com/introkit/go-introkit/internal/metrics"
	"github.com/introkit/go-introkit/internal/strutil"
)

const tokenIntrospectorPromSource = "token_introspector"

// RejectionReason explains why an authentication attempt was rejected.
type RejectionReason string

const (
	// RejectionReasonNoToken means no credential was presented. No network call is made in this case.
	RejectionReasonNoToken RejectionReason = "no_token"

	// RejectionReasonUnauthorizedClient means the introspection endpoint refused our own client credentials.
	// It is an unauthenticated outcome for the caller, but a configuration concern for the operator.
	RejectionReasonUnauthorizedClient RejectionReason = "unauthorized_client"

	// RejectionReasonTokenInactive means the endpoint confirmed the token is not active.
	RejectionReasonTokenInactive RejectionReason = "token_inactive"
)

// AuthResult is a terminal result of a single authentication attempt.
// Token carries the original raw token and is set only on an authenticated outcome
// when the save-token behavior is configured.
type AuthResult struct {
	Authenticated bool
	Reason        RejectionReason
	Claims        map[string]string
	Token         string
}

// IntrospectorOpts is a set of options for creating Introspector.
type IntrospectorOpts struct {
	// HTTPClient is an HTTP client for doing requests
	// to the /.well-known/openid-configuration and introspection endpoints.
	HTTPClient *http.Client

	// Logger is a logger for logging errors and debug information.
	Logger log.FieldLogger

	// ClientAuthMethod is a client authentication method for the introspection call.
	// ClientAuthMethodSecretBasic is used by default.
	ClientAuthMethod ClientAuthMethod

	// PrivateKey is an RSA private key for signing client assertions
	// when ClientAuthMethod is ClientAuthMethodPrivateKeyJWT.
	PrivateKey *rsa.PrivateKey

	// RequireKeySet makes discovery fail when the authority publishes no JWKS URI.
	RequireKeySet bool

	// SaveToken attaches the original raw token to authenticated outcomes for downstream retrieval.
	SaveToken bool

	// Cache is a configuration of how the introspection result cache will be used.
	Cache IntrospectorCacheOpts

	// DiscoveryCacheTTL is a time-to-live for the cached discovery document.
	// Zero value means DefaultDiscoveryCacheTTL.
	DiscoveryCacheTTL time.Duration

	// PrometheusLibInstanceLabel is a label for Prometheus metrics.
	// It allows distinguishing metrics from different instances of the same library.
	PrometheusLibInstanceLabel string
}

// IntrospectorCacheOpts is a configuration of how the introspection result cache will be used.
type IntrospectorCacheOpts struct {
	Enabled    bool
	MaxEntries int
	TTL        time.Duration
}

// Introspector authenticates bearer tokens by delegating validity checks to the authority's
// introspection endpoint. It owns one discovery Resolver and one ResultCache shared by all
// concurrent authentication attempts.
type Introspector struct {
	resolver *Resolver
	client   *Client

	// Cache stores definitive introspection results. On a cache hit, Authenticate performs zero I/O.
	Cache ResultCache

	saveToken   bool
	logger      log.FieldLogger
	promMetrics *metrics.PrometheusMetrics
}

// NewIntrospector creates a new Introspector for the given authority and client credentials.
func NewIntrospector(authority, clientID, clientSecret string) (*Introspector, error) {
	return NewIntrospectorWithOpts(authority, clientID, clientSecret, IntrospectorOpts{})
}

// NewIntrospectorWithOpts creates a new Introspector for the given authority and client credentials.
// See IntrospectorOpts for more details.
func NewIntrospectorWithOpts(authority, clientID, clientSecret string, opts IntrospectorOpts) (*Introspector, error) {
	logger := idputil.PrepareLogger(opts.Logger)
	if opts.HTTPClient == nil {
		opts.HTTPClient = idputil.MakeDefaultHTTPClient(idputil.DefaultHTTPRequestTimeout, logger)
	}

	promMetrics := metrics.GetPrometheusMetrics(opts.PrometheusLibInstanceLabel, tokenIntrospectorPromSource)

	resolver, err := NewResolverWithOpts(authority, ResolverOpts{
		HTTPClient:                 opts.HTTPClient,
		Logger:                     opts.Logger,
		RequireKeySet:              opts.RequireKeySet,
		CacheTTL:                   opts.DiscoveryCacheTTL,
		PrometheusLibInstanceLabel: opts.PrometheusLibInstanceLabel,
	})
	if err != nil {
		return nil, fmt.Errorf("new discovery resolver: %w", err)
	}

	client, err := NewClientWithOpts(clientID, clientSecret, ClientOpts{
		HTTPClient:                 opts.HTTPClient,
		Logger:                     opts.Logger,
		AuthMethod:                 opts.ClientAuthMethod,
		PrivateKey:                 opts.PrivateKey,
		PrometheusLibInstanceLabel: opts.PrometheusLibInstanceLabel,
	})
	if err != nil {
		return nil, fmt.Errorf("new introspection client: %w", err)
	}

	// Building the result cache if needed.
	var resultCache ResultCache = &disabledResultCache{}
	if opts.Cache.Enabled {
		if opts.Cache.TTL == 0 {
			opts.Cache.TTL = DefaultCacheTTL
		}
		if opts.Cache.MaxEntries == 0 {
			opts.Cache.MaxEntries = DefaultCacheMaxEntries
		}
		cache, cacheErr := lrucache.New[[sha256.Size]byte, ResultCacheItem](
			opts.Cache.MaxEntries, promMetrics.TokenCache)
		if cacheErr != nil {
			return nil, cacheErr
		}
		resultCache = &lruResultCache{cache: cache, ttl: opts.Cache.TTL}
	}

	return &Introspector{
		resolver:    resolver,
		client:      client,
		Cache:       resultCache,
		saveToken:   opts.SaveToken,
		logger:      logger,
		promMetrics: promMetrics,
	}, nil
}

// Authenticate performs a single authentication attempt for the given bearer token.
// A non-nil error is returned only for system-level failures (discovery or transport),
// which the caller should surface differently from a normal authentication rejection.
// All definitive outcomes, including rejections, come back as AuthResult with a nil error.
func (i *Introspector) Authenticate(ctx context.Context, token string) (AuthResult, error) {
	if token == "" {
		return AuthResult{Reason: RejectionReasonNoToken}, nil
	}

	cacheKey := sha256.Sum256(strutil.StringToBytesUnsafe(token))

	if result, ok := i.Cache.Get(ctx, cacheKey); ok {
		return i.makeAuthResult(result, token), nil
	}

	doc, err := i.resolver.Resolve(ctx)
	if err != nil {
		i.promMetrics.IncTokenIntrospectionsTotal(metrics.TokenIntrospectionStatusDiscoveryError)
		return AuthResult{}, fmt.Errorf("resolve introspection endpoint: %w", err)
	}

	result, err := i.client.Introspect(ctx, token, doc)
	if err != nil {
		if errors.Is(err, ErrUnauthorizedClient) {
			i.logger.Error("introspection endpoint rejected client credentials, check client auth configuration",
				log.Error(err))
			i.promMetrics.IncTokenIntrospectionsTotal(metrics.TokenIntrospectionStatusUnauthorizedClient)
			return AuthResult{Reason: RejectionReasonUnauthorizedClient}, nil
		}
		i.promMetrics.IncTokenIntrospectionsTotal(metrics.TokenIntrospectionStatusError)
		return AuthResult{}, fmt.Errorf("introspect token: %w", err)
	}

	i.Cache.Put(ctx, cacheKey, result)

	return i.makeAuthResult(result, token), nil
}

// InvalidateDiscovery drops the cached discovery document,
// forcing the next authentication attempt to refetch it.
func (i *Introspector) InvalidateDiscovery() {
	i.resolver.Invalidate()
}

func (i *Introspector) makeAuthResult(result Result, token string) AuthResult {
	if !result.Active {
		i.promMetrics.IncTokenIntrospectionsTotal(metrics.TokenIntrospectionStatusNotActive)
		return AuthResult{Reason: RejectionReasonTokenInactive}
	}
	i.promMetrics.IncTokenIntrospectionsTotal(metrics.TokenIntrospectionStatusActive)
	authResult := AuthResult{Authenticated: true, Claims: result.Claims}
	if i.saveToken {
		authResult.Token = token
	}
	return authResult
}
