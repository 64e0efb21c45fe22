/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package introspection

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/acronis/go-appkit/log"
	jwtgo "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/introkit/go-introkit/internal/idputil"
	"github.com/introkit/go-introkit/internal/metrics"
)

// ClientAuthMethod defines the OAuth2 client authentication method
// used when calling the introspection endpoint.
type ClientAuthMethod string

const (
	// ClientAuthMethodSecretBasic uses RFC 6749 client_secret_basic authentication.
	ClientAuthMethodSecretBasic ClientAuthMethod = "client_secret_basic"

	// ClientAuthMethodPrivateKeyJWT uses RFC 7523 private_key_jwt authentication.
	ClientAuthMethodPrivateKeyJWT ClientAuthMethod = "private_key_jwt"
)

// nolint:gosec // OAuth2 assertion-type URI constant, not a credential.
const clientAssertionTypeJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

const clientAssertionLifetime = time.Minute

// Result is a structured introspection result.
// ExpiresAt is derived from the lifetime hint returned by the endpoint ("expires_in" or "exp");
// zero value means the endpoint provided no token lifetime.
type Result struct {
	Active    bool
	Claims    map[string]string
	ExpiresAt time.Time
}

// ClientOpts is a set of options for creating Client.
type ClientOpts struct {
	// HTTPClient is an HTTP client for doing requests to the introspection endpoint.
	HTTPClient *http.Client

	// Logger is a logger for logging errors and debug information.
	Logger log.FieldLogger

	// AuthMethod is a client authentication method for the introspection call.
	// ClientAuthMethodSecretBasic is used by default.
	AuthMethod ClientAuthMethod

	// PrivateKey is an RSA private key for signing client assertions.
	// It is mandatory when AuthMethod is ClientAuthMethodPrivateKeyJWT.
	PrivateKey *rsa.PrivateKey

	// PrometheusLibInstanceLabel is a label for Prometheus metrics.
	// It allows distinguishing metrics from different instances of the same library.
	PrometheusLibInstanceLabel string
}

// Client performs the token status exchange against a resolved introspection endpoint,
// authenticating itself with the configured client credentials (not the introspected token).
// It is stateless per invocation.
type Client struct {
	clientID     string
	clientSecret string
	authMethod   ClientAuthMethod
	privateKey   *rsa.PrivateKey

	httpClient  *http.Client
	logger      log.FieldLogger
	promMetrics *metrics.PrometheusMetrics
}

// NewClient creates a new Client with the given client credentials and default options.
func NewClient(clientID, clientSecret string) (*Client, error) {
	return NewClientWithOpts(clientID, clientSecret, ClientOpts{})
}

// NewClientWithOpts creates a new Client with the given client credentials and options.
// See ClientOpts for more details.
func NewClientWithOpts(clientID, clientSecret string, opts ClientOpts) (*Client, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client ID is mandatory")
	}
	if opts.AuthMethod == "" {
		opts.AuthMethod = ClientAuthMethodSecretBasic
	}
	switch opts.AuthMethod {
	case ClientAuthMethodSecretBasic:
	case ClientAuthMethodPrivateKeyJWT:
		if opts.PrivateKey == nil {
			return nil, fmt.Errorf("private key is mandatory for %s client authentication", ClientAuthMethodPrivateKeyJWT)
		}
	default:
		return nil, fmt.Errorf("unknown client authentication method %q", opts.AuthMethod)
	}
	opts.Logger = idputil.PrepareLogger(opts.Logger)
	if opts.HTTPClient == nil {
		opts.HTTPClient = idputil.MakeDefaultHTTPClient(idputil.DefaultHTTPRequestTimeout, opts.Logger)
	}
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		authMethod:   opts.AuthMethod,
		privateKey:   opts.PrivateKey,
		httpClient:   opts.HTTPClient,
		logger:       opts.Logger,
		promMetrics:  metrics.GetPrometheusMetrics(opts.PrometheusLibInstanceLabel, "introspection_client"),
	}, nil
}

// Introspect sends a token status check request to the introspection endpoint from the given discovery document.
// It returns ErrUnauthorizedClient if the endpoint refuses the configured client credentials,
// and *UnexpectedIDPResponseError for other non-OK responses.
func (c *Client) Introspect(ctx context.Context, token string, doc DiscoveryDocument) (Result, error) {
	req, err := c.makeRequest(token, doc)
	if err != nil {
		return Result{}, err
	}

	startTime := time.Now()
	resp, err := c.httpClient.Do(req.WithContext(ctx))
	elapsed := time.Since(startTime)
	if err != nil {
		c.promMetrics.ObserveHTTPClientRequest(
			http.MethodPost, doc.IntrospectionEndpoint, 0, elapsed, metrics.HTTPRequestErrorDo)
		return Result{}, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if closeBodyErr := resp.Body.Close(); closeBodyErr != nil {
			c.logger.Error(fmt.Sprintf("closing response body error for POST %s", doc.IntrospectionEndpoint),
				log.Error(closeBodyErr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		c.promMetrics.ObserveHTTPClientRequest(http.MethodPost, doc.IntrospectionEndpoint,
			resp.StatusCode, elapsed, metrics.HTTPRequestErrorUnexpectedStatusCode)
		if resp.StatusCode == http.StatusUnauthorized {
			return Result{}, ErrUnauthorizedClient
		}
		return Result{}, &UnexpectedIDPResponseError{HTTPCode: resp.StatusCode, URL: doc.IntrospectionEndpoint}
	}

	result, err := decodeResult(resp.Body)
	if err != nil {
		c.promMetrics.ObserveHTTPClientRequest(http.MethodPost, doc.IntrospectionEndpoint,
			resp.StatusCode, elapsed, metrics.HTTPRequestErrorDecodeBody)
		return Result{}, fmt.Errorf("decode response body json for POST %s: %w", doc.IntrospectionEndpoint, err)
	}

	c.promMetrics.ObserveHTTPClientRequest(http.MethodPost, doc.IntrospectionEndpoint, resp.StatusCode, elapsed, "")
	return result, nil
}

func (c *Client) makeRequest(token string, doc DiscoveryDocument) (*http.Request, error) {
	if len(doc.TokenEndpointAuthMethods) != 0 && !authMethodSupported(doc.TokenEndpointAuthMethods, c.authMethod) {
		c.logger.AtLevel(log.LevelDebug, func(logFunc log.LogFunc) {
			logFunc(fmt.Sprintf("%s is not advertised in token_endpoint_auth_methods_supported", c.authMethod))
		})
	}

	values := url.Values{"token": {token}}

	if c.authMethod == ClientAuthMethodPrivateKeyJWT {
		assertion, err := c.makeClientAssertion(doc.IntrospectionEndpoint)
		if err != nil {
			return nil, fmt.Errorf("make client assertion: %w", err)
		}
		values.Set("client_id", c.clientID)
		values.Set("client_assertion_type", clientAssertionTypeJWTBearer)
		values.Set("client_assertion", assertion)
	}

	req, err := http.NewRequest(http.MethodPost, doc.IntrospectionEndpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if c.authMethod == ClientAuthMethodSecretBasic {
		req.SetBasicAuth(c.clientID, c.clientSecret)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

func (c *Client) makeClientAssertion(endpointURL string) (string, error) {
	now := time.Now()
	claims := jwtgo.RegisteredClaims{
		Issuer:    c.clientID,
		Subject:   c.clientID,
		Audience:  jwtgo.ClaimStrings{endpointURL},
		ID:        uuid.NewString(),
		IssuedAt:  jwtgo.NewNumericDate(now),
		ExpiresAt: jwtgo.NewNumericDate(now.Add(clientAssertionLifetime)),
	}
	return jwtgo.NewWithClaims(jwtgo.SigningMethodRS256, claims).SignedString(c.privateKey)
}

func authMethodSupported(supported []string, method ClientAuthMethod) bool {
	for i := range supported {
		if supported[i] == string(method) {
			return true
		}
	}
	return false
}

func decodeResult(body io.Reader) (Result, error) {
	decoder := json.NewDecoder(body)
	decoder.UseNumber()
	fields := make(map[string]interface{})
	if err := decoder.Decode(&fields); err != nil {
		return Result{}, err
	}

	result := Result{Claims: make(map[string]string)}
	if active, ok := fields["active"].(bool); ok {
		result.Active = active
	}
	result.ExpiresAt = expiresAtFromFields(fields)

	for key, val := range fields {
		switch key {
		case "active", "expires_in", "exp":
			continue
		}
		switch v := val.(type) {
		case string:
			result.Claims[key] = v
		case json.Number:
			result.Claims[key] = v.String()
		case bool:
			result.Claims[key] = strconv.FormatBool(v)
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				return Result{}, fmt.Errorf("marshal %q claim: %w", key, err)
			}
			result.Claims[key] = string(raw)
		}
	}
	return result, nil
}

// expiresAtFromFields maps the endpoint's lifetime hint to an absolute expiry.
// The relative "expires_in" hint takes precedence over the absolute "exp" claim.
func expiresAtFromFields(fields map[string]interface{}) time.Time {
	if expiresIn, ok := fields["expires_in"].(json.Number); ok {
		if secs, err := expiresIn.Int64(); err == nil {
			return time.Now().Add(time.Duration(secs) * time.Second)
		}
	}
	if exp, ok := fields["exp"].(json.Number); ok {
		if unixSecs, err := exp.Int64(); err == nil {
			return time.Unix(unixSecs, 0)
		}
	}
	return time.Time{}
}
