/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package idptest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
)

// OpenIDConfigurationHandler is an HTTP handler that responds with the authority's OpenID configuration.
// Failure injection via SetFailure allows simulating a temporarily broken authority.
type OpenIDConfigurationHandler struct {
	servedCount              atomic.Uint64
	failureHTTPCode          atomic.Int64
	OmitJWKSURI              bool
	OmitIntrospectionURL     bool
	IntrospectionEndpointURL string
	JWKSURL                  string
}

func (h *OpenIDConfigurationHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(rw, "Only GET method is allowed", http.StatusMethodNotAllowed)
		return
	}

	h.servedCount.Add(1)

	if code := h.failureHTTPCode.Load(); code != 0 {
		http.Error(rw, "Service is unavailable", int(code))
		return
	}

	openIDCfg := OpenIDConfigurationResponse{
		IntrospectionEndpoint: h.IntrospectionEndpointURL,
		JWKSURI:               h.JWKSURL,
	}
	if h.OmitJWKSURI {
		openIDCfg.JWKSURI = ""
	}
	if h.OmitIntrospectionURL {
		openIDCfg.IntrospectionEndpoint = ""
	}
	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(openIDCfg); err != nil {
		http.Error(rw, fmt.Sprintf("Error encoding response: %v", err), http.StatusInternalServerError)
		return
	}
}

// SetFailure makes the handler respond with the given HTTP status code to all subsequent requests.
// Passing 0 restores normal behavior.
func (h *OpenIDConfigurationHandler) SetFailure(httpCode int) {
	h.failureHTTPCode.Store(int64(httpCode))
}

// ServedCount returns the number of times the handler has been served.
func (h *OpenIDConfigurationHandler) ServedCount() uint64 {
	return h.servedCount.Load()
}

// ResetServedCount resets the number of times the handler has been served.
func (h *OpenIDConfigurationHandler) ResetServedCount() {
	h.servedCount.Store(0)
}

// OpenIDConfigurationResponse is a response for .well-known/openid-configuration endpoint.
type OpenIDConfigurationResponse struct {
	IntrospectionEndpoint string `json:"introspection_endpoint,omitempty"`
	JWKSURI               string `json:"jwks_uri,omitempty"`
}
