/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package idptest

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
)

// IntrospectionHandler is an HTTP handler responding with token introspection results.
// By default it answers {"active": false} for every token; per-token results are set
// with SetTokenResult. If ClientID is non-empty, HTTP basic client authentication is required.
type IntrospectionHandler struct {
	servedCount atomic.Uint64

	ClientID     string
	ClientSecret string

	TokenIntrospector HTTPTokenIntrospector

	mu      sync.RWMutex
	results map[string]map[string]interface{}
}

// SetTokenResult sets the introspection response object for the given token.
func (h *IntrospectionHandler) SetTokenResult(token string, result map[string]interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.results == nil {
		h.results = make(map[string]map[string]interface{})
	}
	h.results[token] = result
}

// RemoveTokenResult removes the introspection response object for the given token.
func (h *IntrospectionHandler) RemoveTokenResult(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.results, token)
}

func (h *IntrospectionHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Only POST method is allowed", http.StatusMethodNotAllowed)
		return
	}

	h.servedCount.Add(1)

	if h.ClientID != "" {
		clientID, clientSecret, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(clientID), []byte(h.ClientID)) != 1 ||
			subtle.ConstantTimeCompare([]byte(clientSecret), []byte(h.ClientSecret)) != 1 {
			http.Error(rw, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	token := r.FormValue("token")
	if token == "" {
		http.Error(rw, "Token is required", http.StatusBadRequest)
		return
	}

	var result map[string]interface{}
	if h.TokenIntrospector != nil {
		var err error
		if result, err = h.TokenIntrospector.IntrospectToken(r, token); err != nil {
			if errors.Is(err, ErrUnauthorized) {
				http.Error(rw, "Unauthorized", http.StatusUnauthorized)
				return
			}
			http.Error(rw, fmt.Sprintf("Token introspection failed: %v", err), http.StatusInternalServerError)
			return
		}
	} else {
		h.mu.RLock()
		result = h.results[token]
		h.mu.RUnlock()
		if result == nil {
			result = map[string]interface{}{"active": false}
		}
	}

	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(result); err != nil {
		http.Error(rw, fmt.Sprintf("Error encoding response: %v", err), http.StatusInternalServerError)
		return
	}
}

// ServedCount returns the number of times the handler has been served.
func (h *IntrospectionHandler) ServedCount() uint64 {
	return h.servedCount.Load()
}

// ResetServedCount resets the number of times the handler has been served.
func (h *IntrospectionHandler) ResetServedCount() {
	h.servedCount.Store(0)
}
