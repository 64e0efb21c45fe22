/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package introspection

import (
	"errors"
	"fmt"
)

// ErrDiscovery is returned when the OpenID configuration of the configured authority cannot be obtained.
// It is distinguishable from a normal authentication rejection:
// the caller cannot tell whether the presented token is valid, only that the dependency is unavailable.
// Nothing is cached on this path, the next authentication attempt retries discovery from scratch.
var ErrDiscovery = errors.New("introspection endpoint discovery failed")

// ErrUnauthorizedClient is returned when the introspection endpoint rejects
// the configured client credentials (not the introspected token).
var ErrUnauthorizedClient = errors.New("introspection endpoint rejected client credentials")

// UnexpectedIDPResponseError is an error representing an unexpected response from the introspection endpoint.
type UnexpectedIDPResponseError struct {
	HTTPCode int
	URL      string
}

func (e *UnexpectedIDPResponseError) Error() string {
	return fmt.Sprintf("%s responded with unexpected code %d", e.URL, e.HTTPCode)
}

func makeDiscoveryError(inner error) error {
	if inner != nil {
		return fmt.Errorf("%w: %w", ErrDiscovery, inner)
	}
	return ErrDiscovery
}
