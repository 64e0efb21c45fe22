/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package idptest provides a simple HTTP server mimicking an OAuth2 authority
// with OpenID discovery and token introspection endpoints.
package idptest
