/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package introspection provides bearer-token authentication
// by delegating token validity checks to a remote OAuth2 token introspection endpoint (RFC 7662).
// The introspection endpoint is discovered via the authority's /.well-known/openid-configuration document,
// and definitive introspection results (both active and inactive) may be cached with a TTL
// that is reconciled against the token lifetime reported by the endpoint.
package introspection
