/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package idputil provides utilities for working with identity providers.
package idputil
