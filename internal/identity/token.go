// SPDX-License-Identifier: MIT

package identity

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenFromRequest retrieves the caller token from the request.
// Lookup order:
//  1. Authorization: Bearer <token>
//  2. Query: ?token=
//  3. Query: ?hf_token= (legacy clients)
func TokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return r.URL.Query().Get("hf_token")
}

// AuthorizeSecret returns true if got matches expected using constant-time
// comparison. Empty secrets are always unauthorized.
func AuthorizeSecret(got, expected string) bool {
	if strings.TrimSpace(expected) == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

// SecretFromRequest extracts the operator secret from either the
// Authorization header or the ?key= query parameter.
func SecretFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return r.URL.Query().Get("key")
}
