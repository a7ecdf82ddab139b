// SPDX-License-Identifier: MIT

package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTokenFromRequest_PriorityOrder(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example.local/ws?token=query-token&hf_token=legacy-token", nil)
	r.Header.Set("Authorization", "Bearer bearer-token ")

	if got := TokenFromRequest(r); got != "bearer-token" {
		t.Fatalf("TokenFromRequest() = %q, want %q", got, "bearer-token")
	}
}

func TestTokenFromRequest_QueryFallback(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example.local/ws?token=query-token&hf_token=legacy-token", nil)
	if got := TokenFromRequest(r); got != "query-token" {
		t.Fatalf("TokenFromRequest() = %q, want %q", got, "query-token")
	}
}

func TestTokenFromRequest_LegacyParam(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example.local/ws?hf_token=legacy-token", nil)
	if got := TokenFromRequest(r); got != "legacy-token" {
		t.Fatalf("TokenFromRequest() = %q, want %q", got, "legacy-token")
	}
}

func TestTokenFromRequest_Empty(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example.local/ws", nil)
	if got := TokenFromRequest(r); got != "" {
		t.Fatalf("TokenFromRequest() = %q, want empty", got)
	}
}

func TestAuthorizeSecret(t *testing.T) {
	if !AuthorizeSecret("secret", "secret") {
		t.Fatal("AuthorizeSecret should accept exact match")
	}
	if AuthorizeSecret("other", "secret") {
		t.Fatal("AuthorizeSecret should reject mismatch")
	}
	if AuthorizeSecret("", "secret") {
		t.Fatal("AuthorizeSecret should reject empty got secret")
	}
	if AuthorizeSecret("secret", "") {
		t.Fatal("AuthorizeSecret should reject empty expected secret")
	}
	if AuthorizeSecret("secret", "  ") {
		t.Fatal("AuthorizeSecret should reject blank expected secret")
	}
}

func TestSecretFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example.local/api/metrics?key=query-secret", nil)
	r.Header.Set("Authorization", "Bearer header-secret")
	if got := SecretFromRequest(r); got != "header-secret" {
		t.Fatalf("SecretFromRequest() = %q, want %q", got, "header-secret")
	}

	r = httptest.NewRequest(http.MethodGet, "http://example.local/api/metrics?key=query-secret", nil)
	if got := SecretFromRequest(r); got != "query-secret" {
		t.Fatalf("SecretFromRequest() = %q, want %q", got, "query-secret")
	}
}
