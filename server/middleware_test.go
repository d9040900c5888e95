package server

import (
	"crypto/tls"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		err    error
	}{
		{"Bearer abc", "abc", nil},
		{"", "", ErrInvalidAuthHeader},
		{"Bearer", "", ErrInvalidAuthHeader},
		{"Bearer ", "", ErrInvalidAuthHeader},
		{"Bearer a b", "", ErrInvalidAuthHeader},
		{"Basic abc", "", ErrInvalidAuthType},
		{"bearer abc", "", ErrInvalidAuthType},
	}
	for _, tt := range tests {
		got, err := extractBearerToken(tt.header)
		if !errors.Is(err, tt.err) || got != tt.want {
			t.Fatalf("extractBearerToken(%q) = %q, %v; want %q, %v", tt.header, got, err, tt.want, tt.err)
		}
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	h := SecurityHeadersMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Fatalf("HSTS sent over plain HTTP")
	}
	if w.Header().Get("Cache-Control") != "no-store" || w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing security headers: %v", w.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.TLS = &tls.ConnectionState{}
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Header().Get("Strict-Transport-Security") == "" {
		t.Fatalf("HSTS missing over TLS")
	}
}

func TestBearerAuthMiddlewareStoresClaims(t *testing.T) {
	ti := newTestTokenIssuer(t)
	tok, err := ti.Generate(ParseScopes("openid"), Client{ID: "svc"}, "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	var seen *AccessTokenClaims
	h := BearerAuthMiddleware(ti)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK || seen == nil || seen.ClientID != "svc" {
		t.Fatalf("claims not propagated: status %d, claims %+v", w.Code, seen)
	}
	if _, ok := ClaimsFromContext(req.Context()); ok {
		t.Fatalf("claims leaked into the caller's context")
	}
}
