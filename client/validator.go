// Package client verifies grantd access tokens inside resource servers.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultLeeway is the clock skew tolerated on exp and iat.
const DefaultLeeway = 30 * time.Second

var (
	ErrTokenRequired = errors.New("token required")
	ErrTokenExpired  = errors.New("token expired")
	ErrWrongIssuer   = errors.New("token issuer mismatch")
)

// ValidatorConfig configures the token validator.
type ValidatorConfig struct {
	// Issuer is the grantd public URL. When set, the iss claim must match.
	Issuer string
	// JWKSURL defaults to Issuer + "/.well-known/jwks.json".
	JWKSURL    string
	Leeway     time.Duration
	HTTPClient *http.Client
	Now        func() time.Time
}

// Validator verifies grantd-signed access tokens against the published key set.
type Validator struct {
	cfg  ValidatorConfig
	keys *oidc.RemoteKeySet
}

// Claims is a simplified view of validated token claims.
type Claims struct {
	Subject   string
	Issuer    string
	ClientID  string
	UserID    string
	Scopes    []string
	TokenID   string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

type wireClaims struct {
	ClientID string `json:"client_id"`
	UserID   string `json:"user_id"`
	Scope    string `json:"scope"`
	jwt.RegisteredClaims
}

// NewValidator creates a validator. ctx carries the HTTP client used for key
// fetches and must outlive the validator.
func NewValidator(ctx context.Context, cfg ValidatorConfig) (*Validator, error) {
	cfg.Issuer = strings.TrimSuffix(cfg.Issuer, "/")
	if cfg.JWKSURL == "" {
		if cfg.Issuer == "" {
			return nil, errors.New("issuer or jwks url required")
		}
		cfg.JWKSURL = cfg.Issuer + "/.well-known/jwks.json"
	}
	if cfg.Leeway == 0 {
		cfg.Leeway = DefaultLeeway
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, cfg.HTTPClient)
	}
	return &Validator{cfg: cfg, keys: oidc.NewRemoteKeySet(ctx, cfg.JWKSURL)}, nil
}

// Validate checks the signature, issuer and expiry of rawToken.
func (v *Validator) Validate(ctx context.Context, rawToken string) (*Claims, error) {
	if rawToken == "" {
		return nil, ErrTokenRequired
	}

	payload, err := v.keys.VerifySignature(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("verify signature: %w", err)
	}

	var wc wireClaims
	if err := json.Unmarshal(payload, &wc); err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}

	if v.cfg.Issuer != "" && wc.Issuer != v.cfg.Issuer {
		return nil, ErrWrongIssuer
	}
	if wc.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: exp missing", ErrTokenExpired)
	}
	now := v.cfg.Now()
	if now.After(wc.ExpiresAt.Add(v.cfg.Leeway)) {
		return nil, ErrTokenExpired
	}

	claims := &Claims{
		Subject:   wc.Subject,
		Issuer:    wc.Issuer,
		ClientID:  wc.ClientID,
		UserID:    wc.UserID,
		Scopes:    strings.Fields(wc.Scope),
		TokenID:   wc.ID,
		ExpiresAt: wc.ExpiresAt.Time,
	}
	if wc.IssuedAt != nil {
		claims.IssuedAt = wc.IssuedAt.Time
	}
	return claims, nil
}

// HasScopes ensures the claims include the required scopes.
func (c *Claims) HasScopes(required ...string) error {
	have := make(map[string]struct{}, len(c.Scopes))
	for _, sc := range c.Scopes {
		have[sc] = struct{}{}
	}
	for _, need := range required {
		if _, ok := have[need]; !ok {
			return fmt.Errorf("missing scope %s", need)
		}
	}
	return nil
}

// RequireAuth middleware validates tokens and injects claims into context.
func RequireAuth(v *Validator, requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "invalid authorization header", http.StatusUnauthorized)
				return
			}

			claims, err := v.Validate(r.Context(), strings.TrimSpace(parts[1]))
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if err := claims.HasScopes(requiredScopes...); err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope"`)
				http.Error(w, err.Error(), http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

// ClaimsFromContext retrieves claims attached by the middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok
}

type claimsKey struct{}
