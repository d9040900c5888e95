package server

import (
	"crypto/rsa"
	"errors"
	"math/big"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testIssuer = "http://grantd.test"

func newTestTokenIssuer(t *testing.T) *TokenIssuer {
	t.Helper()
	return NewTokenIssuer(testIssuer+"/", testKeys(t), discardLogger())
}

func TestGenerateTokenShape(t *testing.T) {
	ti := newTestTokenIssuer(t)
	client := Client{ID: "widget-id", Name: "widget"}

	tok, err := ti.Generate(ParseScopes("profile openid"), client, "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if tok.TokenType != "Bearer" {
		t.Fatalf("token_type = %q", tok.TokenType)
	}
	if tok.ExpiresIn != 3600 {
		t.Fatalf("expires_in = %d", tok.ExpiresIn)
	}
	if tok.Scope != "openid profile" {
		t.Fatalf("scope = %q", tok.Scope)
	}
	if tok.RefreshToken != "" {
		t.Fatalf("unexpected refresh token")
	}
}

func TestGenerateClaimsVerifyWithPublicParams(t *testing.T) {
	ti := newTestTokenIssuer(t)
	tok, err := ti.Generate(ParseScopes("openid"), Client{ID: "widget-id"}, "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// Rebuild the verification key from the published decimal parameters.
	params := ti.keys.PublicParams()
	n, _ := new(big.Int).SetString(params.N, 10)
	e, _ := strconv.Atoi(params.E)
	pub := &rsa.PublicKey{N: n, E: e}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(tok.AccessToken, claims, func(*jwt.Token) (any, error) {
		return pub, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil || !parsed.Valid {
		t.Fatalf("token did not verify with public params: %v", err)
	}

	iat, _ := claims.GetIssuedAt()
	exp, _ := claims.GetExpirationTime()
	if iat == nil || exp == nil {
		t.Fatalf("missing iat or exp: %v", claims)
	}
	if got := exp.Unix() - iat.Unix(); got != 3600 {
		t.Fatalf("exp - iat = %d, want 3600", got)
	}
	if claims["client_id"] != "widget-id" {
		t.Fatalf("client_id = %v", claims["client_id"])
	}
	if claims["scope"] != "openid" {
		t.Fatalf("scope = %v", claims["scope"])
	}
	if _, ok := claims["user_id"]; ok {
		t.Fatalf("client credentials token carries user_id")
	}
	if claims["iss"] != testIssuer {
		t.Fatalf("iss = %v", claims["iss"])
	}
	if claims["sub"] != "widget-id" {
		t.Fatalf("sub = %v", claims["sub"])
	}
}

func TestGenerateWithOwner(t *testing.T) {
	ti := newTestTokenIssuer(t)
	tok, err := ti.Generate(ParseScopes("openid email"), Client{ID: "widget-id"}, "user-42")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	claims, err := ti.Validate(tok.AccessToken)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.UserID != "user-42" || claims.Subject != "user-42" {
		t.Fatalf("owner not carried: %+v", claims)
	}
	if FormatScopes(claims.Scopes()) != "openid email" {
		t.Fatalf("scopes = %v", claims.Scopes())
	}
}

func TestGenerateEmptyScope(t *testing.T) {
	ti := newTestTokenIssuer(t)
	tok, err := ti.Generate(ParseScopes("admin"), Client{ID: "widget-id"}, "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if tok.Scope != "" {
		t.Fatalf("unknown scopes leaked into token: %q", tok.Scope)
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	ti := newTestTokenIssuer(t)
	issued := time.Now().Add(-2 * time.Hour)
	ti.now = func() time.Time { return issued }
	tok, err := ti.Generate(nil, Client{ID: "widget-id"}, "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	ti.now = time.Now
	if _, err := ti.Validate(tok.AccessToken); !errors.Is(err, ErrInvalidClient) {
		t.Fatalf("expired token error = %v", err)
	}
}

func TestValidateRejectsTampering(t *testing.T) {
	ti := newTestTokenIssuer(t)
	tok, err := ti.Generate(ParseScopes("openid"), Client{ID: "widget-id"}, "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	parts := strings.Split(tok.AccessToken, ".")
	if len(parts) != 3 {
		t.Fatalf("token is not a compact JWS")
	}
	forged := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	if _, err := ti.Validate(forged); !errors.Is(err, ErrInvalidClient) {
		t.Fatalf("forged token error = %v", err)
	}

	for _, raw := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := ti.Validate(raw); !errors.Is(err, ErrInvalidClient) {
			t.Fatalf("Validate(%q) error = %v", raw, err)
		}
	}
}

func TestValidateRejectsOtherIssuer(t *testing.T) {
	ti := newTestTokenIssuer(t)
	other := NewTokenIssuer("http://elsewhere.test", ti.keys, discardLogger())
	tok, err := other.Generate(nil, Client{ID: "widget-id"}, "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := ti.Validate(tok.AccessToken); !errors.Is(err, ErrInvalidClient) {
		t.Fatalf("foreign issuer error = %v", err)
	}
}

func TestValidateRejectsNoneAlgorithm(t *testing.T) {
	ti := newTestTokenIssuer(t)
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"client_id": "widget-id",
		"iss":       testIssuer,
		"exp":       time.Now().Add(time.Hour).Unix(),
	})
	token.Header["kid"] = ti.keys.KeyID()
	raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := ti.Validate(raw); !errors.Is(err, ErrInvalidClient) {
		t.Fatalf("alg=none token error = %v", err)
	}
}

func TestAuthorizeFor(t *testing.T) {
	claims := &AccessTokenClaims{ClientID: "abc"}
	if err := claims.AuthorizeFor("abc"); err != nil {
		t.Fatalf("owner rejected: %v", err)
	}
	if err := claims.AuthorizeFor("xyz"); !errors.Is(err, ErrInvalidResourceAccess) {
		t.Fatalf("other resource error = %v", err)
	}
	empty := &AccessTokenClaims{}
	if err := empty.AuthorizeFor(""); !errors.Is(err, ErrInvalidResourceAccess) {
		t.Fatalf("empty client id must never authorize")
	}
}
