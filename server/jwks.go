package server

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinKeyBits is the smallest RSA modulus accepted for the signing key.
const MinKeyBits = 2048

// KeyParams are the public components of the signing key. N and E are
// decimal strings.
type KeyParams struct {
	KeyType   string `json:"kty"`
	Use       string `json:"use"`
	N         string `json:"n"`
	E         string `json:"e"`
	KeyID     string `json:"kid"`
	Algorithm string `json:"alg"`
}

// SigningKeyManager owns the process signing key. The key is generated once
// and is read-only afterwards, so it is shared without locking.
type SigningKeyManager struct {
	key       *rsa.PrivateKey
	jwk       jose.JSONWebKey
	kid       string
	createdAt time.Time
	logger    *slog.Logger
}

// NewSigningKeyManager generates a fresh RSA key pair.
func NewSigningKeyManager(bits int, logger *slog.Logger) (*SigningKeyManager, error) {
	if bits < MinKeyBits {
		return nil, fmt.Errorf("%w: rsa key must be at least %d bits, got %d", ErrSigningFailure, MinKeyBits, bits)
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("%w: generate key: %v", ErrSigningFailure, err)
	}
	kid := uuid.NewString()
	m := &SigningKeyManager{
		key:       key,
		jwk:       jose.JSONWebKey{Key: &key.PublicKey, KeyID: kid, Algorithm: string(jose.RS256), Use: "sig"},
		kid:       kid,
		createdAt: time.Now(),
		logger:    logger,
	}
	logger.Info("signing key generated", "kid", kid, "bits", bits)
	return m, nil
}

// KeyID returns the identifier placed in every token header.
func (m *SigningKeyManager) KeyID() string { return m.kid }

// Algorithm returns the JWS algorithm tag.
func (m *SigningKeyManager) Algorithm() string { return jwt.SigningMethodRS256.Alg() }

// PublicParams exposes the modulus and exponent in decimal.
func (m *SigningKeyManager) PublicParams() KeyParams {
	return KeyParams{
		KeyType:   "RSA",
		Use:       "sig",
		N:         m.key.PublicKey.N.String(),
		E:         fmt.Sprintf("%d", m.key.PublicKey.E),
		KeyID:     m.kid,
		Algorithm: m.Algorithm(),
	}
}

// PublicJWKS exposes the public key for the key document endpoint.
func (m *SigningKeyManager) PublicJWKS() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{m.jwk.Public()}}
}

// PublicKey returns the verification key.
func (m *SigningKeyManager) PublicKey() *rsa.PublicKey {
	return &m.key.PublicKey
}

// Sign signs claims and returns the compact token.
func (m *SigningKeyManager) Sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = m.kid
	signed, err := token.SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigningFailure, err)
	}
	return signed, nil
}

// Keyfunc is used during JWT validation. Tokens naming a different kid are
// rejected.
func (m *SigningKeyManager) Keyfunc(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if kid != m.kid {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	return &m.key.PublicKey, nil
}

// Verify checks the signature of token and returns its claims. Expiry is
// enforced by the parser when an exp claim is present.
func (m *SigningKeyManager) Verify(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, m.Keyfunc,
		jwt.WithValidMethods([]string{m.Algorithm()}),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClient, err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("%w: token invalid", ErrInvalidClient)
	}
	return claims, nil
}
