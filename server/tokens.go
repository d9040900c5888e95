package server

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenTTL is the fixed lifetime of issued access tokens.
const AccessTokenTTL = 3600 * time.Second

// AccessTokenClaims captures the JWT claims we mint and validate.
type AccessTokenClaims struct {
	ClientID string `json:"client_id"`
	UserID   string `json:"user_id,omitempty"`
	Scope    string `json:"scope"`
	jwt.RegisteredClaims
}

// TokenIssuer signs access tokens with the process signing key.
type TokenIssuer struct {
	issuer string
	keys   *SigningKeyManager
	now    func() time.Time
	logger *slog.Logger
}

// NewTokenIssuer constructs a TokenIssuer.
func NewTokenIssuer(issuer string, keys *SigningKeyManager, logger *slog.Logger) *TokenIssuer {
	return &TokenIssuer{
		issuer: strings.TrimSuffix(issuer, "/"),
		keys:   keys,
		now:    time.Now,
		logger: logger,
	}
}

// Generate builds and signs the claim set for client, optionally on behalf of
// a resource owner.
func (ti *TokenIssuer) Generate(scopes []Scope, client Client, ownerID string) (Token, error) {
	// One clock read so that exp - iat is exactly the TTL.
	issuedAt := ti.now().UTC().Truncate(time.Second)
	scope := FormatScopes(scopes)

	claims := AccessTokenClaims{
		ClientID: client.ID,
		UserID:   ownerID,
		Scope:    scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ti.issuer,
			Subject:   subjectFor(client.ID, ownerID),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(AccessTokenTTL)),
		},
	}

	signed, err := ti.keys.Sign(claims)
	if err != nil {
		ti.logger.Error("sign access token", "client_id", client.ID, "error", err)
		return Token{}, err
	}

	return Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(AccessTokenTTL / time.Second),
		Scope:       scope,
	}, nil
}

// Validate parses and validates an access token minted by this issuer.
func (ti *TokenIssuer) Validate(token string) (*AccessTokenClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{ti.keys.Algorithm()}),
		jwt.WithIssuer(ti.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ti.now),
	}
	tok, err := jwt.ParseWithClaims(token, &AccessTokenClaims{}, ti.keys.Keyfunc, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClient, err)
	}
	claims, ok := tok.Claims.(*AccessTokenClaims)
	if !ok || !tok.Valid {
		return nil, fmt.Errorf("%w: invalid token", ErrInvalidClient)
	}
	return claims, nil
}

// AuthorizeFor succeeds when claims were issued to clientID.
func (c *AccessTokenClaims) AuthorizeFor(clientID string) error {
	if c.ClientID == "" || c.ClientID != clientID {
		return ErrInvalidResourceAccess
	}
	return nil
}

// Scopes returns the granted scopes.
func (c *AccessTokenClaims) Scopes() []Scope {
	return ParseScopes(c.Scope)
}

func subjectFor(clientID, ownerID string) string {
	if ownerID != "" {
		return ownerID
	}
	return clientID
}
