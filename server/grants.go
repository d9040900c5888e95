package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// GrantType is the OAuth2 flow a token request claims to use.
type GrantType int

const (
	GrantClientCredentials GrantType = iota + 1
	GrantAuthorizationCode
)

func (g GrantType) String() string {
	switch g {
	case GrantClientCredentials:
		return "client_credentials"
	case GrantAuthorizationCode:
		return "authorization_code"
	default:
		return "unknown"
	}
}

// ParseGrantType maps the grant_type parameter to a GrantType.
func ParseGrantType(s string) (GrantType, error) {
	switch s {
	case "client_credentials":
		return GrantClientCredentials, nil
	case "authorization_code":
		return GrantAuthorizationCode, nil
	default:
		return 0, ErrInvalidGrantType
	}
}

// GrantValidator turns token requests into signed tokens. Each request is
// validated independently.
type GrantValidator struct {
	clients *ClientRegistry
	codes   *AuthorizationCodeStore
	issuer  *TokenIssuer
	metrics *Metrics
	logger  *slog.Logger
}

// NewGrantValidator wires the validator to its collaborators. metrics may be nil.
func NewGrantValidator(clients *ClientRegistry, codes *AuthorizationCodeStore, issuer *TokenIssuer, metrics *Metrics, logger *slog.Logger) *GrantValidator {
	return &GrantValidator{clients: clients, codes: codes, issuer: issuer, metrics: metrics, logger: logger}
}

// Exchange validates req and issues a token.
func (gv *GrantValidator) Exchange(ctx context.Context, req TokenRequest) (Token, error) {
	token, grant, err := gv.exchange(ctx, req)
	if err != nil {
		gv.metrics.recordFailure(ctx, err)
		return Token{}, err
	}
	gv.metrics.recordIssued(ctx, grant)
	gv.logger.Info("token issued", "client_id", req.ClientID, "grant_type", grant.String(), "scope", token.Scope)
	return token, nil
}

func (gv *GrantValidator) exchange(ctx context.Context, req TokenRequest) (Token, GrantType, error) {
	grant, err := ParseGrantType(req.GrantType)
	if err != nil {
		return Token{}, 0, err
	}

	client, err := gv.Authenticate(req.ClientID, req.ClientSecret)
	if err != nil {
		return Token{}, grant, err
	}

	var (
		scopes  []Scope
		ownerID string
	)
	switch grant {
	case GrantClientCredentials:
		scopes = ParseScopes(req.Scope)
	case GrantAuthorizationCode:
		code, err := gv.redeem(req, client.ID)
		if err != nil {
			return Token{}, grant, err
		}
		gv.metrics.recordRedeemed(ctx)
		scopes = code.Scopes
		ownerID = code.OwnerID
	}

	// The code, if any, stays consumed when signing fails.
	token, err := gv.issuer.Generate(scopes, client, ownerID)
	if err != nil {
		return Token{}, grant, err
	}
	return token, grant, nil
}

// Authenticate verifies client credentials. Each check holds a reservation
// in the store so concurrent guesses cannot exceed the failure limit. A wrong
// secret becomes a recorded failure; a correct one resets the counter.
func (gv *GrantValidator) Authenticate(clientID, secret string) (Client, error) {
	if clientID == "" {
		return Client{}, ErrInvalidClient
	}
	client, err := gv.clients.BeginAttempt(clientID)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			gv.logger.Warn("client authentication rejected", "client_id", clientID, "error", err)
		}
		return Client{}, err
	}

	// bcrypt runs on a copy, outside any store lock.
	err = client.ValidateSecret(secret)
	failed := errors.Is(err, ErrInvalidSecret)
	n := gv.clients.FinishAttempt(client.ID, failed)
	if err != nil {
		if failed {
			gv.logger.Warn("client authentication failed", "client_id", client.ID, "failures", n)
		} else {
			gv.logger.Warn("client authentication rejected", "client_id", client.ID, "error", err)
		}
		return Client{}, err
	}
	client.LoginFailures = 0
	return client, nil
}

func (gv *GrantValidator) redeem(req TokenRequest, clientID string) (AuthorizationCode, error) {
	if req.Code == "" {
		return AuthorizationCode{}, fmt.Errorf("%w: code required", ErrInvalidCode)
	}
	code, err := gv.codes.Redeem(req.Code, clientID)
	if err != nil {
		return AuthorizationCode{}, err
	}
	if code.RedirectURI != "" && code.RedirectURI != req.RedirectURI {
		return AuthorizationCode{}, fmt.Errorf("%w: redirect_uri mismatch", ErrInvalidCode)
	}
	if err := VerifyCodeChallenge(code, req.CodeVerifier); err != nil {
		return AuthorizationCode{}, err
	}
	return code, nil
}
