package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
)

// AuthorizeRequest holds the authorization endpoint query parameters as
// collected by the consent collaborator.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	State               string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// AuthorizeContext is a validated authorization request, ready to be shown to
// the resource owner and approved.
type AuthorizeContext struct {
	ClientID            string
	ClientName          string
	RedirectURI         string
	State               string
	Scopes              []Scope
	CodeChallenge       string
	CodeChallengeMethod CodeChallengeMethod
}

// Approval is the outcome of an approved request.
type Approval struct {
	Code        string
	RedirectURL string
}

// Authorizer validates authorization requests and turns approvals into codes.
type Authorizer struct {
	clients *ClientRegistry
	codes   *AuthorizationCodeStore
	metrics *Metrics
	logger  *slog.Logger
}

// NewAuthorizer constructs an Authorizer. metrics may be nil.
func NewAuthorizer(clients *ClientRegistry, codes *AuthorizationCodeStore, metrics *Metrics, logger *slog.Logger) *Authorizer {
	return &Authorizer{clients: clients, codes: codes, metrics: metrics, logger: logger}
}

// ValidateRequest checks the client, redirect target, response type and PKCE
// parameters.
func (a *Authorizer) ValidateRequest(req AuthorizeRequest) (AuthorizeContext, error) {
	if req.ClientID == "" {
		return AuthorizeContext{}, fmt.Errorf("%w: client_id required", ErrInvalidRequest)
	}
	client, ok := a.clients.Get(req.ClientID)
	if !ok {
		return AuthorizeContext{}, ErrInvalidClient
	}
	if !isSafeRedirectURI(req.RedirectURI) {
		return AuthorizeContext{}, fmt.Errorf("%w: invalid redirect_uri", ErrInvalidRequest)
	}
	if len(client.RedirectURIs) > 0 && !slices.Contains(client.RedirectURIs, req.RedirectURI) {
		return AuthorizeContext{}, fmt.Errorf("%w: redirect_uri not registered", ErrInvalidRequest)
	}
	if req.ResponseType != "code" {
		return AuthorizeContext{}, fmt.Errorf("%w: unsupported response_type", ErrInvalidRequest)
	}
	method, err := ParseCodeChallengeMethod(req.CodeChallengeMethod)
	if err != nil {
		return AuthorizeContext{}, err
	}
	if req.CodeChallenge == "" {
		return AuthorizeContext{}, fmt.Errorf("%w: code_challenge required", ErrInvalidRequest)
	}

	return AuthorizeContext{
		ClientID:            client.ID,
		ClientName:          client.Name,
		RedirectURI:         req.RedirectURI,
		State:               req.State,
		Scopes:              ParseScopes(req.Scope),
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: method,
	}, nil
}

// Approve records the resource owner's consent and returns the code together
// with the redirect the owner's browser should follow.
func (a *Authorizer) Approve(ctx context.Context, authCtx AuthorizeContext, ownerID string) (Approval, error) {
	if ownerID == "" {
		return Approval{}, fmt.Errorf("%w: resource owner required", ErrInvalidRequest)
	}
	redirect, err := url.Parse(authCtx.RedirectURI)
	if err != nil {
		return Approval{}, fmt.Errorf("%w: invalid redirect_uri", ErrInvalidRequest)
	}

	code, err := a.codes.NewCode(authCtx.ClientID, ownerID, authCtx.RedirectURI, authCtx.State,
		authCtx.Scopes, authCtx.CodeChallenge, authCtx.CodeChallengeMethod)
	if err != nil {
		return Approval{}, err
	}
	a.codes.Insert(code)
	a.metrics.recordCodeIssued(ctx)
	a.logger.Info("authorization code issued", "client_id", authCtx.ClientID, "owner_id", ownerID)

	values := redirect.Query()
	values.Set("code", code.Code)
	if authCtx.State != "" {
		values.Set("state", authCtx.State)
	}
	redirect.RawQuery = values.Encode()
	return Approval{Code: code.Code, RedirectURL: redirect.String()}, nil
}

// isSafeRedirectURI rejects non-HTTP schemes, credentials in the authority
// and fragments. Clients without registered redirect URIs accept any target
// that passes here; pinning the target to the client is then up to the
// consent collaborator.
func isSafeRedirectURI(uri string) bool {
	if uri == "" || strings.HasPrefix(uri, "//") {
		return false
	}
	u, err := url.Parse(uri)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.Host == "" || u.User != nil || u.Fragment != "" {
		return false
	}
	return !strings.Contains(u.Host, "@")
}
