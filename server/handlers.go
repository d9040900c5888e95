package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/metric"
)

const maxRegisterBody = 64 << 10

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config     Config
	Logger     *slog.Logger
	Keys       *SigningKeyManager
	Clients    *ClientRegistry
	Codes      *AuthorizationCodeStore
	Tokens     *TokenIssuer
	Grants     *GrantValidator
	Authorizer *Authorizer
	Metrics    *Metrics
	Limiter    *IPRateLimiter
}

// NewApp wires together the application state from configuration. mp may be
// nil, in which case metrics are discarded.
func NewApp(cfg Config, logger *slog.Logger, mp metric.MeterProvider) (*App, error) {
	keys, err := NewSigningKeyManager(cfg.Security.KeyBits, logger)
	if err != nil {
		return nil, err
	}
	return newApp(cfg, logger, mp, keys)
}

func newApp(cfg Config, logger *slog.Logger, mp metric.MeterProvider, keys *SigningKeyManager) (*App, error) {
	metrics, err := NewMetrics(mp)
	if err != nil {
		return nil, err
	}

	clients := NewClientRegistry(NewMemoryClientStore(), cfg.Security.PasswordCost, cfg.Security.ReservedClientNames, logger)
	if err := clients.Seed(cfg.Clients); err != nil {
		return nil, fmt.Errorf("seed clients: %w", err)
	}

	codes := NewAuthorizationCodeStore(NewMemoryCodeStore(), cfg.Security.CodeTTL, logger)
	tokens := NewTokenIssuer(cfg.Server.PublicURL, keys, logger)

	limit := cfg.Security.TokenRateLimit
	return &App{
		Config:     cfg,
		Logger:     logger,
		Keys:       keys,
		Clients:    clients,
		Codes:      codes,
		Tokens:     tokens,
		Grants:     NewGrantValidator(clients, codes, tokens, metrics, logger),
		Authorizer: NewAuthorizer(clients, codes, metrics, logger),
		Metrics:    metrics,
		Limiter:    NewIPRateLimiter(limit.RequestsPerSecond, limit.Burst, 0, cfg.Server.TrustProxyHeaders, logger),
	}, nil
}

func (a *App) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, fmt.Errorf("%w: invalid form", ErrInvalidRequest))
		return
	}

	req := TokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		ClientID:     r.PostFormValue("client_id"),
		ClientSecret: r.PostFormValue("client_secret"),
		Scope:        r.PostFormValue("scope"),
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		CodeVerifier: r.PostFormValue("code_verifier"),
	}
	if id, secret, ok := r.BasicAuth(); ok {
		// Basic credentials are form-urlencoded before base64 (RFC 6749 2.3.1).
		var err error
		if req.ClientID, err = url.QueryUnescape(id); err != nil {
			writeError(w, fmt.Errorf("%w: malformed basic credentials", ErrInvalidClient))
			return
		}
		if req.ClientSecret, err = url.QueryUnescape(secret); err != nil {
			writeError(w, fmt.Errorf("%w: malformed basic credentials", ErrInvalidClient))
			return
		}
	}

	token, err := a.Grants.Exchange(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			a.Metrics.recordRateLimited(r.Context(), "client")
		}
		writeError(w, err)
		return
	}
	writeJSON(w, token)
}

type registerRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (a *App) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRegisterBody))
	if err := dec.Decode(&body); err != nil {
		writeError(w, fmt.Errorf("%w: invalid json body", ErrInvalidRequest))
		return
	}

	client, secret, err := a.Clients.Register(body.Name, body.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	a.Metrics.recordRegistered(r.Context())
	writeJSONStatus(w, http.StatusCreated, RegisteredClient{Client: client, Secret: secret})
}

func (a *App) handleGetClient(w http.ResponseWriter, r *http.Request) {
	id, ok := a.authorizeClientRoute(w, r)
	if !ok {
		return
	}
	client, found := a.Clients.Get(id)
	if !found {
		writeClientNotFound(w)
		return
	}
	writeJSON(w, client)
}

func (a *App) handleDeleteClient(w http.ResponseWriter, r *http.Request) {
	id, ok := a.authorizeClientRoute(w, r)
	if !ok {
		return
	}
	a.Clients.Delete(id)
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleRotateSecret(w http.ResponseWriter, r *http.Request) {
	id, ok := a.authorizeClientRoute(w, r)
	if !ok {
		return
	}
	secret, err := a.Clients.RotateSecret(id, "")
	if errors.Is(err, ErrInvalidClient) {
		writeClientNotFound(w)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	client, found := a.Clients.Get(id)
	if !found {
		writeClientNotFound(w)
		return
	}
	writeJSON(w, RegisteredClient{Client: client, Secret: secret})
}

// authorizeClientRoute checks that the bearer token was issued to the client
// named in the path.
func (a *App) authorizeClientRoute(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, ErrInvalidAuthHeader)
		return "", false
	}
	if err := claims.AuthorizeFor(id); err != nil {
		a.Logger.Warn("client resource access denied", "client_id", claims.ClientID, "resource", id)
		writeError(w, err)
		return "", false
	}
	return id, true
}

func (a *App) handleKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string][]KeyParams{"keys": {a.Keys.PublicParams()}})
}

func (a *App) handleJWKS(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.Keys.PublicJWKS())
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSONStatus(w, http.StatusNotFound, errorBody{Error: "not_found", Description: "resource not found"})
}

func handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSONStatus(w, http.StatusMethodNotAllowed, errorBody{Error: "method_not_allowed", Description: "method not allowed"})
}

func writeClientNotFound(w http.ResponseWriter) {
	writeJSONStatus(w, http.StatusNotFound, errorBody{Error: "not_found", Description: "client not found"})
}

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as an OAuth error body. Internal failures never
// leak their message.
func writeError(w http.ResponseWriter, err error) {
	status := StatusOf(err)
	body := errorBody{Error: CodeOf(err)}
	var e *Error
	if errors.As(err, &e) && status < http.StatusInternalServerError {
		body.Description = e.Message
	} else {
		body.Description = "internal error"
	}
	if status == http.StatusUnauthorized && body.Error == "invalid_token" {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	}
	writeJSONStatus(w, status, body)
}
