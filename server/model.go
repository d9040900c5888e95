package server

import "time"

// Client records a registered API client. The secret hash and the login
// failure counter never leave the process.
type Client struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	CreatedAt     time.Time `json:"created_at"`
	RedirectURIs  []string  `json:"redirect_uris,omitempty"`
	SecretHash    []byte    `json:"-"`
	LoginFailures int       `json:"-"`
}

// AuthorizationCode is a single-use PKCE code issued after a resource owner
// approves a request.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	OwnerID             string
	RedirectURI         string
	State               string
	Scopes              []Scope
	CodeChallenge       string
	CodeChallengeMethod CodeChallengeMethod
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

// Token is returned once to the caller. The core keeps no record of it.
type Token struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// TokenRequest carries the token endpoint form fields.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	Scope        string
	Code         string
	RedirectURI  string
	CodeVerifier string
}

// RegisteredClient is the registration response: the client record plus the
// plaintext secret, shown exactly once.
type RegisteredClient struct {
	Client
	Secret string `json:"secret"`
}
