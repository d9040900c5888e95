package server

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
)

// DefaultCodeTTL bounds how long an unredeemed code stays valid.
const DefaultCodeTTL = 10 * time.Minute

// CodeChallengeMethod is the PKCE transform applied to the verifier.
type CodeChallengeMethod string

// CodeChallengeS256 is the only supported transform.
const CodeChallengeS256 CodeChallengeMethod = "S256"

// ParseCodeChallengeMethod accepts S256 only.
func ParseCodeChallengeMethod(s string) (CodeChallengeMethod, error) {
	if CodeChallengeMethod(s) != CodeChallengeS256 {
		return "", ErrInvalidCodeChallengeMethod
	}
	return CodeChallengeS256, nil
}

// AuthorizationCodeStore issues and redeems single-use authorization codes.
type AuthorizationCodeStore struct {
	store  CodeStore
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewAuthorizationCodeStore wraps store. A zero ttl uses DefaultCodeTTL.
func NewAuthorizationCodeStore(store CodeStore, ttl time.Duration, logger *slog.Logger) *AuthorizationCodeStore {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	return &AuthorizationCodeStore{store: store, ttl: ttl, now: time.Now, logger: logger}
}

// NewCode builds a code record with a fresh high-entropy value.
func (s *AuthorizationCodeStore) NewCode(clientID, ownerID, redirectURI, state string, scopes []Scope, challenge string, method CodeChallengeMethod) (AuthorizationCode, error) {
	value, err := newCodeValue()
	if err != nil {
		return AuthorizationCode{}, err
	}
	now := s.now()
	return AuthorizationCode{
		Code:                value,
		ClientID:            clientID,
		OwnerID:             ownerID,
		RedirectURI:         redirectURI,
		State:               state,
		Scopes:              scopes,
		CodeChallenge:       challenge,
		CodeChallengeMethod: method,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.ttl),
	}, nil
}

// Insert stores code by value.
func (s *AuthorizationCodeStore) Insert(code AuthorizationCode) {
	s.store.SaveCode(code)
}

// Redeem consumes code for clientID. Whatever the outcome, a code that was
// found is gone afterwards.
func (s *AuthorizationCodeStore) Redeem(code, clientID string) (AuthorizationCode, error) {
	auth, ok := s.store.TakeCode(code)
	if !ok {
		return AuthorizationCode{}, ErrInvalidCode
	}
	if auth.ClientID != clientID {
		s.logger.Warn("authorization code presented by wrong client", "client_id", clientID)
		return AuthorizationCode{}, ErrInvalidCode
	}
	if !auth.ExpiresAt.IsZero() && s.now().After(auth.ExpiresAt) {
		return AuthorizationCode{}, fmt.Errorf("%w: expired", ErrInvalidCode)
	}
	return auth, nil
}

// PurgeExpired drops stale codes and returns how many were removed.
func (s *AuthorizationCodeStore) PurgeExpired() int {
	return s.store.PurgeExpired(s.now())
}

// StartPurge launches a background ticker that drops expired codes.
func (s *AuthorizationCodeStore) StartPurge(every time.Duration, stop <-chan struct{}) {
	if every <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := s.PurgeExpired(); n > 0 {
					s.logger.Debug("expired authorization codes purged", "count", n)
				}
			case <-stop:
				return
			}
		}
	}()
}

// VerifyCodeChallenge checks a PKCE verifier against the challenge recorded
// in code.
func VerifyCodeChallenge(code AuthorizationCode, verifier string) error {
	if verifier == "" {
		return fmt.Errorf("%w: code_verifier required", ErrInvalidCode)
	}
	if code.CodeChallengeMethod != CodeChallengeS256 {
		return ErrInvalidCodeChallengeMethod
	}
	expected := oauth2.S256ChallengeFromVerifier(verifier)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(code.CodeChallenge)) != 1 {
		return fmt.Errorf("%w: pkce verification failed", ErrInvalidCode)
	}
	return nil
}

func newCodeValue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%w: generate code: %v", ErrSigningFailure, err)
	}
	return hex.EncodeToString(buf), nil
}
