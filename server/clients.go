package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// MaxLoginFailures is the number of failed secret checks after which a client
// is rate limited.
const MaxLoginFailures = 5

const secretBytes = 32

// ClientRegistry manages registered API clients and their secrets.
type ClientRegistry struct {
	store    ClientStore
	cost     int
	reserved []string
	logger   *slog.Logger
}

// NewClientRegistry builds a registry on top of store. cost is the bcrypt
// work factor used for new secrets.
func NewClientRegistry(store ClientStore, cost int, reserved []string, logger *slog.Logger) *ClientRegistry {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &ClientRegistry{store: store, cost: cost, reserved: reserved, logger: logger}
}

// Seed installs pre-provisioned clients with fixed ids and secrets.
func (cr *ClientRegistry) Seed(cfgs []ClientConfig) error {
	for i, cfg := range cfgs {
		if cfg.ID == "" {
			return fmt.Errorf("clients[%d]: id required", i)
		}
		if cfg.Secret == "" {
			return fmt.Errorf("clients[%d] (%s): secret required", i, cfg.ID)
		}
		hash, err := hashSecret(cfg.Secret, cr.cost)
		if err != nil {
			return fmt.Errorf("clients[%d] (%s): %w", i, cfg.ID, err)
		}
		cr.store.CreateClient(Client{
			ID:           cfg.ID,
			Name:         cfg.Name,
			Description:  cfg.Description,
			CreatedAt:    time.Now().UTC(),
			RedirectURIs: append([]string(nil), cfg.RedirectURIs...),
			SecretHash:   hash,
		})
		cr.logger.Info("client seeded", "client_id", cfg.ID, "name", cfg.Name)
	}
	return nil
}

// Register creates a client and returns it with its plaintext secret. The
// secret is not retrievable afterwards.
func (cr *ClientRegistry) Register(name, description string) (Client, string, error) {
	if strings.TrimSpace(name) == "" || cr.isReserved(name) {
		return Client{}, "", ErrInvalidClientName
	}

	secret, err := generateSecret()
	if err != nil {
		return Client{}, "", err
	}
	hash, err := hashSecret(secret, cr.cost)
	if err != nil {
		return Client{}, "", err
	}

	client := Client{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
		SecretHash:  hash,
	}
	cr.store.CreateClient(client)
	cr.logger.Info("client registered", "client_id", client.ID, "name", name)
	return client, secret, nil
}

// Get looks up a client by id.
func (cr *ClientRegistry) Get(id string) (Client, bool) {
	return cr.store.GetClient(id)
}

// Update replaces a stored client. Unknown ids are silently ignored.
func (cr *ClientRegistry) Update(client Client) {
	if !cr.store.UpdateClient(client) {
		cr.logger.Debug("update of unknown client ignored", "client_id", client.ID)
	}
}

// Delete removes a client. Deleting an unknown id is not an error.
func (cr *ClientRegistry) Delete(id string) {
	cr.store.DeleteClient(id)
	cr.logger.Info("client deleted", "client_id", id)
}

// RecordFailure increments the login failure counter of id.
func (cr *ClientRegistry) RecordFailure(id string) int {
	n, ok := cr.store.IncrementFailures(id)
	if ok && n >= MaxLoginFailures {
		cr.logger.Warn("client rate limited", "client_id", id, "failures", n)
	}
	return n
}

// BeginAttempt reserves a login attempt for id. See ClientStore.BeginAttempt.
func (cr *ClientRegistry) BeginAttempt(id string) (Client, error) {
	return cr.store.BeginAttempt(id)
}

// FinishAttempt settles a reservation from BeginAttempt and returns the
// resulting failure count.
func (cr *ClientRegistry) FinishAttempt(id string, failed bool) int {
	n, ok := cr.store.FinishAttempt(id, failed)
	if ok && failed && n >= MaxLoginFailures {
		cr.logger.Warn("client rate limited", "client_id", id, "failures", n)
	}
	return n
}

// ResetFailures clears the login failure counter of id.
func (cr *ClientRegistry) ResetFailures(id string) {
	cr.store.ResetFailures(id)
}

// RotateSecret replaces the secret of id with secret, or a fresh one when
// secret is empty, and returns the plaintext. The failure counter is reset.
func (cr *ClientRegistry) RotateSecret(id, secret string) (string, error) {
	client, ok := cr.store.GetClient(id)
	if !ok {
		return "", ErrInvalidClient
	}
	plain, err := client.RotateSecret(secret, cr.cost)
	if err != nil {
		return "", err
	}
	client.LoginFailures = 0
	if !cr.store.UpdateClient(client) {
		return "", ErrInvalidClient
	}
	cr.logger.Info("client secret rotated", "client_id", id)
	return plain, nil
}

func (cr *ClientRegistry) isReserved(name string) bool {
	for _, r := range cr.reserved {
		if strings.EqualFold(strings.TrimSpace(name), r) {
			return true
		}
	}
	return false
}

// ValidateSecret checks the rate limit first and then the secret. It does not
// mutate the client; recording the failure is the caller's job.
func (c *Client) ValidateSecret(secret string) error {
	if c.LoginFailures >= MaxLoginFailures {
		return ErrRateLimited
	}
	if len(c.SecretHash) == 0 {
		return ErrInvalidSecret
	}
	if err := bcrypt.CompareHashAndPassword(c.SecretHash, []byte(secret)); err != nil {
		return ErrInvalidSecret
	}
	return nil
}

// IncrementLoginFailures records one failed verification on the value.
func (c *Client) IncrementLoginFailures() {
	c.LoginFailures++
}

// RotateSecret replaces the stored hash and returns the plaintext secret.
func (c *Client) RotateSecret(secret string, cost int) (string, error) {
	if secret == "" {
		var err error
		if secret, err = generateSecret(); err != nil {
			return "", err
		}
	}
	hash, err := hashSecret(secret, cost)
	if err != nil {
		return "", err
	}
	c.SecretHash = hash
	return secret, nil
}

func generateSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%w: generate secret: %v", ErrSigningFailure, err)
	}
	return hex.EncodeToString(buf), nil
}

func hashSecret(secret string, cost int) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, fmt.Errorf("%w: secret too long", ErrInvalidRequest)
		}
		return nil, fmt.Errorf("%w: hash secret: %v", ErrSigningFailure, err)
	}
	return hash, nil
}
