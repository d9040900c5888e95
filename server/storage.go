package server

import (
	"sync"
	"time"
)

// ClientStore persists client records. Implementations guard each call with
// their own critical section; callers never hold a lock across hashing.
type ClientStore interface {
	CreateClient(c Client)
	GetClient(id string) (Client, bool)
	UpdateClient(c Client) bool
	DeleteClient(id string)
	// IncrementFailures bumps the login failure counter and returns the new
	// value. ok is false when id is unknown.
	IncrementFailures(id string) (count int, ok bool)
	ResetFailures(id string) bool
	// BeginAttempt reserves one login attempt for id and returns a copy of the
	// client. It fails with ErrRateLimited once recorded failures plus
	// attempts in flight reach MaxLoginFailures.
	BeginAttempt(id string) (Client, error)
	// FinishAttempt settles a reservation. A failed attempt becomes a
	// recorded failure; a successful one clears the counter.
	FinishAttempt(id string, failed bool) (count int, ok bool)
}

// CodeStore persists authorization codes.
type CodeStore interface {
	SaveCode(code AuthorizationCode)
	// TakeCode fetches and deletes code in one critical section.
	TakeCode(code string) (AuthorizationCode, bool)
	PurgeExpired(now time.Time) int
}

// MemoryClientStore keeps clients in a map behind one mutex.
type MemoryClientStore struct {
	mu      sync.Mutex
	clients map[string]Client
	pending map[string]int
}

// NewMemoryClientStore constructs the store.
func NewMemoryClientStore() *MemoryClientStore {
	return &MemoryClientStore{clients: make(map[string]Client), pending: make(map[string]int)}
}

// CreateClient stores or replaces a client.
func (s *MemoryClientStore) CreateClient(c Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ID] = cloneClient(c)
}

// GetClient returns a copy of the stored client.
func (s *MemoryClientStore) GetClient(id string) (Client, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return Client{}, false
	}
	return cloneClient(c), true
}

// UpdateClient replaces an existing record. Unknown ids are ignored.
func (s *MemoryClientStore) UpdateClient(c Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c.ID]; !ok {
		return false
	}
	s.clients[c.ID] = cloneClient(c)
	return true
}

// DeleteClient removes a client.
func (s *MemoryClientStore) DeleteClient(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, id)
	delete(s.pending, id)
}

// IncrementFailures bumps the failure counter in place.
func (s *MemoryClientStore) IncrementFailures(id string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return 0, false
	}
	c.LoginFailures++
	s.clients[id] = c
	return c.LoginFailures, true
}

// ResetFailures zeroes the failure counter.
func (s *MemoryClientStore) ResetFailures(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return false
	}
	c.LoginFailures = 0
	s.clients[id] = c
	return true
}

// BeginAttempt reserves a login attempt under the store lock.
func (s *MemoryClientStore) BeginAttempt(id string) (Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return Client{}, ErrInvalidClient
	}
	if c.LoginFailures+s.pending[id] >= MaxLoginFailures {
		return Client{}, ErrRateLimited
	}
	s.pending[id]++
	return cloneClient(c), nil
}

// FinishAttempt releases the reservation taken by BeginAttempt.
func (s *MemoryClientStore) FinishAttempt(id string, failed bool) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := s.pending[id] - 1; n > 0 {
		s.pending[id] = n
	} else {
		delete(s.pending, id)
	}
	c, ok := s.clients[id]
	if !ok {
		return 0, false
	}
	if failed {
		c.LoginFailures++
	} else {
		c.LoginFailures = 0
	}
	s.clients[id] = c
	return c.LoginFailures, true
}

// Len returns the number of stored clients.
func (s *MemoryClientStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func cloneClient(c Client) Client {
	if c.SecretHash != nil {
		c.SecretHash = append([]byte(nil), c.SecretHash...)
	}
	if c.RedirectURIs != nil {
		c.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	}
	return c
}

// MemoryCodeStore keeps authorization codes in a map behind one mutex.
type MemoryCodeStore struct {
	mu    sync.Mutex
	codes map[string]AuthorizationCode
}

// NewMemoryCodeStore constructs the store.
func NewMemoryCodeStore() *MemoryCodeStore {
	return &MemoryCodeStore{codes: make(map[string]AuthorizationCode)}
}

// SaveCode stores code, overwriting any previous entry with the same value.
func (s *MemoryCodeStore) SaveCode(code AuthorizationCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code.Scopes = append([]Scope(nil), code.Scopes...)
	s.codes[code.Code] = code
}

// TakeCode fetches and removes a code.
func (s *MemoryCodeStore) TakeCode(code string) (AuthorizationCode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	auth, ok := s.codes[code]
	if !ok {
		return AuthorizationCode{}, false
	}
	delete(s.codes, code)
	return auth, true
}

// PurgeExpired drops codes that expired before now.
func (s *MemoryCodeStore) PurgeExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, c := range s.codes {
		if !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt) {
			delete(s.codes, k)
			n++
		}
	}
	return n
}

// Len returns the number of outstanding codes.
func (s *MemoryCodeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.codes)
}
