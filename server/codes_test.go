package server

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func newTestCodeStore(t *testing.T) (*AuthorizationCodeStore, *MemoryCodeStore) {
	t.Helper()
	mem := NewMemoryCodeStore()
	return NewAuthorizationCodeStore(mem, 0, discardLogger()), mem
}

func issueTestCode(t *testing.T, s *AuthorizationCodeStore, clientID, verifier string) AuthorizationCode {
	t.Helper()
	code, err := s.NewCode(clientID, "owner-1", "https://app.example/cb", "xyz",
		ParseScopes("openid email"), oauth2.S256ChallengeFromVerifier(verifier), CodeChallengeS256)
	if err != nil {
		t.Fatalf("NewCode: %v", err)
	}
	s.Insert(code)
	return code
}

func TestRedeemIsSingleUse(t *testing.T) {
	store, mem := newTestCodeStore(t)
	code := issueTestCode(t, store, "client-a", oauth2.GenerateVerifier())

	got, err := store.Redeem(code.Code, "client-a")
	if err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if got.OwnerID != "owner-1" || FormatScopes(got.Scopes) != "openid email" {
		t.Fatalf("unexpected redeemed code: %+v", got)
	}
	if _, err := store.Redeem(code.Code, "client-a"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("second redeem error = %v, want ErrInvalidCode", err)
	}
	if mem.Len() != 0 {
		t.Fatalf("code still stored after redemption")
	}
}

func TestConcurrentRedeemHasOneWinner(t *testing.T) {
	store, _ := newTestCodeStore(t)
	code := issueTestCode(t, store, "client-a", oauth2.GenerateVerifier())

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := store.Redeem(code.Code, "client-a"); err == nil {
				winners.Add(1)
			} else if !errors.Is(err, ErrInvalidCode) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := winners.Load(); got != 1 {
		t.Fatalf("%d successful redemptions, want 1", got)
	}
}

func TestRedeemByWrongClientConsumesCode(t *testing.T) {
	store, _ := newTestCodeStore(t)
	code := issueTestCode(t, store, "client-a", oauth2.GenerateVerifier())

	if _, err := store.Redeem(code.Code, "client-b"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("wrong client redeem error = %v", err)
	}
	if _, err := store.Redeem(code.Code, "client-a"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("code survived a redemption attempt by another client")
	}
}

func TestRedeemUnknownCode(t *testing.T) {
	store, _ := newTestCodeStore(t)
	if _, err := store.Redeem("nope", "client-a"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("unknown code error = %v", err)
	}
}

func TestRedeemExpiredCode(t *testing.T) {
	store, mem := newTestCodeStore(t)
	now := time.Now()
	store.now = func() time.Time { return now }
	code := issueTestCode(t, store, "client-a", oauth2.GenerateVerifier())

	store.now = func() time.Time { return now.Add(DefaultCodeTTL + time.Second) }
	if _, err := store.Redeem(code.Code, "client-a"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expired code error = %v", err)
	}
	if mem.Len() != 0 {
		t.Fatalf("expired code not removed")
	}
}

func TestPurgeExpired(t *testing.T) {
	store, mem := newTestCodeStore(t)
	now := time.Now()
	store.now = func() time.Time { return now }
	issueTestCode(t, store, "client-a", oauth2.GenerateVerifier())
	issueTestCode(t, store, "client-a", oauth2.GenerateVerifier())

	if n := store.PurgeExpired(); n != 0 {
		t.Fatalf("purged %d live codes", n)
	}
	store.now = func() time.Time { return now.Add(time.Hour) }
	if n := store.PurgeExpired(); n != 2 {
		t.Fatalf("purged %d codes, want 2", n)
	}
	if mem.Len() != 0 {
		t.Fatalf("codes left after purge: %d", mem.Len())
	}
}

func TestVerifyCodeChallenge(t *testing.T) {
	verifier := oauth2.GenerateVerifier()
	code := AuthorizationCode{
		CodeChallenge:       oauth2.S256ChallengeFromVerifier(verifier),
		CodeChallengeMethod: CodeChallengeS256,
	}

	if err := VerifyCodeChallenge(code, verifier); err != nil {
		t.Fatalf("valid verifier rejected: %v", err)
	}
	if err := VerifyCodeChallenge(code, oauth2.GenerateVerifier()); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("wrong verifier error = %v", err)
	}
	if err := VerifyCodeChallenge(code, ""); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("missing verifier error = %v", err)
	}

	code.CodeChallengeMethod = "plain"
	if err := VerifyCodeChallenge(code, verifier); !errors.Is(err, ErrInvalidCodeChallengeMethod) {
		t.Fatalf("plain method error = %v", err)
	}
}

func TestParseCodeChallengeMethod(t *testing.T) {
	if m, err := ParseCodeChallengeMethod("S256"); err != nil || m != CodeChallengeS256 {
		t.Fatalf("S256 rejected: %v", err)
	}
	for _, in := range []string{"", "plain", "s256"} {
		if _, err := ParseCodeChallengeMethod(in); !errors.Is(err, ErrInvalidCodeChallengeMethod) {
			t.Fatalf("ParseCodeChallengeMethod(%q) error = %v", in, err)
		}
	}
}

func TestCodeValuesAreUnique(t *testing.T) {
	store, _ := newTestCodeStore(t)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code := issueTestCode(t, store, "client-a", "verifier-verifier-verifier-verifier-verifier")
		if seen[code.Code] {
			t.Fatalf("duplicate code value %q", code.Code)
		}
		seen[code.Code] = true
	}
}
