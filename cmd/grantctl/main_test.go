package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"grantd/server"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.Security.PasswordCost = bcrypt.MinCost
	cfg.Security.TokenRateLimit = server.RateLimitConfig{}

	app, err := server.NewApp(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	srv := httptest.NewServer(app.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func TestRegisterThenToken(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	var out bytes.Buffer
	if err := run(ctx, []string{"-server", srv.URL, "register", "-name", "widget"}, &out, srv.Client()); err != nil {
		t.Fatalf("register: %v", err)
	}
	var registered struct {
		ID     string `json:"id"`
		Secret string `json:"secret"`
	}
	if err := json.Unmarshal(out.Bytes(), &registered); err != nil {
		t.Fatalf("decode register output: %v (%q)", err, out.String())
	}

	out.Reset()
	args := []string{"-server", srv.URL, "token", "-client-id", registered.ID, "-client-secret", registered.Secret, "-scope", "openid profile"}
	if err := run(ctx, args, &out, srv.Client()); err != nil {
		t.Fatalf("token: %v", err)
	}
	var tok map[string]any
	if err := json.Unmarshal(out.Bytes(), &tok); err != nil {
		t.Fatalf("decode token output: %v", err)
	}
	if tok["token_type"] != "Bearer" || tok["scope"] != "openid profile" {
		t.Fatalf("unexpected token output: %v", tok)
	}
}

func TestTokenWithWrongSecret(t *testing.T) {
	srv := newTestServer(t)
	args := []string{"-server", srv.URL, "token", "-client-id", "ghost", "-client-secret", "nope"}
	if err := run(context.Background(), args, io.Discard, srv.Client()); err == nil {
		t.Fatalf("expected error for unknown client")
	}
}

func TestKeysCommand(t *testing.T) {
	srv := newTestServer(t)
	var out bytes.Buffer
	if err := run(context.Background(), []string{"-server", srv.URL, "keys"}, &out, srv.Client()); err != nil {
		t.Fatalf("keys: %v", err)
	}
	if !strings.Contains(out.String(), `"kty":"RSA"`) {
		t.Fatalf("unexpected keys output: %s", out.String())
	}
}

func TestUsageErrors(t *testing.T) {
	client := &http.Client{}
	cases := [][]string{
		{},
		{"bogus"},
		{"register"},
		{"token", "-client-id", "x"},
	}
	for _, args := range cases {
		if err := run(context.Background(), args, io.Discard, client); err == nil {
			t.Fatalf("run(%v) succeeded", args)
		}
	}
}
