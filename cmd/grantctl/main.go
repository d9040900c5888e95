// Command grantctl registers clients with a grantd server and fetches tokens.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const usage = `usage: grantctl [-server URL] <command> [flags]

commands:
  register  -name NAME [-description TEXT]
  token     -client-id ID -client-secret SECRET [-scope "openid profile"]
  keys
`

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(context.Background(), os.Args[1:], os.Stdout, http.DefaultClient); err != nil {
		logger.Error("grantctl failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer, httpClient *http.Client) error {
	global := flag.NewFlagSet("grantctl", flag.ContinueOnError)
	serverURL := global.String("server", envOr("GRANTD_URL", "http://127.0.0.1:8080"), "grantd base URL")
	timeout := global.Duration("timeout", 10*time.Second, "request timeout")
	global.Usage = func() { fmt.Fprint(global.Output(), usage) }
	if err := global.Parse(args); err != nil {
		return err
	}
	rest := global.Args()
	if len(rest) == 0 {
		global.Usage()
		return errors.New("command required")
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	base := strings.TrimSuffix(*serverURL, "/")
	switch rest[0] {
	case "register":
		return runRegister(ctx, base, rest[1:], out, httpClient)
	case "token":
		return runToken(ctx, base, rest[1:], out, httpClient)
	case "keys":
		return fetchJSON(ctx, httpClient, base+"/oauth/keys", out)
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", rest[0])
	}
}

func runRegister(ctx context.Context, base string, args []string, out io.Writer, httpClient *http.Client) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	name := fs.String("name", "", "client name")
	description := fs.String("description", "", "client description")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return errors.New("-name is required")
	}

	body, err := json.Marshal(map[string]string{"name": *name, "description": *description})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/oauth/clients", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("register client: %w", err)
	}
	defer resp.Body.Close()
	return copyResponse(resp, http.StatusCreated, out)
}

func runToken(ctx context.Context, base string, args []string, out io.Writer, httpClient *http.Client) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	clientID := fs.String("client-id", os.Getenv("GRANTD_CLIENT_ID"), "client id")
	clientSecret := fs.String("client-secret", os.Getenv("GRANTD_CLIENT_SECRET"), "client secret")
	scope := fs.String("scope", "", "space separated scopes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *clientID == "" || *clientSecret == "" {
		return errors.New("-client-id and -client-secret are required")
	}

	cfg := clientcredentials.Config{
		ClientID:     *clientID,
		ClientSecret: *clientSecret,
		TokenURL:     base + "/oauth/token",
		Scopes:       strings.Fields(*scope),
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	tok, err := cfg.Token(ctx)
	if err != nil {
		return fmt.Errorf("fetch token: %w", err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"access_token": tok.AccessToken,
		"token_type":   tok.TokenType,
		"expiry":       tok.Expiry.UTC().Format(time.RFC3339),
		"scope":        tok.Extra("scope"),
	})
}

func fetchJSON(ctx context.Context, httpClient *http.Client, url string, out io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()
	return copyResponse(resp, http.StatusOK, out)
}

func copyResponse(resp *http.Response, want int, out io.Writer) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != want {
		return fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	_, err = out.Write(data)
	return err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
