package main

import (
	"crypto/tls"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"grantd/server"
)

func TestRunConfigInitWritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	if err := runConfigInit(path); err != nil {
		t.Fatalf("runConfigInit returned error: %v", err)
	}

	cfg, err := server.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig after init: %v", err)
	}
	if len(cfg.Clients) != 1 {
		t.Fatalf("expected one seeded client, got %d", len(cfg.Clients))
	}
	if cfg.Clients[0].Name != "Grant" || cfg.Clients[0].Secret == "" {
		t.Fatalf("unexpected seeded client: %+v", cfg.Clients[0])
	}
	if cfg.Security.CodeTTL != server.DefaultCodeTTL {
		t.Fatalf("code ttl did not round trip: %s", cfg.Security.CodeTTL)
	}
}

func TestRunConfigInitRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := runConfigInit(path); err != nil {
		t.Fatalf("first init: %v", err)
	}
	if err := runConfigInit(path); err == nil {
		t.Fatalf("expected error when config already exists")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), logger); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestTLSVersion(t *testing.T) {
	if got := tlsVersion("1.3"); got != tls.VersionTLS13 {
		t.Fatalf("tlsVersion(1.3) = %x", got)
	}
	if got := tlsVersion("1.2"); got != tls.VersionTLS12 {
		t.Fatalf("tlsVersion(1.2) = %x", got)
	}
	if got := tlsVersion(""); got != tls.VersionTLS12 {
		t.Fatalf("tlsVersion(\"\") = %x", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"Warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"ERR":     slog.LevelError,
	}

	for input, want := range tests {
		got, err := parseLogLevel(input)
		if err != nil {
			t.Fatalf("parseLogLevel(%q) returned error: %v", input, err)
		}
		if got != want {
			t.Fatalf("parseLogLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestParseLogLevelInvalid(t *testing.T) {
	if _, err := parseLogLevel("trace"); err == nil {
		t.Fatalf("expected error for unsupported level")
	}
}
