package server

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Security defaults
const (
	DefaultPasswordCost = 10
	DefaultKeyBits      = 2048
	DefaultTokenRPS     = 10
	DefaultTokenBurst   = 20
	DefaultPurgeEvery   = time.Minute
)

// DefaultReservedClientNames may never be used by dynamically registered clients.
var DefaultReservedClientNames = []string{"Grant Azure"}

// Config captures the full application configuration loaded from YAML and environment variables.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Security SecurityConfig `yaml:"security"`
	Clients  []ClientConfig `yaml:"clients"`
}

// ServerConfig controls listener, TLS, and HTTP concerns.
type ServerConfig struct {
	PublicURL         string    `yaml:"public_url"`
	ListenAddr        string    `yaml:"listen_addr"`
	HTTPListenAddr    string    `yaml:"http_listen_addr"`
	HTTPSListenAddr   string    `yaml:"https_listen_addr"`
	DevMode           bool      `yaml:"dev_mode"`
	TrustProxyHeaders bool      `yaml:"trust_proxy_headers"`
	MetricsAddr       string    `yaml:"metrics_addr"`
	TLS               TLSConfig `yaml:"tls"`
}

// TLSConfig defines autocert behaviour and TLS constraints.
type TLSConfig struct {
	Domains    []string `yaml:"domains"`
	Email      string   `yaml:"email"`
	CacheDir   string   `yaml:"cache_dir"`
	MinVersion string   `yaml:"min_version"`
}

// SecurityConfig tunes hashing, keys and abuse protection.
type SecurityConfig struct {
	PasswordCost        int             `yaml:"password_cost"`
	KeyBits             int             `yaml:"key_bits"`
	CodeTTL             time.Duration   `yaml:"code_ttl"`
	ReservedClientNames []string        `yaml:"reserved_client_names"`
	TokenRateLimit      RateLimitConfig `yaml:"token_rate_limit"`
}

// RateLimitConfig configures the per-IP token bucket on the token endpoint.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// ClientConfig describes a pre-provisioned client.
type ClientConfig struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Secret       string   `yaml:"secret"`
	RedirectURIs []string `yaml:"redirect_uris,omitempty"`
}

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		sanitized := stripYAMLComments(b)

		decoder := yaml.NewDecoder(bytes.NewReader(sanitized))
		decoder.KnownFields(true)

		if err := decoder.Decode(&cfg); err != nil {
			if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
				slog.Error("Configuration contains unknown keys", "error", err, "file", path)
				return Config{}, fmt.Errorf("invalid config: %w (check for typos or deprecated fields)", err)
			}
			slog.Error("Failed to parse configuration", "error", err, "file", path)
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PublicURL:       "http://127.0.0.1:8080",
			ListenAddr:      "127.0.0.1:8080",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			DevMode:         true,
			TLS: TLSConfig{
				Domains:    []string{"localhost"},
				CacheDir:   ".secrets/tls",
				MinVersion: "1.2",
			},
		},
		Security: SecurityConfig{
			PasswordCost:        DefaultPasswordCost,
			KeyBits:             DefaultKeyBits,
			CodeTTL:             DefaultCodeTTL,
			ReservedClientNames: append([]string(nil), DefaultReservedClientNames...),
			TokenRateLimit: RateLimitConfig{
				RequestsPerSecond: DefaultTokenRPS,
				Burst:             DefaultTokenBurst,
			},
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

func stripYAMLComments(in []byte) []byte {
	lines := bytes.Split(in, []byte("\n"))
	out := make([][]byte, 0, len(lines))
	for _, line := range lines {
		trim := bytes.TrimLeft(line, " \t")
		if len(trim) > 0 && trim[0] == '#' {
			continue
		}
		out = append(out, line)
	}
	return bytes.Join(out, []byte("\n"))
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"GRANTD_SERVER_PUBLIC_URL":        func(v string) { cfg.Server.PublicURL = v },
		"GRANTD_SERVER_LISTEN_ADDR":       func(v string) { cfg.Server.ListenAddr = v },
		"GRANTD_SERVER_HTTP_LISTEN_ADDR":  func(v string) { cfg.Server.HTTPListenAddr = v },
		"GRANTD_SERVER_HTTPS_LISTEN_ADDR": func(v string) { cfg.Server.HTTPSListenAddr = v },
		"GRANTD_SERVER_METRICS_ADDR":      func(v string) { cfg.Server.MetricsAddr = v },
		"GRANTD_SERVER_DEV_MODE":          func(v string) { cfg.Server.DevMode = parseBool(v, cfg.Server.DevMode) },
		"GRANTD_SERVER_TLS_DOMAINS":       func(v string) { cfg.Server.TLS.Domains = splitAndTrim(v) },
		"GRANTD_SERVER_TLS_EMAIL":         func(v string) { cfg.Server.TLS.Email = v },
		"GRANTD_PASSWORD_COST":            func(v string) { cfg.Security.PasswordCost = parseInt(v, cfg.Security.PasswordCost) },
		"GRANTD_SECURITY_CODE_TTL":        func(v string) { cfg.Security.CodeTTL = parseDuration(v, cfg.Security.CodeTTL) },
		"GRANTD_SECURITY_RESERVED_NAMES":  func(v string) { cfg.Security.ReservedClientNames = splitAndTrim(v) },
	}

	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok {
			fn(val)
		}
	}
}

func parseDuration(val string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(val string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return fallback
	}
	return n
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate performs sanity checks on the config.
func (c Config) Validate() error {
	if c.Server.PublicURL == "" {
		slog.Error("Missing required configuration", "field", "server.public_url")
		return errors.New("server.public_url is required")
	}

	if !strings.HasPrefix(c.Server.PublicURL, "http://") && !strings.HasPrefix(c.Server.PublicURL, "https://") {
		slog.Error("Invalid configuration value", "field", "server.public_url", "value", c.Server.PublicURL, "reason", "must start with http:// or https://")
		return fmt.Errorf("server.public_url must start with http:// or https://, got: %s", c.Server.PublicURL)
	}

	if !c.Server.DevMode && len(c.Server.TLS.Domains) == 0 {
		slog.Error("Missing required configuration for production mode", "field", "server.tls.domains")
		return errors.New("server.tls.domains must be provided in production")
	}

	if c.Server.TLS.MinVersion != "" {
		validVersions := map[string]bool{"1.2": true, "1.3": true}
		if !validVersions[c.Server.TLS.MinVersion] {
			slog.Error("Invalid TLS minimum version", "field", "server.tls.min_version", "value", c.Server.TLS.MinVersion, "valid_values", []string{"1.2", "1.3"})
			return fmt.Errorf("server.tls.min_version must be '1.2' or '1.3', got: %s", c.Server.TLS.MinVersion)
		}
	}

	if c.Security.PasswordCost < bcrypt.MinCost || c.Security.PasswordCost > bcrypt.MaxCost {
		slog.Error("Invalid password cost", "field", "security.password_cost", "value", c.Security.PasswordCost)
		return fmt.Errorf("security.password_cost must be between %d and %d, got: %d", bcrypt.MinCost, bcrypt.MaxCost, c.Security.PasswordCost)
	}

	if c.Security.KeyBits < MinKeyBits {
		slog.Error("Signing key too small", "field", "security.key_bits", "value", c.Security.KeyBits)
		return fmt.Errorf("security.key_bits must be at least %d, got: %d", MinKeyBits, c.Security.KeyBits)
	}

	if c.Security.CodeTTL <= 0 {
		slog.Error("Invalid code TTL", "field", "security.code_ttl", "value", c.Security.CodeTTL)
		return fmt.Errorf("security.code_ttl must be positive, got: %s", c.Security.CodeTTL)
	}

	if c.Security.TokenRateLimit.RequestsPerSecond < 0 || c.Security.TokenRateLimit.Burst < 0 {
		slog.Error("Invalid token rate limit", "field", "security.token_rate_limit")
		return errors.New("security.token_rate_limit values must not be negative")
	}

	seen := make(map[string]bool, len(c.Clients))
	for i, client := range c.Clients {
		if client.ID == "" {
			slog.Error("Client missing id", "index", i)
			return fmt.Errorf("clients[%d]: id is required", i)
		}
		if client.Secret == "" {
			slog.Error("Client missing secret", "client_id", client.ID, "index", i)
			return fmt.Errorf("clients[%d] (%s): secret is required", i, client.ID)
		}
		if seen[client.ID] {
			slog.Error("Duplicate client id", "client_id", client.ID, "index", i)
			return fmt.Errorf("clients[%d] (%s): duplicate id", i, client.ID)
		}
		seen[client.ID] = true
		for _, uri := range client.RedirectURIs {
			if !isSafeRedirectURI(uri) {
				slog.Error("Invalid redirect URI", "client_id", client.ID, "value", uri)
				return fmt.Errorf("clients[%d] (%s): invalid redirect_uri %q", i, client.ID, uri)
			}
		}
	}

	return nil
}
