// Package config loads and saves the cloudctl YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	VersionV1 = "v1"

	DefaultAuthorizePath   = "/oauth/authorize"
	DefaultTokenPath       = "/oauth/token"
	DefaultRedirectURI     = "http://127.0.0.1:8484/callback"
	DefaultCallbackTimeout = 5 * time.Minute
	DefaultExpiryBuffer    = 2 * time.Minute
	DefaultKeychainService = "cloudctl"
	DefaultKeychainAccount = "default"
)

type Config struct {
	Version  string     `yaml:"version"`
	Auth     AuthConfig `yaml:"auth"`
	Settings Settings   `yaml:"settings,omitempty"`
}

type Settings struct {
	OutputFormat    string `yaml:"output-format,omitempty"`
	NoBrowser       bool   `yaml:"no-browser,omitempty"`
	MetricsTextfile string `yaml:"metrics-textfile,omitempty"`
}

// AuthConfig describes the cloud service cloudctl logs in to. Durations are
// Go duration strings such as "5m".
type AuthConfig struct {
	BaseURL         string            `yaml:"base-url"`
	AuthorizePath   string            `yaml:"authorize-path,omitempty"`
	TokenPath       string            `yaml:"token-path,omitempty"`
	ClientID        string            `yaml:"client-id"`
	RedirectURI     string            `yaml:"redirect-uri,omitempty"`
	PortRange       string            `yaml:"port-range,omitempty"`
	Scopes          []string          `yaml:"scopes,omitempty"`
	CallbackTimeout string            `yaml:"callback-timeout,omitempty"`
	ExpiryBuffer    string            `yaml:"expiry-buffer,omitempty"`
	StateBytes      int               `yaml:"state-bytes,omitempty"`
	Discovery       bool              `yaml:"discovery,omitempty"`
	CAFile          string            `yaml:"ca-file,omitempty"`
	InsecureSkipTLS bool              `yaml:"insecure-skip-tls-verify,omitempty"`
	KeychainService string            `yaml:"keychain-service,omitempty"`
	KeychainAccount string            `yaml:"keychain-account,omitempty"`
	ExtraAuthParams map[string]string `yaml:"extra-auth-params,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Version: VersionV1,
		Auth: AuthConfig{
			AuthorizePath:   DefaultAuthorizePath,
			TokenPath:       DefaultTokenPath,
			RedirectURI:     DefaultRedirectURI,
			Scopes:          []string{"openid", "profile", "email", "offline_access"},
			CallbackTimeout: DefaultCallbackTimeout.String(),
			ExpiryBuffer:    DefaultExpiryBuffer.String(),
			KeychainService: DefaultKeychainService,
			KeychainAccount: DefaultKeychainAccount,
		},
		Settings: Settings{
			OutputFormat: "table",
		},
	}
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	content, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, content, 0o600)
}

func (c *Config) Validate() error {
	if c.Version != VersionV1 {
		return fmt.Errorf("unsupported config version %q", c.Version)
	}
	return c.Auth.Validate()
}

// Validate checks what can be checked without building the authenticator.
// Loopback and scheme rules for the redirect URI are enforced by pkg/auth.
func (a *AuthConfig) Validate() error {
	if strings.TrimSpace(a.BaseURL) == "" {
		return errors.New("auth.base-url is required")
	}
	if u, err := url.Parse(a.BaseURL); err != nil || u.Host == "" {
		return fmt.Errorf("auth.base-url %q is not a valid URL", a.BaseURL)
	}
	if strings.TrimSpace(a.ClientID) == "" {
		return errors.New("auth.client-id is required")
	}
	if _, err := a.CallbackTimeoutDuration(); err != nil {
		return err
	}
	if _, err := a.ExpiryBufferDuration(); err != nil {
		return err
	}
	if a.StateBytes < 0 {
		return errors.New("auth.state-bytes cannot be negative")
	}
	if a.PortRange != "" {
		if _, _, err := ParsePortRange(a.PortRange); err != nil {
			return err
		}
	}
	return nil
}

func (a *AuthConfig) CallbackTimeoutDuration() (time.Duration, error) {
	return parseDuration("auth.callback-timeout", a.CallbackTimeout, DefaultCallbackTimeout)
}

func (a *AuthConfig) ExpiryBufferDuration() (time.Duration, error) {
	return parseDuration("auth.expiry-buffer", a.ExpiryBuffer, DefaultExpiryBuffer)
}

func parseDuration(key, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, value)
	}
	return d, nil
}

// ParsePortRange parses "8484-8494" or a single port "8484".
func ParsePortRange(value string) (first, last int, err error) {
	lo, hi, found := strings.Cut(strings.TrimSpace(value), "-")
	first, err = strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port range %q", value)
	}
	last = first
	if found {
		last, err = strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return 0, 0, fmt.Errorf("invalid port range %q", value)
		}
	}
	if first < 1 || last > 65535 || first > last {
		return 0, 0, fmt.Errorf("invalid port range %q", value)
	}
	return first, last, nil
}
