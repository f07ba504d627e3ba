// Package auth authenticates HTTP requests and rate-limits principals.
//
// Three modes are supported: api_key (X-API-Key header mapped to a user
// through a static KEY:USER table), bearer (JWT HS256 with the subject
// claim as the user id), and hybrid (bearer when an Authorization header
// is present, api_key otherwise). Providers are chained: the first one
// that recognizes the request's credential shape authenticates it, and a
// request no provider recognizes is unauthenticated rather than
// forbidden, so handlers can distinguish 401 from 403.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Standard authentication errors. Handlers map ErrMissingCredentials to
// 401 and ErrInvalidCredentials to 403.
var (
	// ErrMissingCredentials indicates the request carried no credential a
	// configured provider recognizes.
	ErrMissingCredentials = errors.New("auth: no credentials presented")

	// ErrInvalidCredentials indicates a credential was presented but does
	// not map to a principal (unknown key, bad signature, expired token).
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

// Mode selects which credential types the service accepts.
type Mode string

const (
	// ModeAPIKey accepts only the X-API-Key header.
	ModeAPIKey Mode = "api_key"

	// ModeBearer accepts only Authorization: Bearer JWTs.
	ModeBearer Mode = "bearer"

	// ModeHybrid prefers a bearer token and falls back to the api key.
	ModeHybrid Mode = "hybrid"
)

// Config contains authentication configuration.
type Config struct {
	// Mode selects the accepted credential types.
	Mode Mode `mapstructure:"mode" yaml:"mode" validate:"required,oneof=api_key bearer hybrid"`

	// APIKeys maps keys to user ids as "KEY:USER[,KEY:USER...]".
	APIKeys string `mapstructure:"api_keys" yaml:"api_keys,omitempty"`

	// AdminUsers is a comma-separated list of user ids allowed to call
	// the maintenance endpoint.
	AdminUsers string `mapstructure:"admin_users" yaml:"admin_users,omitempty"`

	// RateLimitPerMinute caps requests per principal per minute.
	// Zero disables the limiter.
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`

	// JWT configures bearer token validation.
	JWT JWTConfig `mapstructure:"jwt" yaml:"jwt,omitempty"`
}

// JWTConfig holds bearer token validation settings.
type JWTConfig struct {
	// Secret is the HS256 signing key.
	Secret string `mapstructure:"secret" yaml:"secret,omitempty"`

	// Audience, when set, must match the token's aud claim.
	Audience string `mapstructure:"audience" yaml:"audience,omitempty"`

	// Issuer, when set, must match the token's iss claim.
	Issuer string `mapstructure:"issuer" yaml:"issuer,omitempty"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeAPIKey
	}
	if c.APIKeys == "" && c.Mode != ModeBearer {
		c.APIKeys = "dev-key:dev-user"
	}
	if c.AdminUsers == "" {
		c.AdminUsers = "dev-user"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeAPIKey:
		if c.APIKeys == "" {
			return fmt.Errorf("api_keys is required for api_key mode")
		}
	case ModeBearer:
		if c.JWT.Secret == "" {
			return fmt.Errorf("jwt secret is required for bearer mode")
		}
	case ModeHybrid:
		if c.JWT.Secret == "" {
			return fmt.Errorf("jwt secret is required for hybrid mode")
		}
		if c.APIKeys == "" {
			return fmt.Errorf("api_keys is required for hybrid mode")
		}
	default:
		return fmt.Errorf("unsupported auth mode: %s", c.Mode)
	}
	return nil
}

// Provider authenticates one credential type.
//
// CanHandle is a fast shape check (header presence); Authenticate does
// the actual validation. Implementations must be safe for concurrent
// use.
type Provider interface {
	// CanHandle returns true if the request carries this provider's
	// credential type.
	CanHandle(r *http.Request) bool

	// Authenticate validates the credential and returns the principal.
	Authenticate(ctx context.Context, r *http.Request) (*Principal, error)

	// Name returns the provider name for logging and audit records.
	Name() string
}

// Authenticator chains providers in order and resolves admin status.
type Authenticator struct {
	providers []Provider
	admins    map[string]struct{}
}

// NewAuthenticator builds the provider chain for the configured mode.
func NewAuthenticator(cfg Config) (*Authenticator, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid auth configuration: %w", err)
	}

	var providers []Provider

	if cfg.Mode == ModeBearer || cfg.Mode == ModeHybrid {
		providers = append(providers, NewBearerProvider(cfg.JWT))
	}
	if cfg.Mode == ModeAPIKey || cfg.Mode == ModeHybrid {
		keys, err := ParseAPIKeys(cfg.APIKeys)
		if err != nil {
			return nil, err
		}
		providers = append(providers, NewAPIKeyProvider(keys))
	}

	return &Authenticator{
		providers: providers,
		admins:    parseUserSet(cfg.AdminUsers),
	}, nil
}

// Authenticate resolves the request to a principal. The first provider
// whose credential type is present handles the request; its failure is
// final, so a bad bearer token is never retried as an api key.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (*Principal, error) {
	for _, p := range a.providers {
		if !p.CanHandle(r) {
			continue
		}
		principal, err := p.Authenticate(ctx, r)
		if err != nil {
			return nil, err
		}
		principal.Method = p.Name()
		_, principal.Admin = a.admins[principal.ID]
		return principal, nil
	}
	return nil, ErrMissingCredentials
}

// parseUserSet splits a comma-separated user list into a set.
func parseUserSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			set[part] = struct{}{}
		}
	}
	return set
}
