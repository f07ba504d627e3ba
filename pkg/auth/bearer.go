package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrExpiredToken indicates the bearer token's exp claim has passed.
var ErrExpiredToken = errors.New("auth: token has expired")

// BearerProvider validates Authorization: Bearer JWTs signed with HS256.
// The subject claim becomes the principal id.
type BearerProvider struct {
	secret   []byte
	audience string
	issuer   string
}

// NewBearerProvider creates a provider for the given JWT settings.
func NewBearerProvider(cfg JWTConfig) *BearerProvider {
	return &BearerProvider{
		secret:   []byte(cfg.Secret),
		audience: cfg.Audience,
		issuer:   cfg.Issuer,
	}
}

// CanHandle returns true if the request carries an Authorization header.
func (p *BearerProvider) CanHandle(r *http.Request) bool {
	return r.Header.Get("Authorization") != ""
}

// Authenticate validates the token signature and claims.
func (p *BearerProvider) Authenticate(_ context.Context, r *http.Request) (*Principal, error) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return nil, fmt.Errorf("%w: authorization header is not a bearer token", ErrInvalidCredentials)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if p.audience != "" {
		opts = append(opts, jwt.WithAudience(p.audience))
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}

	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, ErrExpiredToken)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidCredentials)
	}
	return &Principal{ID: sub}, nil
}

// Name returns the provider name.
func (p *BearerProvider) Name() string {
	return "bearer"
}
