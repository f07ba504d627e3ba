package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// APIKeyHeader carries the static api key credential.
const APIKeyHeader = "X-API-Key"

// APIKeyProvider authenticates requests by a static key-to-user table.
type APIKeyProvider struct {
	keys map[string]string
}

// NewAPIKeyProvider creates a provider over a key -> user id map.
func NewAPIKeyProvider(keys map[string]string) *APIKeyProvider {
	return &APIKeyProvider{keys: keys}
}

// CanHandle returns true if the request carries an X-API-Key header.
func (p *APIKeyProvider) CanHandle(r *http.Request) bool {
	return r.Header.Get(APIKeyHeader) != ""
}

// Authenticate resolves the key to its user id.
func (p *APIKeyProvider) Authenticate(_ context.Context, r *http.Request) (*Principal, error) {
	key := r.Header.Get(APIKeyHeader)
	userID, ok := p.keys[key]
	if !ok {
		return nil, fmt.Errorf("%w: unknown api key", ErrInvalidCredentials)
	}
	return &Principal{ID: userID}, nil
}

// Name returns the provider name.
func (p *APIKeyProvider) Name() string {
	return "api_key"
}

// ParseAPIKeys parses a "KEY:USER[,KEY:USER...]" mapping. Keys may not
// contain a colon; user ids may. Empty entries are skipped.
func ParseAPIKeys(s string) (map[string]string, error) {
	keys := make(map[string]string)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, user, ok := strings.Cut(entry, ":")
		key = strings.TrimSpace(key)
		user = strings.TrimSpace(user)
		if !ok || key == "" || user == "" {
			return nil, fmt.Errorf("malformed api key entry %q: want KEY:USER", entry)
		}
		keys[key] = user
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("api key mapping is empty")
	}
	return keys, nil
}
