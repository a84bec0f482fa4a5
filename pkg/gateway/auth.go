package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// TokenVerifier resolves a bearer credential to a user identity
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (userID string, err error)
}

// StaticTokenVerifier verifies tokens against a fixed token-to-user map.
// Suitable for single-tenant deployments and tests; production setups
// plug in their own verifier.
type StaticTokenVerifier struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewStaticTokenVerifier creates a verifier from a token-to-user map
func NewStaticTokenVerifier(tokens map[string]string) *StaticTokenVerifier {
	copied := make(map[string]string, len(tokens))
	for token, user := range tokens {
		copied[token] = user
	}
	return &StaticTokenVerifier{tokens: copied}
}

// Verify implements TokenVerifier
func (v *StaticTokenVerifier) Verify(ctx context.Context, token string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	userID, ok := v.tokens[token]
	if !ok {
		return "", fmt.Errorf("unknown token")
	}
	return userID, nil
}

// SetToken adds or replaces a token mapping
func (v *StaticTokenVerifier) SetToken(token, userID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tokens[token] = userID
}

// RevokeToken removes a token mapping
func (v *StaticTokenVerifier) RevokeToken(token string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.tokens, token)
}

// bearerToken extracts the bearer credential from a request. The token
// may arrive in the Authorization header or, for browser WebSocket
// clients that cannot set headers, in the "token" query parameter.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
