package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// APIKey is a named caller credential. Only the bcrypt hash is kept.
type APIKey struct {
	Name string
	Hash []byte
}

// ParseAPIKeys parses "name:hash,name:hash". Hashes contain '$' and ':'
// never appears in them, so the first ':' separates the name.
func ParseAPIKeys(s string) ([]APIKey, error) {
	var keys []APIKey
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, hash, ok := strings.Cut(part, ":")
		if !ok || name == "" || hash == "" {
			return nil, fmt.Errorf("api key %q: expected name:bcrypt-hash", part)
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("api key %q: %w", name, err)
		}
		keys = append(keys, APIKey{Name: name, Hash: []byte(hash)})
	}
	return keys, nil
}

// HashAPIKey returns the bcrypt hash to store for a plaintext key.
func HashAPIKey(plain string, cost int) (string, error) {
	if plain == "" {
		return "", errors.New("api key cannot be empty")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// APIKeyAuth provides API key authentication.
type APIKeyAuth struct {
	headerName string
	keys       []APIKey

	// bcrypt is slow on purpose; remember keys that already matched.
	mu       sync.RWMutex
	verified map[string]string
}

// NewAPIKeyAuth creates a new API key authenticator.
func NewAPIKeyAuth(headerName string, keys []APIKey) *APIKeyAuth {
	if headerName == "" {
		headerName = "X-API-Key"
	}
	return &APIKeyAuth{
		headerName: headerName,
		keys:       keys,
		verified:   make(map[string]string),
	}
}

// Enabled reports whether any key is configured.
func (a *APIKeyAuth) Enabled() bool {
	return len(a.keys) > 0
}

// Authenticate returns the caller name for a plaintext key.
func (a *APIKeyAuth) Authenticate(key string) (string, bool) {
	a.mu.RLock()
	name, ok := a.verified[key]
	a.mu.RUnlock()
	if ok {
		return name, true
	}

	for _, k := range a.keys {
		if bcrypt.CompareHashAndPassword(k.Hash, []byte(key)) == nil {
			a.mu.Lock()
			a.verified[key] = k.Name
			a.mu.Unlock()
			return k.Name, true
		}
	}
	return "", false
}

// Middleware returns an HTTP middleware that checks for valid API keys and
// stores the caller name in the request context.
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(a.headerName)

		// Also check Authorization header with Bearer scheme
		if key == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if key == "" {
			writeError(w, http.StatusUnauthorized, "missing_api_key", "API key is required")
			return
		}

		caller, ok := a.Authenticate(key)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid_api_key", "Invalid API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// ContextKey is a type for context keys.
type ContextKey string

// ContextKeyCaller is the context key for the authenticated caller name.
const ContextKeyCaller ContextKey = "caller"

// WithCaller stores the caller name in ctx.
func WithCaller(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ContextKeyCaller, name)
}

// CallerFromContext returns the authenticated caller, or "" when auth is off.
func CallerFromContext(ctx context.Context) string {
	name, _ := ctx.Value(ContextKeyCaller).(string)
	return name
}

// ══════════════════════════════════════════════════════════════════════════════
// SECURITY HEADERS MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// SecurityHeadersMiddleware adds security-related headers.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST SIZE LIMIT MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// RequestSizeLimitMiddleware limits the size of request bodies.
func RequestSizeLimitMiddleware(maxBytes int64) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE CHAIN BUILDER
// ══════════════════════════════════════════════════════════════════════════════

// MiddlewareFunc is a function that wraps an http.Handler.
type MiddlewareFunc func(http.Handler) http.Handler

// Chain chains multiple middleware functions. The first one runs outermost.
func Chain(middlewares ...MiddlewareFunc) MiddlewareFunc {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"success":false,"error":{"code":%q,"message":%q}}`+"\n", code, message)
}
