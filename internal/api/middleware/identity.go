package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
)

type contextKey string

// UserIDKey is the context key for the authenticated user ID.
const UserIDKey contextKey = "user_id"

// Identity resolves the authenticated principal for every request. Tokens
// map to user IDs via TASKDECK_API_KEYS ("token=user" pairs, comma
// separated). When no keys are configured (dev mode), the X-User-Id header
// is trusted, falling back to "default".
//
// The resolved user ID is the only identity the rest of the system sees;
// request bodies and tool arguments can never override it.
type Identity struct {
	mu      sync.RWMutex
	tokens  map[string]string // token → user ID
	enabled bool
}

// NewIdentity builds the identity middleware from the configured key pairs.
func NewIdentity(keys string) *Identity {
	id := &Identity{tokens: make(map[string]string)}
	for _, pair := range strings.Split(keys, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, user, ok := strings.Cut(pair, "=")
		if !ok || token == "" || user == "" {
			continue
		}
		id.tokens[token] = user
		id.enabled = true
	}
	return id
}

// Enabled returns whether token auth is active.
func (a *Identity) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// AddToken registers a token at runtime.
func (a *Identity) AddToken(token, userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[token] = userID
	a.enabled = true
}

// Middleware authenticates the request and stores the user ID in context.
func (a *Identity) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
			if userID == "" {
				userID = "default"
			}
			next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), userID)))
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), "")))
			return
		}

		token := extractToken(r)
		if token == "" {
			respondUnauthorized(w, "Authentication required. Set Authorization: Bearer <token>.")
			return
		}

		userID := a.resolve(token)
		if userID == "" {
			respondUnauthorized(w, "Invalid token.")
			return
		}

		next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), userID)))
	})
}

// resolve maps a token to its user ID with constant-time comparison.
func (a *Identity) resolve(candidate string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for token, userID := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			return userID
		}
	}
	return ""
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	// Query parameter for SSE clients that cannot set headers.
	if key := r.URL.Query().Get("api_key"); key != "" {
		return key
	}
	return ""
}

func isPublicPath(path string) bool {
	return path == "/health" || path == "/version"
}

func respondUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="taskdeck"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": msg,
	})
}

func withUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID retrieves the authenticated user ID from the request context.
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return ""
}
