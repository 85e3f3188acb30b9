package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/biomass-watch/biomass-api/internal/api/response"
	"github.com/biomass-watch/biomass-api/pkg/models"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const keyPrefixLen = 8

// KeyStore is the subset of the store that authentication needs.
type KeyStore interface {
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
}

// Auth provides authentication and scope-checking middleware.
type Auth struct {
	store KeyStore
}

// NewAuth creates a new Auth middleware.
func NewAuth(s KeyStore) *Auth {
	return &Auth{store: s}
}

type authError struct {
	status  int
	code    string
	message string
}

// Authenticate validates the Bearer token, looks up the API key, and sets
// user_id, key_prefix, and scopes in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := extractBearerToken(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		ctx, aerr := a.resolve(r.Context(), rawKey)
		if aerr != nil {
			response.Error(w, aerr.status, aerr.code, aerr.message, nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Optional authenticates the request when an Authorization header is
// present and lets it through anonymously otherwise. A header that is
// present but invalid is still rejected.
func (a *Auth) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			next.ServeHTTP(w, r)
			return
		}
		a.Authenticate(next).ServeHTTP(w, r)
	})
}

func (a *Auth) resolve(ctx context.Context, rawKey string) (context.Context, *authError) {
	if len(rawKey) < keyPrefixLen {
		return nil, &authError{http.StatusUnauthorized, "INVALID_TOKEN", "Invalid API key format"}
	}
	prefix := rawKey[:keyPrefixLen]

	keys, err := a.store.GetAPIKeyByPrefix(ctx, prefix)
	if err != nil {
		return nil, &authError{http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to validate API key"}
	}

	// Find matching key by bcrypt comparison
	for _, key := range keys {
		if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(rawKey)) != nil {
			continue
		}
		ctx = SetUserID(ctx, key.UserID)
		ctx = setKeyPrefix(ctx, prefix)
		ctx = SetScopes(ctx, key.Scopes)

		// Update last_used_at async
		go a.store.UpdateAPIKeyLastUsed(context.WithoutCancel(ctx), key.ID)
		return ctx, nil
	}
	return nil, &authError{http.StatusUnauthorized, "INVALID_TOKEN", "Invalid API key"}
}

// RequireScope returns middleware that checks whether the authenticated
// API key has the specified scope.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if slices.Contains(getScopes(r), scope) {
				next.ServeHTTP(w, r)
				return
			}
			response.Error(w, http.StatusForbidden,
				"FORBIDDEN", "Insufficient permissions", nil)
		})
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
