package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/biomass-watch/biomass-api/internal/api/response"
	"github.com/biomass-watch/biomass-api/internal/store"
	"github.com/biomass-watch/biomass-api/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	apiKeyPrefix   = "bm_"
	apiKeyRawBytes = 24
)

var defaultScopes = []string{"analyst"}

// KeyManager is the store subset behind the admin key routes.
type KeyManager interface {
	EnsureUser(ctx context.Context, username string) (*models.User, error)
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

type keyView struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"key_prefix"`
	Scopes     []string   `json:"scopes"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func newKeyView(k *models.APIKey) keyView {
	return keyView{
		ID:         k.ID,
		UserID:     k.UserID,
		Name:       k.Name,
		KeyPrefix:  k.KeyPrefix,
		Scopes:     k.Scopes,
		LastUsedAt: k.LastUsedAt,
		CreatedAt:  k.CreatedAt,
	}
}

// NewCreateKeyHandler returns an http.HandlerFunc for POST /api/v1/admin/keys.
// The user is created on first use. The raw key is only returned here.
func NewCreateKeyHandler(keys KeyManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string   `json:"username"`
			Name     string   `json:"name"`
			Scopes   []string `json:"scopes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		req.Username = strings.TrimSpace(req.Username)
		req.Name = strings.TrimSpace(req.Name)
		if req.Username == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "username is required", nil)
			return
		}
		if req.Name == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
			return
		}
		if len(req.Scopes) == 0 {
			req.Scopes = defaultScopes
		}

		key, rawKey, err := MintAPIKey(r.Context(), keys, req.Username, req.Name, req.Scopes)
		if err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				response.Error(w, http.StatusConflict, "DUPLICATE_KEY", "API key with this name already exists", nil)
				return
			}
			writeDomainError(w, err)
			return
		}

		response.Created(w, struct {
			keyView
			Key string `json:"key"`
		}{newKeyView(key), rawKey})
	}
}

// NewListKeysHandler returns an http.HandlerFunc for GET /api/v1/admin/keys.
// ?user_id= selects another user's keys; the default is the caller's own.
func NewListKeysHandler(keys KeyManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		if v := r.URL.Query().Get("user_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "user_id must be a UUID", nil)
				return
			}
			userID = id
		}

		list, err := keys.ListAPIKeys(r.Context(), userID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		views := make([]keyView, len(list))
		for i, k := range list {
			views[i] = newKeyView(k)
		}
		response.JSON(w, views)
	}
}

// NewRevokeKeyHandler returns an http.HandlerFunc for
// DELETE /api/v1/admin/keys/{keyID}.
func NewRevokeKeyHandler(keys KeyManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keyID, err := uuid.Parse(chi.URLParam(r, "keyID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_KEY_ID", "Invalid key ID", nil)
			return
		}

		if err := keys.RevokeAPIKey(r.Context(), keyID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "KEY_NOT_FOUND", "API key not found", nil)
				return
			}
			writeDomainError(w, err)
			return
		}
		response.NoContent(w)
	}
}

// MintAPIKey creates a key for username, creating the user on first use.
// The raw key is returned once; only its bcrypt hash is stored.
func MintAPIKey(ctx context.Context, keys KeyManager, username, name string, scopes []string) (*models.APIKey, string, error) {
	user, err := keys.EnsureUser(ctx, username)
	if err != nil {
		return nil, "", err
	}

	rawKey, err := generateAPIKey()
	if err != nil {
		return nil, "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hashing api key: %w", err)
	}

	now := time.Now().UTC()
	key := &models.APIKey{
		ID:        uuid.New(),
		UserID:    user.ID,
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: rawKey[:8],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := keys.CreateAPIKey(ctx, key); err != nil {
		return nil, "", err
	}
	return key, rawKey, nil
}

func generateAPIKey() (string, error) {
	b := make([]byte, apiKeyRawBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return apiKeyPrefix + hex.EncodeToString(b), nil
}
