package models

import (
	"time"

	"github.com/google/uuid"
)

// User owns AOIs. Accounts are provisioned through admin API keys.
type User struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Username  string    `db:"username"   json:"username"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// APIKey represents an authentication key for API access.
// Raw keys are shown once at creation; only the bcrypt hash is stored.
type APIKey struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	UserID     uuid.UUID  `db:"user_id"      json:"user_id"`
	Name       string     `db:"name"         json:"name"`
	KeyHash    string     `db:"key_hash"     json:"-"`
	KeyPrefix  string     `db:"key_prefix"   json:"key_prefix"`
	Scopes     []string   `db:"scopes"       json:"scopes"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	DeletedAt  *time.Time `db:"deleted_at"   json:"-"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"   json:"updated_at"`
}
