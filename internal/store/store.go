package store

import (
	"context"
	"errors"

	"github.com/biomass-watch/biomass-api/pkg/models"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	EnsureUser(ctx context.Context, username string) (*models.User, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	AOIStore
	StatStore
}

// AOIStore persists areas of interest.
type AOIStore interface {
	CreateAOI(ctx context.Context, aoi *models.AOI) error
	GetAOI(ctx context.Context, id uuid.UUID) (*models.AOI, error)
	GetAOIByJobHandle(ctx context.Context, handle string) (*models.AOI, error)
	ListAOIs(ctx context.Context, userID uuid.UUID) ([]*models.AOI, error)
	SetAOIJob(ctx context.Context, id uuid.UUID, handle string) error
	UpdateAOIStatus(ctx context.Context, id uuid.UUID, status string) error
	// SetJobAOIStatus updates the status only while the AOI still carries
	// handle. ErrNotFound means the AOI is gone or follows a newer job.
	SetJobAOIStatus(ctx context.Context, id uuid.UUID, handle, status string) error
	SetAOIFavorite(ctx context.Context, id uuid.UUID, favorite bool) error
	SetShareToken(ctx context.Context, id uuid.UUID, token *string) error
}

// StatStore persists per-year biomass statistics.
type StatStore interface {
	UpsertYearlyStat(ctx context.Context, stat *models.YearlyStat) (*models.YearlyStat, error)
	ListYearlyStats(ctx context.Context, aoiID uuid.UUID) ([]*models.YearlyStat, error)
}
