package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/biomass-watch/biomass-api/internal/geo"
	"github.com/biomass-watch/biomass-api/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users ---

// EnsureUser returns the user with the given name, creating it if needed.
func (s *PostgresStore) EnsureUser(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (id, username, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (username) DO UPDATE SET username = EXCLUDED.username
		 RETURNING id, username, created_at`,
		uuid.New(), username, time.Now().UTC(),
	).Scan(&u.ID, &u.Username, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return &u, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE user_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// --- AOIs ---

const aoiColumns = `id, user_id, name, ST_AsGeoJSON(geometry), job_handle, status, favorite, share_token, file_path, created_at`

func (s *PostgresStore) CreateAOI(ctx context.Context, aoi *models.AOI) error {
	geom, err := geo.EncodePolygon(aoi.Geometry)
	if err != nil {
		return fmt.Errorf("encode aoi geometry: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO aois (id, user_id, name, file_path, geometry, job_handle, status, favorite, share_token, created_at)
		 VALUES ($1, $2, $3, $4, ST_SetSRID(ST_GeomFromGeoJSON($5), 4326), $6, $7, $8, $9, $10)`,
		aoi.ID, aoi.UserID, aoi.Name, aoi.FilePath, string(geom), aoi.JobHandle, aoi.Status,
		aoi.Favorite, aoi.ShareToken, aoi.CreatedAt)
	if err != nil {
		return fmt.Errorf("create aoi: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAOI(ctx context.Context, id uuid.UUID) (*models.AOI, error) {
	aoi, err := scanAOI(s.pool.QueryRow(ctx,
		`SELECT `+aoiColumns+` FROM aois WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get aoi: %w", err)
	}
	return aoi, nil
}

func (s *PostgresStore) GetAOIByJobHandle(ctx context.Context, handle string) (*models.AOI, error) {
	aoi, err := scanAOI(s.pool.QueryRow(ctx,
		`SELECT `+aoiColumns+` FROM aois WHERE job_handle = $1 LIMIT 1`, handle))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get aoi by job handle: %w", err)
	}
	return aoi, nil
}

// ListAOIs returns the user's AOIs, favorites first, then newest first.
func (s *PostgresStore) ListAOIs(ctx context.Context, userID uuid.UUID) ([]*models.AOI, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+aoiColumns+` FROM aois WHERE user_id = $1 ORDER BY favorite DESC, created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list aois: %w", err)
	}
	defer rows.Close()

	var aois []*models.AOI
	for rows.Next() {
		aoi, err := scanAOI(rows)
		if err != nil {
			return nil, fmt.Errorf("scan aoi: %w", err)
		}
		aois = append(aois, aoi)
	}
	return aois, rows.Err()
}

// SetAOIJob records a new job handle on the AOI and resets it to analysing.
// The previous handle, if any, is replaced.
func (s *PostgresStore) SetAOIJob(ctx context.Context, id uuid.UUID, handle string) error {
	return s.execOne(ctx, "set aoi job",
		`UPDATE aois SET job_handle = $2, status = $3 WHERE id = $1`,
		id, handle, models.AOIStatusAnalysing)
}

func (s *PostgresStore) UpdateAOIStatus(ctx context.Context, id uuid.UUID, status string) error {
	return s.execOne(ctx, "update aoi status",
		`UPDATE aois SET status = $2 WHERE id = $1`, id, status)
}

func (s *PostgresStore) SetJobAOIStatus(ctx context.Context, id uuid.UUID, handle, status string) error {
	return s.execOne(ctx, "set job aoi status",
		`UPDATE aois SET status = $3 WHERE id = $1 AND job_handle = $2`, id, handle, status)
}

func (s *PostgresStore) SetAOIFavorite(ctx context.Context, id uuid.UUID, favorite bool) error {
	return s.execOne(ctx, "set aoi favorite",
		`UPDATE aois SET favorite = $2 WHERE id = $1`, id, favorite)
}

// SetShareToken replaces the share token; nil revokes it.
func (s *PostgresStore) SetShareToken(ctx context.Context, id uuid.UUID, token *string) error {
	err := s.execOne(ctx, "set share token",
		`UPDATE aois SET share_token = $2 WHERE id = $1`, id, token)
	if isDuplicateKeyError(err) {
		return ErrDuplicateKey
	}
	return err
}

func (s *PostgresStore) execOne(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAOI(row pgx.Row) (*models.AOI, error) {
	var (
		a    models.AOI
		geom string
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.Name, &geom, &a.JobHandle, &a.Status,
		&a.Favorite, &a.ShareToken, &a.FilePath, &a.CreatedAt); err != nil {
		return nil, err
	}
	poly, err := geo.DecodePolygon([]byte(geom))
	if err != nil {
		return nil, fmt.Errorf("decode aoi geometry: %w", err)
	}
	a.Geometry = poly
	return &a, nil
}

// --- Yearly stats ---

// UpsertYearlyStat writes the statistics for one (AOI, year). A re-run for a
// year that already has a row replaces its values.
func (s *PostgresStore) UpsertYearlyStat(ctx context.Context, stat *models.YearlyStat) (*models.YearlyStat, error) {
	var result models.YearlyStat
	err := s.pool.QueryRow(ctx,
		`INSERT INTO yearly_biomass_stats (id, aoi_id, year, mean_biomass, mean_carbon, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (aoi_id, year) DO UPDATE SET
		   mean_biomass = EXCLUDED.mean_biomass,
		   mean_carbon = EXCLUDED.mean_carbon,
		   created_at = EXCLUDED.created_at
		 RETURNING id, aoi_id, year, mean_biomass, mean_carbon, created_at`,
		stat.ID, stat.AOIID, stat.Year, stat.MeanBiomass, stat.MeanCarbon, stat.CreatedAt,
	).Scan(&result.ID, &result.AOIID, &result.Year, &result.MeanBiomass, &result.MeanCarbon, &result.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert yearly stat: %w", err)
	}
	return &result, nil
}

func (s *PostgresStore) ListYearlyStats(ctx context.Context, aoiID uuid.UUID) ([]*models.YearlyStat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, aoi_id, year, mean_biomass, mean_carbon, created_at
		 FROM yearly_biomass_stats WHERE aoi_id = $1 ORDER BY year`, aoiID)
	if err != nil {
		return nil, fmt.Errorf("list yearly stats: %w", err)
	}
	defer rows.Close()

	var stats []*models.YearlyStat
	for rows.Next() {
		var st models.YearlyStat
		if err := rows.Scan(&st.ID, &st.AOIID, &st.Year, &st.MeanBiomass, &st.MeanCarbon, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan yearly stat: %w", err)
		}
		stats = append(stats, &st)
	}
	return stats, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
