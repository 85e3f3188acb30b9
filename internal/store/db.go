package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/biomass-watch/biomass-api/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

const applicationName = "biomass-api"

// ErrPostGISUnavailable means the server cannot provide the geometry
// column type that the aois table needs.
var ErrPostGISUnavailable = errors.New("postgis extension is not available")

// Connect opens a tuned pool and checks that the server can run the
// PostGIS migrations before anything else touches it.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = min(int32(cfg.MaxIdleConns), poolCfg.MaxConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := checkPostGIS(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// checkPostGIS pings the server and confirms the postgis extension is
// installed or installable.
func checkPostGIS(ctx context.Context, pool *pgxpool.Pool) error {
	var available bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_available_extensions WHERE name = 'postgis')`).Scan(&available)
	if err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	if !available {
		return ErrPostGISUnavailable
	}
	return nil
}
