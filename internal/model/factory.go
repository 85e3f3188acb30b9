package model

import (
	"context"
	"fmt"

	"github.com/biomass-watch/biomass-api/internal/config"
)

// NewRegressor constructs the regressor selected by config.
// Called once at server startup; the result is shared by all jobs.
func NewRegressor(ctx context.Context, cfg config.ModelConfig) (Regressor, error) {
	switch cfg.Provider {
	case "linear":
		return LoadLinearRegressor(cfg.ArtifactPath)
	case "http":
		return NewHTTPRegressor(ctx, cfg.BaseURL, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown model provider %q: must be one of linear, http", cfg.Provider)
	}
}
