package models

import (
	"time"

	"github.com/google/uuid"
)

// YearlyStat holds the mean biomass and carbon estimated for one AOI and year.
// There is at most one row per (AOI, year); a re-run replaces the values.
type YearlyStat struct {
	ID          uuid.UUID `db:"id"           json:"id"`
	AOIID       uuid.UUID `db:"aoi_id"       json:"aoi_id"`
	Year        int       `db:"year"         json:"year"`
	MeanBiomass float64   `db:"mean_biomass" json:"mean_biomass"`
	MeanCarbon  float64   `db:"mean_carbon"  json:"mean_carbon"`
	CreatedAt   time.Time `db:"created_at"   json:"created_at"`
}
