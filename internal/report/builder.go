// Package report aggregates stored yearly statistics into the AOI report:
// gap-filled series, means, a three-year forecast and map metadata.
package report

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/biomass-watch/biomass-api/internal/cache"
	"github.com/biomass-watch/biomass-api/internal/geo"
	"github.com/biomass-watch/biomass-api/internal/metrics"
	"github.com/biomass-watch/biomass-api/pkg/models"
	"github.com/google/uuid"
)

var ErrAccessDenied = errors.New("access denied")

// Requester identifies who is asking for a report. UserID is uuid.Nil for
// anonymous callers; ShareToken may be empty.
type Requester struct {
	UserID     uuid.UUID
	ShareToken string
}

// MapInfo positions the AOI on a map.
type MapInfo struct {
	Centroid [2]float64      `json:"centroid"` // lon, lat
	AreaM2   float64         `json:"area_m2"`
	Zoom     int             `json:"zoom"`
	Geometry json.RawMessage `json:"geometry"`
}

// Series is the computed part of a report. It only changes when stats are
// written, so it is cached per AOI.
type Series struct {
	Points   []Point `json:"series"`
	Means    Means   `json:"means"`
	Forecast []Point `json:"forecast"`
}

// Report is the full response for one AOI.
type Report struct {
	AOIID      uuid.UUID `json:"aoi_id"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	ShareToken *string   `json:"share_token"`
	Map        MapInfo   `json:"map"`
	Series
}

// Store is the persistence a Builder needs.
type Store interface {
	GetAOI(ctx context.Context, id uuid.UUID) (*models.AOI, error)
	ListYearlyStats(ctx context.Context, aoiID uuid.UUID) ([]*models.YearlyStat, error)
}

// Builder assembles reports.
type Builder struct {
	store   Store
	cache   cache.Cache
	ttl     time.Duration
	metrics *metrics.Metrics
}

// NewBuilder creates a Builder caching series for ttl. m may be nil.
func NewBuilder(st Store, ca cache.Cache, ttl time.Duration, m *metrics.Metrics) *Builder {
	return &Builder{store: st, cache: ca, ttl: ttl, metrics: m}
}

// Build returns the report for aoiID if req owns the AOI or presents its
// current share token. An AOI with no stats yields an empty series.
func (b *Builder) Build(ctx context.Context, aoiID uuid.UUID, req Requester) (*Report, error) {
	aoi, err := b.store.GetAOI(ctx, aoiID)
	if err != nil {
		return nil, err
	}
	if !CanView(aoi, req) {
		return nil, ErrAccessDenied
	}

	series, err := b.series(ctx, aoi.ID)
	if err != nil {
		return nil, err
	}

	geometry, err := geo.EncodePolygon(aoi.Geometry)
	if err != nil {
		return nil, fmt.Errorf("encoding geometry: %w", err)
	}
	centroid := geo.Centroid(aoi.Geometry)
	area := geo.Area(aoi.Geometry)

	return &Report{
		AOIID:      aoi.ID,
		Name:       aoi.Name,
		Status:     aoi.Status,
		ShareToken: aoi.ShareToken,
		Map: MapInfo{
			Centroid: [2]float64{centroid.Lon(), centroid.Lat()},
			AreaM2:   area,
			Zoom:     geo.ZoomForArea(area),
			Geometry: geometry,
		},
		Series: *series,
	}, nil
}

// CanView reports whether req may read aoi's report.
func CanView(aoi *models.AOI, req Requester) bool {
	if aoi.OwnedBy(req.UserID) {
		return true
	}
	if req.ShareToken == "" || aoi.ShareToken == nil || *aoi.ShareToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(req.ShareToken), []byte(*aoi.ShareToken)) == 1
}

func (b *Builder) series(ctx context.Context, aoiID uuid.UUID) (*Series, error) {
	key := cache.ReportKey(aoiID)
	if data, ok, err := b.cache.Get(ctx, key); err == nil && ok {
		var s Series
		if err := json.Unmarshal(data, &s); err == nil {
			b.metrics.ReportCacheLookup(true)
			return &s, nil
		}
	} else if err != nil {
		slog.Warn("report cache read failed", "aoi_id", aoiID, "error", err)
	}
	b.metrics.ReportCacheLookup(false)

	stats, err := b.store.ListYearlyStats(ctx, aoiID)
	if err != nil {
		return nil, fmt.Errorf("loading yearly stats: %w", err)
	}
	s := Compute(stats)

	if data, err := json.Marshal(s); err == nil {
		if err := b.cache.Set(ctx, key, data, b.ttl); err != nil {
			slog.Warn("report cache write failed", "aoi_id", aoiID, "error", err)
		}
	}
	return s, nil
}

// Compute derives the series, means and forecast from stored rows.
func Compute(stats []*models.YearlyStat) *Series {
	points := FillGaps(stats)
	return &Series{
		Points:   points,
		Means:    MeanOf(points),
		Forecast: Forecast(points),
	}
}
