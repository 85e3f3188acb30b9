package pipeline_test

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/biomass-watch/biomass-api/internal/cache"
	"github.com/biomass-watch/biomass-api/internal/eo"
	"github.com/biomass-watch/biomass-api/internal/store"
	"github.com/biomass-watch/biomass-api/pkg/models"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// --- store ---

type memStore struct {
	mu        sync.Mutex
	aois      map[uuid.UUID]*models.AOI
	stats     map[uuid.UUID]map[int]*models.YearlyStat
	getAOIErr error
	upsertErr error
	statusLog []string
}

func newMemStore() *memStore {
	return &memStore{
		aois:  make(map[uuid.UUID]*models.AOI),
		stats: make(map[uuid.UUID]map[int]*models.YearlyStat),
	}
}

func (s *memStore) add(aoi *models.AOI) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aois[aoi.ID] = aoi
}

func (s *memStore) CreateAOI(_ context.Context, aoi *models.AOI) error {
	s.add(aoi)
	return nil
}

func (s *memStore) GetAOI(_ context.Context, id uuid.UUID) (*models.AOI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getAOIErr != nil {
		return nil, s.getAOIErr
	}
	a, ok := s.aois[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *memStore) GetAOIByJobHandle(_ context.Context, handle string) (*models.AOI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.aois {
		if a.JobHandle != nil && *a.JobHandle == handle {
			cp := *a
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *memStore) ListAOIs(_ context.Context, userID uuid.UUID) ([]*models.AOI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AOI
	for _, a := range s.aois {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) SetAOIJob(_ context.Context, id uuid.UUID, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.aois[id]
	if !ok {
		return store.ErrNotFound
	}
	h := handle
	a.JobHandle = &h
	a.Status = models.AOIStatusAnalysing
	return nil
}

func (s *memStore) UpdateAOIStatus(_ context.Context, id uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.aois[id]
	if !ok {
		return store.ErrNotFound
	}
	a.Status = status
	s.statusLog = append(s.statusLog, status)
	return nil
}

func (s *memStore) SetJobAOIStatus(_ context.Context, id uuid.UUID, handle, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.aois[id]
	if !ok || a.JobHandle == nil || *a.JobHandle != handle {
		return store.ErrNotFound
	}
	a.Status = status
	s.statusLog = append(s.statusLog, status)
	return nil
}

func (s *memStore) SetAOIFavorite(_ context.Context, id uuid.UUID, favorite bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.aois[id]
	if !ok {
		return store.ErrNotFound
	}
	a.Favorite = favorite
	return nil
}

func (s *memStore) SetShareToken(_ context.Context, id uuid.UUID, token *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.aois[id]
	if !ok {
		return store.ErrNotFound
	}
	a.ShareToken = token
	return nil
}

func (s *memStore) UpsertYearlyStat(_ context.Context, stat *models.YearlyStat) (*models.YearlyStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return nil, s.upsertErr
	}
	if s.stats[stat.AOIID] == nil {
		s.stats[stat.AOIID] = make(map[int]*models.YearlyStat)
	}
	cp := *stat
	s.stats[stat.AOIID][stat.Year] = &cp
	return &cp, nil
}

func (s *memStore) ListYearlyStats(_ context.Context, aoiID uuid.UUID) ([]*models.YearlyStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.YearlyStat
	for _, st := range s.stats[aoiID] {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out, nil
}

func (s *memStore) aoi(id uuid.UUID) models.AOI {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.aois[id]
}

// --- cache ---

type memCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	history map[string][]models.JobState
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte), history: make(map[string][]models.JobState)}
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *memCache) Ping(_ context.Context) error { return nil }

func (c *memCache) SetJobState(_ context.Context, handle string, snapshot []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[cache.JobStateKey(handle)] = snapshot
	var st models.JobState
	_ = json.Unmarshal(snapshot, &st)
	c.history[handle] = append(c.history[handle], st)
	return nil
}

func (c *memCache) GetJobState(ctx context.Context, handle string) ([]byte, bool, error) {
	return c.Get(ctx, cache.JobStateKey(handle))
}

func (c *memCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

func (c *memCache) snapshots(handle string) []models.JobState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.JobState(nil), c.history[handle]...)
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

// --- extractor / predictor ---

type extractFunc func(ctx context.Context, aoi orb.Polygon, year int) (*eo.Table, error)

func (f extractFunc) Extract(ctx context.Context, aoi orb.Polygon, year int) (*eo.Table, error) {
	return f(ctx, aoi, year)
}

type predictFunc func(ctx context.Context, table *eo.Table) (float64, error)

func (f predictFunc) PredictMean(ctx context.Context, table *eo.Table) (float64, error) {
	return f(ctx, table)
}

// yearTable encodes the year in its single cell so predictors can vary by year.
func yearTable(year int) *eo.Table {
	return &eo.Table{Columns: []string{"year"}, Rows: [][]float64{{float64(year)}}}
}

var _ cache.Cache = (*memCache)(nil)
