package handler_test

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/biomass-watch/biomass-api/internal/cache"
	"github.com/biomass-watch/biomass-api/internal/eo"
	"github.com/biomass-watch/biomass-api/internal/store"
	"github.com/biomass-watch/biomass-api/pkg/models"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// ─── in-memory store ─────────────────────────────────────────────────────────

type memStore struct {
	mu      sync.Mutex
	pingErr error
	users   map[string]*models.User
	keys    map[uuid.UUID]*models.APIKey
	aois    map[uuid.UUID]*models.AOI
	stats   map[uuid.UUID]map[int]*models.YearlyStat
}

func newMemStore() *memStore {
	return &memStore{
		users: make(map[string]*models.User),
		keys:  make(map[uuid.UUID]*models.APIKey),
		aois:  make(map[uuid.UUID]*models.AOI),
		stats: make(map[uuid.UUID]map[int]*models.YearlyStat),
	}
}

func (s *memStore) Ping(_ context.Context) error { return s.pingErr }

func (s *memStore) EnsureUser(_ context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[username]; ok {
		return u, nil
	}
	u := &models.User{ID: uuid.New(), Username: username, CreatedAt: time.Now().UTC()}
	s.users[username] = u
	return u, nil
}

func (s *memStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *memStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		now := time.Now().UTC()
		k.LastUsedAt = &now
	}
	return nil
}

func (s *memStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.UserID == key.UserID && k.Name == key.Name && k.DeletedAt == nil {
			return store.ErrDuplicateKey
		}
	}
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

func (s *memStore) ListAPIKeys(_ context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.UserID == userID && k.DeletedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) RevokeAPIKey(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok || k.DeletedAt != nil {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	k.DeletedAt = &now
	return nil
}

func (s *memStore) CreateAOI(_ context.Context, aoi *models.AOI) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *aoi
	s.aois[aoi.ID] = &cp
	return nil
}

func (s *memStore) GetAOI(_ context.Context, id uuid.UUID) (*models.AOI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Favorite != out[j].Favorite {
			return out[i].Favorite
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *memStore) update(id uuid.UUID, fn func(a *models.AOI)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.aois[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(a)
	return nil
}

func (s *memStore) SetAOIJob(_ context.Context, id uuid.UUID, handle string) error {
	return s.update(id, func(a *models.AOI) {
		h := handle
		a.JobHandle = &h
		a.Status = models.AOIStatusAnalysing
	})
}

func (s *memStore) UpdateAOIStatus(_ context.Context, id uuid.UUID, status string) error {
	return s.update(id, func(a *models.AOI) { a.Status = status })
}

func (s *memStore) SetJobAOIStatus(_ context.Context, id uuid.UUID, handle, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.aois[id]
	if !ok || a.JobHandle == nil || *a.JobHandle != handle {
		return store.ErrNotFound
	}
	a.Status = status
	return nil
}

func (s *memStore) SetAOIFavorite(_ context.Context, id uuid.UUID, favorite bool) error {
	return s.update(id, func(a *models.AOI) { a.Favorite = favorite })
}

func (s *memStore) SetShareToken(_ context.Context, id uuid.UUID, token *string) error {
	return s.update(id, func(a *models.AOI) { a.ShareToken = token })
}

func (s *memStore) UpsertYearlyStat(_ context.Context, stat *models.YearlyStat) (*models.YearlyStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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

func (s *memStore) aoiCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.aois)
}

// ─── in-memory cache ─────────────────────────────────────────────────────────

type memCache struct {
	mu       sync.Mutex
	pingErr  error
	data     map[string][]byte
	counters map[string]int64
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte), counters: make(map[string]int64)}
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

func (c *memCache) Ping(_ context.Context) error { return c.pingErr }

func (c *memCache) SetJobState(ctx context.Context, handle string, snapshot []byte, ttl time.Duration) error {
	return c.Set(ctx, cache.JobStateKey(handle), snapshot, ttl)
}

func (c *memCache) GetJobState(ctx context.Context, handle string) ([]byte, bool, error) {
	return c.Get(ctx, cache.JobStateKey(handle))
}

func (c *memCache) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key]++
	return c.counters[key], nil
}

// ─── pipeline stages ─────────────────────────────────────────────────────────

// yearExtractor returns a one-row table holding the year, or ErrNoSamples
// for years listed in empty.
type yearExtractor struct {
	empty map[int]bool
}

func (e yearExtractor) Extract(_ context.Context, _ orb.Polygon, year int) (*eo.Table, error) {
	if e.empty[year] {
		return nil, fmt.Errorf("%w: %d", eo.ErrNoSamples, year)
	}
	return &eo.Table{Columns: []string{"year"}, Rows: [][]float64{{float64(year)}}}, nil
}

// yearPredictor maps 2020 to 100, 2021 to 110 and so on.
type yearPredictor struct{}

func (yearPredictor) PredictMean(_ context.Context, t *eo.Table) (float64, error) {
	return 100 + 10*(t.Rows[0][0]-2020), nil
}

// ─── archive ─────────────────────────────────────────────────────────────────

type recordingArchiver struct {
	mu       sync.Mutex
	payloads map[uuid.UUID]string
	err      error
}

func (a *recordingArchiver) Archive(_ context.Context, userID, aoiID uuid.UUID, payload []byte) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.payloads == nil {
		a.payloads = make(map[uuid.UUID]string)
	}
	a.payloads[aoiID] = string(payload)
	return strings.Join([]string{"gs://test-bucket/aois", userID.String(), aoiID.String() + ".geojson"}, "/"), nil
}

var (
	_ store.Store = (*memStore)(nil)
	_ cache.Cache = (*memCache)(nil)
)
