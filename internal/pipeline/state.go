// Package pipeline runs biomass analysis jobs and tracks their state.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/biomass-watch/biomass-api/internal/cache"
	"github.com/biomass-watch/biomass-api/pkg/models"
)

var ErrJobNotFound = errors.New("job not found")

// StateStore keeps job snapshots in the cache. Each write replaces the
// whole snapshot.
type StateStore struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewStateStore creates a StateStore whose snapshots expire after ttl.
func NewStateStore(c cache.Cache, ttl time.Duration) *StateStore {
	return &StateStore{cache: c, ttl: ttl}
}

func (s *StateStore) Put(ctx context.Context, state *models.JobState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding job state: %w", err)
	}
	if err := s.cache.SetJobState(ctx, state.Handle, data, s.ttl); err != nil {
		return fmt.Errorf("writing job state: %w", err)
	}
	return nil
}

// Get returns the latest snapshot for handle, or ErrJobNotFound.
func (s *StateStore) Get(ctx context.Context, handle string) (*models.JobState, error) {
	data, ok, err := s.cache.GetJobState(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("reading job state: %w", err)
	}
	if !ok {
		return nil, ErrJobNotFound
	}
	var state models.JobState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decoding job state: %w", err)
	}
	return &state, nil
}
