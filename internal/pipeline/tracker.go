package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/biomass-watch/biomass-api/internal/store"
	"github.com/biomass-watch/biomass-api/pkg/models"
)

// Tracker answers job status polls and keeps the owning AOI's status in
// step with the job.
type Tracker struct {
	states *StateStore
	aois   store.AOIStore
}

// NewTracker creates a Tracker.
func NewTracker(states *StateStore, aois store.AOIStore) *Tracker {
	return &Tracker{states: states, aois: aois}
}

// Poll returns the current snapshot for handle. If an AOI still carries
// this handle, its status is reconciled from the job state. Unknown or
// expired handles return ErrJobNotFound.
func (t *Tracker) Poll(ctx context.Context, handle string) (*models.JobState, error) {
	state, err := t.states.Get(ctx, handle)
	if err != nil {
		return nil, err
	}

	aoi, err := t.aois.GetAOIByJobHandle(ctx, handle)
	if errors.Is(err, store.ErrNotFound) {
		// Superseded by a newer run; the AOI follows that job instead.
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading aoi for job: %w", err)
	}

	want := models.AOIStatusForJob(state.State)
	if aoi.Status != want {
		err := t.aois.SetJobAOIStatus(ctx, aoi.ID, handle, want)
		if errors.Is(err, store.ErrNotFound) {
			// Superseded between the lookup and the write.
			return state, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reconciling aoi status: %w", err)
		}
		slog.Debug("aoi status reconciled", "aoi_id", aoi.ID, "job", handle, "status", want)
	}
	return state, nil
}
