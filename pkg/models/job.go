package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatePending   = "pending"
	JobStateProgress  = "progress"
	JobStateSucceeded = "succeeded"
	JobStateFailed    = "failed"
	JobStateCancelled = "cancelled"

	// JobProgressTotal is the scale of JobState.Current.
	JobProgressTotal = 100
)

// JobState is the snapshot of an analysis job. The API returns a handle on
// POST /api/v1/aois; the client polls GET /api/v1/jobs/{handle} until the
// state is succeeded or failed. Snapshots are replaced whole, never patched.
type JobState struct {
	Handle    string       `json:"handle"`
	AOIID     uuid.UUID    `json:"aoi_id"`
	AOIName   string       `json:"aoi_name,omitempty"`
	State     string       `json:"state"`
	Current   int          `json:"current"`
	Total     int          `json:"total"`
	Message   string       `json:"message"`
	Results   []YearResult `json:"results"`
	Error     string       `json:"error,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Terminal reports whether the job will not change state again.
func (s *JobState) Terminal() bool {
	return s.State == JobStateSucceeded || s.State == JobStateFailed || s.State == JobStateCancelled
}

// YearResult is one entry of a job's results list: either the rounded
// estimates for a year or the error that prevented them.
type YearResult struct {
	Year    int      `json:"year"`
	Biomass *float64 `json:"biomass,omitempty"`
	Carbon  *float64 `json:"carbon,omitempty"`
	CO2     *float64 `json:"co2,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// NewYearResult builds a success entry from a mean biomass estimate.
func NewYearResult(year int, biomass float64) YearResult {
	carbon := Carbon(biomass)
	b, c, co2 := Round2(biomass), Round2(carbon), Round2(CO2(carbon))
	return YearResult{Year: year, Biomass: &b, Carbon: &c, CO2: &co2}
}
