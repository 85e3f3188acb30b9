// Package models contains shared data models used across the biomass service.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

const (
	AOIStatusAnalysing = "analysing"
	AOIStatusCompleted = "completed"
	AOIStatusError     = "error"
)

// AOI is a user-submitted area of interest. Geometry is a single WGS84
// polygon and is never updated after insert.
type AOI struct {
	ID         uuid.UUID   `db:"id"          json:"id"`
	UserID     uuid.UUID   `db:"user_id"     json:"user_id"`
	Name       string      `db:"name"        json:"name"`
	Geometry   orb.Polygon `db:"geometry"    json:"-"`
	JobHandle  *string     `db:"job_handle"  json:"job_handle,omitempty"`
	Status     string      `db:"status"      json:"status"`
	Favorite   bool        `db:"favorite"    json:"favorite"`
	ShareToken *string     `db:"share_token" json:"-"`
	FilePath   *string     `db:"file_path"   json:"file_path,omitempty"`
	CreatedAt  time.Time   `db:"created_at"  json:"created_at"`
}

// OwnedBy reports whether userID owns the AOI.
func (a *AOI) OwnedBy(userID uuid.UUID) bool {
	return userID != uuid.Nil && a.UserID == userID
}

// AOIStatusForJob maps a job state onto the AOI lifecycle status.
func AOIStatusForJob(state string) string {
	switch state {
	case JobStateSucceeded:
		return AOIStatusCompleted
	case JobStateFailed, JobStateCancelled:
		return AOIStatusError
	default:
		return AOIStatusAnalysing
	}
}
