// Package handler implements the HTTP handlers behind the biomass API
// routes. Handlers depend on small interfaces so they can be exercised
// with in-memory fakes.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	mw "github.com/biomass-watch/biomass-api/internal/api/middleware"
	"github.com/biomass-watch/biomass-api/internal/api/response"
	"github.com/biomass-watch/biomass-api/internal/report"
	"github.com/biomass-watch/biomass-api/internal/store"
	"github.com/biomass-watch/biomass-api/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// JobSubmitter starts an analysis job for an AOI.
type JobSubmitter interface {
	Submit(ctx context.Context, aoi *models.AOI) (*models.JobState, error)
}

func requireUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := mw.GetUserID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
		return uuid.Nil, false
	}
	return userID, true
}

func aoiIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "aoiID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_AOI_ID", "AOI ID must be a UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

// ownedAOI loads the AOI named in the path and checks that the caller owns
// it. It writes the error response itself and returns false on failure.
func ownedAOI(w http.ResponseWriter, r *http.Request, aois store.AOIStore) (*models.AOI, bool) {
	userID, ok := requireUser(w, r)
	if !ok {
		return nil, false
	}
	id, ok := aoiIDParam(w, r)
	if !ok {
		return nil, false
	}

	aoi, err := aois.GetAOI(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	if !aoi.OwnedBy(userID) {
		writeDomainError(w, report.ErrAccessDenied)
		return nil, false
	}
	return aoi, true
}

// writeDomainError maps service sentinels onto the error envelope.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "AOI_NOT_FOUND", "AOI not found", nil)
	case errors.Is(err, report.ErrAccessDenied):
		response.Error(w, http.StatusForbidden, "FORBIDDEN", "You do not have access to this AOI", nil)
	default:
		slog.Error("request failed", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
