package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/biomass-watch/biomass-api/internal/api/response"
	"github.com/biomass-watch/biomass-api/internal/pipeline"
	"github.com/biomass-watch/biomass-api/pkg/models"
	"github.com/go-chi/chi/v5"
)

// JobPoller reads a job snapshot and reconciles the owning AOI.
type JobPoller interface {
	Poll(ctx context.Context, handle string) (*models.JobState, error)
}

// NewPollJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{handle}.
func NewPollJobHandler(jobs JobPoller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireUser(w, r); !ok {
			return
		}

		handle := chi.URLParam(r, "handle")
		if handle == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_JOB_HANDLE", "Job handle is required", nil)
			return
		}

		state, err := jobs.Poll(r.Context(), handle)
		if errors.Is(err, pipeline.ErrJobNotFound) {
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
			return
		}
		if err != nil {
			writeDomainError(w, err)
			return
		}
		response.JSON(w, state)
	}
}
