package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/biomass-watch/biomass-api/internal/api/response"
	"github.com/biomass-watch/biomass-api/internal/archive"
	"github.com/biomass-watch/biomass-api/internal/geo"
	"github.com/biomass-watch/biomass-api/internal/store"
	"github.com/biomass-watch/biomass-api/pkg/models"
	"github.com/google/uuid"
)

const (
	maxUploadBytes = 10 << 20

	defaultPageLimit = 50
	maxPageLimit     = 200
)

var errMissingGeoJSON = errors.New("geojson is required")

// submission is the raw payload of POST /api/v1/aois before validation.
type submission struct {
	Name     string
	Filename string
	GeoJSON  []byte
}

type submitResponse struct {
	AOIID     uuid.UUID `json:"aoi_id"`
	JobHandle string    `json:"job_handle"`
}

// NewSubmitAOIHandler returns an http.HandlerFunc for POST /api/v1/aois.
// The body is either JSON {"name", "geojson"} or multipart/form-data with a
// "geojson" file and an optional "name" field. The geometry is validated
// before anything is stored or scheduled.
func NewSubmitAOIHandler(aois store.AOIStore, jobs JobSubmitter, arc archive.Archiver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		sub, err := readSubmission(r)
		if err != nil {
			var tooLarge *http.MaxBytesError
			switch {
			case errors.As(err, &tooLarge):
				response.Error(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
					fmt.Sprintf("Upload exceeds %d bytes", maxUploadBytes), nil)
			default:
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			}
			return
		}

		parsed, err := geo.ParseSubmission(sub.GeoJSON)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_GEOMETRY", err.Error(), nil)
			return
		}

		aoi := &models.AOI{
			ID:        uuid.New(),
			UserID:    userID,
			Name:      aoiName(sub, parsed, time.Now()),
			Geometry:  parsed.Polygon,
			Status:    models.AOIStatusAnalysing,
			CreatedAt: time.Now().UTC(),
		}

		location, err := arc.Archive(r.Context(), userID, aoi.ID, sub.GeoJSON)
		if err != nil {
			slog.Warn("failed to archive upload", "aoi_id", aoi.ID, "error", err)
		} else if location != "" {
			aoi.FilePath = &location
		}

		if err := aois.CreateAOI(r.Context(), aoi); err != nil {
			writeDomainError(w, fmt.Errorf("creating aoi: %w", err))
			return
		}

		job, err := jobs.Submit(r.Context(), aoi)
		if err != nil {
			writeDomainError(w, fmt.Errorf("submitting job: %w", err))
			return
		}

		slog.Info("aoi submitted", "aoi_id", aoi.ID, "job", job.Handle, "user_id", userID)
		response.Accepted(w, submitResponse{AOIID: aoi.ID, JobHandle: job.Handle})
	}
}

func readSubmission(r *http.Request) (*submission, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return readMultipart(r)
	}

	var req struct {
		Name    string          `json:"name"`
		GeoJSON json.RawMessage `json:"geojson"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, errors.New("invalid JSON body")
	}
	if len(req.GeoJSON) == 0 || string(req.GeoJSON) == "null" {
		return nil, errMissingGeoJSON
	}
	return &submission{Name: req.Name, GeoJSON: req.GeoJSON}, nil
}

func readMultipart(r *http.Request) (*submission, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, errors.New("invalid multipart body")
	}

	file, header, err := r.FormFile("geojson")
	if err != nil {
		return nil, errMissingGeoJSON
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("reading geojson file: %w", err)
	}
	return &submission{
		Name:     r.FormValue("name"),
		Filename: header.Filename,
		GeoJSON:  data,
	}, nil
}

// aoiName picks the first non-empty of the explicit name, the feature's
// name property and the uploaded file's base name.
func aoiName(sub *submission, parsed *geo.Submission, now time.Time) string {
	if name := strings.TrimSpace(sub.Name); name != "" {
		return name
	}
	if parsed.Name != "" {
		return parsed.Name
	}
	if sub.Filename != "" {
		base := filepath.Base(sub.Filename)
		if name := strings.TrimSuffix(base, filepath.Ext(base)); name != "" {
			return name
		}
	}
	return "AOI " + now.UTC().Format("2006-01-02")
}

// NewListAOIsHandler returns an http.HandlerFunc for GET /api/v1/aois.
// Favorites come first, then newest first.
func NewListAOIsHandler(aois store.AOIStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}

		page, limit, err := pagination(r)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}

		all, err := aois.ListAOIs(r.Context(), userID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		start := min((page-1)*limit, len(all))
		end := min(start+limit, len(all))
		items := all[start:end]
		if items == nil {
			items = []*models.AOI{}
		}

		response.Collection(w, items, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   len(all),
			HasNext: end < len(all),
		})
	}
}

func pagination(r *http.Request) (page, limit int, err error) {
	page, limit = 1, defaultPageLimit
	if v := r.URL.Query().Get("page"); v != "" {
		page, err = strconv.Atoi(v)
		if err != nil || page < 1 {
			return 0, 0, errors.New("page must be a positive integer")
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		limit = min(limit, maxPageLimit)
	}
	return page, limit, nil
}

// NewFavoriteHandler returns an http.HandlerFunc for
// PATCH /api/v1/aois/{aoiID}/favorite.
func NewFavoriteHandler(aois store.AOIStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		aoi, ok := ownedAOI(w, r, aois)
		if !ok {
			return
		}

		var req struct {
			Favorite *bool `json:"favorite"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Favorite == nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "favorite is required", nil)
			return
		}

		if err := aois.SetAOIFavorite(r.Context(), aoi.ID, *req.Favorite); err != nil {
			writeDomainError(w, err)
			return
		}
		aoi.Favorite = *req.Favorite
		response.JSON(w, aoi)
	}
}

// NewAnalyzeHandler returns an http.HandlerFunc for
// POST /api/v1/aois/{aoiID}/analyze. A new job replaces the AOI's handle;
// polls on the old handle keep answering but no longer move the AOI.
func NewAnalyzeHandler(aois store.AOIStore, jobs JobSubmitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		aoi, ok := ownedAOI(w, r, aois)
		if !ok {
			return
		}

		job, err := jobs.Submit(r.Context(), aoi)
		if err != nil {
			writeDomainError(w, fmt.Errorf("submitting job: %w", err))
			return
		}

		slog.Info("aoi re-analysis submitted", "aoi_id", aoi.ID, "job", job.Handle)
		response.Accepted(w, submitResponse{AOIID: aoi.ID, JobHandle: job.Handle})
	}
}
