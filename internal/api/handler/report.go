package handler

import (
	"context"
	"net/http"

	mw "github.com/biomass-watch/biomass-api/internal/api/middleware"
	"github.com/biomass-watch/biomass-api/internal/api/response"
	"github.com/biomass-watch/biomass-api/internal/report"
	"github.com/google/uuid"
)

// ReportBuilder assembles an AOI report for a requester.
type ReportBuilder interface {
	Build(ctx context.Context, aoiID uuid.UUID, req report.Requester) (*report.Report, error)
}

// ShareManager mints and revokes share tokens.
type ShareManager interface {
	Mint(ctx context.Context, aoiID, userID uuid.UUID) (string, error)
	Revoke(ctx context.Context, aoiID, userID uuid.UUID) error
}

// NewReportHandler returns an http.HandlerFunc for
// GET /api/v1/aois/{aoiID}/report. The caller is either the authenticated
// owner or anyone presenting the AOI's share_token query parameter.
func NewReportHandler(reports ReportBuilder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		aoiID, ok := aoiIDParam(w, r)
		if !ok {
			return
		}

		req := report.Requester{ShareToken: r.URL.Query().Get("share_token")}
		if userID, ok := mw.GetUserID(r); ok {
			req.UserID = userID
		}

		rep, err := reports.Build(r.Context(), aoiID, req)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		response.JSON(w, rep)
	}
}

// NewMintShareHandler returns an http.HandlerFunc for
// POST /api/v1/aois/{aoiID}/share. Minting replaces any previous token.
func NewMintShareHandler(shares ShareManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		aoiID, ok := aoiIDParam(w, r)
		if !ok {
			return
		}

		token, err := shares.Mint(r.Context(), aoiID, userID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		response.Created(w, map[string]any{
			"aoi_id":      aoiID,
			"share_token": token,
		})
	}
}

// NewRevokeShareHandler returns an http.HandlerFunc for
// DELETE /api/v1/aois/{aoiID}/share.
func NewRevokeShareHandler(shares ShareManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		aoiID, ok := aoiIDParam(w, r)
		if !ok {
			return
		}

		if err := shares.Revoke(r.Context(), aoiID, userID); err != nil {
			writeDomainError(w, err)
			return
		}
		response.NoContent(w)
	}
}
