package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/biomass-watch/biomass-api/internal/api"
	"github.com/biomass-watch/biomass-api/internal/api/handler"
	mw "github.com/biomass-watch/biomass-api/internal/api/middleware"
	"github.com/biomass-watch/biomass-api/internal/pipeline"
	"github.com/biomass-watch/biomass-api/internal/report"
	"github.com/biomass-watch/biomass-api/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// ─── test fixtures ───────────────────────────────────────────────────────────

const (
	ownerKey = "bm_owner_contract_key_1234567890"
	otherKey = "bm_other_contract_key_1234567890"
	adminKey = "bm_admin_contract_key_1234567890"
)

var fixedNow = time.Date(2022, 6, 15, 12, 0, 0, 0, time.UTC)

const plotFeature = `{
	"type": "Feature",
	"properties": {"name": "North plot"},
	"geometry": {"type": "Polygon", "coordinates": [[
		[-74.10, 4.60], [-74.00, 4.60], [-74.00, 4.70], [-74.10, 4.70], [-74.10, 4.60]
	]]}
}`

const plotPolygon = `{"type": "Polygon", "coordinates": [[
	[-74.10, 4.60], [-74.00, 4.60], [-74.00, 4.70], [-74.10, 4.70], [-74.10, 4.60]
]]}`

type testServer struct {
	*httptest.Server
	store   *memStore
	cache   *memCache
	runner  *pipeline.Runner
	archive *recordingArchiver
	owner   *models.User
	other   *models.User
}

// newTestServer wires the real runner, tracker, report builder and share
// service over in-memory fakes. Years listed in emptyYears yield no samples.
func newTestServer(t *testing.T, emptyYears ...int) *testServer {
	t.Helper()
	ctx := context.Background()

	st := newMemStore()
	ca := newMemCache()
	arc := &recordingArchiver{}

	owner, err := st.EnsureUser(ctx, "owner")
	require.NoError(t, err)
	other, err := st.EnsureUser(ctx, "other")
	require.NoError(t, err)
	admin, err := st.EnsureUser(ctx, "admin")
	require.NoError(t, err)
	seedKey(t, st, owner.ID, ownerKey, "analyst")
	seedKey(t, st, other.ID, otherKey, "analyst")
	seedKey(t, st, admin.ID, adminKey, "analyst", "admin")

	empty := make(map[int]bool)
	for _, y := range emptyYears {
		empty[y] = true
	}

	states := pipeline.NewStateStore(ca, time.Hour)
	runner := pipeline.NewRunner(st, states, ca, yearExtractor{empty: empty}, yearPredictor{}, pipeline.Options{
		StartYear: 2020,
		Now:       func() time.Time { return fixedNow },
	})
	tracker := pipeline.NewTracker(states, st)
	reports := report.NewBuilder(st, ca, time.Minute, nil)
	shares := report.NewSharing(st)

	router := api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(st),
		RateLimit: mw.NewRateLimit(ca, 1000),

		HealthHandler: handler.NewHealthHandler(st, ca),

		SubmitAOIHandler:   handler.NewSubmitAOIHandler(st, runner, arc),
		ListAOIsHandler:    handler.NewListAOIsHandler(st),
		FavoriteHandler:    handler.NewFavoriteHandler(st),
		AnalyzeHandler:     handler.NewAnalyzeHandler(st, runner),
		PollJobHandler:     handler.NewPollJobHandler(tracker),
		ReportHandler:      handler.NewReportHandler(reports),
		MintShareHandler:   handler.NewMintShareHandler(shares),
		RevokeShareHandler: handler.NewRevokeShareHandler(shares),

		CreateKeyHandler: handler.NewCreateKeyHandler(st),
		ListKeysHandler:  handler.NewListKeysHandler(st),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(st),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		runner.Wait()
		srv.Close()
	})

	return &testServer{
		Server:  srv,
		store:   st,
		cache:   ca,
		runner:  runner,
		archive: arc,
		owner:   owner,
		other:   other,
	}
}

func seedKey(t *testing.T, st *memStore, userID uuid.UUID, raw string, scopes ...string) {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, st.CreateAPIKey(context.Background(), &models.APIKey{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      raw[:8],
		KeyHash:   string(h),
		KeyPrefix: raw[:8],
		Scopes:    scopes,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}))
}

// do sends a request and decodes the JSON envelope, if any.
func (ts *testServer) do(t *testing.T, method, path, key string, body any) (int, map[string]any) {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, ts.URL+path, rdr)
	require.NoError(t, err)
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	return send(t, req)
}

func send(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) == 0 {
		return resp.StatusCode, nil
	}
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body), string(raw))
	return resp.StatusCode, body
}

func data(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	d, ok := body["data"].(map[string]any)
	require.True(t, ok, "expected data object, got %v", body)
	return d
}

func errCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

// submit posts plotFeature as the owner and waits for the job to finish.
func (ts *testServer) submit(t *testing.T) (aoiID uuid.UUID, handle string) {
	t.Helper()
	status, body := ts.do(t, "POST", "/api/v1/aois", ownerKey, map[string]any{
		"geojson": json.RawMessage(plotFeature),
	})
	require.Equal(t, http.StatusAccepted, status, body)
	d := data(t, body)
	ts.runner.Wait()
	return uuid.MustParse(d["aoi_id"].(string)), d["job_handle"].(string)
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONTRACT TESTS
// ═══════════════════════════════════════════════════════════════════════════════

// ─── GET /api/v1/health ──────────────────────────────────────────────────────

func TestHealth_200_AllOK(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, "GET", "/api/v1/health", "", nil)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", data(t, body)["status"])
}

func TestHealth_503_Degraded(t *testing.T) {
	ts := newTestServer(t)
	ts.cache.pingErr = errors.New("connection refused")

	status, body := ts.do(t, "GET", "/api/v1/health", "", nil)

	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "DEGRADED", errCode(body))
	details := body["error"].(map[string]any)["details"].(map[string]any)
	assert.Equal(t, "degraded", details["cache"])
	assert.Equal(t, "ok", details["database"])
}

// ─── POST /api/v1/aois ───────────────────────────────────────────────────────

func TestSubmitAOI_202_RunsToCompletion(t *testing.T) {
	ts := newTestServer(t)

	aoiID, handle := ts.submit(t)

	aoi, err := ts.store.GetAOI(context.Background(), aoiID)
	require.NoError(t, err)
	assert.Equal(t, "North plot", aoi.Name)
	assert.Equal(t, ts.owner.ID, aoi.UserID)
	assert.Equal(t, models.AOIStatusCompleted, aoi.Status)
	require.NotNil(t, aoi.JobHandle)
	assert.Equal(t, handle, *aoi.JobHandle)
	require.NotNil(t, aoi.FilePath)
	assert.Contains(t, *aoi.FilePath, aoiID.String())
	assert.Contains(t, ts.archive.payloads[aoiID], "North plot")

	status, body := ts.do(t, "GET", "/api/v1/jobs/"+handle, ownerKey, nil)
	require.Equal(t, http.StatusOK, status)
	job := data(t, body)
	assert.Equal(t, models.JobStateSucceeded, job["state"])
	assert.Equal(t, float64(100), job["current"])
	assert.Equal(t, "North plot", job["aoi_name"])

	results := job["results"].([]any)
	require.Len(t, results, 3)
	first := results[0].(map[string]any)
	assert.Equal(t, float64(2020), first["year"])
	assert.Equal(t, float64(100), first["biomass"])
	assert.Equal(t, float64(120), results[2].(map[string]any)["biomass"])
}

func TestSubmitAOI_202_Multipart(t *testing.T) {
	ts := newTestServer(t)

	var buf bytes.Buffer
	mp := multipart.NewWriter(&buf)
	part, err := mp.CreateFormFile("geojson", "south-field.geojson")
	require.NoError(t, err)
	_, err = part.Write([]byte(plotPolygon))
	require.NoError(t, err)
	require.NoError(t, mp.Close())

	req, err := http.NewRequest("POST", ts.URL+"/api/v1/aois", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mp.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+ownerKey)

	status, body := send(t, req)
	require.Equal(t, http.StatusAccepted, status, body)
	ts.runner.Wait()

	aoi, err := ts.store.GetAOI(context.Background(), uuid.MustParse(data(t, body)["aoi_id"].(string)))
	require.NoError(t, err)
	assert.Equal(t, "south-field", aoi.Name)
	assert.Equal(t, plotPolygon, ts.archive.payloads[aoi.ID])
}

func TestSubmitAOI_ExplicitNameWins(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, "POST", "/api/v1/aois", ownerKey, map[string]any{
		"name":    "  Reserve A  ",
		"geojson": json.RawMessage(plotFeature),
	})
	require.Equal(t, http.StatusAccepted, status)
	ts.runner.Wait()

	aoi, err := ts.store.GetAOI(context.Background(), uuid.MustParse(data(t, body)["aoi_id"].(string)))
	require.NoError(t, err)
	assert.Equal(t, "Reserve A", aoi.Name)
}

func TestSubmitAOI_202_NumericNamePropertyFallsBack(t *testing.T) {
	ts := newTestServer(t)

	feature := `{"type":"Feature","properties":{"name":5},"geometry":` + plotPolygon + `}`
	status, body := ts.do(t, "POST", "/api/v1/aois", ownerKey, map[string]any{
		"geojson": json.RawMessage(feature),
	})
	require.Equal(t, http.StatusAccepted, status, body)
	ts.runner.Wait()

	aoi, err := ts.store.GetAOI(context.Background(), uuid.MustParse(data(t, body)["aoi_id"].(string)))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(aoi.Name, "AOI "), aoi.Name)
	assert.Equal(t, models.AOIStatusCompleted, aoi.Status)
}

func TestSubmitAOI_400_InvalidGeometry(t *testing.T) {
	ts := newTestServer(t)

	cases := map[string]string{
		"two features": `{"type":"FeatureCollection","features":[` + plotFeature + `,` + plotFeature + `]}`,
		"point":        `{"type":"Point","coordinates":[-74.0,4.6]}`,
		"multipolygon with two parts": `{"type":"MultiPolygon","coordinates":[
			[[[0,0],[1,0],[1,1],[0,1],[0,0]]],
			[[[2,2],[3,2],[3,3],[2,3],[2,2]]]]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			status, body := ts.do(t, "POST", "/api/v1/aois", ownerKey, map[string]any{
				"geojson": json.RawMessage(doc),
			})
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, "INVALID_GEOMETRY", errCode(body))
		})
	}

	assert.Zero(t, ts.store.aoiCount(), "no AOI may be created for a rejected submission")
}

func TestSubmitAOI_400_MissingGeoJSON(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, "POST", "/api/v1/aois", ownerKey, map[string]any{"name": "empty"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_REQUEST", errCode(body))

	status, body = ts.do(t, "POST", "/api/v1/aois", ownerKey, "{not json")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_REQUEST", errCode(body))
}

func TestSubmitAOI_ArchiveFailureDoesNotBlock(t *testing.T) {
	ts := newTestServer(t)
	ts.archive.err = errors.New("bucket unavailable")

	aoiID, _ := ts.submit(t)

	aoi, err := ts.store.GetAOI(context.Background(), aoiID)
	require.NoError(t, err)
	assert.Nil(t, aoi.FilePath)
	assert.Equal(t, models.AOIStatusCompleted, aoi.Status)
}

// ─── GET /api/v1/jobs/{handle} ───────────────────────────────────────────────

func TestPollJob_404_Unknown(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, "GET", "/api/v1/jobs/"+uuid.NewString(), ownerKey, nil)

	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "JOB_NOT_FOUND", errCode(body))
}

func TestPollJob_ReconcilesAOIStatus(t *testing.T) {
	ts := newTestServer(t)
	aoiID, handle := ts.submit(t)

	// Simulate a status write that was lost while the job finished.
	require.NoError(t, ts.store.UpdateAOIStatus(context.Background(), aoiID, models.AOIStatusAnalysing))

	status, _ := ts.do(t, "GET", "/api/v1/jobs/"+handle, ownerKey, nil)
	require.Equal(t, http.StatusOK, status)

	aoi, err := ts.store.GetAOI(context.Background(), aoiID)
	require.NoError(t, err)
	assert.Equal(t, models.AOIStatusCompleted, aoi.Status)
}

// ─── POST /api/v1/aois/{aoiID}/analyze ───────────────────────────────────────

func TestAnalyze_202_ReplacesHandle(t *testing.T) {
	ts := newTestServer(t)
	aoiID, oldHandle := ts.submit(t)

	status, body := ts.do(t, "POST", "/api/v1/aois/"+aoiID.String()+"/analyze", ownerKey, nil)
	require.Equal(t, http.StatusAccepted, status)
	newHandle := data(t, body)["job_handle"].(string)
	assert.NotEqual(t, oldHandle, newHandle)
	ts.runner.Wait()

	aoi, err := ts.store.GetAOI(context.Background(), aoiID)
	require.NoError(t, err)
	assert.Equal(t, newHandle, *aoi.JobHandle)

	// The superseded job still answers polls.
	status, _ = ts.do(t, "GET", "/api/v1/jobs/"+oldHandle, ownerKey, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestAnalyze_403_NotOwner(t *testing.T) {
	ts := newTestServer(t)
	aoiID, _ := ts.submit(t)

	status, body := ts.do(t, "POST", "/api/v1/aois/"+aoiID.String()+"/analyze", otherKey, nil)

	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", errCode(body))
}

func TestAnalyze_404_Unknown(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, "POST", "/api/v1/aois/"+uuid.NewString()+"/analyze", ownerKey, nil)

	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "AOI_NOT_FOUND", errCode(body))
}

// ─── GET /api/v1/aois/{aoiID}/report ─────────────────────────────────────────

func TestReport_200_Owner(t *testing.T) {
	ts := newTestServer(t)
	aoiID, _ := ts.submit(t)

	status, body := ts.do(t, "GET", "/api/v1/aois/"+aoiID.String()+"/report", ownerKey, nil)
	require.Equal(t, http.StatusOK, status)
	rep := data(t, body)

	assert.Equal(t, aoiID.String(), rep["aoi_id"])
	assert.Equal(t, "North plot", rep["name"])
	assert.Equal(t, models.AOIStatusCompleted, rep["status"])
	assert.Nil(t, rep["share_token"])

	series := rep["series"].([]any)
	require.Len(t, series, 3)
	assert.Equal(t, float64(110), rep["means"].(map[string]any)["biomass"])

	forecast := rep["forecast"].([]any)
	require.Len(t, forecast, 3)
	last := forecast[2].(map[string]any)
	assert.Equal(t, float64(2025), last["year"])
	assert.InDelta(t, 150, last["biomass"].(float64), 1e-9)

	m := rep["map"].(map[string]any)
	centroid := m["centroid"].([]any)
	assert.InDelta(t, -74.05, centroid[0].(float64), 1e-6)
	assert.InDelta(t, 4.65, centroid[1].(float64), 1e-6)
	assert.Greater(t, m["area_m2"].(float64), 0.0)
	assert.Greater(t, m["zoom"].(float64), 0.0)
}

func TestReport_200_EmptySeries(t *testing.T) {
	ts := newTestServer(t, 2020, 2021, 2022)
	aoiID, handle := ts.submit(t)

	status, body := ts.do(t, "GET", "/api/v1/jobs/"+handle, ownerKey, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.JobStateSucceeded, data(t, body)["state"])

	status, body = ts.do(t, "GET", "/api/v1/aois/"+aoiID.String()+"/report", ownerKey, nil)
	require.Equal(t, http.StatusOK, status)
	rep := data(t, body)
	assert.Empty(t, rep["series"])
	assert.Empty(t, rep["forecast"])
}

func TestReport_AccessErrors(t *testing.T) {
	ts := newTestServer(t)
	aoiID, _ := ts.submit(t)
	path := "/api/v1/aois/" + aoiID.String() + "/report"

	status, body := ts.do(t, "GET", path, otherKey, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", errCode(body))

	status, _ = ts.do(t, "GET", path, "", nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = ts.do(t, "GET", "/api/v1/aois/"+uuid.NewString()+"/report", ownerKey, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "AOI_NOT_FOUND", errCode(body))

	status, body = ts.do(t, "GET", "/api/v1/aois/not-a-uuid/report", ownerKey, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_AOI_ID", errCode(body))
}

// ─── POST/DELETE /api/v1/aois/{aoiID}/share ──────────────────────────────────

func TestShare_MintReadRevoke(t *testing.T) {
	ts := newTestServer(t)
	aoiID, _ := ts.submit(t)
	sharePath := "/api/v1/aois/" + aoiID.String() + "/share"
	reportPath := "/api/v1/aois/" + aoiID.String() + "/report"

	status, _ := ts.do(t, "POST", sharePath, otherKey, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body := ts.do(t, "POST", sharePath, ownerKey, nil)
	require.Equal(t, http.StatusCreated, status)
	token := data(t, body)["share_token"].(string)
	assert.Len(t, token, 64)

	status, body = ts.do(t, "GET", reportPath+"?share_token="+token, "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, token, data(t, body)["share_token"])

	// A different user holding the token may read it too.
	status, _ = ts.do(t, "GET", reportPath+"?share_token="+token, otherKey, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = ts.do(t, "GET", reportPath+"?share_token=wrong", "", nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = ts.do(t, "DELETE", sharePath, ownerKey, nil)
	assert.Equal(t, http.StatusNoContent, status)
	assert.Nil(t, body)

	status, _ = ts.do(t, "GET", reportPath+"?share_token="+token, "", nil)
	assert.Equal(t, http.StatusForbidden, status)
}

// ─── PATCH /api/v1/aois/{aoiID}/favorite ─────────────────────────────────────

func TestFavorite(t *testing.T) {
	ts := newTestServer(t)
	aoiID, _ := ts.submit(t)
	path := "/api/v1/aois/" + aoiID.String() + "/favorite"

	status, body := ts.do(t, "PATCH", path, ownerKey, map[string]any{"favorite": true})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, data(t, body)["favorite"])

	aoi, err := ts.store.GetAOI(context.Background(), aoiID)
	require.NoError(t, err)
	assert.True(t, aoi.Favorite)

	status, body = ts.do(t, "PATCH", path, ownerKey, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_REQUEST", errCode(body))

	status, _ = ts.do(t, "PATCH", path, otherKey, map[string]any{"favorite": false})
	assert.Equal(t, http.StatusForbidden, status)
}

// ─── GET /api/v1/aois ────────────────────────────────────────────────────────

func TestListAOIs_PaginatedAndScoped(t *testing.T) {
	ts := newTestServer(t)
	for range 3 {
		ts.submit(t)
	}

	status, body := ts.do(t, "GET", "/api/v1/aois?limit=2", ownerKey, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"].([]any), 2)
	meta := body["meta"].(map[string]any)
	assert.Equal(t, float64(3), meta["total"])
	assert.Equal(t, true, meta["has_next"])

	status, body = ts.do(t, "GET", "/api/v1/aois?page=2&limit=2", ownerKey, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"].([]any), 1)
	assert.Equal(t, false, body["meta"].(map[string]any)["has_next"])

	status, body = ts.do(t, "GET", "/api/v1/aois", otherKey, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["data"].([]any))

	status, _ = ts.do(t, "GET", "/api/v1/aois?page=0", ownerKey, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

// ─── /api/v1/admin/keys ──────────────────────────────────────────────────────

func TestCreateKey_201_KeyAuthenticates(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, "POST", "/api/v1/admin/keys", adminKey, map[string]any{
		"username": "field-team",
		"name":     "tablet",
	})
	require.Equal(t, http.StatusCreated, status)
	d := data(t, body)
	raw := d["key"].(string)
	assert.Equal(t, raw[:8], d["key_prefix"])
	assert.Equal(t, []any{"analyst"}, d["scopes"])

	status, _ = ts.do(t, "GET", "/api/v1/aois", raw, nil)
	assert.Equal(t, http.StatusOK, status)

	status, body = ts.do(t, "POST", "/api/v1/admin/keys", adminKey, map[string]any{
		"username": "field-team",
		"name":     "tablet",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "DUPLICATE_KEY", errCode(body))
}

func TestCreateKey_400_Validation(t *testing.T) {
	ts := newTestServer(t)

	status, _ := ts.do(t, "POST", "/api/v1/admin/keys", adminKey, map[string]any{"name": "x"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = ts.do(t, "POST", "/api/v1/admin/keys", adminKey, map[string]any{"username": "x"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestListKeys_DoesNotExposeSecrets(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, "GET", "/api/v1/admin/keys?user_id="+ts.owner.ID.String(), adminKey, nil)
	require.Equal(t, http.StatusOK, status)
	keys := body["data"].([]any)
	require.Len(t, keys, 1)

	k := keys[0].(map[string]any)
	assert.Equal(t, ownerKey[:8], k["key_prefix"])
	assert.Nil(t, k["key"])
	assert.Nil(t, k["key_hash"])
}

func TestRevokeKey(t *testing.T) {
	ts := newTestServer(t)

	keys, err := ts.store.ListAPIKeys(context.Background(), ts.other.ID)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	status, _ := ts.do(t, "DELETE", "/api/v1/admin/keys/"+keys[0].ID.String(), adminKey, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = ts.do(t, "GET", "/api/v1/aois", otherKey, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := ts.do(t, "DELETE", "/api/v1/admin/keys/"+keys[0].ID.String(), adminKey, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "KEY_NOT_FOUND", errCode(body))
}

func TestAdminEndpoints_403_WithoutAdminScope(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, "GET", "/api/v1/admin/keys", ownerKey, nil)

	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", errCode(body))
}
