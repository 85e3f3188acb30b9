package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/biomass-watch/biomass-api/internal/cache"
	"github.com/biomass-watch/biomass-api/internal/eo"
	"github.com/biomass-watch/biomass-api/internal/metrics"
	"github.com/biomass-watch/biomass-api/internal/store"
	"github.com/biomass-watch/biomass-api/pkg/models"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"golang.org/x/sync/semaphore"
)

const (
	msgQueued     = "queued"
	msgCompleted  = "analysis completed"
	msgFailed     = "analysis failed"
	msgSuperseded = "superseded by a newer analysis"
)

// Extractor produces the feature table for one year of an AOI.
type Extractor interface {
	Extract(ctx context.Context, aoi orb.Polygon, year int) (*eo.Table, error)
}

// Predictor turns a feature table into a mean biomass estimate (Mg/ha).
type Predictor interface {
	PredictMean(ctx context.Context, table *eo.Table) (float64, error)
}

// Store is the persistence a Runner needs.
type Store interface {
	store.AOIStore
	store.StatStore
}

// Options tunes a Runner. Zero values fall back to defaults.
type Options struct {
	StartYear     int
	MaxConcurrent int64
	Metrics       *metrics.Metrics
	Now           func() time.Time
}

// Runner schedules analysis jobs and executes the per-year loop for each.
type Runner struct {
	store     Store
	states    *StateStore
	cache     cache.Cache
	extractor Extractor
	predictor Predictor
	metrics   *metrics.Metrics
	sem       *semaphore.Weighted
	startYear int
	now       func() time.Time
	wg        sync.WaitGroup
}

// NewRunner creates a Runner.
func NewRunner(st Store, states *StateStore, ca cache.Cache, ex Extractor, pr Predictor, opts Options) *Runner {
	if opts.StartYear <= 0 {
		opts.StartYear = 2019
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{
		store:     st,
		states:    states,
		cache:     ca,
		extractor: ex,
		predictor: pr,
		metrics:   opts.Metrics,
		sem:       semaphore.NewWeighted(opts.MaxConcurrent),
		startYear: opts.StartYear,
		now:       opts.Now,
	}
}

// Submit creates a pending job for aoi and runs it in the background.
// It returns as soon as the job is recorded; the run does not inherit
// ctx's cancellation.
func (r *Runner) Submit(ctx context.Context, aoi *models.AOI) (*models.JobState, error) {
	if aoi.ID == uuid.Nil {
		return nil, fmt.Errorf("invalid aoi: ID is required")
	}

	state := &models.JobState{
		Handle:    uuid.NewString(),
		AOIID:     aoi.ID,
		AOIName:   aoi.Name,
		State:     models.JobStatePending,
		Total:     models.JobProgressTotal,
		Message:   msgQueued,
		UpdatedAt: r.now().UTC(),
	}
	if err := r.states.Put(ctx, state); err != nil {
		return nil, fmt.Errorf("recording job: %w", err)
	}
	if err := r.store.SetAOIJob(ctx, aoi.ID, state.Handle); err != nil {
		return nil, fmt.Errorf("attaching job to aoi: %w", err)
	}

	r.wg.Add(1)
	go r.run(context.WithoutCancel(ctx), state.Handle, aoi.ID)

	return state, nil
}

// Wait blocks until every submitted job has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Years returns the inclusive range of calendar years a job covers.
func (r *Runner) Years() []int {
	last := r.now().Year()
	years := make([]int, 0, last-r.startYear+1)
	for y := r.startYear; y <= last; y++ {
		years = append(years, y)
	}
	return years
}

// run executes the year loop for one job. It recovers from panics and
// always leaves the job succeeded or failed.
func (r *Runner) run(ctx context.Context, handle string, aoiID uuid.UUID) {
	defer r.wg.Done()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.fail(ctx, &models.JobState{Handle: handle, AOIID: aoiID}, err)
		return
	}
	defer r.sem.Release(1)

	start := r.now()
	r.metrics.JobStarted()
	log := slog.With("job", handle, "aoi_id", aoiID)
	state := &models.JobState{Handle: handle, AOIID: aoiID, State: models.JobStateProgress, Total: models.JobProgressTotal}
	final := models.JobStateFailed

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("panic in analysis job", "error", rec)
			r.fail(ctx, state, fmt.Errorf("panic: %v", rec))
			final = models.JobStateFailed
		}
		r.metrics.JobFinished(final, r.now().Sub(start))
	}()

	aoi, err := r.store.GetAOI(ctx, aoiID)
	if err != nil {
		r.fail(ctx, state, fmt.Errorf("loading aoi: %w", err))
		return
	}
	state.AOIName = aoi.Name
	if aoi.JobHandle == nil || *aoi.JobHandle != handle {
		// A newer analysis was requested while this one was queued.
		log.Info("job superseded before start")
		state.State = models.JobStateFailed
		state.Message = msgSuperseded
		state.Error = msgSuperseded
		r.put(ctx, state)
		return
	}

	years := r.Years()
	log.Info("analysis started", "years", len(years))

	results := make([]models.YearResult, 0, len(years))
	for i, year := range years {
		state.Current = i * models.JobProgressTotal / len(years)
		state.Message = fmt.Sprintf("processing year %d", year)
		r.put(ctx, state)

		res, outcome := r.processYear(ctx, aoi, year)
		r.metrics.YearProcessed(outcome)
		switch outcome {
		case metrics.YearSkipped:
			log.Info("no samples for year, skipping", "year", year)
			continue
		case metrics.YearFailed:
			log.Warn("year failed", "year", year, "error", res.Error)
		}
		results = append(results, res)
	}

	state.State = models.JobStateSucceeded
	state.Current = models.JobProgressTotal
	state.Message = msgCompleted
	state.Results = results
	r.put(ctx, state)
	r.setAOIStatus(ctx, state, models.AOIStatusCompleted)
	r.invalidateReport(ctx, aoi.ID)
	final = models.JobStateSucceeded

	log.Info("analysis completed", "results", len(results), "duration_ms", r.now().Sub(start).Milliseconds())
}

// processYear runs extraction and prediction for one year. Any error is
// confined to the year's result entry.
func (r *Runner) processYear(ctx context.Context, aoi *models.AOI, year int) (models.YearResult, string) {
	failed := func(err error) (models.YearResult, string) {
		return models.YearResult{
			Year:  year,
			Error: fmt.Sprintf("could not process year %d: %v", year, err),
		}, metrics.YearFailed
	}

	table, err := r.extractor.Extract(ctx, aoi.Geometry, year)
	if errors.Is(err, eo.ErrNoSamples) {
		return models.YearResult{}, metrics.YearSkipped
	}
	if err != nil {
		return failed(err)
	}

	mean, err := r.predictor.PredictMean(ctx, table)
	if err != nil {
		return failed(err)
	}

	_, err = r.store.UpsertYearlyStat(ctx, &models.YearlyStat{
		ID:          uuid.New(),
		AOIID:       aoi.ID,
		Year:        year,
		MeanBiomass: mean,
		MeanCarbon:  models.Carbon(mean),
		CreatedAt:   r.now().UTC(),
	})
	if err != nil {
		return failed(err)
	}

	return models.NewYearResult(year, mean), metrics.YearSucceeded
}

// fail marks the job failed and the AOI errored. Stat rows already written
// for earlier years are kept.
func (r *Runner) fail(ctx context.Context, state *models.JobState, err error) {
	slog.Error("analysis failed", "job", state.Handle, "aoi_id", state.AOIID, "error", err)

	state.State = models.JobStateFailed
	state.Message = msgFailed
	state.Error = err.Error()
	r.put(ctx, state)

	r.setAOIStatus(ctx, state, models.AOIStatusError)
	r.invalidateReport(ctx, state.AOIID)
}

// setAOIStatus records the job outcome on the AOI unless a newer job has
// taken it over.
func (r *Runner) setAOIStatus(ctx context.Context, state *models.JobState, status string) {
	err := r.store.SetJobAOIStatus(ctx, state.AOIID, state.Handle, status)
	switch {
	case errors.Is(err, store.ErrNotFound):
		slog.Info("aoi no longer follows job, status left alone", "job", state.Handle, "aoi_id", state.AOIID)
	case err != nil:
		slog.Error("failed to update aoi status", "job", state.Handle, "aoi_id", state.AOIID, "status", status, "error", err)
	}
}

func (r *Runner) put(ctx context.Context, state *models.JobState) {
	state.UpdatedAt = r.now().UTC()
	if err := r.states.Put(ctx, state); err != nil {
		slog.Error("failed to write job state", "job", state.Handle, "error", err)
	}
}

func (r *Runner) invalidateReport(ctx context.Context, aoiID uuid.UUID) {
	if err := r.cache.Delete(ctx, cache.ReportKey(aoiID)); err != nil {
		slog.Warn("failed to invalidate report cache", "aoi_id", aoiID, "error", err)
	}
}
