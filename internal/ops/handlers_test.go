package ops

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peakcast/internal/nwp"
	"peakcast/internal/types"
)

// --- Mocks ---

type mockTrigger struct {
	calls     []string
	processed int
	err       error
}

func (m *mockTrigger) TriggerModel(_ context.Context, modelID string) (int, error) {
	m.calls = append(m.calls, modelID)
	if m.err != nil {
		return 0, m.err
	}
	return m.processed, nil
}

type mockRunReader struct {
	completed map[string]types.ModelRun
	latest    map[string]types.ModelRun
	err       error
}

func (m *mockRunReader) LatestCompletedAll(context.Context) (map[string]types.ModelRun, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.completed, nil
}

func (m *mockRunReader) LatestAll(context.Context) (map[string]types.ModelRun, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.latest, nil
}

type mockJobReader struct {
	jobs      []types.JobRecord
	total     int64
	err       error
	gotLimit  int
	gotOffset int
	gotType   string
}

func (m *mockJobReader) List(_ context.Context, limit, offset int, jobType string) ([]types.JobRecord, int64, error) {
	m.gotLimit, m.gotOffset, m.gotType = limit, offset, jobType
	if m.err != nil {
		return nil, 0, m.err
	}
	return m.jobs, m.total, nil
}

type mockFreshnessReader struct {
	statuses []types.ModelForecastStatus
	err      error
}

func (m *mockFreshnessReader) Freshness(context.Context, string) ([]types.ModelForecastStatus, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.statuses, nil
}

type mockBlendReader struct {
	blends map[string]*types.BlendForecast
	err    error
}

func blendKey(slug string, elev types.ElevationType) string {
	return slug + "|" + string(elev)
}

func (m *mockBlendReader) Get(_ context.Context, slug string, elev types.ElevationType) (*types.BlendForecast, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.blends[blendKey(slug, elev)], nil
}

type mockResortReader struct {
	resorts map[string]*types.Resort
}

func (m *mockResortReader) Get(_ context.Context, slug string) (*types.Resort, error) {
	if r, ok := m.resorts[slug]; ok {
		return r, nil
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundResort, "resort not found", nil)
}

type mockStatsReader struct {
	stats types.EngineStats
	err   error
}

func (m *mockStatsReader) EngineStats(context.Context, time.Time) (types.EngineStats, error) {
	if m.err != nil {
		return types.EngineStats{}, m.err
	}
	return m.stats, nil
}

type mockCacheSizer struct {
	size int64
	err  error
}

func (m *mockCacheSizer) Size() (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.size, nil
}

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(context.Context) error { return m.err }

// --- Fixture ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type opsFixture struct {
	trigger   *mockTrigger
	runs      *mockRunReader
	jobs      *mockJobReader
	forecasts *mockFreshnessReader
	blends    *mockBlendReader
	resorts   *mockResortReader
	stats     *mockStatsReader
	cache     *mockCacheSizer
	db        *mockPinger
}

func newOpsFixture() *opsFixture {
	return &opsFixture{
		trigger:   &mockTrigger{processed: 12},
		runs:      &mockRunReader{},
		jobs:      &mockJobReader{},
		forecasts: &mockFreshnessReader{},
		blends:    &mockBlendReader{blends: map[string]*types.BlendForecast{}},
		resorts: &mockResortReader{resorts: map[string]*types.Resort{
			"alta": {Slug: "alta", Name: "Alta"},
		}},
		stats: &mockStatsReader{},
		cache: &mockCacheSizer{},
		db:    &mockPinger{},
	}
}

func (f *opsFixture) config() HandlerConfig {
	return HandlerConfig{
		Registry:  nwp.NewStaticRegistry(),
		Trigger:   f.trigger,
		Runs:      f.runs,
		Jobs:      f.jobs,
		Forecasts: f.forecasts,
		Blends:    f.blends,
		Resorts:   f.resorts,
		Stats:     f.stats,
		Cache:     f.cache,
		DB:        f.db,
		Version:   "1.2.3",
		Logger:    testLogger(),
	}
}

func (f *opsFixture) router(t *testing.T) http.Handler {
	t.Helper()
	h, err := NewHandler(f.config())
	require.NoError(t, err)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func doRequest(t *testing.T, router http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

type errorResponse struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

// --- Constructor ---

func TestNewHandlerValidation(t *testing.T) {
	f := newOpsFixture()

	_, err := NewHandler(f.config())
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*HandlerConfig)
		want   string
	}{
		{"registry", func(c *HandlerConfig) { c.Registry = nil }, "registry is required"},
		{"trigger", func(c *HandlerConfig) { c.Trigger = nil }, "trigger is required"},
		{"runs", func(c *HandlerConfig) { c.Runs = nil }, "runs reader is required"},
		{"jobs", func(c *HandlerConfig) { c.Jobs = nil }, "jobs reader is required"},
		{"forecasts", func(c *HandlerConfig) { c.Forecasts = nil }, "forecasts reader is required"},
		{"blends", func(c *HandlerConfig) { c.Blends = nil }, "blends reader is required"},
		{"resorts", func(c *HandlerConfig) { c.Resorts = nil }, "resorts reader is required"},
		{"stats", func(c *HandlerConfig) { c.Stats = nil }, "stats reader is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := f.config()
			tc.mutate(&cfg)
			_, err := NewHandler(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestNewHandlerOptionalDeps(t *testing.T) {
	f := newOpsFixture()
	cfg := f.config()
	cfg.Cache = nil
	cfg.DB = nil
	cfg.Logger = nil

	_, err := NewHandler(cfg)
	require.NoError(t, err)
}

// --- Probes ---

func TestHandleHealth(t *testing.T) {
	f := newOpsFixture()
	rec := doRequest(t, f.router(t), http.MethodGet, "/healthz")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var out healthPayload
	decodeJSON(t, rec, &out)
	assert.Equal(t, "ok", out.Status)
	assert.Equal(t, "1.2.3", out.Version)
}

func TestHandleReady(t *testing.T) {
	f := newOpsFixture()
	rec := doRequest(t, f.router(t), http.MethodGet, "/readyz")

	require.Equal(t, http.StatusOK, rec.Code)

	var out readyPayload
	decodeJSON(t, rec, &out)
	assert.Equal(t, "ready", out.Status)
}

func TestHandleReadyDatabaseDown(t *testing.T) {
	f := newOpsFixture()
	f.db.err = errors.New("connection refused")

	rec := doRequest(t, f.router(t), http.MethodGet, "/readyz")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var out readyPayload
	decodeJSON(t, rec, &out)
	assert.Equal(t, "unavailable", out.Status)
	assert.Equal(t, "database unreachable", out.Error)
	// The raw driver error must not leak to the client.
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestHandleReadyWithoutPinger(t *testing.T) {
	f := newOpsFixture()
	f.db = nil
	cfg := f.config()
	cfg.DB = nil
	h, err := NewHandler(cfg)
	require.NoError(t, err)
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	rec := doRequest(t, r, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

// --- Status ---

func TestHandleStatus(t *testing.T) {
	hrrrRun := time.Date(2026, 1, 15, 7, 0, 0, 0, time.UTC)
	hrrrDone := hrrrRun.Add(10 * time.Minute)

	f := newOpsFixture()
	f.runs.completed = map[string]types.ModelRun{
		"hrrr": {ModelID: "hrrr", RunTime: hrrrRun, CompletedAt: &hrrrDone, ResortsProcessed: 19},
		"gfs":  {ModelID: "gfs", RunTime: hrrrRun.Add(-time.Hour), ResortsProcessed: 20},
	}

	rec := doRequest(t, f.router(t), http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var out EngineStatus
	decodeJSON(t, rec, &out)
	assert.Equal(t, "running", out.Status)
	assert.Equal(t, 2, out.ModelsTracked)
	require.Contains(t, out.LatestModelRuns, "hrrr")
	assert.Equal(t, 19, out.LatestModelRuns["hrrr"].ResortsProcessed)
	assert.True(t, out.LatestModelRuns["hrrr"].RunTime.Equal(hrrrRun))
	require.NotNil(t, out.LatestModelRuns["hrrr"].CompletedAt)
	assert.True(t, out.LatestModelRuns["hrrr"].CompletedAt.Equal(hrrrDone))
}

func TestHandleStatusEmpty(t *testing.T) {
	f := newOpsFixture()
	f.runs.completed = map[string]types.ModelRun{}

	rec := doRequest(t, f.router(t), http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var out EngineStatus
	decodeJSON(t, rec, &out)
	assert.Equal(t, "running", out.Status)
	assert.Zero(t, out.ModelsTracked)
}

func TestHandleStatusDatabaseError(t *testing.T) {
	f := newOpsFixture()
	f.runs.err = types.NewAppError(types.ErrCodeInternalDB, "failed to query latest completed runs", nil)

	rec := doRequest(t, f.router(t), http.MethodGet, "/status")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var out errorResponse
	decodeJSON(t, rec, &out)
	assert.Equal(t, "internal_database_error", out.Error.Code)
}

// --- Models ---

func TestHandleModels(t *testing.T) {
	runTime := time.Date(2026, 1, 15, 6, 0, 0, 0, time.UTC)

	f := newOpsFixture()
	f.runs.latest = map[string]types.ModelRun{
		"hrrr": {ModelID: "hrrr", RunTime: runTime, Status: types.RunStatusCompleted},
		"gfs":  {ModelID: "gfs", RunTime: runTime, Status: types.RunStatusFailed, Error: "grid unavailable"},
	}

	rec := doRequest(t, f.router(t), http.MethodGet, "/models")
	require.Equal(t, http.StatusOK, rec.Code)

	var out []ModelInfo
	decodeJSON(t, rec, &out)
	// Every gridded model appears, in blend priority order.
	require.Len(t, out, 7)
	assert.Equal(t, "hrrr", out[0].ModelID)
	assert.Equal(t, "HRRR", out[0].DisplayName)
	assert.Equal(t, "NOAA", out[0].Provider)
	assert.Equal(t, 1.0, out[0].UpdateIntervalHours)
	assert.Equal(t, 3.0, out[0].BlendWeight)
	assert.Equal(t, "completed", out[0].LastRun.Status)

	assert.Equal(t, "gfs", out[1].ModelID)
	assert.Equal(t, "failed", out[1].LastRun.Status)
	assert.Equal(t, "grid unavailable", out[1].LastRun.Error)

	assert.Equal(t, "nbm", out[2].ModelID)
	assert.Equal(t, "never_run", out[2].LastRun.Status)
	assert.Nil(t, out[2].LastRun.RunTime)

	last := out[len(out)-1]
	assert.Equal(t, "ecmwf_ens", last.ModelID)
	assert.True(t, last.Ensemble)
}

// --- Manual trigger ---

func TestHandleTriggerModel(t *testing.T) {
	f := newOpsFixture()
	f.trigger.processed = 12

	rec := doRequest(t, f.router(t), http.MethodPost, "/models/hrrr/run")
	require.Equal(t, http.StatusOK, rec.Code)

	var out TriggerResult
	decodeJSON(t, rec, &out)
	assert.Equal(t, "completed", out.Status)
	assert.Equal(t, "hrrr", out.ModelID)
	assert.Equal(t, 12, out.ResortsProcessed)
	assert.Equal(t, []string{"hrrr"}, f.trigger.calls)
}

func TestHandleTriggerModelResolvesAliases(t *testing.T) {
	f := newOpsFixture()

	rec := doRequest(t, f.router(t), http.MethodPost, "/models/ecmwf/run")
	require.Equal(t, http.StatusOK, rec.Code)

	var out TriggerResult
	decodeJSON(t, rec, &out)
	assert.Equal(t, "ifs", out.ModelID)
	assert.Equal(t, []string{"ifs"}, f.trigger.calls)
}

func TestHandleTriggerModelUnknown(t *testing.T) {
	f := newOpsFixture()

	rec := doRequest(t, f.router(t), http.MethodPost, "/models/wrf/run")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var out errorResponse
	decodeJSON(t, rec, &out)
	assert.Equal(t, "validation_model_unknown", out.Error.Code)
	assert.Empty(t, f.trigger.calls)
}

func TestHandleTriggerModelConflict(t *testing.T) {
	f := newOpsFixture()
	f.trigger.err = types.NewAppError(types.ErrCodeConflictJobRunning, "model_hrrr already running", nil)

	rec := doRequest(t, f.router(t), http.MethodPost, "/models/hrrr/run")
	require.Equal(t, http.StatusConflict, rec.Code)

	var out errorResponse
	decodeJSON(t, rec, &out)
	assert.Equal(t, "conflict_job_running", out.Error.Code)
}

func TestHandleTriggerModelUpstreamError(t *testing.T) {
	f := newOpsFixture()
	f.trigger.err = types.NewAppError(types.ErrCodeUpstreamGridUnavailable, "all mirrors failed", nil)

	rec := doRequest(t, f.router(t), http.MethodPost, "/models/gfs/run")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleTriggerModelGenericErrorDoesNotLeak(t *testing.T) {
	f := newOpsFixture()
	f.trigger.err = errors.New("pq: password authentication failed")

	rec := doRequest(t, f.router(t), http.MethodPost, "/models/hrrr/run")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var out errorResponse
	decodeJSON(t, rec, &out)
	assert.Equal(t, "internal_unexpected_error", out.Error.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}

// --- Resort freshness ---

func TestHandleResortStatus(t *testing.T) {
	runTime := time.Date(2026, 1, 15, 6, 0, 0, 0, time.UTC)
	updatedAt := runTime.Add(2 * time.Hour)

	f := newOpsFixture()
	f.forecasts.statuses = []types.ModelForecastStatus{
		{ModelID: "hrrr", Elevation: types.ElevationSummit, RunTime: runTime, Hours: 49},
		{ModelID: "hrrr", Elevation: types.ElevationBase, RunTime: runTime, Hours: 49},
	}
	f.blends.blends[blendKey("alta", types.ElevationSummit)] = &types.BlendForecast{
		ResortSlug: "alta",
		Elevation:  types.ElevationSummit,
		UpdatedAt:  updatedAt,
	}

	rec := doRequest(t, f.router(t), http.MethodGet, "/resorts/alta/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var out types.ResortFreshness
	decodeJSON(t, rec, &out)
	assert.Equal(t, "alta", out.ResortSlug)
	require.Len(t, out.Models, 2)
	assert.Equal(t, 49, out.Models[0].Hours)
	assert.True(t, out.BlendAvailable)
	require.NotNil(t, out.BlendUpdatedAt)
	assert.True(t, out.BlendUpdatedAt.Equal(updatedAt))
}

func TestHandleResortStatusBlendAtAnyElevation(t *testing.T) {
	f := newOpsFixture()
	f.blends.blends[blendKey("alta", types.ElevationBase)] = &types.BlendForecast{
		ResortSlug: "alta",
		Elevation:  types.ElevationBase,
		UpdatedAt:  time.Now().UTC(),
	}

	rec := doRequest(t, f.router(t), http.MethodGet, "/resorts/alta/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var out types.ResortFreshness
	decodeJSON(t, rec, &out)
	assert.True(t, out.BlendAvailable)
}

func TestHandleResortStatusNoBlend(t *testing.T) {
	f := newOpsFixture()

	rec := doRequest(t, f.router(t), http.MethodGet, "/resorts/alta/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var out types.ResortFreshness
	decodeJSON(t, rec, &out)
	assert.False(t, out.BlendAvailable)
	assert.Nil(t, out.BlendUpdatedAt)
}

func TestHandleResortStatusNotFound(t *testing.T) {
	f := newOpsFixture()

	rec := doRequest(t, f.router(t), http.MethodGet, "/resorts/nowhere/status")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var out errorResponse
	decodeJSON(t, rec, &out)
	assert.Equal(t, "not_found_resort", out.Error.Code)
}

// --- Job history ---

func TestHandleJobsDefaults(t *testing.T) {
	started := time.Date(2026, 1, 15, 7, 0, 0, 0, time.UTC)

	f := newOpsFixture()
	f.jobs.jobs = []types.JobRecord{
		{ID: 2, JobType: types.JobTypeBlend, Status: types.JobStatusCompleted, StartedAt: started},
		{ID: 1, JobType: types.JobTypeModelRun, ModelID: "hrrr", Status: types.JobStatusFailed, StartedAt: started},
	}
	f.jobs.total = 57

	rec := doRequest(t, f.router(t), http.MethodGet, "/jobs")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 50, f.jobs.gotLimit)
	assert.Equal(t, 0, f.jobs.gotOffset)
	assert.Empty(t, f.jobs.gotType)

	var out JobsPage
	decodeJSON(t, rec, &out)
	assert.Equal(t, int64(57), out.Total)
	assert.Equal(t, 50, out.Limit)
	assert.Zero(t, out.Offset)
	require.Len(t, out.Jobs, 2)
	assert.Equal(t, int64(2), out.Jobs[0].ID)
}

func TestHandleJobsPagination(t *testing.T) {
	f := newOpsFixture()

	rec := doRequest(t, f.router(t), http.MethodGet, "/jobs?limit=10&offset=20&job_type=blend")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 10, f.jobs.gotLimit)
	assert.Equal(t, 20, f.jobs.gotOffset)
	assert.Equal(t, "blend", f.jobs.gotType)
}

func TestHandleJobsInvalidParams(t *testing.T) {
	cases := []struct {
		name   string
		target string
	}{
		{"limit zero", "/jobs?limit=0"},
		{"limit too large", "/jobs?limit=500"},
		{"limit not a number", "/jobs?limit=abc"},
		{"negative offset", "/jobs?offset=-1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newOpsFixture()
			rec := doRequest(t, f.router(t), http.MethodGet, tc.target)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

// --- Stats ---

func TestHandleStats(t *testing.T) {
	f := newOpsFixture()
	f.stats.stats = types.EngineStats{
		Last24h:             types.JobWindowStats{TotalJobs: 40, CompletedJobs: 36, FailedJobs: 4, ErrorRate: 0.1},
		TotalModelRuns:      120,
		TotalBlendForecasts: 34,
	}
	f.cache.size = 4096

	rec := doRequest(t, f.router(t), http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var out types.EngineStats
	decodeJSON(t, rec, &out)
	assert.Equal(t, 40, out.Last24h.TotalJobs)
	assert.Equal(t, 0.1, out.Last24h.ErrorRate)
	assert.Equal(t, int64(120), out.TotalModelRuns)
	assert.Equal(t, int64(34), out.TotalBlendForecasts)
	assert.Equal(t, int64(4096), out.CacheSizeBytes)
}

func TestHandleStatsCacheScanFailureDegrades(t *testing.T) {
	f := newOpsFixture()
	f.stats.stats = types.EngineStats{TotalModelRuns: 5}
	f.cache.err = errors.New("permission denied")

	rec := doRequest(t, f.router(t), http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var out types.EngineStats
	decodeJSON(t, rec, &out)
	assert.Equal(t, int64(5), out.TotalModelRuns)
	assert.Zero(t, out.CacheSizeBytes)
}

func TestHandleStatsDatabaseError(t *testing.T) {
	f := newOpsFixture()
	f.stats.err = types.NewAppError(types.ErrCodeInternalDB, "failed to query job window stats", nil)

	rec := doRequest(t, f.router(t), http.MethodGet, "/stats")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
