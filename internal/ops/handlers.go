package ops

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"peakcast/internal/nwp"
	"peakcast/internal/types"
)

// readyTimeout bounds the readiness probe's database ping.
const readyTimeout = 2 * time.Second

// Jobs pagination bounds.
const (
	defaultJobsLimit = 50
	maxJobsLimit     = 200
)

// ModelTrigger starts one model's ingestion outside its normal schedule.
// The scheduler implements it; the trigger reuses the same candidate
// fallback as scheduled runs and refuses to overlap one already in flight.
type ModelTrigger interface {
	TriggerModel(ctx context.Context, modelID string) (int, error)
}

// RunReader reads model run state for the status surface.
type RunReader interface {
	// LatestCompletedAll returns the newest completed run per model.
	LatestCompletedAll(ctx context.Context) (map[string]types.ModelRun, error)

	// LatestAll returns the newest run per model regardless of status.
	LatestAll(ctx context.Context) (map[string]types.ModelRun, error)
}

// JobReader pages through job history, newest first.
type JobReader interface {
	List(ctx context.Context, limit, offset int, jobType string) ([]types.JobRecord, int64, error)
}

// FreshnessReader summarizes the newest stored series per (model, elevation)
// for one resort.
type FreshnessReader interface {
	Freshness(ctx context.Context, resortSlug string) ([]types.ModelForecastStatus, error)
}

// BlendReader reads the current blend for one (resort, elevation) pair.
// A nil forecast with a nil error means no blend has been computed yet.
type BlendReader interface {
	Get(ctx context.Context, resortSlug string, elevation types.ElevationType) (*types.BlendForecast, error)
}

// ResortReader resolves resort slugs.
type ResortReader interface {
	Get(ctx context.Context, slug string) (*types.Resort, error)
}

// StatsReader assembles the aggregate stats snapshot.
type StatsReader interface {
	EngineStats(ctx context.Context, now time.Time) (types.EngineStats, error)
}

// CacheSizer reports the tile cache's on-disk footprint. May be nil.
type CacheSizer interface {
	Size() (int64, error)
}

// Pinger checks database connectivity for the readiness probe. May be nil,
// in which case /readyz always reports ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandlerConfig carries the dependencies for the ops endpoints.
type HandlerConfig struct {
	Registry  nwp.Registry
	Trigger   ModelTrigger
	Runs      RunReader
	Jobs      JobReader
	Forecasts FreshnessReader
	Blends    BlendReader
	Resorts   ResortReader
	Stats     StatsReader
	Cache     CacheSizer
	DB        Pinger

	// Version is reported by the liveness probe. Optional.
	Version string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Handler serves the ops endpoints. Construct with NewHandler and mount via
// RegisterRoutes.
type Handler struct {
	registry  nwp.Registry
	trigger   ModelTrigger
	runs      RunReader
	jobs      JobReader
	forecasts FreshnessReader
	blends    BlendReader
	resorts   ResortReader
	stats     StatsReader
	cache     CacheSizer
	db        Pinger
	version   string
	logger    *slog.Logger
}

// NewHandler validates the dependency set and returns a ready Handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Registry == nil {
		return nil, errors.New("ops: registry is required")
	}
	if cfg.Trigger == nil {
		return nil, errors.New("ops: trigger is required")
	}
	if cfg.Runs == nil {
		return nil, errors.New("ops: runs reader is required")
	}
	if cfg.Jobs == nil {
		return nil, errors.New("ops: jobs reader is required")
	}
	if cfg.Forecasts == nil {
		return nil, errors.New("ops: forecasts reader is required")
	}
	if cfg.Blends == nil {
		return nil, errors.New("ops: blends reader is required")
	}
	if cfg.Resorts == nil {
		return nil, errors.New("ops: resorts reader is required")
	}
	if cfg.Stats == nil {
		return nil, errors.New("ops: stats reader is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry:  cfg.Registry,
		trigger:   cfg.Trigger,
		runs:      cfg.Runs,
		jobs:      cfg.Jobs,
		forecasts: cfg.Forecasts,
		blends:    cfg.Blends,
		resorts:   cfg.Resorts,
		stats:     cfg.Stats,
		cache:     cfg.Cache,
		db:        cfg.DB,
		version:   cfg.Version,
		logger:    logger,
	}, nil
}

// RegisterRoutes mounts the ops endpoints on the given router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealth)
	r.Get("/readyz", h.HandleReady)
	r.Get("/status", h.HandleStatus)
	r.Get("/models", h.HandleModels)
	r.Post("/models/{modelID}/run", h.HandleTriggerModel)
	r.Get("/resorts/{slug}/status", h.HandleResortStatus)
	r.Get("/jobs", h.HandleJobs)
	r.Get("/stats", h.HandleStats)
}

// EngineStatus is the /status payload: the newest completed run per model.
type EngineStatus struct {
	Status          string                      `json:"status"`
	LatestModelRuns map[string]types.RunSummary `json:"latest_model_runs"`
	ModelsTracked   int                         `json:"models_tracked"`
}

// ModelInfo is one entry of the /models payload.
type ModelInfo struct {
	ModelID             string      `json:"model_id"`
	DisplayName         string      `json:"display_name"`
	Provider            string      `json:"provider"`
	UpdateIntervalHours float64     `json:"update_interval_hours"`
	Ensemble            bool        `json:"is_ensemble"`
	BlendWeight         float64     `json:"blend_weight"`
	LastRun             LastRunInfo `json:"last_run"`
}

// LastRunInfo describes a model's newest run of any status. Status is
// "never_run" when the model has no run rows at all.
type LastRunInfo struct {
	RunTime *time.Time `json:"run_datetime"`
	Status  string     `json:"status"`
	Error   string     `json:"error,omitempty"`
}

// TriggerResult is the POST /models/{modelID}/run payload.
type TriggerResult struct {
	Status           string `json:"status"`
	ModelID          string `json:"model_id"`
	ResortsProcessed int    `json:"resorts_processed"`
}

// JobsPage is the paginated /jobs payload.
type JobsPage struct {
	Total  int64             `json:"total"`
	Offset int               `json:"offset"`
	Limit  int               `json:"limit"`
	Jobs   []types.JobRecord `json:"jobs"`
}

type healthPayload struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

type readyPayload struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HandleHealth is the liveness probe. It reports ok as long as the process
// is serving requests.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, healthPayload{Status: "ok", Version: h.version})
}

// HandleReady is the readiness probe: a bounded database ping. Returns 503
// while the database is unreachable so load balancers hold traffic.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		respond(w, r, http.StatusOK, readyPayload{Status: "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		respond(w, r, http.StatusServiceUnavailable, readyPayload{
			Status: "unavailable",
			Error:  "database unreachable",
		})
		return
	}
	respond(w, r, http.StatusOK, readyPayload{Status: "ready"})
}

// HandleStatus reports the newest completed run per model.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	completed, err := h.runs.LatestCompletedAll(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}

	latest := make(map[string]types.RunSummary, len(completed))
	for modelID, run := range completed {
		latest[modelID] = types.RunSummary{
			RunTime:          run.RunTime,
			CompletedAt:      run.CompletedAt,
			ResortsProcessed: run.ResortsProcessed,
		}
	}

	respond(w, r, http.StatusOK, EngineStatus{
		Status:          "running",
		LatestModelRuns: latest,
		ModelsTracked:   len(latest),
	})
}

// HandleModels lists every scheduled model with its newest run of any
// status, so stuck or failing models are visible.
func (h *Handler) HandleModels(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runs.LatestAll(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}

	models := h.registry.Scheduled()
	result := make([]ModelInfo, 0, len(models))
	for _, m := range models {
		info := ModelInfo{
			ModelID:             m.ID,
			DisplayName:         m.DisplayName,
			Provider:            m.Provider,
			UpdateIntervalHours: m.UpdateInterval.Hours(),
			Ensemble:            m.Ensemble,
			BlendWeight:         m.BlendWeight,
			LastRun:             LastRunInfo{Status: "never_run"},
		}
		if run, ok := runs[m.ID]; ok {
			runTime := run.RunTime
			info.LastRun = LastRunInfo{
				RunTime: &runTime,
				Status:  string(run.Status),
				Error:   run.Error,
			}
		}
		result = append(result, info)
	}

	respond(w, r, http.StatusOK, result)
}

// HandleTriggerModel starts one model's ingestion immediately. Returns 409
// when the model's job is already running and 400 for unknown models.
func (h *Handler) HandleTriggerModel(w http.ResponseWriter, r *http.Request) {
	model, err := h.registry.Resolve(chi.URLParam(r, "modelID"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	processed, err := h.trigger.TriggerModel(r.Context(), model.ID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respond(w, r, http.StatusOK, TriggerResult{
		Status:           "completed",
		ModelID:          model.ID,
		ResortsProcessed: processed,
	})
}

// HandleResortStatus summarizes forecast freshness for one resort: the
// newest stored series per (model, elevation) plus blend availability.
func (h *Handler) HandleResortStatus(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if _, err := h.resorts.Get(r.Context(), slug); err != nil {
		respondError(w, r, err)
		return
	}

	models, err := h.forecasts.Freshness(r.Context(), slug)
	if err != nil {
		respondError(w, r, err)
		return
	}

	freshness := types.ResortFreshness{
		ResortSlug: slug,
		Models:     models,
	}
	for _, elev := range types.ElevationTypes {
		blend, err := h.blends.Get(r.Context(), slug, elev)
		if err != nil {
			respondError(w, r, err)
			return
		}
		if blend != nil {
			freshness.BlendAvailable = true
			updatedAt := blend.UpdatedAt
			freshness.BlendUpdatedAt = &updatedAt
			break
		}
	}

	respond(w, r, http.StatusOK, freshness)
}

// HandleJobs pages through job history, newest first. Accepts limit
// (1..200, default 50), offset (>= 0, default 0), and an optional job_type
// filter.
func (h *Handler) HandleJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobsLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 || parsed > maxJobsLimit {
			respondError(w, r, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"limit must be a number between 1 and 200",
				nil,
			))
			return
		}
		limit = parsed
	}

	offset := 0
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		parsed, err := strconv.Atoi(offsetStr)
		if err != nil || parsed < 0 {
			respondError(w, r, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"offset must be a non-negative number",
				nil,
			))
			return
		}
		offset = parsed
	}

	jobType := r.URL.Query().Get("job_type")

	jobs, total, err := h.jobs.List(r.Context(), limit, offset, jobType)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respond(w, r, http.StatusOK, JobsPage{
		Total:  total,
		Offset: offset,
		Limit:  limit,
		Jobs:   jobs,
	})
}

// HandleStats reports the aggregate snapshot: job outcomes over the last
// 24 hours, total model runs and blends, and the tile cache footprint. A
// cache scan failure degrades to zero bytes rather than failing the request.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.EngineStats(r.Context(), time.Now().UTC())
	if err != nil {
		respondError(w, r, err)
		return
	}

	if h.cache != nil {
		size, err := h.cache.Size()
		if err != nil {
			h.logger.WarnContext(r.Context(), "cache size scan failed", "error", err)
		} else {
			stats.CacheSizeBytes = size
		}
	}

	respond(w, r, http.StatusOK, stats)
}

// errorBody is the JSON envelope for error responses.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// respond writes v as JSON with the given status. A marshalling failure
// falls back to a 500 error body.
func respond(w http.ResponseWriter, _ *http.Request, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"code":"internal_unexpected_error","message":"failed to marshal response"}}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// respondError maps an error chain to an HTTP response. AppErrors carry
// their own status via the code taxonomy; anything else becomes a 500
// without leaking internals.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		respond(w, r, appErr.HTTPStatus(), errorBody{Error: errorDetail{
			Code:    string(appErr.Code),
			Message: appErr.Message,
			Details: appErr.Details,
		}})
		return
	}
	respond(w, r, http.StatusInternalServerError, errorBody{Error: errorDetail{
		Code:    string(types.ErrCodeInternalUnexpected),
		Message: "an unexpected error occurred",
	}})
}
