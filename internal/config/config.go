// Package config defines the global configuration structure for the PeakCast
// ingestion engine. Configuration is loaded once at process startup and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> Struct Defaults (Lowest)
//
// Any missing required value or invalid format causes the process to exit
// immediately on startup (fail fast).
package config

import (
	"time"

	"peakcast/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the engine. It is
// populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"peakcast-engine"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Database  DatabaseConfig
	GridStore GridStoreConfig
	Extract   ExtractConfig
	Blend     BlendConfig
	Scheduler SchedulerConfig
	Ops       OpsConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	ConnectTimeout    time.Duration `envconfig:"DB_CONNECT_TIMEOUT" default:"5s"`     // Bounds establishing a new connection
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"` // Detect dead connections during failover
}

// GridStoreConfig holds the grid tile store location and the local cache
// settings for downloaded tiles.
type GridStoreConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// Mirrors lists the tile buckets in failover order. The first mirror is
	// primary; later mirrors are tried when a fetch fails or the primary's
	// circuit breaker is open.
	Mirrors []string `envconfig:"TILE_MIRRORS" default:"peakcast-tiles,peakcast-tiles-fallback"`

	// FetchTimeout bounds a single tile object download.
	FetchTimeout time.Duration `envconfig:"TILE_FETCH_TIMEOUT" default:"2m"`

	// CacheDir is where downloaded tiles are kept between runs. Tiles are
	// evicted per model according to the registry's retention windows.
	CacheDir string `envconfig:"GRID_CACHE_DIR" default:"/tmp/grid_cache"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ExtractConfig holds extraction pipeline tuning parameters.
type ExtractConfig struct {
	// ChunkSize is the number of forecast hours prepared per batch. Bounds
	// memory held by open grid tiles.
	ChunkSize int `envconfig:"EXTRACT_CHUNK_SIZE" default:"48"`

	// MaxConcurrentDownloads caps parallel tile fetches within a chunk.
	MaxConcurrentDownloads int `envconfig:"MAX_CONCURRENT_DOWNLOADS" default:"4"`
}

// BlendConfig holds multi-model blend settings.
type BlendConfig struct {
	// WeightOverrides replaces the registry's default blend weight per
	// model, e.g. "hrrr:3.5,gfs:2". Models not listed keep their default.
	WeightOverrides map[string]float64 `envconfig:"BLEND_WEIGHTS"`
}

// SchedulerConfig holds run scheduling and coordination parameters.
type SchedulerConfig struct {
	// StaleFallback is the processing timeout assumed for a model with no
	// completed run history. With history, the timeout is twice the average
	// completed duration, floored at this value.
	StaleFallback time.Duration `envconfig:"STALE_TIMEOUT_FALLBACK" default:"2500s"`

	// EnabledModels restricts scheduling to the listed models. Empty means
	// every model in the registry with a grid source.
	EnabledModels []string `envconfig:"ENABLED_MODELS"`

	// BlendInterval is how often blends are recomputed across all resorts.
	BlendInterval time.Duration `envconfig:"BLEND_INTERVAL" default:"15m"`

	// CleanupInterval is how often expired grid tiles are evicted from the
	// local cache.
	CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`

	// BootstrapWorkers caps the models processed in parallel during the
	// startup backfill.
	BootstrapWorkers int `envconfig:"BOOTSTRAP_MAX_WORKERS" default:"7"`
}

// OpsConfig holds the operational HTTP surface settings.
type OpsConfig struct {
	Port string `envconfig:"PORT" default:"8080"`

	// Timeouts for the ops HTTP server.
	ReadTimeout     time.Duration `envconfig:"OPS_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"OPS_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"OPS_SHUTDOWN_TIMEOUT" default:"10s"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
