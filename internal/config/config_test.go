package config

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

// setRequiredEnv sets the minimal environment for LoadConfig to succeed.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "local")
	t.Setenv("DATABASE_URL", "postgres://engine:pw@localhost:5432/peakcast")
}

// TestSecretStringRedaction verifies that config.SecretString retains the
// redaction behavior of the underlying type.
func TestSecretStringRedaction(t *testing.T) {
	secret := SecretString("postgres://user:pw@host/db")

	if got := secret.String(); got != "***REDACTED***" {
		t.Errorf("String() = %q, want redacted", got)
	}
	if got := fmt.Sprintf("%v", secret); got != "***REDACTED***" {
		t.Errorf("Sprintf(%%v) = %q, want redacted", got)
	}
	jsonBytes, err := secret.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON returned error: %v", err)
	}
	if got := string(jsonBytes); got != `"***REDACTED***"` {
		t.Errorf("MarshalJSON = %q, want redacted", got)
	}
	if got := secret.Unmask(); got != "postgres://user:pw@host/db" {
		t.Errorf("Unmask() = %q, want raw value", got)
	}
}

// TestLoadConfig_Defaults verifies that defaults land when only the required
// variables are set.
func TestLoadConfig_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.Service != "peakcast-engine" {
		t.Errorf("Service = %q, want peakcast-engine", cfg.Service)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.Database.MaxConns != 10 || cfg.Database.MinConns != 2 {
		t.Errorf("pool defaults = %d/%d, want 10/2", cfg.Database.MaxConns, cfg.Database.MinConns)
	}
	if cfg.Extract.ChunkSize != 48 {
		t.Errorf("ChunkSize = %d, want 48", cfg.Extract.ChunkSize)
	}
	if cfg.Extract.MaxConcurrentDownloads != 4 {
		t.Errorf("MaxConcurrentDownloads = %d, want 4", cfg.Extract.MaxConcurrentDownloads)
	}
	if cfg.Scheduler.StaleFallback != 2500*time.Second {
		t.Errorf("StaleFallback = %v, want 2500s", cfg.Scheduler.StaleFallback)
	}
	if cfg.Scheduler.BlendInterval != 15*time.Minute {
		t.Errorf("BlendInterval = %v, want 15m", cfg.Scheduler.BlendInterval)
	}
	if cfg.Scheduler.CleanupInterval != time.Hour {
		t.Errorf("CleanupInterval = %v, want 1h", cfg.Scheduler.CleanupInterval)
	}
	if cfg.Scheduler.BootstrapWorkers != 7 {
		t.Errorf("BootstrapWorkers = %d, want 7", cfg.Scheduler.BootstrapWorkers)
	}
	if cfg.GridStore.CacheDir != "/tmp/grid_cache" {
		t.Errorf("CacheDir = %q, want /tmp/grid_cache", cfg.GridStore.CacheDir)
	}
	if len(cfg.GridStore.Mirrors) != 2 {
		t.Errorf("Mirrors = %v, want two defaults", cfg.GridStore.Mirrors)
	}
	if cfg.Ops.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Ops.Port)
	}
	if cfg.Build.Version == "" {
		t.Error("Build.Version should be populated from defaults")
	}
}

// TestLoadConfig_EnvOverrides verifies that explicit environment variables
// override struct defaults.
func TestLoadConfig_EnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("EXTRACT_CHUNK_SIZE", "24")
	t.Setenv("MAX_CONCURRENT_DOWNLOADS", "8")
	t.Setenv("STALE_TIMEOUT_FALLBACK", "1h")
	t.Setenv("TILE_MIRRORS", "primary-tiles")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.Extract.ChunkSize != 24 {
		t.Errorf("ChunkSize = %d, want 24", cfg.Extract.ChunkSize)
	}
	if cfg.Extract.MaxConcurrentDownloads != 8 {
		t.Errorf("MaxConcurrentDownloads = %d, want 8", cfg.Extract.MaxConcurrentDownloads)
	}
	if cfg.Scheduler.StaleFallback != time.Hour {
		t.Errorf("StaleFallback = %v, want 1h", cfg.Scheduler.StaleFallback)
	}
	if len(cfg.GridStore.Mirrors) != 1 || cfg.GridStore.Mirrors[0] != "primary-tiles" {
		t.Errorf("Mirrors = %v, want [primary-tiles]", cfg.GridStore.Mirrors)
	}
}

// TestLoadConfig_BlendWeightOverrides verifies map-valued weight overrides
// parse from the comma and colon separated form.
func TestLoadConfig_BlendWeightOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BLEND_WEIGHTS", "hrrr:3.5,gefs:0.5")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if got := cfg.Blend.WeightOverrides["hrrr"]; got != 3.5 {
		t.Errorf("WeightOverrides[hrrr] = %v, want 3.5", got)
	}
	if got := cfg.Blend.WeightOverrides["gefs"]; got != 0.5 {
		t.Errorf("WeightOverrides[gefs] = %v, want 0.5", got)
	}
	if _, ok := cfg.Blend.WeightOverrides["gfs"]; ok {
		t.Error("gfs should not be present in overrides")
	}
}

// TestLoadConfig_MissingDatabaseURL verifies validation failure when the
// required DATABASE_URL is absent.
func TestLoadConfig_MissingDatabaseURL(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("DATABASE_URL", "")

	_, err := LoadConfig()
	if err == nil {
		t.Fatal("expected error for missing DATABASE_URL")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %T", err)
	}
	if cfgErr.Type != ErrValidation {
		t.Errorf("Type = %q, want %q", cfgErr.Type, ErrValidation)
	}
}

// TestLoadConfig_InvalidEnvironment verifies the APP_ENV oneof constraint.
func TestLoadConfig_InvalidEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://engine:pw@localhost:5432/peakcast")

	_, err := LoadConfig()
	if err == nil {
		t.Fatal("expected error for invalid APP_ENV")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %T", err)
	}
	if cfgErr.Type != ErrValidation {
		t.Errorf("Type = %q, want %q", cfgErr.Type, ErrValidation)
	}
}

// TestLoadConfig_MalformedDuration verifies parsing failure surfaces as
// ErrParsing rather than a panic or silent default.
func TestLoadConfig_MalformedDuration(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BLEND_INTERVAL", "every-so-often")

	_, err := LoadConfig()
	if err == nil {
		t.Fatal("expected error for malformed duration")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %T", err)
	}
	if cfgErr.Type != ErrParsing {
		t.Errorf("Type = %q, want %q", cfgErr.Type, ErrParsing)
	}
}

// TestConfigError_Format verifies the diagnostic formatting with and without
// a wrapped error.
func TestConfigError_Format(t *testing.T) {
	inner := errors.New("boom")
	withErr := &ConfigError{Type: ErrParsing, Message: "bad value", Err: inner}
	if got := withErr.Error(); got != "[PARSING_FAILED] bad value: boom" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(withErr, inner) {
		t.Error("Unwrap should expose the inner error")
	}

	withoutErr := &ConfigError{Type: ErrValidation, Message: "bad config"}
	if got := withoutErr.Error(); got != "[VALIDATION_FAILED] bad config" {
		t.Errorf("Error() = %q", got)
	}
}

// TestNewBuildInfo verifies the local-development defaults.
func TestNewBuildInfo(t *testing.T) {
	info := NewBuildInfo()
	if info.Version != "dev" || info.Commit != "none" || info.BuildTime != "unknown" {
		t.Errorf("NewBuildInfo() = %+v, want dev/none/unknown defaults", info)
	}
}
