package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"peakcast/internal/types"
)

func TestIndependentRegistries(t *testing.T) {
	a := New(DefaultNamespace)
	b := New(DefaultNamespace)

	a.RecordStaleLockReset("gfs")

	if got := testutil.ToFloat64(a.staleLockResets.WithLabelValues("gfs")); got != 1 {
		t.Errorf("first collector counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(b.staleLockResets.WithLabelValues("gfs")); got != 0 {
		t.Errorf("second collector counter = %v, want 0", got)
	}
}

func TestRecordModelRun(t *testing.T) {
	c := New("test")
	c.RecordModelRun("gfs", types.JobStatusCompleted, 90*time.Second, 12)
	c.RecordModelRun("gfs", types.JobStatusCompleted, 45*time.Second, 12)
	c.RecordModelRun("hrrr", types.JobStatusFailed, 5*time.Second, 0)

	if got := testutil.ToFloat64(c.modelRunsTotal.WithLabelValues("gfs", "completed")); got != 2 {
		t.Errorf("gfs completed runs = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.modelRunsTotal.WithLabelValues("hrrr", "failed")); got != 1 {
		t.Errorf("hrrr failed runs = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(c.modelRunDuration); got != 2 {
		t.Errorf("duration series = %d, want 2 (gfs and hrrr)", got)
	}
	// Resort counts are only observed for completed runs.
	if got := testutil.CollectAndCount(c.modelRunResorts); got != 1 {
		t.Errorf("resort series = %d, want 1 (gfs only)", got)
	}
}

func TestRecordHoursExtracted(t *testing.T) {
	c := New("test")
	c.RecordHoursExtracted("ifs", 61)
	c.RecordHoursExtracted("ifs", 61)

	if got := testutil.ToFloat64(c.hoursExtracted.WithLabelValues("ifs")); got != 122 {
		t.Errorf("hours extracted = %v, want 122", got)
	}
}

func TestRecordBlendSweep(t *testing.T) {
	c := New("test")
	c.RecordBlendSweep(140, 2, 3*time.Second)
	c.RecordBlendSweep(138, 0, 2*time.Second)

	if got := testutil.ToFloat64(c.blendSweepsTotal); got != 2 {
		t.Errorf("sweeps = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.blendsComputed); got != 278 {
		t.Errorf("blends computed = %v, want 278", got)
	}
	if got := testutil.ToFloat64(c.blendsFailed); got != 2 {
		t.Errorf("blend failures = %v, want 2", got)
	}
}

func TestCacheMetrics(t *testing.T) {
	c := New("test")
	c.RecordCacheCleanup(3, 1024)
	c.RecordCacheCleanup(1, 512)
	c.SetCacheSize(4096)

	if got := testutil.ToFloat64(c.cacheFilesRemoved); got != 4 {
		t.Errorf("files removed = %v, want 4", got)
	}
	if got := testutil.ToFloat64(c.cacheBytesFreed); got != 1536 {
		t.Errorf("bytes freed = %v, want 1536", got)
	}
	if got := testutil.ToFloat64(c.cacheSizeBytes); got != 4096 {
		t.Errorf("cache size = %v, want 4096", got)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	c := New("test")
	c.RecordHTTPRequest("GET", "/status", 200, 5*time.Millisecond)
	c.RecordHTTPRequest("GET", "/status", 200, 7*time.Millisecond)
	c.RecordHTTPRequest("POST", "/models/{modelID}/run", 409, time.Millisecond)

	if got := testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/status", "200")); got != 2 {
		t.Errorf("GET /status 200 = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/models/{modelID}/run", "409")); got != 1 {
		t.Errorf("POST run 409 = %v, want 1", got)
	}
}

func TestRegistryExportsNamespacedFamilies(t *testing.T) {
	c := New(DefaultNamespace)
	c.RecordStaleLockReset("gfs")

	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "peakcast_stale_lock_resets_total" {
			found = true
		}
	}
	if !found {
		t.Error("peakcast_stale_lock_resets_total not exported")
	}
}
