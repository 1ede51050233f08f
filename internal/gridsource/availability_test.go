package gridsource

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"peakcast/internal/types"
)

func TestPrepareBatchReportsAvailableSubsequence(t *testing.T) {
	header := testGrid([]string{string(types.RawTemperature)})
	bundle := encodeTileBundle(t, header, func(string, int, int) float32 { return 270 })

	client := newMockS3()
	model := testModel()
	// Publish hours 1 and 3 only.
	client.put("tiles-primary", tileKey(model, testRunTime, 1), bundle)
	client.put("tiles-primary", tileKey(model, testRunTime, 3), bundle)
	store := newTestStore(t, client)

	got, err := store.PrepareBatch(context.Background(), model, testRunTime, []int{0, 1, 2, 3}, 2)
	if err != nil {
		t.Fatalf("PrepareBatch: %v", err)
	}
	want := []int{1, 3}
	if len(got) != len(want) {
		t.Fatalf("available = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("available = %v, want %v", got, want)
		}
	}
}

func TestPrepareBatchTransferFailureIsNotFatal(t *testing.T) {
	header := testGrid([]string{string(types.RawTemperature)})
	bundle := encodeTileBundle(t, header, func(string, int, int) float32 { return 270 })

	client := newMockS3()
	model := testModel()
	client.put("tiles-primary", tileKey(model, testRunTime, 0), bundle)
	client.fail("tiles-primary", tileKey(model, testRunTime, 1), errors.New("connection reset"))
	store := newTestStore(t, client)

	got, err := store.PrepareBatch(context.Background(), model, testRunTime, []int{0, 1}, 4)
	if err != nil {
		t.Fatalf("PrepareBatch: %v", err)
	}
	if len(got) != 1 || got[0] != 0 {
		t.Errorf("available = %v, want [0]", got)
	}
}

func TestPrepareBatchEmptyRequest(t *testing.T) {
	store := newTestStore(t, newMockS3())
	got, err := store.PrepareBatch(context.Background(), testModel(), testRunTime, nil, 4)
	if err != nil {
		t.Fatalf("PrepareBatch: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("available = %v, want empty", got)
	}
}

func TestPrepareBatchSkipsCachedTiles(t *testing.T) {
	header := testGrid([]string{string(types.RawTemperature)})
	bundle := encodeTileBundle(t, header, func(string, int, int) float32 { return 270 })

	client := newMockS3()
	model := testModel()
	key := tileKey(model, testRunTime, 0)
	client.put("tiles-primary", key, bundle)
	store := newTestStore(t, client)

	if _, err := store.PrepareBatch(context.Background(), model, testRunTime, []int{0}, 1); err != nil {
		t.Fatalf("first PrepareBatch: %v", err)
	}
	if _, err := store.PrepareBatch(context.Background(), model, testRunTime, []int{0}, 1); err != nil {
		t.Fatalf("second PrepareBatch: %v", err)
	}
	if calls := client.calls(); calls != 1 {
		t.Errorf("GetObject called %d times, want 1 (second batch served from cache)", calls)
	}
}

// slowS3 wraps responses in a delay while tracking peak concurrency.
type slowS3 struct {
	mu      sync.Mutex
	current int
	peak    int
	data    []byte
}

func (s *slowS3) GetObject(_ context.Context, _ *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	s.mu.Lock()
	s.current++
	if s.current > s.peak {
		s.peak = s.current
	}
	s.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	s.mu.Lock()
	s.current--
	s.mu.Unlock()

	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(s.data))}, nil
}

func TestPrepareBatchBoundsConcurrency(t *testing.T) {
	header := testGrid([]string{string(types.RawTemperature)})
	bundle := encodeTileBundle(t, header, func(string, int, int) float32 { return 270 })

	client := &slowS3{data: bundle}
	store := newTestStore(t, client)

	offsets := make([]int, 12)
	for i := range offsets {
		offsets[i] = i
	}

	got, err := store.PrepareBatch(context.Background(), testModel(), testRunTime, offsets, 3)
	if err != nil {
		t.Fatalf("PrepareBatch: %v", err)
	}
	if len(got) != len(offsets) {
		t.Fatalf("available %d offsets, want %d", len(got), len(offsets))
	}

	client.mu.Lock()
	peak := client.peak
	client.mu.Unlock()
	if peak > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak)
	}
}

func TestPrepareBatchUnpublishedRun(t *testing.T) {
	// NoSuchKey on every offset: nothing available, no error.
	client := newMockS3()
	store := newTestStore(t, client)

	got, err := store.PrepareBatch(context.Background(), testModel(), testRunTime, []int{0, 1, 2}, 2)
	if err != nil {
		t.Fatalf("PrepareBatch: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("available = %v, want empty", got)
	}
}

func TestIsNoSuchKey(t *testing.T) {
	if !isNoSuchKey(&s3types.NoSuchKey{}) {
		t.Error("NoSuchKey not recognized")
	}
	if !isNoSuchKey(&s3types.NotFound{}) {
		t.Error("NotFound not recognized")
	}
	if isNoSuchKey(errors.New("boom")) {
		t.Error("generic error misclassified as missing object")
	}
}
