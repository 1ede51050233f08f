package gridsource

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klauspost/compress/zstd"
	"github.com/sony/gobreaker/v2"

	"peakcast/internal/nwp"
	"peakcast/internal/types"
)

const (
	// headerLenBytes is the fixed-size length prefix in a tile bundle.
	headerLenBytes = 4

	// maxHeaderLen guards against corrupt or hostile length prefixes.
	maxHeaderLen = 1 << 20

	// float32ByteSize is the number of bytes per grid value.
	float32ByteSize = 4
)

// S3API is the subset of the AWS S3 client the tile store uses.
// *s3.Client satisfies it directly.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// errTileNotFound marks an object that is absent from every mirror: the hour
// has not been published. Distinct from transport failure so availability
// checks treat it as a clean "no" instead of a mirror outage.
var errTileNotFound = errors.New("tile not published")

// S3TileStore is the production GridSource. Tile bundles are fetched from
// mirrored S3 buckets with per-mirror circuit breakers and kept compressed in
// a local disk cache; sampling decompresses through pooled zstd decoders.
type S3TileStore struct {
	client  S3API
	mirrors []string
	cache   *TileCache
	logger  *slog.Logger

	// breakers guards each mirror independently so a flapping primary does
	// not block the fallbacks.
	breakers map[string]*gobreaker.CircuitBreaker[[]byte]

	decoderPool sync.Pool
}

// S3TileStoreConfig carries the dependencies for NewS3TileStore.
type S3TileStoreConfig struct {
	Client  S3API
	Mirrors []string
	Cache   *TileCache
	Logger  *slog.Logger
}

// NewS3TileStore creates the S3-backed GridSource. Mirrors are tried in
// order; the first is primary.
func NewS3TileStore(cfg S3TileStoreConfig) (*S3TileStore, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("gridsource: S3 client is required")
	}
	if len(cfg.Mirrors) == 0 {
		return nil, fmt.Errorf("gridsource: at least one mirror bucket is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("gridsource: tile cache is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	breakers := make(map[string]*gobreaker.CircuitBreaker[[]byte], len(cfg.Mirrors))
	for _, bucket := range cfg.Mirrors {
		breakers[bucket] = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        "tile-mirror-" + bucket,
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
			IsSuccessful: func(err error) bool {
				// A missing object is a valid answer, not a mirror fault.
				return err == nil || errors.Is(err, errTileNotFound)
			},
		})
	}

	return &S3TileStore{
		client:   cfg.Client,
		mirrors:  cfg.Mirrors,
		cache:    cfg.Cache,
		logger:   logger,
		breakers: breakers,
		decoderPool: sync.Pool{
			New: func() any {
				d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
				if err != nil {
					// Cannot fail with nil input and default options.
					panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
				}
				return d
			},
		},
	}, nil
}

// SampleVariable returns one value per coordinate from the given offset's
// tile. Variables the tile does not carry return an error; individual grid
// points with no data return nil entries.
func (s *S3TileStore) SampleVariable(ctx context.Context, model nwp.Model, runTime time.Time, offset int, variable types.RawVariable, coords []Coord) ([]*float64, error) {
	bundle, err := s.loadBundle(ctx, model, runTime, offset)
	if err != nil {
		return nil, err
	}

	plane, ok := bundle.plane(string(variable))
	if !ok {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamGridUnavailable,
			fmt.Sprintf("variable %s not present in %s tile f%03d", variable, model.ID, offset),
			nil,
		).WithDetails(map[string]any{"model": model.ID, "offset": offset, "variable": string(variable)})
	}

	out := make([]*float64, len(coords))
	for i, c := range coords {
		out[i] = bundle.header.sample(plane, c.Lat, c.Lon)
	}
	return out, nil
}

// ensureTile makes the offset's bundle present in the disk cache.
func (s *S3TileStore) ensureTile(ctx context.Context, model nwp.Model, runTime time.Time, offset int) error {
	key := tileKey(model, runTime, offset)
	if s.cache.Has(key) {
		return nil
	}

	data, err := s.fetchTile(ctx, key)
	if err != nil {
		return err
	}
	if err := s.cache.Put(key, data); err != nil {
		// Cache write failure degrades to re-fetching; sampling still works.
		s.logger.WarnContext(ctx, "tile cache write failed",
			"key", key,
			"error", err,
		)
	}
	return nil
}

// loadBundle returns the parsed tile bundle for one offset, from cache when
// possible.
func (s *S3TileStore) loadBundle(ctx context.Context, model nwp.Model, runTime time.Time, offset int) (*tileBundle, error) {
	key := tileKey(model, runTime, offset)

	data, ok := s.cache.Get(key)
	if !ok {
		fetched, err := s.fetchTile(ctx, key)
		if err != nil {
			if errors.Is(err, errTileNotFound) {
				return nil, types.NewAppError(
					types.ErrCodeUpstreamGridUnavailable,
					fmt.Sprintf("tile %s not published on any mirror", key),
					err,
				)
			}
			return nil, err
		}
		if putErr := s.cache.Put(key, fetched); putErr != nil {
			s.logger.WarnContext(ctx, "tile cache write failed",
				"key", key,
				"error", putErr,
			)
		}
		data = fetched
	}

	raw, err := s.decompress(data)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamGridUnavailable,
			fmt.Sprintf("failed to decompress tile %s: %v", key, err),
			err,
		)
	}

	bundle, err := parseTileBundle(raw)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamGridUnavailable,
			fmt.Sprintf("failed to parse tile %s: %v", key, err),
			err,
		)
	}
	return bundle, nil
}

// fetchTile downloads one object, trying each mirror in order. A mirror
// transport failure logs a warning and moves on; only when every mirror has
// failed is an error returned. errTileNotFound is returned when every mirror
// answers but none has the object.
func (s *S3TileStore) fetchTile(ctx context.Context, key string) ([]byte, error) {
	var lastErr error
	missing := 0

	for _, bucket := range s.mirrors {
		data, err := s.breakers[bucket].Execute(func() ([]byte, error) {
			return s.getObject(ctx, bucket, key)
		})
		if err == nil {
			return data, nil
		}
		if errors.Is(err, errTileNotFound) {
			missing++
			continue
		}
		s.logger.WarnContext(ctx, "tile mirror unavailable",
			"bucket", bucket,
			"key", key,
			"error", err,
		)
		lastErr = err
	}

	if lastErr == nil && missing > 0 {
		return nil, fmt.Errorf("%s: %w", key, errTileNotFound)
	}
	return nil, types.NewAppError(
		types.ErrCodeUpstreamGridUnavailable,
		fmt.Sprintf("all tile mirrors failed for %s: %v", key, lastErr),
		lastErr,
	)
}

// getObject performs one GetObject call and drains the body.
func (s *S3TileStore) getObject(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("s3://%s/%s: %w", bucket, key, errTileNotFound)
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// isNoSuchKey reports whether an S3 error is a missing-object response.
func isNoSuchKey(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	return errors.As(err, &nf)
}

// decompress runs a pooled zstd decode over a fetched object.
func (s *S3TileStore) decompress(data []byte) ([]byte, error) {
	decoder := s.decoderPool.Get().(*zstd.Decoder)
	defer s.decoderPool.Put(decoder)

	result, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}
	return result, nil
}

// tileHeader is the JSON grid descriptor at the front of a tile bundle.
// Rows run north to south from Lat0; columns run east from Lon0.
type tileHeader struct {
	Lat0      float64  `json:"lat0"`
	Lon0      float64  `json:"lon0"`
	DLat      float64  `json:"dlat"`
	DLon      float64  `json:"dlon"`
	NLat      int      `json:"nlat"`
	NLon      int      `json:"nlon"`
	Variables []string `json:"variables"`
}

// tileBundle is one decoded tile: the grid header plus one float32 plane per
// variable, in header order.
type tileBundle struct {
	header tileHeader
	planes map[string][]float32
}

// plane returns the named variable's grid plane.
func (b *tileBundle) plane(variable string) ([]float32, bool) {
	p, ok := b.planes[variable]
	return p, ok
}

// parseTileBundle decodes the framed bundle layout: a little-endian uint32
// header length, the JSON header, then NLat*NLon float32 values per variable.
func parseTileBundle(raw []byte) (*tileBundle, error) {
	if len(raw) < headerLenBytes {
		return nil, fmt.Errorf("bundle too short: %d bytes", len(raw))
	}
	headerLen := int(binary.LittleEndian.Uint32(raw[:headerLenBytes]))
	if headerLen <= 0 || headerLen > maxHeaderLen || headerLenBytes+headerLen > len(raw) {
		return nil, fmt.Errorf("invalid header length %d", headerLen)
	}

	var header tileHeader
	if err := json.Unmarshal(raw[headerLenBytes:headerLenBytes+headerLen], &header); err != nil {
		return nil, fmt.Errorf("parsing grid header: %w", err)
	}
	if header.NLat <= 0 || header.NLon <= 0 || header.DLat <= 0 || header.DLon <= 0 {
		return nil, fmt.Errorf("invalid grid geometry: nlat=%d nlon=%d dlat=%g dlon=%g",
			header.NLat, header.NLon, header.DLat, header.DLon)
	}

	planeValues := header.NLat * header.NLon
	body := raw[headerLenBytes+headerLen:]
	want := len(header.Variables) * planeValues * float32ByteSize
	if len(body) != want {
		return nil, fmt.Errorf("bundle body is %d bytes, want %d for %d variables on a %dx%d grid",
			len(body), want, len(header.Variables), header.NLat, header.NLon)
	}

	planes := make(map[string][]float32, len(header.Variables))
	for i, v := range header.Variables {
		start := i * planeValues * float32ByteSize
		plane, err := parseFloat32s(body[start : start+planeValues*float32ByteSize])
		if err != nil {
			return nil, fmt.Errorf("parsing plane %s: %w", v, err)
		}
		planes[v] = plane
	}

	return &tileBundle{header: header, planes: planes}, nil
}

// parseFloat32s converts raw little-endian bytes into float32 values.
func parseFloat32s(data []byte) ([]float32, error) {
	if len(data)%float32ByteSize != 0 {
		return nil, fmt.Errorf("data length %d is not a multiple of %d bytes", len(data), float32ByteSize)
	}

	count := len(data) / float32ByteSize
	result := make([]float32, count)
	for i := 0; i < count; i++ {
		bits := binary.LittleEndian.Uint32(data[i*float32ByteSize : (i+1)*float32ByteSize])
		result[i] = math.Float32frombits(bits)
	}
	return result, nil
}

// sample returns the nearest grid point's value for a coordinate, or nil when
// the point carries no data.
func (h *tileHeader) sample(plane []float32, lat, lon float64) *float64 {
	// Bring a -180..180 longitude into the frame of a 0..360-indexed grid.
	if lon < 0 && h.Lon0 >= 0 {
		lon += 360
	}

	row := clampGridIndex(int(math.Round((h.Lat0-lat)/h.DLat)), h.NLat)
	col := clampGridIndex(int(math.Round((lon-h.Lon0)/h.DLon)), h.NLon)

	idx := row*h.NLon + col
	if idx < 0 || idx >= len(plane) {
		return nil
	}
	val := float64(plane[idx])
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return nil
	}
	return &val
}

// clampGridIndex bounds a grid index to [0, max).
func clampGridIndex(idx, max int) int {
	if idx < 0 {
		return 0
	}
	if idx >= max {
		return max - 1
	}
	return idx
}
