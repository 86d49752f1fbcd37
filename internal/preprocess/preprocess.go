// Package preprocess builds the per-year-range registry caches.
//
// A run reads the range from the raw cache when one exists, otherwise from
// the warehouse (or a flat CSV file), computes Efficiency chunk by chunk and
// writes:
//
//	<data-dir>/raw_solar_data_<min>_<max>.csv        (only when it did not exist)
//	<data-dir>/processed_solar_data_<min>_<max>.csv  (always rebuilt)
//
// Both files are written to <file>.tmp and renamed into place after the last
// chunk, so a failed run leaves the previous caches untouched and never a
// partial one. A lock file keeps concurrent runs off the same range.
package preprocess

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"

	"github.com/KI7MT/ki7mt-solar-germany/internal/common"
	"github.com/KI7MT/ki7mt-solar-germany/internal/logging"
	"github.com/KI7MT/ki7mt-solar-germany/internal/objstore"
	"github.com/KI7MT/ki7mt-solar-germany/internal/solar"
	"github.com/KI7MT/ki7mt-solar-germany/internal/warehouse"
)

// DefaultChunkSize is used when Options.ChunkSize is not positive.
const DefaultChunkSize = 100_000

// ErrInvalidRange is returned when MinYear > MaxYear.
var ErrInvalidRange = errors.New("invalid year range")

// Options configures a run.
type Options struct {
	DataDir   string
	MinYear   int
	MaxYear   int
	ChunkSize int

	// Source is empty to query Warehouse, or a local CSV path (optionally
	// .gz) or gs://bucket/object uri of a registry CSV.
	Source    string
	Warehouse warehouse.Querier
	Store     objstore.Store // required for gs:// sources

	Stats   *common.Stats                       // optional
	OnChunk func(rows int, took time.Duration) // optional, called after each chunk
}

// Result describes a completed run.
type Result struct {
	RawPath       string
	ProcessedPath string
	Source        string // "raw-cache", "warehouse" or the file source
	RawCached     bool   // the raw cache existed and was reused
	Chunks        int
	Rows          int64
	NoEfficiency  int64 // rows whose efficiency is missing
	Elapsed       time.Duration
}

// Run preprocesses one year range. See the package documentation.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.MinYear > opts.MaxYear {
		return nil, errors.Wrapf(ErrInvalidRange, "%d > %d", opts.MinYear, opts.MaxYear)
	}
	if opts.ChunkSize < 1 {
		opts.ChunkSize = DefaultChunkSize
	}
	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create data dir")
	}

	lock, err := acquireLock(LockPath(opts.DataDir, opts.MinYear, opts.MaxYear))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.release(); err != nil {
			logging.Warn().Err(err).Msg("release range lock")
		}
	}()

	log := logging.Component("preprocess")
	start := time.Now()
	res := &Result{
		RawPath:       RawPath(opts.DataDir, opts.MinYear, opts.MaxYear),
		ProcessedPath: ProcessedPath(opts.DataDir, opts.MinYear, opts.MaxYear),
	}
	res.RawCached = fileExists(res.RawPath)

	processed, err := createCache(res.ProcessedPath, opts.Stats)
	if err != nil {
		return nil, err
	}
	defer processed.abort()

	var raw *cacheFile
	if !res.RawCached {
		if raw, err = createCache(res.RawPath, opts.Stats); err != nil {
			return nil, err
		}
		defer raw.abort()
	}

	handle := func(chunk solar.Dataset) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunkStart := time.Now()
		res.Chunks++
		if raw != nil {
			if err := raw.write(chunk); err != nil {
				return err
			}
		}
		chunk.ComputeEfficiency()
		for i := range chunk {
			if !chunk[i].Efficiency.Valid {
				res.NoEfficiency++
			}
		}
		if err := processed.write(chunk); err != nil {
			return err
		}
		res.Rows += int64(len(chunk))
		took := time.Since(chunkStart)
		if opts.Stats != nil {
			opts.Stats.AddRows(uint64(len(chunk)))
			opts.Stats.AddChunks(1)
			opts.Stats.SetChunkLatency(uint64(took.Nanoseconds()))
		}
		if opts.OnChunk != nil {
			opts.OnChunk(len(chunk), took)
		}
		log.Info().Int("chunk", res.Chunks).Int("rows", len(chunk)).Msg("chunk processed")
		return nil
	}

	switch {
	case res.RawCached:
		res.Source = "raw-cache"
		log.Info().Str("path", res.RawPath).Msg("loading raw data from local cache")
		err = streamCSVFile(res.RawPath, opts.ChunkSize, handle)
	case opts.Source != "":
		res.Source = opts.Source
		log.Info().Str("source", opts.Source).Msg("loading raw data from file")
		err = streamRegistryFile(ctx, opts, handle)
	default:
		if opts.Warehouse == nil {
			return nil, errors.New("no warehouse configured and no raw cache or file source")
		}
		res.Source = "warehouse"
		log.Info().Int("min_year", opts.MinYear).Int("max_year", opts.MaxYear).Msg("querying warehouse")
		err = opts.Warehouse.QueryRange(ctx, opts.MinYear, opts.MaxYear, opts.ChunkSize, handle)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "preprocess %d-%d from %s", opts.MinYear, opts.MaxYear, res.Source)
	}

	if raw != nil {
		if err := raw.commit(); err != nil {
			return nil, err
		}
		log.Info().Str("path", res.RawPath).Msg("raw data saved")
	}
	if err := processed.commit(); err != nil {
		return nil, err
	}
	log.Info().Str("path", res.ProcessedPath).Int64("rows", res.Rows).Msg("processed data saved")

	res.Elapsed = time.Since(start)
	return res, nil
}

func streamCSVFile(path string, chunkSize int, fn solar.ChunkFunc) error {
	f, err := solar.OpenCSV(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = solar.ReadChunks(f, chunkSize, fn)
	return err
}

// streamRegistryFile reads a full registry export, keeps the requested
// range and replays it in ascending year order, the order the warehouse
// query guarantees.
func streamRegistryFile(ctx context.Context, opts Options, fn solar.ChunkFunc) error {
	r, err := OpenSource(ctx, opts.Source, opts.Store)
	if err != nil {
		return err
	}
	defer r.Close()

	ds, err := solar.ReadAll(r)
	if err != nil {
		return err
	}

	lo, hi := int64(opts.MinYear), int64(opts.MaxYear)
	inRange := ds[:0]
	for _, rec := range ds {
		y := rec.CommissioningYear
		if y.Valid && y.Value >= lo && y.Value <= hi {
			inRange = append(inRange, rec)
		}
	}
	sort.SliceStable(inRange, func(i, j int) bool {
		return inRange[i].CommissioningYear.Value < inRange[j].CommissioningYear.Value
	})

	for _, chunk := range inRange.Chunks(opts.ChunkSize) {
		if err := fn(chunk); err != nil {
			return err
		}
	}
	return nil
}

// OpenSource opens a registry CSV given as a local path or a gs:// uri read
// through store. Names ending in .gz are decompressed.
func OpenSource(ctx context.Context, source string, store objstore.Store) (io.ReadCloser, error) {
	if !objstore.IsURI(source) {
		return solar.OpenCSV(source)
	}
	if store == nil {
		return nil, fmt.Errorf("no object store configured for %s", source)
	}
	bucket, object, err := objstore.ParseURI(source)
	if err != nil {
		return nil, err
	}
	r, err := store.Open(ctx, bucket, object)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(object, ".gz") {
		return r, nil
	}
	gz, err := pgzip.NewReader(r)
	if err != nil {
		r.Close()
		return nil, errors.Wrap(err, "gzip")
	}
	return readCloser{Reader: gz, close: func() error {
		gz.Close()
		return r.Close()
	}}, nil
}

type readCloser struct {
	io.Reader
	close func() error
}

func (rc readCloser) Close() error { return rc.close() }

// =============================================================================
// Cache files
// =============================================================================

// cacheFile writes a CSV cache to <path>.tmp and renames it on commit.
type cacheFile struct {
	path string
	tmp  string
	f    *os.File
	w    *solar.Writer
	done bool
}

func createCache(path string, stats *common.Stats) (*cacheFile, error) {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, errors.Wrap(err, "create cache")
	}
	var out io.Writer = f
	if stats != nil {
		out = &countingWriter{w: f, stats: stats}
	}
	w, err := solar.NewWriter(out, true)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, err
	}
	return &cacheFile{path: path, tmp: tmp, f: f, w: w}, nil
}

func (c *cacheFile) write(chunk solar.Dataset) error {
	if err := c.w.Write(chunk); err != nil {
		return errors.Wrapf(err, "write %s", c.path)
	}
	return nil
}

func (c *cacheFile) commit() error {
	if err := c.f.Sync(); err != nil {
		return errors.Wrapf(err, "sync %s", c.tmp)
	}
	if err := c.f.Close(); err != nil {
		return errors.Wrapf(err, "close %s", c.tmp)
	}
	if err := os.Rename(c.tmp, c.path); err != nil {
		return errors.Wrapf(err, "rename %s", c.tmp)
	}
	c.done = true
	return nil
}

// abort discards the temp file unless commit succeeded.
func (c *cacheFile) abort() {
	if c.done {
		return
	}
	c.f.Close()
	os.Remove(c.tmp)
}

type countingWriter struct {
	w     io.Writer
	stats *common.Stats
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.stats.AddBytes(uint64(n))
	return n, err
}
