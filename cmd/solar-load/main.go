// solar-load - Load a registry CSV extract into ClickHouse
//
// Creates the registry table when missing and streams the extract into it
// with native columnar INSERTs. Rows without a commissioning year are
// skipped, since every read of the table filters on it.
//
// Input: a local CSV (optionally .gz) or gs://bucket/object
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/solar-load ./cmd/solar-load

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-faster/errors"

	"github.com/KI7MT/ki7mt-solar-germany/internal/common"
	"github.com/KI7MT/ki7mt-solar-germany/internal/logging"
	"github.com/KI7MT/ki7mt-solar-germany/internal/metrics"
	"github.com/KI7MT/ki7mt-solar-germany/internal/objstore"
	"github.com/KI7MT/ki7mt-solar-germany/internal/preprocess"
	"github.com/KI7MT/ki7mt-solar-germany/internal/solar"
	"github.com/KI7MT/ki7mt-solar-germany/internal/warehouse"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

const name = "solar-load"

var (
	configPath  = flag.String("config", "", "Config file (default $SOLAR_CONFIG or ./solar.yaml)")
	input       = flag.String("input", "", "Registry CSV path or gs:// uri (default gs://<storage.bucket>/<storage.csv_object>)")
	chHost      = flag.String("ch-host", "", "ClickHouse host (overrides clickhouse.host)")
	chTable     = flag.String("table", "", "Target table (overrides clickhouse.table)")
	batchSize   = flag.Int("batch-size", warehouse.DefaultBatchSize, "Rows per INSERT")
	chunkSize   = flag.Int("chunk-size", 0, "Rows per parsed chunk (overrides data.chunk_size)")
	truncate    = flag.Bool("truncate", false, "Truncate the table before loading")
	dryRun      = flag.Bool("dry-run", false, "Parse the input without connecting to ClickHouse")
	metricsFile = flag.String("metrics-file", "", "Write Prometheus metrics to this file on exit")
	logLevel    = flag.String("log-level", "", "Log level (overrides log.level)")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s v%s - Solar Registry ClickHouse Loader\n\n", name, Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := common.LoadConfig(*configPath)
	if err == nil {
		if *chHost != "" {
			cfg.ClickHouse.Host = *chHost
		}
		if *chTable != "" {
			cfg.ClickHouse.Table = *chTable
		}
		if *chunkSize > 0 {
			cfg.Data.ChunkSize = *chunkSize
		}
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if *input == "" {
		*input = fmt.Sprintf("gs://%s/%s", cfg.Storage.Bucket, cfg.Storage.CSVObject)
	}
	logging.Init(cfg.LoggingConfig(*logLevel))

	if err := run(cfg); err != nil {
		logging.Error().Err(err).Msg("load failed")
		os.Exit(1)
	}
}

// sink receives parsed chunks: the ClickHouse loader, or a counter on a
// dry run.
type sink interface {
	Add(ctx context.Context, chunk solar.Dataset) error
	Flush(ctx context.Context) error
	Stats() warehouse.LoadStats
}

type dryRunSink struct {
	stats warehouse.LoadStats
}

func (d *dryRunSink) Add(_ context.Context, chunk solar.Dataset) error {
	for i := range chunk {
		if chunk[i].CommissioningYear.Valid {
			d.stats.Inserted++
		} else {
			d.stats.SkippedNoYear++
		}
	}
	return nil
}

func (d *dryRunSink) Flush(context.Context) error { return nil }

func (d *dryRunSink) Stats() warehouse.LoadStats { return d.stats }

func run(cfg *common.Config) error {
	logging.Banner("Solar Load v%s", Version)
	log := logging.Component(name)
	log.Info().
		Str("input", *input).
		Str("clickhouse", cfg.ClickHouse.Addr()).
		Str("table", cfg.ClickHouse.Database+"."+cfg.ClickHouse.Table).
		Int("batch_size", *batchSize).
		Bool("truncate", *truncate).
		Bool("dry_run", *dryRun).
		Msg("configuration")

	ctx, cancel := common.SignalContext()
	defer cancel()

	var store objstore.Store
	if objstore.IsURI(*input) {
		gcs, err := objstore.NewGCS(ctx)
		if err != nil {
			return err
		}
		defer gcs.Close()
		store = gcs
	}

	var dst sink = &dryRunSink{}
	if !*dryRun {
		src, err := warehouse.DialNative(ctx, cfg.ClickHouse.WarehouseOptions())
		if err != nil {
			return errors.Wrap(err, "connect to clickhouse")
		}
		defer src.Close()

		loader, err := src.Loader(*batchSize)
		if err != nil {
			return err
		}
		if err := loader.CreateTable(ctx); err != nil {
			return err
		}
		if *truncate {
			if err := loader.Truncate(ctx); err != nil {
				return err
			}
		}
		dst = loader
	}

	r, err := preprocess.OpenSource(ctx, *input, store)
	if err != nil {
		return err
	}
	defer r.Close()

	m := metrics.New(name)
	stats := common.NewStats()
	stats.StartReporter(log, 0)
	start := time.Now()

	parsed, err := solar.ReadChunks(r, cfg.Data.ChunkSize, func(chunk solar.Dataset) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunkStart := time.Now()
		if err := dst.Add(ctx, chunk); err != nil {
			return err
		}
		took := time.Since(chunkStart)
		stats.AddRows(uint64(len(chunk)))
		stats.AddChunks(1)
		stats.SetChunkLatency(uint64(took.Nanoseconds()))
		m.ObserveChunk(len(chunk), took)
		return nil
	})
	if err == nil {
		err = dst.Flush(ctx)
	}
	stats.StopReporter()

	loaded := dst.Stats()
	m.RowsTotal.WithLabelValues("loaded").Add(float64(loaded.Inserted))
	m.Finish(start, err == nil)
	if werr := m.WriteTextfile(*metricsFile); werr != nil {
		log.Warn().Err(werr).Msg("metrics not written")
	}
	if err != nil {
		return err
	}

	elapsed := time.Since(start)
	var rate float64
	if elapsed > 0 {
		rate = float64(loaded.Inserted) / elapsed.Seconds()
	}
	logging.Banner("Load Complete")
	log.Info().
		Int64("rows_read", parsed.TotalRowsRead).
		Int64("failed_rows", parsed.FailedRows).
		Int64("missing_years", parsed.MissingYears).
		Int64("inserted", loaded.Inserted).
		Int64("skipped_no_year", loaded.SkippedNoYear).
		Int("batches", loaded.Batches).
		Msg("rows")
	log.Info().
		Str("elapsed", elapsed.Round(time.Millisecond).String()).
		Float64("rows_per_sec", rate).
		Msg("statistics")
	return nil
}
