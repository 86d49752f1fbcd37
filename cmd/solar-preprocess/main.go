// solar-preprocess - Build the raw and processed registry caches for a year range
//
// The raw cache is reused when present. Otherwise rows come from ClickHouse,
// or from -source (a local CSV, .csv.gz, or gs://bucket/object). The
// processed cache adds the Efficiency column (GrossPower / NetRatedPower).
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/solar-preprocess ./cmd/solar-preprocess

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
	"github.com/KI7MT/ki7mt-solar-germany/internal/warehouse"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

const name = "solar-preprocess"

var (
	configPath  = flag.String("config", "", "Config file (default $SOLAR_CONFIG or ./solar.yaml)")
	dataDir     = flag.String("data-dir", "", "Cache directory (overrides data.dir)")
	minYear     = flag.Int("min-year", 0, "First installation year (overrides data.min_year)")
	maxYear     = flag.Int("max-year", 0, "Last installation year (overrides data.max_year)")
	chunkSize   = flag.Int("chunk-size", 0, "Rows per chunk (overrides data.chunk_size)")
	source      = flag.String("source", "", "Registry CSV path or gs:// uri instead of ClickHouse")
	driver      = flag.String("driver", "", "ClickHouse driver: native or std (overrides clickhouse.driver)")
	unlock      = flag.Bool("unlock", false, "Remove a stale range lock and exit")
	timeout     = flag.Duration("timeout", 0, "Abort the run after this long (0 = no limit)")
	metricsFile = flag.String("metrics-file", "", "Write Prometheus metrics to this file on exit")
	logLevel    = flag.String("log-level", "", "Log level (overrides log.level)")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s v%s - Solar Registry Preprocessor\n\n", name, Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Writes raw_solar_data_<min>_<max>.csv and processed_solar_data_<min>_<max>.csv\n")
		fmt.Fprintf(os.Stderr, "under the data directory.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	logging.Init(cfg.LoggingConfig(*logLevel))

	if err := run(cfg); err != nil {
		logging.Error().Err(err).Msg("preprocess failed")
		os.Exit(1)
	}
}

func loadConfig() (*common.Config, error) {
	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		return nil, err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data-dir":
			cfg.Data.Dir = *dataDir
		case "min-year":
			cfg.Data.MinYear = *minYear
		case "max-year":
			cfg.Data.MaxYear = *maxYear
		case "chunk-size":
			cfg.Data.ChunkSize = *chunkSize
		case "driver":
			cfg.ClickHouse.Driver = *driver
		}
	})
	return cfg, cfg.Validate()
}

func run(cfg *common.Config) error {
	dir := cfg.SolarDataDir()
	lo, hi := cfg.Data.MinYear, cfg.Data.MaxYear

	if *unlock {
		if err := preprocess.Unlock(dir, lo, hi); err != nil {
			return err
		}
		logging.Info().Str("lock", preprocess.LockPath(dir, lo, hi)).Msg("range lock removed")
		return nil
	}

	logging.Banner("Solar Preprocess v%s", Version)
	log := logging.Component(name)
	log.Info().
		Str("data_dir", dir).
		Int("min_year", lo).
		Int("max_year", hi).
		Int("chunk_size", cfg.Data.ChunkSize).
		Str("source", sourceLabel()).
		Msg("configuration")

	ctx, cancel := common.SignalContext()
	defer cancel()
	if *timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, *timeout)
		defer cancelTimeout()
	}

	m := metrics.New(name)
	stats := common.NewStats()
	opts := preprocess.Options{
		DataDir:   dir,
		MinYear:   lo,
		MaxYear:   hi,
		ChunkSize: cfg.Data.ChunkSize,
		Source:    *source,
		Stats:     stats,
		OnChunk:   m.ObserveChunk,
	}

	_, rawErr := os.Stat(preprocess.RawPath(dir, lo, hi))
	switch {
	case *source == "" && rawErr != nil:
		src, err := warehouse.Open(ctx, cfg.ClickHouse.WarehouseOptions())
		if err != nil {
			return errors.Wrap(err, "connect to clickhouse")
		}
		defer src.Close()
		opts.Warehouse = src
		log.Info().Str("addr", cfg.ClickHouse.Addr()).Str("driver", cfg.ClickHouse.Driver).Msg("connected to ClickHouse")
	case objstore.IsURI(*source):
		gcs, err := objstore.NewGCS(ctx)
		if err != nil {
			return err
		}
		defer gcs.Close()
		opts.Store = gcs
	}

	start := time.Now()
	stats.StartReporter(log, 0)
	res, err := preprocess.Run(ctx, opts)
	stats.StopReporter()

	m.BytesWritten.Add(float64(stats.GetTotalBytes()))
	m.Finish(start, err == nil)
	if res != nil && res.RawCached {
		m.RawCacheHits.Inc()
	}
	if werr := m.WriteTextfile(*metricsFile); werr != nil {
		log.Warn().Err(werr).Msg("metrics not written")
	}
	if err != nil {
		return err
	}

	var rate float64
	if res.Elapsed > 0 {
		rate = float64(res.Rows) / res.Elapsed.Seconds()
	}
	logging.Banner("Preprocess Complete")
	log.Info().Str("source", res.Source).Bool("raw_cached", res.RawCached).Msg("input")
	log.Info().Int64("rows", res.Rows).Int("chunks", res.Chunks).Int64("no_efficiency", res.NoEfficiency).Msg("rows")
	log.Info().Str("raw", res.RawPath).Str("processed", res.ProcessedPath).Msg("caches")
	log.Info().
		Str("elapsed", res.Elapsed.Round(time.Millisecond).String()).
		Float64("rows_per_sec", rate).
		Uint64("bytes", stats.GetTotalBytes()).
		Msg("statistics")
	return nil
}

func sourceLabel() string {
	if *source == "" {
		return "clickhouse"
	}
	return *source
}
