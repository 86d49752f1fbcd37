// solar-export - Export a processed year range as Parquet or gzipped CSV
//
// Formats:
//   - parquet: one row group stream, nullable numeric columns
//   - csv.gz:  the processed cache layout, gzip compressed
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/solar-export ./cmd/solar-export

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
	"github.com/klauspost/compress/gzip"

	"github.com/KI7MT/ki7mt-solar-germany/internal/common"
	"github.com/KI7MT/ki7mt-solar-germany/internal/logging"
	"github.com/KI7MT/ki7mt-solar-germany/internal/metrics"
	"github.com/KI7MT/ki7mt-solar-germany/internal/preprocess"
	"github.com/KI7MT/ki7mt-solar-germany/internal/solar"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

const name = "solar-export"

const (
	formatParquet = "parquet"
	formatCSVGz   = "csv.gz"
)

var (
	configPath  = flag.String("config", "", "Config file (default $SOLAR_CONFIG or ./solar.yaml)")
	dataDir     = flag.String("data-dir", "", "Cache directory (overrides data.dir)")
	minYear     = flag.Int("min-year", 0, "First year of the processed range (overrides data.min_year)")
	maxYear     = flag.Int("max-year", 0, "Last year of the processed range (overrides data.max_year)")
	format      = flag.String("format", formatParquet, "Output format: parquet or csv.gz")
	out         = flag.String("out", "", "Output file (default <data-dir>/processed_solar_data_<min>_<max>.<format>)")
	metricsFile = flag.String("metrics-file", "", "Write Prometheus metrics to this file on exit")
	logLevel    = flag.String("log-level", "", "Log level (overrides log.level)")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s v%s - Solar Registry Exporter\n\n", name, Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := common.LoadConfig(*configPath)
	if err == nil {
		flag.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "data-dir":
				cfg.Data.Dir = *dataDir
			case "min-year":
				cfg.Data.MinYear = *minYear
			case "max-year":
				cfg.Data.MaxYear = *maxYear
			}
		})
		err = cfg.Validate()
	}
	if err == nil && *format != formatParquet && *format != formatCSVGz {
		err = fmt.Errorf("unknown format %q", *format)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	logging.Init(cfg.LoggingConfig(*logLevel))

	if err := run(cfg); err != nil {
		logging.Error().Err(err).Msg("export failed")
		os.Exit(1)
	}
}

func run(cfg *common.Config) error {
	dir := cfg.SolarDataDir()
	lo, hi := cfg.Data.MinYear, cfg.Data.MaxYear
	src := preprocess.ProcessedPath(dir, lo, hi)
	dst := *out
	if dst == "" {
		dst = filepath.Join(dir, fmt.Sprintf("processed_solar_data_%d_%d.%s", lo, hi, *format))
	}

	logging.Banner("Solar Export v%s", Version)
	log := logging.Component(name)
	log.Info().Str("input", src).Str("output", dst).Str("format", *format).Msg("configuration")

	m := metrics.New(name)
	start := time.Now()

	ds, err := solar.LoadProcessed(src)
	if err == nil {
		err = export(dst, ds)
	}

	var size int64
	if err == nil {
		if fi, serr := os.Stat(dst); serr == nil {
			size = fi.Size()
		}
		m.RowsTotal.WithLabelValues("exported").Add(float64(len(ds)))
		m.BytesWritten.Add(float64(size))
	}
	m.Finish(start, err == nil)
	if werr := m.WriteTextfile(*metricsFile); werr != nil {
		log.Warn().Err(werr).Msg("metrics not written")
	}
	if err != nil {
		return err
	}

	logging.Banner("Export Complete")
	log.Info().
		Int("rows", len(ds)).
		Int64("bytes", size).
		Str("elapsed", time.Since(start).Round(time.Millisecond).String()).
		Msg("statistics")
	return nil
}

// export writes ds to path.tmp and renames it into place.
func export(path string, ds solar.Dataset) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	switch *format {
	case formatParquet:
		err = solar.WriteParquet(f, ds)
	default:
		err = writeCSVGz(f, ds)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "write %s", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func writeCSVGz(w io.Writer, ds solar.Dataset) error {
	gz, err := gzip.NewWriterLevel(w, gzip.BestSpeed)
	if err != nil {
		return err
	}
	cw, err := solar.NewWriter(gz, true)
	if err != nil {
		return err
	}
	for _, chunk := range ds.Chunks(preprocess.DefaultChunkSize) {
		if err := cw.Write(chunk); err != nil {
			return err
		}
	}
	if len(ds) == 0 {
		// header only
		if err := cw.Write(nil); err != nil {
			return err
		}
	}
	return gz.Close()
}
