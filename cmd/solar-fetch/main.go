// solar-fetch - Download the registry CSV and state outlines from object storage
//
// Objects:
//   - <bucket>/<csv_object>: Marktstammdatenregister solar unit extract
//   - <bucket>/<geojson_object>: German state boundaries (FeatureCollection)
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/solar-fetch ./cmd/solar-fetch

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"

	"github.com/KI7MT/ki7mt-solar-germany/internal/common"
	"github.com/KI7MT/ki7mt-solar-germany/internal/logging"
	"github.com/KI7MT/ki7mt-solar-germany/internal/metrics"
	"github.com/KI7MT/ki7mt-solar-germany/internal/objstore"
	"github.com/KI7MT/ki7mt-solar-germany/internal/solar"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

const name = "solar-fetch"

// object is one file to fetch.
type object struct {
	Name   string
	Object string
	Desc   string
	check  func(path string) (string, error)
}

var (
	configPath  = flag.String("config", "", "Config file (default $SOLAR_CONFIG or ./solar.yaml)")
	dest        = flag.String("dest", "", "Destination directory (default: data.dir)")
	bucket      = flag.String("bucket", "", "Bucket (overrides storage.bucket)")
	storeDir    = flag.String("store-dir", "", "Read objects from <dir>/<bucket>/<object> instead of GCS")
	only        = flag.String("object", "all", "Object to fetch: registry, states or all")
	listObjects = flag.Bool("list", false, "List objects and exit")
	metricsFile = flag.String("metrics-file", "", "Write Prometheus metrics to this file on exit")
	logLevel    = flag.String("log-level", "", "Log level (overrides log.level)")
)

func objects(cfg *common.Config) []object {
	return []object{
		{
			Name:   "registry",
			Object: cfg.Storage.CSVObject,
			Desc:   "Registry extract of solar units (CSV)",
			check:  checkRegistry,
		},
		{
			Name:   "states",
			Object: cfg.Storage.GeoJSONObject,
			Desc:   "State outlines (GeoJSON)",
			check:  checkStates,
		},
	}
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s v%s - Solar Registry Fetcher\n\n", name, Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Downloads the registry extract and state outlines.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if *bucket != "" {
		cfg.Storage.Bucket = *bucket
	}
	if *dest == "" {
		*dest = cfg.SolarDataDir()
	}
	logging.Init(cfg.LoggingConfig(*logLevel))

	if *listObjects {
		fmt.Printf("Objects in %s:\n\n", cfg.Storage.Bucket)
		for _, o := range objects(cfg) {
			fmt.Printf("  %-10s %s\n", o.Name, o.Desc)
			fmt.Printf("             Object: gs://%s/%s\n\n", cfg.Storage.Bucket, o.Object)
		}
		return
	}

	failed, err := run(cfg)
	if err != nil {
		logging.Error().Err(err).Msg("fetch failed")
		os.Exit(1)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func openStore(ctx context.Context) (objstore.Store, func(), error) {
	if *storeDir != "" {
		return objstore.Dir{Root: *storeDir}, func() {}, nil
	}
	gcs, err := objstore.NewGCS(ctx)
	if err != nil {
		return nil, nil, err
	}
	return gcs, func() { gcs.Close() }, nil
}

func run(cfg *common.Config) (int, error) {
	logging.Banner("Solar Fetch v%s", Version)
	log := logging.Component(name)
	log.Info().Str("bucket", cfg.Storage.Bucket).Str("dest", *dest).Dur("timeout", cfg.Storage.Timeout).Msg("configuration")

	ctx, cancel := common.SignalContext()
	defer cancel()

	store, closeStore, err := openStore(ctx)
	if err != nil {
		return 0, err
	}
	defer closeStore()

	m := metrics.New(name)
	start := time.Now()
	downloaded, failed := 0, 0

	for _, o := range objects(cfg) {
		if *only != "all" && *only != o.Name {
			continue
		}
		if err := ctx.Err(); err != nil {
			return failed, err
		}

		path := filepath.Join(*dest, filepath.Base(o.Object))
		n, err := fetch(ctx, cfg, store, o, path)
		if err != nil {
			log.Error().Err(err).Str("object", o.Name).Msg("fetch failed")
			failed++
			continue
		}
		m.BytesWritten.Add(float64(n))
		downloaded++
	}

	m.Finish(start, failed == 0)
	if werr := m.WriteTextfile(*metricsFile); werr != nil {
		log.Warn().Err(werr).Msg("metrics not written")
	}

	logging.Banner("Fetch Summary")
	log.Info().
		Int("downloaded", downloaded).
		Int("failed", failed).
		Str("elapsed", time.Since(start).Round(time.Millisecond).String()).
		Msg("statistics")
	return failed, nil
}

func fetch(ctx context.Context, cfg *common.Config, store objstore.Store, o object, path string) (int64, error) {
	if cfg.Storage.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Storage.Timeout)
		defer cancel()
	}

	n, err := objstore.Download(ctx, store, cfg.Storage.Bucket, o.Object, path)
	if err != nil {
		return 0, err
	}
	detail, err := o.check(path)
	if err != nil {
		os.Remove(path)
		return 0, errors.Wrapf(err, "verify %s", path)
	}
	logging.Info().Str("object", o.Name).Str("path", path).Int64("bytes", n).Msg(detail)
	return n, nil
}

func checkRegistry(path string) (string, error) {
	f, err := solar.OpenCSV(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	rd, err := solar.NewReader(f)
	if err != nil {
		return "", err
	}
	if _, err := rd.Read(); err != nil {
		return "", errors.Wrap(err, "first row")
	}
	return "registry header ok", nil
}

func checkStates(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	shapes, err := objstore.ParseStates(data)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d state outlines", shapes.Len()), nil
}
