// solar-report - Print the dashboard views of one selection
//
// Reads the processed cache of a year range and prints, for the selected
// year, state, administrative region and city, the same figures the
// dashboard shows: headline summaries, modules per state, the district
// table, feed-in and location breakdowns and cumulative trends.
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/solar-report ./cmd/solar-report

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-faster/errors"
	"github.com/goccy/go-json"

	"github.com/KI7MT/ki7mt-solar-germany/internal/aggregate"
	"github.com/KI7MT/ki7mt-solar-germany/internal/common"
	"github.com/KI7MT/ki7mt-solar-germany/internal/logging"
	"github.com/KI7MT/ki7mt-solar-germany/internal/memo"
	"github.com/KI7MT/ki7mt-solar-germany/internal/metrics"
	"github.com/KI7MT/ki7mt-solar-germany/internal/objstore"
	"github.com/KI7MT/ki7mt-solar-germany/internal/session"
	"github.com/KI7MT/ki7mt-solar-germany/internal/solar"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

const name = "solar-report"

var (
	configPath  = flag.String("config", "", "Config file (default $SOLAR_CONFIG or ./solar.yaml)")
	dataDir     = flag.String("data-dir", "", "Cache directory (overrides data.dir)")
	minYear     = flag.Int("min-year", 0, "First year of the processed range (overrides data.min_year)")
	maxYear     = flag.Int("max-year", 0, "Last year of the processed range (overrides data.max_year)")
	year        = flag.Int("year", 0, "Selected year (default: last year of the range)")
	state       = flag.String("state", "", "Selected state")
	region      = flag.String("region", "", "Selected administrative region (requires -state)")
	city        = flag.String("city", "", "Selected city (requires -region)")
	metric      = flag.String("metric", "NumberOfModules", "Trend metric")
	outlines    = flag.String("outlines", "", "State outlines: gcs, a directory laid out as <dir>/<bucket>/<object>, or empty to skip")
	geojsonOut  = flag.String("geojson-out", "", "Write the selected state's outline to this file")
	asJSON      = flag.Bool("json", false, "Print the dashboard as JSON")
	metricsFile = flag.String("metrics-file", "", "Write Prometheus metrics to this file on exit")
	logLevel    = flag.String("log-level", "", "Log level (overrides log.level)")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s v%s - Solar Registry Report\n\n", name, Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Example:\n")
		fmt.Fprintf(os.Stderr, "  %s -year 2021 -state Bayern -region Oberbayern -metric GrossPower\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := common.LoadConfig(*configPath)
	if err == nil {
		err = applyFlags(cfg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	logging.Init(cfg.LoggingConfig(*logLevel))

	if err := run(cfg); err != nil {
		logging.Error().Err(err).Msg("report failed")
		os.Exit(1)
	}
}

func applyFlags(cfg *common.Config) error {
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
	return cfg.Validate()
}

func newSession(cfg *common.Config) (*session.Session, error) {
	s, err := session.New(cfg.Data.MinYear, cfg.Data.MaxYear)
	if err != nil {
		return nil, err
	}
	if *year != 0 {
		if err := s.SelectYear(*year); err != nil {
			return nil, err
		}
	}
	m, err := solar.ParseMetric(*metric)
	if err != nil {
		return nil, err
	}
	s.Metric = m
	if *state != "" {
		s.SelectState(*state)
	}
	if *region != "" {
		s.SelectRegion(*region)
	}
	if *city != "" {
		s.SelectCity(*city)
	}
	if depth, ok := s.Depth(); !ok {
		logging.Warn().Str("complete_to", depth.String()).Msg("selection has gaps; deeper levels are ignored")
	}
	return s, nil
}

func outlineStore(ctx context.Context) (objstore.Store, func(), error) {
	switch *outlines {
	case "":
		return nil, func() {}, nil
	case "gcs":
		gcs, err := objstore.NewGCS(ctx)
		if err != nil {
			return nil, nil, err
		}
		return gcs, func() { gcs.Close() }, nil
	default:
		return objstore.Dir{Root: *outlines}, func() {}, nil
	}
}

func run(cfg *common.Config) error {
	ctx, cancel := common.SignalContext()
	defer cancel()
	if cfg.Storage.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, cfg.Storage.Timeout)
		defer cancelTimeout()
	}

	s, err := newSession(cfg)
	if err != nil {
		return err
	}
	store, closeStore, err := outlineStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.New(name)
	start := time.Now()

	loader := session.NewLoader(session.LoaderConfig{
		DataDir:       cfg.SolarDataDir(),
		Store:         store,
		Bucket:        cfg.Storage.Bucket,
		GeoJSONObject: cfg.Storage.GeoJSONObject,
		TTL:           cfg.Cache.TTL,
	})
	logging.Debug().Str("session", s.ID.String()).Msg("session created")

	page, err := loader.Load(ctx, s)
	if err == nil {
		err = writeOutput(os.Stdout, page)
	}
	if err == nil && *geojsonOut != "" {
		err = writeHighlight(page, *geojsonOut)
	}

	datasets, views := loader.CacheStats()
	observeCache(m, datasets)
	observeCache(m, views)
	m.Finish(start, err == nil)
	if werr := m.WriteTextfile(*metricsFile); werr != nil {
		logging.Warn().Err(werr).Msg("metrics not written")
	}
	return err
}

func observeCache(m *metrics.Metrics, st memo.Stats) {
	m.CacheLookups.WithLabelValues("hit").Add(float64(st.Hits))
	m.CacheLookups.WithLabelValues("miss").Add(float64(st.Misses))
}

func writeHighlight(page *session.Page, path string) error {
	if page.Highlight == nil {
		return errors.New("no state outline to write: select a state and set -outlines")
	}
	data, err := json.MarshalIndent(page.Highlight, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode outline")
	}
	return os.WriteFile(path, data, 0o644)
}

func writeOutput(w io.Writer, page *session.Page) error {
	if *asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(page.Dashboard)
	}
	r := &report{tw: tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)}
	r.dashboard(page)
	return r.tw.Flush()
}

// =============================================================================
// Text output
// =============================================================================

type report struct {
	tw *tabwriter.Writer
}

func (r *report) printf(format string, args ...any) {
	fmt.Fprintf(r.tw, format, args...)
}

func (r *report) heading(title string) {
	r.printf("\n%s\n%s\n", title, strings.Repeat("-", len(title)))
}

func (r *report) dashboard(page *session.Page) {
	d := page.Dashboard
	k := d.Key

	r.printf("Solar installations in Germany, %d-%d\n", k.MinYear, k.MaxYear)
	if d.Empty {
		r.printf("\nNo processed data for %d-%d. Run solar-preprocess first.\n", k.MinYear, k.MaxYear)
		return
	}

	r.heading(fmt.Sprintf("Overview %s", k.Year))
	r.summary(d.Year)
	r.printf("\nState\tModules\n")
	for _, g := range d.ModulesByState {
		r.printf("%s\t%s\n", g.Group, formatFloat(g.Value))
	}
	r.printf("\nStates: %s\n", strings.Join(d.Choices.States, ", "))

	if k.State == "" {
		return
	}
	r.heading("State " + k.State)
	r.summary(d.State)
	r.trendPair("Germany", d.NationTrend, k.State, d.StateTrend)
	if len(d.Choices.Regions) > 0 {
		r.printf("\nRegions: %s\n", strings.Join(d.Choices.Regions, ", "))
	}

	if k.Region != "" {
		r.heading("Region " + k.Region)
		r.summary(d.Region)
		r.cityTable(d.CityTable)
		r.counts("Feed-in type", d.FeedInTypes)
		r.counts("Location", d.Locations)
		if len(d.Choices.Cities) > 0 {
			r.printf("\nCities: %s\n", strings.Join(d.Choices.Cities, ", "))
		}
	}

	if k.City != "" {
		r.heading("City " + k.City)
		r.summary(d.City)
	}
	r.trends(d.MetricTrends)

	if page.Shapes != nil {
		if b, ok := page.Shapes.Bound(k.State); ok {
			r.printf("\nOutline of %s: lon %.3f..%.3f, lat %.3f..%.3f\n",
				k.State, b.Min.Lon(), b.Max.Lon(), b.Min.Lat(), b.Max.Lat())
		}
	}
}

func (r *report) summary(s aggregate.Summary) {
	r.printf("Installations\t%d\n", s.Rows)
	r.printf("Modules\t%.0f\n", s.TotalModules)
	r.printf("Gross power (MW)\t%.3f\n", s.TotalGrossPower)
	r.printf("Net rated power (MW)\t%.3f\n", s.TotalNetRatedPower)
	r.printf("Mean efficiency\t%s\n", formatFloat(s.MeanEfficiency))
}

func (r *report) cityTable(rows []aggregate.GroupRow) {
	r.printf("\nCity")
	for _, spec := range session.CityColumns {
		r.printf("\t%s", spec)
	}
	r.printf("\n")
	for _, row := range rows {
		r.printf("%s", row.Group)
		for _, v := range row.Values {
			r.printf("\t%s", formatFloat(v))
		}
		r.printf("\n")
	}
}

func (r *report) counts(title string, counts []aggregate.Count) {
	r.printf("\n%s\tInstallations\n", title)
	for _, c := range counts {
		r.printf("%s\t%d\n", c.Value, c.Count)
	}
}

func (r *report) trendPair(leftName string, left []aggregate.TrendPoint, rightName string, right []aggregate.TrendPoint) {
	r.printf("\nCumulative modules\n")
	r.printf("Year\t%s\t%s\n", leftName, rightName)
	byYear := make(map[int]float64, len(right))
	for _, p := range right {
		byYear[p.Year] = p.Cumulative
	}
	var last float64
	for _, p := range left {
		if v, ok := byYear[p.Year]; ok {
			last = v
		}
		r.printf("%d\t%.0f\t%.0f\n", p.Year, p.Cumulative, last)
	}
}

func (r *report) trends(t session.Trends) {
	levels := []struct {
		name   string
		points []aggregate.TrendPoint
	}{
		{"Germany", t.Nation},
		{"State", t.State},
		{"Region", t.Region},
		{"City", t.City},
	}
	for _, l := range levels {
		if len(l.points) == 0 {
			continue
		}
		r.heading(fmt.Sprintf("Cumulative %s, %s", t.Metric, l.name))
		r.printf("Year\tYearly\tCumulative\n")
		for _, p := range l.points {
			r.printf("%d\t%.3f\t%.3f\n", p.Year, p.Value, p.Cumulative)
		}
	}
}

func formatFloat(v solar.NullFloat) string {
	if !v.Valid {
		return "-"
	}
	return fmt.Sprintf("%.3f", v.Value)
}
