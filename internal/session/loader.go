package session

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"

	"github.com/KI7MT/ki7mt-solar-germany/internal/logging"
	"github.com/KI7MT/ki7mt-solar-germany/internal/memo"
	"github.com/KI7MT/ki7mt-solar-germany/internal/objstore"
	"github.com/KI7MT/ki7mt-solar-germany/internal/preprocess"
	"github.com/KI7MT/ki7mt-solar-germany/internal/solar"
)

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	DataDir string

	// Store, Bucket and GeoJSONObject locate the state outlines. A nil Store
	// skips them.
	Store         objstore.Store
	Bucket        string
	GeoJSONObject string

	TTL time.Duration // 0 keeps entries until invalidated
}

type yearRange struct{ min, max int }

// Loader reads processed caches and state outlines and builds dashboards,
// memoizing each by its arguments. It is safe for concurrent use.
type Loader struct {
	cfg LoaderConfig

	datasets *memo.Cache[yearRange, solar.Dataset]
	shapes   *memo.Cache[string, *objstore.StateShapes]
	views    *memo.Cache[Key, *Dashboard]
}

func NewLoader(cfg LoaderConfig) *Loader {
	return &Loader{
		cfg:      cfg,
		datasets: memo.New[yearRange, solar.Dataset](cfg.TTL),
		shapes:   memo.New[string, *objstore.StateShapes](cfg.TTL),
		views:    memo.New[Key, *Dashboard](cfg.TTL),
	}
}

// Dataset returns the processed dataset of a range. When the range has not
// been preprocessed it returns an empty dataset and an error matching
// solar.ErrNotPreprocessed; that outcome is not cached.
func (l *Loader) Dataset(minYear, maxYear int) (solar.Dataset, error) {
	ds, err := l.datasets.GetOrCompute(yearRange{minYear, maxYear}, func() (solar.Dataset, error) {
		path := preprocess.ProcessedPath(l.cfg.DataDir, minYear, maxYear)
		start := time.Now()
		ds, err := solar.LoadProcessed(path)
		if err != nil {
			return nil, err
		}
		logging.Info().Str("path", path).Int("rows", len(ds)).Dur("elapsed", time.Since(start)).Msg("processed data loaded")
		return ds, nil
	})
	if err != nil {
		return solar.Dataset{}, err
	}
	return ds, nil
}

// States returns the state outlines, or nil when no store is configured.
func (l *Loader) States(ctx context.Context) (*objstore.StateShapes, error) {
	if l.cfg.Store == nil {
		return nil, nil
	}
	return l.shapes.GetOrCompute(l.cfg.Bucket+"/"+l.cfg.GeoJSONObject, func() (*objstore.StateShapes, error) {
		return objstore.LoadStates(ctx, l.cfg.Store, l.cfg.Bucket, l.cfg.GeoJSONObject)
	})
}

// Page is everything needed to render one selection.
type Page struct {
	Dashboard *Dashboard
	Shapes    *objstore.StateShapes      // nil without a store
	Highlight *geojson.FeatureCollection // the selected state's outline
}

// Load fetches the dataset and the state outlines concurrently and builds
// the dashboard for s. A range that was never preprocessed yields an empty
// dashboard, not an error.
func (l *Loader) Load(ctx context.Context, s *Session) (*Page, error) {
	var (
		ds     solar.Dataset
		shapes *objstore.StateShapes
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		ds, err = l.Dataset(s.MinYear, s.MaxYear)
		if errors.Is(err, solar.ErrNotPreprocessed) {
			logging.Warn().Int("min_year", s.MinYear).Int("max_year", s.MaxYear).Msg("range not preprocessed")
			return nil
		}
		return err
	})
	eg.Go(func() error {
		var err error
		shapes, err = l.States(egCtx)
		if err != nil {
			return errors.Wrap(err, "load state outlines")
		}
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	page := &Page{Shapes: shapes}
	if len(ds) == 0 {
		page.Dashboard = Build(ds, s)
	} else {
		dash, err := l.views.GetOrCompute(s.Key(), func() (*Dashboard, error) {
			return Build(ds, s), nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "build dashboard")
		}
		page.Dashboard = dash
	}
	if shapes != nil && s.State != "" {
		page.Highlight = shapes.Highlight(s.State)
	}
	return page, nil
}

// Invalidate drops everything cached for a range, e.g. after it has been
// preprocessed again.
func (l *Loader) Invalidate(minYear, maxYear int) {
	l.datasets.Invalidate(yearRange{minYear, maxYear})
	l.views.Purge()
}

// CacheStats reports the dataset and view caches.
func (l *Loader) CacheStats() (datasets, views memo.Stats) {
	return l.datasets.Stats(), l.views.Stats()
}
