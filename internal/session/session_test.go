package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KI7MT/ki7mt-solar-germany/internal/aggregate"
	"github.com/KI7MT/ki7mt-solar-germany/internal/objstore"
	"github.com/KI7MT/ki7mt-solar-germany/internal/preprocess"
	"github.com/KI7MT/ki7mt-solar-germany/internal/solar"
)

func rec(year int64, state, region, city, feedIn, location string, modules int64, gross, net float64) solar.Record {
	r := solar.Record{
		State:                state,
		AdministrativeRegion: region,
		City:                 city,
		FeedInType:           feedIn,
		Location:             location,
		NumberOfModules:      solar.Int(modules),
		GrossPower:           solar.Float(gross),
		NetRatedPower:        solar.Float(net),
		CommissioningYear:    solar.Int(year),
	}
	r.ComputeEfficiency()
	return r
}

func registry() solar.Dataset {
	return solar.Dataset{
		rec(2020, "Bayern", "Oberbayern", "München", "Full Feed-in", "Building", 10, 2, 1),
		rec(2020, "Bayern", "Oberbayern", "Freising", "Partial Feed-in", "Building", 20, 3, 2),
		rec(2020, "Bayern", "Schwaben", "Augsburg", "Full Feed-in", "Ground", 5, 1, 1),
		rec(2021, "Bayern", "Oberbayern", "München", "Full Feed-in", "Building", 7, 1, 1),
		rec(2021, "Berlin", "Berlin", "Berlin", "Partial Feed-in", "Building", 4, 1, 0),
		rec(2019, "Berlin", "Berlin", "Berlin", "Full Feed-in", "Building", 3, 1, 1),
	}
}

func newSession(t *testing.T) *Session {
	t.Helper()
	s, err := New(2019, 2021)
	require.NoError(t, err)
	return s
}

func TestNew(t *testing.T) {
	s := newSession(t)
	assert.NotEqual(t, uuid.Nil, s.ID)
	assert.Equal(t, solar.Int(2021), s.Year)
	assert.Equal(t, solar.MetricNumberOfModules, s.Metric)

	other := newSession(t)
	assert.NotEqual(t, s.ID, other.ID)
	assert.Equal(t, s.Key(), other.Key())

	_, err := New(2022, 2020)
	assert.Error(t, err)
}

func TestSelectClearsLowerLevels(t *testing.T) {
	s := newSession(t)
	require.NoError(t, s.SelectYear(2020))
	assert.Error(t, s.SelectYear(2018))

	s.SelectState("Bayern")
	s.SelectRegion("Oberbayern")
	s.SelectCity("München")
	level, ok := s.Depth()
	assert.Equal(t, LevelCity, level)
	assert.True(t, ok)

	s.SelectState("Berlin")
	assert.Empty(t, s.Region)
	assert.Empty(t, s.City)
	level, _ = s.Depth()
	assert.Equal(t, LevelState, level)
}

func TestDepthBrokenChain(t *testing.T) {
	s := newSession(t)
	s.Region = "Oberbayern"

	level, ok := s.Depth()
	assert.Equal(t, LevelYear, level)
	assert.False(t, ok)
	assert.Equal(t, "year", level.String())
}

func TestScope(t *testing.T) {
	ds := registry()
	s := newSession(t)
	require.NoError(t, s.SelectYear(2020))

	assert.Len(t, s.Scope(ds, LevelNone), 6)
	assert.Len(t, s.Scope(ds, LevelYear), 3)
	assert.Nil(t, s.Scope(ds, LevelState), "no state selected")

	s.SelectState("Bayern")
	s.SelectRegion("Oberbayern")
	assert.Len(t, s.Scope(ds, LevelRegion), 2)

	s.SelectCity("München")
	city := s.Scope(ds, LevelCity)
	require.Len(t, city, 1)
	assert.Equal(t, solar.Int(10), city[0].NumberOfModules)
}

func TestScopeRegionWithoutStateIsEmpty(t *testing.T) {
	ds := registry()
	s := newSession(t)
	s.Region = "Oberbayern"
	s.City = "München"

	assert.Empty(t, s.Scope(ds, LevelRegion))
	assert.Empty(t, s.Scope(ds, LevelCity))
	assert.Empty(t, s.Choices(ds).Cities)
}

func TestChoices(t *testing.T) {
	ds := registry()
	s := newSession(t)
	require.NoError(t, s.SelectYear(2020))

	c := s.Choices(ds)
	assert.Equal(t, 2019, c.MinYear)
	assert.Equal(t, 2021, c.MaxYear)
	assert.Equal(t, []string{"Bayern", "Berlin"}, c.States)
	assert.Empty(t, c.Regions)

	s.SelectState("Bayern")
	c = s.Choices(ds)
	assert.Equal(t, []string{"Oberbayern", "Schwaben"}, c.Regions)
	assert.Empty(t, c.Cities)

	s.SelectRegion("Oberbayern")
	assert.Equal(t, []string{"Freising", "München"}, s.Choices(ds).Cities)

	// No Berlin records in 2020: no regions to choose from.
	s.SelectState("Berlin")
	assert.Empty(t, s.Choices(ds).Regions)
}

func TestBuild(t *testing.T) {
	ds := registry()
	s := newSession(t)
	require.NoError(t, s.SelectYear(2020))
	s.SelectState("Bayern")
	s.SelectRegion("Oberbayern")
	s.SelectCity("München")
	s.Metric = solar.MetricGrossPower

	d := Build(ds, s)
	assert.False(t, d.Empty)

	assert.Equal(t, 3, d.Year.Rows)
	assert.Equal(t, []aggregate.GroupValue{
		{Group: "Bayern", Value: solar.Float(35), Rows: 3},
	}, d.ModulesByState)

	assert.Equal(t, 35.0, d.State.TotalModules)

	require.Len(t, d.NationTrend, 3)
	assert.Equal(t, 49.0, d.NationTrend[2].Cumulative)
	require.Len(t, d.StateTrend, 2)
	assert.Equal(t, 2020, d.StateTrend[0].Year)
	assert.Equal(t, 42.0, d.StateTrend[1].Cumulative)

	assert.Equal(t, 2, d.Region.Rows)
	assert.InDelta(t, 5.0, d.Region.TotalGrossPower, 1e-9)
	require.Len(t, d.CityTable, 2)
	assert.Equal(t, "Freising", d.CityTable[0].Group)
	assert.Equal(t, solar.Float(20), d.CityTable[0].Values[2])
	assert.Equal(t, solar.Float(1.5), d.CityTable[0].Values[3])
	assert.Equal(t, []aggregate.Count{{Value: "Full Feed-in", Count: 1}, {Value: "Partial Feed-in", Count: 1}}, d.FeedInTypes)
	assert.Equal(t, []aggregate.Count{{Value: "Building", Count: 2}}, d.Locations)

	assert.Equal(t, 10.0, d.City.TotalModules)
	assert.Equal(t, solar.MetricGrossPower, d.MetricTrends.Metric)
	require.Len(t, d.MetricTrends.City, 2)
	assert.Equal(t, 3.0, d.MetricTrends.City[1].Cumulative)
	require.Len(t, d.MetricTrends.Region, 2)
	assert.Equal(t, 6.0, d.MetricTrends.Region[1].Cumulative)
}

func TestBuildStopsAtSelectedDepth(t *testing.T) {
	s := newSession(t)
	d := Build(registry(), s)

	assert.Equal(t, 2, d.Year.Rows)
	assert.Zero(t, d.State.Rows)
	assert.False(t, d.State.MeanEfficiency.Valid)
	assert.Nil(t, d.StateTrend)
	assert.Nil(t, d.CityTable)
	assert.Nil(t, d.MetricTrends.City)
	assert.NotNil(t, d.MetricTrends.Nation)
}

func TestBuildEmptyDataset(t *testing.T) {
	d := Build(solar.Dataset{}, newSession(t))
	assert.True(t, d.Empty)
	assert.Nil(t, d.ModulesByState)
	assert.Nil(t, d.NationTrend)
	assert.Equal(t, 2019, d.Choices.MinYear)
}

// =============================================================================
// Loader
// =============================================================================

const statesGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"name": "Bayern"},
     "geometry": {"type": "Polygon", "coordinates": [[[9,47],[13,47],[13,50],[9,50],[9,47]]]}},
    {"type": "Feature", "properties": {"name": "Berlin"},
     "geometry": {"type": "Polygon", "coordinates": [[[13,52],[13.7,52],[13.7,52.7],[13,52.7],[13,52]]]}}
  ]
}`

func writeProcessed(t *testing.T, dir string, minYear, maxYear int, ds solar.Dataset) {
	t.Helper()
	f, err := os.Create(preprocess.ProcessedPath(dir, minYear, maxYear))
	require.NoError(t, err)
	defer f.Close()
	w, err := solar.NewWriter(f, true)
	require.NoError(t, err)
	require.NoError(t, w.Write(ds))
}

func newLoader(t *testing.T) (*Loader, string) {
	t.Helper()
	dataDir := t.TempDir()
	root := t.TempDir()
	path := filepath.Join(root, "solar_germany", "states.geo.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(statesGeoJSON), 0o644))

	return NewLoader(LoaderConfig{
		DataDir:       dataDir,
		Store:         objstore.Dir{Root: root},
		Bucket:        "solar_germany",
		GeoJSONObject: "states.geo.json",
	}), dataDir
}

func TestLoaderNotPreprocessed(t *testing.T) {
	l, _ := newLoader(t)

	ds, err := l.Dataset(2019, 2021)
	assert.ErrorIs(t, err, solar.ErrNotPreprocessed)
	assert.NotNil(t, ds)
	assert.Empty(t, ds)

	page, err := l.Load(context.Background(), newSession(t))
	require.NoError(t, err)
	assert.True(t, page.Dashboard.Empty)
	assert.Equal(t, 2, page.Shapes.Len())

	datasets, views := l.CacheStats()
	assert.Zero(t, datasets.Keys)
	assert.Zero(t, views.Keys)
}

func TestLoaderLoad(t *testing.T) {
	l, dir := newLoader(t)
	writeProcessed(t, dir, 2019, 2021, registry())

	s := newSession(t)
	s.SelectState("Bayern")

	page, err := l.Load(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, page.Dashboard.Empty)
	assert.Equal(t, 7.0, page.Dashboard.State.TotalModules)
	require.NotNil(t, page.Highlight)
	assert.Len(t, page.Highlight.Features, 1)

	again, err := l.Load(context.Background(), s)
	require.NoError(t, err)
	assert.Same(t, page.Dashboard, again.Dashboard)

	datasets, views := l.CacheStats()
	assert.Equal(t, 1, datasets.Keys)
	assert.Equal(t, 1, views.Keys)
	assert.Equal(t, int64(1), views.Hits)
}

func TestLoaderInvalidate(t *testing.T) {
	l, dir := newLoader(t)
	writeProcessed(t, dir, 2019, 2021, registry())

	ds, err := l.Dataset(2019, 2021)
	require.NoError(t, err)
	require.Len(t, ds, 6)

	writeProcessed(t, dir, 2019, 2021, registry()[:2])
	ds, err = l.Dataset(2019, 2021)
	require.NoError(t, err)
	assert.Len(t, ds, 6, "served from cache")

	l.Invalidate(2019, 2021)
	ds, err = l.Dataset(2019, 2021)
	require.NoError(t, err)
	assert.Len(t, ds, 2)
}

func TestLoaderConcurrentSessions(t *testing.T) {
	l, dir := newLoader(t)
	writeProcessed(t, dir, 2019, 2021, registry())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := New(2019, 2021)
			if !assert.NoError(t, err) {
				return
			}
			page, err := l.Load(context.Background(), s)
			if assert.NoError(t, err) {
				assert.Equal(t, 2, page.Dashboard.Year.Rows)
			}
		}()
	}
	wg.Wait()

	datasets, _ := l.CacheStats()
	assert.Equal(t, 1, datasets.Keys)
}

func TestLoaderStatesFailure(t *testing.T) {
	l := NewLoader(LoaderConfig{
		DataDir:       t.TempDir(),
		Store:         objstore.Dir{Root: t.TempDir()},
		Bucket:        "solar_germany",
		GeoJSONObject: "missing.geo.json",
	})
	_, err := l.Load(context.Background(), newSession(t))
	assert.ErrorIs(t, err, objstore.ErrObjectNotFound)
}

func TestLoaderWithoutStore(t *testing.T) {
	l := NewLoader(LoaderConfig{DataDir: t.TempDir()})
	s := newSession(t)
	s.SelectState("Bayern")

	page, err := l.Load(context.Background(), s)
	require.NoError(t, err)
	assert.Nil(t, page.Shapes)
	assert.Nil(t, page.Highlight)
}
