package session

import (
	"github.com/KI7MT/ki7mt-solar-germany/internal/aggregate"
	"github.com/KI7MT/ki7mt-solar-germany/internal/solar"
)

// CityColumns are the aggregates of the district table, in column order.
var CityColumns = []aggregate.Spec{
	{Metric: solar.MetricGrossPower, Op: aggregate.Sum},
	{Metric: solar.MetricNetRatedPower, Op: aggregate.Sum},
	{Metric: solar.MetricNumberOfModules, Op: aggregate.Sum},
	{Metric: solar.MetricEfficiency, Op: aggregate.Mean},
}

// Dashboard is every view of one selection.
type Dashboard struct {
	Key     Key
	Empty   bool // no processed data for the range
	Choices Choices

	// Year view: modules per state in the selected year.
	Year           aggregate.Summary
	ModulesByState []aggregate.GroupValue

	// State view, against the national trend of installed modules.
	State       aggregate.Summary
	NationTrend []aggregate.TrendPoint
	StateTrend  []aggregate.TrendPoint

	// Region view.
	Region      aggregate.Summary
	CityTable   []aggregate.GroupRow
	FeedInTypes []aggregate.Count
	Locations   []aggregate.Count

	// City view and the trends of the session metric at every level.
	City         aggregate.Summary
	MetricTrends Trends
}

// Trends are cumulative trends of one metric over all years.
type Trends struct {
	Metric solar.Metric
	Nation []aggregate.TrendPoint
	State  []aggregate.TrendPoint
	Region []aggregate.TrendPoint
	City   []aggregate.TrendPoint
}

// allYears returns the session's scope at level with the year filter
// dropped, for trends across the whole range.
func (s *Session) allYears(ds solar.Dataset, level Level) solar.Dataset {
	depth, _ := s.Depth()
	if level > depth {
		return nil
	}
	out := ds
	if level >= LevelState {
		out = aggregate.FilterByState(out, s.State)
	}
	if level >= LevelRegion {
		out = aggregate.FilterByRegion(out, s.Region)
	}
	if level >= LevelCity {
		out = aggregate.FilterByCity(out, s.City)
	}
	return out
}

// Build computes the dashboard of s over ds. Views below the selected depth
// are empty.
func Build(ds solar.Dataset, s *Session) *Dashboard {
	d := &Dashboard{
		Key:     s.Key(),
		Empty:   len(ds) == 0,
		Choices: s.Choices(ds),
	}
	if d.Empty {
		return d
	}

	year := s.Scope(ds, LevelYear)
	d.Year = aggregate.Summarize(year)
	d.ModulesByState = aggregate.ByGroup(year, solar.KeyState, solar.MetricNumberOfModules, aggregate.Sum)

	d.State = aggregate.Summarize(s.Scope(ds, LevelState))
	d.NationTrend = aggregate.CumulativeTrend(ds, solar.MetricNumberOfModules)
	d.StateTrend = aggregate.CumulativeTrend(s.allYears(ds, LevelState), solar.MetricNumberOfModules)

	region := s.Scope(ds, LevelRegion)
	d.Region = aggregate.Summarize(region)
	d.CityTable = aggregate.ByGroupMulti(region, solar.KeyCity, CityColumns...)
	d.FeedInTypes = aggregate.ValueCounts(region, solar.KeyFeedInType)
	d.Locations = aggregate.ValueCounts(region, solar.KeyLocation)

	d.City = aggregate.Summarize(s.Scope(ds, LevelCity))
	d.MetricTrends = Trends{
		Metric: s.Metric,
		Nation: aggregate.CumulativeTrend(ds, s.Metric),
		State:  aggregate.CumulativeTrend(s.allYears(ds, LevelState), s.Metric),
		Region: aggregate.CumulativeTrend(s.allYears(ds, LevelRegion), s.Metric),
		City:   aggregate.CumulativeTrend(s.allYears(ds, LevelCity), s.Metric),
	}
	return d
}
