package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KI7MT/ki7mt-solar-germany/internal/solar"
)

func rec(state, region, city string, year, modules int64, gross, net float64) solar.Record {
	r := solar.Record{
		State:                state,
		AdministrativeRegion: region,
		City:                 city,
		NumberOfModules:      solar.Int(modules),
		CommissioningYear:    solar.Int(year),
		GrossPower:           solar.Float(gross),
		NetRatedPower:        solar.Float(net),
		FeedInType:           "Full feed-in",
		Location:             "Building",
	}
	r.ComputeEfficiency()
	return r
}

func exampleDataset() solar.Dataset {
	return solar.Dataset{
		rec("Bavaria", "Swabia", "Augsburg", 2020, 10, 0.02, 0.01),
		rec("Bavaria", "Swabia", "Augsburg", 2021, 5, 0.01, 0.01),
		rec("Berlin", "Berlin", "Berlin", 2020, 3, 0.003, 0),
	}
}

func mixedDataset() solar.Dataset {
	ds := solar.Dataset{
		rec("Hesse", "Kassel", "Kassel", 2012, 20, 0.2, 0.1),
		rec("Bavaria", "Swabia", "Augsburg", 2015, 8, 0.08, 0.1),
		rec("Bavaria", "Upper Bavaria", "Munich", 2012, 12, 0.1, 0.1),
		rec("Hesse", "Darmstadt", "Darmstadt", 2018, 4, 0.04, 0.02),
		rec("Bavaria", "Swabia", "Augsburg", 2018, 6, 0.05, 0.05),
		rec("Berlin", "Berlin", "Berlin", 2009, 2, 0.01, 0.01),
	}
	ds[5].CommissioningYear = solar.MissingInt
	return ds
}

func TestByGroupExample(t *testing.T) {
	got := ByGroup(exampleDataset(), solar.KeyState, solar.MetricNumberOfModules, Sum)
	require.Len(t, got, 2)
	assert.Equal(t, "Bavaria", got[0].Group)
	assert.Equal(t, solar.Float(15), got[0].Value)
	assert.Equal(t, 2, got[0].Rows)
	assert.Equal(t, "Berlin", got[1].Group)
	assert.Equal(t, solar.Float(3), got[1].Value)
}

func TestCumulativeTrendExample(t *testing.T) {
	bavaria := FilterByState(exampleDataset(), "Bavaria")
	got := CumulativeTrend(bavaria, solar.MetricNumberOfModules)
	assert.Equal(t, []TrendPoint{
		{Year: 2020, Value: 10, Cumulative: 10},
		{Year: 2021, Value: 5, Cumulative: 15},
	}, got)
}

func TestEmptyInputs(t *testing.T) {
	var empty solar.Dataset
	for _, key := range []solar.Key{solar.KeyState, solar.KeyAdministrativeRegion, solar.KeyCity, solar.KeyFeedInType} {
		for _, m := range []solar.Metric{solar.MetricNumberOfModules, solar.MetricGrossPower, solar.MetricEfficiency} {
			for _, op := range []Op{Sum, Mean} {
				assert.Empty(t, ByGroup(empty, key, m, op))
			}
		}
		assert.Empty(t, ValueCounts(empty, key))
		assert.Empty(t, Distinct(empty, key))
	}
	assert.Empty(t, CumulativeTrend(empty, solar.MetricGrossPower))
	assert.Empty(t, ByGroupMulti(empty, solar.KeyCity, Spec{solar.MetricGrossPower, Sum}))
	assert.Empty(t, FilterByYear(empty, 2020))

	_, _, ok := YearRange(empty)
	assert.False(t, ok)
	s := Summarize(empty)
	assert.Zero(t, s.Rows)
	assert.False(t, s.MeanEfficiency.Valid)
}

func TestMeanIgnoresMissing(t *testing.T) {
	// Berlin has net rated power 0, so its efficiency is missing.
	got := ByGroup(exampleDataset(), solar.KeyState, solar.MetricEfficiency, Mean)
	require.Len(t, got, 2)

	assert.Equal(t, "Bavaria", got[0].Group)
	require.True(t, got[0].Value.Valid)
	assert.InDelta(t, 1.5, got[0].Value.Value, 1e-12)

	assert.Equal(t, "Berlin", got[1].Group)
	assert.False(t, got[1].Value.Valid)
	assert.Equal(t, 1, got[1].Rows)

	sums := ByGroup(exampleDataset(), solar.KeyState, solar.MetricEfficiency, Sum)
	assert.Equal(t, solar.Float(0), sums[1].Value)
}

func TestSumIsExact(t *testing.T) {
	ds := solar.Dataset{
		rec("Saxony", "", "", 2020, 1, 0.1, 1),
		rec("Saxony", "", "", 2020, 1, 0.2, 1),
	}
	got := ByGroup(ds, solar.KeyState, solar.MetricGrossPower, Sum)
	assert.Equal(t, solar.Float(0.3), got[0].Value)
}

func TestEmptyLabelsDoNotGroup(t *testing.T) {
	ds := mixedDataset()
	ds[0].City = ""
	got := ByGroup(ds, solar.KeyCity, solar.MetricNumberOfModules, Sum)
	for _, g := range got {
		assert.NotEmpty(t, g.Group)
	}
	assert.NotContains(t, Distinct(ds, solar.KeyCity), "")
}

func TestFilterCommutes(t *testing.T) {
	ds := mixedDataset()
	for _, year := range []int{2009, 2012, 2015, 2018, 2030} {
		for _, state := range []string{"Bavaria", "Hesse", "Berlin", "Nowhere"} {
			a := FilterByState(FilterByYear(ds, year), state)
			b := FilterByYear(FilterByState(ds, state), year)
			assert.Equal(t, a, b, "year=%d state=%s", year, state)
		}
	}
}

func TestFilterHierarchy(t *testing.T) {
	ds := mixedDataset()

	year := FilterByYear(ds, 2012)
	require.Len(t, year, 2)

	state := FilterByState(year, "Bavaria")
	require.Len(t, state, 1)
	assert.Equal(t, "Munich", state[0].City)

	assert.Len(t, FilterByCity(FilterByRegion(FilterByState(ds, "Bavaria"), "Swabia"), "Augsburg"), 2)
	assert.Empty(t, FilterByRegion(FilterByState(ds, "Hesse"), "Swabia"))

	// Missing years never match.
	assert.Empty(t, FilterByYear(ds, 0))
}

func TestFilterDoesNotAliasInput(t *testing.T) {
	ds := mixedDataset()
	out := FilterByState(ds, "Hesse")
	out[0].City = "changed"
	assert.Equal(t, "Kassel", ds[0].City)
}

func TestCumulativeTrendProperties(t *testing.T) {
	ds := mixedDataset()
	got := CumulativeTrend(ds, solar.MetricNumberOfModules)

	// 2009 is the missing-year row; gaps are skipped.
	years := make([]int, len(got))
	for i, p := range got {
		years[i] = p.Year
	}
	assert.Equal(t, []int{2012, 2015, 2018}, years)

	var total float64
	for i, p := range got {
		total += p.Value
		if i > 0 {
			assert.GreaterOrEqual(t, p.Cumulative, got[i-1].Cumulative)
		}
	}
	assert.Equal(t, total, got[len(got)-1].Cumulative)
	assert.Equal(t, float64(50), total)
}

func TestByGroupMultiCityTable(t *testing.T) {
	ds := FilterByRegion(FilterByState(mixedDataset(), "Bavaria"), "Swabia")
	rows := ByGroupMulti(ds, solar.KeyCity,
		Spec{solar.MetricGrossPower, Sum},
		Spec{solar.MetricNetRatedPower, Sum},
		Spec{solar.MetricNumberOfModules, Sum},
		Spec{solar.MetricEfficiency, Mean},
	)
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, "Augsburg", row.Group)
	assert.Equal(t, 2, row.Rows)
	assert.InDelta(t, 0.13, row.Values[0].Value, 1e-12)
	assert.InDelta(t, 0.15, row.Values[1].Value, 1e-12)
	assert.Equal(t, solar.Float(14), row.Values[2])
	assert.InDelta(t, 0.9, row.Values[3].Value, 1e-12)
}

func TestSummarize(t *testing.T) {
	s := Summarize(exampleDataset())
	assert.Equal(t, 3, s.Rows)
	assert.Equal(t, float64(18), s.TotalModules)
	assert.InDelta(t, 0.033, s.TotalGrossPower, 1e-12)
	assert.InDelta(t, 0.02, s.TotalNetRatedPower, 1e-12)
	require.True(t, s.MeanEfficiency.Valid)
	assert.InDelta(t, 1.5, s.MeanEfficiency.Value, 1e-12)
}

func TestValueCountsAndDistinct(t *testing.T) {
	ds := mixedDataset()
	ds[1].FeedInType = "Partial feed-in"
	ds[2].FeedInType = "Partial feed-in"
	ds[3].FeedInType = "Surplus"

	assert.Equal(t, []Count{
		{Value: "Full feed-in", Count: 3},
		{Value: "Partial feed-in", Count: 2},
		{Value: "Surplus", Count: 1},
	}, ValueCounts(ds, solar.KeyFeedInType))

	assert.Equal(t, []string{"Bavaria", "Berlin", "Hesse"}, Distinct(ds, solar.KeyState))
	assert.Equal(t, []string{"Swabia", "Upper Bavaria"}, Distinct(FilterByState(ds, "Bavaria"), solar.KeyAdministrativeRegion))
}

func TestYearRange(t *testing.T) {
	lo, hi, ok := YearRange(mixedDataset())
	require.True(t, ok)
	assert.Equal(t, 2012, lo)
	assert.Equal(t, 2018, hi)
}

func TestParseOp(t *testing.T) {
	op, err := ParseOp("MEAN")
	require.NoError(t, err)
	assert.Equal(t, Mean, op)
	assert.Equal(t, "sum", Sum.String())

	_, err = ParseOp("median")
	assert.Error(t, err)
}
