package aggregate

import (
	"sort"

	"github.com/KI7MT/ki7mt-solar-germany/internal/solar"
)

// Summary holds the headline metrics of a scope (country, state, region or
// city).
type Summary struct {
	Rows               int
	TotalModules       float64
	TotalGrossPower    float64 // MW
	TotalNetRatedPower float64 // MW
	MeanEfficiency     solar.NullFloat
}

// Summarize computes the headline metrics of ds. An empty dataset yields the
// zero Summary with a missing mean efficiency.
func Summarize(ds solar.Dataset) Summary {
	var modules, gross, net, eff accumulator
	for i := range ds {
		r := &ds[i]
		modules.add(solar.MetricNumberOfModules.Value(r))
		gross.add(r.GrossPower)
		net.add(r.NetRatedPower)
		eff.add(r.Efficiency)
	}
	return Summary{
		Rows:               len(ds),
		TotalModules:       modules.result(Sum).Or(0),
		TotalGrossPower:    gross.result(Sum).Or(0),
		TotalNetRatedPower: net.result(Sum).Or(0),
		MeanEfficiency:     eff.result(Mean),
	}
}

// Count is one row of ValueCounts.
type Count struct {
	Value string
	Count int
}

// ValueCounts counts records per distinct key value, most frequent first;
// ties are ordered by value.
func ValueCounts(ds solar.Dataset, key solar.Key) []Count {
	counts := make(map[string]int)
	for i := range ds {
		if v := key.Value(&ds[i]); v != "" {
			counts[v]++
		}
	}
	if len(counts) == 0 {
		return nil
	}

	out := make([]Count, 0, len(counts))
	for v, n := range counts {
		out = append(out, Count{Value: v, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// Distinct returns the sorted distinct non-empty values of key.
func Distinct(ds solar.Dataset, key solar.Key) []string {
	seen := make(map[string]struct{})
	for i := range ds {
		if v := key.Value(&ds[i]); v != "" {
			seen[v] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}

	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// YearRange returns the smallest and largest commissioning year in ds. ok is
// false when no record has a year.
func YearRange(ds solar.Dataset) (minYear, maxYear int, ok bool) {
	for i := range ds {
		y := ds[i].CommissioningYear
		if !y.Valid {
			continue
		}
		if !ok {
			minYear, maxYear, ok = int(y.Value), int(y.Value), true
			continue
		}
		minYear = min(minYear, int(y.Value))
		maxYear = max(maxYear, int(y.Value))
	}
	return minYear, maxYear, ok
}
