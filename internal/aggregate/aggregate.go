// Package aggregate filters and summarises an in-memory registry dataset.
//
// Every function is pure and returns freshly allocated results. An empty
// input always yields an empty (nil) result, which callers treat as
// "nothing selected" rather than a row of zeros.
//
// Empty categorical labels are treated as missing: they match no filter
// value other than "" and never form a group.
package aggregate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/KI7MT/ki7mt-solar-germany/internal/solar"
)

// =============================================================================
// Filters
// =============================================================================

// Filter returns the records for which keep returns true, in input order.
func Filter(ds solar.Dataset, keep func(r *solar.Record) bool) solar.Dataset {
	var out solar.Dataset
	for i := range ds {
		if keep(&ds[i]) {
			out = append(out, ds[i])
		}
	}
	return out
}

// FilterByYear keeps records commissioned in year. Records with a missing
// year never match.
func FilterByYear(ds solar.Dataset, year int) solar.Dataset {
	return Filter(ds, func(r *solar.Record) bool {
		return r.CommissioningYear.Valid && r.CommissioningYear.Value == int64(year)
	})
}

// FilterByKey keeps records whose key column equals value exactly.
func FilterByKey(ds solar.Dataset, key solar.Key, value string) solar.Dataset {
	return Filter(ds, func(r *solar.Record) bool {
		return key.Value(r) == value
	})
}

// FilterByState keeps records in state.
func FilterByState(ds solar.Dataset, state string) solar.Dataset {
	return FilterByKey(ds, solar.KeyState, state)
}

// FilterByRegion keeps records in an administrative region. Apply after
// FilterByState: region names are not unique across states.
func FilterByRegion(ds solar.Dataset, region string) solar.Dataset {
	return FilterByKey(ds, solar.KeyAdministrativeRegion, region)
}

// FilterByCity keeps records in a city (district). Apply after
// FilterByRegion.
func FilterByCity(ds solar.Dataset, city string) solar.Dataset {
	return FilterByKey(ds, solar.KeyCity, city)
}

// =============================================================================
// Group-by
// =============================================================================

// Op is an aggregation operator.
type Op int

const (
	Sum Op = iota
	Mean
)

func (o Op) String() string {
	switch o {
	case Sum:
		return "sum"
	case Mean:
		return "mean"
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// ParseOp resolves "sum" or "mean".
func ParseOp(s string) (Op, error) {
	switch strings.ToLower(s) {
	case "sum":
		return Sum, nil
	case "mean", "avg":
		return Mean, nil
	}
	return 0, fmt.Errorf("unknown aggregation %q", s)
}

// accumulator sums valid values exactly. A sum over no valid values is 0;
// a mean over no valid values is missing.
type accumulator struct {
	sum   decimal.Decimal
	count int
}

func (a *accumulator) add(v solar.NullFloat) {
	if !v.Valid {
		return
	}
	a.sum = a.sum.Add(decimal.NewFromFloat(v.Value))
	a.count++
}

func (a *accumulator) result(op Op) solar.NullFloat {
	switch op {
	case Mean:
		if a.count == 0 {
			return solar.Missing
		}
		return solar.Float(a.sum.InexactFloat64() / float64(a.count))
	default:
		return solar.Float(a.sum.InexactFloat64())
	}
}

// Spec names one aggregated column of a multi-column group-by.
type Spec struct {
	Metric solar.Metric
	Op     Op
}

func (s Spec) String() string {
	return s.Op.String() + "(" + s.Metric.String() + ")"
}

// GroupValue is one row of ByGroup.
type GroupValue struct {
	Group string
	Value solar.NullFloat
	Rows  int // records in the group, including those with a missing metric
}

// GroupRow is one row of ByGroupMulti; Values follows the order of the specs.
type GroupRow struct {
	Group  string
	Values []solar.NullFloat
	Rows   int
}

// ByGroupMulti groups ds by key and applies every spec per group. Rows are
// ordered by group value ascending.
func ByGroupMulti(ds solar.Dataset, key solar.Key, specs ...Spec) []GroupRow {
	type group struct {
		accs []accumulator
		rows int
	}

	groups := make(map[string]*group)
	for i := range ds {
		r := &ds[i]
		name := key.Value(r)
		if name == "" {
			continue
		}
		g, ok := groups[name]
		if !ok {
			g = &group{accs: make([]accumulator, len(specs))}
			groups[name] = g
		}
		g.rows++
		for j, s := range specs {
			g.accs[j].add(s.Metric.Value(r))
		}
	}
	if len(groups) == 0 {
		return nil
	}

	out := make([]GroupRow, 0, len(groups))
	for name, g := range groups {
		row := GroupRow{Group: name, Values: make([]solar.NullFloat, len(specs)), Rows: g.rows}
		for j, s := range specs {
			row.Values[j] = g.accs[j].result(s.Op)
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Group < out[j].Group })
	return out
}

// ByGroup groups ds by key and aggregates metric with op, one row per
// distinct group value, ordered by group value ascending.
func ByGroup(ds solar.Dataset, key solar.Key, metric solar.Metric, op Op) []GroupValue {
	rows := ByGroupMulti(ds, key, Spec{Metric: metric, Op: op})
	if rows == nil {
		return nil
	}
	out := make([]GroupValue, len(rows))
	for i, r := range rows {
		out[i] = GroupValue{Group: r.Group, Value: r.Values[0], Rows: r.Rows}
	}
	return out
}

// =============================================================================
// Cumulative trend
// =============================================================================

// TrendPoint is one year of a cumulative trend.
type TrendPoint struct {
	Year       int
	Value      float64 // sum of the metric over the year
	Cumulative float64 // running total through Year
}

// CumulativeTrend sums metric per commissioning year and accumulates the
// yearly sums in ascending year order. Years without records are absent,
// not zero-filled. Records with a missing year are excluded.
func CumulativeTrend(ds solar.Dataset, metric solar.Metric) []TrendPoint {
	years := make(map[int64]*accumulator)
	for i := range ds {
		r := &ds[i]
		if !r.CommissioningYear.Valid {
			continue
		}
		acc, ok := years[r.CommissioningYear.Value]
		if !ok {
			acc = &accumulator{}
			years[r.CommissioningYear.Value] = acc
		}
		acc.add(metric.Value(r))
	}
	if len(years) == 0 {
		return nil
	}

	keys := make([]int64, 0, len(years))
	for y := range years {
		keys = append(keys, y)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]TrendPoint, len(keys))
	running := decimal.Decimal{}
	for i, y := range keys {
		acc := years[y]
		running = running.Add(acc.sum)
		out[i] = TrendPoint{
			Year:       int(y),
			Value:      acc.sum.InexactFloat64(),
			Cumulative: running.InexactFloat64(),
		}
	}
	return out
}
