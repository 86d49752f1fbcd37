// Package solar provides the registry record model for German solar
// installations (MaStR export) and the codecs used to move it between the
// warehouse, local CSV caches and Parquet snapshots.
package solar

import (
	"math"
	"strconv"
	"strings"
)

// SchemaVersion is the current record schema version.
const SchemaVersion = 1

// Columns is the fixed column order shared by the warehouse SELECT list and
// the CSV caches. Efficiency is requested from upstream but always
// recomputed locally.
var Columns = []string{
	"State",
	"AdministrativeRegion",
	"City",
	"GrossPower",
	"MainOrientation",
	"NetRatedPower",
	"FeedInType",
	"AssignedActivePowerInverter",
	"NumberOfModules",
	"Location",
	"CommissioningYear",
	"Efficiency",
}

// Column indices into Columns.
const (
	ColState = iota
	ColAdministrativeRegion
	ColCity
	ColGrossPower
	ColMainOrientation
	ColNetRatedPower
	ColFeedInType
	ColAssignedActivePowerInverter
	ColNumberOfModules
	ColLocation
	ColCommissioningYear
	ColEfficiency

	NumColumns
)

// Record is one registered solar installation.
type Record struct {
	State                       string
	AdministrativeRegion        string
	City                        string
	GrossPower                  NullFloat // MW
	MainOrientation             string
	NetRatedPower               NullFloat // MW
	FeedInType                  string
	AssignedActivePowerInverter NullFloat // kW
	NumberOfModules             NullInt
	Location                    string
	CommissioningYear           NullInt
	Efficiency                  NullFloat
}

// ComputeEfficiency sets Efficiency to GrossPower / NetRatedPower.
// A missing operand or a zero denominator yields a missing value.
func (r *Record) ComputeEfficiency() {
	r.Efficiency = Divide(r.GrossPower, r.NetRatedPower)
}

// Divide returns a / b, or Missing when either side is missing, b is zero,
// or the quotient is not finite.
func Divide(a, b NullFloat) NullFloat {
	if !a.Valid || !b.Valid || b.Value == 0 {
		return Missing
	}
	return Float(a.Value / b.Value)
}

// =============================================================================
// Missing-aware numeric types
// =============================================================================

// NullFloat is a float64 that may be missing. NaN and ±Inf are never stored
// as valid values.
type NullFloat struct {
	Value float64
	Valid bool
}

// Missing is the missing float marker.
var Missing = NullFloat{}

// Float wraps v, mapping non-finite values to Missing.
func Float(v float64) NullFloat {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Missing
	}
	return NullFloat{Value: v, Valid: true}
}

// Or returns the value, or def when missing.
func (f NullFloat) Or(def float64) float64 {
	if !f.Valid {
		return def
	}
	return f.Value
}

// Float64 returns the value, or NaN when missing.
func (f NullFloat) Float64() float64 {
	return f.Or(math.NaN())
}

// String formats the value for CSV output. Missing is the empty string.
func (f NullFloat) String() string {
	if !f.Valid {
		return ""
	}
	return strconv.FormatFloat(f.Value, 'f', -1, 64)
}

// MarshalJSON encodes missing as null.
func (f NullFloat) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, f.Value, 'g', -1, 64), nil
}

// ParseNullFloat parses s permissively. Empty, non-numeric and non-finite
// input yields Missing.
func ParseNullFloat(s string) NullFloat {
	s = strings.TrimSpace(s)
	if s == "" {
		return Missing
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Missing
	}
	return Float(v)
}

// NullInt is an int64 that may be missing.
type NullInt struct {
	Value int64
	Valid bool
}

// MissingInt is the missing integer marker.
var MissingInt = NullInt{}

// Int wraps v.
func Int(v int64) NullInt {
	return NullInt{Value: v, Valid: true}
}

// Or returns the value, or def when missing.
func (n NullInt) Or(def int64) int64 {
	if !n.Valid {
		return def
	}
	return n.Value
}

// String formats the value for CSV output. Missing is the empty string.
func (n NullInt) String() string {
	if !n.Valid {
		return ""
	}
	return strconv.FormatInt(n.Value, 10)
}

func (n NullInt) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return strconv.AppendInt(nil, n.Value, 10), nil
}

// ParseNullInt parses s permissively. Integral floats such as "2019.0"
// (written by tools that widen int columns holding gaps) are accepted;
// anything else that is not an integer yields MissingInt.
func ParseNullInt(s string) NullInt {
	s = strings.TrimSpace(s)
	if s == "" {
		return MissingInt
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int(v)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return MissingInt
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return MissingInt
	}
	return Int(int64(f))
}

// =============================================================================
// Dataset
// =============================================================================

// Dataset is an ordered sequence of records.
type Dataset []Record

// Len returns the number of records.
func (d Dataset) Len() int {
	return len(d)
}

// Chunks splits d into consecutive chunks of at most size records, in
// order. The chunks share d's backing array. size < 1 yields a single chunk.
func (d Dataset) Chunks(size int) []Dataset {
	if len(d) == 0 {
		return nil
	}
	if size < 1 || size >= len(d) {
		return []Dataset{d[:len(d):len(d)]}
	}

	chunks := make([]Dataset, 0, (len(d)+size-1)/size)
	for start := 0; start < len(d); start += size {
		end := start + size
		if end > len(d) {
			end = len(d)
		}
		chunks = append(chunks, d[start:end:end])
	}
	return chunks
}

// ComputeEfficiency recomputes Efficiency for every record in place.
func (d Dataset) ComputeEfficiency() {
	for i := range d {
		d[i].ComputeEfficiency()
	}
}

// ChunkFunc receives one chunk of a streamed dataset. Returning an error
// stops the stream.
type ChunkFunc func(chunk Dataset) error
