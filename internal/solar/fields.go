package solar

import (
	"fmt"
	"strings"
)

// Key names a categorical column used to partition records.
type Key int

const (
	KeyState Key = iota
	KeyAdministrativeRegion
	KeyCity
	KeyMainOrientation
	KeyFeedInType
	KeyLocation
)

var keyNames = [...]string{
	KeyState:                "State",
	KeyAdministrativeRegion: "AdministrativeRegion",
	KeyCity:                 "City",
	KeyMainOrientation:      "MainOrientation",
	KeyFeedInType:           "FeedInType",
	KeyLocation:             "Location",
}

// String returns the column name.
func (k Key) String() string {
	if k < 0 || int(k) >= len(keyNames) {
		return fmt.Sprintf("Key(%d)", int(k))
	}
	return keyNames[k]
}

// Value returns the key's value for r.
func (k Key) Value(r *Record) string {
	switch k {
	case KeyState:
		return r.State
	case KeyAdministrativeRegion:
		return r.AdministrativeRegion
	case KeyCity:
		return r.City
	case KeyMainOrientation:
		return r.MainOrientation
	case KeyFeedInType:
		return r.FeedInType
	case KeyLocation:
		return r.Location
	}
	return ""
}

// ParseKey resolves a column name (case-insensitive) to a Key.
func ParseKey(name string) (Key, error) {
	for k, n := range keyNames {
		if strings.EqualFold(n, name) {
			return Key(k), nil
		}
	}
	return 0, fmt.Errorf("unknown group key %q", name)
}

// Metric names a numeric column.
type Metric int

const (
	MetricNumberOfModules Metric = iota
	MetricGrossPower
	MetricNetRatedPower
	MetricAssignedActivePowerInverter
	MetricEfficiency
)

var metricNames = [...]string{
	MetricNumberOfModules:             "NumberOfModules",
	MetricGrossPower:                  "GrossPower",
	MetricNetRatedPower:               "NetRatedPower",
	MetricAssignedActivePowerInverter: "AssignedActivePowerInverter",
	MetricEfficiency:                  "Efficiency",
}

// String returns the column name.
func (m Metric) String() string {
	if m < 0 || int(m) >= len(metricNames) {
		return fmt.Sprintf("Metric(%d)", int(m))
	}
	return metricNames[m]
}

// MarshalText encodes the column name.
func (m Metric) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Value returns the metric's value for r as a float.
func (m Metric) Value(r *Record) NullFloat {
	switch m {
	case MetricNumberOfModules:
		if !r.NumberOfModules.Valid {
			return Missing
		}
		return Float(float64(r.NumberOfModules.Value))
	case MetricGrossPower:
		return r.GrossPower
	case MetricNetRatedPower:
		return r.NetRatedPower
	case MetricAssignedActivePowerInverter:
		return r.AssignedActivePowerInverter
	case MetricEfficiency:
		return r.Efficiency
	}
	return Missing
}

// ParseMetric resolves a column name (case-insensitive) to a Metric.
func ParseMetric(name string) (Metric, error) {
	for m, n := range metricNames {
		if strings.EqualFold(n, name) {
			return Metric(m), nil
		}
	}
	return 0, fmt.Errorf("unknown metric %q", name)
}
