// Package session holds the filter selection of one dashboard user and the
// views computed from it.
//
// A Session is plain data passed explicitly to every view computation. The
// selection is hierarchical: Year, then State, then AdministrativeRegion,
// then City. A lower level set without its parent selects nothing.
package session

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/KI7MT/ki7mt-solar-germany/internal/aggregate"
	"github.com/KI7MT/ki7mt-solar-germany/internal/solar"
)

// DefaultMinYear and DefaultMaxYear bound the range prepared ahead of time.
const (
	DefaultMinYear = 2000
	DefaultMaxYear = 2024
)

// Session is one user's selection.
type Session struct {
	ID uuid.UUID

	// MinYear and MaxYear name the processed cache the session reads.
	MinYear int
	MaxYear int

	Year   solar.NullInt
	State  string
	Region string
	City   string
	Metric solar.Metric // trend metric
}

// New returns a session over [minYear, maxYear] with the year set to
// maxYear and the trend metric set to NumberOfModules.
func New(minYear, maxYear int) (*Session, error) {
	if minYear > maxYear {
		return nil, fmt.Errorf("invalid year range %d-%d", minYear, maxYear)
	}
	return &Session{
		ID:      uuid.New(),
		MinYear: minYear,
		MaxYear: maxYear,
		Year:    solar.Int(int64(maxYear)),
		Metric:  solar.MetricNumberOfModules,
	}, nil
}

// SelectYear sets the year. The year must lie in the session range.
func (s *Session) SelectYear(year int) error {
	if year < s.MinYear || year > s.MaxYear {
		return fmt.Errorf("year %d outside %d-%d", year, s.MinYear, s.MaxYear)
	}
	s.Year = solar.Int(int64(year))
	return nil
}

// SelectState sets the state and clears the levels below it.
func (s *Session) SelectState(state string) {
	s.State = state
	s.Region = ""
	s.City = ""
}

// SelectRegion sets the administrative region and clears the city.
func (s *Session) SelectRegion(region string) {
	s.Region = region
	s.City = ""
}

func (s *Session) SelectCity(city string) {
	s.City = city
}

// Key identifies the selection for memoization. The session ID is not part
// of it: two users with the same selection share results.
type Key struct {
	MinYear, MaxYear int
	Year             solar.NullInt
	State            string
	Region           string
	City             string
	Metric           solar.Metric
}

func (s *Session) Key() Key {
	return Key{
		MinYear: s.MinYear,
		MaxYear: s.MaxYear,
		Year:    s.Year,
		State:   s.State,
		Region:  s.Region,
		City:    s.City,
		Metric:  s.Metric,
	}
}

// Level is the depth of a selection.
type Level int

const (
	LevelNone Level = iota
	LevelYear
	LevelState
	LevelRegion
	LevelCity
)

func (l Level) String() string {
	switch l {
	case LevelYear:
		return "year"
	case LevelState:
		return "state"
	case LevelRegion:
		return "region"
	case LevelCity:
		return "city"
	}
	return "none"
}

// Depth returns the deepest level whose parents are all selected. A broken
// chain (a region without a state, say) stops at the last complete level
// and reports ok=false.
func (s *Session) Depth() (level Level, ok bool) {
	chain := []bool{s.Year.Valid, s.State != "", s.Region != "", s.City != ""}
	for _, set := range chain {
		if !set {
			break
		}
		level++
	}
	for _, set := range chain[level:] {
		if set {
			return level, false
		}
	}
	return level, true
}

// Scope returns the records at the given level of the selection. Asking for
// a level whose chain is incomplete yields an empty dataset.
func (s *Session) Scope(ds solar.Dataset, level Level) solar.Dataset {
	depth, _ := s.Depth()
	if level > depth {
		return nil
	}
	out := ds
	if level >= LevelYear {
		out = aggregate.FilterByYear(out, int(s.Year.Value))
	}
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

// Choices are the selectable values at each level.
type Choices struct {
	MinYear, MaxYear int
	States           []string
	Regions          []string // empty until a state is selected
	Cities           []string // empty until a region is selected
}

// Choices lists the selector options for the current selection. States come
// from the whole dataset; regions and cities from the selected year.
func (s *Session) Choices(ds solar.Dataset) Choices {
	c := Choices{MinYear: s.MinYear, MaxYear: s.MaxYear}
	if lo, hi, ok := aggregate.YearRange(ds); ok {
		c.MinYear, c.MaxYear = lo, hi
	}
	c.States = aggregate.Distinct(ds, solar.KeyState)

	depth, _ := s.Depth()
	if depth >= LevelState {
		c.Regions = aggregate.Distinct(s.Scope(ds, LevelState), solar.KeyAdministrativeRegion)
	}
	if depth >= LevelRegion {
		c.Cities = aggregate.Distinct(s.Scope(ds, LevelRegion), solar.KeyCity)
	}
	return c
}
