package objstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-faster/errors"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// NameProperty is the feature property that carries the state name.
const NameProperty = "name"

// StateShapes is a GeoJSON FeatureCollection of state outlines keyed by
// properties.name.
type StateShapes struct {
	fc     *geojson.FeatureCollection
	byName map[string]*geojson.Feature
}

// ParseStates decodes a FeatureCollection. Every feature must carry a
// non-empty, unique name property.
func ParseStates(data []byte) (*StateShapes, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, errors.Wrap(err, "decode geojson")
	}

	s := &StateShapes{fc: fc, byName: make(map[string]*geojson.Feature, len(fc.Features))}
	for i, f := range fc.Features {
		name, _ := f.Properties[NameProperty].(string)
		if name == "" {
			return nil, fmt.Errorf("feature %d has no %q property", i, NameProperty)
		}
		if _, dup := s.byName[name]; dup {
			return nil, fmt.Errorf("duplicate state %q", name)
		}
		s.byName[name] = f
	}
	return s, nil
}

// LoadStates fetches and decodes the states GeoJSON object.
func LoadStates(ctx context.Context, s Store, bucket, object string) (*StateShapes, error) {
	text, err := ReadText(ctx, s, bucket, object)
	if err != nil {
		return nil, err
	}
	return ParseStates([]byte(text))
}

// Names returns the state names in ascending order.
func (s *StateShapes) Names() []string {
	names := make([]string, 0, len(s.byName))
	for n := range s.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of features.
func (s *StateShapes) Len() int {
	return len(s.fc.Features)
}

// Feature returns the feature for a state.
func (s *StateShapes) Feature(name string) (*geojson.Feature, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// Bound returns the bounding box of a state's outline.
func (s *StateShapes) Bound(name string) (orb.Bound, bool) {
	f, ok := s.byName[name]
	if !ok || f.Geometry == nil {
		return orb.Bound{}, false
	}
	return f.Geometry.Bound(), true
}

// Highlight returns a collection holding only the named state, for drawing
// the selected state over the full map. An unknown name yields an empty
// collection.
func (s *StateShapes) Highlight(name string) *geojson.FeatureCollection {
	out := geojson.NewFeatureCollection()
	if f, ok := s.byName[name]; ok {
		out.Append(f)
	}
	return out
}

// Collection returns the underlying FeatureCollection.
func (s *StateShapes) Collection() *geojson.FeatureCollection {
	return s.fc
}
