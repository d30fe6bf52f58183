// Package geo maintains area membership: which live elements fall inside
// which area boundaries, mirrored both as area_element rows and as the
// areas reverse-index tag on each element.
package geo

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/tidwall/gjson"

	"github.com/untoldecay/btcmap/internal/model"
)

// AreaGeometries parses the area's geo_json tag into individual geometries.
// The tag may hold a FeatureCollection, a single Feature, a bare geometry,
// or any of those embedded as a JSON string. A missing tag yields nil.
func AreaGeometries(a *model.Area) ([]orb.Geometry, error) {
	v, ok := a.Tags["geo_json"]
	if !ok {
		return nil, nil
	}
	var raw []byte
	switch v := v.(type) {
	case string:
		raw = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode geo_json tag: %w", err)
		}
		raw = b
	}
	geoms, err := parseGeometries(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse geo_json of area %d: %w", a.ID, err)
	}
	return geoms, nil
}

func parseGeometries(raw []byte) ([]orb.Geometry, error) {
	switch gjson.GetBytes(raw, "type").String() {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(raw)
		if err != nil {
			return nil, err
		}
		var out []orb.Geometry
		for _, f := range fc.Features {
			if f.Geometry != nil {
				out = append(out, f.Geometry)
			}
		}
		return out, nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(raw)
		if err != nil {
			return nil, err
		}
		if f.Geometry == nil {
			return nil, nil
		}
		return []orb.Geometry{f.Geometry}, nil
	default:
		g, err := geojson.UnmarshalGeometry(raw)
		if err != nil {
			return nil, err
		}
		return []orb.Geometry{g.Geometry()}, nil
	}
}

// Contains reports whether the point lies inside the geometry. Community
// boundaries drawn as unclosed LineStrings are closed into a ring first.
// Geometry kinds with no interior (points) never contain anything.
func Contains(g orb.Geometry, p orb.Point) bool {
	switch g := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, p)
	case orb.LineString:
		ring := make(orb.Ring, len(g), len(g)+1)
		copy(ring, g)
		if len(ring) > 2 && ring[0] != ring[len(ring)-1] {
			ring = append(ring, ring[0])
		}
		return planar.PolygonContains(orb.Polygon{ring}, p)
	case orb.Collection:
		for _, sub := range g {
			if Contains(sub, p) {
				return true
			}
		}
	}
	return false
}
