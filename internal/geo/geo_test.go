package geo

import (
	"testing"

	"github.com/paulmach/orb"

	"github.com/untoldecay/btcmap/internal/model"
)

func square(minLon, minLat, maxLon, maxLat float64) map[string]any {
	return map[string]any{
		"type": "Polygon",
		"coordinates": []any{[]any{
			[]any{minLon, minLat},
			[]any{maxLon, minLat},
			[]any{maxLon, maxLat},
			[]any{minLon, maxLat},
			[]any{minLon, minLat},
		}},
	}
}

func TestAreaGeometries(t *testing.T) {
	tests := []struct {
		name    string
		geoJSON any
		want    int
		wantErr bool
	}{
		{"bare polygon", square(0, 0, 10, 10), 1, false},
		{"feature", map[string]any{"type": "Feature", "properties": map[string]any{}, "geometry": square(0, 0, 10, 10)}, 1, false},
		{"feature collection", map[string]any{
			"type": "FeatureCollection",
			"features": []any{
				map[string]any{"type": "Feature", "properties": map[string]any{}, "geometry": square(0, 0, 10, 10)},
				map[string]any{"type": "Feature", "properties": map[string]any{}, "geometry": square(20, 20, 30, 30)},
			},
		}, 2, false},
		{"string embedded", `{"type":"Polygon","coordinates":[[[0,0],[10,0],[10,10],[0,10],[0,0]]]}`, 1, false},
		{"empty collection", map[string]any{"type": "FeatureCollection", "features": []any{}}, 0, false},
		{"garbage", "not json at all", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &model.Area{ID: 1, Tags: model.Tags{"geo_json": tt.geoJSON}}
			geoms, err := AreaGeometries(a)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("AreaGeometries failed: %v", err)
			}
			if len(geoms) != tt.want {
				t.Errorf("got %d geometries, want %d", len(geoms), tt.want)
			}
		})
	}

	noTag := &model.Area{ID: 2, Tags: model.Tags{}}
	geoms, err := AreaGeometries(noTag)
	if err != nil || geoms != nil {
		t.Errorf("area without geo_json: geoms = %v, err = %v", geoms, err)
	}
}

func TestContains(t *testing.T) {
	poly := orb.Polygon{{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}}
	in := orb.Point{5, 5}
	out := orb.Point{15, 5}

	if !Contains(poly, in) {
		t.Error("point inside polygon reported outside")
	}
	if Contains(poly, out) {
		t.Error("point outside polygon reported inside")
	}

	// Boundaries exported as unclosed line strings still act as rings.
	open := orb.LineString{{0, 0}, {10, 0}, {10, 10}, {0, 10}}
	if !Contains(open, in) {
		t.Error("unclosed ring did not contain inner point")
	}
	if Contains(open, out) {
		t.Error("unclosed ring contained outer point")
	}

	multi := orb.MultiPolygon{
		{{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}},
		{{{20, 20}, {30, 20}, {30, 30}, {20, 30}, {20, 20}}},
	}
	if !Contains(multi, orb.Point{25, 25}) {
		t.Error("second polygon of multipolygon ignored")
	}

	if Contains(orb.Point{5, 5}, in) {
		t.Error("point geometry has no interior")
	}
}
