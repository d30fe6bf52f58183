package model

import "time"

// EarthAlias marks the sentinel whole-planet area. It is excluded from
// spatial mapping and always included in report generation.
const EarthAlias = "earth"

// Area is a named region with a GeoJSON boundary stored in its tag bag.
// Well-known tags: name, url_alias, type (country|community), geo_json.
type Area struct {
	ID        int64
	Tags      Tags
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

func (a *Area) Deleted() bool {
	return a.DeletedAt != nil
}

// Alias returns the url_alias tag, the secondary key among live areas.
func (a *Area) Alias() string {
	return a.Tags.GetString("url_alias")
}

// Name returns the human-readable area name.
func (a *Area) Name() string {
	return a.Tags.GetString("name")
}

// AreaElement records that an element's point lies inside an area's
// boundary. At most one live row exists per (area, element) pair.
type AreaElement struct {
	ID        int64
	AreaID    int64
	ElementID int64
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

func (ae *AreaElement) Deleted() bool {
	return ae.DeletedAt != nil
}
