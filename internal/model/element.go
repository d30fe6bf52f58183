package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Element is a local mirror of one upstream OSM record plus local annotations.
// OverpassData is the verbatim upstream JSON and is only ever replaced
// wholesale by the merge pipeline; Tags is the mutable annotation bag.
type Element struct {
	ID           int64
	OverpassData json.RawMessage
	Tags         Tags
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// OsmKey identifies an upstream record by type and upstream id.
type OsmKey struct {
	Type string
	ID   int64
}

func (k OsmKey) String() string {
	return k.Type + ":" + strconv.FormatInt(k.ID, 10)
}

// ParseOsmKey parses a "type:id" pair as used by the legacy API, e.g.
// "node:42".
func ParseOsmKey(s string) (OsmKey, error) {
	typ, id, ok := strings.Cut(s, ":")
	if !ok {
		return OsmKey{}, fmt.Errorf("invalid element id %q", s)
	}
	switch typ {
	case "node", "way", "relation":
	default:
		return OsmKey{}, fmt.Errorf("invalid element id %q", s)
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return OsmKey{}, fmt.Errorf("invalid element id %q", s)
	}
	return OsmKey{Type: typ, ID: n}, nil
}

// OsmKeyOf extracts the upstream identity from a raw overpass record.
func OsmKeyOf(overpassData json.RawMessage) OsmKey {
	return OsmKey{
		Type: gjson.GetBytes(overpassData, "type").String(),
		ID:   gjson.GetBytes(overpassData, "id").Int(),
	}
}

func (e *Element) OsmKey() OsmKey {
	return OsmKeyOf(e.OverpassData)
}

// Deleted reports whether the element is tombstoned.
func (e *Element) Deleted() bool {
	return e.DeletedAt != nil
}

// Coords returns the canonical location: the node's own point, or the
// centroid of the bounding box for ways and relations.
func (e *Element) Coords() (lat, lon float64) {
	if gjson.GetBytes(e.OverpassData, "type").String() == "node" {
		return gjson.GetBytes(e.OverpassData, "lat").Float(),
			gjson.GetBytes(e.OverpassData, "lon").Float()
	}
	b := gjson.GetBytes(e.OverpassData, "bounds")
	lat = (b.Get("minlat").Float() + b.Get("maxlat").Float()) / 2
	lon = (b.Get("minlon").Float() + b.Get("maxlon").Float()) / 2
	return lat, lon
}

// OsmTag returns the upstream tag value for key, or "" when absent.
func (e *Element) OsmTag(key string) string {
	tags := gjson.GetBytes(e.OverpassData, "tags")
	if !tags.Exists() {
		return ""
	}
	return tags.Map()[key].String()
}

// HasOsmTag reports whether the upstream record carries the tag at all.
func (e *Element) HasOsmTag(key string) bool {
	tags := gjson.GetBytes(e.OverpassData, "tags")
	if !tags.Exists() {
		return false
	}
	_, ok := tags.Map()[key]
	return ok
}

// Name returns the merchant name from the upstream record.
func (e *Element) Name() string {
	return e.OsmTag("name")
}

// OsmUserID returns the uid of the upstream account that last touched the
// record, 0 when the snapshot omits it.
func (e *Element) OsmUserID() int64 {
	return gjson.GetBytes(e.OverpassData, "uid").Int()
}

// OsmUserName returns the display name matching OsmUserID, "" when absent.
func (e *Element) OsmUserName() string {
	return gjson.GetBytes(e.OverpassData, "user").String()
}

// OsmURL returns the upstream browse URL for the record.
func (e *Element) OsmURL() string {
	k := e.OsmKey()
	return fmt.Sprintf("https://www.openstreetmap.org/%s/%d", k.Type, k.ID)
}

// verificationTagNames are the upstream tags that can carry a survey date,
// in no particular order; the effective date is the max of all parseable ones.
var verificationTagNames = []string{
	"survey:date",
	"check_date",
	"check_date:currency:XBT",
	"source:date",
}

// VerificationDate returns the latest parseable verification date on the
// upstream record, or nil when no tag holds a valid YYYY-MM-DD value.
func (e *Element) VerificationDate() *time.Time {
	var latest *time.Time
	for _, name := range verificationTagNames {
		v := e.OsmTag(name)
		if v == "" {
			continue
		}
		d, err := ParseDate(v)
		if err != nil {
			continue
		}
		if latest == nil || d.After(*latest) {
			t := d
			latest = &t
		}
	}
	return latest
}
