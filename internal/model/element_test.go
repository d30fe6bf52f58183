package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseOsmKey(t *testing.T) {
	tests := []struct {
		in      string
		want    OsmKey
		wantErr bool
	}{
		{in: "node:42", want: OsmKey{Type: "node", ID: 42}},
		{in: "way:1234567", want: OsmKey{Type: "way", ID: 1234567}},
		{in: "relation:7", want: OsmKey{Type: "relation", ID: 7}},
		{in: "42", wantErr: true},
		{in: "node:", wantErr: true},
		{in: "node:abc", wantErr: true},
		{in: "area:5", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseOsmKey(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseOsmKey(%q) succeeded, want error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseOsmKey(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseOsmKey(%q) = %v, want %v", tt.in, got, tt.want)
		}
		if got.String() != tt.in {
			t.Errorf("OsmKey.String() = %q, want %q", got.String(), tt.in)
		}
	}
}

func TestElementCoords(t *testing.T) {
	node := &Element{OverpassData: json.RawMessage(
		`{"type":"node","id":1,"lat":13.75,"lon":100.5}`)}
	lat, lon := node.Coords()
	if lat != 13.75 || lon != 100.5 {
		t.Errorf("node Coords() = (%v, %v)", lat, lon)
	}

	way := &Element{OverpassData: json.RawMessage(
		`{"type":"way","id":2,"bounds":{"minlat":10,"minlon":20,"maxlat":12,"maxlon":26}}`)}
	lat, lon = way.Coords()
	if lat != 11 || lon != 23 {
		t.Errorf("way Coords() = (%v, %v), want (11, 23)", lat, lon)
	}
}

func TestElementOsmTag(t *testing.T) {
	e := &Element{OverpassData: json.RawMessage(
		`{"type":"node","id":1,"tags":{"name":"Satoshi Cafe","check_date:currency:XBT":"2025-01-15"}}`)}

	if got := e.Name(); got != "Satoshi Cafe" {
		t.Errorf("Name() = %q", got)
	}
	if got := e.OsmTag("check_date:currency:XBT"); got != "2025-01-15" {
		t.Errorf("OsmTag(check_date:currency:XBT) = %q", got)
	}
	if got := e.OsmTag("missing"); got != "" {
		t.Errorf("OsmTag(missing) = %q, want empty", got)
	}
	if !e.HasOsmTag("name") || e.HasOsmTag("missing") {
		t.Error("HasOsmTag answered wrong")
	}

	bare := &Element{OverpassData: json.RawMessage(`{"type":"node","id":2}`)}
	if bare.OsmTag("name") != "" || bare.HasOsmTag("name") {
		t.Error("tagless element reported tags")
	}
}

func TestElementVerificationDate(t *testing.T) {
	tests := []struct {
		name string
		tags string
		want string // "" means nil
	}{
		{name: "none", tags: `{}`, want: ""},
		{name: "single", tags: `{"check_date":"2025-02-03"}`, want: "2025-02-03"},
		{
			name: "max wins",
			tags: `{"survey:date":"2024-01-01","check_date":"2025-06-07","source:date":"2023-12-31"}`,
			want: "2025-06-07",
		},
		{
			name: "unparseable ignored",
			tags: `{"check_date":"06/07/2025","survey:date":"2024-05-05"}`,
			want: "2024-05-05",
		},
		{name: "all unparseable", tags: `{"check_date":"soon"}`, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Element{OverpassData: json.RawMessage(
				`{"type":"node","id":1,"tags":` + tt.tags + `}`)}
			got := e.VerificationDate()
			if tt.want == "" {
				if got != nil {
					t.Errorf("VerificationDate() = %v, want nil", got)
				}
				return
			}
			want, _ := time.Parse(DateLayout, tt.want)
			if got == nil || !got.Equal(want) {
				t.Errorf("VerificationDate() = %v, want %v", got, want)
			}
		})
	}
}

func TestTokenAllows(t *testing.T) {
	tok := &AccessToken{AllowedMethods: []string{"get_element", "set_element_tag"}}
	if !tok.Allows("set_element_tag") {
		t.Error("explicit method denied")
	}
	if tok.Allows("add_admin") {
		t.Error("unlisted method allowed")
	}
	root := &AccessToken{AllowedMethods: []string{"all"}}
	if !root.Allows("add_admin") {
		t.Error("wildcard did not grant")
	}
}

func TestBanActiveAt(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 7)
	b := &Ban{IP: "10.0.0.1", StartAt: start, EndAt: end}

	if b.ActiveAt(start.Add(-time.Second)) {
		t.Error("active before start")
	}
	if !b.ActiveAt(start) {
		t.Error("inactive at start (interval is closed on the left)")
	}
	if !b.ActiveAt(end.Add(-time.Second)) {
		t.Error("inactive just before end")
	}
	if b.ActiveAt(end) {
		t.Error("active at end (interval is open on the right)")
	}
}
