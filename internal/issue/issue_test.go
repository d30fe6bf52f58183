package issue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/untoldecay/btcmap/internal/model"
)

var testNow = time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

func element(t *testing.T, osmTags map[string]string, localTags model.Tags) *model.Element {
	t.Helper()
	doc := map[string]any{"type": "node", "id": int64(1), "lat": 13.7, "lon": 100.5}
	if len(osmTags) > 0 {
		doc["tags"] = osmTags
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("failed to build element: %v", err)
	}
	if localTags == nil {
		localTags = model.Tags{}
	}
	return &model.Element{ID: 1, OverpassData: raw, Tags: localTags}
}

func daysAgo(n int) string {
	return testNow.AddDate(0, 0, -n).Format(model.DateLayout)
}

func codes(found []Issue) []string {
	out := make([]string, len(found))
	for i, f := range found {
		out[i] = f.Code
	}
	return out
}

func TestIssues(t *testing.T) {
	goodIcon := model.Tags{"icon:android": "local_cafe"}

	tests := []struct {
		name  string
		osm   map[string]string
		local model.Tags
		want  []string
	}{
		{
			name:  "clean element",
			osm:   map[string]string{"check_date": daysAgo(10)},
			local: goodIcon,
			want:  nil,
		},
		{
			name:  "unparseable survey date",
			osm:   map[string]string{"survey:date": "May 2024", "check_date": daysAgo(10)},
			local: goodIcon,
			want:  []string{CodeDateFormat},
		},
		{
			name:  "misspelled lightning tag",
			osm:   map[string]string{"check_date": daysAgo(10), "payment:lighting": "yes"},
			local: goodIcon,
			want:  []string{CodeMisspelledTag},
		},
		{
			name:  "missing icon",
			osm:   map[string]string{"check_date": daysAgo(10)},
			local: model.Tags{},
			want:  []string{CodeMissingIcon},
		},
		{
			name:  "placeholder icon",
			osm:   map[string]string{"check_date": daysAgo(10)},
			local: model.Tags{"icon:android": "question_mark"},
			want:  []string{CodeMissingIcon},
		},
		{
			name:  "never verified",
			osm:   map[string]string{"name": "Shop"},
			local: goodIcon,
			want:  []string{CodeNotVerified},
		},
		{
			name:  "verification long expired",
			osm:   map[string]string{"check_date": daysAgo(400)},
			local: goodIcon,
			want:  []string{CodeOutOfDate},
		},
		{
			name:  "verification expiring soon",
			osm:   map[string]string{"check_date": daysAgo(300)},
			local: goodIcon,
			want:  []string{CodeOutOfDateSoon},
		},
		{
			name:  "verification at the edge of soon",
			osm:   map[string]string{"check_date": daysAgo(274)},
			local: goodIcon,
			want:  nil,
		},
		{
			name:  "source date does not need the format",
			osm:   map[string]string{"source:date": "circa 2020", "check_date": daysAgo(10)},
			local: goodIcon,
			want:  nil,
		},
		{
			name:  "everything wrong at once",
			osm:   map[string]string{"check_date": "yesterday", "payment:lighting": "yes"},
			local: model.Tags{},
			want:  []string{CodeDateFormat, CodeMisspelledTag, CodeMissingIcon, CodeNotVerified},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Issues(element(t, tt.osm, tt.local), testNow)
			gotCodes := codes(got)
			if len(gotCodes) != len(tt.want) {
				t.Fatalf("codes = %v, want %v", gotCodes, tt.want)
			}
			for i := range tt.want {
				if gotCodes[i] != tt.want[i] {
					t.Errorf("codes = %v, want %v", gotCodes, tt.want)
					break
				}
			}
			for _, f := range got {
				if f.Severity != Severity[f.Code] {
					t.Errorf("severity of %s = %d", f.Code, f.Severity)
				}
			}
		})
	}
}

// The max of all verification tags decides staleness, so one fresh tag
// outweighs an old one.
func TestIssuesUsesLatestVerification(t *testing.T) {
	e := element(t, map[string]string{
		"survey:date": daysAgo(700),
		"check_date":  daysAgo(5),
	}, model.Tags{"icon:android": "local_cafe"})

	if got := codes(Issues(e, testNow)); len(got) != 0 {
		t.Errorf("codes = %v, want none", got)
	}
}
