package model

import (
	"reflect"
	"testing"
)

func TestMergePatch(t *testing.T) {
	tests := []struct {
		name  string
		tags  Tags
		patch Tags
		want  Tags
	}{
		{
			name:  "add key",
			tags:  Tags{},
			patch: Tags{"category": "cafe"},
			want:  Tags{"category": "cafe"},
		},
		{
			name:  "replace scalar",
			tags:  Tags{"category": "cafe"},
			patch: Tags{"category": "bar"},
			want:  Tags{"category": "bar"},
		},
		{
			name:  "null removes",
			tags:  Tags{"category": "cafe", "icon:android": "local_cafe"},
			patch: Tags{"category": nil},
			want:  Tags{"icon:android": "local_cafe"},
		},
		{
			name:  "null for absent key is a no-op",
			tags:  Tags{"a": "b"},
			patch: Tags{"missing": nil},
			want:  Tags{"a": "b"},
		},
		{
			name:  "objects merge recursively",
			tags:  Tags{"payment": map[string]any{"onchain": "yes"}},
			patch: Tags{"payment": map[string]any{"lightning": "yes"}},
			want:  Tags{"payment": map[string]any{"onchain": "yes", "lightning": "yes"}},
		},
		{
			name:  "nested null removes",
			tags:  Tags{"payment": map[string]any{"onchain": "yes", "lightning": "no"}},
			patch: Tags{"payment": map[string]any{"lightning": nil}},
			want:  Tags{"payment": map[string]any{"onchain": "yes"}},
		},
		{
			name:  "arrays replace atomically",
			tags:  Tags{"areas": []any{1.0, 2.0}},
			patch: Tags{"areas": []any{3.0}},
			want:  Tags{"areas": []any{3.0}},
		},
		{
			name:  "object replaces scalar",
			tags:  Tags{"contact": "a@b.c"},
			patch: Tags{"contact": map[string]any{"email": "a@b.c", "gone": nil}},
			want:  Tags{"contact": map[string]any{"email": "a@b.c"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergePatch(tt.tags, tt.patch)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MergePatch() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMergePatchIdempotent(t *testing.T) {
	tags := Tags{"category": "cafe", "boost:expires": "2026-01-01T00:00:00Z"}
	patch := Tags{"category": "bar", "comments": float64(3), "boost:expires": nil}

	once := MergePatch(tags, patch)
	twice := MergePatch(once, patch)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("applying the same patch twice diverged: %v vs %v", once, twice)
	}
}

func TestMergePatchDoesNotMutateInput(t *testing.T) {
	tags := Tags{"category": "cafe"}
	_ = MergePatch(tags, Tags{"category": nil, "new": "x"})
	if !reflect.DeepEqual(tags, Tags{"category": "cafe"}) {
		t.Errorf("input tags mutated: %v", tags)
	}
}

func TestTagsEncodeCanonical(t *testing.T) {
	a := Tags{"b": "2", "a": "1", "c": map[string]any{"y": "2", "x": "1"}}
	b := Tags{"c": map[string]any{"x": "1", "y": "2"}, "a": "1", "b": "2"}

	rawA, err := a.Encode()
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	rawB, err := b.Encode()
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	if string(rawA) != string(rawB) {
		t.Errorf("equal tag bags encoded differently: %s vs %s", rawA, rawB)
	}

	var nilTags Tags
	raw, err := nilTags.Encode()
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	if string(raw) != "{}" {
		t.Errorf("nil tags encoded to %s, want {}", raw)
	}
}

func TestDecodeTags(t *testing.T) {
	got, err := DecodeTags([]byte(`{"category":"cafe","comments":2}`))
	if err != nil {
		t.Fatalf("DecodeTags failed: %v", err)
	}
	if got.GetString("category") != "cafe" {
		t.Errorf("GetString(category) = %q, want cafe", got.GetString("category"))
	}
	if got.GetInt64("comments") != 2 {
		t.Errorf("GetInt64(comments) = %d, want 2", got.GetInt64("comments"))
	}

	empty, err := DecodeTags(nil)
	if err != nil {
		t.Fatalf("DecodeTags(nil) failed: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("DecodeTags(nil) = %v, want empty map", empty)
	}
}
