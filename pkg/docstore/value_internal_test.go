package docstore

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseDocument_Shapes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"object", `{"a": 1}`, false},
		{"array", `[1, 2, 3]`, false},
		{"empty object", `{}`, false},
		{"string top level", `"hello"`, true},
		{"number top level", `42`, true},
		{"null top level", `null`, true},
		{"truncated", `{"a": `, true},
		{"trailing data", `{"a": 1} {"b": 2}`, true},
		{"trailing garbage", `{"a": 1}garbage`, true},
		{"trailing partial json", `[1, 2]{"b":`, true},
		{"not json", `hello world`, true},
		{"empty", ``, true},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := parseDocument([]byte(tc.raw))
			if tc.wantErr && err == nil {
				t.Fatalf("parseDocument(%q): want error", tc.raw)
			}

			if !tc.wantErr && err != nil {
				t.Fatalf("parseDocument(%q): %v", tc.raw, err)
			}
		})
	}
}

func TestParseDocument_BadShapeSentinel(t *testing.T) {
	t.Parallel()

	_, err := parseDocument([]byte(`"just a string"`))
	if !errors.Is(err, ErrBadShape) {
		t.Fatalf("err=%v, want ErrBadShape", err)
	}
}

func TestDeepMerge(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		base    any
		partial any
		want    any
	}{
		{
			name:    "flat override",
			base:    map[string]any{"a": 1.0, "b": 2.0},
			partial: map[string]any{"b": 3.0},
			want:    map[string]any{"a": 1.0, "b": 3.0},
		},
		{
			name:    "nested descent",
			base:    map[string]any{"outer": map[string]any{"keep": true, "change": 1.0}},
			partial: map[string]any{"outer": map[string]any{"change": 2.0}},
			want:    map[string]any{"outer": map[string]any{"keep": true, "change": 2.0}},
		},
		{
			name:    "list replaces wholesale",
			base:    map[string]any{"items": []any{1.0, 2.0}},
			partial: map[string]any{"items": []any{3.0}},
			want:    map[string]any{"items": []any{3.0}},
		},
		{
			name:    "map replaces scalar",
			base:    map[string]any{"x": 1.0},
			partial: map[string]any{"x": map[string]any{"nested": true}},
			want:    map[string]any{"x": map[string]any{"nested": true}},
		},
		{
			name:    "non-map base replaced",
			base:    []any{1.0},
			partial: map[string]any{"a": 1.0},
			want:    map[string]any{"a": 1.0},
		},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := deepMerge(tc.base, tc.partial)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("deepMerge mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDeepMerge_DoesNotAliasInputs(t *testing.T) {
	t.Parallel()

	base := map[string]any{"outer": map[string]any{"a": 1.0}}
	partial := map[string]any{"outer": map[string]any{"b": 2.0}}

	merged, ok := deepMerge(base, partial).(map[string]any)
	if !ok {
		t.Fatal("merge result is not a map")
	}

	merged["outer"].(map[string]any)["a"] = 99.0

	if base["outer"].(map[string]any)["a"] != 1.0 {
		t.Fatal("merge aliased the base map")
	}
}

func TestKeyPathHelpers(t *testing.T) {
	t.Parallel()

	doc := map[string]any{}

	setKeyPath(doc, []string{"a", "b", "c"}, 1.0)

	got, ok := getKeyPath(doc, []string{"a", "b", "c"})
	if !ok || got != 1.0 {
		t.Fatalf("get after set: got=%v ok=%v", got, ok)
	}

	// Setting through a scalar replaces it with a map.
	setKeyPath(doc, []string{"a", "b", "c", "d"}, 2.0)

	got, ok = getKeyPath(doc, []string{"a", "b", "c", "d"})
	if !ok || got != 2.0 {
		t.Fatalf("get after set through scalar: got=%v ok=%v", got, ok)
	}

	if removed := deleteKeyPath(doc, []string{"a", "b", "c"}); !removed {
		t.Fatal("delete of present key reported absent")
	}

	if removed := deleteKeyPath(doc, []string{"a", "b", "c"}); removed {
		t.Fatal("delete of absent key reported removed")
	}

	if removed := deleteKeyPath(doc, []string{"no", "such", "path"}); removed {
		t.Fatal("delete through absent path reported removed")
	}
}

func TestSplitKeyPath(t *testing.T) {
	t.Parallel()

	keys, err := splitKeyPath("a.b.c")
	if err != nil {
		t.Fatalf("splitKeyPath: %v", err)
	}

	if diff := cmp.Diff([]string{"a", "b", "c"}, keys); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}

	for _, bad := range []string{"", ".", "a..b", ".a", "a."} {
		_, err := splitKeyPath(bad)
		if err == nil {
			t.Fatalf("splitKeyPath(%q): want error", bad)
		}
	}
}

func TestCapList(t *testing.T) {
	t.Parallel()

	list := []any{1.0, 2.0, 3.0, 4.0, 5.0}

	capped := capList(list, 3)
	if diff := cmp.Diff([]any{3.0, 4.0, 5.0}, capped); diff != "" {
		t.Fatalf("capList mismatch (-want +got):\n%s", diff)
	}

	if got := capList(list, 0); len(got) != 5 {
		t.Fatalf("capList with no cap dropped entries: %d", len(got))
	}

	if got := capList(list, 10); len(got) != 5 {
		t.Fatalf("capList beyond length changed list: %d", len(got))
	}
}
