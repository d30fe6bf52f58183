package ui

import (
	"strings"
	"testing"
)

func TestRenderPlain(t *testing.T) {
	out := renderPlain(
		[]string{"ID", "NAME"},
		[][]string{{"1", "Thailand"}, {"2", "El Salvador"}},
	)
	want := "ID\tNAME\n1\tThailand\n2\tEl Salvador"
	if out != want {
		t.Errorf("renderPlain = %q, want %q", out, want)
	}
}

func TestRenderTableFallsBackOffTTY(t *testing.T) {
	// Test binaries never run with a TTY on stdout, so the plain path
	// is what RenderTable produces here.
	out := RenderTable([]string{"KEY", "VALUE"}, [][]string{{"a", "1"}})
	if strings.Contains(out, "│") {
		t.Errorf("expected plain output without borders, got %q", out)
	}
	if !strings.Contains(out, "KEY\tVALUE") {
		t.Errorf("missing header line in %q", out)
	}
}
