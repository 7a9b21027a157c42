package fonts

import (
	"math"
	"testing"

	"golang.org/x/image/font/gofont/goregular"
)

func TestStandardHelveticaWidth(t *testing.T) {
	f := Standard(Helvetica)
	if f.Name != "Helvetica" || f.Embedded {
		t.Fatalf("Standard(Helvetica) = %+v", f)
	}
	got := f.Metrics.GetStringWidth("Hello", 10)
	if math.Abs(got-22.78) > 0.001 {
		t.Errorf("GetStringWidth(Hello, 10) = %v, want 22.78", got)
	}
}

func TestApproximateWidth(t *testing.T) {
	var m *Metrics
	if got := m.GetStringWidth("äbc", 10); got != 15 {
		t.Errorf("fallback width = %v, want 15", got)
	}
	if w := m.GetWidthsArray(); len(w) != 224 || w[0] != 500 {
		t.Errorf("fallback widths = %d entries, first %d", len(w), w[0])
	}
}

func TestByName(t *testing.T) {
	f, err := ByName("Courier-Bold")
	if err != nil || f.Name != "Courier-Bold" {
		t.Errorf("ByName(Courier-Bold) = %v, %v", f, err)
	}
	if _, err := ByName("Comic Sans"); err == nil {
		t.Error("expected error for unknown font")
	}
}

func TestLoadTrueType(t *testing.T) {
	f, err := Load(goregular.TTF)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if f.Name == "" || !f.Embedded || len(f.Hash) != 64 {
		t.Errorf("Load() = name %q embedded %v hash %q", f.Name, f.Embedded, f.Hash)
	}
	if f.Key() != f.Hash {
		t.Errorf("Key() = %q", f.Key())
	}
	widths := f.Metrics.GetWidthsArray()
	if widths['A'-32] <= widths['i'-32] {
		t.Errorf("width of A (%d) should exceed width of i (%d)", widths['A'-32], widths['i'-32])
	}
	if widths[0x80-32] == 0 {
		t.Error("euro sign has no width")
	}

	if _, err := Load([]byte("not a font")); err == nil {
		t.Error("expected error for invalid font data")
	}
}
