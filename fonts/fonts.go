// Package fonts provides the fonts used to render typed signatures, initials,
// dates and text placements.
//
// Text is always encoded with WinAnsiEncoding, so widths are kept for the
// Windows-1252 repertoire only.
package fonts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/image/font"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/encoding/charmap"
)

// StandardType represents standard PDF fonts that are available in all PDF readers
// without embedding.
type StandardType int

const (
	// Helvetica is the standard sans-serif font.
	Helvetica StandardType = iota
	// HelveticaBold is bold Helvetica.
	HelveticaBold
	// HelveticaOblique is italic/oblique Helvetica.
	HelveticaOblique
	// TimesRoman is the standard serif font.
	TimesRoman
	// TimesBold is bold Times Roman.
	TimesBold
	// Courier is the standard monospace font.
	Courier
	// CourierBold is bold Courier.
	CourierBold
)

var standardNames = map[StandardType]string{
	Helvetica:        "Helvetica",
	HelveticaBold:    "Helvetica-Bold",
	HelveticaOblique: "Helvetica-Oblique",
	TimesRoman:       "Times-Roman",
	TimesBold:        "Times-Bold",
	Courier:          "Courier",
	CourierBold:      "Courier-Bold",
}

// Font represents a font resource that can be used in PDF appearances.
type Font struct {
	Name     string   // PostScript name of the font
	Data     []byte   // TrueType font data (nil for standard fonts)
	Hash     string   // SHA256 hash of font data for deduplication
	Embedded bool     // Whether the font should be embedded in the PDF
	Metrics  *Metrics // Parsed metrics for accurate text measurement
}

// Key identifies the font for deduplication within one document.
func (f *Font) Key() string {
	if f.Hash != "" {
		return f.Hash
	}
	return "std:" + f.Name
}

// Standard returns a Font for a standard PDF font (no embedding required).
// Helvetica and its oblique variant carry metrics; the others are measured
// with an approximation.
func Standard(ft StandardType) *Font {
	f := &Font{Name: standardNames[ft]}
	if ft == Helvetica || ft == HelveticaOblique {
		f.Metrics = helveticaMetrics
	}
	return f
}

// ByName returns the standard font with the given PostScript name.
func ByName(name string) (*Font, error) {
	for ft, n := range standardNames {
		if n == name {
			return Standard(ft), nil
		}
	}
	return nil, fmt.Errorf("unknown standard font %q", name)
}

// Load parses a TrueType font to be embedded.
func Load(data []byte) (*Font, error) {
	f, err := sfnt.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	var buf sfnt.Buffer
	name, err := f.Name(&buf, sfnt.NameIDPostScript)
	if err != nil || name == "" {
		return nil, fmt.Errorf("font has no PostScript name")
	}
	m, err := metricsOf(f)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	return &Font{
		Name:     name,
		Data:     data,
		Hash:     hex.EncodeToString(sum[:]),
		Embedded: true,
		Metrics:  m,
	}, nil
}

// Metrics contains parsed font metrics for accurate text measurement.
type Metrics struct {
	UnitsPerEm  int
	GlyphWidths map[rune]int // Advance widths in font units
}

// ParseTTFMetrics parses a TrueType font file and extracts glyph metrics.
func ParseTTFMetrics(data []byte) (*Metrics, error) {
	f, err := sfnt.Parse(data)
	if err != nil {
		return nil, err
	}
	return metricsOf(f)
}

func metricsOf(f *sfnt.Font) (*Metrics, error) {
	unitsPerEm := f.UnitsPerEm()
	glyphWidths := make(map[rune]int)
	var buf sfnt.Buffer

	// Use unitsPerEm as the ppem so advances come back in font units.
	ppem := fixed.Int26_6(unitsPerEm) << 6

	for code := 32; code <= 255; code++ {
		r := winAnsiRune(byte(code))
		idx, err := f.GlyphIndex(&buf, r)
		if err != nil || idx == 0 {
			continue
		}
		advance, err := f.GlyphAdvance(&buf, idx, ppem, font.HintingNone)
		if err != nil {
			continue
		}
		glyphWidths[r] = int(advance >> 6)
	}

	return &Metrics{
		UnitsPerEm:  int(unitsPerEm),
		GlyphWidths: glyphWidths,
	}, nil
}

// GetStringWidth calculates the width of a string in points at the given font size.
func (m *Metrics) GetStringWidth(text string, fontSize float64) float64 {
	if m == nil || m.UnitsPerEm == 0 {
		return float64(len([]rune(text))) * fontSize * 0.5
	}

	var totalWidth int
	for _, r := range text {
		totalWidth += m.GetGlyphWidth(r)
	}
	return (float64(totalWidth) / float64(m.UnitsPerEm)) * fontSize
}

// GetGlyphWidth returns the width of a single rune in font units.
func (m *Metrics) GetGlyphWidth(r rune) int {
	if m == nil {
		return 0
	}
	if width, ok := m.GlyphWidths[r]; ok {
		return width
	}
	return m.UnitsPerEm / 2
}

// GetWidthsArray returns the /Widths array for FirstChar 32 to LastChar 255
// under WinAnsiEncoding, scaled to 1000 units per em.
func (m *Metrics) GetWidthsArray() []int {
	widths := make([]int, 256-32)
	if m == nil || m.UnitsPerEm <= 0 {
		for i := range widths {
			widths[i] = 500
		}
		return widths
	}

	scale := 1000.0 / float64(m.UnitsPerEm)
	for code := 32; code < 256; code++ {
		widths[code-32] = int(float64(m.GetGlyphWidth(winAnsiRune(byte(code)))) * scale)
	}
	return widths
}

func winAnsiRune(b byte) rune {
	return charmap.Windows1252.DecodeByte(b)
}
