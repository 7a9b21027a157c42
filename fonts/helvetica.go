package fonts

// Advance widths of Helvetica for printable ASCII, from the standard AFM.
var helveticaASCII = [...]int{
	278, 278, 355, 556, 556, 889, 667, 191, 333, 333, 389, 584, 278, 333, 278, 278, // space to /
	556, 556, 556, 556, 556, 556, 556, 556, 556, 556, 278, 278, 584, 584, 584, 556, // 0 to ?
	1015, 667, 667, 722, 722, 667, 611, 778, 722, 278, 500, 667, 556, 833, 722, 778, // @ to O
	667, 778, 722, 667, 611, 722, 667, 944, 667, 667, 611, 278, 278, 278, 469, 556, // P to _
	333, 556, 556, 500, 556, 556, 278, 556, 556, 222, 222, 500, 222, 833, 556, 556, // ` to o
	556, 556, 333, 500, 278, 556, 500, 722, 500, 500, 500, 334, 260, 334, 584, // p to ~
}

var helveticaMetrics = func() *Metrics {
	m := &Metrics{UnitsPerEm: 1000, GlyphWidths: make(map[rune]int, len(helveticaASCII))}
	for i, w := range helveticaASCII {
		m.GlyphWidths[rune(32+i)] = w
	}
	return m
}()
