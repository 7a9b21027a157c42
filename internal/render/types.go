package render

import (
	"github.com/digitorus/signflow/fonts"
	"github.com/digitorus/signflow/images"
)

// Color represents an RGB color.
type Color struct {
	R, G, B uint8
}

// Black is the default ink.
var Black = Color{}

func (c Color) pdf() (float64, float64, float64) {
	return float64(c.R) / 255.0, float64(c.G) / 255.0, float64(c.B) / 255.0
}

// Appearance is the content of one placement, drawn in a Width by Height
// box with the origin at the lower-left corner.
type Appearance struct {
	Width, Height float64
	Elements      []Element
	BGColor       *Color
	BorderWidth   float64
	BorderColor   *Color
}

// Element is an interface for visual elements in an appearance.
type Element interface {
	IsElement()
}

// ImageElement draws a raster image. With Fit set the image keeps its aspect
// ratio and is centred in the box.
type ImageElement struct {
	Image               *images.Image
	X, Y, Width, Height float64
	Fit                 bool
}

func (ImageElement) IsElement() {}

// TextElement draws a single line of text.
type TextElement struct {
	Content  string
	Font     *fonts.Font
	Size     float64
	X, Y     float64
	Color    Color
	Center   bool
	AutoSize bool
}

func (TextElement) IsElement() {}

// LineElement draws a straight line.
type LineElement struct {
	X1, Y1, X2, Y2 float64
	StrokeColor    Color
	StrokeWidth    float64
}

func (LineElement) IsElement() {}
