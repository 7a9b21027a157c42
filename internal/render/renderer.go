// Package render draws placement appearances as PDF Form XObjects.
package render

import (
	"bytes"
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/digitorus/signflow/fonts"
	"github.com/digitorus/signflow/images"
	"github.com/digitorus/signflow/internal/pdf"
)

// minFontSize is the smallest size AutoSize shrinks text to.
const minFontSize = 4.0

// Renderer writes appearances into a document. Fonts and images are written
// once per document and shared by every appearance that uses them.
type Renderer struct {
	w      *pdf.Writer
	fonts  map[string]uint32
	images map[string]uint32
}

// New returns a Renderer writing to w.
func New(w *pdf.Writer) *Renderer {
	return &Renderer{
		w:      w,
		fonts:  make(map[string]uint32),
		images: make(map[string]uint32),
	}
}

type resource struct {
	name string
	id   uint32
}

// Appearance writes a as a Form XObject and returns its object id.
func (r *Renderer) Appearance(a *Appearance) (uint32, error) {
	var stream bytes.Buffer
	var xobjects, fontRes []resource
	fontNames := make(map[string]string)

	if a.BGColor != nil {
		cr, cg, cb := a.BGColor.pdf()
		fmt.Fprintf(&stream, "q %.2f %.2f %.2f rg 0 0 %.2f %.2f re f Q\n", cr, cg, cb, a.Width, a.Height)
	}

	for _, el := range a.Elements {
		switch e := el.(type) {
		case ImageElement:
			id, err := r.Image(e.Image)
			if err != nil {
				return 0, err
			}
			name := fmt.Sprintf("Im%d", len(xobjects)+1)
			xobjects = append(xobjects, resource{name, id})

			x, y, w, h := e.X, e.Y, e.Width, e.Height
			if e.Fit {
				b := e.Image.Pixels.Bounds()
				var dx, dy float64
				dx, dy, w, h = images.AspectFit(b.Dx(), b.Dy(), e.Width, e.Height)
				x, y = x+dx, y+dy
			}
			fmt.Fprintf(&stream, "q %.2f 0 0 %.2f %.2f %.2f cm /%s Do Q\n", w, h, x, y, name)

		case TextElement:
			font := e.Font
			if font == nil {
				font = fonts.Standard(fonts.Helvetica)
			}
			fontName, ok := fontNames[font.Key()]
			if !ok {
				id, err := r.Font(font)
				if err != nil {
					return 0, err
				}
				fontName = fmt.Sprintf("F%d", len(fontRes)+1)
				fontNames[font.Key()] = fontName
				fontRes = append(fontRes, resource{fontName, id})
			}

			size := e.Size
			if e.AutoSize {
				for size > minFontSize {
					if font.Metrics.GetStringWidth(e.Content, size) < a.Width-4 && size < a.Height-4 {
						break
					}
					size -= 1.0
				}
			}

			x, y := e.X, e.Y
			if e.Center {
				x = max(0, (a.Width-font.Metrics.GetStringWidth(e.Content, size))/2)
				// Place the baseline so the cap height sits in the middle.
				y = max(0, (a.Height-size*0.7)/2)
			}

			cr, cg, cb := e.Color.pdf()
			fmt.Fprintf(&stream, "q BT /%s %.2f Tf %.2f %.2f %.2f rg %.2f %.2f Td %s Tj ET Q\n",
				fontName, size, cr, cg, cb, x, y, pdf.HexString(pdf.WinAnsi(e.Content)))

		case LineElement:
			cr, cg, cb := e.StrokeColor.pdf()
			fmt.Fprintf(&stream, "q %.2f w %.2f %.2f %.2f RG %.2f %.2f m %.2f %.2f l S Q\n",
				e.StrokeWidth, cr, cg, cb, e.X1, e.Y1, e.X2, e.Y2)

		default:
			return 0, fmt.Errorf("unsupported appearance element %T", el)
		}
	}

	if a.BorderWidth > 0 && a.BorderColor != nil {
		cr, cg, cb := a.BorderColor.pdf()
		fmt.Fprintf(&stream, "q %.2f %.2f %.2f RG %.2f w 0 0 %.2f %.2f re S Q\n",
			cr, cg, cb, a.BorderWidth, a.Width, a.Height)
	}

	var res bytes.Buffer
	res.WriteString("<<")
	writeResources(&res, "XObject", xobjects)
	writeResources(&res, "Font", fontRes)
	res.WriteString(" >>")

	entries := fmt.Sprintf("/Type /XObject /Subtype /Form /FormType 1 /BBox [0 0 %.2f %.2f] /Matrix [1 0 0 1 0 0] /Resources %s",
		a.Width, a.Height, res.String())
	return r.w.AddStream(entries, stream.Bytes())
}

func writeResources(buf *bytes.Buffer, kind string, rs []resource) {
	if len(rs) == 0 {
		return
	}
	fmt.Fprintf(buf, " /%s <<", kind)
	for _, r := range rs {
		fmt.Fprintf(buf, " /%s %s", r.name, pdf.Ref(r.id))
	}
	buf.WriteString(" >>")
}

// Image writes img as an image XObject, with a soft mask when it has
// transparency. Unscaled opaque JPEGs are embedded as is.
func (r *Renderer) Image(img *images.Image) (uint32, error) {
	if img == nil || img.Pixels == nil {
		return 0, fmt.Errorf("invalid image data")
	}
	if id, ok := r.images[img.Hash]; ok && img.Hash != "" {
		return id, nil
	}

	src := img.Pixels
	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	rgba := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(rgba, rgba.Bounds(), src, bounds.Min, draw.Src)

	rgb := make([]byte, 0, width*height*3)
	alpha := make([]byte, 0, width*height)
	hasAlpha := false
	for i := 0; i < len(rgba.Pix); i += 4 {
		p := rgba.Pix[i : i+4]
		rgb = append(rgb, p[0], p[1], p[2])
		alpha = append(alpha, p[3])
		if p[3] < 255 {
			hasAlpha = true
		}
	}

	header := fmt.Sprintf("/Type /XObject /Subtype /Image /Width %d /Height %d /BitsPerComponent 8", width, height)

	var id uint32
	var err error
	cs := jpegColorSpace(src)
	switch {
	case img.Format == "jpeg" && !img.Scaled && !hasAlpha && cs != "":
		id, err = r.w.AddRawStream(header+" /ColorSpace "+cs+" /Filter /DCTDecode", img.Data)
	default:
		if hasAlpha {
			var smask uint32
			smask, err = r.w.AddStream(fmt.Sprintf("/Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceGray /BitsPerComponent 8", width, height), alpha)
			if err != nil {
				return 0, err
			}
			header += " /SMask " + pdf.Ref(smask)
		}
		id, err = r.w.AddStream(header+" /ColorSpace /DeviceRGB", rgb)
	}
	if err != nil {
		return 0, err
	}
	if img.Hash != "" {
		r.images[img.Hash] = id
	}
	return id, nil
}

// jpegColorSpace returns the colour space a DCT encoded image can be
// embedded with, or "" when it has to be re-encoded.
func jpegColorSpace(img image.Image) string {
	switch img.(type) {
	case *image.YCbCr:
		return "/DeviceRGB"
	case *image.Gray:
		return "/DeviceGray"
	}
	return ""
}

// Font writes f as a font resource. Standard fonts are referenced by name;
// TrueType fonts are embedded with WinAnsiEncoding widths.
func (r *Renderer) Font(f *fonts.Font) (uint32, error) {
	if id, ok := r.fonts[f.Key()]; ok {
		return id, nil
	}

	var id uint32
	var err error
	if f.Embedded && len(f.Data) > 0 {
		id, err = r.embedFont(f)
	} else {
		id, err = r.w.AddObject([]byte(fmt.Sprintf("<< /Type /Font /Subtype /Type1 /BaseFont %s /Encoding /WinAnsiEncoding >>", pdf.Name(f.Name))))
	}
	if err != nil {
		return 0, err
	}
	r.fonts[f.Key()] = id
	return id, nil
}

func (r *Renderer) embedFont(f *fonts.Font) (uint32, error) {
	file, err := r.w.AddStream(fmt.Sprintf("/Length1 %d", len(f.Data)), f.Data)
	if err != nil {
		return 0, err
	}
	descriptor, err := r.w.AddObject([]byte(fmt.Sprintf(
		"<< /Type /FontDescriptor /FontName %s /Flags 32 /FontBBox [-500 -200 1000 900] /ItalicAngle 0 /Ascent 800 /Descent -200 /CapHeight 700 /StemV 80 /FontFile2 %s >>",
		pdf.Name(f.Name), pdf.Ref(file))))
	if err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "<< /Type /Font /Subtype /TrueType /BaseFont %s /FontDescriptor %s /FirstChar 32 /LastChar 255 /Encoding /WinAnsiEncoding /Widths [",
		pdf.Name(f.Name), pdf.Ref(descriptor))
	for _, w := range f.Metrics.GetWidthsArray() {
		fmt.Fprintf(&buf, " %d", w)
	}
	buf.WriteString(" ] >>")
	return r.w.AddObject(buf.Bytes())
}
