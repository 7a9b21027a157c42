// Package bake flattens a document's page sequence and its signers'
// placements into a single new PDF.
//
// Each page of the uploaded sources becomes a Form XObject that is drawn
// first, followed by one appearance per placement in painting order. The
// output contains no timestamps and every object is numbered in a fixed
// order, so the same input always produces the same bytes.
package bake

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	pdflib "github.com/digitorus/pdf"

	"github.com/digitorus/signflow/fonts"
	"github.com/digitorus/signflow/images"
	"github.com/digitorus/signflow/internal/pdf"
	"github.com/digitorus/signflow/internal/render"
	"github.com/digitorus/signflow/pages"
	"github.com/digitorus/signflow/placement"
)

// Producer is written to the document information dictionary.
const Producer = "signflow"

// Signer is a signer whose placements are drawn.
type Signer struct {
	ID          string
	Name        string
	Email       string
	CompletedAt time.Time
}

// Input is everything needed to bake a document.
type Input struct {
	Title      string
	Sources    [][]byte
	Pages      []pages.Page
	Placements placement.Set
	// Signers lists whose placements are drawn and in which order when
	// z-indexes are equal.
	Signers []Signer
	// Font is used for typed signatures, initials, dates and text.
	// Helvetica when nil.
	Font *fonts.Font
}

type source struct {
	reader   *pdflib.Reader
	importer *pdf.Importer
}

// Bake writes the final document.
func Bake(in Input) ([]byte, error) {
	if len(in.Pages) == 0 {
		return nil, fmt.Errorf("bake: document has no pages")
	}

	w := pdf.NewWriter()
	catalog := w.Reserve()
	tree := w.Reserve()
	r := render.New(w)

	signers := make(map[string]Signer, len(in.Signers))
	order := make([]string, 0, len(in.Signers))
	for _, s := range in.Signers {
		signers[s.ID] = s
		order = append(order, s.ID)
	}

	sources := make(map[int]*source)
	open := func(i int) (*source, error) {
		if s, ok := sources[i]; ok {
			return s, nil
		}
		if i < 0 || i >= len(in.Sources) {
			return nil, fmt.Errorf("bake: source %d does not exist", i)
		}
		rd, err := pdf.Open(in.Sources[i])
		if err != nil {
			return nil, fmt.Errorf("bake: source %d: %w", i, err)
		}
		s := &source{reader: rd, importer: pdf.NewImporter(w)}
		sources[i] = s
		return s, nil
	}

	kids := make([]string, 0, len(in.Pages))
	for i, p := range in.Pages {
		src, err := open(p.Source)
		if err != nil {
			return nil, err
		}
		id, err := bakePage(w, r, src, tree, p, in.Placements.Layer(i+1, order), signers, in.Font)
		if err != nil {
			return nil, fmt.Errorf("bake: page %d: %w", i+1, err)
		}
		kids = append(kids, pdf.Ref(id))
	}

	var treeDict bytes.Buffer
	fmt.Fprintf(&treeDict, "<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(kids))
	if err := w.WriteObject(tree, treeDict.Bytes()); err != nil {
		return nil, err
	}
	if err := w.WriteObject(catalog, []byte("<< /Type /Catalog /Pages "+pdf.Ref(tree)+" >>")); err != nil {
		return nil, err
	}
	info, err := w.AddObject([]byte(fmt.Sprintf("<< /Title %s /Producer %s >>", pdf.TextString(in.Title), pdf.TextString(Producer))))
	if err != nil {
		return nil, err
	}
	return w.Finish(catalog, info)
}

func bakePage(w *pdf.Writer, r *render.Renderer, src *source, tree uint32, p pages.Page, layer []placement.Placement, signers map[string]Signer, font *fonts.Font) (uint32, error) {
	sp, err := pdf.ExtractPage(src.reader, p.Number)
	if err != nil {
		return 0, err
	}

	resources := "<< >>"
	if !sp.Resources.IsNull() {
		if resources, err = src.importer.Import(sp.Resources); err != nil {
			return 0, err
		}
	}

	mb := p.MediaBox
	box := fmt.Sprintf("[%.2f %.2f %.2f %.2f]", mb[0], mb[1], mb[2], mb[3])
	form, err := w.AddStream("/Type /XObject /Subtype /Form /FormType 1 /BBox "+box+" /Matrix [1 0 0 1 0 0] /Resources "+resources, sp.Content)
	if err != nil {
		return 0, err
	}

	var content bytes.Buffer
	xobjects := []string{"/Pg " + pdf.Ref(form)}
	content.WriteString("q /Pg Do Q\n")

	for j, pl := range layer {
		signer, ok := signers[pl.SignerID]
		if !ok {
			continue
		}
		a, err := appearance(pl, signer, font)
		if err != nil {
			return 0, err
		}
		id, err := r.Appearance(a)
		if err != nil {
			return 0, err
		}
		name := fmt.Sprintf("Ap%d", j+1)
		xobjects = append(xobjects, "/"+name+" "+pdf.Ref(id))

		// Placements are positioned from the top-left corner of the media box.
		x := mb[0] + pl.Position.X
		y := mb[3] - pl.Position.Y - a.Height
		fmt.Fprintf(&content, "q 1 0 0 1 %.2f %.2f cm /%s Do Q\n", x, y, name)
	}

	contents, err := w.AddStream("", content.Bytes())
	if err != nil {
		return 0, err
	}

	page := fmt.Sprintf("<< /Type /Page /Parent %s /MediaBox %s /Rotate %d /Resources << /XObject << %s >> >> /Contents %s >>",
		pdf.Ref(tree), box, p.Rotation, strings.Join(xobjects, " "), pdf.Ref(contents))
	return w.AddObject([]byte(page))
}

// ErrUnencodable reports typed text the WinAnsi encoded fonts cannot show.
var ErrUnencodable = errors.New("text is not representable in WinAnsiEncoding")

// Typeable checks that the text p draws can be shown. Signatures and
// initials without an image are typed from name.
func Typeable(p placement.Placement, name string) error {
	var text string
	switch p.Kind {
	case placement.Signature, placement.Initials:
		if len(p.Image) == 0 {
			text = name
		}
	case placement.Text:
		text = p.Text
	}
	if !pdf.Encodable(text) {
		return fmt.Errorf("%w: %q", ErrUnencodable, text)
	}
	return nil
}

var ink = render.Color{R: 0x1a, G: 0x23, B: 0x7e}

// appearance builds the drawing for one placement.
func appearance(p placement.Placement, s Signer, font *fonts.Font) (*render.Appearance, error) {
	w, h := p.Position.Size()
	a := &render.Appearance{Width: w, Height: h}
	tpl := render.TemplateContext{
		Name:       s.Name,
		Email:      s.Email,
		Date:       s.CompletedAt.UTC(),
		DateLayout: p.Layout(),
	}

	text := func(tmpl string) render.TextElement {
		return render.TextElement{
			Content:  render.ExpandTemplateVariables(tmpl, tpl),
			Font:     font,
			Size:     h * 0.6,
			Color:    ink,
			Center:   true,
			AutoSize: true,
		}
	}

	switch p.Kind {
	case placement.Signature, placement.Initials, placement.Stamp:
		if len(p.Image) > 0 {
			img, err := images.Decode(p.Image, images.MaxSide)
			if err != nil {
				return nil, fmt.Errorf("%s image: %w", p.Kind, err)
			}
			a.Elements = append(a.Elements, render.ImageElement{Image: img, Width: w, Height: h, Fit: true})
			break
		}
		switch p.Kind {
		case placement.Signature:
			a.Elements = append(a.Elements,
				text("{{Name}}"),
				render.LineElement{X1: 2, Y1: 2, X2: w - 2, Y2: 2, StrokeColor: ink, StrokeWidth: 0.5})
		case placement.Initials:
			a.Elements = append(a.Elements, text("{{Initials}}"))
		default:
			return nil, fmt.Errorf("%w: stamp without image", placement.ErrIncomplete)
		}
	case placement.Date:
		a.Elements = append(a.Elements, text("{{Date}}"))
	case placement.Text:
		t := text("")
		t.Content = p.Text
		a.Elements = append(a.Elements, t)
	default:
		return nil, fmt.Errorf("%w: kind %v", placement.ErrInvalid, p.Kind)
	}
	return a, nil
}
