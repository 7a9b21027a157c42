// Package pdftest generates small PDF documents for tests.
package pdftest

import (
	"fmt"
	"strings"

	"github.com/digitorus/signflow/internal/pdf"
)

// Page describes a generated page.
type Page struct {
	MediaBox [4]float64
	Rotate   int
	Text     string
}

// Blank returns a document with n letter sized pages, each labelled with its
// page number.
func Blank(n int) []byte {
	pages := make([]Page, n)
	for i := range pages {
		pages[i] = Page{MediaBox: pdf.Letter, Text: fmt.Sprintf("Page %d", i+1)}
	}
	return Document(pages...)
}

// Document returns a document with the given pages. All pages share one
// font resource held on the page tree root, so resources are inherited.
func Document(pages ...Page) []byte {
	w := pdf.NewWriter()
	catalog := w.Reserve()
	tree := w.Reserve()

	font, err := w.AddObject([]byte("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>"))
	if err != nil {
		panic(err)
	}

	kids := make([]string, 0, len(pages))
	for _, p := range pages {
		content := fmt.Sprintf("0.9 0.9 0.9 rg 20 20 100 40 re f\nBT /F1 18 Tf 0 0 0 rg 36 %.2f Td %s Tj ET\n",
			p.MediaBox[3]-p.MediaBox[1]-54, pdf.TextString(p.Text))
		contentID, err := w.AddStream("", []byte(content))
		if err != nil {
			panic(err)
		}
		dict := fmt.Sprintf("<< /Type /Page /Parent %s /MediaBox [%g %g %g %g] /Contents %s",
			pdf.Ref(tree), p.MediaBox[0], p.MediaBox[1], p.MediaBox[2], p.MediaBox[3], pdf.Ref(contentID))
		if p.Rotate != 0 {
			dict += fmt.Sprintf(" /Rotate %d", p.Rotate)
		}
		id, err := w.AddObject([]byte(dict + " >>"))
		if err != nil {
			panic(err)
		}
		kids = append(kids, pdf.Ref(id))
	}

	treeDict := fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /Resources << /Font << /F1 %s >> >> >>",
		strings.Join(kids, " "), len(pages), pdf.Ref(font))
	if err := w.WriteObject(tree, []byte(treeDict)); err != nil {
		panic(err)
	}
	if err := w.WriteObject(catalog, []byte(fmt.Sprintf("<< /Type /Catalog /Pages %s >>", pdf.Ref(tree)))); err != nil {
		panic(err)
	}
	out, err := w.Finish(catalog, 0)
	if err != nil {
		panic(err)
	}
	return out
}
