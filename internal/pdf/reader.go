// Package pdf reads uploaded documents and writes new ones.
//
// Reading is done with github.com/digitorus/pdf, whose parser panics on some
// malformed input; every entry point here recovers and returns ErrMalformed
// instead.
package pdf

import (
	"bytes"
	"errors"
	"fmt"

	pdflib "github.com/digitorus/pdf"
)

// ErrMalformed is returned for input that cannot be parsed as a PDF.
var ErrMalformed = errors.New("malformed pdf")

// Letter is the media box assumed when a page does not declare one.
var Letter = [4]float64{0, 0, 612, 792}

// maxTreeDepth bounds the walk up the page tree for inherited attributes.
const maxTreeDepth = 32

// PageInfo describes one page of a document.
type PageInfo struct {
	MediaBox [4]float64
	Rotate   int
}

// Width returns the media box width.
func (p PageInfo) Width() float64 { return p.MediaBox[2] - p.MediaBox[0] }

// Height returns the media box height.
func (p PageInfo) Height() float64 { return p.MediaBox[3] - p.MediaBox[1] }

// Open parses data as a PDF.
func Open(data []byte) (r *pdflib.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r, err = nil, fmt.Errorf("%w: %v", ErrMalformed, rec)
		}
	}()

	r, err = pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if r.NumPage() < 1 {
		return nil, fmt.Errorf("%w: document has no pages", ErrMalformed)
	}
	return r, nil
}

// Inspect returns the geometry of every page in data.
func Inspect(data []byte) (pages []PageInfo, err error) {
	r, err := Open(data)
	if err != nil {
		return nil, err
	}

	defer func() {
		if rec := recover(); rec != nil {
			pages, err = nil, fmt.Errorf("%w: %v", ErrMalformed, rec)
		}
	}()

	n := r.NumPage()
	pages = make([]PageInfo, 0, n)
	for i := 1; i <= n; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			return nil, fmt.Errorf("%w: page %d not found", ErrMalformed, i)
		}
		pages = append(pages, pageInfo(page.V))
	}
	return pages, nil
}

func pageInfo(page pdflib.Value) PageInfo {
	info := PageInfo{MediaBox: Letter}

	if box := inherited(page, "MediaBox"); box.Kind() == pdflib.Array && box.Len() >= 4 {
		for i := 0; i < 4; i++ {
			info.MediaBox[i] = box.Index(i).Float64()
		}
		// Normalise boxes given as upper-right, lower-left.
		if info.MediaBox[0] > info.MediaBox[2] {
			info.MediaBox[0], info.MediaBox[2] = info.MediaBox[2], info.MediaBox[0]
		}
		if info.MediaBox[1] > info.MediaBox[3] {
			info.MediaBox[1], info.MediaBox[3] = info.MediaBox[3], info.MediaBox[1]
		}
	}

	if rot := inherited(page, "Rotate"); rot.Kind() == pdflib.Integer {
		info.Rotate = int(((rot.Int64() % 360) + 360) % 360)
	}
	return info
}

// inherited looks key up on the page and then on its ancestors.
func inherited(v pdflib.Value, key string) pdflib.Value {
	for i := 0; i < maxTreeDepth && !v.IsNull(); i++ {
		if val := v.Key(key); !val.IsNull() {
			return val
		}
		v = v.Key("Parent")
	}
	return pdflib.Value{}
}
