package pdf

import (
	"bytes"
	"fmt"
	"io"

	pdflib "github.com/digitorus/pdf"
)

// SourcePage is a page of an uploaded document, ready to be embedded as a
// Form XObject.
type SourcePage struct {
	Info      PageInfo
	Content   []byte
	Resources pdflib.Value
}

// ExtractPage returns the decoded content stream and the resources of page
// num (1-based). Content streams in an array are joined with newlines.
func ExtractPage(r *pdflib.Reader, num int) (sp SourcePage, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: page %d: %v", ErrMalformed, num, rec)
		}
	}()

	if num < 1 || num > r.NumPage() {
		return sp, fmt.Errorf("page %d out of range (1-%d)", num, r.NumPage())
	}

	page := r.Page(num)
	if page.V.IsNull() {
		return sp, fmt.Errorf("%w: page %d not found", ErrMalformed, num)
	}
	sp.Info = pageInfo(page.V)
	sp.Resources = inherited(page.V, "Resources")

	contents := page.V.Key("Contents")
	var buf bytes.Buffer
	switch contents.Kind() {
	case pdflib.Null:
	case pdflib.Array:
		for i := 0; i < contents.Len(); i++ {
			if err := readStream(&buf, contents.Index(i)); err != nil {
				return sp, fmt.Errorf("page %d content %d: %w", num, i, err)
			}
			buf.WriteString("\n")
		}
	default:
		if err := readStream(&buf, contents); err != nil {
			return sp, fmt.Errorf("page %d content: %w", num, err)
		}
	}
	sp.Content = buf.Bytes()
	return sp, nil
}

func readStream(w io.Writer, stream pdflib.Value) error {
	if stream.Kind() != pdflib.Stream {
		return fmt.Errorf("%w: expected stream, got kind %v", ErrMalformed, stream.Kind())
	}
	if !decodable(stream) {
		return fmt.Errorf("%w: unsupported content filter", ErrMalformed)
	}
	rc := stream.Reader()
	defer rc.Close()
	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("failed to copy content stream: %w", err)
	}
	return nil
}

// decodable reports whether the stream is unfiltered or plain FlateDecode.
func decodable(stream pdflib.Value) bool {
	if !stream.Key("DecodeParms").IsNull() {
		return false
	}
	filter := stream.Key("Filter")
	switch filter.Kind() {
	case pdflib.Null:
		return true
	case pdflib.Name:
		return filter.Name() == "FlateDecode"
	case pdflib.Array:
		return filter.Len() == 0 || (filter.Len() == 1 && filter.Index(0).Name() == "FlateDecode")
	}
	return false
}
