// Package pages edits the page sequence of a document: merging uploads,
// deleting and rotating pages. The sequence refers to pages of the uploaded
// source files; nothing is rewritten until the document is baked.
//
// Every function returns a new slice and leaves its input untouched, so a
// caller keeps the previous sequence when an operation fails.
package pages

import (
	"errors"
	"fmt"

	"github.com/digitorus/signflow/internal/pdf"
)

// DefaultMaxUploadBytes is the default size ceiling for uploaded files.
const DefaultMaxUploadBytes = 25 << 20

// Errors returned by page operations.
var (
	ErrLastPageUndeletable = errors.New("cannot delete the last remaining page")
	ErrPageOutOfRange      = errors.New("page out of range")
	ErrInvalidRotation     = errors.New("rotation must be -90, 90 or 180 degrees")
	ErrFileTooLarge        = errors.New("file too large")
	ErrEmptyFile           = errors.New("file is empty")
	ErrMalformed           = pdf.ErrMalformed
)

// Page is one page of the document, pointing into an uploaded source file.
type Page struct {
	Source   int        `json:"source"`   // index into the document's sources
	Number   int        `json:"number"`   // 1-based page number within the source
	Rotation int        `json:"rotation"` // clockwise degrees: 0, 90, 180 or 270
	MediaBox [4]float64 `json:"mediaBox"`
}

// Width returns the unrotated page width in points.
func (p Page) Width() float64 { return p.MediaBox[2] - p.MediaBox[0] }

// Height returns the unrotated page height in points.
func (p Page) Height() float64 { return p.MediaBox[3] - p.MediaBox[1] }

// CheckSize returns ErrFileTooLarge when size exceeds limit. A limit of
// zero or less means DefaultMaxUploadBytes.
func CheckSize(size, limit int64) error {
	if limit <= 0 {
		limit = DefaultMaxUploadBytes
	}
	if size > limit {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, size, limit)
	}
	return nil
}

// Load checks the size of an uploaded file and returns its pages as source
// number source. The size is checked before the file is parsed.
func Load(source int, data []byte, limit int64) ([]Page, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if err := CheckSize(int64(len(data)), limit); err != nil {
		return nil, err
	}
	infos, err := pdf.Inspect(data)
	if err != nil {
		return nil, err
	}
	out := make([]Page, len(infos))
	for i, info := range infos {
		out[i] = Page{Source: source, Number: i + 1, Rotation: info.Rotate, MediaBox: info.MediaBox}
	}
	return out, nil
}

// Merge appends uploaded after base. Existing pages keep their numbers.
func Merge(base, uploaded []Page) []Page {
	out := make([]Page, 0, len(base)+len(uploaded))
	out = append(out, base...)
	return append(out, uploaded...)
}

// Check returns ErrPageOutOfRange unless n is a valid 1-based page number.
func Check(seq []Page, n int) error {
	if n < 1 || n > len(seq) {
		return fmt.Errorf("%w: page %d of %d", ErrPageOutOfRange, n, len(seq))
	}
	return nil
}

// Delete removes page n. The last remaining page cannot be deleted.
func Delete(seq []Page, n int) ([]Page, error) {
	if err := Check(seq, n); err != nil {
		return nil, err
	}
	if len(seq) == 1 {
		return nil, ErrLastPageUndeletable
	}
	out := make([]Page, 0, len(seq)-1)
	out = append(out, seq[:n-1]...)
	return append(out, seq[n:]...), nil
}

// Rotate turns page n clockwise by degrees, one of -90, 90 or 180.
// Rotations accumulate modulo 360.
func Rotate(seq []Page, n int, degrees int) ([]Page, error) {
	switch degrees {
	case -90, 90, 180:
	default:
		return nil, fmt.Errorf("%w: got %d", ErrInvalidRotation, degrees)
	}
	if err := Check(seq, n); err != nil {
		return nil, err
	}
	out := append([]Page(nil), seq...)
	out[n-1].Rotation = ((out[n-1].Rotation+degrees)%360 + 360) % 360
	return out, nil
}
