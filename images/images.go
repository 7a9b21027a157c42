// Package images decodes signature, initials and stamp images and reduces
// them to a size suitable for embedding.
package images

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

// MaxSide is the longest edge, in pixels, an embedded image is kept at.
const MaxSide = 1200

// ErrUnsupported is returned for data that is not a PNG or JPEG image.
var ErrUnsupported = errors.New("unsupported image")

// Image is a decoded image resource.
type Image struct {
	Data   []byte      // Raw image data as uploaded (JPEG or PNG)
	Hash   string      // SHA256 hash of Data for deduplication
	Format string      // "jpeg" or "png"
	Pixels image.Image // Decoded and, if needed, downscaled pixels
	Scaled bool        // Pixels differ in size from the uploaded image
}

// Decode decodes data and downscales it so neither edge exceeds maxSide.
// A maxSide of zero keeps the original size.
func Decode(data []byte, maxSide int) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrUnsupported)
	}
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	if format != "png" && format != "jpeg" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, format)
	}

	sum := sha256.Sum256(data)
	img := &Image{
		Data:   data,
		Hash:   hex.EncodeToString(sum[:]),
		Format: format,
		Pixels: src,
	}
	if fitted := Fit(src, maxSide); fitted != src {
		img.Pixels, img.Scaled = fitted, true
	}
	return img, nil
}

// Fit returns src scaled down, preserving the aspect ratio, so that neither
// edge exceeds maxSide. src is returned unchanged when it already fits.
func Fit(src image.Image, maxSide int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSide <= 0 || (w <= maxSide && h <= maxSide) {
		return src
	}

	nw, nh := maxSide, maxSide
	if w > h {
		nh = max(1, h*maxSide/w)
	} else {
		nw = max(1, w*maxSide/h)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// AspectFit returns the size of an image with the given pixel dimensions
// scaled to fit inside a w by h box, and the offset that centres it.
func AspectFit(px, py int, w, h float64) (x, y, fw, fh float64) {
	if px <= 0 || py <= 0 {
		return 0, 0, w, h
	}
	ratio := float64(px) / float64(py)
	fw, fh = w, w/ratio
	if fh > h {
		fh = h
		fw = h * ratio
	}
	return (w - fw) / 2, (h - fh) / 2, fw, fh
}
