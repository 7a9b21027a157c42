// Package placement models the marks a signer leaves on a document page
// (signature, initials, date, stamp, free text) and the per-signer sets that
// hold them until the document is baked.
//
// Positions are page relative: X and Y are PDF points measured from the
// top-left corner of the page's media box, the way the placement editor in a
// browser reports them. Rotating a page does not move its placements.
package placement

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the variant of a placement.
type Kind int

const (
	// Signature renders the signer's signature image, or the typed name when no image is supplied.
	Signature Kind = iota + 1
	// Initials renders an initials image, or the initials derived from the signer's name.
	Initials
	// Date renders the moment the signer completed, formatted with DateLayout.
	Date
	// Stamp renders a company stamp image. An image is required.
	Stamp
	// Text renders a fixed string.
	Text
)

var kindNames = map[Kind]string{
	Signature: "signature",
	Initials:  "initials",
	Date:      "date",
	Stamp:     "stamp",
	Text:      "text",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind returns the Kind for its lower case name.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalid, s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	name, ok := kindNames[k]
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %d", ErrInvalid, int(k))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

var (
	// ErrInvalid reports a structurally malformed placement.
	ErrInvalid = errors.New("invalid placement")
	// ErrIncomplete reports a placement that lacks the value it needs to be rendered.
	ErrIncomplete = errors.New("placement is missing its value")
	// ErrForeignSigner reports a placement written under another signer's id.
	ErrForeignSigner = errors.New("placement belongs to another signer")
	// ErrPageOutOfRange reports a placement on a page the document does not have.
	ErrPageOutOfRange = errors.New("placement page out of range")
)

// DefaultDateLayout is used for Date placements without a layout.
const DefaultDateLayout = "2006-01-02"

// Position is the box a placement occupies on its page.
type Position struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Scale  float64 `json:"scale,omitempty"`
	ZIndex int     `json:"zIndex,omitempty"`
}

// Size returns the rendered width and height after scaling.
// A zero scale means 1.
func (p Position) Size() (float64, float64) {
	s := p.Scale
	if s == 0 {
		s = 1
	}
	return p.Width * s, p.Height * s
}

// Placement is a typed mark on a page, owned by one signer.
// Only the fields belonging to its Kind may be set.
type Placement struct {
	SignerID string   `json:"signerId"`
	Page     int      `json:"page"`
	Position Position `json:"position"`
	Kind     Kind     `json:"kind"`

	// Image holds PNG or JPEG data for Signature, Initials and Stamp.
	Image []byte `json:"image,omitempty"`
	// Text holds the string rendered by a Text placement.
	Text string `json:"text,omitempty"`
	// DateLayout is the Go time layout of a Date placement.
	DateLayout string `json:"dateLayout,omitempty"`
}

// Validate checks the geometry and that only the fields of the placement's
// kind are set. It does not require values; see Ready.
func (p Placement) Validate() error {
	if p.Page < 1 {
		return fmt.Errorf("%w: page %d", ErrInvalid, p.Page)
	}
	pos := p.Position
	if pos.Width <= 0 || pos.Height <= 0 {
		return fmt.Errorf("%w: size %.2fx%.2f", ErrInvalid, pos.Width, pos.Height)
	}
	if pos.X < 0 || pos.Y < 0 || pos.Scale < 0 {
		return fmt.Errorf("%w: negative position or scale", ErrInvalid)
	}

	switch p.Kind {
	case Signature, Initials, Stamp:
		if p.Text != "" || p.DateLayout != "" {
			return fmt.Errorf("%w: %s carries text fields", ErrInvalid, p.Kind)
		}
	case Date:
		if p.Text != "" || len(p.Image) > 0 {
			return fmt.Errorf("%w: date carries a value", ErrInvalid)
		}
	case Text:
		if len(p.Image) > 0 || p.DateLayout != "" {
			return fmt.Errorf("%w: text carries image or layout", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalid, int(p.Kind))
	}
	return nil
}

// Ready reports whether the placement can be rendered.
// Stamps need an image and text placements need text; the other kinds fall
// back to values derived from the signer.
func (p Placement) Ready() error {
	switch p.Kind {
	case Stamp:
		if len(p.Image) == 0 {
			return fmt.Errorf("%w: stamp on page %d has no image", ErrIncomplete, p.Page)
		}
	case Text:
		if strings.TrimSpace(p.Text) == "" {
			return fmt.Errorf("%w: text on page %d is empty", ErrIncomplete, p.Page)
		}
	}
	return nil
}

// Layout returns the date layout to use for a Date placement.
func (p Placement) Layout() string {
	if p.DateLayout == "" {
		return DefaultDateLayout
	}
	return p.DateLayout
}
