package pdf

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	pdflib "github.com/digitorus/pdf"
)

// Importer copies objects from an uploaded document into a Writer. Each
// source object is written at most once; later references reuse its new id.
type Importer struct {
	w    *Writer
	done map[uint32]uint32

	// Skipped counts streams that could not be re-encoded and were replaced by null.
	Skipped int
}

// NewImporter returns an Importer writing to w.
func NewImporter(w *Writer) *Importer {
	return &Importer{w: w, done: make(map[uint32]uint32)}
}

// Import serialises v, writing every indirect object it references. The
// returned string is the value's PDF syntax in the new file.
func (im *Importer) Import(v pdflib.Value) (s string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrMalformed, rec)
		}
	}()
	return im.value(v, pdflib.Value{}, 0)
}

func (im *Importer) value(v, parent pdflib.Value, depth int) (string, error) {
	if depth > 64 {
		return "", fmt.Errorf("%w: object nesting too deep", ErrMalformed)
	}
	if parent.IsNull() || !sameObject(v, parent) {
		switch v.Kind() {
		case pdflib.Dict, pdflib.Array, pdflib.Stream:
			return im.indirect(v, depth)
		}
	}
	return im.direct(v, depth)
}

// indirect writes v as its own object, once per source object id.
func (im *Importer) indirect(v pdflib.Value, depth int) (string, error) {
	src := v.GetPtr().GetID()
	if id, ok := im.done[uint32(src)]; ok && src != 0 {
		return ref(id), nil
	}

	id := im.w.Reserve()
	if src != 0 {
		im.done[uint32(src)] = id
	}

	if v.Kind() == pdflib.Stream {
		if !decodable(v) {
			im.Skipped++
			if err := im.w.WriteObject(id, []byte("null")); err != nil {
				return "", err
			}
			return ref(id), nil
		}
		return ref(id), im.stream(id, v, depth)
	}

	body, err := im.direct(v, depth)
	if err != nil {
		return "", err
	}
	return ref(id), im.w.WriteObject(id, []byte(body))
}

func (im *Importer) stream(id uint32, v pdflib.Value, depth int) error {
	rc := v.Reader()
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("read stream: %w", err)
	}

	var entries []string
	for _, k := range sortedKeys(v) {
		switch k {
		case "Length", "Filter", "DecodeParms":
			continue
		}
		s, err := im.value(v.Key(k), v, depth+1)
		if err != nil {
			return err
		}
		entries = append(entries, "/"+name(k)+" "+s)
	}

	body, err := compressStream(im.w.CompressLevel, strings.Join(entries, " "), data)
	if err != nil {
		return err
	}
	return im.w.WriteObject(id, body)
}

func (im *Importer) direct(v pdflib.Value, depth int) (string, error) {
	switch v.Kind() {
	case pdflib.Null:
		return "null", nil
	case pdflib.Bool:
		return strconv.FormatBool(v.Bool()), nil
	case pdflib.Integer:
		return strconv.FormatInt(v.Int64(), 10), nil
	case pdflib.Real:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64), nil
	case pdflib.String:
		return HexString([]byte(v.RawString())), nil
	case pdflib.Name:
		return "/" + name(v.Name()), nil
	case pdflib.Array:
		parts := make([]string, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			s, err := im.value(v.Index(i), v, depth+1)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return "[" + strings.Join(parts, " ") + "]", nil
	case pdflib.Dict:
		var b strings.Builder
		b.WriteString("<<")
		for _, k := range sortedKeys(v) {
			if k == "Parent" {
				continue
			}
			s, err := im.value(v.Key(k), v, depth+1)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, " /%s %s", name(k), s)
		}
		b.WriteString(" >>")
		return b.String(), nil
	}
	return "", fmt.Errorf("%w: unexpected value kind %v", ErrMalformed, v.Kind())
}

func sameObject(a, b pdflib.Value) bool {
	pa, pb := a.GetPtr(), b.GetPtr()
	return pa.GetID() == pb.GetID() && pa.GetGen() == pb.GetGen()
}

func sortedKeys(v pdflib.Value) []string {
	keys := v.Keys()
	sort.Strings(keys)
	return keys
}

func ref(id uint32) string { return strconv.FormatUint(uint64(id), 10) + " 0 R" }

// Ref formats an indirect reference to id.
func Ref(id uint32) string { return ref(id) }

// name escapes the characters that may not appear literally in a PDF name.
func name(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '!' || c > '~' || strings.IndexByte("#()<>[]{}/%", c) >= 0 {
			fmt.Fprintf(&b, "#%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Name returns s as a PDF name, including the leading slash.
func Name(s string) string { return "/" + name(s) }
