package pdf

import (
	"bytes"
	"compress/zlib"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/mattetti/filebuffer"
)

var (
	// ErrObjectWritten is returned when an object id is written twice.
	ErrObjectWritten = errors.New("object already written")
	// ErrObjectMissing is returned by Finish when a reserved object was never written.
	ErrObjectMissing = errors.New("reserved object not written")
)

// Writer builds a new PDF file from scratch. Object ids are handed out
// sequentially, so the same calls in the same order produce the same bytes.
type Writer struct {
	// CompressLevel is the zlib level used by AddStream.
	CompressLevel int

	buf     *filebuffer.Buffer
	size    int64
	offsets []int64
}

// NewWriter returns a Writer that has already emitted the file header.
func NewWriter() *Writer {
	w := &Writer{
		CompressLevel: zlib.BestCompression,
		buf:           filebuffer.New([]byte{}),
	}
	w.write([]byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n"))
	return w
}

func (w *Writer) write(p []byte) {
	n, _ := w.buf.Write(p)
	w.size += int64(n)
}

// Reserve allocates an object id to be written later with WriteObject.
func (w *Writer) Reserve() uint32 {
	w.offsets = append(w.offsets, -1)
	return uint32(len(w.offsets))
}

// WriteObject writes the body of a reserved object.
func (w *Writer) WriteObject(id uint32, body []byte) error {
	if id == 0 || int(id) > len(w.offsets) {
		return fmt.Errorf("object %d was not reserved", id)
	}
	if w.offsets[id-1] >= 0 {
		return fmt.Errorf("%w: %d", ErrObjectWritten, id)
	}
	w.offsets[id-1] = w.size
	w.write([]byte(strconv.FormatUint(uint64(id), 10) + " 0 obj\n"))
	w.write(body)
	w.write([]byte("\nendobj\n"))
	return nil
}

// AddObject reserves an id and writes body under it.
func (w *Writer) AddObject(body []byte) (uint32, error) {
	id := w.Reserve()
	return id, w.WriteObject(id, body)
}

// AddStream writes a stream object. entries are the dictionary entries
// without the surrounding brackets; /Length and /Filter are added here.
func (w *Writer) AddStream(entries string, data []byte) (uint32, error) {
	return w.addStream(entries, data, true)
}

// AddRawStream writes data as is, for streams that are already encoded
// (entries must then name the filter).
func (w *Writer) AddRawStream(entries string, data []byte) (uint32, error) {
	return w.addStream(entries, data, false)
}

func (w *Writer) addStream(entries string, data []byte, compress bool) (uint32, error) {
	level := w.CompressLevel
	if !compress {
		level = zlib.NoCompression
	}
	body, err := compressStream(level, entries, data)
	if err != nil {
		return 0, err
	}
	return w.AddObject(body)
}

// compressStream returns a complete stream object body.
func compressStream(level int, entries string, data []byte) ([]byte, error) {
	if level != zlib.NoCompression {
		var zbuf bytes.Buffer
		zw, err := zlib.NewWriterLevel(&zbuf, level)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		data = zbuf.Bytes()
		entries = joinEntries(entries, "/Filter /FlateDecode")
	}

	var body bytes.Buffer
	fmt.Fprintf(&body, "<< %s >>\nstream\n", joinEntries(entries, "/Length "+strconv.Itoa(len(data))))
	body.Write(data)
	body.WriteString("\nendstream")
	return body.Bytes(), nil
}

func joinEntries(a, b string) string {
	if a == "" {
		return b
	}
	return a + " " + b
}

// Finish writes the cross-reference table and trailer and returns the
// complete file. The file identifier is derived from the content written so
// far. The Writer must not be used afterwards.
func (w *Writer) Finish(root, info uint32) ([]byte, error) {
	for i, off := range w.offsets {
		if off < 0 {
			return nil, fmt.Errorf("%w: %d", ErrObjectMissing, i+1)
		}
	}

	sum := sha256.Sum256(w.buf.Buff.Bytes())
	id := hex.EncodeToString(sum[:16])

	xrefStart := w.size
	var xref bytes.Buffer
	fmt.Fprintf(&xref, "xref\n0 %d\n", len(w.offsets)+1)
	xref.WriteString("0000000000 65535 f \n")
	for _, off := range w.offsets {
		fmt.Fprintf(&xref, "%010d 00000 n \n", off)
	}
	w.write(xref.Bytes())

	trailer := fmt.Sprintf("trailer\n<< /Size %d /Root %d 0 R", len(w.offsets)+1, root)
	if info != 0 {
		trailer += fmt.Sprintf(" /Info %d 0 R", info)
	}
	trailer += fmt.Sprintf(" /ID [<%s><%s>] >>\nstartxref\n%d\n%%%%EOF\n", id, id, xrefStart)
	w.write([]byte(trailer))

	return append([]byte(nil), w.buf.Buff.Bytes()...), nil
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int64 { return w.size }
