package pdf

import (
	"encoding/hex"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// HexString formats b as a PDF hexadecimal string.
func HexString(b []byte) string {
	return "<" + hex.EncodeToString(b) + ">"
}

// TextString formats text for use in the document information dictionary
// and other text strings. ASCII is written as a literal string, anything else
// as UTF-16BE with a byte order mark.
func TextString(text string) string {
	if !isASCII(text) {
		enc := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewEncoder()
		res, _, err := transform.String(enc, text)
		if err == nil {
			return HexString([]byte(res))
		}
	}

	text = strings.ReplaceAll(text, "\\", "\\\\")
	text = strings.ReplaceAll(text, ")", "\\)")
	text = strings.ReplaceAll(text, "(", "\\(")
	text = strings.ReplaceAll(text, "\r", "\\r")
	return "(" + text + ")"
}

// WinAnsi encodes text for a simple font using WinAnsiEncoding. Characters
// outside Windows-1252 become '?'.
func WinAnsi(text string) []byte {
	out := make([]byte, 0, len(text))
	for _, r := range text {
		b, ok := charmap.Windows1252.EncodeRune(r)
		if !ok {
			b = '?'
		}
		out = append(out, b)
	}
	return out
}

// Encodable reports whether every character of text is in Windows-1252.
func Encodable(text string) bool {
	for _, r := range text {
		if _, ok := charmap.Windows1252.EncodeRune(r); !ok {
			return false
		}
	}
	return true
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7e || (s[i] < 0x20 && s[i] != '\r' && s[i] != '\n' && s[i] != '\t') {
			return false
		}
	}
	return true
}
