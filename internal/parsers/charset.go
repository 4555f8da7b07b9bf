package parsers

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// charsetEncoding maps a declared charset to a decoder. A nil result means
// the bytes are treated as UTF-8.
func charsetEncoding(declared string) encoding.Encoding {
	name := strings.ToUpper(strings.TrimSpace(declared))
	name = strings.NewReplacer("_", "-", " ", "").Replace(name)

	switch name {
	case "1252", "WINDOWS-1252", "CP1252", "WIN1252":
		return charmap.Windows1252
	case "ISO-8859-1", "ISO8859-1", "8859-1", "LATIN1", "LATIN-1":
		return charmap.ISO8859_1
	case "ISO-8859-15", "ISO8859-15", "LATIN9":
		return charmap.ISO8859_15
	case "850", "CP850", "IBM850":
		return charmap.CodePage850
	default:
		return nil
	}
}

// decodeText converts raw statement bytes to a UTF-8 string. A declared
// single-byte charset is honoured; otherwise valid UTF-8 passes through and
// anything else is read as Windows-1252.
func decodeText(raw []byte, declared string) (string, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)

	enc := charsetEncoding(declared)
	if enc == nil {
		if utf8.Valid(raw) {
			return string(raw), nil
		}
		enc = charmap.Windows1252
	}

	out, err := io.ReadAll(transform.NewReader(bytes.NewReader(raw), enc.NewDecoder()))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// cleanDescription collapses whitespace and puts the text in NFC so that
// visually equal descriptions compare equal.
func cleanDescription(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}
