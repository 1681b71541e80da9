package email

import (
	"bytes"
	"io"
	"unicode/utf8"

	"github.com/emersion/go-message/charset"
	"golang.org/x/text/encoding/charmap"
)

// DecodeText converts a text part to UTF-8. The declared charset is tried
// first, then UTF-8, then ISO-8859-1. It returns false when nothing fits.
func DecodeText(part *Part) (string, bool) {
	if part.Charset != "" {
		if text, ok := decodeCharset(part.Charset, part.Body); ok {
			return text, true
		}
	}
	if utf8.Valid(part.Body) {
		return string(part.Body), true
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(part.Body)
	if err != nil || !utf8.Valid(decoded) {
		return "", false
	}
	return string(decoded), true
}

func decodeCharset(label string, body []byte) (string, bool) {
	reader, err := charset.Reader(label, bytes.NewReader(body))
	if err != nil {
		return "", false
	}
	decoded, err := io.ReadAll(reader)
	if err != nil || !utf8.Valid(decoded) {
		return "", false
	}
	return string(decoded), true
}
