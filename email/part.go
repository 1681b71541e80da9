package email

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"mime"
	"mime/quotedprintable"
	"strings"

	"github.com/emersion/go-message/textproto"
)

const defaultMediaType = "text/plain"

// Part is a leaf of the MIME tree, with its transfer encoding already decoded
type Part struct {
	Header    textproto.Header
	MediaType string
	// Charset is the charset declared in Content-Type, if any could be found
	Charset string
	Body    []byte
}

// IsText returns true for text/* parts
func (p *Part) IsText() bool {
	return strings.HasPrefix(p.MediaType, "text/")
}

// Walk calls fn for every leaf part of the message, depth first.
// A single part message is its own only leaf.
func (m *Message) Walk(fn func(part *Part) error) error {
	return walk(m.Header, m.body, fn)
}

func walk(header textproto.Header, body []byte, fn func(part *Part) error) error {
	contentType := header.Get("Content-Type")
	mediaType, params := ParseContentType(contentType)
	boundary := params["boundary"]
	if strings.HasPrefix(mediaType, "multipart/") && boundary != "" {
		reader := textproto.NewMultipartReader(bytes.NewReader(body), boundary)
		for {
			part, err := reader.NextPart()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			data, err := io.ReadAll(part)
			if err != nil {
				return err
			}
			err = walk(part.Header, data, fn)
			if err != nil {
				return err
			}
		}
	}
	return fn(&Part{
		Header:    header,
		MediaType: mediaType,
		Charset:   params["charset"],
		Body:      decodeTransferEncoding(header.Get("Content-Transfer-Encoding"), body),
	})
}

// ParseContentType returns the lower-cased media type and its parameters.
// It tolerates broken parameter lists such as `charset="utf-8" //iso-8859-2`.
func ParseContentType(value string) (string, map[string]string) {
	if strings.TrimSpace(value) == "" {
		return defaultMediaType, map[string]string{}
	}
	mediaType, params, err := mime.ParseMediaType(value)
	if err == nil {
		return mediaType, params
	}
	mediaType, rest, _ := strings.Cut(value, ";")
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	if mediaType == "" {
		mediaType = defaultMediaType
	}
	return mediaType, parseLenientParams(rest)
}

func parseLenientParams(value string) map[string]string {
	params := make(map[string]string)
	for _, attribute := range strings.Split(value, ";") {
		name, val, found := strings.Cut(attribute, "=")
		if !found {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		val = strings.TrimSpace(val)
		if strings.HasPrefix(val, `"`) {
			if end := strings.Index(val[1:], `"`); end >= 0 {
				val = val[1 : end+1]
			}
		} else if space := strings.IndexAny(val, " \t("); space >= 0 {
			// trailing comment
			val = val[:space]
		}
		if name != "" && val != "" {
			params[name] = val
		}
	}
	return params
}

func decodeTransferEncoding(encoding string, body []byte) []byte {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		decoded, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(body)))
		if err != nil {
			return body
		}
		return decoded
	case "base64":
		decoded, err := io.ReadAll(base64.NewDecoder(base64.StdEncoding, newlineStripper(body)))
		if err != nil {
			return body
		}
		return decoded
	default:
		return body
	}
}

func newlineStripper(body []byte) io.Reader {
	cleaned := bytes.Map(func(r rune) rune {
		if r == '\r' || r == '\n' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, body)
	return bytes.NewReader(cleaned)
}
