// Package email holds the typed message model used by the router: an ordered,
// case-insensitive header multimap and the raw body, which can be walked as a
// tree of MIME parts.
package email

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

const (
	HeaderFrom      = "From"
	HeaderTo        = "To"
	HeaderCc        = "Cc"
	HeaderDate      = "Date"
	HeaderMessageID = "Message-Id"
	HeaderSubject   = "Subject"
)

// DateLayout is the RFC 5322 layout used for headers we write.
const DateLayout = "Mon, 2 Jan 2006 15:04:05 -0700"

// zone-less layouts seen in the wild, read as UTC
var lenientDateLayouts = []string{
	"Mon, 2 Jan 2006 15:04:05",
	"Mon, 02 Jan 2006 15:04:05",
	"2 Jan 2006 15:04:05",
}

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

type Message struct {
	Header textproto.Header
	body   []byte
}

// New returns a message with the given header and raw body
func New(header textproto.Header, body []byte) *Message {
	return &Message{
		Header: header,
		body:   body,
	}
}

// NewText creates a single part text/plain message encoded in UTF-8
func NewText(text string) *Message {
	msg := &Message{}
	msg.Header.Set("Mime-Version", "1.0")
	msg.Header.Set("Content-Type", "text/plain; charset=utf-8")
	msg.Header.Set("Content-Transfer-Encoding", "8bit")
	msg.body = []byte(text)
	return msg
}

// Parse reads a flattened message
func Parse(raw []byte) (*Message, error) {
	return Read(bytes.NewReader(raw))
}

func Read(r io.Reader) (*Message, error) {
	reader := bufio.NewReader(r)
	header, err := textproto.ReadHeader(reader)
	// a message without body may end right after its last field
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("cannot read message header: %w", err)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("cannot read message body: %w", err)
	}
	return New(header, body), nil
}

// ReadHeader only reads the header block, leaving the body unread
func ReadHeader(r io.Reader) (*Message, error) {
	header, err := textproto.ReadHeader(bufio.NewReader(r))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("cannot read message header: %w", err)
	}
	return New(header, nil), nil
}

func (m *Message) Body() []byte {
	return m.body
}

func (m *Message) SetBody(body []byte) {
	m.body = body
}

// WriteTo flattens the message: header block, blank line, raw body
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	counter := &countingWriter{w: w}
	if err := textproto.WriteHeader(counter, m.Header); err != nil {
		return counter.n, err
	}
	_, err := counter.Write(m.body)
	return counter.n, err
}

func (m *Message) Bytes() ([]byte, error) {
	buffer := &bytes.Buffer{}
	if _, err := m.WriteTo(buffer); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// Clone returns a deep copy, so routing annotations never leak into the original
func (m *Message) Clone() *Message {
	body := make([]byte, len(m.body))
	copy(body, m.body)
	return &Message{
		Header: m.Header.Copy(),
		body:   body,
	}
}

func (m *Message) Get(key string) string {
	return m.Header.Get(key)
}

func (m *Message) Has(key string) bool {
	return m.Header.Has(key)
}

func (m *Message) Set(key, value string) {
	m.Header.Set(key, value)
}

func (m *Message) Del(key string) {
	m.Header.Del(key)
}

// From returns the raw From header, used as the sender identity
func (m *Message) From() string {
	return m.Header.Get(HeaderFrom)
}

func (m *Message) To() string {
	return m.Header.Get(HeaderTo)
}

func (m *Message) MessageID() string {
	return m.Header.Get(HeaderMessageID)
}

// Subject returns the decoded subject
func (m *Message) Subject() string {
	return m.Text(HeaderSubject)
}

// Text returns a header value with its RFC 2047 encoded words decoded.
// The raw value is returned when decoding fails.
func (m *Message) Text(key string) string {
	return DecodeHeader(m.Header.Get(key))
}

// SetText sets a header value, encoding it as RFC 2047 words when it's not plain ASCII
func (m *Message) SetText(key, value string) {
	m.Header.Set(key, mime.QEncoding.Encode("utf-8", value))
}

// Date parses the Date header
func (m *Message) Date() (time.Time, error) {
	value := m.Header.Get(HeaderDate)
	if value == "" {
		return time.Time{}, fmt.Errorf("missing %s header", HeaderDate)
	}
	header := mail.Header{Header: message.Header{Header: m.Header}}
	date, err := header.Date()
	if err == nil {
		return date, nil
	}
	for _, layout := range lenientDateLayouts {
		if date, lenientErr := time.ParseInLocation(layout, value, time.UTC); lenientErr == nil {
			return date, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid %s header %q: %w", HeaderDate, value, err)
}

// DateOrNow returns the Date header, or now when the header is missing or invalid
func (m *Message) DateOrNow(now time.Time) time.Time {
	date, err := m.Date()
	if err != nil {
		return now
	}
	return date
}

// DecodeHeader decodes RFC 2047 encoded words
func DecodeHeader(value string) string {
	decoded, err := wordDecoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
