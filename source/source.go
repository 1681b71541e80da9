// Package source provides the inboxes the post office imports messages from.
package source

import (
	"io"
	"time"
)

// Item is a raw message waiting in an inbox
type Item interface {
	// Key identifies the message in its inbox. Items are processed in Key order.
	Key() string
	Size() int64
	Open() (io.ReadCloser, error)
}

// Inbox is a drop box of raw messages
type Inbox interface {
	// Messages lists the messages waiting, sorted by key
	Messages() ([]Item, error)
	// Archive moves a processed message out of the inbox
	Archive(item Item) error
	Close() error
}

// ArchiveFolder is the name of the folder receiving the messages processed on that day
func ArchiveFolder(date time.Time) string {
	return date.Format("2006.01.02")
}
