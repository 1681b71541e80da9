package router

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/creativeprojects/postoffice/cfg"
	"github.com/creativeprojects/postoffice/email"
	"github.com/creativeprojects/postoffice/lib"
	"github.com/creativeprojects/postoffice/queue"
	"github.com/creativeprojects/postoffice/source"
	"github.com/creativeprojects/postoffice/store"
	"github.com/stretchr/testify/require"
)

var testDate = time.Date(2010, 5, 12, 2, 42, 0, 0, time.UTC)

const baseConfig = `
postoffice:
  database: postoffice.db
  maildir: inbox
`

type memoryItem struct {
	key string
	raw []byte
}

func (i *memoryItem) Key() string {
	return i.key
}

func (i *memoryItem) Size() int64 {
	return int64(len(i.raw))
}

func (i *memoryItem) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(i.raw)), nil
}

type memoryInbox struct {
	items    []*memoryItem
	archived []string
}

func (b *memoryInbox) add(key string, raw []byte) {
	b.items = append(b.items, &memoryItem{key: key, raw: raw})
}

func (b *memoryInbox) Messages() ([]source.Item, error) {
	items := make([]source.Item, len(b.items))
	for i, item := range b.items {
		items[i] = item
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Key() < items[j].Key()
	})
	return items, nil
}

func (b *memoryInbox) Archive(item source.Item) error {
	for i, current := range b.items {
		if current.key == item.Key() {
			b.items = append(b.items[:i], b.items[i+1:]...)
			b.archived = append(b.archived, item.Key())
			return nil
		}
	}
	return fmt.Errorf("%w: unknown item %q", lib.ErrInvalidArgument, item.Key())
}

func (b *memoryInbox) Close() error {
	return nil
}

// rawMessage builds a message; extra lines are added to the header as they are
func rawMessage(to, subject, messageID string, extra ...string) []byte {
	header := []string{
		"From: Woody Woodpecker <woody@example.com>",
		"To: " + to,
		"Subject: " + subject,
		"Date: Wed, 12 May 2010 02:42:00 +0000",
	}
	if messageID != "" {
		header = append(header, "Message-Id: "+messageID)
	}
	header = append(header, extra...)
	return []byte(strings.Join(header, "\r\n") + "\r\n\r\nHello!\r\n")
}

func newTestConfig(t *testing.T, extra string) *cfg.Config {
	t.Helper()
	config, err := cfg.ParseBytes([]byte(baseConfig+extra), cfg.FormatYAML)
	require.NoError(t, err)
	return config
}

func newTestStore(t *testing.T) *store.BoltStore {
	t.Helper()
	db, err := store.NewBoltStoreWithLogger(filepath.Join(t.TempDir(), "postoffice.db"), lib.NewTestLogger(t, "store"))
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	require.NoError(t, db.Init())
	return db
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

// newTestRouter returns a router with its queues reconciled
func newTestRouter(t *testing.T, config *cfg.Config, options ...Option) *Router {
	t.Helper()
	clock := &testClock{now: testDate}
	options = append([]Option{WithClock(clock.Now), WithDebugLogger(lib.NewTestLogger(t, "router"))}, options...)
	router := New(config, newTestStore(t), options...)
	require.NoError(t, router.ReconcileQueues(nil))
	return router
}

// popAll empties the queue, oldest message first
func popAll(t *testing.T, router *Router, name string) []*email.Message {
	t.Helper()
	messages := make([]*email.Message, 0)
	err := router.WithQueue(name, func(q *queue.Queue) error {
		for q.Len() > 0 {
			msg, err := q.PopNext()
			if err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		return nil
	})
	require.NoError(t, err)
	return messages
}

func queueLen(t *testing.T, router *Router, name string) int {
	t.Helper()
	length := 0
	err := router.ViewQueue(name, func(q *queue.Queue) error {
		length = q.Len()
		return nil
	})
	require.NoError(t, err)
	return length
}

func parse(t *testing.T, raw []byte) *email.Message {
	t.Helper()
	msg, err := email.Parse(raw)
	require.NoError(t, err)
	return msg
}
