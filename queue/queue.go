// Package queue implements the persistent FIFO queues of the post office,
// with their quarantine, duplicate window and sender frequency data.
package queue

import (
	"fmt"
	"hash/crc32"
	"strconv"
	"time"

	"github.com/creativeprojects/postoffice/email"
	"github.com/creativeprojects/postoffice/lib"
	"github.com/creativeprojects/postoffice/store"
	bolt "go.etcd.io/bbolt"
)

// DuplicateWindow is how long a Message-Id is remembered
const DuplicateWindow = 24 * time.Hour

// Queue is a first in first out queue of messages.
// A Queue is only valid for the lifetime of its transaction.
type Queue struct {
	name       string
	path       string
	tx         *store.Tx
	messages   *bolt.Bucket
	quarantine *bolt.Bucket
	dedup      *bolt.Bucket
	frequency  *bolt.Bucket
	now        func() time.Time
}

func (q *Queue) Name() string {
	return q.name
}

// Add appends a message at the end of the queue.
// It does not remember the Message-Id nor record frequency data.
func (q *Queue) Add(msg *email.Message) error {
	_, err := q.store(q.messages, messagesBucket, msg)
	if err != nil {
		return fmt.Errorf("cannot add message to queue %q: %w", q.name, err)
	}
	return nil
}

// PopNext removes the oldest message from the queue and returns it.
// It returns lib.ErrEmptyQueue when there's nothing left.
func (q *Queue) PopNext() (*email.Message, error) {
	key, data := q.messages.Cursor().First()
	if key == nil {
		return nil, fmt.Errorf("%w: %q", lib.ErrEmptyQueue, q.name)
	}
	id, err := store.DecodeID(key)
	if err != nil {
		return nil, err
	}
	msg, err := q.load(messagesBucket, id, data)
	if err != nil {
		return nil, err
	}
	err = q.messages.Delete(key)
	if err != nil {
		return nil, fmt.Errorf("cannot remove message %d from queue %q: %w", id, q.name, err)
	}
	q.tx.ForgetMessage(q.cacheKey(messagesBucket, id, data))
	return msg, nil
}

// Len returns the number of messages waiting in the queue
func (q *Queue) Len() int {
	return count(q.messages)
}

// IsDuplicate prunes the Message-Ids older than DuplicateWindow, then tells
// whether the Message-Id of msg is still remembered
func (q *Queue) IsDuplicate(msg *email.Message) (bool, error) {
	err := q.pruneMessageIDs()
	if err != nil {
		return false, err
	}
	messageID := msg.MessageID()
	if messageID == "" {
		return false, nil
	}
	return q.dedup.Get([]byte(messageID)) != nil, nil
}

// RememberMessageID starts the duplicate window of msg
func (q *Queue) RememberMessageID(msg *email.Message) error {
	messageID := msg.MessageID()
	if messageID == "" {
		return nil
	}
	now := q.now()
	data, err := store.SerializeObject(&now)
	if err != nil {
		return err
	}
	return q.dedup.Put([]byte(messageID), data)
}

func (q *Queue) pruneMessageIDs() error {
	cutoff := q.now().Add(-DuplicateWindow)
	expired := make([][]byte, 0)
	err := q.dedup.ForEach(func(key, value []byte) error {
		seen, err := store.DeserializeObject[time.Time](value)
		if err != nil {
			return fmt.Errorf("invalid entry for Message-Id %q: %w", string(key), err)
		}
		if seen.Before(cutoff) {
			expired = append(expired, key)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range expired {
		if err = q.dedup.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// store saves msg under the next id of bucket: the highest id plus one, or zero
func (q *Queue) store(bucket *bolt.Bucket, kind string, msg *email.Message) (uint64, error) {
	id, err := nextID(bucket)
	if err != nil {
		return 0, err
	}
	data, err := compressMessage(msg)
	if err != nil {
		return 0, err
	}
	err = q.put(bucket, kind, id, data)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (q *Queue) put(bucket *bolt.Bucket, kind string, id uint64, data []byte) error {
	err := bucket.Put(store.EncodeID(id), data)
	if err != nil {
		return fmt.Errorf("cannot save %s entry %d: %w", kind, id, err)
	}
	// the parsed form is only cached when the entry is loaded back
	return nil
}

func (q *Queue) load(kind string, id uint64, data []byte) (*email.Message, error) {
	key := q.cacheKey(kind, id, data)
	if msg, found := q.tx.CachedMessage(key); found {
		return msg, nil
	}
	msg, err := decompressMessage(data)
	if err != nil {
		return nil, fmt.Errorf("cannot load %s entry %d of queue %q: %w", kind, id, q.name, err)
	}
	q.tx.CacheMessage(key, msg)
	return msg, nil
}

// cacheKey identifies a stored entry. The checksum of the stored data is part
// of the key so an id reused by another process never hits a stale entry.
func (q *Queue) cacheKey(kind string, id uint64, data []byte) string {
	return q.path + "/" + kind + "/" + strconv.FormatUint(id, 10) + "/" + strconv.FormatUint(uint64(crc32.ChecksumIEEE(data)), 16)
}

func (q *Queue) forgetAll() {
	for _, item := range []struct {
		kind   string
		bucket *bolt.Bucket
	}{
		{messagesBucket, q.messages},
		{quarantineBucket, q.quarantine},
	} {
		cursor := item.bucket.Cursor()
		for key, data := cursor.First(); key != nil; key, data = cursor.Next() {
			if id, err := store.DecodeID(key); err == nil {
				q.tx.ForgetMessage(q.cacheKey(item.kind, id, data))
			}
		}
	}
}

func nextID(bucket *bolt.Bucket) (uint64, error) {
	key, _ := bucket.Cursor().Last()
	if key == nil {
		return 0, nil
	}
	last, err := store.DecodeID(key)
	if err != nil {
		return 0, err
	}
	return last + 1, nil
}

func count(bucket *bolt.Bucket) int {
	total := 0
	cursor := bucket.Cursor()
	for key, _ := cursor.First(); key != nil; key, _ = cursor.Next() {
		total++
	}
	return total
}

func compressMessage(msg *email.Message) ([]byte, error) {
	raw, err := msg.Bytes()
	if err != nil {
		return nil, fmt.Errorf("cannot flatten message: %w", err)
	}
	return store.Compress(raw)
}

func decompressMessage(data []byte) (*email.Message, error) {
	raw, err := store.Decompress(data)
	if err != nil {
		return nil, err
	}
	return email.Parse(raw)
}
