package queue

import (
	"fmt"
	"time"

	"github.com/creativeprojects/postoffice/lib"
	"github.com/creativeprojects/postoffice/store"
	bolt "go.etcd.io/bbolt"
)

const (
	messagesBucket   = "messages"
	quarantineBucket = "quarantine"
	dedupBucket      = "dedup"
	frequencyBucket  = "frequency"
)

var queueBuckets = []string{messagesBucket, quarantineBucket, dedupBucket, frequencyBucket}

type Option func(f *Folder)

// WithClock replaces time.Now for everything the queues date themselves:
// dedup window, quarantine dates and notices
func WithClock(now func() time.Time) Option {
	return func(f *Folder) {
		f.now = now
	}
}

// Folder is the named collection of queues stored under a bucket path.
// A Folder is only valid for the lifetime of its transaction.
type Folder struct {
	tx     *store.Tx
	bucket *bolt.Bucket
	path   string
	now    func() time.Time
}

// OpenFolder returns the folder stored at path. A writable transaction creates
// the folder when missing; a read-only one returns lib.ErrFolderNotFound.
func OpenFolder(tx *store.Tx, path string, options ...Option) (*Folder, error) {
	var bucket *bolt.Bucket
	if tx.Writable() {
		var err error
		bucket, err = tx.CreatePath(path)
		if err != nil {
			return nil, err
		}
	} else {
		bucket = tx.Path(path)
		if bucket == nil {
			return nil, fmt.Errorf("%w: %q", lib.ErrFolderNotFound, path)
		}
	}
	folder := &Folder{
		tx:     tx,
		bucket: bucket,
		path:   path,
		now:    time.Now,
	}
	for _, option := range options {
		option(folder)
	}
	return folder, nil
}

// Names returns the queue names in lexical order
func (f *Folder) Names() []string {
	names := make([]string, 0)
	cursor := f.bucket.Cursor()
	for key, value := cursor.First(); key != nil; key, value = cursor.Next() {
		if value == nil {
			names = append(names, string(key))
		}
	}
	return names
}

func (f *Folder) Has(name string) bool {
	return f.bucket.Bucket([]byte(name)) != nil
}

func (f *Folder) Get(name string) (*Queue, error) {
	bucket := f.bucket.Bucket([]byte(name))
	if bucket == nil {
		return nil, fmt.Errorf("%w: %q", lib.ErrQueueNotFound, name)
	}
	return f.newQueue(name, bucket)
}

// Create adds an empty queue, or returns the existing one
func (f *Folder) Create(name string) (*Queue, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty queue name", lib.ErrInvalidArgument)
	}
	bucket, err := f.bucket.CreateBucketIfNotExists([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("cannot create queue %q: %w", name, err)
	}
	for _, sub := range queueBuckets {
		_, err = bucket.CreateBucketIfNotExists([]byte(sub))
		if err != nil {
			return nil, fmt.Errorf("cannot create queue %q: %w", name, err)
		}
	}
	return f.newQueue(name, bucket)
}

// Delete removes the queue with everything it contains
func (f *Folder) Delete(name string) error {
	queue, err := f.Get(name)
	if err != nil {
		return err
	}
	queue.forgetAll()
	err = f.bucket.DeleteBucket([]byte(name))
	if err != nil {
		return fmt.Errorf("cannot delete queue %q: %w", name, err)
	}
	return nil
}

func (f *Folder) newQueue(name string, bucket *bolt.Bucket) (*Queue, error) {
	queue := &Queue{
		name: name,
		path: f.path + "/" + name,
		tx:   f.tx,
		now:  f.now,
	}
	subs := []**bolt.Bucket{&queue.messages, &queue.quarantine, &queue.dedup, &queue.frequency}
	for i, sub := range queueBuckets {
		*subs[i] = bucket.Bucket([]byte(sub))
		if *subs[i] == nil {
			return nil, fmt.Errorf("queue %q is missing its %s bucket", name, sub)
		}
	}
	return queue, nil
}
