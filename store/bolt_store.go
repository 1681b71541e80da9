// Package store wraps the bbolt database holding the queues.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creativeprojects/postoffice/email"
	"github.com/creativeprojects/postoffice/lib"
	bolt "go.etcd.io/bbolt"
)

const (
	metadataBucket  = "metadata"
	versionKey      = "version"
	boltFileVersion = 1
	openTimeout     = 10 * time.Second
)

type BoltStore struct {
	dbFile string
	db     *bolt.DB
	cache  *Cache
	log    lib.Logger
}

func NewBoltStore(filename string) (*BoltStore, error) {
	return NewBoltStoreWithLogger(filename, nil)
}

// NewBoltStoreWithLogger opens (or creates) the database file. It waits up to
// 10 seconds for another process to release the file lock.
func NewBoltStoreWithLogger(filename string, logger lib.Logger) (*BoltStore, error) {
	if logger == nil {
		logger = &lib.NoLog{}
	}
	options := *bolt.DefaultOptions
	options.Timeout = openTimeout

	err := os.MkdirAll(filepath.Dir(filename), 0700)
	if err != nil {
		return nil, fmt.Errorf("cannot open %q: %w", filename, err)
	}

	db, err := bolt.Open(filename, 0600, &options)
	if err != nil {
		return nil, fmt.Errorf("cannot open %q: %w", filename, err)
	}

	return &BoltStore{
		dbFile: filename,
		db:     db,
		cache:  NewCache(DefaultCacheSize),
		log:    logger,
	}, nil
}

func (s *BoltStore) Filename() string {
	return s.dbFile
}

// Init writes the file version, or checks it when the file was already initialized
func (s *BoltStore) Init() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if data := bucket.Get([]byte(versionKey)); data != nil {
			version, err := DeserializeInt(data)
			if err != nil {
				return err
			}
			if version > boltFileVersion {
				return fmt.Errorf("%w: file version %d is newer than %d", lib.ErrStoreVersion, version, boltFileVersion)
			}
			return nil
		}
		version, err := SerializeInt(boltFileVersion)
		if err != nil {
			return err
		}
		s.log.Printf("initializing store %q version %d", s.dbFile, boltFileVersion)
		return bucket.Put([]byte(versionKey), version)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// CacheSize returns the number of parsed messages held in memory
func (s *BoltStore) CacheSize() int {
	return s.cache.Len()
}

// WithTransaction runs fn inside a read-write transaction.
// The transaction is committed when fn returns nil and rolled back otherwise.
func (s *BoltStore) WithTransaction(fn func(tx *Tx) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&Tx{Tx: tx, cache: s.cache})
	})
}

// View runs fn inside a read-only transaction
func (s *BoltStore) View(fn func(tx *Tx) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&Tx{Tx: tx, cache: s.cache})
	})
}

func (s *BoltStore) Backup(filename string) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.CopyFile(filename, 0600)
	})
	if err != nil {
		return err
	}
	return nil
}

// Tx is a bbolt transaction sharing the process-local message cache of its store
type Tx struct {
	*bolt.Tx
	cache *Cache
}

// Path returns the nested bucket at a slash separated path, or nil when any
// part of it is missing
func (tx *Tx) Path(path string) *bolt.Bucket {
	names := splitPath(path)
	if len(names) == 0 {
		return nil
	}
	bucket := tx.Bucket([]byte(names[0]))
	for _, name := range names[1:] {
		if bucket == nil {
			return nil
		}
		bucket = bucket.Bucket([]byte(name))
	}
	return bucket
}

// CreatePath returns the nested bucket at a slash separated path, creating
// the missing parts
func (tx *Tx) CreatePath(path string) (*bolt.Bucket, error) {
	names := splitPath(path)
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: empty bucket path", lib.ErrInvalidArgument)
	}
	bucket, err := tx.CreateBucketIfNotExists([]byte(names[0]))
	if err != nil {
		return nil, fmt.Errorf("cannot create bucket %q: %w", names[0], err)
	}
	for _, name := range names[1:] {
		bucket, err = bucket.CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return nil, fmt.Errorf("cannot create bucket %q: %w", name, err)
		}
	}
	return bucket, nil
}

// CachedMessage returns the parsed form of a stored message, if this process already has it
func (tx *Tx) CachedMessage(key string) (*email.Message, bool) {
	return tx.cache.Get(key)
}

// CacheMessage keeps the parsed form of a stored message once the transaction is committed.
// Read-only transactions only ever see committed data, so they cache immediately.
func (tx *Tx) CacheMessage(key string, msg *email.Message) {
	if !tx.Writable() {
		tx.cache.Put(key, msg)
		return
	}
	tx.OnCommit(func() {
		tx.cache.Put(key, msg)
	})
}

// ForgetMessage removes a message from the cache. A pending entry is dropped
// right away so a rolled back transaction never leaves a stale value behind.
func (tx *Tx) ForgetMessage(key string) {
	tx.cache.Delete(key)
	if tx.Writable() {
		tx.OnCommit(func() {
			tx.cache.Delete(key)
		})
	}
}

func splitPath(path string) []string {
	names := make([]string, 0, 2)
	for _, name := range strings.Split(path, "/") {
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}
