package store

import (
	"github.com/creativeprojects/postoffice/email"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of parsed messages kept by a store
const DefaultCacheSize = 128

// Cache holds the most recently loaded messages by entry key.
// Nothing in it is ever persisted.
type Cache struct {
	items *lru.Cache[string, *email.Message]
}

// NewCache returns a cache of at most size messages (DefaultCacheSize when size <= 0)
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	// only a size <= 0 returns an error
	items, _ := lru.New[string, *email.Message](size)
	return &Cache{
		items: items,
	}
}

func (c *Cache) Get(key string) (*email.Message, bool) {
	return c.items.Get(key)
}

func (c *Cache) Put(key string, msg *email.Message) {
	c.items.Add(key, msg)
}

func (c *Cache) Delete(key string) {
	c.items.Remove(key)
}

func (c *Cache) Len() int {
	return c.items.Len()
}
