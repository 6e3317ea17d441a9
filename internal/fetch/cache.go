package fetch

import (
	"github.com/coocood/freecache"
)

type cacheProvider interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
}

// responseCache keeps successful response bodies for a fixed ttl.
type responseCache struct {
	cache *freecache.Cache
	ttl   int
}

func newCacheProvider(sizeMB int, ttlSeconds int) cacheProvider {
	if sizeMB <= 0 || ttlSeconds <= 0 {
		return noopCache{}
	}
	return &responseCache{
		cache: freecache.NewCache(sizeMB * 1024 * 1024),
		ttl:   ttlSeconds,
	}
}

func (c *responseCache) Get(key string) ([]byte, bool) {
	val, err := c.cache.Get([]byte(key))
	if err != nil {
		return nil, false
	}
	return val, true
}

func (c *responseCache) Set(key string, value []byte) {
	_ = c.cache.Set([]byte(key), value, c.ttl)
}

type noopCache struct{}

func (noopCache) Get(string) ([]byte, bool) { return nil, false }
func (noopCache) Set(string, []byte)        {}
