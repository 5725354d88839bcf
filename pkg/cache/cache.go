package cache

import (
	"errors"
	"math/rand"
	"time"

	lru "github.com/hnlq715/golang-lru"
)

type (
	JitterFn         func() time.Duration
	SetFn            func() (v interface{}, err error)
	EvictionCallback func(key interface{}, value interface{})
)

// Params controls a Cache.
type Params struct {
	Name     string
	Size     int
	Expiry   time.Duration
	JitterFn JitterFn // added to Expiry of each entry; nil means none
	OnEvict  EvictionCallback
}

type Cache interface {
	Name() string
	// GetOrSet returns the cached value of k, loading it with setFn when missing.
	GetOrSet(k interface{}, setFn SetFn) (v interface{}, err error)
	Remove(k interface{})
	Purge()
}

// ErrCacheItemNotFound is returned to callers that waited on a concurrent load
// of the same key which stored nothing.
var ErrCacheItemNotFound = errors.New("cache item not found")

// GetSetCache is an expiring LRU where concurrent misses on one key share a
// single load.
type GetSetCache struct {
	name     string
	expiry   time.Duration
	jitter   JitterFn
	entries  *lru.Cache
	inflight *ChanLocker
}

func NewCache(size int, expiry time.Duration, jitterFn JitterFn) *GetSetCache {
	return NewCacheByParams(&Params{Size: size, Expiry: expiry, JitterFn: jitterFn})
}

// NewCacheByParams panics when p.Size is not positive.
func NewCacheByParams(p *Params) *GetSetCache {
	entries, err := lru.NewWithEvict(p.Size, p.OnEvict)
	if err != nil {
		panic(err)
	}
	jitter := p.JitterFn
	if jitter == nil {
		jitter = NewJitterFn(0)
	}
	return &GetSetCache{
		name:     p.Name,
		expiry:   p.Expiry,
		jitter:   jitter,
		entries:  entries,
		inflight: NewChanLocker(),
	}
}

func (c *GetSetCache) Name() string { return c.name }

func (c *GetSetCache) GetOrSet(k interface{}, setFn SetFn) (interface{}, error) {
	if v, ok := c.entries.Get(k); ok {
		return v, nil
	}
	var (
		v   interface{}
		err error
	)
	loaded := c.inflight.Lock(k, func() {
		if v, err = setFn(); err == nil {
			c.entries.AddEx(k, v, c.expiry+c.jitter())
		}
	})
	if loaded {
		return v, err
	}
	if v, ok := c.entries.Get(k); ok {
		return v, nil
	}
	return nil, ErrCacheItemNotFound
}

func (c *GetSetCache) Remove(k interface{}) { c.entries.Remove(k) }

func (c *GetSetCache) Purge() { c.entries.Purge() }

// NewJitterFn returns a uniform random duration in [0, jitter).
func NewJitterFn(jitter time.Duration) JitterFn {
	if jitter <= 0 {
		return func() time.Duration { return 0 }
	}
	return func() time.Duration {
		return time.Duration(rand.Int63n(int64(jitter))) //nolint:gosec
	}
}
