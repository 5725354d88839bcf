package cache_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/treeverse/termstore/pkg/cache"
)

func TestCacheRace(t *testing.T) {
	const (
		parallelism = 25
		n           = 200
		worldSize   = 10
		cacheSize   = 7
	)

	c := cache.NewCache(cacheSize, time.Hour*12, cache.NewJitterFn(time.Millisecond))

	start := make(chan struct{})
	wg := sync.WaitGroup{}

	for i := 0; i < parallelism; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			for j := 0; j < n; j++ {
				k := j % worldSize
				kk, err := c.GetOrSet(k, func() (interface{}, error) {
					return k * k, nil
				})
				if err != nil && !errors.Is(err, cache.ErrCacheItemNotFound) {
					t.Error(err)
					return
				}
				if err == nil && kk.(int) != k*k {
					t.Errorf("[%d] got %d^2=%d, expected %d", i, k, kk, k*k)
				}
			}
		}(i)
	}
	close(start)
	wg.Wait()
}

func TestCache_GetOrSet(t *testing.T) {
	var calls atomic.Int32
	c := cache.NewCacheByParams(&cache.Params{Name: "branches", Size: 10, Expiry: time.Hour})
	require.Equal(t, "branches", c.Name())

	load := func() (interface{}, error) {
		calls.Add(1)
		return "main", nil
	}
	for i := 0; i < 3; i++ {
		v, err := c.GetOrSet(1, load)
		require.NoError(t, err)
		require.Equal(t, "main", v)
	}
	require.EqualValues(t, 1, calls.Load())

	c.Remove(1)
	_, err := c.GetOrSet(1, load)
	require.NoError(t, err)
	require.EqualValues(t, 2, calls.Load())

	c.Purge()
	_, err = c.GetOrSet(1, load)
	require.NoError(t, err)
	require.EqualValues(t, 3, calls.Load())
}

func TestCache_ErrorNotCached(t *testing.T) {
	errLoad := errors.New("load failed")
	c := cache.NewCache(10, time.Hour, nil)
	_, err := c.GetOrSet("k", func() (interface{}, error) { return nil, errLoad })
	require.ErrorIs(t, err, errLoad)

	v, err := c.GetOrSet("k", func() (interface{}, error) { return 7, nil })
	require.NoError(t, err)
	require.Equal(t, 7, v)
}

func TestCache_Evict(t *testing.T) {
	var evicted []interface{}
	c := cache.NewCacheByParams(&cache.Params{
		Size:    1,
		Expiry:  time.Hour,
		OnEvict: func(key interface{}, _ interface{}) { evicted = append(evicted, key) },
	})
	for _, k := range []string{"a", "b"} {
		k := k
		_, err := c.GetOrSet(k, func() (interface{}, error) { return k, nil })
		require.NoError(t, err)
	}
	require.Equal(t, []interface{}{"a"}, evicted)
}

func TestNoCache(t *testing.T) {
	var calls int
	for i := 0; i < 2; i++ {
		_, err := cache.NoCache.GetOrSet(1, func() (interface{}, error) {
			calls++
			return nil, nil
		})
		require.NoError(t, err)
	}
	require.Equal(t, 2, calls)
}
