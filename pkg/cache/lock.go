package cache

import "sync"

// ChanLocker runs at most one function per key at a time.
type ChanLocker struct {
	mu      sync.Mutex
	waiting map[interface{}]chan struct{}
}

func NewChanLocker() *ChanLocker {
	return &ChanLocker{waiting: make(map[interface{}]chan struct{})}
}

// Lock runs fn and returns true when no other fn holds k.  Otherwise it waits for the holder
// to finish and returns false without running fn.
func (l *ChanLocker) Lock(k interface{}, fn func()) bool {
	l.mu.Lock()
	if ch, ok := l.waiting[k]; ok {
		l.mu.Unlock()
		<-ch
		return false
	}
	ch := make(chan struct{})
	l.waiting[k] = ch
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.waiting, k)
		l.mu.Unlock()
		close(ch)
	}()
	fn()
	return true
}
