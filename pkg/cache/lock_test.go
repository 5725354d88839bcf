package cache_test

import (
	"sync"
	"testing"

	"github.com/treeverse/termstore/pkg/cache"
)

func TestChanLocker_LockAfterLock(t *testing.T) {
	c := cache.NewChanLocker()
	if !c.Lock("foo", func() {}) {
		t.Fatalf("expected first lock to acquire")
	}
	if !c.Lock("foo", func() {}) {
		t.Fatalf("expected second lock to acquire")
	}
}

func TestChanLocker_Lock(t *testing.T) {
	c := cache.NewChanLocker()

	holding := make(chan struct{})
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		acq := c.Lock("foo", func() {
			close(holding)
			<-done
		})
		if !acq {
			t.Error("expected to acquire foo lock")
		}
	}()
	<-holding

	// other keys are not blocked by foo
	barCalled := false
	if !c.Lock("bar", func() { barCalled = true }) {
		t.Fatal("expected to acquire bar lock")
	}
	if !barCalled {
		t.Fatal("bar update not called")
	}

	waited := make(chan bool)
	go func() {
		waited <- c.Lock("foo", func() {
			t.Error("foo should not be called while held")
		})
	}()
	close(done)
	if <-waited {
		t.Fatal("expected waiter not to acquire foo lock")
	}
	wg.Wait()
}
