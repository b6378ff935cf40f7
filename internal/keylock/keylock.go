// Package keylock provides per-key mutual exclusion around data source
// ingestion. Writers (ingest, delete) take Lock; readers (queries,
// cardinality probes) take RLock so they never observe a table mid
// drop/recreate.
package keylock

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
)

// Locker hands out per-key locks. The returned unlock func must be called
// exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
	RLock(ctx context.Context, key string) (unlock func(), err error)
}

type entry struct {
	mu   sync.RWMutex
	refs int
}

// Local is an in-process arena of RW locks keyed by string. Entries are
// reference counted and dropped once nobody holds or waits on them.
type Local struct {
	entries *xsync.Map[string, *entry]
}

// NewLocal returns an empty arena.
func NewLocal() *Local {
	return &Local{entries: xsync.NewMap[string, *entry]()}
}

func (l *Local) acquire(key string) *entry {
	e, _ := l.entries.Compute(key, func(old *entry, loaded bool) (*entry, xsync.ComputeOp) {
		if !loaded {
			old = &entry{}
		}
		old.refs++
		return old, xsync.UpdateOp
	})
	return e
}

func (l *Local) release(key string) {
	l.entries.Compute(key, func(old *entry, loaded bool) (*entry, xsync.ComputeOp) {
		if !loaded {
			return nil, xsync.CancelOp
		}
		old.refs--
		if old.refs <= 0 {
			return nil, xsync.DeleteOp
		}
		return old, xsync.UpdateOp
	})
}

// Lock takes the exclusive lock for key.
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	e := l.acquire(key)
	return l.wait(ctx, key, e.mu.Lock, e.mu.Unlock)
}

// RLock takes the shared lock for key.
func (l *Local) RLock(ctx context.Context, key string) (func(), error) {
	e := l.acquire(key)
	return l.wait(ctx, key, e.mu.RLock, e.mu.RUnlock)
}

// wait blocks on lock until it is held or ctx is done. When ctx wins, a
// goroutine finishes acquiring in the background and releases immediately.
func (l *Local) wait(ctx context.Context, key string, lock, unlock func()) (func(), error) {
	release := func() {
		unlock()
		l.release(key)
	}

	done := make(chan struct{})
	go func() {
		lock()
		close(done)
	}()

	select {
	case <-done:
		var once sync.Once
		return func() { once.Do(release) }, nil
	case <-ctx.Done():
		go func() {
			<-done
			release()
		}()
		return nil, ctx.Err()
	}
}

// Len reports how many keys currently have holders or waiters.
func (l *Local) Len() int { return l.entries.Size() }

var _ Locker = (*Local)(nil)
