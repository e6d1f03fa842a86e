// Package locker provides per-key reader/writer locks.
package locker

import "sync"

// Keyed hands out one RWMutex per key. Entries are reference counted and
// dropped once no goroutine holds or waits on them.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	rw   sync.RWMutex
	refs int
}

// New returns an empty Keyed locker.
func New() *Keyed {
	return &Keyed{locks: make(map[string]*entry)}
}

func (k *Keyed) acquire(key string) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	return e
}

func (k *Keyed) release(key string, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

// Lock takes the write lock for key and returns its unlock function.
func (k *Keyed) Lock(key string) (unlock func()) {
	e := k.acquire(key)
	e.rw.Lock()
	return func() {
		e.rw.Unlock()
		k.release(key, e)
	}
}

// RLock takes the read lock for key and returns its unlock function.
func (k *Keyed) RLock(key string) (unlock func()) {
	e := k.acquire(key)
	e.rw.RLock()
	return func() {
		e.rw.RUnlock()
		k.release(key, e)
	}
}

// Len returns the number of keys currently held or waited on.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
