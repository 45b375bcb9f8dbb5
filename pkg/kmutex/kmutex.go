// Package kmutex provides a mutex keyed by string, used to serialize
// read-modify-write sequences on a single entity id without locking the
// whole store.
package kmutex

import "sync"

// KMutex hands out one mutex per key. Locks for distinct keys are
// independent; two goroutines locking the same key serialize.
type KMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New returns an empty KMutex.
func New() *KMutex {
	return &KMutex{locks: make(map[string]*entry)}
}

// Lock acquires the mutex for key, blocking until it is available.
func (k *KMutex) Lock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()
	e.mu.Lock()
}

// Unlock releases the mutex for key. The per-key entry is dropped once no
// goroutine holds or waits on it, so the map does not grow with the keyspace.
func (k *KMutex) Unlock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		k.mu.Unlock()
		panic("kmutex: unlock of unheld key " + key)
	}
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
	e.mu.Unlock()
}
