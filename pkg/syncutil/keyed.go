package syncutil

import "sync"

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// KeyedMutex hands out one mutex per key and drops it once nobody holds or waits on it.
type KeyedMutex[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*keyedEntry
}

// NewKeyedMutex creates an empty lock table.
func NewKeyedMutex[K comparable]() *KeyedMutex[K] {
	return &KeyedMutex[K]{entries: make(map[K]*keyedEntry)}
}

// Lock blocks until key is free and returns the matching unlock func.
func (k *KeyedMutex[K]) Lock(key K) func() {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &keyedEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}

// Len returns the number of keys currently held or awaited.
func (k *KeyedMutex[K]) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
