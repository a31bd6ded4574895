// Package watchlist maps subscribable keys (component names, log channels,
// topic ids) to the set of values interested in them.
//
// A key is never present with an empty set: the set is created by the first
// Subscribe and the key is removed the instant its last value unsubscribes.
// This keeps memory bounded under high-churn ephemeral keys.
package watchlist

import "sync"

// Index is a concurrent key -> set index. The zero value is not usable; call New.
type Index[K comparable, V comparable] struct {
	mu      sync.RWMutex
	entries map[K]map[V]struct{}
}

// New creates an empty index.
func New[K comparable, V comparable]() *Index[K, V] {
	return &Index[K, V]{entries: make(map[K]map[V]struct{})}
}

// getOrInsertLocked returns the set for key, creating it on first use.
// The caller must hold the write lock.
func (ix *Index[K, V]) getOrInsertLocked(key K) map[V]struct{} {
	set, ok := ix.entries[key]
	if !ok {
		set = make(map[V]struct{})
		ix.entries[key] = set
	}
	return set
}

// pruneLocked removes key if its set is empty. The caller must hold the write lock.
func (ix *Index[K, V]) pruneLocked(key K) {
	if set, ok := ix.entries[key]; ok && len(set) == 0 {
		delete(ix.entries, key)
	}
}

// Subscribe adds v to the set for key. Subscribing twice is a no-op.
// It reports whether v was newly added.
func (ix *Index[K, V]) Subscribe(key K, v V) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	set := ix.getOrInsertLocked(key)
	if _, exists := set[v]; exists {
		return false
	}
	set[v] = struct{}{}
	return true
}

// Unsubscribe removes v from the set for key, dropping the key when the set
// becomes empty. Unknown keys and values are ignored. It reports whether v was removed.
func (ix *Index[K, V]) Unsubscribe(key K, v V) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	set, ok := ix.entries[key]
	if !ok {
		return false
	}
	if _, exists := set[v]; !exists {
		return false
	}
	delete(set, v)
	ix.pruneLocked(key)
	return true
}

// Subscribers returns a copy of the set for key. The copy can be iterated
// while other goroutines keep mutating the index.
func (ix *Index[K, V]) Subscribers(key K) []V {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	set, ok := ix.entries[key]
	if !ok {
		return nil
	}
	out := make([]V, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	return out
}

// RemoveAll removes v from every key it is subscribed to and returns how
// many subscriptions were dropped. Used when a connection goes away.
func (ix *Index[K, V]) RemoveAll(v V) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	removed := 0
	for key, set := range ix.entries {
		if _, ok := set[v]; ok {
			delete(set, v)
			removed++
			ix.pruneLocked(key)
		}
	}
	return removed
}

// Has reports whether key currently has at least one subscriber.
func (ix *Index[K, V]) Has(key K) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.entries[key]
	return ok
}

// Len returns the number of keys with subscribers.
func (ix *Index[K, V]) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Clear drops every subscription.
func (ix *Index[K, V]) Clear() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries = make(map[K]map[V]struct{})
}
