package bucket

import (
	"net/http"
	"sort"
	"sync"
	"time"
)

//Entry is a stored response for a single request identity.
// An entry is always replaced wholesale when the same key is stored again, never merged.
type Entry struct {
	Status int
	Header http.Header
	Body   []byte

	//StoredAt is the moment the entry was written to the bucket
	StoredAt time.Time
}

//A Store holds the entries of a single named cache bucket.
//
// All actions of a store must be safe for concurrent use by multiple goroutines.
type Store interface {

	//Get requests a stored entry with the given key.
	// If there is no entry with that key nil is returned.
	// Error should only be returned in case of a storage error, not for a miss.
	Get(key string) (*Entry, error)

	//Set stores a new entry. If the key is already in use the entry is overwritten
	// and the key takes a fresh insertion-order slot.
	Set(key string, entry *Entry) error

	//Delete removes the entry with the given key, missing keys are not an error
	Delete(key string) error

	//Len returns the number of entries currently in the store
	Len() (int, error)

	//OldestKey returns the key of the oldest-inserted entry, or "" if the store is empty.
	// Insertion order, not access recency, decides which entry is oldest.
	OldestKey() (string, error)

	//Keys returns all keys currently in the store, in insertion order
	Keys() ([]string, error)
}

//Name builds the versioned bucket name for a role, for example Name("image", "v3") == "image-v3"
func Name(role, version string) string {
	return role + "-" + version
}

//A Set manages the named buckets of the proxy.
// Buckets are created on first use and live until dropped by the activation sweep.
type Set struct {
	mu      sync.RWMutex
	buckets map[string]Store
	factory func() Store
}

//NewSet creates a bucket set which uses factory to create the backing store of new buckets.
// If factory is nil in-memory stores are used.
func NewSet(factory func() Store) *Set {
	if factory == nil {
		factory = func() Store { return NewInMemoryStore() }
	}

	return &Set{
		buckets: make(map[string]Store),
		factory: factory,
	}
}

//Open returns the bucket with the given name, creating it if it doesn't exist yet
func (s *Set) Open(name string) Store {
	s.mu.RLock()
	store, found := s.buckets[name]
	s.mu.RUnlock()

	if found {
		return store
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	//Re-check, another goroutine may have created the bucket while we upgraded the lock
	if store, found := s.buckets[name]; found {
		return store
	}

	store = s.factory()
	s.buckets[name] = store

	return store
}

//Names returns the names of all buckets currently in the set, sorted for stable iteration
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.buckets))
	for name := range s.buckets {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

//Drop deletes a bucket and all of its entries, dropping an unknown name is not an error
func (s *Set) Drop(name string) {
	s.mu.Lock()
	delete(s.buckets, name)
	s.mu.Unlock()
}
