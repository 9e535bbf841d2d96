package bucket

import (
	"net/http"
	"sort"
	"sync"
)

//The InMemoryStore keeps entries in memory
// This is the default backing store for cache buckets
type InMemoryStore struct {
	lock sync.RWMutex

	entries map[string]*inMemoryEntry

	//nextSeq is the insertion-order counter, it only ever increases
	nextSeq uint64
}

type inMemoryEntry struct {
	entry Entry
	seq   uint64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string]*inMemoryEntry, 64),
	}
}

func (store *InMemoryStore) Get(key string) (*Entry, error) {
	store.lock.RLock()
	defer store.lock.RUnlock()

	stored, found := store.entries[key]
	if !found {
		return nil, nil
	}

	//Copy the entry so callers can't mutate the stored response
	entry := stored.entry
	entry.Header = cloneHeader(stored.entry.Header)
	entry.Body = append([]byte(nil), stored.entry.Body...)

	return &entry, nil
}

func (store *InMemoryStore) Set(key string, entry *Entry) error {
	store.lock.Lock()
	defer store.lock.Unlock()

	//A re-set replaces the entry wholesale and takes a fresh insertion slot
	store.nextSeq++
	store.entries[key] = &inMemoryEntry{
		entry: Entry{
			Status:   entry.Status,
			Header:   cloneHeader(entry.Header),
			Body:     append([]byte(nil), entry.Body...),
			StoredAt: entry.StoredAt,
		},
		seq: store.nextSeq,
	}

	return nil
}

func (store *InMemoryStore) Delete(key string) error {
	store.lock.Lock()
	delete(store.entries, key)
	store.lock.Unlock()

	return nil
}

func (store *InMemoryStore) Len() (int, error) {
	store.lock.RLock()
	defer store.lock.RUnlock()

	return len(store.entries), nil
}

func (store *InMemoryStore) OldestKey() (string, error) {
	store.lock.RLock()
	defer store.lock.RUnlock()

	oldestKey := ""
	oldestSeq := uint64(0)

	for key, stored := range store.entries {
		if oldestKey == "" || stored.seq < oldestSeq {
			oldestKey = key
			oldestSeq = stored.seq
		}
	}

	return oldestKey, nil
}

func (store *InMemoryStore) Keys() ([]string, error) {
	store.lock.RLock()
	defer store.lock.RUnlock()

	keys := make([]string, 0, len(store.entries))
	for key := range store.entries {
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool {
		return store.entries[keys[i]].seq < store.entries[keys[j]].seq
	})

	return keys, nil
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for key, values := range h {
		copied := make([]string, len(values))
		copy(copied, values)
		out[key] = copied
	}

	return out
}
