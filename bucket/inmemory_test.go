package bucket

import (
	"net/http"
	"reflect"
	"testing"
	"time"
)

func TestInMemoryStore_Get(t *testing.T) {
	store := NewInMemoryStore()

	entry, err := store.Get("key1")
	if entry != nil {
		t.Error("Entry of non existing key should be nil")
		return
	}

	if err != nil {
		t.Errorf("Error while getting key: %s", err)
		return
	}

	err = store.Set("key1", &Entry{
		Status:   200,
		Header:   http.Header{"Content-Type": []string{"text/plain"}},
		Body:     []byte("Content"),
		StoredAt: time.Now(),
	})
	if err != nil {
		t.Errorf("Error while setting key: %s", err)
		return
	}

	entry, err = store.Get("key1")
	if err != nil {
		t.Errorf("Error while getting key: %s", err)
		return
	}

	if entry == nil {
		t.Error("Entry of existing key is nil")
		return
	}

	if entry.Status != 200 {
		t.Errorf("Status of entry is not equal, expected: %d, got: %d", 200, entry.Status)
	}

	if !reflect.DeepEqual(entry.Body, []byte("Content")) {
		t.Errorf("Body of entry is not equal, expected: %v, got %v", []byte("Content"), entry.Body)
	}

	if entry.Header.Get("Content-Type") != "text/plain" {
		t.Errorf("Content-Type of entry is not equal, expected: %s, got %s", "text/plain", entry.Header.Get("Content-Type"))
	}
}

func TestInMemoryStore_GetReturnsCopy(t *testing.T) {
	store := NewInMemoryStore()

	if err := store.Set("key1", &Entry{Status: 200, Body: []byte("original")}); err != nil {
		t.Fatalf("Error while setting key: %s", err)
	}

	entry, err := store.Get("key1")
	if err != nil {
		t.Fatalf("Error while getting key: %s", err)
	}

	//Mutating the returned entry must not change the stored one
	entry.Body[0] = 'X'

	entry, err = store.Get("key1")
	if err != nil {
		t.Fatalf("Error while getting key: %s", err)
	}

	if !reflect.DeepEqual(entry.Body, []byte("original")) {
		t.Errorf("Stored entry was mutated through a returned copy, got: %s", entry.Body)
	}
}

func TestInMemoryStore_InsertionOrder(t *testing.T) {
	store := NewInMemoryStore()

	for _, key := range []string{"a", "b", "c"} {
		if err := store.Set(key, &Entry{Status: 200}); err != nil {
			t.Fatalf("Error while setting key: %s", err)
		}
	}

	oldest, err := store.OldestKey()
	if err != nil {
		t.Fatalf("Error while getting oldest key: %s", err)
	}

	if oldest != "a" {
		t.Errorf("Oldest key is not the first inserted key, expected: %s, got: %s", "a", oldest)
	}

	keys, err := store.Keys()
	if err != nil {
		t.Fatalf("Error while listing keys: %s", err)
	}

	if !reflect.DeepEqual(keys, []string{"a", "b", "c"}) {
		t.Errorf("Keys are not in insertion order, expected: %v, got: %v", []string{"a", "b", "c"}, keys)
	}
}

func TestInMemoryStore_ReSetRefreshesInsertionSlot(t *testing.T) {
	store := NewInMemoryStore()

	for _, key := range []string{"a", "b"} {
		if err := store.Set(key, &Entry{Status: 200}); err != nil {
			t.Fatalf("Error while setting key: %s", err)
		}
	}

	//Re-storing "a" makes "b" the oldest entry
	if err := store.Set("a", &Entry{Status: 200}); err != nil {
		t.Fatalf("Error while setting key: %s", err)
	}

	oldest, err := store.OldestKey()
	if err != nil {
		t.Fatalf("Error while getting oldest key: %s", err)
	}

	if oldest != "b" {
		t.Errorf("Oldest key after re-set is wrong, expected: %s, got: %s", "b", oldest)
	}
}

func TestInMemoryStore_DeleteAndLen(t *testing.T) {
	store := NewInMemoryStore()

	if err := store.Set("key1", &Entry{Status: 200}); err != nil {
		t.Fatalf("Error while setting key: %s", err)
	}

	count, err := store.Len()
	if err != nil {
		t.Fatalf("Error while getting length: %s", err)
	}
	if count != 1 {
		t.Errorf("Length is wrong, expected: %d, got: %d", 1, count)
	}

	if err := store.Delete("key1"); err != nil {
		t.Fatalf("Error while deleting key: %s", err)
	}

	//Deleting a missing key is not an error
	if err := store.Delete("key1"); err != nil {
		t.Errorf("Deleting a missing key returned an error: %s", err)
	}

	count, err = store.Len()
	if err != nil {
		t.Fatalf("Error while getting length: %s", err)
	}
	if count != 0 {
		t.Errorf("Length after delete is wrong, expected: %d, got: %d", 0, count)
	}

	oldest, err := store.OldestKey()
	if err != nil {
		t.Fatalf("Error while getting oldest key: %s", err)
	}
	if oldest != "" {
		t.Errorf("Oldest key of empty store should be empty, got: %s", oldest)
	}
}

func TestSet_OpenNamesDrop(t *testing.T) {
	set := NewSet(nil)

	static := set.Open(Name("static", "v1"))
	if static == nil {
		t.Fatal("Open returned a nil store")
	}

	//Opening the same name again returns the same store
	if set.Open("static-v1") != static {
		t.Error("Open of an existing name returned a different store")
	}

	set.Open("page-v1")
	set.Open("image-v1")

	names := set.Names()
	if !reflect.DeepEqual(names, []string{"image-v1", "page-v1", "static-v1"}) {
		t.Errorf("Names are wrong, expected: %v, got: %v", []string{"image-v1", "page-v1", "static-v1"}, names)
	}

	set.Drop("static-v1")

	names = set.Names()
	if !reflect.DeepEqual(names, []string{"image-v1", "page-v1"}) {
		t.Errorf("Names after drop are wrong, expected: %v, got: %v", []string{"image-v1", "page-v1"}, names)
	}
}
