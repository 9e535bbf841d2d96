//Package queue implements the durable pending-mutation store of the offline proxy.
//
//Mutating requests that could not reach the network are appended here and survive
//process restarts until a replay pass clears the whole store.
package queue

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

//keyPrefix namespaces mutation records inside the database so other record
//types can share the same file later
const keyPrefix = "q:"

//A PendingMutation is a mutating request that could not reach the network
type PendingMutation struct {
	//URL is the absolute target URL the request was issued against
	URL string

	//Body is the serialized request body
	Body []byte

	//ContentType is the Content-Type header of the original request
	ContentType string

	//CreatedAt is the moment the mutation was queued
	CreatedAt time.Time
}

//A Store is a durable, insertion-ordered store of pending mutations backed by LevelDB.
//
//Each mutation is keyed by an auto-incrementing id encoded big-endian, so iterating
//the key range yields mutations in insertion order.
type Store struct {
	db *leveldb.DB

	mu     sync.Mutex
	nextID uint64
}

//Open opens (or creates) the store at the given path
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}

	store := &Store{db: db, nextID: 1}

	//Resume the id sequence after the highest key already on disk
	it := db.NewIterator(util.BytesPrefix([]byte(keyPrefix)), nil)
	if it.Last() {
		store.nextID = decodeKey(it.Key()) + 1
	}
	it.Release()
	if err := it.Error(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

//Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

//Append stores a new pending mutation and returns its id
func (s *Store) Append(m PendingMutation) (uint64, error) {
	value, err := encodeGob(m)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.mu.Unlock()

	if err := s.db.Put(encodeKey(id), value, nil); err != nil {
		return 0, err
	}

	return id, nil
}

//All returns every pending mutation in insertion order
func (s *Store) All() ([]PendingMutation, error) {
	var out []PendingMutation

	it := s.db.NewIterator(util.BytesPrefix([]byte(keyPrefix)), nil)
	defer it.Release()

	for it.Next() {
		var m PendingMutation
		if err := decodeGob(it.Value(), &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}

	return out, it.Error()
}

//Len returns the number of pending mutations
func (s *Store) Len() (int, error) {
	count := 0

	it := s.db.NewIterator(util.BytesPrefix([]byte(keyPrefix)), nil)
	defer it.Release()

	for it.Next() {
		count++
	}

	return count, it.Error()
}

//Clear deletes every pending mutation in a single batch
func (s *Store) Clear() error {
	batch := new(leveldb.Batch)

	it := s.db.NewIterator(util.BytesPrefix([]byte(keyPrefix)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}

	return s.db.Write(batch, nil)
}

func encodeKey(id uint64) []byte {
	key := make([]byte, len(keyPrefix)+8)
	copy(key, keyPrefix)
	binary.BigEndian.PutUint64(key[len(keyPrefix):], id)
	return key
}

func decodeKey(key []byte) uint64 {
	if len(key) != len(keyPrefix)+8 {
		return 0
	}
	return binary.BigEndian.Uint64(key[len(keyPrefix):])
}

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
