package kv

import (
	"errors"
	"sync"

	"github.com/gasparian/hash-dot-go/store"
	guuid "github.com/google/uuid"
)

var (
	keyNotFoundErr = errors.New("Key not found")
)

// KVStore keeps checkpoint blobs in an in-process map; every write gets a
// fresh revision id so callers can tell whether a state changed under them
type KVStore struct {
	mx        sync.RWMutex
	states    map[string][]byte
	revisions map[string]string
}

// NewKVStore creates an empty in-memory store
func NewKVStore() *KVStore {
	return &KVStore{
		states:    make(map[string][]byte),
		revisions: make(map[string]string),
	}
}

// KeysIterator streams stored layer names
type KeysIterator struct {
	names chan string
}

// Next returns the next stored name, false once drained
func (it *KeysIterator) Next() (string, bool) {
	name, opened := <-it.names
	if !opened {
		return "", false
	}
	return name, true
}

// SetState stores a copy of the blob under the layer name
func (s *KVStore) SetState(name string, blob []byte) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	owned := make([]byte, len(blob))
	copy(owned, blob)
	s.states[name] = owned
	s.revisions[name] = guuid.NewString()
	return nil
}

// GetState returns a copy of the stored blob
func (s *KVStore) GetState(name string) ([]byte, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()
	blob, ok := s.states[name]
	if !ok {
		return nil, keyNotFoundErr
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

// Revision returns the id of the last write for the given name
func (s *KVStore) Revision(name string) (string, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()
	rev, ok := s.revisions[name]
	if !ok {
		return "", keyNotFoundErr
	}
	return rev, nil
}

// GetNamesIterator returns an iterator over a snapshot of the stored names
func (s *KVStore) GetNamesIterator() (store.Iterator, error) {
	s.mx.RLock()
	names := make(chan string, len(s.states))
	for name := range s.states {
		names <- name
	}
	s.mx.RUnlock()
	close(names)
	return &KeysIterator{names: names}, nil
}

// Clear drops every stored state
func (s *KVStore) Clear() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.states = make(map[string][]byte)
	s.revisions = make(map[string]string)
	return nil
}
