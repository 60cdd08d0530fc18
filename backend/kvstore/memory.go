package kvstore

import (
	"bytes"
	"sort"
	"sync"
)

// Memory is an in-process Store. It mirrors the transactional behavior of
// the file-backed store, including rollback of failed updates, and is
// intended for tests and ephemeral instances.
type Memory struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-process store with all buckets present.
func NewMemory() *Memory {
	s := &Memory{buckets: make(map[string]map[string][]byte)}
	for _, bucket := range [][]byte{BucketEntries, BucketIndex, BucketMeta} {
		s.buckets[string(bucket)] = make(map[string][]byte)
	}
	return s
}

// Update implements Store. The previous state is retained until fn
// returns, so an error rolls the store back.
func (s *Memory) Update(fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.buckets
	next := make(map[string]map[string][]byte, len(prev))
	for name, b := range prev {
		nb := make(map[string][]byte, len(b))
		for k, v := range b {
			nb[k] = v
		}
		next[name] = nb
	}

	s.buckets = next
	if err := fn(memTx{s}); err != nil {
		s.buckets = prev
		return err
	}
	return nil
}

// View implements Store.
func (s *Memory) View(fn func(tx Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(memTx{s})
}

// Close implements Store.
func (s *Memory) Close() error {
	return nil
}

type memTx struct {
	s *Memory
}

func (t memTx) Get(bucket, key []byte) []byte {
	b := t.s.buckets[string(bucket)]
	if b == nil {
		return nil
	}
	return b[string(key)]
}

func (t memTx) Put(bucket, key, value []byte) error {
	b := t.s.buckets[string(bucket)]
	if b == nil {
		b = make(map[string][]byte)
		t.s.buckets[string(bucket)] = b
	}
	b[string(key)] = bytes.Clone(value)
	return nil
}

func (t memTx) Delete(bucket, key []byte) error {
	if b := t.s.buckets[string(bucket)]; b != nil {
		delete(b, string(key))
	}
	return nil
}

func (t memTx) Scan(bucket []byte, fn func(key, value []byte) error) error {
	b := t.s.buckets[string(bucket)]
	if b == nil {
		return nil
	}

	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := fn([]byte(k), b[k]); err != nil {
			return err
		}
	}
	return nil
}

func (t memTx) Clear(bucket []byte) error {
	t.s.buckets[string(bucket)] = make(map[string][]byte)
	return nil
}
