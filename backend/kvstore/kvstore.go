// Package kvstore provides the durable key-value layer beneath the backend.
//
// The layout uses three buckets: entries keyed by big-endian internal ID,
// index ID lists keyed by (attribute, index type, value key), and a single
// metadata record. All writes of a transaction are flushed in one Update
// call, so a crash either persists the whole transaction or none of it.
package kvstore

import (
	"bytes"
	"encoding/binary"
)

// Bucket names.
var (
	BucketEntries = []byte("id2entry")
	BucketIndex   = []byte("idx")
	BucketMeta    = []byte("meta")
)

// KeyMeta is the key of the single metadata record in BucketMeta.
var KeyMeta = []byte("meta")

// Index type tokens used in index keys.
const (
	IndexEquality = "eq"
	IndexPresence = "pres"
)

// Tx is a single storage transaction. Implementations must apply all
// mutations atomically when the enclosing Update returns nil, and none
// of them when it returns an error.
type Tx interface {
	// Get returns the value for key, or nil if absent. The returned slice
	// is only valid until the transaction ends.
	Get(bucket, key []byte) []byte
	// Put stores a key-value pair.
	Put(bucket, key, value []byte) error
	// Delete removes a key. Deleting an absent key is not an error.
	Delete(bucket, key []byte) error
	// Scan calls fn for every pair in the bucket in ascending key order.
	// Returning an error from fn stops the scan.
	Scan(bucket []byte, fn func(key, value []byte) error) error
	// Clear removes every pair in the bucket.
	Clear(bucket []byte) error
}

// Store is a transactional key-value store.
type Store interface {
	// Update runs fn in a read-write transaction. The transaction commits
	// when fn returns nil and rolls back otherwise.
	Update(fn func(tx Tx) error) error
	// View runs fn in a read-only transaction.
	View(fn func(tx Tx) error) error
	// Close releases the store.
	Close() error
}

// IDKey encodes an internal entry identifier as a big-endian storage key,
// so a scan over the entry bucket yields entries in ID order.
func IDKey(id uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, id)
	return k
}

// ParseIDKey decodes an entry bucket key.
func ParseIDKey(k []byte) (uint64, bool) {
	if len(k) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(k), true
}

// IdxKey encodes an index bucket key. Attribute names and index type
// tokens never contain NUL, so the encoding is unambiguous.
func IdxKey(attr, itype, valueKey string) []byte {
	k := make([]byte, 0, len(attr)+len(itype)+len(valueKey)+2)
	k = append(k, attr...)
	k = append(k, 0)
	k = append(k, itype...)
	k = append(k, 0)
	k = append(k, valueKey...)
	return k
}

// SplitIdxKey decodes an index bucket key.
func SplitIdxKey(k []byte) (attr, itype, valueKey string, ok bool) {
	i := bytes.IndexByte(k, 0)
	if i < 0 {
		return "", "", "", false
	}
	j := bytes.IndexByte(k[i+1:], 0)
	if j < 0 {
		return "", "", "", false
	}
	j += i + 1
	return string(k[:i]), string(k[i+1 : j]), string(k[j+1:]), true
}
