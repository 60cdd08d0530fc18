// Package idl provides the ID list sets used by the secondary index layer.
//
// An ID list is a compressed set of internal entry identifiers. Lists are
// stored per (attribute, index type, value key) and combined with boolean
// set operations during filter resolution.
package idl

import (
	"bytes"
	"fmt"
	"io"
	"iter"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// Set is a compressed set of 64-bit entry identifiers. It wraps the
// official roaring implementation. A Set is not safe for concurrent
// mutation; snapshots share sets read-only and clone before writing.
type Set struct {
	rb *roaring64.Bitmap
}

// New creates a set holding the given identifiers.
func New(ids ...uint64) *Set {
	s := &Set{rb: roaring64.New()}
	for _, id := range ids {
		s.rb.Add(id)
	}
	return s
}

// Add inserts an identifier into the set.
func (s *Set) Add(id uint64) {
	s.rb.Add(id)
}

// Remove deletes an identifier from the set.
func (s *Set) Remove(id uint64) {
	s.rb.Remove(id)
}

// Contains reports whether the identifier is in the set.
func (s *Set) Contains(id uint64) bool {
	return s.rb.Contains(id)
}

// IsEmpty reports whether the set holds no identifiers.
func (s *Set) IsEmpty() bool {
	return s.rb.IsEmpty()
}

// Cardinality returns the number of identifiers in the set.
func (s *Set) Cardinality() uint64 {
	return s.rb.GetCardinality()
}

// Clone returns a deep copy of the set.
func (s *Set) Clone() *Set {
	return &Set{rb: s.rb.Clone()}
}

// And intersects the set with other in place.
func (s *Set) And(other *Set) {
	s.rb.And(other.rb)
}

// Or unions the set with other in place.
func (s *Set) Or(other *Set) {
	s.rb.Or(other.rb)
}

// Iterator returns the identifiers in ascending order.
func (s *Set) Iterator() iter.Seq[uint64] {
	return func(yield func(uint64) bool) {
		it := s.rb.Iterator()
		for it.HasNext() {
			if !yield(it.Next()) {
				return
			}
		}
	}
}

// Slice returns the identifiers in ascending order as a slice.
func (s *Set) Slice() []uint64 {
	return s.rb.ToArray()
}

// WriteTo writes the set in the portable roaring format.
func (s *Set) WriteTo(w io.Writer) (int64, error) {
	return s.rb.WriteTo(w)
}

// ReadFrom reads a set in the portable roaring format.
func (s *Set) ReadFrom(r io.Reader) (int64, error) {
	return s.rb.ReadFrom(r)
}

// Marshal returns the portable serialized form of the set.
func (s *Set) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("marshal id list: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal parses a set from its portable serialized form.
func Unmarshal(data []byte) (*Set, error) {
	s := New()
	if _, err := s.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("unmarshal id list: %w", err)
	}
	return s, nil
}

// String implements fmt.Stringer for diagnostics.
func (s *Set) String() string {
	return s.rb.String()
}
