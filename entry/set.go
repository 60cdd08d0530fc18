package entry

import (
	"iter"

	"github.com/hupe1980/dirgo/value"
)

// ValueSet is an ordered set of attribute values. Order is insertion order;
// duplicates (under the values' matching rules) are dropped on insert.
type ValueSet struct {
	vals []value.Value
}

// NewValueSet creates a ValueSet from the given values, deduplicating while
// preserving first-seen order.
func NewValueSet(vals ...value.Value) *ValueSet {
	vs := &ValueSet{vals: make([]value.Value, 0, len(vals))}
	for _, v := range vals {
		vs.Add(v)
	}
	return vs
}

// Len returns the number of values in the set.
func (vs *ValueSet) Len() int {
	if vs == nil {
		return 0
	}
	return len(vs.vals)
}

// Contains reports whether the set holds a value equal to v.
func (vs *ValueSet) Contains(v value.Value) bool {
	if vs == nil {
		return false
	}
	for _, o := range vs.vals {
		if o.Equal(v) {
			return true
		}
	}
	return false
}

// Add inserts v unless an equal value is already present. It reports whether
// the set changed.
func (vs *ValueSet) Add(v value.Value) bool {
	if v.IsZero() || vs.Contains(v) {
		return false
	}
	vs.vals = append(vs.vals, v)
	return true
}

// Remove deletes the value equal to v, if present, and reports whether the
// set changed.
func (vs *ValueSet) Remove(v value.Value) bool {
	for i, o := range vs.vals {
		if o.Equal(v) {
			vs.vals = append(vs.vals[:i], vs.vals[i+1:]...)
			return true
		}
	}
	return false
}

// First returns the first value of the set.
func (vs *ValueSet) First() (value.Value, bool) {
	if vs.Len() == 0 {
		return value.Value{}, false
	}
	return vs.vals[0], true
}

// Slice returns a copy of the values in insertion order.
func (vs *ValueSet) Slice() []value.Value {
	if vs == nil {
		return nil
	}
	out := make([]value.Value, len(vs.vals))
	copy(out, vs.vals)
	return out
}

// Iter iterates over the values in insertion order.
func (vs *ValueSet) Iter() iter.Seq[value.Value] {
	return func(yield func(value.Value) bool) {
		if vs == nil {
			return
		}
		for _, v := range vs.vals {
			if !yield(v) {
				return
			}
		}
	}
}

// Clone returns an independent copy of the set.
func (vs *ValueSet) Clone() *ValueSet {
	if vs == nil {
		return nil
	}
	out := make([]value.Value, len(vs.vals))
	copy(out, vs.vals)
	return &ValueSet{vals: out}
}

// Equal reports whether two sets hold the same values, ignoring order.
func (vs *ValueSet) Equal(o *ValueSet) bool {
	if vs.Len() != o.Len() {
		return false
	}
	for _, v := range vs.vals {
		if !o.Contains(v) {
			return false
		}
	}
	return true
}
