package entry

import (
	"fmt"
	"iter"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/hupe1980/dirgo/value"
)

// Entry is a single directory record: a mapping from attribute names to
// value sets, plus the internal identifier assigned by the backend on
// creation. Attribute names are case-insensitive and stored folded.
type Entry struct {
	id      uint64
	attrs   map[string]*ValueSet
	reduced bool
}

// Attr is a named group of values used to construct entries.
type Attr struct {
	Name   string
	Values []value.Value
}

// A builds an Attr from raw Go values. It panics if a value has an
// unsupported Go type; content-level problems (wrong syntax for the target
// attribute) are reported later by schema validation instead.
func A(name string, vals ...any) Attr {
	vs := make([]value.Value, len(vals))
	for i, v := range vals {
		vs[i] = value.MustNew(v)
	}
	return Attr{Name: name, Values: vs}
}

// New creates an entry from the given attributes.
func New(attrs ...Attr) *Entry {
	e := &Entry{attrs: make(map[string]*ValueSet, len(attrs))}
	for _, a := range attrs {
		for _, v := range a.Values {
			e.Add(a.Name, v)
		}
	}
	return e
}

func norm(attr string) string {
	return strings.ToLower(strings.TrimSpace(attr))
}

// ID returns the internal identifier, or 0 if the entry has not been
// written by the backend yet.
func (e *Entry) ID() uint64 { return e.id }

// SetID assigns the internal identifier. It is called by the backend when
// the entry is first written; callers outside the storage path should never
// need it.
func (e *Entry) SetID(id uint64) { e.id = id }

// UUID returns the stable external identifier of the entry.
func (e *Entry) UUID() (uuid.UUID, bool) {
	vs, ok := e.attrs[AttrUUID]
	if !ok {
		return uuid.UUID{}, false
	}
	for v := range vs.Iter() {
		if u, ok := v.AsUUID(); ok {
			return u, true
		}
		// Pre-validation entries may still carry the uuid as a raw string.
		if u, err := uuid.Parse(v.Text()); err == nil {
			return u, true
		}
	}
	return uuid.UUID{}, false
}

// Has reports whether the attribute is present with at least one value.
func (e *Entry) Has(attr string) bool {
	return e.attrs[norm(attr)].Len() > 0
}

// HasValue reports whether the attribute holds a value equal to v.
func (e *Entry) HasValue(attr string, v value.Value) bool {
	return e.attrs[norm(attr)].Contains(v)
}

// Values returns a copy of the attribute's values, or nil if absent.
func (e *Entry) Values(attr string) []value.Value {
	return e.attrs[norm(attr)].Slice()
}

// One returns the single first value of the attribute.
func (e *Entry) One(attr string) (value.Value, bool) {
	vs, ok := e.attrs[norm(attr)]
	if !ok {
		return value.Value{}, false
	}
	return vs.First()
}

// OneText returns the textual payload of the attribute's first value.
func (e *Entry) OneText(attr string) (string, bool) {
	v, ok := e.One(attr)
	if !ok {
		return "", false
	}
	return v.Text(), true
}

// AttrNames returns the attribute names present on the entry, sorted.
func (e *Entry) AttrNames() []string {
	names := make([]string, 0, len(e.attrs))
	for name, vs := range e.attrs {
		if vs.Len() > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Attrs iterates over attribute names and value copies in sorted order.
func (e *Entry) Attrs() iter.Seq2[string, []value.Value] {
	return func(yield func(string, []value.Value) bool) {
		for _, name := range e.AttrNames() {
			if !yield(name, e.Values(name)) {
				return
			}
		}
	}
}

// Set replaces the attribute's values.
func (e *Entry) Set(attr string, vals ...value.Value) {
	e.attrs[norm(attr)] = NewValueSet(vals...)
}

// Add inserts a value into the attribute, creating it if absent. It reports
// whether the entry changed.
func (e *Entry) Add(attr string, v value.Value) bool {
	name := norm(attr)
	vs, ok := e.attrs[name]
	if !ok {
		vs = NewValueSet()
		e.attrs[name] = vs
	}
	return vs.Add(v)
}

// Remove deletes a single value from the attribute. Emptied attributes are
// dropped from the entry. It reports whether the entry changed.
func (e *Entry) Remove(attr string, v value.Value) bool {
	name := norm(attr)
	vs, ok := e.attrs[name]
	if !ok {
		return false
	}
	changed := vs.Remove(v)
	if vs.Len() == 0 {
		delete(e.attrs, name)
	}
	return changed
}

// Purge removes the attribute and all its values.
func (e *Entry) Purge(attr string) bool {
	name := norm(attr)
	if _, ok := e.attrs[name]; !ok {
		return false
	}
	delete(e.attrs, name)
	return true
}

// Classes returns the textual object classes of the entry.
func (e *Entry) Classes() []string {
	vs, ok := e.attrs[AttrClass]
	if !ok {
		return nil
	}
	out := make([]string, 0, vs.Len())
	for v := range vs.Iter() {
		out = append(out, strings.ToLower(v.Text()))
	}
	return out
}

// HasClass reports whether the entry carries the given object class.
func (e *Entry) HasClass(class string) bool {
	vs, ok := e.attrs[AttrClass]
	if !ok {
		return false
	}
	want := strings.ToLower(class)
	for v := range vs.Iter() {
		if strings.ToLower(v.Text()) == want {
			return true
		}
	}
	return false
}

// IsRecycled reports whether the entry is soft-deleted.
func (e *Entry) IsRecycled() bool { return e.HasClass(ClassRecycled) }

// IsTombstone reports whether the entry is a deletion marker.
func (e *Entry) IsTombstone() bool { return e.HasClass(ClassTombstone) }

// IsLive reports whether the entry is visible to ordinary searches.
func (e *Entry) IsLive() bool { return !e.IsRecycled() && !e.IsTombstone() }

// IsReduced reports whether the entry is an access-controlled, attribute
// redacted copy. Reduced entries must never be written back.
func (e *Entry) IsReduced() bool { return e.reduced }

// Clone returns a deep, independent copy of the entry.
func (e *Entry) Clone() *Entry {
	out := &Entry{
		id:      e.id,
		attrs:   make(map[string]*ValueSet, len(e.attrs)),
		reduced: e.reduced,
	}
	for name, vs := range e.attrs {
		out.attrs[name] = vs.Clone()
	}
	return out
}

// Reduce returns a copy of the entry holding only the allowed attributes.
// The copy is flagged as reduced.
func (e *Entry) Reduce(allowed map[string]struct{}) *Entry {
	out := &Entry{
		id:      e.id,
		attrs:   make(map[string]*ValueSet, len(allowed)),
		reduced: true,
	}
	for name, vs := range e.attrs {
		if _, ok := allowed[name]; ok {
			out.attrs[name] = vs.Clone()
		}
	}
	return out
}

// ToRecycled returns a copy of the entry marked as soft-deleted.
func (e *Entry) ToRecycled() *Entry {
	out := e.Clone()
	out.Add(AttrClass, value.IUTF8(ClassRecycled))
	return out
}

// ToRevived returns a copy of the entry with the soft-delete mark removed.
// Derived membership attributes are stripped; the invariant pipeline
// recomputes them on the way back in.
func (e *Entry) ToRevived() *Entry {
	out := e.Clone()
	out.Remove(AttrClass, value.IUTF8(ClassRecycled))
	out.Purge(AttrMemberOf)
	out.Purge(AttrDirectMemberOf)
	return out
}

// ToTombstone returns the minimal deletion marker for the entry: the uuid
// and the tombstone class, nothing else.
func (e *Entry) ToTombstone() *Entry {
	out := &Entry{id: e.id, attrs: make(map[string]*ValueSet, 2)}
	if u, ok := e.UUID(); ok {
		out.Set(AttrUUID, value.UUID(u))
	}
	out.Set(AttrClass, value.IUTF8(ClassObject), value.IUTF8(ClassTombstone))
	return out
}

// String implements fmt.Stringer for diagnostics.
func (e *Entry) String() string {
	name, _ := e.OneText(AttrName)
	u := "?"
	if id, ok := e.UUID(); ok {
		u = id.String()
	}
	return fmt.Sprintf("Entry{id=%d uuid=%s name=%q}", e.id, u, name)
}
