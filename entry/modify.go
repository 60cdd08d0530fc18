package entry

import (
	"fmt"
	"strings"

	"github.com/hupe1980/dirgo/value"
)

// ModOp identifies a modification operation.
type ModOp uint8

const (
	// ModPresent asserts that a value is present on an attribute.
	ModPresent ModOp = iota + 1
	// ModRemoved removes a single value from an attribute.
	ModRemoved
	// ModPurged removes an attribute and all of its values.
	ModPurged
)

// String implements fmt.Stringer.
func (op ModOp) String() string {
	switch op {
	case ModPresent:
		return "present"
	case ModRemoved:
		return "removed"
	case ModPurged:
		return "purged"
	default:
		return "invalid"
	}
}

// Mod is a single attribute modification.
type Mod struct {
	Op    ModOp
	Attr  string
	Value value.Value
}

// Present builds a mod adding a value. It panics on unsupported Go types,
// like A.
func Present(attr string, v any) Mod {
	return Mod{Op: ModPresent, Attr: norm(attr), Value: value.MustNew(v)}
}

// Removed builds a mod removing a single value.
func Removed(attr string, v any) Mod {
	return Mod{Op: ModRemoved, Attr: norm(attr), Value: value.MustNew(v)}
}

// Purged builds a mod removing an attribute entirely.
func Purged(attr string) Mod {
	return Mod{Op: ModPurged, Attr: norm(attr)}
}

// Set builds the mods replacing an attribute's values outright: a purge
// followed by one present per value.
func Set(attr string, vs ...value.Value) []Mod {
	mods := make([]Mod, 0, len(vs)+1)
	mods = append(mods, Purged(attr))
	for _, v := range vs {
		mods = append(mods, Mod{Op: ModPresent, Attr: norm(attr), Value: v})
	}
	return mods
}

// AssertMods builds the modify list forcing each of want's attributes to
// hold exactly want's values on the target. Attributes already matching
// contribute nothing, differing ones are purged and re-added. Attributes
// named in skip, and attributes the target carries but want does not,
// are left untouched.
func AssertMods(target, want *Entry, skip ...string) *ModifyList {
	skipped := make(map[string]struct{}, len(skip))
	for _, attr := range skip {
		skipped[norm(attr)] = struct{}{}
	}
	ml := NewModifyList()
	for _, attr := range want.AttrNames() {
		if _, ok := skipped[attr]; ok {
			continue
		}
		vals := want.Values(attr)
		if holdsExactly(target, attr, vals) {
			continue
		}
		ml.Append(Set(attr, vals...)...)
	}
	return ml
}

// holdsExactly reports whether the entry's attribute holds the wanted
// values and no others.
func holdsExactly(e *Entry, attr string, want []value.Value) bool {
	have := e.Values(attr)
	if len(have) != len(want) {
		return false
	}
	for _, v := range want {
		if !e.HasValue(attr, v) {
			return false
		}
	}
	return true
}

// ModifyList is an ordered list of modifications applied atomically to each
// target entry of a modify operation.
type ModifyList struct {
	mods []Mod
}

// NewModifyList creates a ModifyList.
func NewModifyList(mods ...Mod) *ModifyList {
	return &ModifyList{mods: mods}
}

// Append adds further mods, returning the list for chaining.
func (ml *ModifyList) Append(mods ...Mod) *ModifyList {
	ml.mods = append(ml.mods, mods...)
	return ml
}

// Len returns the number of modifications.
func (ml *ModifyList) Len() int {
	if ml == nil {
		return 0
	}
	return len(ml.mods)
}

// Mods returns a copy of the modifications in order.
func (ml *ModifyList) Mods() []Mod {
	if ml == nil {
		return nil
	}
	out := make([]Mod, len(ml.mods))
	copy(out, ml.mods)
	return out
}

// Attrs returns the distinct attribute names touched by the list.
func (ml *ModifyList) Attrs() []string {
	seen := make(map[string]struct{}, ml.Len())
	var out []string
	for _, m := range ml.mods {
		if _, ok := seen[m.Attr]; ok {
			continue
		}
		seen[m.Attr] = struct{}{}
		out = append(out, m.Attr)
	}
	return out
}

// String implements fmt.Stringer for diagnostics.
func (ml *ModifyList) String() string {
	parts := make([]string, 0, ml.Len())
	for _, m := range ml.mods {
		if m.Op == ModPurged {
			parts = append(parts, fmt.Sprintf("%s(%s)", m.Op, m.Attr))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s(%s=%s)", m.Op, m.Attr, m.Value))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Apply runs the modifications against the entry in order. Removing an
// absent value and purging an absent attribute are no-ops; the result is
// validated against schema by the caller afterwards.
func (e *Entry) Apply(ml *ModifyList) {
	for _, m := range ml.Mods() {
		switch m.Op {
		case ModPresent:
			e.Add(m.Attr, m.Value)
		case ModRemoved:
			e.Remove(m.Attr, m.Value)
		case ModPurged:
			e.Purge(m.Attr)
		}
	}
}
