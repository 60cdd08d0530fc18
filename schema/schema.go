// Package schema defines the attribute types and object classes entries must
// satisfy, and validates entries against them.
//
// The schema is self-hosting: attribute and class definitions are themselves
// stored as entries, and a compiled-in core provides the fixed point needed
// to validate those entries during bootstrap. Reloading from entries always
// starts from the core, so the engine's own definitions cannot be broken by
// a write.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/dirgo/entry"
	"github.com/hupe1980/dirgo/value"
)

// ErrViolation is the sentinel wrapped by every schema validation failure.
var ErrViolation = errors.New("schema violation")

// Error is a structured schema validation failure naming the attribute or
// class and the violated rule.
type Error struct {
	Attr   string
	Class  string
	Reason string
}

func (e *Error) Error() string {
	switch {
	case e.Attr != "" && e.Class != "":
		return fmt.Sprintf("schema violation: attribute %q of class %q: %s", e.Attr, e.Class, e.Reason)
	case e.Attr != "":
		return fmt.Sprintf("schema violation: attribute %q: %s", e.Attr, e.Reason)
	case e.Class != "":
		return fmt.Sprintf("schema violation: class %q: %s", e.Class, e.Reason)
	default:
		return "schema violation: " + e.Reason
	}
}

func (e *Error) Unwrap() error { return ErrViolation }

// IndexType identifies a maintained index flavour for an attribute.
type IndexType uint8

const (
	// IndexEquality maintains value -> entry id lists for exact matches.
	IndexEquality IndexType = iota + 1
	// IndexPresence maintains a single entry id list of holders.
	IndexPresence
	// IndexSubstring is accepted in definitions but not maintained; substring
	// terms resolve as unindexed and are verified by exact matching.
	IndexSubstring
)

// String returns the canonical token for the index type as stored in schema
// entries.
func (it IndexType) String() string {
	switch it {
	case IndexEquality:
		return "EQUALITY"
	case IndexPresence:
		return "PRESENCE"
	case IndexSubstring:
		return "SUBSTRING"
	default:
		return "INVALID"
	}
}

// ParseIndexType parses an index token, case-insensitively.
func ParseIndexType(s string) (IndexType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "EQUALITY":
		return IndexEquality, nil
	case "PRESENCE":
		return IndexPresence, nil
	case "SUBSTRING":
		return IndexSubstring, nil
	default:
		return 0, &Error{Reason: fmt.Sprintf("unknown index type %q", s)}
	}
}

// AttributeType defines a single attribute: its value syntax, cardinality,
// uniqueness and the indexes maintained for it.
type AttributeType struct {
	Name        string
	Description string
	MultiValue  bool
	Unique      bool
	Index       []IndexType
	Syntax      value.Kind
}

// Indexed reports whether the attribute declares the given index type.
func (at *AttributeType) Indexed(it IndexType) bool {
	for _, have := range at.Index {
		if have == it {
			return true
		}
	}
	return false
}

// ClassType defines an object class: which attributes entries of the class
// must and may carry. System lists belong to the compiled-in core; the plain
// lists are administrator extensible.
type ClassType struct {
	Name        string
	Description string
	SystemMust  []string
	Must        []string
	SystemMay   []string
	May         []string
}

// MustAttrs returns the union of system and administrative must lists.
func (ct *ClassType) MustAttrs() []string {
	out := make([]string, 0, len(ct.SystemMust)+len(ct.Must))
	out = append(out, ct.SystemMust...)
	out = append(out, ct.Must...)
	return out
}

// MayAttrs returns the union of system and administrative may lists.
func (ct *ClassType) MayAttrs() []string {
	out := make([]string, 0, len(ct.SystemMay)+len(ct.May))
	out = append(out, ct.SystemMay...)
	out = append(out, ct.May...)
	return out
}

// IndexedAttr names one maintained index: an attribute and a flavour.
type IndexedAttr struct {
	Attr string
	Type IndexType
}

// Schema is an immutable set of attribute and class definitions. A schema
// value is never mutated after construction; reloads build a new one.
type Schema struct {
	attributes map[string]*AttributeType
	classes    map[string]*ClassType
}

// Attribute looks up an attribute definition by name.
func (s *Schema) Attribute(name string) (*AttributeType, bool) {
	at, ok := s.attributes[strings.ToLower(name)]
	return at, ok
}

// Class looks up a class definition by name.
func (s *Schema) Class(name string) (*ClassType, bool) {
	ct, ok := s.classes[strings.ToLower(name)]
	return ct, ok
}

// AttributeNames returns all defined attribute names, sorted.
func (s *Schema) AttributeNames() []string {
	names := make([]string, 0, len(s.attributes))
	for name := range s.attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ClassNames returns all defined class names, sorted.
func (s *Schema) ClassNames() []string {
	names := make([]string, 0, len(s.classes))
	for name := range s.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Indexed reports whether the given attribute maintains the given index.
// Substring indexes are never maintained.
func (s *Schema) Indexed(attr string, it IndexType) bool {
	if it == IndexSubstring {
		return false
	}
	at, ok := s.Attribute(attr)
	return ok && at.Indexed(it)
}

// IndexedAttrs returns every maintained (attribute, index type) pair,
// sorted for deterministic iteration.
func (s *Schema) IndexedAttrs() []IndexedAttr {
	var out []IndexedAttr
	for _, name := range s.AttributeNames() {
		at := s.attributes[name]
		for _, it := range at.Index {
			if it == IndexSubstring {
				continue
			}
			out = append(out, IndexedAttr{Attr: name, Type: it})
		}
	}
	return out
}

// SelfCheck verifies the schema's internal consistency: every attribute
// referenced by a class must/may list must itself be defined.
func (s *Schema) SelfCheck() []error {
	var errs []error
	for _, name := range s.ClassNames() {
		ct := s.classes[name]
		for _, attr := range ct.MustAttrs() {
			if _, ok := s.Attribute(attr); !ok {
				errs = append(errs, &Error{Attr: attr, Class: ct.Name, Reason: "must list references undefined attribute"})
			}
		}
		for _, attr := range ct.MayAttrs() {
			if _, ok := s.Attribute(attr); !ok {
				errs = append(errs, &Error{Attr: attr, Class: ct.Name, Reason: "may list references undefined attribute"})
			}
		}
	}
	return errs
}

// Validate normalizes the entry's values in place and checks it against the
// schema: every attribute must be defined and syntax-valid, every class
// known, every class's required attributes present, and every present
// attribute permitted by at least one class (unless the entry is
// extensible). Tombstones validate against a fixed minimal shape instead.
func (s *Schema) Validate(e *entry.Entry) error {
	if e.IsReduced() {
		return &Error{Reason: "reduced entries cannot be validated or stored"}
	}

	classes := e.Classes()
	if len(classes) == 0 {
		return &Error{Attr: entry.AttrClass, Reason: "entry has no object classes"}
	}

	if e.IsTombstone() {
		return s.validateTombstone(e)
	}

	if err := s.Normalize(e); err != nil {
		return err
	}

	extensible := e.HasClass(entry.ClassExtensible)
	permitted := make(map[string]struct{})

	for _, class := range classes {
		ct, ok := s.Class(class)
		if !ok {
			return &Error{Class: class, Reason: "class not defined in schema"}
		}
		for _, attr := range ct.MustAttrs() {
			if !e.Has(attr) {
				return &Error{Attr: attr, Class: class, Reason: "required attribute missing"}
			}
			permitted[strings.ToLower(attr)] = struct{}{}
		}
		for _, attr := range ct.MayAttrs() {
			permitted[strings.ToLower(attr)] = struct{}{}
		}
	}

	if !extensible {
		for _, attr := range e.AttrNames() {
			if _, ok := permitted[attr]; !ok {
				return &Error{Attr: attr, Reason: "attribute not permitted by any object class"}
			}
		}
	}

	return nil
}

// Normalize coerces every value on the entry to its attribute's declared
// syntax, in place, and rejects attributes the schema does not define. It
// is the typing half of Validate: operations run it on incoming entries
// before the access checks so that typed policy filters can match candidate
// values, while the structural class checks wait until the plugins have
// finished shaping the entry.
func (s *Schema) Normalize(e *entry.Entry) error {
	for _, attr := range e.AttrNames() {
		at, ok := s.Attribute(attr)
		if !ok {
			return &Error{Attr: attr, Reason: "attribute not defined in schema"}
		}
		vals := e.Values(attr)
		normed := make([]value.Value, 0, len(vals))
		for _, v := range vals {
			nv, err := v.Coerce(at.Syntax)
			if err != nil {
				return &Error{Attr: attr, Reason: fmt.Sprintf("value %q does not conform to syntax %s", v.Text(), at.Syntax)}
			}
			normed = append(normed, nv)
		}
		e.Set(attr, normed...)
		if !at.MultiValue && len(e.Values(attr)) > 1 {
			return &Error{Attr: attr, Reason: "attribute is single valued"}
		}
	}
	return nil
}

// ValidateModify checks a modification list against the schema and returns
// a copy with every value coerced to its attribute's declared syntax.
// Without this step a textual "true" could never remove a stored boolean,
// because values of different kinds never compare equal.
func (s *Schema) ValidateModify(ml *entry.ModifyList) (*entry.ModifyList, error) {
	out := entry.NewModifyList()
	for _, m := range ml.Mods() {
		at, ok := s.Attribute(m.Attr)
		if !ok {
			return nil, &Error{Attr: m.Attr, Reason: "attribute not defined in schema"}
		}
		if m.Op == entry.ModPurged {
			out.Append(m)
			continue
		}
		nv, err := m.Value.Coerce(at.Syntax)
		if err != nil {
			return nil, &Error{Attr: m.Attr, Reason: fmt.Sprintf("value %q does not conform to syntax %s", m.Value.Text(), at.Syntax)}
		}
		out.Append(entry.Mod{Op: m.Op, Attr: m.Attr, Value: nv})
	}
	return out, nil
}

// validateTombstone checks the fixed marker shape: class and uuid only.
func (s *Schema) validateTombstone(e *entry.Entry) error {
	for _, attr := range e.AttrNames() {
		if attr != entry.AttrClass && attr != entry.AttrUUID {
			return &Error{Attr: attr, Reason: "attribute not permitted on a tombstone"}
		}
	}
	if _, ok := e.UUID(); !ok {
		return &Error{Attr: entry.AttrUUID, Reason: "tombstone is missing its uuid"}
	}
	return nil
}
