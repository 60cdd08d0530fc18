// Package filter implements the boolean query language evaluated against
// directory entries.
//
// A filter is a recursive expression over equality, substring and presence
// terms. Filters are built untyped, then validated against a schema, which
// folds attribute names and coerces term values to the attribute's declared
// syntax. Only validated filters should reach matching or resolution.
package filter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hupe1980/dirgo/entry"
	"github.com/hupe1980/dirgo/schema"
	"github.com/hupe1980/dirgo/value"
)

// ErrInvalidFilter is the sentinel wrapped by every filter validation
// failure.
var ErrInvalidFilter = errors.New("invalid filter")

// Op identifies a filter node.
type Op uint8

const (
	// OpEq matches entries holding a value equal to the term value.
	OpEq Op = iota + 1
	// OpSub matches entries holding a value containing the term value.
	OpSub
	// OpPres matches entries holding the attribute at all.
	OpPres
	// OpAnd matches entries matching every child.
	OpAnd
	// OpOr matches entries matching at least one child.
	OpOr
	// OpAndNot matches entries not matching its child.
	OpAndNot
	// OpSelf matches the acting identity's own entry. It must be resolved
	// to an equality term before matching.
	OpSelf
)

// String implements fmt.Stringer.
func (op Op) String() string {
	switch op {
	case OpEq:
		return "eq"
	case OpSub:
		return "sub"
	case OpPres:
		return "pres"
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	case OpAndNot:
		return "andNot"
	case OpSelf:
		return "selfUuid"
	default:
		return "invalid"
	}
}

// Filter is a node of a boolean query expression. Filters are immutable
// once built; Validate and ResolveSelf return transformed copies.
type Filter struct {
	op   Op
	attr string
	val  value.Value
	subs []*Filter
}

// Eq builds an equality term. The value is carried raw and coerced to the
// attribute's syntax during validation; unsupported Go types panic, like
// entry.A.
func Eq(attr string, v any) *Filter {
	return &Filter{op: OpEq, attr: strings.ToLower(attr), val: value.MustNew(v)}
}

// Sub builds a substring (contains) term.
func Sub(attr string, v any) *Filter {
	return &Filter{op: OpSub, attr: strings.ToLower(attr), val: value.MustNew(v)}
}

// Pres builds a presence term.
func Pres(attr string) *Filter {
	return &Filter{op: OpPres, attr: strings.ToLower(attr)}
}

// And builds a conjunction of the given filters.
func And(subs ...*Filter) *Filter {
	return &Filter{op: OpAnd, subs: subs}
}

// Or builds a disjunction of the given filters.
func Or(subs ...*Filter) *Filter {
	return &Filter{op: OpOr, subs: subs}
}

// AndNot builds a negation. Negations resolve against the full entry set
// and are verified by exact matching, never by index subtraction.
func AndNot(sub *Filter) *Filter {
	return &Filter{op: OpAndNot, subs: []*Filter{sub}}
}

// SelfUUID builds a term matching the acting identity's own entry.
func SelfUUID() *Filter {
	return &Filter{op: OpSelf}
}

// Op returns the node operator.
func (f *Filter) Op() Op { return f.op }

// Attr returns the attribute of a term node.
func (f *Filter) Attr() string { return f.attr }

// Value returns the term value of an equality or substring node.
func (f *Filter) Value() value.Value { return f.val }

// Children returns the child filters of a boolean node.
func (f *Filter) Children() []*Filter {
	out := make([]*Filter, len(f.subs))
	copy(out, f.subs)
	return out
}

// HasSelf reports whether the filter contains an unresolved self term.
func (f *Filter) HasSelf() bool {
	if f.op == OpSelf {
		return true
	}
	for _, sub := range f.subs {
		if sub.HasSelf() {
			return true
		}
	}
	return false
}

// Validate checks the filter against the schema and returns a normalized
// copy: attribute names folded, term values coerced to the attribute's
// declared syntax. Unknown attributes and empty boolean nodes are rejected
// rather than silently matching nothing.
func (f *Filter) Validate(s *schema.Schema) (*Filter, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil filter", ErrInvalidFilter)
	}
	switch f.op {
	case OpEq, OpSub:
		at, ok := s.Attribute(f.attr)
		if !ok {
			return nil, fmt.Errorf("%w: unknown attribute %q", ErrInvalidFilter, f.attr)
		}
		v, err := f.val.Coerce(at.Syntax)
		if err != nil {
			// Substring fragments of non-string syntaxes stay strings.
			if f.op == OpSub {
				v = value.IUTF8(f.val.Text())
			} else {
				return nil, fmt.Errorf("%w: attribute %q: %v", ErrInvalidFilter, f.attr, err)
			}
		}
		return &Filter{op: f.op, attr: strings.ToLower(f.attr), val: v}, nil
	case OpPres:
		if _, ok := s.Attribute(f.attr); !ok {
			return nil, fmt.Errorf("%w: unknown attribute %q", ErrInvalidFilter, f.attr)
		}
		return &Filter{op: OpPres, attr: strings.ToLower(f.attr)}, nil
	case OpAnd, OpOr:
		if len(f.subs) == 0 {
			return nil, fmt.Errorf("%w: empty %s", ErrInvalidFilter, f.op)
		}
		subs := make([]*Filter, 0, len(f.subs))
		for _, sub := range f.subs {
			vs, err := sub.Validate(s)
			if err != nil {
				return nil, err
			}
			subs = append(subs, vs)
		}
		return &Filter{op: f.op, subs: subs}, nil
	case OpAndNot:
		if len(f.subs) != 1 || f.subs[0] == nil {
			return nil, fmt.Errorf("%w: andNot requires exactly one child", ErrInvalidFilter)
		}
		sub, err := f.subs[0].Validate(s)
		if err != nil {
			return nil, err
		}
		return &Filter{op: OpAndNot, subs: []*Filter{sub}}, nil
	case OpSelf:
		return &Filter{op: OpSelf}, nil
	default:
		return nil, fmt.Errorf("%w: unknown operator", ErrInvalidFilter)
	}
}

// ResolveSelf returns a copy with every self term replaced by an equality
// term on the given entry UUID.
func (f *Filter) ResolveSelf(u uuid.UUID) *Filter {
	switch f.op {
	case OpSelf:
		return &Filter{op: OpEq, attr: entry.AttrUUID, val: value.UUID(u)}
	case OpAnd, OpOr, OpAndNot:
		subs := make([]*Filter, len(f.subs))
		for i, sub := range f.subs {
			subs[i] = sub.ResolveSelf(u)
		}
		return &Filter{op: f.op, subs: subs}
	default:
		return f
	}
}

// Matches evaluates the filter against a single entry. Unresolved self
// terms match nothing.
func (f *Filter) Matches(e *entry.Entry) bool {
	switch f.op {
	case OpEq:
		return e.HasValue(f.attr, f.val)
	case OpSub:
		for _, v := range e.Values(f.attr) {
			if v.Contains(f.val) {
				return true
			}
		}
		return false
	case OpPres:
		return e.Has(f.attr)
	case OpAnd:
		for _, sub := range f.subs {
			if !sub.Matches(e) {
				return false
			}
		}
		return true
	case OpOr:
		for _, sub := range f.subs {
			if sub.Matches(e) {
				return true
			}
		}
		return false
	case OpAndNot:
		return !f.subs[0].Matches(e)
	default:
		return false
	}
}

// String implements fmt.Stringer for diagnostics.
func (f *Filter) String() string {
	switch f.op {
	case OpEq, OpSub:
		return fmt.Sprintf("%s(%s,%s)", f.op, f.attr, f.val.Text())
	case OpPres:
		return fmt.Sprintf("pres(%s)", f.attr)
	case OpAnd, OpOr:
		parts := make([]string, len(f.subs))
		for i, sub := range f.subs {
			parts[i] = sub.String()
		}
		return fmt.Sprintf("%s(%s)", f.op, strings.Join(parts, ","))
	case OpAndNot:
		return fmt.Sprintf("andNot(%s)", f.subs[0])
	case OpSelf:
		return "selfUuid"
	default:
		return "invalid"
	}
}
