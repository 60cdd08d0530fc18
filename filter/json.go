package filter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/dirgo/value"
)

// The JSON form mirrors the access control profile storage format: a
// single-key object per node, term values as plain strings. Parsed values
// stay untyped strings until schema validation coerces them.
//
//	{"and":[{"eq":["class","person"]},{"andNot":{"sub":["name","admin"]}}]}
//	"selfUuid"

// MarshalJSON implements json.Marshaler.
func (f *Filter) MarshalJSON() ([]byte, error) {
	switch f.op {
	case OpEq, OpSub:
		return json.Marshal(map[string][]string{f.op.String(): {f.attr, f.val.Text()}})
	case OpPres:
		return json.Marshal(map[string]string{"pres": f.attr})
	case OpAnd, OpOr:
		return json.Marshal(map[string][]*Filter{f.op.String(): f.subs})
	case OpAndNot:
		return json.Marshal(map[string]*Filter{"andNot": f.subs[0]})
	case OpSelf:
		return json.Marshal("selfUuid")
	default:
		return nil, fmt.Errorf("%w: cannot marshal invalid filter", ErrInvalidFilter)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != "selfUuid" {
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, s)
		}
		*f = Filter{op: OpSelf}
		return nil
	}

	var node map[string]json.RawMessage
	if err := json.Unmarshal(data, &node); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	if len(node) != 1 {
		return fmt.Errorf("%w: expected a single operator, got %d", ErrInvalidFilter, len(node))
	}

	for op, raw := range node {
		switch op {
		case "eq", "sub":
			var pair []string
			if err := json.Unmarshal(raw, &pair); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidFilter, op, err)
			}
			if len(pair) != 2 {
				return fmt.Errorf("%w: %s expects [attribute, value]", ErrInvalidFilter, op)
			}
			k := OpEq
			if op == "sub" {
				k = OpSub
			}
			*f = Filter{op: k, attr: strings.ToLower(pair[0]), val: value.UTF8(pair[1])}
		case "pres":
			var attr string
			if err := json.Unmarshal(raw, &attr); err != nil {
				return fmt.Errorf("%w: pres: %v", ErrInvalidFilter, err)
			}
			*f = Filter{op: OpPres, attr: strings.ToLower(attr)}
		case "and", "or":
			var subs []*Filter
			if err := json.Unmarshal(raw, &subs); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidFilter, op, err)
			}
			k := OpAnd
			if op == "or" {
				k = OpOr
			}
			*f = Filter{op: k, subs: subs}
		case "andNot":
			var sub Filter
			if err := json.Unmarshal(raw, &sub); err != nil {
				return fmt.Errorf("%w: andNot: %v", ErrInvalidFilter, err)
			}
			*f = Filter{op: OpAndNot, subs: []*Filter{&sub}}
		case "selfUuid":
			*f = Filter{op: OpSelf}
		default:
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, op)
		}
	}

	return nil
}

// Parse decodes a filter from its JSON form.
func Parse(data []byte) (*Filter, error) {
	var f Filter
	if err := f.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return &f, nil
}
