// Package value provides the typed attribute values stored in directory
// entries.
//
// Every value carries a Kind matching one of the schema attribute syntaxes.
// The representation is designed to make matching and indexing fast and
// predictable: no reflection and no fmt-based stringification on hot paths.
// Case-insensitive strings are folded once at construction time so that
// comparisons and index keys never re-fold.
package value

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unique"

	"github.com/google/uuid"
)

// ErrInvalidValue is returned when a raw value cannot be represented or
// coerced into the requested kind.
var ErrInvalidValue = errors.New("invalid value")

// Kind identifies the syntax of a Value.
type Kind uint8

const (
	// KindInvalid represents an invalid kind.
	KindInvalid Kind = iota
	// KindUTF8 is a case-sensitive UTF-8 string.
	KindUTF8
	// KindIUTF8 is a case-insensitive UTF-8 string, stored case-folded.
	KindIUTF8
	// KindUUID is a universally unique identifier.
	KindUUID
	// KindBool is a boolean.
	KindBool
	// KindUint32 is an unsigned 32-bit integer.
	KindUint32
	// KindReference is a UUID referencing another entry.
	KindReference
)

// String returns the canonical syntax token for the kind, as stored in
// schema attribute definitions.
func (k Kind) String() string {
	switch k {
	case KindUTF8:
		return "UTF8STRING"
	case KindIUTF8:
		return "UTF8STRING_INSENSITIVE"
	case KindUUID:
		return "UUID"
	case KindBool:
		return "BOOLEAN"
	case KindUint32:
		return "UINT32"
	case KindReference:
		return "REFERENCE_UUID"
	default:
		return "INVALID"
	}
}

// ParseKind parses a syntax token into a Kind. Matching is case-insensitive.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UTF8STRING":
		return KindUTF8, nil
	case "UTF8STRING_INSENSITIVE":
		return KindIUTF8, nil
	case "UUID":
		return KindUUID, nil
	case "BOOLEAN":
		return KindBool, nil
	case "UINT32":
		return KindUint32, nil
	case "REFERENCE_UUID":
		return KindReference, nil
	default:
		return KindInvalid, fmt.Errorf("%w: unknown syntax %q", ErrInvalidValue, s)
	}
}

// Value is a single typed attribute value.
//
// Values are immutable once constructed. The zero Value has KindInvalid and
// matches nothing.
type Value struct {
	kind Kind
	s    unique.Handle[string] // utf8/iutf8 payload
	u    uuid.UUID             // uuid/reference payload
	b    bool
	n    uint32
}

// UTF8 returns a case-sensitive string Value.
func UTF8(s string) Value {
	return Value{kind: KindUTF8, s: unique.Make(s)}
}

// IUTF8 returns a case-insensitive string Value. The payload is folded to
// lower case immediately; the original casing is not retained.
func IUTF8(s string) Value {
	return Value{kind: KindIUTF8, s: unique.Make(strings.ToLower(s))}
}

// UUID returns a UUID Value.
func UUID(u uuid.UUID) Value {
	return Value{kind: KindUUID, u: u}
}

// Reference returns a Value referencing another entry by UUID.
func Reference(u uuid.UUID) Value {
	return Value{kind: KindReference, u: u}
}

// Bool returns a boolean Value.
func Bool(b bool) Value {
	return Value{kind: KindBool, b: b}
}

// Uint32 returns an unsigned integer Value.
func Uint32(n uint32) Value {
	return Value{kind: KindUint32, n: n}
}

// New converts a Go value into a Value. Strings become KindUTF8 and are
// coerced to the attribute's declared syntax during schema validation.
// Supported types: string, bool, int, int64, uint32, uuid.UUID and Value
// itself.
func New(v any) (Value, error) {
	switch t := v.(type) {
	case Value:
		return t, nil
	case string:
		return UTF8(t), nil
	case bool:
		return Bool(t), nil
	case uuid.UUID:
		return UUID(t), nil
	case uint32:
		return Uint32(t), nil
	case int:
		if t < 0 || int64(t) > int64(^uint32(0)) {
			return Value{}, fmt.Errorf("%w: integer %d out of uint32 range", ErrInvalidValue, t)
		}
		return Uint32(uint32(t)), nil
	case int64:
		if t < 0 || t > int64(^uint32(0)) {
			return Value{}, fmt.Errorf("%w: integer %d out of uint32 range", ErrInvalidValue, t)
		}
		return Uint32(uint32(t)), nil
	default:
		return Value{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidValue, v)
	}
}

// MustNew is like New but panics on unsupported input. Intended for
// statically known values such as test fixtures and builtin definitions.
func MustNew(v any) Value {
	val, err := New(v)
	if err != nil {
		panic(err)
	}
	return val
}

// Kind returns the kind of the value.
func (v Value) Kind() Kind { return v.kind }

// IsZero reports whether v is the zero (invalid) Value.
func (v Value) IsZero() bool { return v.kind == KindInvalid }

// AsString returns the string payload if the kind is KindUTF8 or KindIUTF8.
func (v Value) AsString() (string, bool) {
	if v.kind != KindUTF8 && v.kind != KindIUTF8 {
		return "", false
	}
	return v.s.Value(), true
}

// AsUUID returns the UUID payload if the kind is KindUUID.
func (v Value) AsUUID() (uuid.UUID, bool) {
	if v.kind != KindUUID {
		return uuid.UUID{}, false
	}
	return v.u, true
}

// AsReference returns the referenced entry UUID if the kind is KindReference.
func (v Value) AsReference() (uuid.UUID, bool) {
	if v.kind != KindReference {
		return uuid.UUID{}, false
	}
	return v.u, true
}

// AsBool returns the boolean payload if the kind is KindBool.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsUint32 returns the integer payload if the kind is KindUint32.
func (v Value) AsUint32() (uint32, bool) {
	if v.kind != KindUint32 {
		return 0, false
	}
	return v.n, true
}

// Text returns the canonical textual payload of the value, without a kind
// marker. This is the form written to durable storage and shown to users.
func (v Value) Text() string {
	switch v.kind {
	case KindUTF8, KindIUTF8:
		return v.s.Value()
	case KindUUID, KindReference:
		return v.u.String()
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindUint32:
		return strconv.FormatUint(uint64(v.n), 10)
	default:
		return ""
	}
}

// FromText parses a canonical textual payload into a Value of the given
// kind. It is the inverse of Text.
func FromText(k Kind, s string) (Value, error) {
	switch k {
	case KindUTF8:
		return UTF8(s), nil
	case KindIUTF8:
		return IUTF8(s), nil
	case KindUUID, KindReference:
		u, err := uuid.Parse(strings.TrimSpace(s))
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a uuid", ErrInvalidValue, s)
		}
		if k == KindUUID {
			return UUID(u), nil
		}
		return Reference(u), nil
	case KindBool:
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true":
			return Bool(true), nil
		case "false":
			return Bool(false), nil
		default:
			return Value{}, fmt.Errorf("%w: %q is not a boolean", ErrInvalidValue, s)
		}
	case KindUint32:
		n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a uint32", ErrInvalidValue, s)
		}
		return Uint32(uint32(n)), nil
	default:
		return Value{}, fmt.Errorf("%w: cannot parse into kind %s", ErrInvalidValue, k)
	}
}

// Coerce converts the value into the given kind, parsing textual payloads
// where necessary. Coercing a value to its own kind is the identity.
// Coercion between KindUUID and KindReference preserves the payload.
func (v Value) Coerce(k Kind) (Value, error) {
	if v.kind == k {
		return v, nil
	}
	switch {
	case v.kind == KindUUID && k == KindReference:
		return Reference(v.u), nil
	case v.kind == KindReference && k == KindUUID:
		return UUID(v.u), nil
	}
	return FromText(k, v.Text())
}

// Key returns a stable representation for use as an index or set key.
// Values of different kinds never collide. Key output must remain stable
// across versions: it is embedded in persisted index records.
func (v Value) Key() string {
	switch v.kind {
	case KindUTF8:
		return "s:" + v.s.Value()
	case KindIUTF8:
		return "i:" + v.s.Value()
	case KindUUID:
		return "u:" + v.u.String()
	case KindReference:
		return "r:" + v.u.String()
	case KindBool:
		if v.b {
			return "b:1"
		}
		return "b:0"
	case KindUint32:
		return "n:" + strconv.FormatUint(uint64(v.n), 10)
	default:
		return "invalid"
	}
}

// Equal reports whether two values are equal under their kinds' matching
// rules. Case-insensitive strings compare folded.
func (v Value) Equal(o Value) bool {
	return v.kind == o.kind && v.Key() == o.Key()
}

// Contains reports whether the value contains the given substring value.
// Only string kinds support substring matching; for case-insensitive
// strings the comparison is case-folded.
func (v Value) Contains(sub Value) bool {
	switch v.kind {
	case KindUTF8:
		s, ok := sub.AsString()
		if !ok {
			return false
		}
		if sub.kind == KindIUTF8 {
			return strings.Contains(strings.ToLower(v.s.Value()), s)
		}
		return strings.Contains(v.s.Value(), s)
	case KindIUTF8:
		s, ok := sub.AsString()
		if !ok {
			return false
		}
		return strings.Contains(v.s.Value(), strings.ToLower(s))
	default:
		return false
	}
}

// String implements fmt.Stringer for diagnostics.
func (v Value) String() string {
	return v.Key()
}
