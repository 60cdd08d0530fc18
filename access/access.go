// Package access implements access control evaluation for directory
// operations.
//
// Authorization is deny by default: an operation proceeds only when at
// least one enabled access control profile grants it. Profiles are stored
// as directory entries and compiled into a Policy at commit time, so every
// snapshot evaluates requests against the profiles that were in force when
// it was taken.
package access

import (
	"errors"

	"github.com/google/uuid"
	"github.com/hupe1980/dirgo/entry"
)

// ErrDenied is the sentinel wrapped by every authorization failure.
var ErrDenied = errors.New("access denied")

// Identity is the actor an operation is evaluated for.
//
// An internal identity is the server itself: plugins, bootstrap and
// maintenance. Internal operations bypass profile evaluation entirely.
// Every other identity carries the snapshot copy of its account entry,
// which receiver filters are matched against.
type Identity struct {
	e        *entry.Entry
	internal bool
}

// Internal returns the server's own identity.
func Internal() Identity {
	return Identity{internal: true}
}

// User returns the identity of the given account entry.
func User(e *entry.Entry) Identity {
	return Identity{e: e}
}

// IsInternal reports whether this is the server's own identity.
func (i Identity) IsInternal() bool { return i.internal }

// Entry returns the account entry backing the identity, or nil for the
// internal identity.
func (i Identity) Entry() *entry.Entry { return i.e }

// UUID returns the identity's entry UUID, or uuid.Nil for the internal
// identity.
func (i Identity) UUID() uuid.UUID {
	if i.e == nil {
		return uuid.Nil
	}
	u, ok := i.e.UUID()
	if !ok {
		return uuid.Nil
	}
	return u
}

// String implements fmt.Stringer for logging.
func (i Identity) String() string {
	if i.internal {
		return "internal"
	}
	if i.e == nil {
		return "invalid"
	}
	if name, ok := i.e.OneText(entry.AttrName); ok {
		return name
	}
	return i.UUID().String()
}
