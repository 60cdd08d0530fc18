package dirgo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/dirgo/access"
	"github.com/hupe1980/dirgo/backend"
	"github.com/hupe1980/dirgo/entry"
	"github.com/hupe1980/dirgo/filter"
	"github.com/hupe1980/dirgo/plugin"
	"github.com/hupe1980/dirgo/schema"
)

// The subpackages already wrap shared sentinels, so the root package
// re-exports them instead of translating. errors.Is against any of these
// matches the original error unchanged.
var (
	// ErrNotFound is returned when a lookup names no live entry.
	ErrNotFound = backend.ErrNotFound

	// ErrClosed is returned by operations on a closed server.
	ErrClosed = backend.ErrClosed

	// ErrDenied is returned when the access policy rejects an operation.
	ErrDenied = access.ErrDenied

	// ErrViolation is returned when a write breaks a constraint plugin.
	ErrViolation = plugin.ErrViolation

	// ErrInvalidFilter is returned when a filter fails schema validation.
	ErrInvalidFilter = filter.ErrInvalidFilter
)

var (
	// ErrNoMatchingEntries is returned when a write operation's filter
	// selects no visible entries.
	ErrNoMatchingEntries = errors.New("no entries match the filter")

	// ErrEmptyRequest is returned when a create names no candidate
	// entries or a modify carries no modifications.
	ErrEmptyRequest = errors.New("empty request")

	// ErrInvalidState indicates the stored data breaks an internal
	// invariant, such as two live entries sharing a name.
	ErrInvalidState = errors.New("invalid database state")
)

// ErrSchemaViolation indicates an entry failed schema validation.
//
// The original underlying error can be accessed via errors.Unwrap.
type ErrSchemaViolation struct {
	Entry string
	cause error
}

func (e *ErrSchemaViolation) Error() string {
	return fmt.Sprintf("schema violation on %s: %v", e.Entry, e.cause)
}

func (e *ErrSchemaViolation) Unwrap() error { return e.cause }

// validateAll runs every candidate through schema validation, normalizing
// attribute values in place.
func validateAll(sch *schema.Schema, cands []*entry.Entry) error {
	for _, e := range cands {
		if err := sch.Validate(e); err != nil {
			return &ErrSchemaViolation{Entry: e.String(), cause: err}
		}
	}
	return nil
}
