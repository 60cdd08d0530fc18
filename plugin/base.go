package plugin

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hupe1980/dirgo/entry"
	"github.com/hupe1980/dirgo/filter"
	"github.com/hupe1980/dirgo/value"
)

// Base establishes the ground rules of every entry: exactly one valid
// UUID, assigned here when the caller supplied none, never colliding with
// any stored entry, and immutable for the life of the entry. Tombstone
// and recycle markers cannot be smuggled in through create.
type Base struct {
	Nop
}

func (Base) Name() string { return "base" }

func (b Base) PreCreate(ctx context.Context, tx Tx, cands []*entry.Entry) error {
	seen := make(map[uuid.UUID]struct{}, len(cands))

	for _, e := range cands {
		if e.HasClass(entry.ClassTombstone) || e.HasClass(entry.ClassRecycled) {
			return fmt.Errorf("%w: lifecycle classes cannot be assigned at create", ErrViolation)
		}

		u, err := candidateUUID(e)
		if err != nil {
			return err
		}
		if _, dup := seen[u]; dup {
			return fmt.Errorf("%w: uuid %s appears twice in the create set", ErrViolation, u)
		}
		seen[u] = struct{}{}
	}

	// A UUID is bound forever, tombstones included, so collisions are
	// checked against every stored entry.
	for u := range seen {
		f, err := filter.Eq(entry.AttrUUID, value.UUID(u)).Validate(tx.Schema())
		if err != nil {
			return err
		}
		taken, err := tx.Exists(ctx, f)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: uuid %s is already in use", ErrViolation, u)
		}
	}
	return nil
}

// candidateUUID normalizes the candidate's uuid attribute to a single
// typed value, minting one when absent, and returns it.
func candidateUUID(e *entry.Entry) (uuid.UUID, error) {
	vals := e.Values(entry.AttrUUID)
	switch len(vals) {
	case 0:
		u := uuid.New()
		e.Set(entry.AttrUUID, value.UUID(u))
		return u, nil
	case 1:
		v, err := vals[0].Coerce(value.KindUUID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%w: invalid uuid %q", ErrViolation, vals[0].Text())
		}
		u, _ := v.AsUUID()
		if u == uuid.Nil {
			return uuid.Nil, fmt.Errorf("%w: the nil uuid cannot be assigned", ErrViolation)
		}
		e.Set(entry.AttrUUID, v)
		return u, nil
	default:
		return uuid.Nil, fmt.Errorf("%w: entry carries %d uuid values", ErrViolation, len(vals))
	}
}

func (b Base) PreModify(ctx context.Context, tx Tx, pre, post []*entry.Entry, ml *entry.ModifyList) error {
	for i, p := range post {
		vals := p.Values(entry.AttrUUID)
		if len(vals) != 1 {
			return fmt.Errorf("%w: entry must keep exactly one uuid", ErrViolation)
		}
		before, ok := pre[i].One(entry.AttrUUID)
		if !ok || !vals[0].Equal(before) {
			return fmt.Errorf("%w: uuid is immutable", ErrViolation)
		}
	}
	return nil
}
