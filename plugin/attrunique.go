package plugin

import (
	"context"
	"fmt"

	"github.com/hupe1980/dirgo/entry"
	"github.com/hupe1980/dirgo/filter"
	"github.com/hupe1980/dirgo/value"
)

// AttrUnique enforces the schema's unique flag: no two live entries may
// share a value of a unique attribute. Recycled and tombstoned entries do
// not count; a revive re-checks and fails when the name was taken in the
// meantime.
type AttrUnique struct {
	Nop
}

func (AttrUnique) Name() string { return "attrunique" }

func (a AttrUnique) PreCreate(ctx context.Context, tx Tx, cands []*entry.Entry) error {
	return a.check(ctx, tx, cands, nil)
}

func (a AttrUnique) PreModify(ctx context.Context, tx Tx, pre, post []*entry.Entry, ml *entry.ModifyList) error {
	// Only live post states can conflict. Attributes are narrowed to the
	// modified ones unless the entry is returning from the recycle bin,
	// which demands a full re-check against the live world.
	var cands []*entry.Entry
	narrow := true
	for i, p := range post {
		if !p.IsLive() {
			continue
		}
		if !pre[i].IsLive() {
			narrow = false
		}
		cands = append(cands, p)
	}
	if len(cands) == 0 {
		return nil
	}

	var attrs []string
	if narrow {
		attrs = ml.Attrs()
	}
	return a.check(ctx, tx, cands, attrs)
}

// check verifies that no unique-attribute value of the candidates is held
// by a different live entry, in the batch or in the store. A nil attrs
// slice means every unique attribute.
func (a AttrUnique) check(ctx context.Context, tx Tx, cands []*entry.Entry, attrs []string) error {
	unique := uniqueAttrs(tx, attrs)
	if len(unique) == 0 {
		return nil
	}

	type holder struct {
		attr string
		val  value.Value
	}
	seen := make(map[string]holder)
	candUUIDs := make(map[string]struct{}, len(cands))
	var terms []*filter.Filter

	for _, e := range cands {
		if u, ok := e.OneText(entry.AttrUUID); ok {
			candUUIDs[u] = struct{}{}
		}
		for _, attr := range unique {
			at, ok := tx.Schema().Attribute(attr)
			if !ok {
				continue
			}
			for _, v := range e.Values(attr) {
				// Candidates may still carry raw values; compare in the
				// attribute's declared syntax, like the stored side does.
				// Uncoercible values are schema validation's problem.
				nv, err := v.Coerce(at.Syntax)
				if err != nil {
					continue
				}
				key := attr + "\x00" + nv.Key()
				if _, dup := seen[key]; dup {
					return fmt.Errorf("%w: duplicate %s %q within the operation", ErrViolation, attr, nv.Text())
				}
				seen[key] = holder{attr: attr, val: nv}
				terms = append(terms, filter.Eq(attr, nv))
			}
		}
	}
	if len(terms) == 0 {
		return nil
	}

	f, err := filter.Or(terms...).Validate(tx.Schema())
	if err != nil {
		return err
	}
	hits, err := tx.Search(ctx, f)
	if err != nil {
		return err
	}

	for _, hit := range hits {
		if !hit.IsLive() {
			continue
		}
		u, _ := hit.OneText(entry.AttrUUID)
		if _, own := candUUIDs[u]; own {
			continue
		}
		for _, h := range seen {
			if hit.HasValue(h.attr, h.val) {
				return fmt.Errorf("%w: %s %q is already held by %s", ErrViolation, h.attr, h.val.Text(), u)
			}
		}
	}
	return nil
}

// Verify reports unique-attribute values shared by more than one live
// entry.
func (AttrUnique) Verify(ctx context.Context, r Reader) []error {
	unique := uniqueAttrs(r, nil)
	if len(unique) == 0 {
		return nil
	}
	all, err := allEntries(ctx, r)
	if err != nil {
		return []error{err}
	}

	var errs []error
	holders := make(map[string]string)
	for _, e := range all {
		if !e.IsLive() {
			continue
		}
		u, _ := e.OneText(entry.AttrUUID)
		for _, attr := range unique {
			for _, v := range e.Values(attr) {
				key := attr + "\x00" + v.Key()
				if prev, dup := holders[key]; dup {
					errs = append(errs, fmt.Errorf("%w: %s %q is held by both %s and %s",
						ErrViolation, attr, v.Text(), prev, u))
					continue
				}
				holders[key] = u
			}
		}
	}
	return errs
}

// uniqueAttrs returns the unique-flagged attributes, intersected with
// limit when given.
func uniqueAttrs(r Reader, limit []string) []string {
	sch := r.Schema()

	var allowed map[string]struct{}
	if limit != nil {
		allowed = make(map[string]struct{}, len(limit))
		for _, a := range limit {
			allowed[a] = struct{}{}
		}
	}

	var out []string
	for _, name := range sch.AttributeNames() {
		at, _ := sch.Attribute(name)
		if at == nil || !at.Unique {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[name]; !ok {
				continue
			}
		}
		out = append(out, name)
	}
	return out
}
