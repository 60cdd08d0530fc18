package plugin

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hupe1980/dirgo/entry"
	"github.com/hupe1980/dirgo/filter"
	"github.com/hupe1980/dirgo/schema"
	"github.com/hupe1980/dirgo/value"
)

// ReferentialIntegrity keeps reference-syntax attributes honest: a
// reference may only point at a live entry, and deleting an entry strips
// the references that point at it.
type ReferentialIntegrity struct {
	Nop
}

func (ReferentialIntegrity) Name() string { return "refint" }

// refAttrs returns the attributes whose syntax is a reference.
func refAttrs(sch *schema.Schema) []string {
	var out []string
	for _, name := range sch.AttributeNames() {
		if at, ok := sch.Attribute(name); ok && at.Syntax == value.KindReference {
			out = append(out, name)
		}
	}
	return out
}

func (r ReferentialIntegrity) PreCreate(ctx context.Context, tx Tx, cands []*entry.Entry) error {
	return r.checkRefs(ctx, tx, cands)
}

func (r ReferentialIntegrity) PreModify(ctx context.Context, tx Tx, pre, post []*entry.Entry, ml *entry.ModifyList) error {
	return r.checkRefs(ctx, tx, post)
}

// checkRefs verifies every reference of the live candidates resolves to a
// live entry, accepting references between candidates of the same batch.
func (r ReferentialIntegrity) checkRefs(ctx context.Context, tx Tx, cands []*entry.Entry) error {
	attrs := refAttrs(tx.Schema())
	if len(attrs) == 0 {
		return nil
	}

	batch := make(map[uuid.UUID]struct{}, len(cands))
	for _, e := range cands {
		if !e.IsLive() {
			continue
		}
		if u, ok := e.UUID(); ok {
			batch[u] = struct{}{}
		}
	}

	// Derived membership is maintained by this pipeline, not asserted by
	// callers, so only forward references are checked.
	pending := make(map[uuid.UUID]string)
	for _, e := range cands {
		if !e.IsLive() {
			continue
		}
		for _, attr := range attrs {
			if attr == entry.AttrMemberOf || attr == entry.AttrDirectMemberOf {
				continue
			}
			for _, v := range e.Values(attr) {
				u, ok := refTarget(v)
				if !ok {
					return fmt.Errorf("%w: %s holds a malformed reference %q", ErrViolation, attr, v.Text())
				}
				if _, own := batch[u]; own {
					continue
				}
				pending[u] = attr
			}
		}
	}
	if len(pending) == 0 {
		return nil
	}

	terms := make([]*filter.Filter, 0, len(pending))
	for u := range pending {
		terms = append(terms, filter.Eq(entry.AttrUUID, value.UUID(u)))
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
		if u, ok := hit.UUID(); ok {
			delete(pending, u)
		}
	}
	for u, attr := range pending {
		return fmt.Errorf("%w: %s references %s which does not name a live entry", ErrViolation, attr, u)
	}
	return nil
}

// Verify reports forward references of live entries that do not resolve
// to a live entry.
func (ReferentialIntegrity) Verify(ctx context.Context, r Reader) []error {
	attrs := refAttrs(r.Schema())
	if len(attrs) == 0 {
		return nil
	}
	all, err := allEntries(ctx, r)
	if err != nil {
		return []error{err}
	}

	live := make(map[uuid.UUID]struct{}, len(all))
	for _, e := range all {
		if !e.IsLive() {
			continue
		}
		if u, ok := e.UUID(); ok {
			live[u] = struct{}{}
		}
	}

	var errs []error
	for _, e := range all {
		if !e.IsLive() {
			continue
		}
		holder, _ := e.OneText(entry.AttrUUID)
		for _, attr := range attrs {
			if attr == entry.AttrMemberOf || attr == entry.AttrDirectMemberOf {
				continue
			}
			for _, v := range e.Values(attr) {
				u, ok := refTarget(v)
				if !ok {
					errs = append(errs, fmt.Errorf("%w: %s of %s holds a malformed reference %q",
						ErrViolation, attr, holder, v.Text()))
					continue
				}
				if _, ok := live[u]; !ok {
					errs = append(errs, fmt.Errorf("%w: %s of %s references %s which does not name a live entry",
						ErrViolation, attr, holder, u))
				}
			}
		}
	}
	return errs
}

// PostDelete removes references to the just deleted entries from the
// remaining live entries, so nothing keeps pointing into the recycle bin.
func (r ReferentialIntegrity) PostDelete(ctx context.Context, tx Tx, cands []*entry.Entry) error {
	attrs := refAttrs(tx.Schema())
	if len(attrs) == 0 {
		return nil
	}

	gone := make([]value.Value, 0, len(cands))
	var terms []*filter.Filter
	for _, e := range cands {
		v, ok := e.One(entry.AttrUUID)
		if !ok {
			continue
		}
		ref, err := v.Coerce(value.KindReference)
		if err != nil {
			continue
		}
		gone = append(gone, ref)
		for _, attr := range attrs {
			terms = append(terms, filter.Eq(attr, ref))
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

	var posts []*entry.Entry
	for _, hit := range hits {
		if !hit.IsLive() {
			continue
		}
		post := hit.Clone()
		changed := false
		for _, attr := range attrs {
			for _, ref := range gone {
				if post.Remove(attr, ref) {
					changed = true
				}
			}
		}
		if changed {
			posts = append(posts, post)
		}
	}
	if len(posts) == 0 {
		return nil
	}
	return tx.Update(ctx, posts)
}
