package plugin

import (
	"bytes"
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/hupe1980/dirgo/entry"
	"github.com/hupe1980/dirgo/value"
)

// MemberOf derives the reverse membership attributes from the forward
// member references of group entries: directmemberof names the groups
// holding the entry, memberof adds every group reachable through nesting.
//
// The derivation recomputes the whole live membership graph whenever a
// write touches it. That makes nested and even cyclic group arrangements
// converge without bookkeeping: a cycle simply yields entries that are
// transitive members of each other's groups. Recycled entries are left
// untouched, freezing their reverse membership for a later revive.
type MemberOf struct {
	Nop
}

func (MemberOf) Name() string { return "memberof" }

func (m MemberOf) PostCreate(ctx context.Context, tx Tx, cands []*entry.Entry) error {
	if !touchesMembership(cands, nil) {
		return nil
	}
	return m.recompute(ctx, tx)
}

func (m MemberOf) PostModify(ctx context.Context, tx Tx, pre, post []*entry.Entry, ml *entry.ModifyList) error {
	if !touchesMembership(pre, post) {
		return nil
	}
	return m.recompute(ctx, tx)
}

func (m MemberOf) PostDelete(ctx context.Context, tx Tx, cands []*entry.Entry) error {
	if !touchesMembership(cands, nil) {
		return nil
	}
	return m.recompute(ctx, tx)
}

// touchesMembership reports whether any entry of the given states can
// influence the membership graph.
func touchesMembership(a, b []*entry.Entry) bool {
	for _, list := range [][]*entry.Entry{a, b} {
		for _, e := range list {
			if e.HasClass(entry.ClassGroup) || e.Has(entry.AttrMember) || e.Has(entry.AttrMemberOf) {
				return true
			}
		}
	}
	return false
}

func (m MemberOf) recompute(ctx context.Context, tx Tx) error {
	all, err := allEntries(ctx, tx)
	if err != nil {
		return err
	}
	holders := memberGraph(all)

	var posts []*entry.Entry
	for _, e := range all {
		if !e.IsLive() {
			continue
		}
		u, ok := e.UUID()
		if !ok {
			continue
		}

		direct := holders[u]
		full := reachable(holders, direct)
		if sameRefs(e, entry.AttrDirectMemberOf, direct) && sameRefSet(e, entry.AttrMemberOf, full) {
			continue
		}

		post := e.Clone()
		setRefs(post, entry.AttrDirectMemberOf, direct)
		fullList := make([]uuid.UUID, 0, len(full))
		for g := range full {
			fullList = append(fullList, g)
		}
		setRefs(post, entry.AttrMemberOf, fullList)
		posts = append(posts, post)
	}

	if len(posts) == 0 {
		return nil
	}
	return tx.Update(ctx, posts)
}

// Verify reports live entries whose derived membership attributes differ
// from a fresh recomputation of the graph.
func (MemberOf) Verify(ctx context.Context, r Reader) []error {
	all, err := allEntries(ctx, r)
	if err != nil {
		return []error{err}
	}
	holders := memberGraph(all)

	var errs []error
	for _, e := range all {
		if !e.IsLive() {
			continue
		}
		u, ok := e.UUID()
		if !ok {
			continue
		}
		direct := holders[u]
		if !sameRefs(e, entry.AttrDirectMemberOf, direct) {
			errs = append(errs, fmt.Errorf("%w: %s holds stale %s", ErrViolation, u, entry.AttrDirectMemberOf))
		}
		if !sameRefSet(e, entry.AttrMemberOf, reachable(holders, direct)) {
			errs = append(errs, fmt.Errorf("%w: %s holds stale %s", ErrViolation, u, entry.AttrMemberOf))
		}
	}
	return errs
}

// memberGraph returns the forward edges of the live membership graph:
// member uuid to the groups naming it.
func memberGraph(all []*entry.Entry) map[uuid.UUID][]uuid.UUID {
	holders := make(map[uuid.UUID][]uuid.UUID)
	for _, e := range all {
		if !e.IsLive() || !e.HasClass(entry.ClassGroup) {
			continue
		}
		g, ok := e.UUID()
		if !ok {
			continue
		}
		for _, v := range e.Values(entry.AttrMember) {
			if u, ok := refTarget(v); ok {
				holders[u] = append(holders[u], g)
			}
		}
	}
	return holders
}

// reachable walks the nesting upwards from the direct holders; the
// visited set terminates cycles.
func reachable(holders map[uuid.UUID][]uuid.UUID, direct []uuid.UUID) map[uuid.UUID]struct{} {
	full := make(map[uuid.UUID]struct{}, len(direct))
	queue := slices.Clone(direct)
	for len(queue) > 0 {
		g := queue[0]
		queue = queue[1:]
		if _, done := full[g]; done {
			continue
		}
		full[g] = struct{}{}
		queue = append(queue, holders[g]...)
	}
	return full
}

// sameRefs reports whether the attribute holds exactly the given
// references, ignoring order.
func sameRefs(e *entry.Entry, attr string, want []uuid.UUID) bool {
	set := make(map[uuid.UUID]struct{}, len(want))
	for _, u := range want {
		set[u] = struct{}{}
	}
	return sameRefSet(e, attr, set)
}

func sameRefSet(e *entry.Entry, attr string, want map[uuid.UUID]struct{}) bool {
	vals := e.Values(attr)
	if len(vals) != len(want) {
		return false
	}
	for _, v := range vals {
		u, ok := refTarget(v)
		if !ok {
			return false
		}
		if _, ok := want[u]; !ok {
			return false
		}
	}
	return true
}

// setRefs replaces the attribute with the given references in a stable
// order, clearing it when there are none.
func setRefs(e *entry.Entry, attr string, refs []uuid.UUID) {
	if len(refs) == 0 {
		e.Purge(attr)
		return
	}
	sorted := slices.Clone(refs)
	slices.SortFunc(sorted, func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	})
	vals := make([]value.Value, 0, len(sorted))
	for _, u := range sorted {
		vals = append(vals, value.Reference(u))
	}
	e.Set(attr, vals...)
}
