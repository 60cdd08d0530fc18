package backend

import (
	"cmp"
	"slices"

	"github.com/hupe1980/dirgo/backend/kvstore"
	"github.com/hupe1980/dirgo/filter"
	"github.com/hupe1980/dirgo/idl"
	"github.com/hupe1980/dirgo/schema"
)

// resolve turns a validated filter into a candidate ID set using the
// maintained indexes. The result is never narrower than the true match
// set: an indexed candidate is exact, everything else is a superset the
// caller verifies entry by entry.
//
// Negated terms always resolve to the unbounded candidate. Subtracting an
// indexed list here would silently miss entries whenever a list is stale,
// so negation is only ever decided against the entry itself.
func resolve(s snapshot, f *filter.Filter) idl.Candidate {
	switch f.Op() {
	case filter.OpEq:
		if !s.Schema().Indexed(f.Attr(), schema.IndexEquality) {
			return idl.All()
		}
		key := kvstore.IdxKey(f.Attr(), kvstore.IndexEquality, f.Value().Key())
		if set := s.indexSet(string(key)); set != nil {
			return idl.Indexed(set)
		}
		// A maintained index with no list for the value proves there is
		// no match.
		return idl.Indexed(idl.New())

	case filter.OpPres:
		if !s.Schema().Indexed(f.Attr(), schema.IndexPresence) {
			return idl.All()
		}
		key := kvstore.IdxKey(f.Attr(), kvstore.IndexPresence, "")
		if set := s.indexSet(string(key)); set != nil {
			return idl.Indexed(set)
		}
		return idl.Indexed(idl.New())

	case filter.OpAnd:
		return resolveAnd(s, f.Children())

	case filter.OpOr:
		return resolveOr(s, f.Children())

	default:
		// Substring, negation and unresolved self terms.
		return idl.All()
	}
}

// resolveAnd intersects the bounded child candidates, smallest first so
// the working set only shrinks. Unbounded children drop out of the
// intersection; their condition is enforced by the verification pass.
func resolveAnd(s snapshot, subs []*filter.Filter) idl.Candidate {
	cands := make([]idl.Candidate, 0, len(subs))
	exact := true
	for _, sub := range subs {
		c := resolve(s, sub)
		if c.NeedsCheck() {
			exact = false
		}
		if c.IsAll() {
			continue
		}
		cands = append(cands, c)
	}
	if len(cands) == 0 {
		return idl.All()
	}

	slices.SortFunc(cands, func(a, b idl.Candidate) int {
		return cmp.Compare(a.Set().Cardinality(), b.Set().Cardinality())
	})

	out := cands[0].Set().Clone()
	for _, c := range cands[1:] {
		if out.IsEmpty() {
			break
		}
		out.And(c.Set())
	}

	if exact {
		return idl.Indexed(out)
	}
	return idl.Partial(out)
}

// resolveOr unions the child candidates. A single unbounded child makes
// the whole union unbounded.
func resolveOr(s snapshot, subs []*filter.Filter) idl.Candidate {
	out := idl.New()
	exact := true
	for _, sub := range subs {
		c := resolve(s, sub)
		if c.IsAll() {
			return idl.All()
		}
		if c.NeedsCheck() {
			exact = false
		}
		out.Or(c.Set())
	}

	if exact {
		return idl.Indexed(out)
	}
	return idl.Partial(out)
}
