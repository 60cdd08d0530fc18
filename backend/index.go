package backend

import (
	"context"
	"fmt"

	"github.com/hupe1980/dirgo/backend/kvstore"
	"github.com/hupe1980/dirgo/entry"
	"github.com/hupe1980/dirgo/idl"
	"github.com/hupe1980/dirgo/schema"
)

// indexKeys returns the index bucket keys the entry contributes to under
// the given maintained indexes.
func indexKeys(indexed []schema.IndexedAttr, e *entry.Entry) map[string]struct{} {
	keys := make(map[string]struct{})
	for _, ia := range indexed {
		vals := e.Values(ia.Attr)
		if len(vals) == 0 {
			continue
		}
		switch ia.Type {
		case schema.IndexEquality:
			for _, v := range vals {
				keys[string(kvstore.IdxKey(ia.Attr, kvstore.IndexEquality, v.Key()))] = struct{}{}
			}
		case schema.IndexPresence:
			keys[string(kvstore.IdxKey(ia.Attr, kvstore.IndexPresence, ""))] = struct{}{}
		}
	}
	return keys
}

// buildIndexes computes the full index state for the given entries.
func buildIndexes(sch *schema.Schema, entries map[uint64]*entry.Entry) map[string]*idl.Set {
	indexed := sch.IndexedAttrs()
	idx := make(map[string]*idl.Set)
	for id, e := range entries {
		for key := range indexKeys(indexed, e) {
			set, ok := idx[key]
			if !ok {
				set = idl.New()
				idx[key] = set
			}
			set.Add(id)
		}
	}
	return idx
}

// touchIndex returns the transaction-private copy of an ID list, cloning
// it out of the base snapshot on first touch.
func (w *WriteTxn) touchIndex(key string) *idl.Set {
	if set, ok := w.idx[key]; ok {
		return set
	}
	var set *idl.Set
	if base := w.base.indexSet(key); base != nil {
		set = base.Clone()
	} else {
		set = idl.New()
	}
	w.idx[key] = set
	return set
}

// indexEntry adjusts the ID lists for one entry transition. pre is nil on
// create, post is nil on removal; only lists whose membership actually
// changes are touched.
func (w *WriteTxn) indexEntry(id uint64, pre, post *entry.Entry) {
	var preKeys, postKeys map[string]struct{}
	if pre != nil {
		preKeys = indexKeys(w.indexed, pre)
	}
	if post != nil {
		postKeys = indexKeys(w.indexed, post)
	}

	for key := range preKeys {
		if _, keep := postKeys[key]; keep {
			continue
		}
		w.touchIndex(key).Remove(id)
	}
	for key := range postKeys {
		if _, had := preKeys[key]; had {
			continue
		}
		w.touchIndex(key).Add(id)
	}
}

// fmtIdxKey renders an index bucket key for diagnostics.
func fmtIdxKey(key string) string {
	attr, itype, valueKey, ok := kvstore.SplitIdxKey([]byte(key))
	if !ok {
		return fmt.Sprintf("%q", key)
	}
	if valueKey == "" {
		return fmt.Sprintf("%s/%s", attr, itype)
	}
	return fmt.Sprintf("%s/%s/%s", attr, itype, valueKey)
}

// Verify recomputes the expected index state from the entries and reports
// every divergence found. A healthy snapshot yields no errors; damage is
// repaired by a reindex.
func (r *ReadTxn) Verify(ctx context.Context) []error {
	g := r.gen
	var errs []error

	indexed := g.sch.IndexedAttrs()
	want := make(map[string]*idl.Set)
	n := 0
	for id, e := range g.entries {
		if n%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return append(errs, err)
			}
		}
		n++

		if !g.allIDs.Contains(id) {
			errs = append(errs, fmt.Errorf("%w: entry %d missing from the ID universe", ErrIndexCorrupt, id))
		}
		if id > g.idMax {
			errs = append(errs, fmt.Errorf("%w: entry %d above the ID high water mark %d", ErrIndexCorrupt, id, g.idMax))
		}

		for key := range indexKeys(indexed, e) {
			set, ok := want[key]
			if !ok {
				set = idl.New()
				want[key] = set
			}
			set.Add(id)
		}
	}

	if got, wantN := g.allIDs.Cardinality(), uint64(len(g.entries)); got != wantN {
		errs = append(errs, fmt.Errorf("%w: ID universe holds %d of %d entries", ErrIndexCorrupt, got, wantN))
	}

	for key, wantSet := range want {
		got := g.idx[key]
		if got == nil {
			errs = append(errs, fmt.Errorf("%w: missing list %s", ErrIndexCorrupt, fmtIdxKey(key)))
			continue
		}
		for id := range wantSet.Iterator() {
			if !got.Contains(id) {
				errs = append(errs, fmt.Errorf("%w: list %s misses entry %d", ErrIndexCorrupt, fmtIdxKey(key), id))
			}
		}
	}

	for key, got := range g.idx {
		wantSet := want[key]
		for id := range got.Iterator() {
			if wantSet == nil || !wantSet.Contains(id) {
				errs = append(errs, fmt.Errorf("%w: list %s holds stray entry %d", ErrIndexCorrupt, fmtIdxKey(key), id))
			}
		}
	}

	return errs
}
