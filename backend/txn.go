package backend

import (
	"context"
	"fmt"
	"iter"
	"maps"
	"slices"

	"github.com/hupe1980/dirgo/access"
	"github.com/hupe1980/dirgo/backend/kvstore"
	"github.com/hupe1980/dirgo/entry"
	"github.com/hupe1980/dirgo/filter"
	"github.com/hupe1980/dirgo/idl"
	"github.com/hupe1980/dirgo/schema"
)

// snapshot is the read surface shared by read and write transactions. A
// write transaction exposes its own uncommitted state through it.
type snapshot interface {
	Schema() *schema.Schema
	entryByID(id uint64) (*entry.Entry, bool)
	indexSet(key string) *idl.Set
	entryIDs() *idl.Set
}

// checkEvery is how many scanned entries pass between context checks.
const checkEvery = 1024

// searchSnapshot resolves the filter to a candidate set and loads the
// matching entries in ascending ID order. Filters must have been schema
// validated; unindexed and negated terms fall back to a full scan with
// per-entry verification.
func searchSnapshot(ctx context.Context, s snapshot, f *filter.Filter) ([]*entry.Entry, error) {
	cand := resolve(s, f)

	scan := cand.Set()
	if cand.IsAll() {
		scan = s.entryIDs()
	}

	var out []*entry.Entry
	n := 0
	for id := range scan.Iterator() {
		if n%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		n++

		e, ok := s.entryByID(id)
		if !ok {
			return nil, fmt.Errorf("%w: list references missing entry %d", ErrIndexCorrupt, id)
		}
		if cand.NeedsCheck() && !f.Matches(e) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// existsSnapshot is searchSnapshot with an early exit on the first match.
func existsSnapshot(ctx context.Context, s snapshot, f *filter.Filter) (bool, error) {
	cand := resolve(s, f)
	if !cand.NeedsCheck() {
		return !cand.Set().IsEmpty(), nil
	}

	scan := cand.Set()
	if cand.IsAll() {
		scan = s.entryIDs()
	}

	n := 0
	for id := range scan.Iterator() {
		if n%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return false, err
			}
		}
		n++

		e, ok := s.entryByID(id)
		if !ok {
			return false, fmt.Errorf("%w: list references missing entry %d", ErrIndexCorrupt, id)
		}
		if f.Matches(e) {
			return true, nil
		}
	}
	return false, nil
}

// ReadTxn is a consistent point-in-time view of the store. Entries
// returned from it are shared with the snapshot and must be cloned before
// any mutation.
type ReadTxn struct {
	gen *generation
}

// Serial returns the snapshot's generation number. It increases by one
// with every committed write.
func (r *ReadTxn) Serial() uint64 { return r.gen.serial }

// Schema returns the schema the snapshot was committed under.
func (r *ReadTxn) Schema() *schema.Schema { return r.gen.sch }

// Policy returns the access policy the snapshot was committed under.
func (r *ReadTxn) Policy() *access.Policy { return r.gen.policy }

// Count returns the number of stored entries, dead ones included.
func (r *ReadTxn) Count() int { return len(r.gen.entries) }

// IDMax returns the highest internal ID ever allocated. It never moves
// backwards, even when the highest entries are removed.
func (r *ReadTxn) IDMax() uint64 { return r.gen.idMax }

func (r *ReadTxn) entryByID(id uint64) (*entry.Entry, bool) { return r.gen.entryByID(id) }

func (r *ReadTxn) indexSet(key string) *idl.Set { return r.gen.indexSet(key) }

func (r *ReadTxn) entryIDs() *idl.Set { return r.gen.entryIDs() }

// Search returns the entries matching the validated filter, in ascending
// internal ID order. No access control or liveness filtering is applied
// here; tombstoned and recycled entries match like any other.
func (r *ReadTxn) Search(ctx context.Context, f *filter.Filter) ([]*entry.Entry, error) {
	return searchSnapshot(ctx, r, f)
}

// Exists reports whether at least one entry matches the validated filter.
func (r *ReadTxn) Exists(ctx context.Context, f *filter.Filter) (bool, error) {
	return existsSnapshot(ctx, r, f)
}

// Entries yields every stored entry in ascending internal ID order.
func (r *ReadTxn) Entries() iter.Seq[*entry.Entry] {
	return func(yield func(*entry.Entry) bool) {
		for id := range r.gen.allIDs.Iterator() {
			if e, ok := r.gen.entries[id]; ok {
				if !yield(e) {
					return
				}
			}
		}
	}
}

// WriteTxn is the single mutating transaction. It overlays its changes on
// the snapshot it was opened against; nothing is visible to readers or
// durable until Commit returns nil.
type WriteTxn struct {
	b    *Backend
	base *generation

	// entries overlays the base snapshot. A nil value marks a removal.
	entries map[uint64]*entry.Entry
	// idx holds the ID lists touched by this transaction, cloned from
	// the base on first touch.
	idx     map[string]*idl.Set
	allIDs  *idl.Set
	idMax   uint64
	sch     *schema.Schema
	policy  *access.Policy
	indexed []schema.IndexedAttr

	schemaChanged bool
	policyChanged bool
	reindexAll    bool
	done          bool
}

// Schema returns the schema the transaction operates under. A schema
// entry changed inside the transaction takes effect at commit, not here.
func (w *WriteTxn) Schema() *schema.Schema { return w.sch }

// Policy returns the access policy the transaction operates under.
func (w *WriteTxn) Policy() *access.Policy { return w.policy }

func (w *WriteTxn) entryByID(id uint64) (*entry.Entry, bool) {
	if e, ok := w.entries[id]; ok {
		return e, e != nil
	}
	return w.base.entryByID(id)
}

func (w *WriteTxn) indexSet(key string) *idl.Set {
	if s, ok := w.idx[key]; ok {
		return s
	}
	return w.base.indexSet(key)
}

func (w *WriteTxn) entryIDs() *idl.Set { return w.allIDs }

// Search returns the entries matching the validated filter as this
// transaction sees them, uncommitted changes included.
func (w *WriteTxn) Search(ctx context.Context, f *filter.Filter) ([]*entry.Entry, error) {
	if w.done {
		return nil, ErrTxnDone
	}
	return searchSnapshot(ctx, w, f)
}

// Exists reports whether at least one entry matches the validated filter
// as this transaction sees it.
func (w *WriteTxn) Exists(ctx context.Context, f *filter.Filter) (bool, error) {
	if w.done {
		return false, ErrTxnDone
	}
	return existsSnapshot(ctx, w, f)
}

// Create stores the given entries under freshly assigned internal IDs and
// returns the stored copies. The inputs are cloned; the transaction owns
// what it stores.
func (w *WriteTxn) Create(ctx context.Context, es []*entry.Entry) ([]*entry.Entry, error) {
	if w.done {
		return nil, ErrTxnDone
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]*entry.Entry, 0, len(es))
	for _, e := range es {
		w.idMax++
		id := w.idMax

		c := e.Clone()
		c.SetID(id)
		w.entries[id] = c
		w.allIDs.Add(id)
		w.indexEntry(id, nil, c)
		w.noteChanged(c)
		out = append(out, c)
	}
	return out, nil
}

// Update replaces stored entries with the given post states, matched by
// internal ID. Index lists are adjusted by the difference between the old
// and new state of each entry.
func (w *WriteTxn) Update(ctx context.Context, es []*entry.Entry) error {
	if w.done {
		return ErrTxnDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, e := range es {
		id := e.ID()
		pre, ok := w.entryByID(id)
		if !ok {
			return fmt.Errorf("%w: id %d", ErrNotFound, id)
		}

		c := e.Clone()
		c.SetID(id)
		w.entries[id] = c
		w.indexEntry(id, pre, c)
		w.noteChanged(pre)
		w.noteChanged(c)
	}
	return nil
}

// Remove erases entries by internal ID. This is the terminal deletion
// used by tombstone reaping; there is no way back afterwards.
func (w *WriteTxn) Remove(ctx context.Context, ids ...uint64) error {
	if w.done {
		return ErrTxnDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, id := range ids {
		pre, ok := w.entryByID(id)
		if !ok {
			return fmt.Errorf("%w: id %d", ErrNotFound, id)
		}

		w.entries[id] = nil
		w.allIDs.Remove(id)
		w.indexEntry(id, pre, nil)
		w.noteChanged(pre)
	}
	return nil
}

// Reindex rebuilds every ID list from the entries at commit, replacing
// whatever is stored.
func (w *WriteTxn) Reindex(ctx context.Context) error {
	if w.done {
		return ErrTxnDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	w.reindexAll = true
	return nil
}

// noteChanged flags reloads for entries that carry definition classes.
// Schema changes force a policy recompile too, because profile filters
// are validated against the schema.
func (w *WriteTxn) noteChanged(e *entry.Entry) {
	if e.HasClass(schema.ClassAttributeType) || e.HasClass(schema.ClassClassType) {
		w.schemaChanged = true
	}
	if e.HasClass(access.ClassProfile) {
		w.policyChanged = true
	}
}

// working merges the base snapshot with the overlay into a fresh entry
// map. The result becomes the next generation's entry table.
func (w *WriteTxn) working() map[uint64]*entry.Entry {
	merged := maps.Clone(w.base.entries)
	for id, e := range w.entries {
		if e == nil {
			delete(merged, id)
			continue
		}
		merged[id] = e
	}
	return merged
}

// Commit makes the transaction durable and visible. When schema or access
// profile entries were touched, the new definitions are compiled first and
// a failure there fails the whole commit. Commit finishes the transaction
// whether it succeeds or not; on error the store keeps the state from
// before the transaction.
func (w *WriteTxn) Commit(ctx context.Context) error {
	if w.done {
		return ErrTxnDone
	}
	if err := ctx.Err(); err != nil {
		w.finish()
		return err
	}

	merged := w.working()
	all := make([]*entry.Entry, 0, len(merged))
	for _, e := range merged {
		all = append(all, e)
	}

	sch := w.sch
	if w.schemaChanged {
		next, err := schema.FromEntries(all)
		if err != nil {
			w.finish()
			return err
		}
		if !slices.Equal(w.indexed, next.IndexedAttrs()) {
			w.reindexAll = true
		}
		sch = next
	}

	policy := w.policy
	if w.schemaChanged || w.policyChanged {
		next, err := access.FromEntries(all, sch)
		if err != nil {
			w.finish()
			return err
		}
		policy = next
	}

	if w.reindexAll {
		w.idx = buildIndexes(sch, merged)
	}

	if err := w.b.kv.Update(func(tx kvstore.Tx) error {
		for id, e := range w.entries {
			if e == nil {
				if err := tx.Delete(kvstore.BucketEntries, kvstore.IDKey(id)); err != nil {
					return err
				}
				continue
			}
			raw, err := kvstore.MarshalEntry(e)
			if err != nil {
				return err
			}
			if err := tx.Put(kvstore.BucketEntries, kvstore.IDKey(id), raw); err != nil {
				return err
			}
		}

		if w.reindexAll {
			if err := tx.Clear(kvstore.BucketIndex); err != nil {
				return err
			}
		}
		for key, set := range w.idx {
			if set.IsEmpty() && !w.reindexAll {
				if err := tx.Delete(kvstore.BucketIndex, []byte(key)); err != nil {
					return err
				}
				continue
			}
			raw, err := set.Marshal()
			if err != nil {
				return err
			}
			if err := tx.Put(kvstore.BucketIndex, []byte(key), raw); err != nil {
				return err
			}
		}

		raw, err := kvstore.MarshalMeta(kvstore.MetaRecord{
			IDMax:        w.idMax,
			ServerUUID:   w.base.serverID.String(),
			IndexVersion: indexVersion,
		})
		if err != nil {
			return err
		}
		return tx.Put(kvstore.BucketMeta, kvstore.KeyMeta, raw)
	}); err != nil {
		// The storage update rolled back, so memory and disk still agree
		// on the pre-transaction state. The transaction is dead either way.
		w.finish()
		return fmt.Errorf("flush transaction: %w", err)
	}

	idx := w.idx
	if !w.reindexAll {
		idx = maps.Clone(w.base.idx)
		for key, set := range w.idx {
			if set.IsEmpty() {
				delete(idx, key)
				continue
			}
			idx[key] = set
		}
	}

	next := &generation{
		serial:   w.base.serial + 1,
		idMax:    w.idMax,
		serverID: w.base.serverID,
		entries:  merged,
		idx:      idx,
		allIDs:   w.allIDs,
		sch:      sch,
		policy:   policy,
	}
	w.b.current.Store(next)

	w.b.logger.Debug("committed generation",
		"serial", next.serial,
		"changed", len(w.entries),
		"entries", len(merged),
		"schema_reload", w.schemaChanged,
		"policy_reload", w.schemaChanged || w.policyChanged,
		"reindex", w.reindexAll)

	w.finish()
	return nil
}

// Abort discards the transaction. Aborting a finished transaction is a
// no-op.
func (w *WriteTxn) Abort() {
	if w.done {
		return
	}
	w.finish()
}

func (w *WriteTxn) finish() {
	w.done = true
	w.b.writer.Release(1)
}
