// Package backend implements the storage engine beneath the directory
// server: all entries and their secondary indexes are held in immutable
// in-memory snapshots and persisted through a transactional key-value
// store.
//
// Reads never block. A read transaction pins the snapshot that is current
// at that instant and resolves every lookup against it. Writes are
// serialized through a single writer gate; a commit flushes all changes of
// the transaction in one storage update and then publishes the next
// snapshot with an atomic pointer swap, so a reader observes either the
// previous state or the new one, never a mix.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hupe1980/dirgo/access"
	"github.com/hupe1980/dirgo/backend/kvstore"
	"github.com/hupe1980/dirgo/entry"
	"github.com/hupe1980/dirgo/idl"
	"github.com/hupe1980/dirgo/schema"
	"golang.org/x/sync/semaphore"
)

// indexVersion is bumped whenever the on-disk index layout changes. A
// mismatch on open triggers a full reindex.
const indexVersion = 1

var (
	// ErrClosed is returned when the backend has been closed.
	ErrClosed = errors.New("backend is closed")
	// ErrTxnDone is returned when a finished transaction is used again.
	ErrTxnDone = errors.New("transaction is finished")
	// ErrNotFound is returned when an internal ID does not name an entry.
	ErrNotFound = errors.New("entry not found")
	// ErrIndexCorrupt is returned when an index references an entry that
	// does not exist. Verify locates the damage; Reindex repairs it.
	ErrIndexCorrupt = errors.New("index corruption")
)

// generation is one immutable snapshot of the whole store. Entries and ID
// lists in a generation are shared between readers and must never be
// mutated; writers clone what they change and publish a new generation.
type generation struct {
	serial   uint64
	idMax    uint64
	serverID uuid.UUID
	entries  map[uint64]*entry.Entry
	idx      map[string]*idl.Set
	allIDs   *idl.Set
	sch      *schema.Schema
	policy   *access.Policy
}

func (g *generation) Schema() *schema.Schema { return g.sch }

func (g *generation) entryByID(id uint64) (*entry.Entry, bool) {
	e, ok := g.entries[id]
	return e, ok
}

func (g *generation) indexSet(key string) *idl.Set { return g.idx[key] }

func (g *generation) entryIDs() *idl.Set { return g.allIDs }

// Options configures a Backend.
type Options struct {
	// Logger receives operational events. Defaults to slog.Default().
	Logger *slog.Logger
}

// Backend is the transactional entry store.
type Backend struct {
	kv     kvstore.Store
	logger *slog.Logger

	writer  *semaphore.Weighted
	current atomic.Pointer[generation]
	closed  atomic.Bool
}

// New opens a backend over the given store, loading all entries and
// indexes into the first snapshot. A fresh store is initialised with a
// new server identity. Stored indexes are used when their version
// matches; otherwise they are rebuilt from the entries.
func New(store kvstore.Store, optFns ...func(o *Options)) (*Backend, error) {
	opts := Options{
		Logger: slog.Default(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	b := &Backend{
		kv:     store,
		logger: opts.Logger,
		writer: semaphore.NewWeighted(1),
	}
	if err := b.load(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Backend) load() error {
	var (
		meta     kvstore.MetaRecord
		haveMeta bool
		entries  = make(map[uint64]*entry.Entry)
		idx      map[string]*idl.Set
	)

	err := b.kv.View(func(tx kvstore.Tx) error {
		if raw := tx.Get(kvstore.BucketMeta, kvstore.KeyMeta); raw != nil {
			m, err := kvstore.UnmarshalMeta(raw)
			if err != nil {
				return fmt.Errorf("decode meta record: %w", err)
			}
			meta, haveMeta = m, true
		}

		if err := tx.Scan(kvstore.BucketEntries, func(k, v []byte) error {
			id, ok := kvstore.ParseIDKey(k)
			if !ok {
				return fmt.Errorf("malformed entry key %x", k)
			}
			e, err := kvstore.UnmarshalEntry(v)
			if err != nil {
				return fmt.Errorf("decode entry %d: %w", id, err)
			}
			e.SetID(id)
			entries[id] = e
			return nil
		}); err != nil {
			return err
		}

		// Stored indexes are only trusted when their layout version
		// matches this build.
		if haveMeta && meta.IndexVersion == indexVersion {
			idx = make(map[string]*idl.Set)
			return tx.Scan(kvstore.BucketIndex, func(k, v []byte) error {
				set, err := idl.Unmarshal(v)
				if err != nil {
					return fmt.Errorf("decode index list %q: %w", k, err)
				}
				idx[string(k)] = set
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("load backend: %w", err)
	}

	if !haveMeta {
		meta = kvstore.MetaRecord{
			ServerUUID:   uuid.NewString(),
			IndexVersion: indexVersion,
		}
	}
	serverID, err := uuid.Parse(meta.ServerUUID)
	if err != nil {
		return fmt.Errorf("load backend: invalid server identity %q: %w", meta.ServerUUID, err)
	}

	idMax := meta.IDMax
	allIDs := idl.New()
	for id := range entries {
		allIDs.Add(id)
		if id > idMax {
			idMax = id
		}
	}

	all := make([]*entry.Entry, 0, len(entries))
	for _, e := range entries {
		all = append(all, e)
	}

	sch, err := schema.FromEntries(all)
	if err != nil {
		return fmt.Errorf("load backend: %w", err)
	}

	reindexed := false
	if idx == nil {
		idx = buildIndexes(sch, entries)
		reindexed = true
	}

	policy, err := access.FromEntries(all, sch)
	if err != nil {
		return fmt.Errorf("load backend: %w", err)
	}

	b.current.Store(&generation{
		serial:   1,
		idMax:    idMax,
		serverID: serverID,
		entries:  entries,
		idx:      idx,
		allIDs:   allIDs,
		sch:      sch,
		policy:   policy,
	})

	if !haveMeta || reindexed {
		meta.IDMax = idMax
		meta.IndexVersion = indexVersion
		if err := b.kv.Update(func(tx kvstore.Tx) error {
			if reindexed {
				if err := tx.Clear(kvstore.BucketIndex); err != nil {
					return err
				}
				for key, set := range idx {
					raw, err := set.Marshal()
					if err != nil {
						return err
					}
					if err := tx.Put(kvstore.BucketIndex, []byte(key), raw); err != nil {
						return err
					}
				}
			}
			raw, err := kvstore.MarshalMeta(meta)
			if err != nil {
				return err
			}
			return tx.Put(kvstore.BucketMeta, kvstore.KeyMeta, raw)
		}); err != nil {
			return fmt.Errorf("persist rebuilt state: %w", err)
		}
		if reindexed && len(entries) > 0 {
			b.logger.Info("rebuilt secondary indexes",
				"entries", len(entries), "lists", len(idx))
		}
	}

	b.logger.Debug("backend loaded",
		"server_uuid", serverID, "entries", len(entries))
	return nil
}

// ServerUUID returns the identity of this store, minted when the store
// was first created. A restore adopts the identity of the archive.
func (b *Backend) ServerUUID() uuid.UUID { return b.current.Load().serverID }

// Read opens a read transaction pinned to the current snapshot. It never
// blocks and needs no release; the snapshot is reclaimed when the
// transaction goes out of scope.
func (b *Backend) Read() *ReadTxn {
	return &ReadTxn{gen: b.current.Load()}
}

// Write opens the write transaction. At most one write transaction exists
// at a time; Write blocks until the previous writer commits or aborts, or
// until ctx is done.
func (b *Backend) Write(ctx context.Context) (*WriteTxn, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if err := b.writer.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		b.writer.Release(1)
		return nil, ErrClosed
	}

	g := b.current.Load()
	return &WriteTxn{
		b:       b,
		base:    g,
		entries: make(map[uint64]*entry.Entry),
		idx:     make(map[string]*idl.Set),
		allIDs:  g.allIDs.Clone(),
		idMax:   g.idMax,
		sch:     g.sch,
		policy:  g.policy,
		indexed: g.sch.IndexedAttrs(),
	}, nil
}

// Close waits for an in-flight write transaction to finish and releases
// the underlying store. Close is idempotent.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	if err := b.writer.Acquire(context.Background(), 1); err == nil {
		b.writer.Release(1)
	}
	return b.kv.Close()
}
