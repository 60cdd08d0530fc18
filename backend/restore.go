package backend

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hupe1980/dirgo/access"
	"github.com/hupe1980/dirgo/backend/kvstore"
	"github.com/hupe1980/dirgo/entry"
	"github.com/hupe1980/dirgo/idl"
	"github.com/hupe1980/dirgo/schema"
)

// Restore replaces the entire store content with entries read from a
// backup archive. The current content is discarded, every index is
// rebuilt, and schema and access policy are recompiled from the restored
// entries before the new state is published. The store adopts the server
// identity carried in the archive metadata.
//
// Restore holds the writer gate for its whole duration; readers keep the
// pre-restore snapshot until the swap.
func (b *Backend) Restore(ctx context.Context, meta kvstore.MetaRecord, entries []*entry.Entry) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := b.writer.Acquire(ctx, 1); err != nil {
		return err
	}
	defer b.writer.Release(1)
	if b.closed.Load() {
		return ErrClosed
	}

	serverID, err := uuid.Parse(meta.ServerUUID)
	if err != nil {
		return fmt.Errorf("restore: invalid server identity %q: %w", meta.ServerUUID, err)
	}

	byID := make(map[uint64]*entry.Entry, len(entries))
	allIDs := idl.New()
	idMax := meta.IDMax
	for _, e := range entries {
		if e.ID() == 0 {
			return fmt.Errorf("restore: %s carries no internal id", e)
		}
		if _, dup := byID[e.ID()]; dup {
			return fmt.Errorf("restore: duplicate internal id %d", e.ID())
		}
		c := e.Clone()
		byID[c.ID()] = c
		allIDs.Add(c.ID())
		if c.ID() > idMax {
			idMax = c.ID()
		}
	}

	all := make([]*entry.Entry, 0, len(byID))
	for _, e := range byID {
		all = append(all, e)
	}
	sch, err := schema.FromEntries(all)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	policy, err := access.FromEntries(all, sch)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	idx := buildIndexes(sch, byID)

	meta.IDMax = idMax
	meta.IndexVersion = indexVersion
	if err := b.kv.Update(func(tx kvstore.Tx) error {
		if err := tx.Clear(kvstore.BucketEntries); err != nil {
			return err
		}
		if err := tx.Clear(kvstore.BucketIndex); err != nil {
			return err
		}
		for id, e := range byID {
			raw, err := kvstore.MarshalEntry(e)
			if err != nil {
				return err
			}
			if err := tx.Put(kvstore.BucketEntries, kvstore.IDKey(id), raw); err != nil {
				return err
			}
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
		raw, err := kvstore.MarshalMeta(meta)
		if err != nil {
			return err
		}
		return tx.Put(kvstore.BucketMeta, kvstore.KeyMeta, raw)
	}); err != nil {
		return fmt.Errorf("restore: flush: %w", err)
	}

	prev := b.current.Load()
	b.current.Store(&generation{
		serial:   prev.serial + 1,
		idMax:    idMax,
		serverID: serverID,
		entries:  byID,
		idx:      idx,
		allIDs:   allIDs,
		sch:      sch,
		policy:   policy,
	})

	b.logger.Info("restored store from archive",
		"entries", len(byID), "server_uuid", serverID)
	return nil
}
