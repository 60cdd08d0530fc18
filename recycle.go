package dirgo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/dirgo/access"
	"github.com/hupe1980/dirgo/entry"
	"github.com/hupe1980/dirgo/filter"
	"github.com/hupe1980/dirgo/value"
)

// ReviveRecycled returns recycled entries matching the filter to live
// state. Group membership held at deletion time is restored: every group
// the entry was a direct member of gets its forward reference back, and
// the derived membership recomputes from there. Authorization follows the
// modify rules; reviving demands the right to remove the recycled class.
//
// A filter that matches nothing in the recycle bin is an error for a user
// identity and a no-op for the internal identity.
func (s *Server) ReviveRecycled(ctx context.Context, ident access.Identity, f *filter.Filter) error {
	start := time.Now()

	n, err := s.revive(ctx, ident, f)

	s.metrics.RecordModify(n, time.Since(start), err)
	s.logger.LogRevive(ctx, ident, n, err)

	return err
}

func (s *Server) revive(ctx context.Context, ident access.Identity, f *filter.Filter) (int, error) {
	w, err := s.be.Write(ctx)
	if err != nil {
		return 0, err
	}
	defer w.Abort()

	vf, err := validateFor(recycledOnly(f), ident, w.Schema())
	if err != nil {
		return 0, err
	}
	matched, err := w.Search(ctx, vf)
	if err != nil {
		return 0, err
	}
	targets := w.Policy().FilterSearch(ident, matched)
	if len(targets) == 0 {
		if ident.IsInternal() {
			return 0, nil
		}
		return 0, ErrNoMatchingEntries
	}

	ml := entry.NewModifyList(entry.Removed(entry.AttrClass, value.IUTF8(entry.ClassRecycled)))
	if err := w.Policy().CheckModify(ident, targets, ml); err != nil {
		return 0, err
	}

	// The reverse membership frozen on each entry names the groups whose
	// forward references were stripped at deletion. Collect them before
	// the revive purges the derived attributes.
	memberships := make(map[uuid.UUID][]uuid.UUID)
	for _, e := range targets {
		u, ok := e.UUID()
		if !ok {
			continue
		}
		for _, v := range e.Values(entry.AttrDirectMemberOf) {
			if g, ok := v.AsReference(); ok {
				memberships[g] = append(memberships[g], u)
			}
		}
	}

	post := make([]*entry.Entry, 0, len(targets))
	for _, e := range targets {
		post = append(post, e.ToRevived())
	}

	if err := s.pipeline.PreModify(ctx, w, targets, post, ml); err != nil {
		return 0, err
	}
	if err := validateAll(w.Schema(), post); err != nil {
		return 0, err
	}
	if err := w.Update(ctx, post); err != nil {
		return 0, err
	}
	if err := s.pipeline.PostModify(ctx, w, targets, post, ml); err != nil {
		return 0, err
	}

	// Hand the revived entries back to their groups. Groups that were
	// deleted in the meantime simply match nothing here; reviving them
	// later brings their own member list back.
	for g, members := range memberships {
		restore := entry.NewModifyList()
		for _, m := range members {
			restore.Append(entry.Present(entry.AttrMember, value.Reference(m)))
		}
		if _, err := s.modifyIn(ctx, w, access.Internal(),
			withoutHidden(filter.Eq(entry.AttrUUID, value.UUID(g))), restore); err != nil {
			return 0, err
		}
	}

	return len(post), w.Commit(ctx)
}

// PurgeRecycled empties the recycle bin: every recycled entry collapses
// to a tombstone holding nothing but its uuid. References to it were
// already stripped at deletion, so no constraint hooks run here.
func (s *Server) PurgeRecycled(ctx context.Context) error {
	start := time.Now()

	n, err := s.purgeRecycled(ctx)

	s.metrics.RecordPurge("recycled", n, time.Since(start), err)
	s.logger.LogPurge(ctx, "recycled", n, err)

	return err
}

func (s *Server) purgeRecycled(ctx context.Context) (int, error) {
	if err := s.res.AcquireBackground(ctx); err != nil {
		return 0, err
	}
	defer s.res.ReleaseBackground()

	w, err := s.be.Write(ctx)
	if err != nil {
		return 0, err
	}
	defer w.Abort()

	vf, err := filter.And(
		filter.Eq(entry.AttrClass, entry.ClassRecycled),
		filter.AndNot(filter.Eq(entry.AttrClass, entry.ClassTombstone)),
	).Validate(w.Schema())
	if err != nil {
		return 0, err
	}
	es, err := w.Search(ctx, vf)
	if err != nil {
		return 0, err
	}
	if len(es) == 0 {
		return 0, nil
	}

	posts := make([]*entry.Entry, 0, len(es))
	for _, e := range es {
		posts = append(posts, e.ToTombstone())
	}
	if err := validateAll(w.Schema(), posts); err != nil {
		return 0, err
	}
	if err := w.Update(ctx, posts); err != nil {
		return 0, err
	}
	return len(posts), w.Commit(ctx)
}

// PurgeTombstones erases tombstoned entries from storage entirely. After
// this, nothing remembers the entry ever existed.
func (s *Server) PurgeTombstones(ctx context.Context) error {
	start := time.Now()

	n, err := s.purgeTombstones(ctx)

	s.metrics.RecordPurge("tombstone", n, time.Since(start), err)
	s.logger.LogPurge(ctx, "tombstone", n, err)

	return err
}

func (s *Server) purgeTombstones(ctx context.Context) (int, error) {
	if err := s.res.AcquireBackground(ctx); err != nil {
		return 0, err
	}
	defer s.res.ReleaseBackground()

	w, err := s.be.Write(ctx)
	if err != nil {
		return 0, err
	}
	defer w.Abort()

	vf, err := filter.Eq(entry.AttrClass, entry.ClassTombstone).Validate(w.Schema())
	if err != nil {
		return 0, err
	}
	es, err := w.Search(ctx, vf)
	if err != nil {
		return 0, err
	}
	if len(es) == 0 {
		return 0, nil
	}

	ids := make([]uint64, 0, len(es))
	for _, e := range es {
		ids = append(ids, e.ID())
	}
	if err := w.Remove(ctx, ids...); err != nil {
		return 0, err
	}
	return len(ids), w.Commit(ctx)
}
