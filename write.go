package dirgo

import (
	"context"
	"time"

	"github.com/hupe1980/dirgo/access"
	"github.com/hupe1980/dirgo/backend"
	"github.com/hupe1980/dirgo/entry"
	"github.com/hupe1980/dirgo/filter"
)

// Create stores the given entries as the identity, after access checks,
// the constraint pipeline and schema validation. All entries are created
// in one transaction; any failure creates none of them.
//
// The caller's entries are not modified; assigned uuids live on the
// stored copies only.
func (s *Server) Create(ctx context.Context, ident access.Identity, entries ...*entry.Entry) error {
	start := time.Now()

	err := s.create(ctx, ident, entries)

	s.metrics.RecordCreate(len(entries), time.Since(start), err)
	s.logger.LogCreate(ctx, ident, len(entries), err)

	return err
}

// InternalCreate stores entries as the server itself, bypassing access
// control but not the constraint pipeline or schema validation.
func (s *Server) InternalCreate(ctx context.Context, entries ...*entry.Entry) error {
	return s.Create(ctx, access.Internal(), entries...)
}

func (s *Server) create(ctx context.Context, ident access.Identity, cands []*entry.Entry) error {
	if len(cands) == 0 {
		return ErrEmptyRequest
	}

	w, err := s.be.Write(ctx)
	if err != nil {
		return err
	}
	defer w.Abort()

	if err := s.createIn(ctx, w, ident, cands); err != nil {
		return err
	}
	return w.Commit(ctx)
}

// createIn runs a create inside an open transaction, so callers batching
// several operations into one commit can reuse it.
func (s *Server) createIn(ctx context.Context, w *backend.WriteTxn, ident access.Identity, cands []*entry.Entry) error {
	// The pipeline assigns identifiers and normalization types values in
	// place; work on copies so a failed operation leaves the caller's
	// entries untouched.
	work := make([]*entry.Entry, 0, len(cands))
	for _, e := range cands {
		c := e.Clone()
		// Type the values before the access check. Policy scopes carry
		// schema-typed values and would never match raw candidates.
		if err := w.Schema().Normalize(c); err != nil {
			return &ErrSchemaViolation{Entry: c.String(), cause: err}
		}
		work = append(work, c)
	}

	if err := w.Policy().CheckCreate(ident, work); err != nil {
		return err
	}

	if err := s.pipeline.PreCreate(ctx, w, work); err != nil {
		return err
	}
	if err := validateAll(w.Schema(), work); err != nil {
		return err
	}

	stored, err := w.Create(ctx, work)
	if err != nil {
		return err
	}
	return s.pipeline.PostCreate(ctx, w, stored)
}

// Modify applies the modification list to every live entry the filter
// selects and the identity may touch. All targets change in one
// transaction; any failure changes none of them.
//
// A filter that matches nothing visible is an error for a user identity
// and a no-op for the internal identity.
func (s *Server) Modify(ctx context.Context, ident access.Identity, f *filter.Filter, ml *entry.ModifyList) error {
	start := time.Now()

	n, err := s.modify(ctx, ident, f, ml)

	s.metrics.RecordModify(n, time.Since(start), err)
	s.logger.LogModify(ctx, ident, n, err)

	return err
}

// InternalModify applies the modification list as the server itself.
func (s *Server) InternalModify(ctx context.Context, f *filter.Filter, ml *entry.ModifyList) error {
	return s.Modify(ctx, access.Internal(), f, ml)
}

func (s *Server) modify(ctx context.Context, ident access.Identity, f *filter.Filter, ml *entry.ModifyList) (int, error) {
	if ml.Len() == 0 {
		return 0, ErrEmptyRequest
	}

	w, err := s.be.Write(ctx)
	if err != nil {
		return 0, err
	}
	defer w.Abort()

	n, err := s.modifyIn(ctx, w, ident, withoutHidden(f), ml)
	if err != nil || n == 0 {
		return n, err
	}
	return n, w.Commit(ctx)
}

// modifyIn applies the modification list to every entry the scoped filter
// selects, inside an open transaction, and returns how many entries
// changed. Zero with a nil error means nothing matched for an internal
// caller; the transaction is then untouched and need not commit.
func (s *Server) modifyIn(ctx context.Context, w *backend.WriteTxn, ident access.Identity, scoped *filter.Filter, ml *entry.ModifyList) (int, error) {
	vf, err := validateFor(scoped, ident, w.Schema())
	if err != nil {
		return 0, err
	}

	// Coercing the list first makes removals match stored values and lets
	// the access checks see canonical class names.
	vml, err := w.Schema().ValidateModify(ml)
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

	if err := w.Policy().CheckModify(ident, targets, vml); err != nil {
		return 0, err
	}

	post := make([]*entry.Entry, 0, len(targets))
	for _, e := range targets {
		c := e.Clone()
		c.Apply(vml)
		post = append(post, c)
	}

	if err := s.pipeline.PreModify(ctx, w, targets, post, vml); err != nil {
		return 0, err
	}
	if err := validateAll(w.Schema(), post); err != nil {
		return 0, err
	}
	if err := w.Update(ctx, post); err != nil {
		return 0, err
	}
	if err := s.pipeline.PostModify(ctx, w, targets, post, vml); err != nil {
		return 0, err
	}
	return len(post), nil
}

// Delete soft-deletes every live entry the filter selects and the
// identity may delete: the entries move to the recycle bin with their
// attributes frozen, and references pointing at them are stripped from
// the remaining live entries.
//
// A filter that matches nothing visible is an error for every identity;
// deletion is too destructive for silent no-ops.
func (s *Server) Delete(ctx context.Context, ident access.Identity, f *filter.Filter) error {
	start := time.Now()

	n, err := s.delete(ctx, ident, f)

	s.metrics.RecordDelete(n, time.Since(start), err)
	s.logger.LogDelete(ctx, ident, n, err)

	return err
}

// InternalDelete soft-deletes entries as the server itself.
func (s *Server) InternalDelete(ctx context.Context, f *filter.Filter) error {
	return s.Delete(ctx, access.Internal(), f)
}

func (s *Server) delete(ctx context.Context, ident access.Identity, f *filter.Filter) (int, error) {
	w, err := s.be.Write(ctx)
	if err != nil {
		return 0, err
	}
	defer w.Abort()

	vf, err := validateFor(withoutHidden(f), ident, w.Schema())
	if err != nil {
		return 0, err
	}
	matched, err := w.Search(ctx, vf)
	if err != nil {
		return 0, err
	}
	targets := w.Policy().FilterSearch(ident, matched)
	if len(targets) == 0 {
		return 0, ErrNoMatchingEntries
	}

	if err := w.Policy().CheckDelete(ident, targets); err != nil {
		return 0, err
	}

	// Pre hooks still see the live states and may mutate them; hand over
	// clones, not the shared snapshot entries.
	cands := make([]*entry.Entry, 0, len(targets))
	for _, e := range targets {
		cands = append(cands, e.Clone())
	}
	if err := s.pipeline.PreDelete(ctx, w, cands); err != nil {
		return 0, err
	}

	post := make([]*entry.Entry, 0, len(cands))
	for _, e := range cands {
		post = append(post, e.ToRecycled())
	}
	if err := validateAll(w.Schema(), post); err != nil {
		return 0, err
	}
	if err := w.Update(ctx, post); err != nil {
		return 0, err
	}
	if err := s.pipeline.PostDelete(ctx, w, post); err != nil {
		return 0, err
	}
	return len(post), w.Commit(ctx)
}
