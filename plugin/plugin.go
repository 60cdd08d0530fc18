// Package plugin implements the constraint and derivation hooks that run
// inside every write operation: identifier assignment, attribute
// uniqueness, referential integrity and derived group membership.
//
// Plugins see the write transaction they run in, so every check reads the
// uncommitted state the operation is about to commit. A plugin error
// aborts the operation before anything becomes visible.
package plugin

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hupe1980/dirgo/entry"
	"github.com/hupe1980/dirgo/filter"
	"github.com/hupe1980/dirgo/schema"
	"github.com/hupe1980/dirgo/value"
)

// ErrViolation is wrapped by every plugin rejection.
var ErrViolation = errors.New("constraint violated")

// Reader is the read-only slice of a transaction. Search sees the raw
// stored state, dead entries included.
type Reader interface {
	Schema() *schema.Schema
	Search(ctx context.Context, f *filter.Filter) ([]*entry.Entry, error)
}

// Tx is the slice of the write transaction plugins operate on. Update
// replaces stored entries directly without re-entering the plugin
// pipeline.
type Tx interface {
	Reader
	Exists(ctx context.Context, f *filter.Filter) (bool, error)
	Update(ctx context.Context, posts []*entry.Entry) error
}

// Plugin hooks into the phases of the write pipeline. Pre hooks may
// mutate the candidate entries they are handed; post hooks run after the
// store applied the change and may issue further updates through the
// transaction.
//
// For modify phases, pre and post pair by index: post[i] is pre[i] with
// the modification list applied.
type Plugin interface {
	Name() string

	PreCreate(ctx context.Context, tx Tx, cands []*entry.Entry) error
	PostCreate(ctx context.Context, tx Tx, cands []*entry.Entry) error

	PreModify(ctx context.Context, tx Tx, pre, post []*entry.Entry, ml *entry.ModifyList) error
	PostModify(ctx context.Context, tx Tx, pre, post []*entry.Entry, ml *entry.ModifyList) error

	PreDelete(ctx context.Context, tx Tx, cands []*entry.Entry) error
	PostDelete(ctx context.Context, tx Tx, cands []*entry.Entry) error
}

// Nop provides no-op defaults so a plugin only spells out the phases it
// cares about.
type Nop struct{}

func (Nop) PreCreate(context.Context, Tx, []*entry.Entry) error  { return nil }
func (Nop) PostCreate(context.Context, Tx, []*entry.Entry) error { return nil }

func (Nop) PreModify(context.Context, Tx, []*entry.Entry, []*entry.Entry, *entry.ModifyList) error {
	return nil
}

func (Nop) PostModify(context.Context, Tx, []*entry.Entry, []*entry.Entry, *entry.ModifyList) error {
	return nil
}

func (Nop) PreDelete(context.Context, Tx, []*entry.Entry) error  { return nil }
func (Nop) PostDelete(context.Context, Tx, []*entry.Entry) error { return nil }

// Pipeline runs plugins in a fixed order. The order matters: identifier
// assignment must precede uniqueness, and reference cleanup must precede
// membership recomputation.
type Pipeline struct {
	plugins []Plugin
}

// NewPipeline builds a pipeline running the given plugins in order.
func NewPipeline(ps ...Plugin) *Pipeline {
	return &Pipeline{plugins: ps}
}

// Default returns the standard pipeline.
func Default() *Pipeline {
	return NewPipeline(
		Base{},
		AttrUnique{},
		ReferentialIntegrity{},
		MemberOf{},
	)
}

func (p *Pipeline) run(name string, fn func(pl Plugin) error) error {
	for _, pl := range p.plugins {
		if err := fn(pl); err != nil {
			return fmt.Errorf("%s %s: %w", pl.Name(), name, err)
		}
	}
	return nil
}

func (p *Pipeline) PreCreate(ctx context.Context, tx Tx, cands []*entry.Entry) error {
	return p.run("pre create", func(pl Plugin) error { return pl.PreCreate(ctx, tx, cands) })
}

func (p *Pipeline) PostCreate(ctx context.Context, tx Tx, cands []*entry.Entry) error {
	return p.run("post create", func(pl Plugin) error { return pl.PostCreate(ctx, tx, cands) })
}

func (p *Pipeline) PreModify(ctx context.Context, tx Tx, pre, post []*entry.Entry, ml *entry.ModifyList) error {
	return p.run("pre modify", func(pl Plugin) error { return pl.PreModify(ctx, tx, pre, post, ml) })
}

func (p *Pipeline) PostModify(ctx context.Context, tx Tx, pre, post []*entry.Entry, ml *entry.ModifyList) error {
	return p.run("post modify", func(pl Plugin) error { return pl.PostModify(ctx, tx, pre, post, ml) })
}

func (p *Pipeline) PreDelete(ctx context.Context, tx Tx, cands []*entry.Entry) error {
	return p.run("pre delete", func(pl Plugin) error { return pl.PreDelete(ctx, tx, cands) })
}

func (p *Pipeline) PostDelete(ctx context.Context, tx Tx, cands []*entry.Entry) error {
	return p.run("post delete", func(pl Plugin) error { return pl.PostDelete(ctx, tx, cands) })
}

// Verifier is implemented by plugins that can check their invariant
// against committed state, outside any write.
type Verifier interface {
	Verify(ctx context.Context, r Reader) []error
}

// Verify runs every verifying plugin against the given snapshot and
// collects all findings. A healthy store yields an empty slice.
func (p *Pipeline) Verify(ctx context.Context, r Reader) []error {
	var errs []error
	for _, pl := range p.plugins {
		v, ok := pl.(Verifier)
		if !ok {
			continue
		}
		for _, err := range v.Verify(ctx, r) {
			errs = append(errs, fmt.Errorf("%s: %w", pl.Name(), err))
		}
	}
	return errs
}

// allEntries fetches every stored entry, dead ones included.
func allEntries(ctx context.Context, r Reader) ([]*entry.Entry, error) {
	f, err := filter.Pres(entry.AttrClass).Validate(r.Schema())
	if err != nil {
		return nil, err
	}
	return r.Search(ctx, f)
}

// refTarget extracts the entry uuid a reference value points at. Stored
// values carry the reference kind; pre-validation candidates may still
// hold the uuid as a plain uuid value or a raw string.
func refTarget(v value.Value) (uuid.UUID, bool) {
	if u, ok := v.AsReference(); ok {
		return u, true
	}
	if u, ok := v.AsUUID(); ok {
		return u, true
	}
	u, err := uuid.Parse(v.Text())
	return u, err == nil
}
