package plugin

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/dirgo/backend"
	"github.com/hupe1980/dirgo/backend/kvstore"
	"github.com/hupe1980/dirgo/entry"
	"github.com/hupe1980/dirgo/filter"
	"github.com/hupe1980/dirgo/schema"
	"github.com/hupe1980/dirgo/value"
)

func testBackend(t *testing.T) *backend.Backend {
	t.Helper()

	b, err := backend.New(kvstore.NewMemory(), func(o *backend.Options) {
		o.Logger = slog.New(slog.DiscardHandler)
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = b.Close() })

	return b
}

func writeTx(t *testing.T, b *backend.Backend) *backend.WriteTxn {
	t.Helper()

	w, err := b.Write(context.Background())
	require.NoError(t, err)

	t.Cleanup(w.Abort)

	return w
}

func personID(name string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("person/"+name))
}

func groupID(name string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("group/"+name))
}

func person(t *testing.T, name string, attrs ...entry.Attr) *entry.Entry {
	t.Helper()

	base := []entry.Attr{
		entry.A(entry.AttrClass, entry.ClassObject, "person"),
		entry.A(entry.AttrName, name),
		entry.A(entry.AttrUUID, personID(name)),
	}

	e := entry.New(append(base, attrs...)...)
	require.NoError(t, schema.Core().Validate(e))

	return e
}

func group(t *testing.T, name string, members ...uuid.UUID) *entry.Entry {
	t.Helper()

	attrs := []entry.Attr{
		entry.A(entry.AttrClass, entry.ClassObject, entry.ClassGroup),
		entry.A(entry.AttrName, name),
		entry.A(entry.AttrUUID, groupID(name)),
	}
	if len(members) > 0 {
		vals := make([]any, 0, len(members))
		for _, m := range members {
			vals = append(vals, value.Reference(m))
		}
		attrs = append(attrs, entry.A(entry.AttrMember, vals...))
	}

	e := entry.New(attrs...)
	require.NoError(t, schema.Core().Validate(e))

	return e
}

// seed writes entries straight into the backend, bypassing the pipeline.
func seed(t *testing.T, b *backend.Backend, es ...*entry.Entry) []*entry.Entry {
	t.Helper()
	ctx := context.Background()

	w, err := b.Write(ctx)
	require.NoError(t, err)

	stored, err := w.Create(ctx, es)
	require.NoError(t, err)
	require.NoError(t, w.Commit(ctx))

	return stored
}

// pipelineCreate runs a create through the full pipeline and commits.
func pipelineCreate(t *testing.T, b *backend.Backend, p *Pipeline, es ...*entry.Entry) {
	t.Helper()
	ctx := context.Background()

	w, err := b.Write(ctx)
	require.NoError(t, err)

	cands := make([]*entry.Entry, 0, len(es))
	for _, e := range es {
		cands = append(cands, e.Clone())
	}

	require.NoError(t, p.PreCreate(ctx, w, cands))

	stored, err := w.Create(ctx, cands)
	require.NoError(t, err)

	require.NoError(t, p.PostCreate(ctx, w, stored))
	require.NoError(t, w.Commit(ctx))
}

// pipelineModify applies the modification list to every filter match
// through the full pipeline and commits.
func pipelineModify(t *testing.T, b *backend.Backend, p *Pipeline, f *filter.Filter, ml *entry.ModifyList) {
	t.Helper()
	ctx := context.Background()

	w, err := b.Write(ctx)
	require.NoError(t, err)

	vf, err := f.Validate(w.Schema())
	require.NoError(t, err)

	pre, err := w.Search(ctx, vf)
	require.NoError(t, err)
	require.NotEmpty(t, pre)

	post := make([]*entry.Entry, 0, len(pre))
	for _, e := range pre {
		c := e.Clone()
		c.Apply(ml)
		post = append(post, c)
	}

	require.NoError(t, p.PreModify(ctx, w, pre, post, ml))
	require.NoError(t, w.Update(ctx, post))
	require.NoError(t, p.PostModify(ctx, w, pre, post, ml))
	require.NoError(t, w.Commit(ctx))
}

// pipelineDelete recycles every filter match through the full pipeline
// and commits.
func pipelineDelete(t *testing.T, b *backend.Backend, p *Pipeline, f *filter.Filter) {
	t.Helper()
	ctx := context.Background()

	w, err := b.Write(ctx)
	require.NoError(t, err)

	vf, err := f.Validate(w.Schema())
	require.NoError(t, err)

	pre, err := w.Search(ctx, vf)
	require.NoError(t, err)
	require.NotEmpty(t, pre)

	require.NoError(t, p.PreDelete(ctx, w, pre))

	post := make([]*entry.Entry, 0, len(pre))
	for _, e := range pre {
		post = append(post, e.ToRecycled())
	}

	require.NoError(t, w.Update(ctx, post))
	require.NoError(t, p.PostDelete(ctx, w, post))
	require.NoError(t, w.Commit(ctx))
}

func fetch(t *testing.T, b *backend.Backend, f *filter.Filter) *entry.Entry {
	t.Helper()

	r := b.Read()

	vf, err := f.Validate(r.Schema())
	require.NoError(t, err)

	es, err := r.Search(context.Background(), vf)
	require.NoError(t, err)
	require.Len(t, es, 1)

	return es[0]
}

func byUUID(t *testing.T, b *backend.Backend, u uuid.UUID) *entry.Entry {
	t.Helper()
	return fetch(t, b, filter.Eq(entry.AttrUUID, value.UUID(u)))
}

func refs(t *testing.T, e *entry.Entry, attr string) []uuid.UUID {
	t.Helper()

	vals := e.Values(attr)
	out := make([]uuid.UUID, 0, len(vals))
	for _, v := range vals {
		u, ok := v.AsReference()
		require.True(t, ok, "attribute %s holds a non reference value %q", attr, v.Text())
		out = append(out, u)
	}

	return out
}

func TestBaseAssignsUUIDOnCreate(t *testing.T) {
	ctx := context.Background()
	b := testBackend(t)
	w := writeTx(t, b)

	bare := entry.New(
		entry.A(entry.AttrClass, entry.ClassObject, "person"),
		entry.A(entry.AttrName, "nouuid"),
	)
	textual := entry.New(
		entry.A(entry.AttrClass, entry.ClassObject, "person"),
		entry.A(entry.AttrName, "textual"),
		entry.A(entry.AttrUUID, personID("textual").String()),
	)

	require.NoError(t, Base{}.PreCreate(ctx, w, []*entry.Entry{bare, textual}))

	u, ok := bare.UUID()
	require.True(t, ok)
	assert.NotEqual(t, uuid.Nil, u)

	// A textual uuid is normalized to the typed form.
	v, ok := textual.One(entry.AttrUUID)
	require.True(t, ok)
	assert.Equal(t, value.KindUUID, v.Kind())

	got, ok := textual.UUID()
	require.True(t, ok)
	assert.Equal(t, personID("textual"), got)
}

func TestBaseRejectsBadCreates(t *testing.T) {
	ctx := context.Background()
	b := testBackend(t)
	seed(t, b, person(t, "alice"))

	twoUUIDs := entry.New(
		entry.A(entry.AttrClass, entry.ClassObject, "person"),
		entry.A(entry.AttrName, "twins"),
	)
	twoUUIDs.Set(entry.AttrUUID, value.UUID(personID("one")), value.UUID(personID("two")))

	tests := []struct {
		name    string
		cands   []*entry.Entry
		wantMsg string
	}{
		{
			name: "tombstone class",
			cands: []*entry.Entry{entry.New(
				entry.A(entry.AttrClass, entry.ClassObject, entry.ClassTombstone),
				entry.A(entry.AttrUUID, personID("ts")),
			)},
			wantMsg: "lifecycle classes",
		},
		{
			name: "recycled class",
			cands: []*entry.Entry{entry.New(
				entry.A(entry.AttrClass, entry.ClassObject, "person", entry.ClassRecycled),
				entry.A(entry.AttrName, "rec"),
			)},
			wantMsg: "lifecycle classes",
		},
		{
			name: "nil uuid",
			cands: []*entry.Entry{entry.New(
				entry.A(entry.AttrClass, entry.ClassObject, "person"),
				entry.A(entry.AttrName, "nil"),
				entry.A(entry.AttrUUID, uuid.Nil),
			)},
			wantMsg: "nil uuid",
		},
		{
			name: "malformed uuid",
			cands: []*entry.Entry{entry.New(
				entry.A(entry.AttrClass, entry.ClassObject, "person"),
				entry.A(entry.AttrName, "bad"),
				entry.A(entry.AttrUUID, "not-a-uuid"),
			)},
			wantMsg: "invalid uuid",
		},
		{
			name:    "two uuid values",
			cands:   []*entry.Entry{twoUUIDs},
			wantMsg: "uuid values",
		},
		{
			name: "duplicate in batch",
			cands: []*entry.Entry{
				person(t, "dup"),
				entry.New(
					entry.A(entry.AttrClass, entry.ClassObject, "person"),
					entry.A(entry.AttrName, "dup2"),
					entry.A(entry.AttrUUID, personID("dup")),
				),
			},
			wantMsg: "appears twice",
		},
		{
			name: "uuid already stored",
			cands: []*entry.Entry{entry.New(
				entry.A(entry.AttrClass, entry.ClassObject, "person"),
				entry.A(entry.AttrName, "impostor"),
				entry.A(entry.AttrUUID, personID("alice")),
			)},
			wantMsg: "already in use",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := writeTx(t, b)

			err := Base{}.PreCreate(ctx, w, tt.cands)
			require.ErrorIs(t, err, ErrViolation)
			assert.ErrorContains(t, err, tt.wantMsg)
		})
	}
}

func TestBaseKeepsUUIDImmutable(t *testing.T) {
	ctx := context.Background()
	b := testBackend(t)
	stored := seed(t, b, person(t, "alice"))
	w := writeTx(t, b)

	swapped := stored[0].Clone()
	swapped.Set(entry.AttrUUID, value.UUID(personID("other")))

	err := Base{}.PreModify(ctx, w, stored, []*entry.Entry{swapped}, entry.NewModifyList())
	require.ErrorIs(t, err, ErrViolation)
	assert.ErrorContains(t, err, "immutable")

	require.NoError(t, Base{}.PreModify(ctx, w, stored, []*entry.Entry{stored[0].Clone()}, entry.NewModifyList()))
}

func TestAttrUniqueCreate(t *testing.T) {
	ctx := context.Background()
	b := testBackend(t)
	stored := seed(t, b, person(t, "alice"), person(t, "bob"))

	// Recycle bob so his name no longer counts as taken.
	w, err := b.Write(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Update(ctx, []*entry.Entry{stored[1].ToRecycled()}))
	require.NoError(t, w.Commit(ctx))

	impostor := entry.New(
		entry.A(entry.AttrClass, entry.ClassObject, "person"),
		entry.A(entry.AttrName, "alice"),
		entry.A(entry.AttrUUID, personID("impostor")),
	)
	secondBob := entry.New(
		entry.A(entry.AttrClass, entry.ClassObject, "person"),
		entry.A(entry.AttrName, "bob"),
		entry.A(entry.AttrUUID, personID("bob2")),
	)

	tests := []struct {
		name    string
		cands   []*entry.Entry
		wantMsg string
	}{
		{
			name:    "name taken by live entry",
			cands:   []*entry.Entry{impostor},
			wantMsg: `name "alice" is already held by`,
		},
		{
			name:    "duplicate within batch",
			cands:   []*entry.Entry{person(t, "carol"), person(t, "carol")},
			wantMsg: "within the operation",
		},
		{
			name:  "recycled holder does not block",
			cands: []*entry.Entry{secondBob},
		},
		{
			name:  "fresh name",
			cands: []*entry.Entry{person(t, "dave")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := writeTx(t, b)

			err := AttrUnique{}.PreCreate(ctx, w, tt.cands)
			if tt.wantMsg == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrViolation)
			assert.ErrorContains(t, err, tt.wantMsg)
		})
	}
}

func TestAttrUniqueModify(t *testing.T) {
	ctx := context.Background()
	b := testBackend(t)
	stored := seed(t, b, person(t, "alice"), person(t, "bob"))

	rename := func(to string) (*entry.ModifyList, []*entry.Entry, []*entry.Entry) {
		ml := entry.NewModifyList(
			entry.Purged(entry.AttrName),
			entry.Present(entry.AttrName, to),
		)
		pre := []*entry.Entry{stored[1]}
		post := []*entry.Entry{stored[1].Clone()}
		post[0].Apply(ml)
		return ml, pre, post
	}

	t.Run("rename to taken name", func(t *testing.T) {
		w := writeTx(t, b)

		ml, pre, post := rename("alice")
		err := AttrUnique{}.PreModify(ctx, w, pre, post, ml)
		require.ErrorIs(t, err, ErrViolation)
		assert.ErrorContains(t, err, `name "alice" is already held by`)
	})

	t.Run("rename to fresh name", func(t *testing.T) {
		w := writeTx(t, b)

		ml, pre, post := rename("roberta")
		require.NoError(t, AttrUnique{}.PreModify(ctx, w, pre, post, ml))
	})

	t.Run("untouched unique attrs are not re-checked", func(t *testing.T) {
		w := writeTx(t, b)

		ml := entry.NewModifyList(entry.Present("displayname", "Bob B."))
		post := []*entry.Entry{stored[1].Clone()}
		post[0].Apply(ml)
		require.NoError(t, AttrUnique{}.PreModify(ctx, w, []*entry.Entry{stored[1]}, post, ml))
	})
}

func TestAttrUniqueReviveRechecksEverything(t *testing.T) {
	ctx := context.Background()
	b := testBackend(t)
	stored := seed(t, b, person(t, "alice"))

	// Recycle alice, then let a new live entry claim her name.
	w, err := b.Write(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Update(ctx, []*entry.Entry{stored[0].ToRecycled()}))
	require.NoError(t, w.Commit(ctx))

	seed(t, b, entry.New(
		entry.A(entry.AttrClass, entry.ClassObject, "person"),
		entry.A(entry.AttrName, "alice"),
		entry.A(entry.AttrUUID, personID("alice-reborn")),
	))

	// The revival touches only the class attribute, but the full unique
	// set must be re-checked against the live world.
	w2 := writeTx(t, b)

	vf, err := filter.Eq(entry.AttrUUID, value.UUID(personID("alice"))).Validate(w2.Schema())
	require.NoError(t, err)

	pre, err := w2.Search(ctx, vf)
	require.NoError(t, err)
	require.Len(t, pre, 1)
	require.False(t, pre[0].IsLive())

	ml := entry.NewModifyList(entry.Removed(entry.AttrClass, entry.ClassRecycled))
	post := []*entry.Entry{pre[0].ToRevived()}

	err = AttrUnique{}.PreModify(ctx, w2, pre, post, ml)
	require.ErrorIs(t, err, ErrViolation)
	assert.ErrorContains(t, err, `name "alice" is already held by`)
}

func TestRefIntCreate(t *testing.T) {
	ctx := context.Background()
	b := testBackend(t)
	stored := seed(t, b, person(t, "alice"), person(t, "bob"))

	// Recycle bob so references to him are no longer valid.
	w, err := b.Write(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Update(ctx, []*entry.Entry{stored[1].ToRecycled()}))
	require.NoError(t, w.Commit(ctx))

	malformed := entry.New(
		entry.A(entry.AttrClass, entry.ClassObject, entry.ClassGroup),
		entry.A(entry.AttrName, "gm"),
		entry.A(entry.AttrUUID, groupID("gm")),
		entry.A(entry.AttrMember, "not-a-reference"),
	)

	tests := []struct {
		name    string
		cands   []*entry.Entry
		wantMsg string
	}{
		{
			name:  "reference to stored live entry",
			cands: []*entry.Entry{group(t, "g1", personID("alice"))},
		},
		{
			name: "reference within the batch",
			cands: []*entry.Entry{
				person(t, "carol"),
				group(t, "g2", personID("carol")),
			},
		},
		{
			name:    "reference to nothing",
			cands:   []*entry.Entry{group(t, "g3", personID("ghost"))},
			wantMsg: "does not name a live entry",
		},
		{
			name:    "reference to recycled entry",
			cands:   []*entry.Entry{group(t, "g4", personID("bob"))},
			wantMsg: "does not name a live entry",
		},
		{
			name:    "malformed reference",
			cands:   []*entry.Entry{malformed},
			wantMsg: "malformed reference",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := writeTx(t, b)

			err := ReferentialIntegrity{}.PreCreate(ctx, w, tt.cands)
			if tt.wantMsg == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrViolation)
			assert.ErrorContains(t, err, tt.wantMsg)
		})
	}
}

func TestRefIntPostDeleteStripsReferences(t *testing.T) {
	ctx := context.Background()
	b := testBackend(t)
	seed(t, b,
		person(t, "alice"),
		person(t, "bob"),
		group(t, "eng", personID("alice"), personID("bob")),
	)

	w, err := b.Write(ctx)
	require.NoError(t, err)

	vf, err := filter.Eq(entry.AttrUUID, value.UUID(personID("alice"))).Validate(w.Schema())
	require.NoError(t, err)

	es, err := w.Search(ctx, vf)
	require.NoError(t, err)
	require.Len(t, es, 1)

	rec := es[0].ToRecycled()
	require.NoError(t, w.Update(ctx, []*entry.Entry{rec}))
	require.NoError(t, ReferentialIntegrity{}.PostDelete(ctx, w, []*entry.Entry{rec}))
	require.NoError(t, w.Commit(ctx))

	eng := byUUID(t, b, groupID("eng"))
	assert.ElementsMatch(t, []uuid.UUID{personID("bob")}, refs(t, eng, entry.AttrMember))

	// The recycled entry itself keeps its attributes.
	gone := byUUID(t, b, personID("alice"))
	assert.True(t, gone.IsRecycled())
	assert.True(t, gone.Has(entry.AttrName))
}

func TestMemberOfDerivesMembership(t *testing.T) {
	b := testBackend(t)
	p := Default()

	pipelineCreate(t, b, p,
		person(t, "alice"),
		person(t, "bob"),
		group(t, "eng", personID("alice"), personID("bob")),
		group(t, "staff", groupID("eng")),
	)

	alice := byUUID(t, b, personID("alice"))
	assert.ElementsMatch(t, []uuid.UUID{groupID("eng")}, refs(t, alice, entry.AttrDirectMemberOf))
	assert.ElementsMatch(t, []uuid.UUID{groupID("eng"), groupID("staff")}, refs(t, alice, entry.AttrMemberOf))

	bob := byUUID(t, b, personID("bob"))
	assert.ElementsMatch(t, []uuid.UUID{groupID("eng")}, refs(t, bob, entry.AttrDirectMemberOf))
	assert.ElementsMatch(t, []uuid.UUID{groupID("eng"), groupID("staff")}, refs(t, bob, entry.AttrMemberOf))

	eng := byUUID(t, b, groupID("eng"))
	assert.ElementsMatch(t, []uuid.UUID{groupID("staff")}, refs(t, eng, entry.AttrDirectMemberOf))
	assert.ElementsMatch(t, []uuid.UUID{groupID("staff")}, refs(t, eng, entry.AttrMemberOf))

	staff := byUUID(t, b, groupID("staff"))
	assert.False(t, staff.Has(entry.AttrDirectMemberOf))
	assert.False(t, staff.Has(entry.AttrMemberOf))
}

func TestMemberOfTracksModify(t *testing.T) {
	b := testBackend(t)
	p := Default()

	pipelineCreate(t, b, p,
		person(t, "alice"),
		person(t, "bob"),
		group(t, "eng", personID("alice"), personID("bob")),
		group(t, "staff", groupID("eng")),
	)

	// Dropping bob from eng clears his derived membership.
	pipelineModify(t, b, p,
		filter.Eq(entry.AttrUUID, value.UUID(groupID("eng"))),
		entry.NewModifyList(entry.Removed(entry.AttrMember, value.Reference(personID("bob")))),
	)

	bob := byUUID(t, b, personID("bob"))
	assert.False(t, bob.Has(entry.AttrDirectMemberOf))
	assert.False(t, bob.Has(entry.AttrMemberOf))

	alice := byUUID(t, b, personID("alice"))
	assert.ElementsMatch(t, []uuid.UUID{groupID("eng"), groupID("staff")}, refs(t, alice, entry.AttrMemberOf))

	// Adding bob straight to staff grants only that group.
	pipelineModify(t, b, p,
		filter.Eq(entry.AttrUUID, value.UUID(groupID("staff"))),
		entry.NewModifyList(entry.Present(entry.AttrMember, value.Reference(personID("bob")))),
	)

	bob = byUUID(t, b, personID("bob"))
	assert.ElementsMatch(t, []uuid.UUID{groupID("staff")}, refs(t, bob, entry.AttrDirectMemberOf))
	assert.ElementsMatch(t, []uuid.UUID{groupID("staff")}, refs(t, bob, entry.AttrMemberOf))
}

func TestMemberOfCycleConverges(t *testing.T) {
	b := testBackend(t)
	p := Default()

	// Mutually nested groups are legal; each ends up a transitive member
	// of the other and of itself.
	pipelineCreate(t, b, p,
		group(t, "ga", groupID("gb")),
		group(t, "gb", groupID("ga")),
	)

	ga := byUUID(t, b, groupID("ga"))
	assert.ElementsMatch(t, []uuid.UUID{groupID("gb")}, refs(t, ga, entry.AttrDirectMemberOf))
	assert.ElementsMatch(t, []uuid.UUID{groupID("ga"), groupID("gb")}, refs(t, ga, entry.AttrMemberOf))

	gb := byUUID(t, b, groupID("gb"))
	assert.ElementsMatch(t, []uuid.UUID{groupID("ga")}, refs(t, gb, entry.AttrDirectMemberOf))
	assert.ElementsMatch(t, []uuid.UUID{groupID("ga"), groupID("gb")}, refs(t, gb, entry.AttrMemberOf))
}

func TestMemberOfAfterGroupDelete(t *testing.T) {
	b := testBackend(t)
	p := Default()

	pipelineCreate(t, b, p,
		person(t, "alice"),
		group(t, "eng", personID("alice")),
		group(t, "staff", groupID("eng")),
	)

	pipelineDelete(t, b, p, filter.Eq(entry.AttrUUID, value.UUID(groupID("eng"))))

	// Alice loses both the direct and the transitive membership.
	alice := byUUID(t, b, personID("alice"))
	assert.False(t, alice.Has(entry.AttrDirectMemberOf))
	assert.False(t, alice.Has(entry.AttrMemberOf))

	// Staff no longer names the recycled group.
	staff := byUUID(t, b, groupID("staff"))
	assert.False(t, staff.Has(entry.AttrMember))

	// The recycled group keeps its own state frozen for a later revive.
	eng := byUUID(t, b, groupID("eng"))
	require.True(t, eng.IsRecycled())
	assert.ElementsMatch(t, []uuid.UUID{personID("alice")}, refs(t, eng, entry.AttrMember))
	assert.ElementsMatch(t, []uuid.UUID{groupID("staff")}, refs(t, eng, entry.AttrDirectMemberOf))
}

func TestTouchesMembership(t *testing.T) {
	plain := entry.New(
		entry.A(entry.AttrClass, entry.ClassObject, "person"),
		entry.A(entry.AttrName, "p"),
	)
	grp := entry.New(
		entry.A(entry.AttrClass, entry.ClassObject, entry.ClassGroup),
		entry.A(entry.AttrName, "g"),
	)
	holder := entry.New(
		entry.A(entry.AttrClass, entry.ClassObject, "person"),
		entry.A(entry.AttrName, "h"),
		entry.A(entry.AttrMemberOf, value.Reference(groupID("g"))),
	)

	assert.False(t, touchesMembership(nil, nil))
	assert.False(t, touchesMembership([]*entry.Entry{plain}, nil))
	assert.True(t, touchesMembership([]*entry.Entry{grp}, nil))
	assert.True(t, touchesMembership(nil, []*entry.Entry{holder}))
	assert.True(t, touchesMembership([]*entry.Entry{plain}, []*entry.Entry{grp}))
}

type failPlugin struct {
	Nop
}

func (failPlugin) Name() string { return "boom" }

func (failPlugin) PreCreate(context.Context, Tx, []*entry.Entry) error {
	return errors.New("kaput")
}

func TestPipelineOrderAndErrors(t *testing.T) {
	ctx := context.Background()
	b := testBackend(t)

	t.Run("default order", func(t *testing.T) {
		var names []string
		for _, pl := range Default().plugins {
			names = append(names, pl.Name())
		}
		assert.Equal(t, []string{"base", "attrunique", "refint", "memberof"}, names)
	})

	t.Run("errors name plugin and phase", func(t *testing.T) {
		w := writeTx(t, b)

		err := NewPipeline(failPlugin{}, Base{}).PreCreate(ctx, w, nil)
		assert.EqualError(t, err, "boom pre create: kaput")
	})

	t.Run("earlier plugin stops the run", func(t *testing.T) {
		w := writeTx(t, b)

		bad := entry.New(
			entry.A(entry.AttrClass, entry.ClassObject, entry.ClassTombstone),
			entry.A(entry.AttrUUID, personID("x")),
		)
		err := NewPipeline(Base{}, failPlugin{}).PreCreate(ctx, w, []*entry.Entry{bad})
		require.ErrorIs(t, err, ErrViolation)
		assert.ErrorContains(t, err, "base pre create:")
	})
}

func TestPipelineVerify(t *testing.T) {
	ctx := context.Background()
	b := testBackend(t)
	p := Default()

	pipelineCreate(t, b,
		p,
		person(t, "alice"),
		group(t, "eng", personID("alice")),
	)
	require.Empty(t, p.Verify(ctx, b.Read()))

	// Slip corruption past the pipeline with raw writes: a second holder
	// of a unique name, a dangling member reference, and stale derived
	// membership.
	w := writeTx(t, b)
	_, err := w.Create(ctx, []*entry.Entry{entry.New(
		entry.A(entry.AttrClass, entry.ClassObject, "person"),
		entry.A(entry.AttrName, "alice"),
		entry.A(entry.AttrUUID, personID("impostor")),
	)})
	require.NoError(t, err)

	eng := byUUID(t, b, groupID("eng")).Clone()
	eng.Add(entry.AttrMember, value.Reference(personID("ghost")))
	alice := byUUID(t, b, personID("alice")).Clone()
	alice.Purge(entry.AttrMemberOf)
	require.NoError(t, w.Update(ctx, []*entry.Entry{eng, alice}))
	require.NoError(t, w.Commit(ctx))

	errs := p.Verify(ctx, b.Read())
	require.Len(t, errs, 3)
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrViolation)
	}
	assert.Contains(t, errs[0].Error(), `attrunique: constraint violated: name "alice" is held by both`)
	assert.Contains(t, errs[1].Error(), "refint: constraint violated: member of "+groupID("eng").String())
	assert.Contains(t, errs[2].Error(), "memberof: constraint violated: "+personID("alice").String()+" holds stale memberof")
}
