package backend

import (
	"context"
	"fmt"
	"math/rand"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/dirgo/entry"
	"github.com/hupe1980/dirgo/filter"
	"github.com/hupe1980/dirgo/idl"
	"github.com/hupe1980/dirgo/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveKinds(t *testing.T) {
	b := openTestBackend(t)
	mustCreate(t, b,
		person(t, "alice", entry.A("displayname", "Alice")),
		person(t, "bob"),
	)
	r := b.Read()

	tests := []struct {
		name string
		f    *filter.Filter
		want idl.Match
	}{
		{"indexed equality", filter.Eq(entry.AttrName, "alice"), idl.MatchIndexed},
		{"indexed equality miss", filter.Eq(entry.AttrName, "zzz"), idl.MatchIndexed},
		{"unindexed equality", filter.Eq("displayname", "Alice"), idl.MatchAll},
		{"indexed presence", filter.Pres(entry.AttrUUID), idl.MatchIndexed},
		{"unindexed presence", filter.Pres("displayname"), idl.MatchAll},
		{"substring", filter.Sub(entry.AttrName, "li"), idl.MatchAll},
		{"negation", filter.AndNot(filter.Eq(entry.AttrName, "alice")), idl.MatchAll},
		{
			"fully indexed conjunction",
			filter.And(filter.Eq(entry.AttrClass, "person"), filter.Eq(entry.AttrName, "alice")),
			idl.MatchIndexed,
		},
		{
			"partially indexed conjunction",
			filter.And(filter.Eq(entry.AttrClass, "person"), filter.Sub(entry.AttrName, "li")),
			idl.MatchPartial,
		},
		{
			"unindexed conjunction",
			filter.And(filter.Sub(entry.AttrName, "li"), filter.Sub(entry.AttrDescription, "x")),
			idl.MatchAll,
		},
		{
			"conjunction with negation",
			filter.And(filter.Eq(entry.AttrClass, "person"), filter.AndNot(filter.Eq(entry.AttrName, "alice"))),
			idl.MatchPartial,
		},
		{
			"fully indexed disjunction",
			filter.Or(filter.Eq(entry.AttrName, "alice"), filter.Eq(entry.AttrName, "bob")),
			idl.MatchIndexed,
		},
		{
			"disjunction with scan branch",
			filter.Or(filter.Eq(entry.AttrName, "alice"), filter.Sub(entry.AttrName, "ob")),
			idl.MatchAll,
		},
		{
			"disjunction of mixed conjunctions",
			filter.Or(
				filter.Eq(entry.AttrName, "alice"),
				filter.And(filter.Eq(entry.AttrClass, "person"), filter.Sub(entry.AttrName, "ob")),
			),
			idl.MatchPartial,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cand := resolve(r, vf(t, r.Schema(), tt.f))
			assert.Equal(t, tt.want, cand.Match())
		})
	}
}

func TestResolveIntersectionNarrows(t *testing.T) {
	b := openTestBackend(t)
	mustCreate(t, b,
		person(t, "alice", entry.A("mail", "shared@example.com")),
		person(t, "bob", entry.A("mail", "shared@example.com")),
		person(t, "carol"),
	)
	r := b.Read()

	f := vf(t, r.Schema(), filter.And(
		filter.Eq(entry.AttrClass, "person"),
		filter.Eq("mail", "shared@example.com"),
		filter.Eq(entry.AttrName, "bob"),
	))

	cand := resolve(r, f)
	require.Equal(t, idl.MatchIndexed, cand.Match())
	assert.Equal(t, uint64(1), cand.Set().Cardinality())
}

// TestFilterScanEquivalence drives randomized filters through the resolver
// and compares every result against a full scan of the same state. The two
// paths must agree on committed snapshots, inside an open write
// transaction, and again after that transaction commits.
func TestFilterScanEquivalence(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	classPool := [][]any{{"person"}, {"account"}, {"group"}, {"person", "account"}}
	mailPool := []string{"a@example.com", "b@example.com", "c@example.com", "d@example.com"}
	displayPool := []string{"Ada", "Bay", "Cal", "Dot"}
	descPool := []string{"engineering", "operations", "research", "sales"}

	const n = 300
	es := make([]*entry.Entry, 0, n)
	for i := 0; i < n; i++ {
		attrs := []entry.Attr{
			entry.A(entry.AttrClass, append([]any{entry.ClassObject}, classPool[rng.Intn(len(classPool))]...)...),
			entry.A(entry.AttrName, value.IUTF8(fmt.Sprintf("e%04d", i))),
			entry.A(entry.AttrUUID, uuid.New()),
		}
		if rng.Intn(2) == 0 {
			attrs = append(attrs, entry.A("mail", value.IUTF8(mailPool[rng.Intn(len(mailPool))])))
		}
		if rng.Intn(2) == 0 {
			attrs = append(attrs, entry.A("displayname", value.UTF8(displayPool[rng.Intn(len(displayPool))])))
		}
		if rng.Intn(2) == 0 {
			attrs = append(attrs, entry.A(entry.AttrDescription, value.UTF8(descPool[rng.Intn(len(descPool))])))
		}
		es = append(es, entry.New(attrs...))
	}
	stored := mustCreate(t, b, es...)

	leaves := []func() *filter.Filter{
		func() *filter.Filter { return filter.Eq(entry.AttrName, fmt.Sprintf("e%04d", rng.Intn(2*n))) },
		func() *filter.Filter { return filter.Eq("mail", mailPool[rng.Intn(len(mailPool))]) },
		func() *filter.Filter {
			return filter.Eq(entry.AttrClass, []string{"person", "account", "group"}[rng.Intn(3)])
		},
		func() *filter.Filter { return filter.Eq("displayname", displayPool[rng.Intn(len(displayPool))]) },
		func() *filter.Filter {
			return filter.Pres([]string{"mail", "displayname", entry.AttrDescription}[rng.Intn(3)])
		},
		func() *filter.Filter {
			return filter.Sub(entry.AttrDescription, []string{"eng", "era", "sea", "ale", "zzz"}[rng.Intn(5)])
		},
		func() *filter.Filter { return filter.Sub(entry.AttrName, fmt.Sprintf("%02d", rng.Intn(100))) },
	}

	var randFilter func(depth int) *filter.Filter
	randFilter = func(depth int) *filter.Filter {
		if depth <= 0 || rng.Intn(3) == 0 {
			return leaves[rng.Intn(len(leaves))]()
		}
		switch rng.Intn(3) {
		case 0:
			return filter.And(randFilter(depth-1), randFilter(depth-1))
		case 1:
			return filter.Or(randFilter(depth-1), randFilter(depth-1))
		default:
			return filter.And(randFilter(depth-1), filter.AndNot(randFilter(depth-1)))
		}
	}

	check := func(t *testing.T, s snapshot, model map[uint64]*entry.Entry, rounds int) {
		t.Helper()

		ids := make([]uint64, 0, len(model))
		for id := range model {
			ids = append(ids, id)
		}
		slices.Sort(ids)

		for i := 0; i < rounds; i++ {
			f := vf(t, s.Schema(), randFilter(3))

			got, err := searchSnapshot(ctx, s, f)
			require.NoError(t, err)
			gotIDs := make([]uint64, 0, len(got))
			for _, e := range got {
				gotIDs = append(gotIDs, e.ID())
			}

			wantIDs := make([]uint64, 0, len(ids))
			for _, id := range ids {
				if f.Matches(model[id]) {
					wantIDs = append(wantIDs, id)
				}
			}

			require.Equal(t, wantIDs, gotIDs, "filter %s", f)
		}
	}

	model := make(map[uint64]*entry.Entry, len(stored))
	for _, e := range stored {
		model[e.ID()] = e
	}

	t.Run("committed snapshot", func(t *testing.T) {
		check(t, b.Read(), model, 150)
	})

	// Churn part of the data set and check the uncommitted overlay.
	w, err := b.Write(ctx)
	require.NoError(t, err)
	perm := rng.Perm(len(stored))
	for _, i := range perm[:40] {
		id := stored[i].ID()
		require.NoError(t, w.Remove(ctx, id))
		delete(model, id)
	}
	for _, i := range perm[40:80] {
		id := stored[i].ID()
		post := model[id].Clone()
		post.Set("mail", value.IUTF8(mailPool[rng.Intn(len(mailPool))]))
		post.Set("displayname", value.UTF8(displayPool[rng.Intn(len(displayPool))]))
		require.NoError(t, w.Update(ctx, []*entry.Entry{post}))
		model[id] = post
	}

	t.Run("write overlay", func(t *testing.T) {
		check(t, w, model, 100)
	})

	require.NoError(t, w.Commit(ctx))

	t.Run("after commit", func(t *testing.T) {
		check(t, b.Read(), model, 100)
		assert.Empty(t, b.Read().Verify(ctx))
	})
}
