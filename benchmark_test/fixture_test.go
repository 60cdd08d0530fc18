package benchmark_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/hupe1980/dirgo"
	"github.com/hupe1980/dirgo/backend/kvstore"
	"github.com/hupe1980/dirgo/entry"
	"github.com/hupe1980/dirgo/testutil"
)

// fixtureSizes are the directory sizes the read benchmarks run against.
var fixtureSizes = []int{1_000, 10_000}

const (
	fixtureSeed      = 42
	fixtureGroupSize = 25
)

// newSeededServer returns an in-memory server loaded with n generated
// people and n/50 groups of fixtureGroupSize members.
func newSeededServer(b *testing.B, n int) *dirgo.Server {
	b.Helper()

	s, err := dirgo.New(kvstore.NewMemory())
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = s.Close() })

	rng := testutil.NewRNG(fixtureSeed)
	people := rng.People(n)
	groups := rng.Groups("team", n/50, fixtureGroupSize, people)

	if err := testutil.Seed(context.Background(), s, people, groups); err != nil {
		b.Fatal(err)
	}
	return s
}

// newInitializedSeededServer additionally installs the baseline so that
// identity-scoped benchmarks have profiles to evaluate.
func newInitializedSeededServer(b *testing.B, n int) *dirgo.Server {
	b.Helper()

	s := newSeededServer(b, n)
	if err := s.Initialize(context.Background()); err != nil {
		b.Fatal(err)
	}
	return s
}

// personName returns the name of the generated person with the given
// index, mirroring testutil's naming.
func personName(i int) string {
	return fmt.Sprintf("person-%05d", i)
}

// sink defeats dead code elimination in benchmark loops.
var sink int

func countEntries(b *testing.B, es []*entry.Entry, err error) {
	b.Helper()

	if err != nil {
		b.Fatal(err)
	}
	sink += len(es)
}
