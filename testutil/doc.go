// Package testutil provides deterministic data generation for dirgo's
// tests and benchmarks.
//
// This package is intended for use in tests and benchmarks only. Entry
// names and uuids are derived from the generator seed and the entry
// index, so the same seed always produces the same directory.
//
// # Generating a directory
//
//	rng := testutil.NewRNG(42)
//	people := rng.People(10_000)
//	groups := rng.Groups("team", 100, 25, people)
//
// # Loading it into a server
//
//	err := testutil.Seed(ctx, s, people, groups)
package testutil
