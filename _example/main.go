package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hupe1980/dirgo"
	"github.com/hupe1980/dirgo/backend/kvstore"
	"github.com/hupe1980/dirgo/entry"
	"github.com/hupe1980/dirgo/filter"
	"github.com/hupe1980/dirgo/testutil"
)

func main() {
	seed := int64(4711)
	size := 50000
	groups := size / 50

	ctx := context.Background()

	s, err := dirgo.New(kvstore.NewMemory())
	if err != nil {
		log.Fatal(err)
	}
	defer s.Close()

	rng := testutil.NewRNG(seed)
	people := rng.People(size)
	teams := rng.Groups("team", groups, 25, people)

	fmt.Println("--- Load ---")
	fmt.Println("People:", size)
	fmt.Println("Groups:", groups)

	start := time.Now()

	if err := testutil.Seed(ctx, s, people, teams); err != nil {
		log.Fatal(err)
	}

	end := time.Since(start)

	fmt.Printf("Seconds: %.2f\n", end.Seconds())
	fmt.Printf("Entries/sec: %.0f\n\n", float64(size+groups)/end.Seconds())

	fmt.Println("--- Point lookup ---")

	start = time.Now()

	result, err := s.InternalSearch(ctx, filter.Eq(entry.AttrName, "person-00042"))
	if err != nil {
		log.Fatal(err)
	}

	end = time.Since(start)

	printResult(result)
	fmt.Printf("Seconds: %.8f\n\n", end.Seconds())

	fmt.Println("--- Membership scan ---")

	start = time.Now()

	result, err = s.InternalSearch(ctx, filter.Eq(entry.AttrMemberOf, testutil.FixtureUUID("team-0000")))
	if err != nil {
		log.Fatal(err)
	}

	end = time.Since(start)

	fmt.Printf("Members: %d\n", len(result))
	fmt.Printf("Seconds: %.8f\n\n", end.Seconds())

	fmt.Println("--- Substring scan ---")

	start = time.Now()

	result, err = s.InternalSearch(ctx, filter.Sub("mail", "person-0004"))
	if err != nil {
		log.Fatal(err)
	}

	end = time.Since(start)

	fmt.Printf("Matches: %d\n", len(result))
	fmt.Printf("Seconds: %.8f\n", end.Seconds())
}

func printResult(result []*entry.Entry) {
	for _, e := range result {
		name, _ := e.OneText(entry.AttrName)
		display, _ := e.OneText("displayname")
		u, _ := e.UUID()
		fmt.Printf("Name: %s, Display: %s, UUID: %s\n", name, display, u)
	}
}
