package testutil

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"github.com/hupe1980/dirgo"
	"github.com/hupe1980/dirgo/entry"
	"github.com/hupe1980/dirgo/value"
)

// namespaceFixture anchors the uuid derivation of generated entries.
var namespaceFixture = uuid.MustParse("3f2c7f5a-9d11-4b83-9c3e-70d1f3a0b2c4")

// FixtureUUID returns the stable uuid a generated entry of the given name
// carries, for use in assertions and reference fixtures.
func FixtureUUID(name string) uuid.UUID {
	return uuid.NewSHA1(namespaceFixture, []byte("fixture/"+name))
}

// RNG is a seeded random source safe for concurrent use. The same seed
// reproduces the same sequence.
type RNG struct {
	mu   sync.Mutex
	rand *rand.Rand
	seed int64
}

// NewRNG creates a generator with the given seed.
func NewRNG(seed int64) *RNG {
	return &RNG{rand: rand.New(rand.NewSource(seed)), seed: seed}
}

// Reset rewinds the generator to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Pick returns a pseudo-randomly chosen element of ss.
func (r *RNG) Pick(ss []string) string {
	return ss[r.Intn(len(ss))]
}

var (
	givenNames = []string{
		"alex", "bela", "carmen", "dilan", "edna", "farid", "greta", "hugo",
		"ines", "jonas", "kira", "lars", "mira", "noor", "otto", "paula",
	}
	surnames = []string{
		"adler", "berg", "cruz", "dietrich", "eriksen", "fuchs", "grau",
		"hart", "iversen", "jung", "kline", "lorenz", "meier", "novak",
		"olsen", "pabst",
	}
)

// Person returns the deterministic person entry of the given index:
// name "person-<index>", a display name drawn from the generator, a mail
// address and a stable uuid.
func (r *RNG) Person(i int) *entry.Entry {
	name := fmt.Sprintf("person-%05d", i)
	given := r.Pick(givenNames)
	sur := r.Pick(surnames)

	return entry.New(
		entry.A(entry.AttrClass, entry.ClassObject, "person"),
		entry.A(entry.AttrUUID, FixtureUUID(name)),
		entry.A(entry.AttrName, name),
		entry.A("displayname", given+" "+sur),
		entry.A("mail", name+"@example.com"),
	)
}

// People returns n deterministic person entries.
func (r *RNG) People(n int) []*entry.Entry {
	out := make([]*entry.Entry, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.Person(i))
	}
	return out
}

// Groups returns count group entries named "<prefix>-<index>", each
// holding up to size member references drawn from the given people.
// Duplicate draws collapse in the member value set, so small pools can
// yield smaller groups.
func (r *RNG) Groups(prefix string, count, size int, people []*entry.Entry) []*entry.Entry {
	out := make([]*entry.Entry, 0, count)
	for i := 0; i < count; i++ {
		name := fmt.Sprintf("%s-%04d", prefix, i)
		attrs := []entry.Attr{
			entry.A(entry.AttrClass, entry.ClassObject, entry.ClassGroup),
			entry.A(entry.AttrUUID, FixtureUUID(name)),
			entry.A(entry.AttrName, name),
		}
		for j := 0; j < size && len(people) > 0; j++ {
			p := people[r.Intn(len(people))]
			if u, ok := p.UUID(); ok {
				attrs = append(attrs, entry.A(entry.AttrMember, value.Reference(u)))
			}
		}
		out = append(out, entry.New(attrs...))
	}
	return out
}

// seedBatch is the number of entries loaded per write transaction.
const seedBatch = 200

// Seed loads the generated entries into the server in batches, earlier
// slices first. Pass people before the groups referencing them.
func Seed(ctx context.Context, s *dirgo.Server, batches ...[]*entry.Entry) error {
	for _, es := range batches {
		for len(es) > 0 {
			n := min(len(es), seedBatch)
			if err := s.InternalCreate(ctx, es[:n]...); err != nil {
				return err
			}
			es = es[n:]
		}
	}
	return nil
}
