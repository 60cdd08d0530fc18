package idl

// Match classifies how precisely a candidate set bounds a filter's result.
type Match uint8

const (
	// MatchIndexed means the set is exactly the matching entries.
	MatchIndexed Match = iota + 1
	// MatchPartial means the set is a superset of the matching entries and
	// every candidate must be re-checked against the filter.
	MatchPartial
	// MatchAll means no index could bound the result; every entry is a
	// candidate and must be re-checked.
	MatchAll
)

// String implements fmt.Stringer.
func (m Match) String() string {
	switch m {
	case MatchIndexed:
		return "indexed"
	case MatchPartial:
		return "partial"
	case MatchAll:
		return "all"
	default:
		return "invalid"
	}
}

// Candidate is the outcome of resolving a filter against the indexes: a
// candidate ID set plus the guarantee the resolver could give for it.
type Candidate struct {
	match Match
	set   *Set
}

// Indexed returns a candidate holding exactly the matching entries.
func Indexed(s *Set) Candidate {
	return Candidate{match: MatchIndexed, set: s}
}

// Partial returns a candidate holding a superset of the matching entries.
func Partial(s *Set) Candidate {
	return Candidate{match: MatchPartial, set: s}
}

// All returns the unbounded candidate.
func All() Candidate {
	return Candidate{match: MatchAll}
}

// Match returns the resolution guarantee.
func (c Candidate) Match() Match { return c.match }

// Set returns the candidate ID set. It is nil when Match is MatchAll.
func (c Candidate) Set() *Set { return c.set }

// IsAll reports whether the candidate is unbounded.
func (c Candidate) IsAll() bool { return c.match == MatchAll }

// NeedsCheck reports whether candidates must be re-verified against the
// filter before being returned.
func (c Candidate) NeedsCheck() bool { return c.match != MatchIndexed }
