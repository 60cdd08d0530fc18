package access

import (
	"fmt"

	"github.com/hupe1980/dirgo/entry"
	"github.com/hupe1980/dirgo/filter"
	"github.com/hupe1980/dirgo/schema"
)

// Policy is the compiled set of enabled access control profiles of one
// snapshot. A Policy is immutable; commits that touch profile entries
// compile a fresh one.
type Policy struct {
	profiles []*Profile
}

// Empty returns a policy with no profiles. Under an empty policy every
// non-internal operation is denied.
func Empty() *Policy {
	return &Policy{}
}

// FromEntries compiles a policy from stored profile entries. Entries that
// are not live, not profiles, or disabled are skipped; a malformed profile
// entry fails the compile, and with it the commit that produced it.
func FromEntries(entries []*entry.Entry, s *schema.Schema) (*Policy, error) {
	p := &Policy{}
	for _, e := range entries {
		if !e.IsLive() || !e.HasClass(ClassProfile) || !Enabled(e) {
			continue
		}
		prof, err := profileFromEntry(e, s)
		if err != nil {
			return nil, err
		}
		p.profiles = append(p.profiles, prof)
	}
	return p, nil
}

// Profiles returns the compiled profiles.
func (p *Policy) Profiles() []*Profile {
	out := make([]*Profile, len(p.profiles))
	copy(out, p.profiles)
	return out
}

// scoped is a profile whose receiver matched the acting identity, with
// its scope filter's self terms resolved for that identity.
type scoped struct {
	profile *Profile
	scope   *filter.Filter
}

// applicable returns the profiles granting the given capability to the
// identity. Receiver filters are matched against the identity's entry.
func (p *Policy) applicable(ident Identity, capability func(*Profile) bool) []scoped {
	e := ident.Entry()
	if e == nil {
		return nil
	}

	var out []scoped
	for _, prof := range p.profiles {
		if !capability(prof) {
			continue
		}
		if !prof.Receiver.ResolveSelf(ident.UUID()).Matches(e) {
			continue
		}
		out = append(out, scoped{profile: prof, scope: prof.Scope.ResolveSelf(ident.UUID())})
	}
	return out
}

// FilterSearch returns the subset of entries visible to the identity:
// those matched by at least one applicable search profile's scope. No
// attribute reduction happens here; write paths use this stage to select
// modification targets that still need their full attribute set.
//
// The internal identity sees everything.
func (p *Policy) FilterSearch(ident Identity, entries []*entry.Entry) []*entry.Entry {
	if ident.IsInternal() {
		return entries
	}

	scopes := p.applicable(ident, func(prof *Profile) bool { return prof.Search })
	out := make([]*entry.Entry, 0, len(entries))
	for _, e := range entries {
		for _, sc := range scopes {
			if sc.scope.Matches(e) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// ReduceSearch filters and reduces a raw result set for the identity.
// An entry is visible when at least one applicable search profile's scope
// matches it; visible entries are reduced to the union of the matching
// profiles' allowed attributes. The input entries are not modified.
//
// The internal identity sees everything unreduced.
func (p *Policy) ReduceSearch(ident Identity, entries []*entry.Entry) []*entry.Entry {
	if ident.IsInternal() {
		return entries
	}

	scopes := p.applicable(ident, func(prof *Profile) bool { return prof.Search })
	out := make([]*entry.Entry, 0, len(entries))
	for _, e := range entries {
		var allowed map[string]struct{}
		for _, sc := range scopes {
			if !sc.scope.Matches(e) {
				continue
			}
			if allowed == nil {
				allowed = make(map[string]struct{}, len(sc.profile.SearchAttrs))
			}
			for attr := range sc.profile.SearchAttrs {
				allowed[attr] = struct{}{}
			}
		}
		if allowed == nil {
			continue
		}
		out = append(out, e.Reduce(allowed))
	}
	return out
}

// CheckCreate authorizes the creation of the candidate entries. Each
// candidate must be fully covered by a single create profile: scope match,
// all classes granted, all attributes granted.
func (p *Policy) CheckCreate(ident Identity, candidates []*entry.Entry) error {
	if ident.IsInternal() {
		return nil
	}

	scopes := p.applicable(ident, func(prof *Profile) bool { return prof.Create })

next:
	for _, cand := range candidates {
		for _, sc := range scopes {
			if sc.scope.Matches(cand) && createCovers(sc.profile, cand) {
				continue next
			}
		}
		return fmt.Errorf("%w: create of entry %s not granted", ErrDenied, entryRef(cand))
	}
	return nil
}

// entryRef names an entry in denial messages without echoing its content.
func entryRef(e *entry.Entry) string {
	if u, ok := e.UUID(); ok {
		return u.String()
	}
	if name, ok := e.OneText(entry.AttrName); ok {
		return name
	}
	return "(unidentified)"
}

func createCovers(prof *Profile, cand *entry.Entry) bool {
	for _, class := range cand.Classes() {
		if _, ok := prof.CreateClasses[class]; !ok {
			return false
		}
	}
	for _, attr := range cand.AttrNames() {
		if _, ok := prof.CreateAttrs[attr]; !ok {
			return false
		}
	}
	return true
}

// CheckModify authorizes applying the modification list to each target.
// Grants from every profile whose scope matches a target are combined:
// adding values needs the attribute in the present grants, removing or
// purging needs it in the removed grants, and any class value added or
// removed must additionally be a granted class.
func (p *Policy) CheckModify(ident Identity, targets []*entry.Entry, ml *entry.ModifyList) error {
	if ident.IsInternal() {
		return nil
	}

	scopes := p.applicable(ident, func(prof *Profile) bool { return prof.Modify })

	for _, target := range targets {
		present := make(map[string]struct{})
		removed := make(map[string]struct{})
		classes := make(map[string]struct{})
		granted := false
		for _, sc := range scopes {
			if !sc.scope.Matches(target) {
				continue
			}
			granted = true
			for a := range sc.profile.ModifyPresent {
				present[a] = struct{}{}
			}
			for a := range sc.profile.ModifyRemoved {
				removed[a] = struct{}{}
			}
			for c := range sc.profile.ModifyClasses {
				classes[c] = struct{}{}
			}
		}
		if !granted {
			return fmt.Errorf("%w: modify of entry %s not granted", ErrDenied, entryRef(target))
		}

		for _, m := range ml.Mods() {
			switch m.Op {
			case entry.ModPresent:
				if _, ok := present[m.Attr]; !ok {
					return fmt.Errorf("%w: adding values to %q not granted", ErrDenied, m.Attr)
				}
			case entry.ModRemoved, entry.ModPurged:
				if _, ok := removed[m.Attr]; !ok {
					return fmt.Errorf("%w: removing values from %q not granted", ErrDenied, m.Attr)
				}
			}
			if m.Attr == entry.AttrClass {
				if m.Op == entry.ModPurged {
					return fmt.Errorf("%w: purging %q not granted", ErrDenied, entry.AttrClass)
				}
				if _, ok := classes[m.Value.Text()]; !ok {
					return fmt.Errorf("%w: changing class %q not granted", ErrDenied, m.Value.Text())
				}
			}
		}
	}
	return nil
}

// CheckDelete authorizes deleting each target entry.
func (p *Policy) CheckDelete(ident Identity, targets []*entry.Entry) error {
	if ident.IsInternal() {
		return nil
	}

	scopes := p.applicable(ident, func(prof *Profile) bool { return prof.Delete })

next:
	for _, target := range targets {
		for _, sc := range scopes {
			if sc.scope.Matches(target) {
				continue next
			}
		}
		return fmt.Errorf("%w: delete of entry %s not granted", ErrDenied, entryRef(target))
	}
	return nil
}
