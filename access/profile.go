package access

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hupe1980/dirgo/entry"
	"github.com/hupe1980/dirgo/filter"
	"github.com/hupe1980/dirgo/schema"
	"github.com/hupe1980/dirgo/value"
)

// Classes marking access control profile entries.
const (
	ClassProfile = "access_control_profile"
	ClassSearch  = "access_control_search"
	ClassCreate  = "access_control_create"
	ClassModify  = "access_control_modify"
	ClassDelete  = "access_control_delete"
)

// Attributes of access control profile entries.
const (
	AttrEnable        = "acp_enable"
	AttrReceiver      = "acp_receiver"
	AttrTargetScope   = "acp_targetscope"
	AttrSearchAttr    = "acp_search_attr"
	AttrCreateClass   = "acp_create_class"
	AttrCreateAttr    = "acp_create_attr"
	AttrModifyRemoved = "acp_modify_removedattr"
	AttrModifyPresent = "acp_modify_presentattr"
	AttrModifyClass   = "acp_modify_class"
)

// Profile is one compiled access control profile.
//
// The receiver filter selects the identities the profile applies to and is
// matched against the acting identity's entry. The scope filter selects
// the entries the profile covers. Both may contain self terms, resolved
// against the acting identity at evaluation time.
type Profile struct {
	Name     string
	UUID     uuid.UUID
	Receiver *filter.Filter
	Scope    *filter.Filter

	Search bool
	Create bool
	Modify bool
	Delete bool

	SearchAttrs map[string]struct{}

	CreateClasses map[string]struct{}
	CreateAttrs   map[string]struct{}

	ModifyPresent map[string]struct{}
	ModifyRemoved map[string]struct{}
	ModifyClasses map[string]struct{}
}

// Enabled reports whether a stored profile entry is in force. A profile is
// enabled unless it explicitly carries acp_enable false.
func Enabled(e *entry.Entry) bool {
	return !e.HasValue(AttrEnable, value.Bool(false))
}

func profileFromEntry(e *entry.Entry, s *schema.Schema) (*Profile, error) {
	name, ok := e.OneText(entry.AttrName)
	if !ok {
		return nil, fmt.Errorf("access control profile is missing its name")
	}
	u, ok := e.UUID()
	if !ok {
		return nil, fmt.Errorf("access control profile %q is missing its uuid", name)
	}

	receiver, err := parseFilterAttr(e, AttrReceiver, s)
	if err != nil {
		return nil, fmt.Errorf("access control profile %q: %w", name, err)
	}
	scope, err := parseFilterAttr(e, AttrTargetScope, s)
	if err != nil {
		return nil, fmt.Errorf("access control profile %q: %w", name, err)
	}

	p := &Profile{
		Name:          name,
		UUID:          u,
		Receiver:      receiver,
		Scope:         scope,
		Search:        e.HasClass(ClassSearch),
		Create:        e.HasClass(ClassCreate),
		Modify:        e.HasClass(ClassModify),
		Delete:        e.HasClass(ClassDelete),
		SearchAttrs:   attrSet(e, AttrSearchAttr),
		CreateClasses: attrSet(e, AttrCreateClass),
		CreateAttrs:   attrSet(e, AttrCreateAttr),
		ModifyPresent: attrSet(e, AttrModifyPresent),
		ModifyRemoved: attrSet(e, AttrModifyRemoved),
		ModifyClasses: attrSet(e, AttrModifyClass),
	}
	return p, nil
}

func parseFilterAttr(e *entry.Entry, attr string, s *schema.Schema) (*filter.Filter, error) {
	raw, ok := e.OneText(attr)
	if !ok {
		return nil, fmt.Errorf("missing %s", attr)
	}
	f, err := filter.Parse([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", attr, err)
	}
	vf, err := f.Validate(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", attr, err)
	}
	return vf, nil
}

func attrSet(e *entry.Entry, attr string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, v := range e.Values(attr) {
		out[strings.ToLower(v.Text())] = struct{}{}
	}
	return out
}
