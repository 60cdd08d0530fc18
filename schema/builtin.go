package schema

import (
	"strings"

	"github.com/google/uuid"
	"github.com/hupe1980/dirgo/entry"
	"github.com/hupe1980/dirgo/value"
)

// Attribute names interpreted by the schema subsystem itself.
const (
	AttrAttributeName = "attributename"
	AttrClassName     = "classname"
	AttrMultiValue    = "multivalue"
	AttrUnique        = "unique"
	AttrIndex         = "index"
	AttrSyntax        = "syntax"
	AttrMust          = "must"
	AttrMay           = "may"
	AttrSystemMust    = "systemmust"
	AttrSystemMay     = "systemmay"
)

// Object classes interpreted by the schema subsystem itself.
const (
	ClassAttributeType = "attributetype"
	ClassClassType     = "classtype"
)

// NamespaceSchema is the namespace UUID under which the stable identifiers
// of schema entries are derived. Deriving instead of hardcoding keeps the
// bootstrap idempotent across versions.
var NamespaceSchema = uuid.MustParse("6c2e5438-8e39-4d34-a2db-0f8a4c0c31aa")

// AttributeTypeUUID returns the stable UUID of the schema entry defining the
// named attribute.
func AttributeTypeUUID(name string) uuid.UUID {
	return uuid.NewSHA1(NamespaceSchema, []byte("attributetype/"+strings.ToLower(name)))
}

// ClassTypeUUID returns the stable UUID of the schema entry defining the
// named class.
func ClassTypeUUID(name string) uuid.UUID {
	return uuid.NewSHA1(NamespaceSchema, []byte("classtype/"+strings.ToLower(name)))
}

func coreAttributes() []*AttributeType {
	eq := []IndexType{IndexEquality}
	eqPres := []IndexType{IndexEquality, IndexPresence}

	return []*AttributeType{
		{Name: entry.AttrClass, Description: "The object classes of the entry", MultiValue: true, Index: eq, Syntax: value.KindIUTF8},
		{Name: entry.AttrUUID, Description: "The stable external identifier of the entry", Unique: true, Index: eqPres, Syntax: value.KindUUID},
		{Name: entry.AttrName, Description: "The unique short name of the entry", Unique: true, Index: eqPres, Syntax: value.KindIUTF8},
		{Name: entry.AttrDescription, Description: "A free form description", Syntax: value.KindUTF8},
		{Name: entry.AttrMember, Description: "Forward membership references of a group", MultiValue: true, Index: eq, Syntax: value.KindReference},
		{Name: entry.AttrMemberOf, Description: "Derived transitive reverse membership", MultiValue: true, Index: eq, Syntax: value.KindReference},
		{Name: entry.AttrDirectMemberOf, Description: "Derived direct reverse membership", MultiValue: true, Index: eq, Syntax: value.KindReference},
		{Name: "displayname", Description: "The display name of a person or account", Syntax: value.KindUTF8},
		{Name: "mail", Description: "Email addresses of an account", MultiValue: true, Index: eq, Syntax: value.KindIUTF8},
		{Name: "version", Description: "A monotonic data version marker", Syntax: value.KindUint32},
		{Name: "domain", Description: "The domain this server serves", Syntax: value.KindIUTF8},

		{Name: AttrAttributeName, Description: "The attribute defined by this schema entry", Unique: true, Index: eq, Syntax: value.KindIUTF8},
		{Name: AttrClassName, Description: "The class defined by this schema entry", Unique: true, Index: eq, Syntax: value.KindIUTF8},
		{Name: AttrMultiValue, Description: "Whether the attribute may hold multiple values", Syntax: value.KindBool},
		{Name: AttrUnique, Description: "Whether the attribute's values must be unique across entries", Syntax: value.KindBool},
		{Name: AttrIndex, Description: "The index flavours maintained for the attribute", MultiValue: true, Syntax: value.KindIUTF8},
		{Name: AttrSyntax, Description: "The value syntax of the attribute", Syntax: value.KindIUTF8},
		{Name: AttrMust, Description: "Administratively required attributes of the class", MultiValue: true, Syntax: value.KindIUTF8},
		{Name: AttrMay, Description: "Administratively permitted attributes of the class", MultiValue: true, Syntax: value.KindIUTF8},
		{Name: AttrSystemMust, Description: "System required attributes of the class", MultiValue: true, Syntax: value.KindIUTF8},
		{Name: AttrSystemMay, Description: "System permitted attributes of the class", MultiValue: true, Syntax: value.KindIUTF8},

		{Name: "acp_enable", Description: "Whether the access control profile is in force", Syntax: value.KindBool},
		{Name: "acp_receiver", Description: "Filter selecting the identities the profile applies to", Syntax: value.KindUTF8},
		{Name: "acp_targetscope", Description: "Filter selecting the entries the profile covers", Syntax: value.KindUTF8},
		{Name: "acp_search_attr", Description: "Attributes the profile allows to be read", MultiValue: true, Syntax: value.KindIUTF8},
		{Name: "acp_create_class", Description: "Classes the profile allows to be created", MultiValue: true, Syntax: value.KindIUTF8},
		{Name: "acp_create_attr", Description: "Attributes the profile allows on created entries", MultiValue: true, Syntax: value.KindIUTF8},
		{Name: "acp_modify_removedattr", Description: "Attributes the profile allows values to be removed from", MultiValue: true, Syntax: value.KindIUTF8},
		{Name: "acp_modify_presentattr", Description: "Attributes the profile allows values to be added to", MultiValue: true, Syntax: value.KindIUTF8},
		{Name: "acp_modify_class", Description: "Classes the profile allows to be set during modify", MultiValue: true, Syntax: value.KindIUTF8},
	}
}

func coreClasses() []*ClassType {
	return []*ClassType{
		{
			Name:        entry.ClassObject,
			Description: "The base class carried by every entry",
			SystemMust:  []string{entry.AttrClass, entry.AttrUUID},
			SystemMay:   []string{entry.AttrDescription, entry.AttrMemberOf, entry.AttrDirectMemberOf},
		},
		{Name: entry.ClassSystem, Description: "Marker for entries installed and maintained by the server"},
		{Name: entry.ClassExtensible, Description: "Marker lifting attribute permission checks"},
		{Name: entry.ClassRecycled, Description: "Marker for soft deleted entries"},
		{Name: entry.ClassTombstone, Description: "Marker for fully deleted entries"},
		{
			Name:        ClassAttributeType,
			Description: "An attribute definition",
			SystemMust:  []string{AttrAttributeName, AttrMultiValue, AttrUnique, AttrSyntax},
			SystemMay:   []string{AttrIndex},
		},
		{
			Name:        ClassClassType,
			Description: "An object class definition",
			SystemMust:  []string{AttrClassName},
			SystemMay:   []string{AttrSystemMust, AttrSystemMay, AttrMust, AttrMay},
		},
		{
			Name:        "person",
			Description: "A natural person",
			SystemMust:  []string{entry.AttrName},
			SystemMay:   []string{"displayname", "mail"},
		},
		{
			Name:        "account",
			Description: "An authenticatable account",
			SystemMust:  []string{entry.AttrName},
			SystemMay:   []string{"displayname", "mail"},
		},
		{
			Name:        "group",
			Description: "A collection of members",
			SystemMust:  []string{entry.AttrName},
			SystemMay:   []string{entry.AttrMember},
		},
		{
			Name:        "system_info",
			Description: "Server wide bookkeeping",
			SystemMust:  []string{"version"},
		},
		{
			Name:        "domain_info",
			Description: "The served domain",
			SystemMust:  []string{entry.AttrName, "domain", "version"},
		},
		{
			Name:        "access_control_profile",
			Description: "Base class of access control profiles",
			SystemMust:  []string{entry.AttrName, "acp_receiver", "acp_targetscope"},
			SystemMay:   []string{"acp_enable"},
		},
		{
			Name:        "access_control_search",
			Description: "Grants read access to attributes",
			SystemMay:   []string{"acp_search_attr"},
		},
		{
			Name:        "access_control_create",
			Description: "Grants creation of entries",
			SystemMay:   []string{"acp_create_class", "acp_create_attr"},
		},
		{
			Name:        "access_control_modify",
			Description: "Grants modification of entries",
			SystemMay:   []string{"acp_modify_removedattr", "acp_modify_presentattr", "acp_modify_class"},
		},
		{
			Name:        "access_control_delete",
			Description: "Grants deletion of entries",
		},
	}
}

// Core returns the compiled-in schema. It is the baseline every reload
// starts from, so the definitions the engine itself depends on always exist.
func Core() *Schema {
	s := &Schema{
		attributes: make(map[string]*AttributeType),
		classes:    make(map[string]*ClassType),
	}
	for _, at := range coreAttributes() {
		s.attributes[strings.ToLower(at.Name)] = at
	}
	for _, ct := range coreClasses() {
		s.classes[strings.ToLower(ct.Name)] = ct
	}
	return s
}

// Entries renders every definition of the schema as a storable entry, for
// installing the schema into the directory it governs.
func (s *Schema) Entries() []*entry.Entry {
	var out []*entry.Entry
	for _, name := range s.AttributeNames() {
		out = append(out, s.attributes[name].Entry())
	}
	for _, name := range s.ClassNames() {
		out = append(out, s.classes[name].Entry())
	}
	return out
}

// Entry renders the attribute definition as a storable entry.
func (at *AttributeType) Entry() *entry.Entry {
	e := entry.New(
		entry.A(entry.AttrClass, entry.ClassObject, entry.ClassSystem, ClassAttributeType),
		entry.A(entry.AttrUUID, AttributeTypeUUID(at.Name)),
		entry.A(AttrAttributeName, value.IUTF8(at.Name)),
		entry.A(AttrMultiValue, at.MultiValue),
		entry.A(AttrUnique, at.Unique),
		entry.A(AttrSyntax, value.IUTF8(at.Syntax.String())),
	)
	if at.Description != "" {
		e.Set(entry.AttrDescription, value.UTF8(at.Description))
	}
	for _, it := range at.Index {
		e.Add(AttrIndex, value.IUTF8(it.String()))
	}
	return e
}

// Entry renders the class definition as a storable entry.
func (ct *ClassType) Entry() *entry.Entry {
	e := entry.New(
		entry.A(entry.AttrClass, entry.ClassObject, entry.ClassSystem, ClassClassType),
		entry.A(entry.AttrUUID, ClassTypeUUID(ct.Name)),
		entry.A(AttrClassName, value.IUTF8(ct.Name)),
	)
	if ct.Description != "" {
		e.Set(entry.AttrDescription, value.UTF8(ct.Description))
	}
	for attr, list := range map[string][]string{
		AttrSystemMust: ct.SystemMust,
		AttrSystemMay:  ct.SystemMay,
		AttrMust:       ct.Must,
		AttrMay:        ct.May,
	} {
		for _, name := range list {
			e.Add(attr, value.IUTF8(name))
		}
	}
	return e
}
