package dirgo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hupe1980/dirgo/access"
	"github.com/hupe1980/dirgo/backend"
	"github.com/hupe1980/dirgo/entry"
	"github.com/hupe1980/dirgo/filter"
	"github.com/hupe1980/dirgo/schema"
	"github.com/hupe1980/dirgo/value"
)

// Names of the builtin entries installed by Initialize.
const (
	NameAnonymous    = "anonymous"
	NameAdmin        = "admin"
	NameIDMAdmin     = "idm_admin"
	NameSystemAdmins = "system_admins"
	NameIDMAdmins    = "idm_admins"
)

// NamespaceBuiltin is the namespace uuid the identifiers of builtin
// non-schema entries are derived in.
var NamespaceBuiltin = uuid.MustParse("8c4bf8c5-d3f5-4d8e-97a8-25b5c1a662f7")

// BuiltinUUID returns the stable uuid of the named builtin entry, for
// example BuiltinUUID(dirgo.NameIDMAdmins).
func BuiltinUUID(name string) uuid.UUID {
	return uuid.NewSHA1(NamespaceBuiltin, []byte("builtin/"+strings.ToLower(name)))
}

// Initialize installs or migrates the baseline data set: the schema
// definition entries, system and domain bookkeeping, the builtin admin
// accounts and groups, and the default access control profiles.
//
// Initialize is idempotent and safe to run on every start. Existing
// entries are aligned attribute by attribute rather than replaced, so
// local additions survive; a builtin that an administrator deleted stays
// deleted until revived or purged.
func (s *Server) Initialize(ctx context.Context) error {
	created, updated, err := s.initialize(ctx)

	s.logger.LogInitialize(ctx, created, updated, err)

	return err
}

func (s *Server) initialize(ctx context.Context) (created, updated int, err error) {
	// Schema first, in its own commit: the later phases must validate
	// under definitions a previous run may have extended.
	created, updated, err = s.initPhase(ctx, schema.Core().Entries())
	if err != nil {
		return created, updated, err
	}

	c, u, err := s.initPhase(ctx, s.builtinEntries())
	return created + c, updated + u, err
}

// initPhase migrates one batch of builtin entries inside a single
// transaction. A phase that changes nothing leaves the store untouched.
func (s *Server) initPhase(ctx context.Context, targets []*entry.Entry) (created, updated int, err error) {
	w, err := s.be.Write(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer w.Abort()

	for _, target := range targets {
		c, u, err := s.migrateOrCreate(ctx, w, target)
		if err != nil {
			return created, updated, err
		}
		if c {
			created++
		}
		if u {
			updated++
		}
	}

	if created == 0 && updated == 0 {
		return 0, 0, nil
	}
	return created, updated, w.Commit(ctx)
}

// migrateOrCreate brings one builtin entry to its target state. Missing
// entries are created through the full pipeline; existing live ones are
// aligned per attribute, leaving attributes the target does not name
// alone so that derived and locally added state survives.
func (s *Server) migrateOrCreate(ctx context.Context, w *backend.WriteTxn, target *entry.Entry) (created, updated bool, err error) {
	u, ok := target.UUID()
	if !ok {
		return false, false, fmt.Errorf("%w: builtin entry %s has no uuid", ErrInvalidState, target)
	}

	// Deliberately unscoped: a recycled or tombstoned holder of the uuid
	// must be found, not recreated next to.
	vf, err := filter.Eq(entry.AttrUUID, value.UUID(u)).Validate(w.Schema())
	if err != nil {
		return false, false, err
	}
	matched, err := w.Search(ctx, vf)
	if err != nil {
		return false, false, err
	}

	switch len(matched) {
	case 0:
		if err := s.createIn(ctx, w, access.Internal(), []*entry.Entry{target}); err != nil {
			return false, false, err
		}
		return true, false, nil
	case 1:
	default:
		return false, false, fmt.Errorf("%w: uuid %s is held by %d entries", ErrInvalidState, u, len(matched))
	}

	current := matched[0]
	if !current.IsLive() {
		// Reinstalling over a deliberate delete would fight the
		// administrator; the entry stays dead until revived or purged.
		return false, false, nil
	}

	want := target.Clone()
	if err := w.Schema().Normalize(want); err != nil {
		return false, false, &ErrSchemaViolation{Entry: want.String(), cause: err}
	}

	// Membership of an existing group is operational state owned by the
	// administrators; realigning it would revoke granted rights.
	ml := entry.AssertMods(current, want, entry.AttrMember)
	if ml.Len() == 0 {
		return false, false, nil
	}

	scoped := withoutHidden(filter.Eq(entry.AttrUUID, value.UUID(u)))
	if _, err := s.modifyIn(ctx, w, access.Internal(), scoped, ml); err != nil {
		return false, false, err
	}
	return false, true, nil
}

// builtinEntries returns the non-schema baseline: bookkeeping entries,
// admin accounts and groups, and the default access control profiles.
// Accounts precede the groups referencing them so that one transaction
// can install the lot.
func (s *Server) builtinEntries() []*entry.Entry {
	es := []*entry.Entry{
		entry.New(
			entry.A(entry.AttrClass, entry.ClassObject, entry.ClassSystem, "system_info"),
			entry.A(entry.AttrUUID, BuiltinUUID("system_info")),
			entry.A(entry.AttrDescription, "Server wide bookkeeping"),
			entry.A("version", uint32(1)),
		),
		entry.New(
			entry.A(entry.AttrClass, entry.ClassObject, entry.ClassSystem, "domain_info"),
			entry.A(entry.AttrUUID, BuiltinUUID("domain_info")),
			entry.A(entry.AttrName, "domain_local"),
			entry.A("domain", s.domain),
			entry.A("version", uint32(1)),
		),
		entry.New(
			entry.A(entry.AttrClass, entry.ClassObject, entry.ClassSystem, "account"),
			entry.A(entry.AttrUUID, BuiltinUUID(NameAnonymous)),
			entry.A(entry.AttrName, NameAnonymous),
			entry.A("displayname", "Anonymous"),
			entry.A(entry.AttrDescription, "Unauthenticated access account"),
		),
		entry.New(
			entry.A(entry.AttrClass, entry.ClassObject, entry.ClassSystem, "account"),
			entry.A(entry.AttrUUID, BuiltinUUID(NameAdmin)),
			entry.A(entry.AttrName, NameAdmin),
			entry.A("displayname", "System Administrator"),
			entry.A(entry.AttrDescription, "Controls schema and access policy"),
		),
		entry.New(
			entry.A(entry.AttrClass, entry.ClassObject, entry.ClassSystem, "account"),
			entry.A(entry.AttrUUID, BuiltinUUID(NameIDMAdmin)),
			entry.A(entry.AttrName, NameIDMAdmin),
			entry.A("displayname", "IDM Administrator"),
			entry.A(entry.AttrDescription, "Manages people and groups"),
		),
		entry.New(
			entry.A(entry.AttrClass, entry.ClassObject, entry.ClassSystem, entry.ClassGroup),
			entry.A(entry.AttrUUID, BuiltinUUID(NameSystemAdmins)),
			entry.A(entry.AttrName, NameSystemAdmins),
			entry.A(entry.AttrDescription, "Members manage schema and access policy"),
			entry.A(entry.AttrMember, BuiltinUUID(NameAdmin)),
		),
		entry.New(
			entry.A(entry.AttrClass, entry.ClassObject, entry.ClassSystem, entry.ClassGroup),
			entry.A(entry.AttrUUID, BuiltinUUID(NameIDMAdmins)),
			entry.A(entry.AttrName, NameIDMAdmins),
			entry.A(entry.AttrDescription, "Members manage people and groups"),
			entry.A(entry.AttrMember, BuiltinUUID(NameIDMAdmin)),
		),
	}
	return append(es, builtinProfiles()...)
}

// builtinProfiles returns the default access control set. Every profile
// carries the system class, putting it out of reach of the profile
// management grants below.
func builtinProfiles() []*entry.Entry {
	selfRead := entry.New(
		entry.A(entry.AttrClass, entry.ClassObject, entry.ClassSystem,
			access.ClassProfile, access.ClassSearch),
		entry.A(entry.AttrUUID, BuiltinUUID("acp_self_read")),
		entry.A(entry.AttrName, "acp_self_read"),
		entry.A(entry.AttrDescription, "Every identity may read its own entry"),
		entry.A(access.AttrEnable, true),
		entry.A(access.AttrReceiver, mustFilterJSON(filter.Pres(entry.AttrClass))),
		entry.A(access.AttrTargetScope, mustFilterJSON(filter.SelfUUID())),
		entry.A(access.AttrSearchAttr, entry.AttrClass, entry.AttrUUID, entry.AttrName,
			entry.AttrDescription, "displayname", "mail",
			entry.AttrMemberOf, entry.AttrDirectMemberOf),
	)

	managePerson := entry.New(
		entry.A(entry.AttrClass, entry.ClassObject, entry.ClassSystem,
			access.ClassProfile, access.ClassSearch, access.ClassCreate,
			access.ClassModify, access.ClassDelete),
		entry.A(entry.AttrUUID, BuiltinUUID("acp_idm_admins_manage_person")),
		entry.A(entry.AttrName, "acp_idm_admins_manage_person"),
		entry.A(entry.AttrDescription, "IDM admins manage non-system people"),
		entry.A(access.AttrEnable, true),
		entry.A(access.AttrReceiver, mustFilterJSON(receiverGroup(NameIDMAdmins))),
		entry.A(access.AttrTargetScope, mustFilterJSON(nonSystem(filter.Eq(entry.AttrClass, "person")))),
		entry.A(access.AttrSearchAttr, entry.AttrClass, entry.AttrUUID, entry.AttrName,
			entry.AttrDescription, "displayname", "mail",
			entry.AttrMemberOf, entry.AttrDirectMemberOf),
		entry.A(access.AttrCreateClass, entry.ClassObject, "person"),
		entry.A(access.AttrCreateAttr, entry.AttrClass, entry.AttrUUID, entry.AttrName,
			entry.AttrDescription, "displayname", "mail"),
		entry.A(access.AttrModifyPresent, entry.AttrClass, entry.AttrName,
			entry.AttrDescription, "displayname", "mail"),
		entry.A(access.AttrModifyRemoved, entry.AttrClass, entry.AttrName,
			entry.AttrDescription, "displayname", "mail"),
		entry.A(access.AttrModifyClass, entry.ClassObject, "person", entry.ClassRecycled),
	)

	manageGroup := entry.New(
		entry.A(entry.AttrClass, entry.ClassObject, entry.ClassSystem,
			access.ClassProfile, access.ClassSearch, access.ClassCreate,
			access.ClassModify, access.ClassDelete),
		entry.A(entry.AttrUUID, BuiltinUUID("acp_idm_admins_manage_group")),
		entry.A(entry.AttrName, "acp_idm_admins_manage_group"),
		entry.A(entry.AttrDescription, "IDM admins manage non-system groups"),
		entry.A(access.AttrEnable, true),
		entry.A(access.AttrReceiver, mustFilterJSON(receiverGroup(NameIDMAdmins))),
		entry.A(access.AttrTargetScope, mustFilterJSON(nonSystem(filter.Eq(entry.AttrClass, entry.ClassGroup)))),
		entry.A(access.AttrSearchAttr, entry.AttrClass, entry.AttrUUID, entry.AttrName,
			entry.AttrDescription, entry.AttrMember,
			entry.AttrMemberOf, entry.AttrDirectMemberOf),
		entry.A(access.AttrCreateClass, entry.ClassObject, entry.ClassGroup),
		entry.A(access.AttrCreateAttr, entry.AttrClass, entry.AttrUUID, entry.AttrName,
			entry.AttrDescription, entry.AttrMember),
		entry.A(access.AttrModifyPresent, entry.AttrClass, entry.AttrName,
			entry.AttrDescription, entry.AttrMember),
		entry.A(access.AttrModifyRemoved, entry.AttrClass, entry.AttrName,
			entry.AttrDescription, entry.AttrMember),
		entry.A(access.AttrModifyClass, entry.ClassObject, entry.ClassGroup, entry.ClassRecycled),
	)

	adminRead := entry.New(
		entry.A(entry.AttrClass, entry.ClassObject, entry.ClassSystem,
			access.ClassProfile, access.ClassSearch),
		entry.A(entry.AttrUUID, BuiltinUUID("acp_system_admins_read")),
		entry.A(entry.AttrName, "acp_system_admins_read"),
		entry.A(entry.AttrDescription, "System admins see everything live"),
		entry.A(access.AttrEnable, true),
		entry.A(access.AttrReceiver, mustFilterJSON(receiverGroup(NameSystemAdmins))),
		entry.A(access.AttrTargetScope, mustFilterJSON(filter.Pres(entry.AttrClass))),
		entry.A(access.AttrSearchAttr, entry.AttrClass, entry.AttrUUID, entry.AttrName,
			entry.AttrDescription, entry.AttrMember, entry.AttrMemberOf, entry.AttrDirectMemberOf,
			"displayname", "mail", "version", "domain",
			schema.AttrAttributeName, schema.AttrClassName, schema.AttrMultiValue,
			schema.AttrUnique, schema.AttrIndex, schema.AttrSyntax,
			schema.AttrMust, schema.AttrMay, schema.AttrSystemMust, schema.AttrSystemMay,
			access.AttrEnable, access.AttrReceiver, access.AttrTargetScope,
			access.AttrSearchAttr, access.AttrCreateClass, access.AttrCreateAttr,
			access.AttrModifyRemoved, access.AttrModifyPresent, access.AttrModifyClass),
	)

	manageSchema := entry.New(
		entry.A(entry.AttrClass, entry.ClassObject, entry.ClassSystem,
			access.ClassProfile, access.ClassCreate, access.ClassModify, access.ClassDelete),
		entry.A(entry.AttrUUID, BuiltinUUID("acp_system_admins_manage_schema")),
		entry.A(entry.AttrName, "acp_system_admins_manage_schema"),
		entry.A(entry.AttrDescription, "System admins manage non-system schema definitions"),
		entry.A(access.AttrEnable, true),
		entry.A(access.AttrReceiver, mustFilterJSON(receiverGroup(NameSystemAdmins))),
		entry.A(access.AttrTargetScope, mustFilterJSON(nonSystem(filter.Or(
			filter.Eq(entry.AttrClass, schema.ClassAttributeType),
			filter.Eq(entry.AttrClass, schema.ClassClassType),
		)))),
		entry.A(access.AttrCreateClass, entry.ClassObject,
			schema.ClassAttributeType, schema.ClassClassType),
		entry.A(access.AttrCreateAttr, entry.AttrClass, entry.AttrUUID, entry.AttrDescription,
			schema.AttrAttributeName, schema.AttrClassName, schema.AttrMultiValue,
			schema.AttrUnique, schema.AttrIndex, schema.AttrSyntax,
			schema.AttrMust, schema.AttrMay, schema.AttrSystemMust, schema.AttrSystemMay),
		entry.A(access.AttrModifyPresent, entry.AttrClass, entry.AttrDescription,
			schema.AttrAttributeName, schema.AttrClassName, schema.AttrMultiValue,
			schema.AttrUnique, schema.AttrIndex, schema.AttrSyntax,
			schema.AttrMust, schema.AttrMay, schema.AttrSystemMust, schema.AttrSystemMay),
		entry.A(access.AttrModifyRemoved, entry.AttrClass, entry.AttrDescription,
			schema.AttrAttributeName, schema.AttrClassName, schema.AttrMultiValue,
			schema.AttrUnique, schema.AttrIndex, schema.AttrSyntax,
			schema.AttrMust, schema.AttrMay, schema.AttrSystemMust, schema.AttrSystemMay),
		entry.A(access.AttrModifyClass, entry.ClassObject,
			schema.ClassAttributeType, schema.ClassClassType, entry.ClassRecycled),
	)

	manageACP := entry.New(
		entry.A(entry.AttrClass, entry.ClassObject, entry.ClassSystem,
			access.ClassProfile, access.ClassCreate, access.ClassModify, access.ClassDelete),
		entry.A(entry.AttrUUID, BuiltinUUID("acp_system_admins_manage_acp")),
		entry.A(entry.AttrName, "acp_system_admins_manage_acp"),
		entry.A(entry.AttrDescription, "System admins manage non-system access profiles"),
		entry.A(access.AttrEnable, true),
		entry.A(access.AttrReceiver, mustFilterJSON(receiverGroup(NameSystemAdmins))),
		entry.A(access.AttrTargetScope, mustFilterJSON(nonSystem(
			filter.Eq(entry.AttrClass, access.ClassProfile)))),
		entry.A(access.AttrCreateClass, entry.ClassObject, access.ClassProfile,
			access.ClassSearch, access.ClassCreate, access.ClassModify, access.ClassDelete),
		entry.A(access.AttrCreateAttr, entry.AttrClass, entry.AttrUUID, entry.AttrName,
			entry.AttrDescription,
			access.AttrEnable, access.AttrReceiver, access.AttrTargetScope,
			access.AttrSearchAttr, access.AttrCreateClass, access.AttrCreateAttr,
			access.AttrModifyRemoved, access.AttrModifyPresent, access.AttrModifyClass),
		entry.A(access.AttrModifyPresent, entry.AttrClass, entry.AttrName, entry.AttrDescription,
			access.AttrEnable, access.AttrReceiver, access.AttrTargetScope,
			access.AttrSearchAttr, access.AttrCreateClass, access.AttrCreateAttr,
			access.AttrModifyRemoved, access.AttrModifyPresent, access.AttrModifyClass),
		entry.A(access.AttrModifyRemoved, entry.AttrClass, entry.AttrName, entry.AttrDescription,
			access.AttrEnable, access.AttrReceiver, access.AttrTargetScope,
			access.AttrSearchAttr, access.AttrCreateClass, access.AttrCreateAttr,
			access.AttrModifyRemoved, access.AttrModifyPresent, access.AttrModifyClass),
		entry.A(access.AttrModifyClass, entry.ClassObject, access.ClassProfile,
			access.ClassSearch, access.ClassCreate, access.ClassModify, access.ClassDelete,
			entry.ClassRecycled),
	)

	return []*entry.Entry{selfRead, managePerson, manageGroup, adminRead, manageSchema, manageACP}
}

// receiverGroup selects identities by membership in a builtin group.
func receiverGroup(group string) *filter.Filter {
	return filter.Eq(entry.AttrMemberOf, value.Reference(BuiltinUUID(group)))
}

// nonSystem narrows a scope to entries not marked as system owned.
func nonSystem(f *filter.Filter) *filter.Filter {
	return filter.And(f, filter.AndNot(filter.Eq(entry.AttrClass, entry.ClassSystem)))
}

func mustFilterJSON(f *filter.Filter) string {
	raw, err := json.Marshal(f)
	if err != nil {
		panic(err)
	}
	return string(raw)
}
