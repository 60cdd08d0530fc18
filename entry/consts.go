package entry

// Attribute names interpreted by the engine itself. All other attribute
// semantics are carried by schema definitions.
const (
	// AttrClass holds the object classes of an entry.
	AttrClass = "class"
	// AttrUUID holds the stable external identifier of an entry.
	AttrUUID = "uuid"
	// AttrName holds the unique short name of an entry.
	AttrName = "name"
	// AttrDescription holds a free-form description.
	AttrDescription = "description"
	// AttrMember holds forward group membership references.
	AttrMember = "member"
	// AttrMemberOf holds the derived transitive reverse membership.
	AttrMemberOf = "memberof"
	// AttrDirectMemberOf holds the derived direct reverse membership.
	AttrDirectMemberOf = "directmemberof"
)

// Object classes interpreted by the engine itself.
const (
	// ClassObject is the base class every entry must carry.
	ClassObject = "object"
	// ClassTombstone marks a fully deleted entry retained as a marker.
	ClassTombstone = "tombstone"
	// ClassRecycled marks a soft-deleted entry awaiting purge or revival.
	ClassRecycled = "recycled"
	// ClassExtensible lifts the attribute-permission checks for an entry.
	ClassExtensible = "extensibleobject"
	// ClassSystem marks entries installed and maintained by the server.
	ClassSystem = "system"
	// ClassGroup marks entries whose member references feed the derived
	// membership attributes.
	ClassGroup = "group"
)
