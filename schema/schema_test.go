package schema

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/dirgo/entry"
	"github.com/hupe1980/dirgo/value"
)

func validPerson() *entry.Entry {
	return entry.New(
		entry.A(entry.AttrClass, "object", "person"),
		entry.A(entry.AttrUUID, uuid.New()),
		entry.A(entry.AttrName, "alice"),
	)
}

func TestCoreSelfCheck(t *testing.T) {
	assert.Empty(t, Core().SelfCheck())
}

func TestValidate(t *testing.T) {
	s := Core()

	tests := []struct {
		name   string
		entry  *entry.Entry
		reason string
	}{
		{
			name:  "valid person",
			entry: validPerson(),
		},
		{
			name: "missing classes",
			entry: entry.New(
				entry.A(entry.AttrName, "ghost"),
			),
			reason: "no object classes",
		},
		{
			name: "unknown class",
			entry: entry.New(
				entry.A(entry.AttrClass, "object", "starship"),
				entry.A(entry.AttrUUID, uuid.New()),
			),
			reason: "class not defined",
		},
		{
			name: "unknown attribute",
			entry: entry.New(
				entry.A(entry.AttrClass, "object", "person"),
				entry.A(entry.AttrUUID, uuid.New()),
				entry.A(entry.AttrName, "alice"),
				entry.A("shoesize", "44"),
			),
			reason: "not defined in schema",
		},
		{
			name: "missing must",
			entry: entry.New(
				entry.A(entry.AttrClass, "object", "person"),
				entry.A(entry.AttrUUID, uuid.New()),
			),
			reason: "required attribute missing",
		},
		{
			name: "attribute not permitted",
			entry: entry.New(
				entry.A(entry.AttrClass, "object", "person"),
				entry.A(entry.AttrUUID, uuid.New()),
				entry.A(entry.AttrName, "alice"),
				entry.A("domain", "example.com"),
			),
			reason: "not permitted",
		},
		{
			name: "single valued violation",
			entry: entry.New(
				entry.A(entry.AttrClass, "object", "person"),
				entry.A(entry.AttrUUID, uuid.New()),
				entry.A(entry.AttrName, "alice", "alice2"),
			),
			reason: "single valued",
		},
		{
			name: "syntax violation",
			entry: entry.New(
				entry.A(entry.AttrClass, "object", "person"),
				entry.A(entry.AttrUUID, "not-a-uuid"),
				entry.A(entry.AttrName, "alice"),
			),
			reason: "syntax",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Validate(tt.entry)
			if tt.reason == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrViolation)
			var serr *Error
			require.ErrorAs(t, err, &serr)
			assert.Contains(t, serr.Reason, tt.reason)
		})
	}
}

func TestValidateNormalizes(t *testing.T) {
	s := Core()
	u := uuid.New()
	e := entry.New(
		entry.A(entry.AttrClass, "Object", "PERSON"),
		entry.A(entry.AttrUUID, u.String()),
		entry.A(entry.AttrName, "Alice"),
	)
	require.NoError(t, s.Validate(e))

	// The raw string uuid is coerced to the uuid syntax.
	v, ok := e.One(entry.AttrUUID)
	require.True(t, ok)
	assert.Equal(t, value.KindUUID, v.Kind())

	// Case-insensitive values are folded.
	name, _ := e.OneText(entry.AttrName)
	assert.Equal(t, "alice", name)
	assert.True(t, e.HasClass("person"))
}

func TestValidateExtensible(t *testing.T) {
	s := Core()
	e := entry.New(
		entry.A(entry.AttrClass, "object", "extensibleobject"),
		entry.A(entry.AttrUUID, uuid.New()),
		entry.A("domain", "anything-goes"),
	)
	assert.NoError(t, s.Validate(e))
}

func TestValidateTombstone(t *testing.T) {
	s := Core()

	ts := validPerson().ToTombstone()
	assert.NoError(t, s.Validate(ts))

	bad := ts.Clone()
	bad.Set(entry.AttrName, value.IUTF8("ghost"))
	err := s.Validate(bad)
	require.ErrorIs(t, err, ErrViolation)
}

func TestIndexedAttrs(t *testing.T) {
	s := Core()

	assert.True(t, s.Indexed(entry.AttrName, IndexEquality))
	assert.True(t, s.Indexed(entry.AttrUUID, IndexPresence))
	assert.False(t, s.Indexed(entry.AttrDescription, IndexEquality))
	// Substring indexes are declared but never maintained.
	assert.False(t, s.Indexed(entry.AttrName, IndexSubstring))

	pairs := s.IndexedAttrs()
	assert.Contains(t, pairs, IndexedAttr{Attr: entry.AttrClass, Type: IndexEquality})
	assert.Contains(t, pairs, IndexedAttr{Attr: entry.AttrMember, Type: IndexEquality})
}

func TestFromEntriesOverlay(t *testing.T) {
	custom := (&AttributeType{
		Name:       "favouritecolour",
		MultiValue: false,
		Index:      []IndexType{IndexEquality},
		Syntax:     value.KindIUTF8,
	}).Entry()

	widerPerson := (&ClassType{
		Name:       "person",
		SystemMust: []string{entry.AttrName},
		May:        []string{"favouritecolour"},
	}).Entry()

	s, err := FromEntries([]*entry.Entry{custom, widerPerson})
	require.NoError(t, err)

	at, ok := s.Attribute("favouritecolour")
	require.True(t, ok)
	assert.True(t, at.Indexed(IndexEquality))
	assert.Equal(t, value.KindIUTF8, at.Syntax)

	e := entry.New(
		entry.A(entry.AttrClass, "object", "person"),
		entry.A(entry.AttrUUID, uuid.New()),
		entry.A(entry.AttrName, "alice"),
		entry.A("favouritecolour", "teal"),
	)
	assert.NoError(t, s.Validate(e))
}

func TestFromEntriesRejectsDanglingReference(t *testing.T) {
	// A class whose must list names an undefined attribute must fail the
	// reload, so a bad schema write can never be committed.
	broken := (&ClassType{
		Name: "brokenclass",
		Must: []string{"no_such_attribute"},
	}).Entry()

	_, err := FromEntries([]*entry.Entry{broken})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrViolation)
}

func TestSchemaEntriesValidate(t *testing.T) {
	// Every rendered core definition must validate against the core itself:
	// the fixed point that makes the schema self hosting.
	s := Core()
	for _, e := range s.Entries() {
		assert.NoError(t, s.Validate(e), "entry %s", e)
	}
}

func TestSchemaEntriesRoundTrip(t *testing.T) {
	s := Core()
	reloaded, err := FromEntries(s.Entries())
	require.NoError(t, err)

	assert.Equal(t, s.AttributeNames(), reloaded.AttributeNames())
	assert.Equal(t, s.ClassNames(), reloaded.ClassNames())

	at, ok := reloaded.Attribute(entry.AttrName)
	require.True(t, ok)
	assert.True(t, at.Unique)
	assert.True(t, at.Indexed(IndexEquality))
}
