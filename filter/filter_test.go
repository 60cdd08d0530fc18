package filter

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/hupe1980/dirgo/entry"
	"github.com/hupe1980/dirgo/schema"
	"github.com/hupe1980/dirgo/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	s := schema.Core()

	t.Run("unknown attribute", func(t *testing.T) {
		_, err := Eq("no_such_attr", "x").Validate(s)
		require.ErrorIs(t, err, ErrInvalidFilter)

		_, err = Pres("no_such_attr").Validate(s)
		require.ErrorIs(t, err, ErrInvalidFilter)
	})

	t.Run("nested error propagates", func(t *testing.T) {
		f := And(Pres(entry.AttrName), Or(Eq("bogus", "x")))
		_, err := f.Validate(s)
		require.ErrorIs(t, err, ErrInvalidFilter)
	})

	t.Run("empty boolean nodes", func(t *testing.T) {
		_, err := And().Validate(s)
		require.ErrorIs(t, err, ErrInvalidFilter)

		_, err = Or().Validate(s)
		require.ErrorIs(t, err, ErrInvalidFilter)
	})

	t.Run("coerces term values", func(t *testing.T) {
		u := uuid.MustParse("00000000-0000-0000-0000-0000000000aa")

		f, err := Eq(entry.AttrUUID, u.String()).Validate(s)
		require.NoError(t, err)
		assert.Equal(t, value.KindUUID, f.Value().Kind())

		f, err = Eq(entry.AttrMember, u.String()).Validate(s)
		require.NoError(t, err)
		assert.Equal(t, value.KindReference, f.Value().Kind())
	})

	t.Run("rejects malformed term values", func(t *testing.T) {
		_, err := Eq(entry.AttrUUID, "not-a-uuid").Validate(s)
		require.ErrorIs(t, err, ErrInvalidFilter)
	})

	t.Run("substring fragments stay strings", func(t *testing.T) {
		f, err := Sub(entry.AttrUUID, "0000aa").Validate(s)
		require.NoError(t, err)
		assert.Equal(t, value.KindIUTF8, f.Value().Kind())
	})

	t.Run("folds attribute names", func(t *testing.T) {
		f, err := Eq("Name", "Alice").Validate(s)
		require.NoError(t, err)
		assert.Equal(t, "name", f.Attr())
		// name is case-insensitive, so the term value folds too.
		assert.Equal(t, "alice", f.Value().Text())
	})
}

func testEntry(t *testing.T, u uuid.UUID) *entry.Entry {
	t.Helper()

	e := entry.New(
		entry.A(entry.AttrClass, entry.ClassObject, "person"),
		entry.A(entry.AttrName, "petra"),
		entry.A(entry.AttrUUID, u),
		entry.A(entry.AttrDescription, "Product engineering"),
	)
	require.NoError(t, schema.Core().Validate(e))

	return e
}

func TestMatches(t *testing.T) {
	u := uuid.MustParse("d0a7a955-c213-47b8-9e44-6b1acb5e49fa")
	e := testEntry(t, u)
	s := schema.Core()

	tests := []struct {
		name   string
		filter *Filter
		want   bool
	}{
		{name: "eq hit", filter: Eq(entry.AttrName, "petra"), want: true},
		{name: "eq folds case", filter: Eq(entry.AttrName, "PETRA"), want: true},
		{name: "eq miss", filter: Eq(entry.AttrName, "paul"), want: false},
		{name: "eq uuid", filter: Eq(entry.AttrUUID, u.String()), want: true},
		{name: "pres hit", filter: Pres(entry.AttrDescription), want: true},
		{name: "pres miss", filter: Pres("mail"), want: false},
		{name: "sub hit", filter: Sub(entry.AttrName, "etr"), want: true},
		{name: "sub case sensitive attr", filter: Sub(entry.AttrDescription, "product"), want: false},
		{name: "sub exact case", filter: Sub(entry.AttrDescription, "Product"), want: true},
		{name: "and all hold", filter: And(Eq(entry.AttrClass, "person"), Pres(entry.AttrName)), want: true},
		{name: "and one fails", filter: And(Eq(entry.AttrClass, "person"), Pres("mail")), want: false},
		{name: "or one holds", filter: Or(Eq(entry.AttrClass, "group"), Eq(entry.AttrClass, "person")), want: true},
		{name: "or none hold", filter: Or(Eq(entry.AttrClass, "group"), Pres("mail")), want: false},
		{name: "andNot inverts", filter: AndNot(Eq(entry.AttrClass, "group")), want: true},
		{name: "andNot excludes", filter: And(Pres(entry.AttrName), AndNot(Eq(entry.AttrName, "petra"))), want: false},
		{
			name: "nested",
			filter: And(
				Eq(entry.AttrClass, entry.ClassObject),
				Or(Eq(entry.AttrName, "paul"), Sub(entry.AttrName, "pet")),
				AndNot(Eq(entry.AttrClass, entry.ClassTombstone)),
			),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := tt.filter.Validate(s)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Matches(e))
		})
	}
}

func TestSelf(t *testing.T) {
	u := uuid.MustParse("5e9ef5a6-2b39-416b-b8a9-9e6a1a4f54c1")
	e := testEntry(t, u)
	s := schema.Core()

	f, err := And(Eq(entry.AttrClass, "person"), SelfUUID()).Validate(s)
	require.NoError(t, err)

	assert.True(t, f.HasSelf())
	assert.False(t, f.Matches(e), "unresolved self must match nothing")

	r := f.ResolveSelf(u)
	assert.False(t, r.HasSelf())
	assert.True(t, r.Matches(e))

	other := f.ResolveSelf(uuid.MustParse("2f8b0a93-9d49-4ad9-bd68-2b6021f77bcb"))
	assert.False(t, other.Matches(e))

	// The original filter is untouched.
	assert.True(t, f.HasSelf())
}

func TestJSONRoundTrip(t *testing.T) {
	s := schema.Core()

	tests := []struct {
		name   string
		filter *Filter
		json   string
	}{
		{
			name:   "eq",
			filter: Eq(entry.AttrName, "petra"),
			json:   `{"eq":["name","petra"]}`,
		},
		{
			name:   "pres",
			filter: Pres("mail"),
			json:   `{"pres":"mail"}`,
		},
		{
			name:   "self",
			filter: SelfUUID(),
			json:   `"selfUuid"`,
		},
		{
			name:   "nested",
			filter: And(Eq(entry.AttrClass, "person"), AndNot(Or(Sub(entry.AttrName, "adm"), SelfUUID()))),
			json:   `{"and":[{"eq":["class","person"]},{"andNot":{"or":[{"sub":["name","adm"]},"selfUuid"]}}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.filter)
			require.NoError(t, err)
			assert.JSONEq(t, tt.json, string(data))

			parsed, err := Parse(data)
			require.NoError(t, err)

			want, err := tt.filter.Validate(s)
			require.NoError(t, err)

			got, err := parsed.Validate(s)
			require.NoError(t, err)

			assert.Equal(t, want.String(), got.String())
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{name: "unknown operator", json: `{"approx":["name","x"]}`},
		{name: "two operators", json: `{"eq":["name","x"],"pres":"name"}`},
		{name: "eq arity", json: `{"eq":["name"]}`},
		{name: "bare string", json: `"eq"`},
		{name: "not json", json: `{{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.json))
			require.ErrorIs(t, err, ErrInvalidFilter)
		})
	}
}

func TestAcceptsSelfUUIDObjectForm(t *testing.T) {
	f, err := Parse([]byte(`{"selfUuid":null}`))
	require.NoError(t, err)
	assert.Equal(t, OpSelf, f.Op())
}
