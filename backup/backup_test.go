package backup

import (
	"bytes"
	"context"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/dirgo/backend/kvstore"
	"github.com/hupe1980/dirgo/entry"
)

func archiveEntry(id uint64, name string, classes ...string) *entry.Entry {
	e := entry.New(
		entry.A(entry.AttrClass, anySlice(classes)...),
		entry.A(entry.AttrUUID, uuid.NewSHA1(uuid.NameSpaceOID, []byte(name))),
		entry.A(entry.AttrName, name),
	)
	e.SetID(id)
	return e
}

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func TestWriteReadRoundTrip(t *testing.T) {
	e1 := archiveEntry(1, "alice", "object", "person")
	e2 := archiveEntry(7, "staff", "object", "group")
	meta := kvstore.MetaRecord{IDMax: 7, ServerUUID: uuid.NewString(), IndexVersion: 3}

	var buf bytes.Buffer
	require.NoError(t, Write(context.Background(), &buf, meta, []*entry.Entry{e1, e2}))

	got, entries, err := Read(context.Background(), &buf)
	require.NoError(t, err)

	assert.Equal(t, meta.IDMax, got.IDMax)
	assert.Equal(t, meta.ServerUUID, got.ServerUUID)
	assert.Zero(t, got.IndexVersion, "index layout must be rebuilt, not adopted")

	require.Len(t, entries, 2)
	assert.Equal(t, kvstore.NewEntryRecord(e1), kvstore.NewEntryRecord(entries[0]))
	assert.Equal(t, kvstore.NewEntryRecord(e2), kvstore.NewEntryRecord(entries[1]))
}

func TestWriteEmptyArchive(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(context.Background(), &buf, kvstore.MetaRecord{ServerUUID: uuid.NewString()}, nil))

	_, entries, err := Read(context.Background(), &buf)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReadRejectsGarbage(t *testing.T) {
	_, _, err := Read(context.Background(), bytes.NewReader([]byte("not an archive")))
	require.Error(t, err)
}

func TestReadRejectsWrongMagic(t *testing.T) {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, cbor.NewEncoder(zw).Encode(Header{Magic: 0x0BADC0DE, Version: Version}))
	require.NoError(t, zw.Close())

	_, _, err = Read(context.Background(), &buf)
	require.ErrorIs(t, err, ErrInvalidMagic)
}

func TestReadRejectsFutureVersion(t *testing.T) {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, cbor.NewEncoder(zw).Encode(Header{Magic: Magic, Version: Version + 1}))
	require.NoError(t, zw.Close())

	_, _, err = Read(context.Background(), &buf)
	require.ErrorIs(t, err, ErrInvalidVersion)
}

func TestReadRejectsTruncatedStream(t *testing.T) {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, cbor.NewEncoder(zw).Encode(Header{Magic: Magic, Version: Version, Count: 3}))
	require.NoError(t, zw.Close())

	_, _, err = Read(context.Background(), &buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entry 1 of 3")
}

func TestWriteHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Write(ctx, &bytes.Buffer{}, kvstore.MetaRecord{}, []*entry.Entry{archiveEntry(1, "alice", "object")})
	require.ErrorIs(t, err, context.Canceled)
}
