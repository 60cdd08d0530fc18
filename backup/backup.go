// Package backup implements the portable archive format for directory
// databases: a zstd compressed CBOR stream carrying a header followed by
// one record per entry.
//
// Archives are self-describing. The header names the producing server,
// the highest allocated internal ID and the entry count, so a restore
// can rebuild the database and every index without the original store.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/dirgo/backend/kvstore"
	"github.com/hupe1980/dirgo/entry"
)

const (
	// Magic identifies archive streams (ASCII "DGA1").
	Magic = 0x44474131
	// Version is the current archive format version.
	Version = 1
)

var (
	ErrInvalidMagic   = errors.New("not a directory archive")
	ErrInvalidVersion = errors.New("unsupported archive version")
)

// Header is the first record of every archive.
type Header struct {
	Magic      uint32    `cbor:"1,keyasint"`
	Version    uint32    `cbor:"2,keyasint"`
	ServerUUID string    `cbor:"3,keyasint"`
	IDMax      uint64    `cbor:"4,keyasint"`
	Count      uint64    `cbor:"5,keyasint"`
	CreatedAt  time.Time `cbor:"6,keyasint"`
}

// Write streams the given entries as an archive. The entries must carry
// their internal IDs; meta supplies the server identity and the ID
// watermark recorded in the header.
func Write(ctx context.Context, w io.Writer, meta kvstore.MetaRecord, entries []*entry.Entry) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}

	if err := writeRecords(ctx, zw, meta, entries); err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

func writeRecords(ctx context.Context, w io.Writer, meta kvstore.MetaRecord, entries []*entry.Entry) error {
	enc := cbor.NewEncoder(w)

	hdr := Header{
		Magic:      Magic,
		Version:    Version,
		ServerUUID: meta.ServerUUID,
		IDMax:      meta.IDMax,
		Count:      uint64(len(entries)),
		CreatedAt:  time.Now().UTC(),
	}
	if err := enc.Encode(hdr); err != nil {
		return fmt.Errorf("write archive header: %w", err)
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := enc.Encode(kvstore.NewEntryRecord(e)); err != nil {
			return fmt.Errorf("write archive entry %d: %w", e.ID(), err)
		}
	}
	return nil
}

// Read consumes an archive and returns the restored metadata and
// entries, internal IDs included. The returned metadata carries no index
// version; restoring rebuilds the indexes from scratch.
func Read(ctx context.Context, r io.Reader) (kvstore.MetaRecord, []*entry.Entry, error) {
	var meta kvstore.MetaRecord

	zr, err := zstd.NewReader(r)
	if err != nil {
		return meta, nil, err
	}
	defer zr.Close()

	dec := cbor.NewDecoder(zr)

	var hdr Header
	if err := dec.Decode(&hdr); err != nil {
		return meta, nil, fmt.Errorf("read archive header: %w", err)
	}
	if hdr.Magic != Magic {
		return meta, nil, ErrInvalidMagic
	}
	if hdr.Version != Version {
		return meta, nil, fmt.Errorf("%w: %d", ErrInvalidVersion, hdr.Version)
	}

	entries := make([]*entry.Entry, 0, hdr.Count)
	for i := uint64(0); i < hdr.Count; i++ {
		if err := ctx.Err(); err != nil {
			return meta, nil, err
		}

		var rec kvstore.EntryRecord
		if err := dec.Decode(&rec); err != nil {
			return meta, nil, fmt.Errorf("read archive entry %d of %d: %w", i+1, hdr.Count, err)
		}
		e, err := rec.Entry()
		if err != nil {
			return meta, nil, err
		}
		entries = append(entries, e)
	}

	meta.IDMax = hdr.IDMax
	meta.ServerUUID = hdr.ServerUUID
	return meta, entries, nil
}
