package kvstore

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/hupe1980/dirgo/entry"
	"github.com/hupe1980/dirgo/value"
)

// ValueRecord is the stored form of a single attribute value.
type ValueRecord struct {
	Kind uint8  `cbor:"1,keyasint"` // value syntax
	Raw  string `cbor:"2,keyasint"` // canonical textual payload
}

// EntryRecord is the stored form of an entry. The internal ID is carried
// in the record as well as in the storage key so that a record is
// self-describing in backup archives.
type EntryRecord struct {
	ID    uint64                   `cbor:"1,keyasint"`
	Attrs map[string][]ValueRecord `cbor:"2,keyasint"`
}

// MetaRecord is the stored form of the database metadata.
type MetaRecord struct {
	// IDMax is the highest internal ID ever allocated.
	IDMax uint64 `cbor:"1,keyasint"`
	// ServerUUID identifies the database instance.
	ServerUUID string `cbor:"2,keyasint"`
	// IndexVersion is the index layout version the idx bucket was built
	// with. A mismatch with the running version forces a reindex on open.
	IndexVersion uint32 `cbor:"3,keyasint"`
}

// NewEntryRecord converts an entry into its stored form.
func NewEntryRecord(e *entry.Entry) EntryRecord {
	rec := EntryRecord{ID: e.ID(), Attrs: make(map[string][]ValueRecord)}
	for name, vals := range e.Attrs() {
		vrs := make([]ValueRecord, 0, len(vals))
		for _, v := range vals {
			vrs = append(vrs, ValueRecord{Kind: uint8(v.Kind()), Raw: v.Text()})
		}
		rec.Attrs[name] = vrs
	}
	return rec
}

// Entry converts the stored form back into an entry.
func (rec EntryRecord) Entry() (*entry.Entry, error) {
	e := entry.New()
	for name, vrs := range rec.Attrs {
		for _, vr := range vrs {
			v, err := value.FromText(value.Kind(vr.Kind), vr.Raw)
			if err != nil {
				return nil, fmt.Errorf("entry %d attribute %q: %w", rec.ID, name, err)
			}
			e.Add(name, v)
		}
	}
	e.SetID(rec.ID)
	return e, nil
}

// MarshalEntry serializes an entry for storage.
func MarshalEntry(e *entry.Entry) ([]byte, error) {
	data, err := cbor.Marshal(NewEntryRecord(e))
	if err != nil {
		return nil, fmt.Errorf("marshal entry %d: %w", e.ID(), err)
	}
	return data, nil
}

// UnmarshalEntry deserializes a stored entry.
func UnmarshalEntry(data []byte) (*entry.Entry, error) {
	var rec EntryRecord
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal entry record: %w", err)
	}
	return rec.Entry()
}

// MarshalMeta serializes the metadata record.
func MarshalMeta(m MetaRecord) ([]byte, error) {
	data, err := cbor.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal meta record: %w", err)
	}
	return data, nil
}

// UnmarshalMeta deserializes the metadata record.
func UnmarshalMeta(data []byte) (MetaRecord, error) {
	var m MetaRecord
	if err := cbor.Unmarshal(data, &m); err != nil {
		return MetaRecord{}, fmt.Errorf("unmarshal meta record: %w", err)
	}
	return m, nil
}
