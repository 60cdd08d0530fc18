// Package entry implements the directory record model.
//
// An Entry maps attribute names to ordered sets of typed values. Entries move
// through a small lifecycle: live entries answer searches, recycled entries
// are soft-deleted and revivable, tombstones are minimal markers kept for
// index and replication bookkeeping until purged.
//
// Entries are plain data: validation rules live in the schema package and all
// storage concerns live in the backend. Committed entries are shared between
// snapshots and must never be mutated; use Clone before applying changes.
package entry
