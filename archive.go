package dirgo

import (
	"context"
	"slices"

	"github.com/hupe1980/dirgo/backend/kvstore"
	"github.com/hupe1980/dirgo/backup"
	"github.com/hupe1980/dirgo/blobstore"
	"github.com/hupe1980/dirgo/resource"
)

// Backup writes a consistent snapshot of the whole database to the blob
// store under the given name. The snapshot is taken atomically; writes
// committed after Backup starts do not appear in the archive. The upload
// counts against the background job and IO budgets.
func (s *Server) Backup(ctx context.Context, store blobstore.Store, name string) error {
	n, err := s.backup(ctx, store, name)

	s.logger.LogBackup(ctx, name, n, err)

	return err
}

func (s *Server) backup(ctx context.Context, store blobstore.Store, name string) (int, error) {
	if err := s.res.AcquireBackground(ctx); err != nil {
		return 0, err
	}
	defer s.res.ReleaseBackground()

	r := s.be.Read()
	entries := slices.Collect(r.Entries())
	meta := kvstore.MetaRecord{
		IDMax:      r.IDMax(),
		ServerUUID: s.be.ServerUUID().String(),
	}

	blob, err := store.Create(ctx, name)
	if err != nil {
		return 0, err
	}

	w := resource.NewRateLimitedWriter(ctx, blob, s.res)
	if err := backup.Write(ctx, w, meta, entries); err != nil {
		_ = blob.Abort()
		return 0, err
	}
	if err := blob.Close(); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Restore replaces the entire database with the contents of the named
// archive: entries, internal IDs and the server identity included.
// Indexes are rebuilt from scratch and the schema and access policy
// reload from the restored entries.
//
// Restore is for disaster recovery and seeding fresh instances; it does
// not merge. Anything in the current database is dropped.
func (s *Server) Restore(ctx context.Context, store blobstore.Store, name string) error {
	n, err := s.restore(ctx, store, name)

	s.logger.LogRestore(ctx, name, n, err)

	return err
}

func (s *Server) restore(ctx context.Context, store blobstore.Store, name string) (int, error) {
	if err := s.res.AcquireBackground(ctx); err != nil {
		return 0, err
	}
	defer s.res.ReleaseBackground()

	blob, err := store.Open(ctx, name)
	if err != nil {
		return 0, err
	}
	defer blob.Close()

	meta, entries, err := backup.Read(ctx, resource.NewRateLimitedReader(ctx, blob, s.res))
	if err != nil {
		return 0, err
	}

	if err := s.be.Restore(ctx, meta, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}
