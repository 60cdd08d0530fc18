// Package dirgo provides an embedded transactional directory server
// engine for Go.
//
// Dirgo stores identity data (people, groups, system configuration) as
// schema-validated attribute/value entries and serves searches and writes
// with full ACID semantics:
//
//   - MVCC snapshots: reads never block and run against an immutable
//     generation published by an atomic pointer swap
//   - Single-writer transactions with copy-on-write secondary indexes
//     (Roaring Bitmap ID lists) persisted in bbolt
//   - Recursive boolean filters (eq, sub, pres, and, or, andNot, selfUuid)
//     resolved against the indexes with exact match verification
//   - Schema as data: attribute and class definitions are entries in the
//     directory and reload atomically at the commit that changes them
//   - Constraint plugins on every write: uuid assignment, attribute
//     uniqueness, referential integrity and derived (recursive) group
//     membership
//   - Deny-by-default access control profiles, also stored as entries,
//     with attribute-level reduction of search results
//   - Soft-delete lifecycle: delete recycles, revive restores (group
//     membership included), purge tombstones and finally reaps
//   - Online backup and restore as zstd-compressed archives on pluggable
//     blob stores, with optional IO throttling
//
// # Quick Start
//
// Open a server on a database file and install the baseline data:
//
//	s, err := dirgo.Open("directory.db")
//	if err != nil {
//	    panic(err)
//	}
//	defer s.Close()
//
//	ctx := context.Background()
//	if err := s.Initialize(ctx); err != nil {
//	    panic(err)
//	}
//
// Create entries and search them back:
//
//	err = s.InternalCreate(ctx,
//	    entry.New(
//	        entry.A("class", "object", "person"),
//	        entry.A("name", "alice"),
//	        entry.A("displayname", "Alice Example"),
//	    ),
//	)
//
//	results, err := s.InternalSearch(ctx, filter.Eq("name", "alice"))
//
// Operations on behalf of a user are checked against the access control
// profiles in force:
//
//	accounts, err := s.InternalSearch(ctx, filter.Eq("name", "admin"))
//	ident := access.User(accounts[0])
//
//	visible, err := s.Search(ctx, ident, filter.Pres("class"))
//
// # Configuration
//
// Behavior is adjusted through options:
//
//	s, err := dirgo.Open("directory.db",
//	    dirgo.WithLogLevel(slog.LevelInfo),
//	    dirgo.WithMetricsCollector(&dirgo.BasicMetricsCollector{}),
//	    dirgo.WithResourceLimits(resource.Config{
//	        MaxConcurrentSearches: 64,
//	        IOLimitBytesPerSec:    8 << 20,
//	    }),
//	)
package dirgo

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/dirgo/access"
	"github.com/hupe1980/dirgo/backend"
	"github.com/hupe1980/dirgo/backend/kvstore"
	"github.com/hupe1980/dirgo/entry"
	"github.com/hupe1980/dirgo/filter"
	"github.com/hupe1980/dirgo/plugin"
	"github.com/hupe1980/dirgo/resource"
	"github.com/hupe1980/dirgo/schema"
)

// Server is the directory server engine. All methods are safe for
// concurrent use; writes are serialized internally.
type Server struct {
	be       *backend.Backend
	pipeline *plugin.Pipeline
	res      *resource.Controller
	metrics  MetricsCollector
	logger   *Logger
	domain   string

	maintMu sync.Mutex
	maint   *maintHandle
}

// New creates a server over the given key-value store.
func New(store kvstore.Store, optFns ...Option) (*Server, error) {
	opts := applyOptions(optFns)

	be, err := backend.New(store, func(o *backend.Options) {
		o.Logger = opts.logger.Logger
	})
	if err != nil {
		return nil, err
	}

	return &Server{
		be:       be,
		pipeline: opts.pipeline,
		res:      resource.NewController(opts.resources),
		metrics:  opts.metricsCollector,
		logger:   opts.logger,
		domain:   opts.domain,
	}, nil
}

// Open creates a server over a bbolt database file, creating the file if
// it does not exist.
func Open(path string, optFns ...Option) (*Server, error) {
	store, err := kvstore.OpenBolt(path)
	if err != nil {
		return nil, err
	}

	s, err := New(store, optFns...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return s, nil
}

// Schema returns the schema of the current snapshot.
func (s *Server) Schema() *schema.Schema {
	return s.be.Read().Schema()
}

// ServerUUID returns the stable identity of this server instance, minted
// when its store was first created. A restore adopts the identity of the
// archive.
func (s *Server) ServerUUID() uuid.UUID {
	return s.be.ServerUUID()
}

// Serial returns the current generation number. It increases by one with
// every committed write and is a cheap way to observe change.
func (s *Server) Serial() uint64 {
	return s.be.Read().Serial()
}

// withoutHidden scopes a filter to live entries. Tombstoned and recycled
// entries never match ordinary operations, whoever asks.
func withoutHidden(f *filter.Filter) *filter.Filter {
	return filter.And(f, filter.AndNot(filter.Or(
		filter.Eq(entry.AttrClass, entry.ClassTombstone),
		filter.Eq(entry.AttrClass, entry.ClassRecycled),
	)))
}

// recycledOnly scopes a filter to the recycle bin.
func recycledOnly(f *filter.Filter) *filter.Filter {
	return filter.And(f,
		filter.Eq(entry.AttrClass, entry.ClassRecycled),
		filter.AndNot(filter.Eq(entry.AttrClass, entry.ClassTombstone)),
	)
}

// validateFor validates the filter against the schema and resolves self
// terms for the acting identity. The internal identity has no entry of
// its own, so a self term under it is an error rather than a silent
// non-match.
func validateFor(f *filter.Filter, ident access.Identity, sch *schema.Schema) (*filter.Filter, error) {
	vf, err := f.Validate(sch)
	if err != nil {
		return nil, err
	}
	if vf.HasSelf() {
		if ident.IsInternal() {
			return nil, fmt.Errorf("%w: self term requires a user identity", ErrInvalidFilter)
		}
		vf = vf.ResolveSelf(ident.UUID())
	}
	return vf, nil
}

// SearchOptions adjust a single search operation.
type SearchOptions struct {
	// Attrs projects results down to the named attributes. Empty means
	// every attribute the identity may read.
	Attrs []string
}

// Search returns the live entries matching the filter that the identity
// is allowed to see, with attributes reduced to what the access profiles
// grant.
//
// Results for a user identity are reduced copies and safe to hold on to.
// Results for the internal identity share the snapshot's entry state and
// must be cloned before any mutation.
func (s *Server) Search(ctx context.Context, ident access.Identity, f *filter.Filter, optFns ...func(o *SearchOptions)) ([]*entry.Entry, error) {
	start := time.Now()

	out, err := s.search(ctx, ident, f, optFns)

	s.metrics.RecordSearch(len(out), time.Since(start), err)
	s.logger.LogSearch(ctx, ident, len(out), err)

	return out, err
}

// InternalSearch runs a search as the server itself: no access filtering,
// no attribute reduction, but still scoped to live entries.
func (s *Server) InternalSearch(ctx context.Context, f *filter.Filter, optFns ...func(o *SearchOptions)) ([]*entry.Entry, error) {
	return s.Search(ctx, access.Internal(), f, optFns...)
}

func (s *Server) search(ctx context.Context, ident access.Identity, f *filter.Filter, optFns []func(o *SearchOptions)) ([]*entry.Entry, error) {
	var opts SearchOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := s.res.AcquireSearch(ctx); err != nil {
		return nil, err
	}
	defer s.res.ReleaseSearch()

	r := s.be.Read()

	vf, err := validateFor(withoutHidden(f), ident, r.Schema())
	if err != nil {
		return nil, err
	}

	matched, err := r.Search(ctx, vf)
	if err != nil {
		return nil, err
	}
	out := r.Policy().ReduceSearch(ident, matched)

	if len(opts.Attrs) > 0 {
		allowed := make(map[string]struct{}, len(opts.Attrs))
		for _, a := range opts.Attrs {
			allowed[strings.ToLower(a)] = struct{}{}
		}
		for i, e := range out {
			out[i] = e.Reduce(allowed)
		}
	}
	return out, nil
}

// Exists reports whether the identity can see at least one live entry
// matching the filter. It never reveals more than that one bit.
func (s *Server) Exists(ctx context.Context, ident access.Identity, f *filter.Filter) (bool, error) {
	if err := s.res.AcquireSearch(ctx); err != nil {
		return false, err
	}
	defer s.res.ReleaseSearch()

	r := s.be.Read()

	vf, err := validateFor(withoutHidden(f), ident, r.Schema())
	if err != nil {
		return false, err
	}

	if ident.IsInternal() {
		return r.Exists(ctx, vf)
	}

	// Visibility needs the policy verdict per entry, so the candidates
	// are materialized and filtered rather than probed.
	matched, err := r.Search(ctx, vf)
	if err != nil {
		return false, err
	}
	return len(r.Policy().FilterSearch(ident, matched)) > 0, nil
}

// InternalExists reports whether at least one live entry matches the
// filter, bypassing access control.
func (s *Server) InternalExists(ctx context.Context, f *filter.Filter) (bool, error) {
	return s.Exists(ctx, access.Internal(), f)
}

// NameToUUID resolves an entry name to its uuid. A string that already
// parses as a uuid resolves to itself, so callers can accept either form.
func (s *Server) NameToUUID(ctx context.Context, name string) (uuid.UUID, error) {
	if u, err := uuid.Parse(name); err == nil {
		return u, nil
	}

	r := s.be.Read()

	vf, err := withoutHidden(filter.Eq(entry.AttrName, name)).Validate(r.Schema())
	if err != nil {
		return uuid.Nil, err
	}
	es, err := r.Search(ctx, vf)
	if err != nil {
		return uuid.Nil, err
	}

	switch len(es) {
	case 0:
		return uuid.Nil, fmt.Errorf("%w: name %q", ErrNoMatchingEntries, name)
	case 1:
		u, ok := es[0].UUID()
		if !ok {
			return uuid.Nil, fmt.Errorf("%w: entry named %q has no uuid", ErrInvalidState, name)
		}
		return u, nil
	default:
		return uuid.Nil, fmt.Errorf("%w: name %q is held by %d entries", ErrInvalidState, name, len(es))
	}
}

// UUIDToName resolves an entry uuid to its name.
func (s *Server) UUIDToName(ctx context.Context, u uuid.UUID) (string, error) {
	r := s.be.Read()

	vf, err := withoutHidden(filter.Eq(entry.AttrUUID, u)).Validate(r.Schema())
	if err != nil {
		return "", err
	}
	es, err := r.Search(ctx, vf)
	if err != nil {
		return "", err
	}

	switch len(es) {
	case 0:
		return "", fmt.Errorf("%w: uuid %s", ErrNotFound, u)
	case 1:
		name, ok := es[0].OneText(entry.AttrName)
		if !ok {
			return "", fmt.Errorf("%w: entry %s has no name", ErrNotFound, u)
		}
		return name, nil
	default:
		return "", fmt.Errorf("%w: uuid %s is held by %d entries", ErrInvalidState, u, len(es))
	}
}
