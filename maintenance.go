package dirgo

import (
	"context"
	"errors"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/dirgo/blobstore"
)

// MaintenanceConfig configures the background janitor started by
// StartMaintenance.
type MaintenanceConfig struct {
	// Interval between maintenance cycles. Defaults to 5 minutes.
	Interval time.Duration

	// Backup, if set, takes an online backup at the end of every cycle.
	Backup *OnlineBackupConfig
}

// OnlineBackupConfig describes the periodic archives the janitor takes.
type OnlineBackupConfig struct {
	// Store receives the archives.
	Store blobstore.Store

	// Prefix names the archives; the creation timestamp is appended.
	Prefix string

	// Versions is how many archives to keep. Older ones are pruned
	// after a successful backup. Zero keeps everything.
	Versions int
}

// archiveTimeFormat keeps lexical order equal to age order. Millisecond
// precision keeps names distinct under short cycle intervals.
const archiveTimeFormat = "20060102T150405.000Z"

type maintHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// StartMaintenance runs a periodic cycle that reaps tombstones and, if
// configured, takes and rotates online backups. Recycled entries are
// never purged automatically; emptying the recycle bin is an explicit
// administrative action.
//
// The returned stop function halts the cycle and waits for an in-flight
// one to finish. Close stops maintenance as well.
func (s *Server) StartMaintenance(cfg MaintenanceConfig) (func(), error) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &maintHandle{cancel: cancel, done: make(chan struct{})}

	s.maintMu.Lock()
	if s.maint != nil {
		s.maintMu.Unlock()
		cancel()
		return nil, errors.New("maintenance already running")
	}
	s.maint = h
	s.maintMu.Unlock()

	go s.maintenanceLoop(ctx, h, interval, cfg.Backup)

	return func() { s.stopMaintenance(h) }, nil
}

func (s *Server) stopMaintenance(h *maintHandle) {
	s.maintMu.Lock()
	if s.maint == h {
		s.maint = nil
	}
	s.maintMu.Unlock()

	h.cancel()
	<-h.done
}

func (s *Server) maintenanceLoop(ctx context.Context, h *maintHandle, interval time.Duration, backup *OnlineBackupConfig) {
	defer close(h.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.maintain(ctx, backup)
		}
	}
}

// maintain runs one cycle. Failures are logged by the operations
// themselves and do not stop future cycles.
func (s *Server) maintain(ctx context.Context, cfg *OnlineBackupConfig) {
	_ = s.PurgeTombstones(ctx)

	if cfg == nil || cfg.Store == nil {
		return
	}

	name := cfg.Prefix + time.Now().UTC().Format(archiveTimeFormat) + ".bak"
	if err := s.Backup(ctx, cfg.Store, name); err != nil {
		return
	}
	if err := s.pruneArchives(ctx, cfg); err != nil {
		s.logger.WarnContext(ctx, "archive rotation failed", "error", err)
	}
}

// pruneArchives deletes the oldest archives beyond the configured
// version count. Archive names embed their creation time, so lexical
// order is age order.
func (s *Server) pruneArchives(ctx context.Context, cfg *OnlineBackupConfig) error {
	if cfg.Versions <= 0 {
		return nil
	}

	names, err := cfg.Store.List(ctx, cfg.Prefix)
	if err != nil {
		return err
	}
	if len(names) <= cfg.Versions {
		return nil
	}

	sort.Strings(names)
	stale := names[:len(names)-cfg.Versions]

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, name := range stale {
		g.Go(func() error {
			return cfg.Store.Delete(ctx, name)
		})
	}
	return g.Wait()
}
