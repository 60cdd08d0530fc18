package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds operational limits.
type Config struct {
	// MaxConcurrentSearches caps the number of in-flight search
	// operations. If 0, searches are admitted without limit.
	MaxConcurrentSearches int64

	// MaxBackgroundJobs is the maximum number of concurrent maintenance
	// jobs (purges, backups, restores). If 0, defaults to 1.
	MaxBackgroundJobs int64

	// IOLimitBytesPerSec is the maximum throughput for archive streaming.
	// If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Controller manages operational resources (search admission,
// background concurrency, archive IO).
type Controller struct {
	cfg Config

	// Search admission
	searchSem *semaphore.Weighted // nil if unlimited
	inflight  atomic.Int64

	// Background jobs
	bgSem *semaphore.Weighted

	// Archive IO
	ioLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxBackgroundJobs <= 0 {
		cfg.MaxBackgroundJobs = 1
	}

	c := &Controller{
		cfg:   cfg,
		bgSem: semaphore.NewWeighted(cfg.MaxBackgroundJobs),
	}

	if cfg.MaxConcurrentSearches > 0 {
		c.searchSem = semaphore.NewWeighted(cfg.MaxConcurrentSearches)
	}

	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}

	return c
}

// AcquireSearch admits one search operation.
// If a limit is configured and reached, this blocks until a slot frees
// up or ctx is canceled.
func (c *Controller) AcquireSearch(ctx context.Context) error {
	if c == nil {
		return nil
	}

	if c.searchSem != nil {
		if err := c.searchSem.Acquire(ctx, 1); err != nil {
			return err
		}
	}

	c.inflight.Add(1)
	return nil
}

// TryAcquireSearch admits one search operation without blocking.
// Returns true if admitted, false if the limit is reached.
func (c *Controller) TryAcquireSearch() bool {
	if c == nil {
		return true
	}

	if c.searchSem != nil {
		if !c.searchSem.TryAcquire(1) {
			return false
		}
	}

	c.inflight.Add(1)
	return true
}

// ReleaseSearch releases a search admission slot.
func (c *Controller) ReleaseSearch() {
	if c == nil {
		return
	}

	if c.searchSem != nil {
		c.searchSem.Release(1)
	}
	c.inflight.Add(-1)
}

// InflightSearches returns the number of currently admitted searches.
func (c *Controller) InflightSearches() int64 {
	return c.inflight.Load()
}

// AcquireBackground attempts to reserve a background job slot.
// Blocks if all slots are busy.
func (c *Controller) AcquireBackground(ctx context.Context) error {
	return c.bgSem.Acquire(ctx, 1)
}

// TryAcquireBackground attempts to reserve a background job slot without blocking.
func (c *Controller) TryAcquireBackground() bool {
	return c.bgSem.TryAcquire(1)
}

// ReleaseBackground releases a background job slot.
func (c *Controller) ReleaseBackground() {
	c.bgSem.Release(1)
}

// AcquireIO waits until the IO limit allows the specified number of bytes.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c.ioLimiter == nil {
		return nil
	}
	return c.ioLimiter.WaitN(ctx, bytes)
}
