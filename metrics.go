package dirgo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    searchCounter   prometheus.Counter
//	    searchHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordSearch(returned int, duration time.Duration, err error) {
//	    p.searchCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordSearch is called after each search operation.
	// returned is the number of entries returned after access reduction,
	// duration is the time taken, err is nil if successful.
	RecordSearch(returned int, duration time.Duration, err error)

	// RecordCreate is called after each create operation.
	// count is the number of entries in the request.
	RecordCreate(count int, duration time.Duration, err error)

	// RecordModify is called after each modify operation.
	// count is the number of entries changed.
	RecordModify(count int, duration time.Duration, err error)

	// RecordDelete is called after each delete (recycle) operation.
	RecordDelete(count int, duration time.Duration, err error)

	// RecordPurge is called after each recycle-bin or tombstone purge.
	// kind is "recycled" or "tombstone".
	RecordPurge(kind string, count int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordSearch(int, time.Duration, error)        {}
func (NoopMetricsCollector) RecordCreate(int, time.Duration, error)        {}
func (NoopMetricsCollector) RecordModify(int, time.Duration, error)        {}
func (NoopMetricsCollector) RecordDelete(int, time.Duration, error)        {}
func (NoopMetricsCollector) RecordPurge(string, int, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64
	CreateCount      atomic.Int64
	CreateErrors     atomic.Int64
	CreateEntries    atomic.Int64
	ModifyCount      atomic.Int64
	ModifyErrors     atomic.Int64
	ModifyEntries    atomic.Int64
	DeleteCount      atomic.Int64
	DeleteErrors     atomic.Int64
	PurgeCount       atomic.Int64
	PurgeErrors      atomic.Int64
	PurgedEntries    atomic.Int64
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(returned int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordCreate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCreate(count int, duration time.Duration, err error) {
	b.CreateCount.Add(1)
	if err != nil {
		b.CreateErrors.Add(1)
		return
	}
	b.CreateEntries.Add(int64(count))
}

// RecordModify implements MetricsCollector.
func (b *BasicMetricsCollector) RecordModify(count int, duration time.Duration, err error) {
	b.ModifyCount.Add(1)
	if err != nil {
		b.ModifyErrors.Add(1)
		return
	}
	b.ModifyEntries.Add(int64(count))
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(count int, duration time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordPurge implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPurge(kind string, count int, duration time.Duration, err error) {
	b.PurgeCount.Add(1)
	if err != nil {
		b.PurgeErrors.Add(1)
		return
	}
	b.PurgedEntries.Add(int64(count))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		SearchCount:    b.SearchCount.Load(),
		SearchErrors:   b.SearchErrors.Load(),
		SearchAvgNanos: b.getAvgSearchNanos(),
		CreateCount:    b.CreateCount.Load(),
		CreateErrors:   b.CreateErrors.Load(),
		CreateEntries:  b.CreateEntries.Load(),
		ModifyCount:    b.ModifyCount.Load(),
		ModifyErrors:   b.ModifyErrors.Load(),
		ModifyEntries:  b.ModifyEntries.Load(),
		DeleteCount:    b.DeleteCount.Load(),
		DeleteErrors:   b.DeleteErrors.Load(),
		PurgeCount:     b.PurgeCount.Load(),
		PurgeErrors:    b.PurgeErrors.Load(),
		PurgedEntries:  b.PurgedEntries.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgSearchNanos() int64 {
	count := b.SearchCount.Load()
	if count == 0 {
		return 0
	}
	return b.SearchTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	SearchCount    int64
	SearchErrors   int64
	SearchAvgNanos int64
	CreateCount    int64
	CreateErrors   int64
	CreateEntries  int64
	ModifyCount    int64
	ModifyErrors   int64
	ModifyEntries  int64
	DeleteCount    int64
	DeleteErrors   int64
	PurgeCount     int64
	PurgeErrors    int64
	PurgedEntries  int64
}
