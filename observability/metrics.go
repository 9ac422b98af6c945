// Package observability counts store operations and reports them
// periodically through slog.
package observability

import (
	"context"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"
)

// Stats is one snapshot of the counters plus process memory figures.
type Stats struct {
	Sends            uint64 `json:"sends"`
	Replies          uint64 `json:"replies"`
	Broadcasts       uint64 `json:"broadcasts"`
	ContactWrites    uint64 `json:"contact_writes"`
	VersionConflicts uint64 `json:"version_conflicts"`
	Searches         uint64 `json:"searches"`
	AllocMemMb       uint64 `json:"alloc_mem_mb"`
	NumGC            uint32 `json:"num_gc"`
}

// Metrics accumulates operation counters. All methods are safe for
// concurrent use and safe on a nil receiver, so callers need no guard
// when metrics are not configured.
type Metrics struct {
	log *slog.Logger

	sends            atomic.Uint64
	replies          atomic.Uint64
	broadcasts       atomic.Uint64
	contactWrites    atomic.Uint64
	versionConflicts atomic.Uint64
	searches         atomic.Uint64
}

func NewMetrics(log *slog.Logger) *Metrics {
	return &Metrics{log: log}
}

func (m *Metrics) IncrSends() {
	if m != nil {
		m.sends.Add(1)
	}
}

func (m *Metrics) IncrReplies() {
	if m != nil {
		m.replies.Add(1)
	}
}

func (m *Metrics) IncrBroadcasts() {
	if m != nil {
		m.broadcasts.Add(1)
	}
}

func (m *Metrics) IncrContactWrites() {
	if m != nil {
		m.contactWrites.Add(1)
	}
}

func (m *Metrics) IncrVersionConflicts() {
	if m != nil {
		m.versionConflicts.Add(1)
	}
}

func (m *Metrics) IncrSearches() {
	if m != nil {
		m.searches.Add(1)
	}
}

// Snapshot reads the counters and current memory stats.
func (m *Metrics) Snapshot() Stats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return Stats{
		Sends:            m.sends.Load(),
		Replies:          m.replies.Load(),
		Broadcasts:       m.broadcasts.Load(),
		ContactWrites:    m.contactWrites.Load(),
		VersionConflicts: m.versionConflicts.Load(),
		Searches:         m.searches.Load(),
		AllocMemMb:       mem.Alloc / 1024 / 1024,
		NumGC:            mem.NumGC,
	}
}

// Report logs a snapshot every interval until ctx is done.
func (m *Metrics) Report(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := m.Snapshot()
			m.log.Info("store metrics",
				"sends", stats.Sends,
				"replies", stats.Replies,
				"broadcasts", stats.Broadcasts,
				"contact_writes", stats.ContactWrites,
				"version_conflicts", stats.VersionConflicts,
				"searches", stats.Searches,
				"alloc_mem_mb", stats.AllocMemMb,
				"num_gc", stats.NumGC,
			)
		}
	}
}
