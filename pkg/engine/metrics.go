package engine

import (
	"sync/atomic"
	"time"

	"github.com/wehubfusion/Talos/internal/arena"
)

// Metrics accumulates engine activity across batches. All methods are safe
// for concurrent use.
type Metrics struct {
	batches        atomic.Int64
	sequential     atomic.Int64
	parallel       atomic.Int64
	failed         atomic.Int64
	elements       atomic.Int64
	arenaResets    atomic.Int64
	arenaFrees     atomic.Int64
	peakArenaBytes atomic.Int64
	totalTimeNs    atomic.Int64
}

// Stats is a snapshot of Metrics.
type Stats struct {
	Batches           int64
	SequentialBatches int64
	ParallelBatches   int64
	FailedBatches     int64
	Elements          int64
	ArenaResets       int64
	ArenaFrees        int64
	PeakArenaBytes    int64
	TotalTime         time.Duration
}

func (m *Metrics) recordArena(s arena.Stats) {
	m.arenaResets.Add(int64(s.Resets))
	m.arenaFrees.Add(int64(s.Frees))
	for {
		peak := m.peakArenaBytes.Load()
		if int64(s.PeakCapacity) <= peak || m.peakArenaBytes.CompareAndSwap(peak, int64(s.PeakCapacity)) {
			return
		}
	}
}

func (m *Metrics) recordBatch(parallel bool, elements int, d time.Duration, err error) {
	m.batches.Add(1)
	if parallel {
		m.parallel.Add(1)
	} else {
		m.sequential.Add(1)
	}
	if err != nil {
		m.failed.Add(1)
	} else {
		m.elements.Add(int64(elements))
	}
	m.totalTimeNs.Add(d.Nanoseconds())
}

// Snapshot returns the current counters.
func (m *Metrics) Snapshot() Stats {
	return Stats{
		Batches:           m.batches.Load(),
		SequentialBatches: m.sequential.Load(),
		ParallelBatches:   m.parallel.Load(),
		FailedBatches:     m.failed.Load(),
		Elements:          m.elements.Load(),
		ArenaResets:       m.arenaResets.Load(),
		ArenaFrees:        m.arenaFrees.Load(),
		PeakArenaBytes:    m.peakArenaBytes.Load(),
		TotalTime:         time.Duration(m.totalTimeNs.Load()),
	}
}
