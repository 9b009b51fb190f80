package batchring

import "sync/atomic"

// Stats is a snapshot of the ring counters. Only batch-boundary events are
// counted, the per-record fast path stays free of shared writes.
type Stats struct {
	Rejected          uint64 `json:"rejected"`           // appends that found the head batch full
	Advances          uint64 `json:"advances"`           // successful head advances
	AdvanceCollisions uint64 `json:"advance_collisions"` // head CAS lost to another producer
	AllBuffersFull    uint64 `json:"all_buffers_full"`
	Reclaims          uint64 `json:"reclaims"`
	ReclaimMisses     uint64 `json:"reclaim_misses"`     // nothing pending or tail batch not ready
	ReclaimCollisions uint64 `json:"reclaim_collisions"` // claim CAS lost to another consumer
}

type counters struct {
	rejected          atomic.Uint64
	advances          atomic.Uint64
	advanceCollisions atomic.Uint64
	allBuffersFull    atomic.Uint64
	reclaims          atomic.Uint64
	reclaimMisses     atomic.Uint64
	reclaimCollisions atomic.Uint64
}

// Stats retrieves the current statistics of the ring.
func (r *Ring) Stats() Stats {
	return Stats{
		Rejected:          r.stats.rejected.Load(),
		Advances:          r.stats.advances.Load(),
		AdvanceCollisions: r.stats.advanceCollisions.Load(),
		AllBuffersFull:    r.stats.allBuffersFull.Load(),
		Reclaims:          r.stats.reclaims.Load(),
		ReclaimMisses:     r.stats.reclaimMisses.Load(),
		ReclaimCollisions: r.stats.reclaimCollisions.Load(),
	}
}
