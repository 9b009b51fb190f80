package batchring

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Ring is a lock-free ring of batches.
//
// head, tail and claim are logical counters that only ever grow; they are
// masked into a batch index at the last moment. head-tail is always in
// [0, N]: 0 means nothing is waiting to be reclaimed, N means every batch is
// occupied and head cannot advance.
type Ring struct {
	_     cpu.CacheLinePad
	head  atomic.Uint64 // batch accepting appends, updated by producers
	_     cpu.CacheLinePad
	tail  atomic.Uint64 // oldest batch not yet reclaimed, published by consumers
	_     cpu.CacheLinePad
	claim atomic.Uint64 // tail+1 while a consumer owns the tail batch, tail otherwise
	_     cpu.CacheLinePad

	mask    uint64
	size    uint64
	batches []Batch

	minSpins uint32
	maxSpins uint32

	stats counters
}

// Option configures a Ring.
type Option func(*Ring)

// WithBackoff sets the spin bounds used when producers collide on a head
// advance.
func WithBackoff(minSpins, maxSpins uint32) Option {
	NewBackoff(minSpins, maxSpins) // validate eagerly
	return func(r *Ring) {
		r.minSpins = minSpins
		r.maxSpins = maxSpins
	}
}

// New creates a ring of batches batches, each holding capacity records of
// recordSize bytes. batches must be a power of two (1<<k).
func New(batches, recordSize, capacity int, opts ...Option) *Ring {
	if batches <= 0 || !isPowerOfTwo(uint64(batches)) {
		panic(fmt.Sprintf("batchring: number of batches must be power of 2 and > 0, got %d", batches))
	}

	r := &Ring{
		mask:     uint64(batches - 1),
		size:     uint64(batches),
		batches:  make([]Batch, batches),
		minSpins: defaultMinSpins,
		maxSpins: defaultMaxSpins,
	}
	for i := range r.batches {
		r.batches[i].init(recordSize, capacity)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Append copies record into the current batch, moving head to the next batch
// when the current one is full. It returns ErrAllBuffersFull when every batch
// is occupied. May be called concurrently from many goroutines.
func (r *Ring) Append(record []byte) (Slot, error) {
	var bo Backoff
	for {
		head := r.head.Load()
		b := &r.batches[head&r.mask]

		// Optimistic fast path: no CAS unless the batch is full.
		idx, err := b.Append(record)
		if err == nil {
			if uint64(idx) == b.capacity-1 {
				// We took the last slot; move producers on without waiting
				// for the next one to bounce off this batch.
				r.advance(head)
			}
			return Slot{Batch: head, Index: idx}, nil
		}
		r.stats.rejected.Add(1)

		tail := r.tail.Load()
		if r.head.Load() != head {
			// Someone already advanced; head is no longer comparable to tail.
			continue
		}
		if head-tail >= r.size {
			r.stats.allBuffersFull.Add(1)
			return Slot{}, ErrAllBuffersFull
		}

		if r.head.CompareAndSwap(head, head+1) {
			r.stats.advances.Add(1)
			continue
		}

		r.stats.advanceCollisions.Add(1)
		if bo.max == 0 {
			bo = NewBackoff(r.minSpins, r.maxSpins)
		}
		bo.Wait()
	}
}

// advance moves head past a batch whose last slot was just taken, if a free
// batch is available. Losing the CAS is fine: someone else moved it.
func (r *Ring) advance(head uint64) {
	tail := r.tail.Load()
	if head < tail || head-tail >= r.size {
		return
	}
	if r.head.CompareAndSwap(head, head+1) {
		r.stats.advances.Add(1)
	}
}

// Claim takes exclusive ownership of the oldest batch if it is ready and
// returns it together with its logical sequence. The caller reads the batch
// and then calls Release (or Unclaim to give it back untouched).
//
// ErrNotReady means nothing is pending, the oldest batch still has writes in
// flight, or another consumer holds it. Safe to call from many goroutines.
func (r *Ring) Claim() (*Batch, uint64, error) {
	tail := r.tail.Load()
	head := r.head.Load()
	if tail == head {
		// A producer that loaded head before the batch was recycled may have
		// taken its last slot without being able to advance head. Nobody else
		// would bounce off that batch once producers stop, so help them.
		if !r.batches[head&r.mask].IsFull() || !r.head.CompareAndSwap(head, head+1) {
			r.stats.reclaimMisses.Add(1)
			return nil, 0, ErrNotReady
		}
		r.stats.advances.Add(1)
	}

	b := &r.batches[tail&r.mask]
	if !b.IsReady() {
		r.stats.reclaimMisses.Add(1)
		return nil, 0, ErrNotReady
	}

	// claim == tail only while no consumer owns the tail batch, so winning
	// this CAS also proves tail has not moved since we loaded it.
	if !r.claim.CompareAndSwap(tail, tail+1) {
		r.stats.reclaimCollisions.Add(1)
		return nil, 0, ErrNotReady
	}
	return b, tail, nil
}

// Release resets the batch claimed as seq and hands it back to producers by
// advancing tail. Any view obtained from the batch is invalid afterwards.
func (r *Ring) Release(seq uint64) {
	r.mustOwn(seq)
	r.batches[seq&r.mask].Reset()
	// Publishing tail only after the reset keeps head from advancing into a
	// batch that still holds the previous generation.
	r.tail.Store(seq + 1)
	r.stats.reclaims.Add(1)
}

// Unclaim gives the batch claimed as seq back without resetting it. It stays
// the oldest pending batch.
func (r *Ring) Unclaim(seq uint64) {
	r.mustOwn(seq)
	r.claim.Store(seq)
}

func (r *Ring) mustOwn(seq uint64) {
	if r.claim.Load() != seq+1 || r.tail.Load() != seq {
		panic(fmt.Sprintf("batchring: batch %d is not claimed", seq))
	}
}

// Reclaim resets the oldest batch and advances tail. Read the batch (Peek or
// Claim) before reclaiming it: the data is gone afterwards.
func (r *Ring) Reclaim() error {
	_, seq, err := r.Claim()
	if err != nil {
		return err
	}
	r.Release(seq)
	return nil
}

// Peek returns the oldest pending batch and its sequence without claiming
// it. The batch may not be ready yet; check IsReady or use Read.
func (r *Ring) Peek() (*Batch, uint64, bool) {
	tail := r.tail.Load()
	if tail == r.head.Load() {
		return nil, 0, false
	}
	return &r.batches[tail&r.mask], tail, true
}

// Batch returns the batch a logical sequence maps to.
func (r *Ring) Batch(seq uint64) *Batch {
	return &r.batches[seq&r.mask]
}

// Head returns the logical sequence of the batch accepting appends.
func (r *Ring) Head() uint64 {
	return r.head.Load()
}

// Tail returns the logical sequence of the oldest unreclaimed batch.
func (r *Ring) Tail() uint64 {
	return r.tail.Load()
}

// Len returns the number of batches waiting to be reclaimed.
func (r *Ring) Len() int {
	// tail first: head only grows, so the later load can never be behind it.
	tail := r.tail.Load()
	return int(r.head.Load() - tail)
}

// Cap returns the number of batches.
func (r *Ring) Cap() int {
	return int(r.size)
}
