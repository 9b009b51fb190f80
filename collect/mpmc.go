package collect

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Original algorithm by Dmitry Vyukov
// https://www.1024cores.net/home/lock-free-algorithms/queues/bounded-mpmc-queue

// cell pairs a value with the sequence number that says whose turn it is:
// seq == pos means free for the producer at pos, seq == pos+1 means filled
// for the consumer at pos.
type cell[T any] struct {
	seq atomic.Uint64
	val T
}

// MPMC is a bounded, lock-free multi-producer multi-consumer FIFO.
// The collector keeps its spare copy buffers in one.
type MPMC[T any] struct {
	_    cpu.CacheLinePad
	mask uint64
	size uint64
	ring []cell[T]
	_    cpu.CacheLinePad
	tail atomic.Uint64 // next position to fill (producers)
	_    cpu.CacheLinePad
	head atomic.Uint64 // next position to take (consumers)
	_    cpu.CacheLinePad
}

const goschedEvery = 64 // reduce runtime.Gosched() frequency in hot loops

// NewMPMC creates a queue holding up to size values; size must be a power
// of two.
func NewMPMC[T any](size uint64) *MPMC[T] {
	if size == 0 || size&(size-1) != 0 {
		panic(fmt.Sprintf("collect: queue size must be power of 2 and > 0, got %d", size))
	}

	q := &MPMC[T]{
		mask: size - 1,
		size: size,
		ring: make([]cell[T], size),
	}
	for i := range q.ring {
		q.ring[i].seq.Store(uint64(i))
	}
	return q
}

// Enqueue appends v, returning false if the queue is full.
func (q *MPMC[T]) Enqueue(v T) bool {
	var spins uint32
	for {
		pos := q.tail.Load()
		c := &q.ring[pos&q.mask]

		switch diff := int64(c.seq.Load()) - int64(pos); {
		case diff == 0:
			if q.tail.CompareAndSwap(pos, pos+1) {
				c.val = v
				c.seq.Store(pos + 1)
				return true
			}
		case diff < 0:
			// the consumer one lap behind has not emptied this cell
			return false
		}
		// lost the race or the cell is from a previous lap: reload pos

		spins++
		if spins%goschedEvery == 0 {
			runtime.Gosched()
		}
	}
}

// Dequeue removes the oldest value. Returns (zero, false) if empty.
func (q *MPMC[T]) Dequeue() (T, bool) {
	var zero T
	var spins uint32
	for {
		pos := q.head.Load()
		c := &q.ring[pos&q.mask]

		switch diff := int64(c.seq.Load()) - int64(pos+1); {
		case diff == 0:
			if q.head.CompareAndSwap(pos, pos+1) {
				v := c.val
				c.val = zero
				// hand the cell to the producer of the next lap
				c.seq.Store(pos + q.size)
				return v, true
			}
		case diff < 0:
			return zero, false
		}

		spins++
		if spins%goschedEvery == 0 {
			runtime.Gosched()
		}
	}
}

// Len returns an approximate number of queued values.
func (q *MPMC[T]) Len() int {
	head := q.head.Load()
	tail := q.tail.Load()
	if tail < head {
		return 0
	}
	return int(tail - head)
}

// Capacity returns the fixed queue capacity.
func (q *MPMC[T]) Capacity() uint64 {
	return q.size
}
