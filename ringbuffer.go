// Package batchring is a lock-free, fixed-capacity ring of fixed-size batches.
//
// Each batch is a contiguous buffer of fixed-size records filled concurrently
// by many producers: a producer reserves a slot with a single fetch-and-add,
// copies its record into the slot and then counts the write as completed.
// The ring cycles through a power-of-two number of batches with two logical
// (never wrapped) counters, head for the batch accepting appends and tail for
// the oldest batch waiting to be reclaimed. Consumers read a batch once it is
// ready and then reclaim it, which resets the storage for reuse.
package batchring

import "fmt"

var (
	// ErrRejected is returned by Batch.Append when every slot of the batch
	// has already been reserved.
	ErrRejected = fmt.Errorf("batch is full")
	// ErrAllBuffersFull is returned by Ring.Append when no free batch is left
	// to advance into. It is backpressure: reclaim and retry, or drop.
	ErrAllBuffersFull = fmt.Errorf("all buffers are full")
	// ErrNotReady is returned when there is nothing to reclaim right now or a
	// concurrent consumer won the race. It is always safe to retry.
	ErrNotReady = fmt.Errorf("no buffer ready")
)

// Slot identifies where a record landed.
type Slot struct {
	Batch uint64 // logical batch sequence (head value at append time)
	Index int    // slot index inside the batch
}

// State is the status of a batch, derived from its counters.
type State uint8

const (
	// Writable batches still have free slots.
	Writable State = iota
	// Sealed batches have every slot reserved but writes still in flight.
	Sealed
	// Ready batches have every slot written.
	Ready
)

func (s State) String() string {
	switch s {
	case Writable:
		return "writable"
	case Sealed:
		return "sealed"
	case Ready:
		return "ready"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

func isPowerOfTwo(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}
