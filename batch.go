package batchring

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Batch is a fixed-capacity buffer of fixed-size records.
//
// Writers reserve a slot with a fetch-and-add on reserved and count the write
// as done with a fetch-and-add on written. Slots are disjoint, so the record
// copies need no synchronization of their own: the atomic add on written
// publishes the copy to any reader that later observes written == capacity.
type Batch struct {
	_        cpu.CacheLinePad
	reserved atomic.Uint64 // reservation attempts in this generation, may exceed capacity
	_        cpu.CacheLinePad
	written  atomic.Uint64 // completed writes in this generation
	_        cpu.CacheLinePad

	recordSize int
	capacity   uint64
	data       []byte
}

// NewBatch allocates a batch of capacity records of recordSize bytes each.
func NewBatch(recordSize, capacity int) *Batch {
	b := &Batch{}
	b.init(recordSize, capacity)
	return b
}

func (b *Batch) init(recordSize, capacity int) {
	if recordSize <= 0 {
		panic(fmt.Sprintf("batchring: record size must be > 0, got %d", recordSize))
	}
	if capacity <= 0 {
		panic(fmt.Sprintf("batchring: batch capacity must be > 0, got %d", capacity))
	}
	b.recordSize = recordSize
	b.capacity = uint64(capacity)
	b.data = make([]byte, recordSize*capacity)
}

// Append copies record into the next free slot and returns the slot index.
// It returns ErrRejected without touching storage if the batch is full.
// May be called concurrently from many goroutines.
//
// record must be exactly RecordSize bytes long; anything else panics.
func (b *Batch) Append(record []byte) (int, error) {
	if len(record) != b.recordSize {
		panic(fmt.Sprintf("batchring: record is %d bytes, batch expects %d", len(record), b.recordSize))
	}

	idx := b.reserved.Add(1) - 1
	if idx >= b.capacity {
		return 0, ErrRejected
	}

	// The slot [idx*recordSize, (idx+1)*recordSize) belongs to us alone
	// until the next Reset.
	off := int(idx) * b.recordSize
	copy(b.data[off:off+b.recordSize], record)

	// Publish the copy. Completions may land out of slot order; only the
	// count matters.
	b.written.Add(1)
	return int(idx), nil
}

// IsReady reports whether every slot has been written.
func (b *Batch) IsReady() bool {
	return b.written.Load() == b.capacity
}

// IsFull reports whether every slot has been reserved. A full batch may
// still have writes in flight; use IsReady before reading.
func (b *Batch) IsFull() bool {
	return b.reserved.Load() >= b.capacity
}

// State returns the batch status derived from its counters.
func (b *Batch) State() State {
	if b.written.Load() == b.capacity {
		return Ready
	}
	if b.reserved.Load() >= b.capacity {
		return Sealed
	}
	return Writable
}

// Read returns the whole storage once the batch is ready, or (nil, false).
// The view aliases the batch storage and is valid until the batch is reset.
func (b *Batch) Read() ([]byte, bool) {
	if !b.IsReady() {
		return nil, false
	}
	return b.data, true
}

// Record returns the idx-th record of a ready batch.
func (b *Batch) Record(idx int) ([]byte, bool) {
	if idx < 0 || uint64(idx) >= b.capacity || !b.IsReady() {
		return nil, false
	}
	off := idx * b.recordSize
	return b.data[off : off+b.recordSize], true
}

// Reset makes the batch writable again.
//
// The caller must have exclusive access: no writer may still hold a
// reservation from the current generation. The ring guarantees this by
// resetting only a claimed, ready batch that head has already moved past.
func (b *Batch) Reset() {
	// written first: once reserved drops to 0 new writers may complete, and
	// their increments must not be wiped out.
	b.written.Store(0)
	b.reserved.Store(0)
}

// ReservedCount returns the number of granted reservations, never more than
// Capacity. Rejected attempts are not counted.
func (b *Batch) ReservedCount() int {
	return int(min(b.reserved.Load(), b.capacity))
}

// WrittenCount returns the number of records fully written.
func (b *Batch) WrittenCount() int {
	return int(b.written.Load())
}

// Capacity returns the number of slots.
func (b *Batch) Capacity() int {
	return int(b.capacity)
}

// RecordSize returns the size of one record in bytes.
func (b *Batch) RecordSize() int {
	return b.recordSize
}
