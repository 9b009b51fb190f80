// Package collect keeps copies of drained batches in a FIFO until a
// downstream stage picks them up.
package collect

import (
	"fmt"
	"sync"

	"github.com/eapache/queue"
)

// ErrFull is returned by Push when the collector already retains its limit
// of batches.
var ErrFull = fmt.Errorf("collector is full")

// Batch is a copy of a drained batch.
type Batch struct {
	Seq        uint64
	Data       []byte
	RecordSize int
}

// Len returns the number of records in the batch.
func (b Batch) Len() int {
	return len(b.Data) / b.RecordSize
}

// Record returns the i-th record.
func (b Batch) Record(i int) []byte {
	off := i * b.RecordSize
	return b.Data[off : off+b.RecordSize]
}

// spareBuffers is how many recycled copy buffers a collector keeps.
const spareBuffers = 64

// Collector is a FIFO of batch copies, optionally bounded. Push has the
// signature of a batchring.Sink. Safe for concurrent use.
type Collector struct {
	mu         sync.Mutex
	q          *queue.Queue
	limit      int
	recordSize int
	spare      *MPMC[[]byte]
}

// New creates a collector for records of recordSize bytes retaining at most
// limit batches. limit <= 0 means unbounded.
func New(recordSize, limit int) *Collector {
	if recordSize <= 0 {
		panic(fmt.Sprintf("collect: record size must be > 0, got %d", recordSize))
	}
	return &Collector{
		q:          queue.New(),
		limit:      limit,
		recordSize: recordSize,
		spare:      NewMPMC[[]byte](spareBuffers),
	}
}

// Push copies view and queues it. It returns ErrFull when the limit is
// reached, leaving the batch with the caller.
func (c *Collector) Push(seq uint64, view []byte) error {
	if len(view)%c.recordSize != 0 {
		return fmt.Errorf("collect: batch %d is %d bytes, not a multiple of %d", seq, len(view), c.recordSize)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.limit > 0 && c.q.Length() >= c.limit {
		return ErrFull
	}
	c.q.Add(Batch{
		Seq:        seq,
		Data:       append(c.buffer(len(view)), view...),
		RecordSize: c.recordSize,
	})
	return nil
}

// Pop removes the oldest batch. Returns (Batch{}, false) if empty.
func (c *Collector) Pop() (Batch, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.q.Length() == 0 {
		return Batch{}, false
	}
	return c.q.Remove().(Batch), true
}

// Len returns the number of retained batches.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.q.Length()
}

// Recycle returns the storage of a popped batch for reuse by Push. b must
// not be used afterwards. Buffers beyond the spare capacity are dropped.
func (c *Collector) Recycle(b Batch) {
	if b.Data == nil {
		return
	}
	c.spare.Enqueue(b.Data[:0])
}

// Spare returns the number of recycled buffers waiting for reuse.
func (c *Collector) Spare() int {
	return c.spare.Len()
}

// buffer returns an empty slice with room for n bytes, reusing a spare one
// when it is large enough.
func (c *Collector) buffer(n int) []byte {
	if buf, ok := c.spare.Dequeue(); ok && cap(buf) >= n {
		return buf[:0]
	}
	return make([]byte, 0, n)
}
