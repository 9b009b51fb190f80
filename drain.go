package batchring

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

const defaultIdleSleep = 50 * time.Microsecond

// Sink consumes a ready batch. view aliases the batch storage and is only
// valid for the duration of the call; copy what must outlive it.
type Sink func(seq uint64, view []byte) error

// Drainer moves ready batches from a Ring to a Sink, always reading a batch
// before reclaiming it.
type Drainer struct {
	r       *Ring
	sink    Sink
	idle    time.Duration
	drained atomic.Uint64
}

// DrainOption configures a Drainer.
type DrainOption func(*Drainer)

// WithIdleSleep sets how long Run sleeps between polls once spinning and
// yielding found nothing to drain. Zero keeps Run yielding without sleeping.
func WithIdleSleep(d time.Duration) DrainOption {
	return func(dr *Drainer) {
		dr.idle = d
	}
}

// NewDrainer creates a drainer for r. A Drainer is used by one goroutine;
// run several drainers for parallel consumption.
func NewDrainer(r *Ring, sink Sink, opts ...DrainOption) *Drainer {
	d := &Drainer{
		r:    r,
		sink: sink,
		idle: defaultIdleSleep,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DrainOnce hands the oldest batch to the sink and reclaims it. It returns
// false if no batch was ready. When the sink fails the batch is left pending
// and the error is returned.
func (d *Drainer) DrainOnce() (bool, error) {
	b, seq, err := d.r.Claim()
	if err != nil {
		if errors.Is(err, ErrNotReady) {
			return false, nil
		}
		return false, err
	}

	view, _ := b.Read()
	if err := d.sink(seq, view); err != nil {
		d.r.Unclaim(seq)
		return false, fmt.Errorf("batchring: drain batch %d: %w", seq, err)
	}

	d.r.Release(seq)
	d.drained.Add(1)
	return true, nil
}

// Run drains until ctx is done or the sink fails.
func (d *Drainer) Run(ctx context.Context) error {
	bo := NewBackoff(d.r.minSpins, d.r.maxSpins)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ok, err := d.DrainOnce()
		if err != nil {
			return err
		}
		if ok {
			bo.Reset()
			continue
		}

		if bo.Saturated() && d.idle > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.idle):
			}
			continue
		}
		bo.Wait()
	}
}

// Drained returns the number of batches this drainer has reclaimed.
func (d *Drainer) Drained() uint64 {
	return d.drained.Load()
}
