package batchring

import (
	"fmt"
	"runtime"

	"github.com/valyala/fastrand"
)

const (
	defaultMinSpins = 4
	defaultMaxSpins = 1 << 10
)

// Backoff paces a retry loop under contention. Each Wait busy-spins for a
// jittered, doubling number of iterations; once the spin budget reaches its
// cap every Wait yields the processor instead.
//
// A Backoff is owned by one goroutine. The zero value is not usable, get one
// from NewBackoff.
type Backoff struct {
	min   uint32
	max   uint32
	spins uint32
}

// NewBackoff returns a Backoff spinning between minSpins and maxSpins.
func NewBackoff(minSpins, maxSpins uint32) Backoff {
	if minSpins == 0 || maxSpins < minSpins {
		panic(fmt.Sprintf("batchring: invalid backoff bounds [%d, %d]", minSpins, maxSpins))
	}
	return Backoff{min: minSpins, max: maxSpins, spins: minSpins}
}

// Wait blocks the caller for one backoff step.
func (b *Backoff) Wait() {
	if b.spins >= b.max {
		runtime.Gosched()
		return
	}

	// Jitter in [spins/2, spins] so that goroutines which collided on the
	// same CAS do not retry in lockstep.
	n := b.spins/2 + fastrand.Uint32n(b.spins/2+1)
	for i := uint32(0); i < n; i++ {
		spin()
	}

	b.spins <<= 1
	if b.spins > b.max {
		b.spins = b.max
	}
}

// Saturated reports whether the spin budget is exhausted and Wait only
// yields.
func (b *Backoff) Saturated() bool {
	return b.spins >= b.max
}

// Reset restarts the backoff from the minimum spin budget.
func (b *Backoff) Reset() {
	b.spins = b.min
}

//go:noinline
func spin() {}
