package collect

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
)

// Basic sanity: sequential enqueue/dequeue with ints.
func TestMPMCSequential(t *testing.T) {
	const (
		capacity = 1024
		N        = 10_000
	)

	q := NewMPMC[int](capacity)

	for i := 0; i < N; i++ {
		ok := q.Enqueue(i)
		if i < capacity && !ok {
			t.Fatalf("enqueue failed at %d (queue unexpectedly full)", i)
		}
		if i >= capacity && ok {
			t.Fatalf("enqueue succeeded at %d (queue unexpectedly not full)", i)
		}
	}
	if q.Len() != capacity {
		t.Fatalf("expected len %d, got %d", capacity, q.Len())
	}

	for i := 0; i < capacity; i++ {
		v, ok := q.Dequeue()
		if !ok {
			t.Fatalf("dequeue failed at %d (queue unexpectedly empty)", i)
		}
		if v != i {
			t.Fatalf("expected %d, got %d (FIFO violated)", i, v)
		}
	}

	if v, ok := q.Dequeue(); ok {
		t.Fatalf("expected empty queue at the end, got value=%v", v)
	}
}

// Wrapping around several laps keeps FIFO order.
func TestMPMCWrap(t *testing.T) {
	q := NewMPMC[int](4)
	next := 0
	for lap := 0; lap < 10; lap++ {
		for i := 0; i < 3; i++ {
			if !q.Enqueue(lap*3 + i) {
				t.Fatalf("lap %d: enqueue %d failed", lap, i)
			}
		}
		for i := 0; i < 3; i++ {
			v, ok := q.Dequeue()
			if !ok || v != next {
				t.Fatalf("lap %d: expected %d, got %d (ok=%v)", lap, next, v, ok)
			}
			next++
		}
	}
}

func TestMPMCInvalidSize(t *testing.T) {
	for _, n := range []uint64{0, 3, 100} {
		func() {
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic for size %d", n)
				}
			}()
			NewMPMC[int](n)
		}()
	}
}

// Concurrent test: many producers, many consumers.
// Checks that all values [0..N) appear exactly once.
func TestMPMCConcurrent(t *testing.T) {
	const (
		capacity    = 1 << 8
		N           = 100_000
		producers   = 8
		consumers   = 4
		perProducer = N / producers
	)

	q := NewMPMC[int](capacity)
	seen := make([]int32, N)
	var received int64

	var cg sync.WaitGroup
	cg.Add(consumers)
	for c := 0; c < consumers; c++ {
		go func() {
			defer cg.Done()
			for atomic.LoadInt64(&received) < N {
				v, ok := q.Dequeue()
				if !ok {
					runtime.Gosched()
					continue
				}
				if v < 0 || v >= N {
					t.Errorf("consumer: out-of-range value %d", v)
					continue
				}
				atomic.AddInt32(&seen[v], 1)
				atomic.AddInt64(&received, 1)
			}
		}()
	}

	var pg sync.WaitGroup
	pg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(from, to int) {
			defer pg.Done()
			for i := from; i < to; i++ {
				for !q.Enqueue(i) {
					runtime.Gosched()
				}
			}
		}(p*perProducer, (p+1)*perProducer)
	}

	pg.Wait()
	cg.Wait()

	for i := 0; i < N; i++ {
		if seen[i] != 1 {
			t.Fatalf("value %d seen %d times (expected 1)", i, seen[i])
		}
	}
}

// Benchmark: many producers, many consumers.
func BenchmarkMPMC_MPMC(b *testing.B) {
	const (
		capacity  = 1 << 16
		producers = 8
		consumers = 8
	)

	q := NewMPMC[int](capacity)
	perProducer := b.N / producers
	total := int64(perProducer * producers)
	var received int64

	var wg sync.WaitGroup
	wg.Add(producers + consumers)

	b.ResetTimer()
	for c := 0; c < consumers; c++ {
		go func() {
			defer wg.Done()
			for atomic.LoadInt64(&received) < total {
				if _, ok := q.Dequeue(); ok {
					atomic.AddInt64(&received, 1)
					continue
				}
				runtime.Gosched()
			}
		}()
	}
	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				for !q.Enqueue(i) {
					runtime.Gosched()
				}
			}
		}()
	}
	wg.Wait()
	b.StopTimer()
}
