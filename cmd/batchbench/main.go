// Command batchbench drives a batchring.Ring with concurrent producers and
// drainers, checks that every record came out exactly once and prints a JSON
// report.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/aradilov/batchring"
	"github.com/aradilov/batchring/collect"
)

type config struct {
	batches    int
	recordSize int
	capacity   int
	producers  int
	records    int
	drainers   int
}

type report struct {
	Batches       int             `json:"batches"`
	RecordSize    int             `json:"record_size"`
	Capacity      int             `json:"capacity"`
	Producers     int             `json:"producers"`
	Drainers      int             `json:"drainers"`
	Records       int             `json:"records"`
	Elapsed       string          `json:"elapsed"`
	RecordsPerSec float64         `json:"records_per_sec"`
	Backpressure  uint64          `json:"backpressure"`
	Ring          batchring.Stats `json:"ring"`
}

func main() {
	var cfg config
	flag.IntVar(&cfg.batches, "batches", 8, "number of batches in the ring (power of two)")
	flag.IntVar(&cfg.recordSize, "record", 64, "record size in bytes (>= 8)")
	flag.IntVar(&cfg.capacity, "capacity", 256, "records per batch")
	flag.IntVar(&cfg.producers, "producers", runtime.GOMAXPROCS(0), "producer goroutines")
	flag.IntVar(&cfg.records, "records", 1<<20, "total records, a multiple of -capacity")
	flag.IntVar(&cfg.drainers, "drainers", 1, "drainer goroutines")
	flag.Parse()

	if err := validate(cfg); err != nil {
		log.Fatalf("batchbench: %v", err)
	}

	rep, err := run(cfg)
	if err != nil {
		log.Fatalf("batchbench: %v", err)
	}

	out, err := sonnet.Marshal(rep)
	if err != nil {
		log.Fatalf("batchbench: encode report: %v", err)
	}
	os.Stdout.Write(append(out, '\n'))
}

func validate(cfg config) error {
	switch {
	case cfg.recordSize < 8:
		return fmt.Errorf("-record must be >= 8, got %d", cfg.recordSize)
	case cfg.capacity <= 0:
		return fmt.Errorf("-capacity must be > 0, got %d", cfg.capacity)
	case cfg.producers <= 0 || cfg.drainers <= 0:
		return fmt.Errorf("-producers and -drainers must be > 0")
	case cfg.records <= 0 || cfg.records%cfg.capacity != 0:
		// a partially filled batch never becomes ready
		return fmt.Errorf("-records must be a positive multiple of -capacity")
	case cfg.batches <= 0 || cfg.batches&(cfg.batches-1) != 0:
		return fmt.Errorf("-batches must be a power of two, got %d", cfg.batches)
	}
	return nil
}

// newSink builds the drain sink feeding c.
var newSink = func(c *collect.Collector) batchring.Sink {
	return c.Push
}

func run(cfg config) (report, error) {
	r := batchring.New(cfg.batches, cfg.recordSize, cfg.capacity)
	c := collect.New(cfg.recordSize, 0)
	sink := newSink(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var dwg sync.WaitGroup
	errs := make(chan error, cfg.drainers)
	for i := 0; i < cfg.drainers; i++ {
		dwg.Add(1)
		go func() {
			defer dwg.Done()
			d := batchring.NewDrainer(r, sink)
			if err := d.Run(ctx); err != nil && ctx.Err() == nil {
				errs <- err
				// stop producers spinning on a ring nobody drains
				cancel()
			}
		}()
	}

	seen := make([]uint8, cfg.records)
	wantBatches := cfg.records / cfg.capacity
	collected := make(chan error, 1)
	go func() {
		got := 0
		for got < wantBatches {
			b, ok := c.Pop()
			if !ok {
				if ctx.Err() != nil {
					collected <- ctx.Err()
					return
				}
				runtime.Gosched()
				continue
			}
			for i := 0; i < b.Len(); i++ {
				id := binary.LittleEndian.Uint64(b.Record(i))
				if id >= uint64(len(seen)) {
					collected <- fmt.Errorf("batch %d: record id %d out of range", b.Seq, id)
					return
				}
				seen[id]++
			}
			c.Recycle(b)
			got++
		}
		collected <- nil
	}()

	start := time.Now()
	var backpressure uint64
	var bpMu sync.Mutex
	var pwg sync.WaitGroup
	per := cfg.records / cfg.producers
	for p := 0; p < cfg.producers; p++ {
		from := p * per
		to := from + per
		if p == cfg.producers-1 {
			to = cfg.records
		}
		pwg.Add(1)
		go func(from, to int) {
			defer pwg.Done()
			record := make([]byte, cfg.recordSize)
			var full uint64
			for id := from; id < to; id++ {
				binary.LittleEndian.PutUint64(record, uint64(id))
				for {
					_, err := r.Append(record)
					if err == nil {
						break
					}
					if ctx.Err() != nil {
						return
					}
					full++
					runtime.Gosched()
				}
			}
			bpMu.Lock()
			backpressure += full
			bpMu.Unlock()
		}(from, to)
	}
	pwg.Wait()

	var err error
	select {
	case err = <-collected:
	case err = <-errs:
	}
	if err != nil {
		// a drainer failure cancels ctx after reporting; prefer its error
		// over the collector's context.Canceled
		select {
		case derr := <-errs:
			err = derr
		default:
		}
		return report{}, err
	}
	elapsed := time.Since(start)
	cancel()
	dwg.Wait()

	for id, n := range seen {
		if n != 1 {
			return report{}, fmt.Errorf("record %d seen %d times (expected 1)", id, n)
		}
	}

	return report{
		Batches:       cfg.batches,
		RecordSize:    cfg.recordSize,
		Capacity:      cfg.capacity,
		Producers:     cfg.producers,
		Drainers:      cfg.drainers,
		Records:       cfg.records,
		Elapsed:       elapsed.String(),
		RecordsPerSec: float64(cfg.records) / elapsed.Seconds(),
		Backpressure:  backpressure,
		Ring:          r.Stats(),
	}, nil
}
