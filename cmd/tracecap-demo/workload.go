// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/tracecap/lib/clock"
	"github.com/bureau-foundation/tracecap/lib/profiler"
	"github.com/bureau-foundation/tracecap/lib/srcloc"
)

// workload contends on a set of shared locks. Each iteration picks a
// lock, holds it briefly, and occasionally takes the fast path with
// TryLock or annotates the holder with Mark.
type workload struct {
	capture *profiler.Profiler
	clock   clock.Clock

	locks      []*profiler.Lockable[sync.Mutex, *sync.Mutex]
	stats      *profiler.Lockable[sync.RWMutex, *sync.RWMutex]
	hot        *srcloc.SourceLocation
	iterations atomic.Uint64
}

func newWorkload(capture *profiler.Profiler, wallClock clock.Clock, count int) *workload {
	work := &workload{
		capture: capture,
		clock:   wallClock,
		hot:     capture.Here("hot path"),
	}
	for i := range count {
		location := capture.NewSourceLocation(fmt.Sprintf("shard %d", i), "main.newWorkload", "workload.go", 0, shardColor(i))
		work.locks = append(work.locks, profiler.NewLockable[sync.Mutex](capture, location))
	}
	work.stats = profiler.NewLockable[sync.RWMutex](capture, capture.Here("stats"))
	return work
}

func shardColor(index int) uint32 {
	palette := []uint32{0x4e79a7, 0xf28e2b, 0xe15759, 0x76b7b2, 0x59a14f, 0xedc948}
	return palette[index%len(palette)]
}

// start launches workers goroutines and returns a channel closed once
// all of them have returned after ctx is done.
func (work *workload) start(ctx context.Context, workers int) <-chan struct{} {
	done := make(chan struct{})
	var group sync.WaitGroup
	for worker := range workers {
		group.Add(1)
		work.capture.Go(func() {
			defer group.Done()
			work.run(ctx, worker)
		})
	}
	go func() {
		group.Wait()
		close(done)
	}()
	return done
}

func (work *workload) run(ctx context.Context, worker int) {
	work.capture.SetThreadName(fmt.Sprintf("worker %d", worker))
	random := rand.New(rand.NewPCG(uint64(worker), 0x7ace))
	for ctx.Err() == nil {
		lock := work.locks[random.IntN(len(work.locks))]
		switch roll := random.IntN(10); {
		case roll == 0:
			if lock.TryLock() {
				lock.Unlock()
			}
		default:
			lock.Lock()
			if roll == 1 {
				lock.Mark(work.hot)
			}
			work.clock.Sleep(time.Duration(random.IntN(200)) * time.Microsecond)
			lock.Unlock()
		}

		count := work.iterations.Add(1)
		if count%1000 == 0 {
			work.stats.Lock()
			work.capture.Message(fmt.Sprintf("%d iterations", count))
			work.stats.Unlock()
		}
		work.clock.Sleep(time.Duration(random.IntN(100)) * time.Microsecond)
	}
}
