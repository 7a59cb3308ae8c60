// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ticks

import (
	"sync/atomic"
	"time"
)

// Source produces event timestamps. Implementations must be safe for
// concurrent use and cheap enough to call on every lock transition.
type Source interface {
	// Now returns the current tick count and the id of the core the
	// calling goroutine is running on. Successive calls from one
	// goroutine never return a smaller tick count.
	Now() (int64, uint32)

	// Period returns the duration of one tick.
	Period() time.Duration
}

// Real returns a Source backed by the runtime's monotonic clock. Tick
// zero is the moment Real was called.
func Real() Source {
	return &realSource{epoch: time.Now()}
}

type realSource struct {
	epoch time.Time
}

// Now reads the monotonic clock through time.Since, which never
// consults the wall clock and is immune to clock steps.
func (source *realSource) Now() (int64, uint32) {
	return int64(time.Since(source.epoch)), currentCore()
}

func (source *realSource) Period() time.Duration { return time.Nanosecond }

// Counter returns a deterministic Source for tests. Every call to Now
// advances the tick count by step and reports core 0. A step of zero
// produces a constant clock, which still satisfies monotonicity.
func Counter(step int64) *CounterSource {
	return &CounterSource{step: step}
}

// CounterSource is the Source returned by Counter.
type CounterSource struct {
	current atomic.Int64
	step    int64
}

// Now advances the counter and returns the new value.
func (source *CounterSource) Now() (int64, uint32) {
	return source.current.Add(source.step), 0
}

// Period reports one nanosecond per tick.
func (source *CounterSource) Period() time.Duration { return time.Nanosecond }

// Current returns the most recent value without advancing.
func (source *CounterSource) Current() int64 { return source.current.Load() }
