// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package profiler captures lock lifecycle and marker events from
// instrumented code and streams them to a collector.
//
// A Profiler is an explicit registry: it owns the LockId counter, the
// event queue, the string and source-location table and the goroutine
// name registry. Tests construct isolated instances with New;
// applications that want one process-wide instance use Default.
//
// Instrumented code wraps its mutexes:
//
//	var here = profiler.Default().Here("cache.mu")
//	mu := profiler.NewLockable[sync.Mutex](profiler.Default(), here)
//	mu.Lock()
//	defer mu.Unlock()
//
// Each goroutine that emits events gets its own queue producer on
// first use. The hot path takes no locks: an event is one Reserve, a
// timestamp read and one Publish. When a producer already holds its
// capacity of unconsumed events, new events are dropped and counted
// (see Profiler.Dropped). Lock announcements and query answers are
// never dropped.
//
// Goroutines need not clean up after themselves. A producer that stays
// empty gives its buffer back at the next drain and is retired after
// fifty consecutive empty drains; the goroutine registers again if
// it emits later. Go and Detach only release the producer sooner.
//
// Serve is the draining side. It writes the session handshake, then
// periodically drains every producer into compressed frames and
// answers collector queries by enqueueing response events. A lock
// event is never written before the announcement of its lock, even
// when the two were published by different goroutines.
package profiler
