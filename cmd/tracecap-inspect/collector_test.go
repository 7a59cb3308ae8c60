// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/tracecap/lib/event"
	"github.com/bureau-foundation/tracecap/lib/profiler"
	"github.com/bureau-foundation/tracecap/lib/protocol"
	"github.com/bureau-foundation/tracecap/lib/testutil"
	"github.com/bureau-foundation/tracecap/lib/ticks"
)

func TestCollectorContention(t *testing.T) {
	c := newCollector(nil, protocol.Welcome{TickPeriodNanoseconds: 1000})
	items := []event.Item{
		{Type: event.TypeLockAnnounce, ID: 3, Location: 9},
		{Type: event.TypeLockWait, ID: 3, Thread: 1, Time: 10},
		{Type: event.TypeLockObtain, ID: 3, Thread: 1, Time: 15},
		{Type: event.TypeLockRelease, ID: 3, Thread: 1, Time: 20},
		{Type: event.TypeLockWait, ID: 3, Thread: 2, Time: 12},
		{Type: event.TypeLockObtain, ID: 3, Thread: 2, Time: 30},
		{Type: event.TypeLockRelease, ID: 3, Thread: 2, Time: 31},
		{Type: event.TypeLockObtain, ID: 3, Thread: 1, Time: 40},
		{Type: event.TypeLockMark, ID: 3, Thread: 1, Location: 9},
	}
	for i := range items {
		if err := c.observe(&items[i]); err != nil {
			t.Fatalf("observe: %v", err)
		}
	}
	stats := c.locks[3]
	if stats.acquisitions != 3 || stats.tryLocks != 1 || stats.marks != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.totalWait != 5+18 || stats.maxWait != 18 {
		t.Fatalf("wait total %d max %d, want 23 and 18", stats.totalWait, stats.maxWait)
	}
	if got := c.duration(stats.maxWait).String(); got != "18µs" {
		t.Fatalf("duration = %s", got)
	}
}

func TestCollectorAsksOnce(t *testing.T) {
	var queries bytes.Buffer
	c := newCollector(&queries, protocol.Welcome{})
	for range 3 {
		item := event.Item{Type: event.TypeLockMark, ID: 0, Thread: 7, Location: 4}
		if err := c.observe(&item); err != nil {
			t.Fatalf("observe: %v", err)
		}
	}
	if queries.Len() != 2*protocol.QueryLength {
		t.Fatalf("wrote %d query bytes, want one thread and one location query", queries.Len())
	}
	first, _ := protocol.ReadQuery(&queries)
	second, _ := protocol.ReadQuery(&queries)
	if first != (protocol.Query{Opcode: protocol.ResolveThreadName, Operand: 7}) ||
		second != (protocol.Query{Opcode: protocol.ResolveSourceLocation, Operand: 4}) {
		t.Fatalf("queries = %+v, %+v", first, second)
	}

	location := event.Item{Type: event.TypeSourceLocationData, ID: 4, Name: 1, Function: 2, File: 3, Line: 12}
	if err := c.observe(&location); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if queries.Len() != 3*protocol.QueryLength {
		t.Fatalf("location strings not queried: %d bytes", queries.Len())
	}
	name := event.Item{Type: event.TypeStringData, ID: 1, Text: "cache"}
	file := event.Item{Type: event.TypeStringData, ID: 3, Text: "cache.go"}
	c.observe(&name)
	c.observe(&file)
	if got := c.locationName(4); got != "cache (cache.go:12)" {
		t.Fatalf("locationName = %q", got)
	}
}

func TestInspectRecordedSession(t *testing.T) {
	capture := profiler.New(profiler.Options{
		Ticks:        ticks.Counter(1),
		Logger:       testutil.Logger(t),
		EagerStrings: true,
	})
	mutex := profiler.NewLockable[sync.Mutex](capture,
		capture.NewSourceLocation("registry", "main.load", "registry.go", 7, 0))
	capture.SetThreadName("loader")
	mutex.Lock()
	capture.Message("loaded")
	mutex.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var stream bytes.Buffer
	if err := capture.Serve(ctx, &stream, nil); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	var output bytes.Buffer
	if err := inspect(&stream, nil, &output, options{handshake: true}, false); err != nil {
		t.Fatalf("inspect: %v", err)
	}
	text := output.String()
	for _, want := range []string{
		"announce lock=0 registry (registry.go:7)",
		"wait",
		"loader",
		`"loaded"`,
		`"protocol_version"`,
		"locks",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestCollectorResolvesLiveSession(t *testing.T) {
	capture := profiler.New(profiler.Options{
		Ticks:         ticks.Counter(1),
		Logger:        testutil.Logger(t),
		FlushInterval: time.Millisecond,
	})
	site := capture.NewSourceLocation("queue", "main.push", "queue.go", 30, 0)
	capture.SetThreadName("pusher")
	mutex := profiler.NewLockable[sync.Mutex](capture, site)
	mutex.Lock()
	mutex.Unlock()

	// Two pipes stand in for the two directions of a socket.
	streamReader, streamWriter := io.Pipe()
	queryReader, queryWriter := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- capture.Serve(ctx, streamWriter, queryReader) }()
	t.Cleanup(func() {
		cancel()
		streamReader.Close()
		queryWriter.Close()
		testutil.RequireReceive(t, served, 5*time.Second, "session shutdown")
	})

	welcome, err := protocol.ReadWelcome(streamReader)
	if err != nil {
		t.Fatalf("ReadWelcome: %v", err)
	}
	c := newCollector(queryWriter, welcome)
	decoder := protocol.NewDecoder(streamReader)
	lockID := mutex.ID()

	// Lock events arrive first; the answers to the queries they trigger
	// arrive in later drains.
	resolved := make(chan error, 1)
	go func() {
		for {
			item, err := decoder.Next()
			if err != nil {
				resolved <- err
				return
			}
			if err := c.observe(&item); err != nil {
				resolved <- err
				return
			}
			stats, ok := c.locks[lockID]
			if ok && stats.acquisitions == 1 && c.locationName(stats.location) == "queue (queue.go:30)" &&
				len(c.threads) > 0 {
				resolved <- nil
				return
			}
		}
	}()
	if err := testutil.RequireReceive(t, resolved, 5*time.Second, "resolving live session"); err != nil {
		t.Fatalf("collecting: %v", err)
	}
	for thread, name := range c.threads {
		if name != "pusher" {
			t.Errorf("thread %d resolved to %q, want pusher", thread, name)
		}
	}
}
