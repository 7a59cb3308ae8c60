// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/bureau-foundation/tracecap/lib/event"
	"github.com/bureau-foundation/tracecap/lib/protocol"
)

// location is a source location as the collector knows it. Strings are
// refs until a StringData item resolves them.
type location struct {
	name, function, file uint64
	line, color          uint32
}

// lockStats accumulates contention for one lock.
type lockStats struct {
	location     uint64
	acquisitions int
	tryLocks     int
	marks        int
	totalWait    int64
	maxWait      int64
	waiting      map[uint64]int64
}

// collector tracks what a capture stream has told it and asks the
// instrumented process about refs it has not seen resolved.
type collector struct {
	queries    io.Writer
	tickPeriod time.Duration

	strings   map[uint64]string
	threads   map[uint64]string
	locations map[uint64]location
	asked     map[protocol.Query]struct{}

	locks  map[uint64]*lockStats
	counts map[event.Type]int
}

// newCollector returns a collector. queries may be nil when the stream
// has no return channel.
func newCollector(queries io.Writer, welcome protocol.Welcome) *collector {
	period := time.Duration(welcome.TickPeriodNanoseconds)
	if period <= 0 {
		period = time.Nanosecond
	}
	return &collector{
		queries:    queries,
		tickPeriod: period,
		strings:    make(map[uint64]string),
		threads:    make(map[uint64]string),
		locations:  make(map[uint64]location),
		asked:      make(map[protocol.Query]struct{}),
		locks:      make(map[uint64]*lockStats),
		counts:     make(map[event.Type]int),
	}
}

// observe records item and issues any queries needed to resolve what
// it references.
func (c *collector) observe(item *event.Item) error {
	c.counts[item.Type]++
	switch item.Type {
	case event.TypeStringData:
		c.strings[item.ID] = item.Text
	case event.TypeThreadName:
		c.threads[item.Thread] = item.Text
	case event.TypeSourceLocationData:
		c.locations[item.ID] = location{
			name: item.Name, function: item.Function, file: item.File,
			line: item.Line, color: item.Color,
		}
		for _, ref := range []uint64{item.Name, item.Function, item.File} {
			if err := c.resolveString(ref); err != nil {
				return err
			}
		}
	case event.TypeLockAnnounce:
		c.lock(item.ID).location = item.Location
		return c.resolveLocation(item.Location)
	case event.TypeLockWait:
		c.lock(item.ID).waiting[item.Thread] = item.Time
		return c.resolveThread(item.Thread)
	case event.TypeLockObtain:
		stats := c.lock(item.ID)
		stats.acquisitions++
		if started, ok := stats.waiting[item.Thread]; ok {
			delete(stats.waiting, item.Thread)
			wait := item.Time - started
			stats.totalWait += wait
			stats.maxWait = max(stats.maxWait, wait)
		} else {
			stats.tryLocks++
		}
		return c.resolveThread(item.Thread)
	case event.TypeLockRelease, event.TypeMessage:
		return c.resolveThread(item.Thread)
	case event.TypeLockMark:
		c.lock(item.ID).marks++
		if err := c.resolveThread(item.Thread); err != nil {
			return err
		}
		return c.resolveLocation(item.Location)
	}
	return nil
}

func (c *collector) lock(id uint64) *lockStats {
	stats, ok := c.locks[id]
	if !ok {
		stats = &lockStats{waiting: make(map[uint64]int64)}
		c.locks[id] = stats
	}
	return stats
}

func (c *collector) resolveString(ref uint64) error {
	if _, known := c.strings[ref]; known || ref == 0 {
		return nil
	}
	return c.ask(protocol.Query{Opcode: protocol.ResolveString, Operand: ref})
}

func (c *collector) resolveThread(thread uint64) error {
	if _, known := c.threads[thread]; known {
		return nil
	}
	return c.ask(protocol.Query{Opcode: protocol.ResolveThreadName, Operand: thread})
}

func (c *collector) resolveLocation(ref uint64) error {
	if _, known := c.locations[ref]; known || ref == 0 {
		return nil
	}
	return c.ask(protocol.Query{Opcode: protocol.ResolveSourceLocation, Operand: ref})
}

// ask sends query once. Without a return channel it does nothing.
func (c *collector) ask(query protocol.Query) error {
	if c.queries == nil {
		return nil
	}
	if _, sent := c.asked[query]; sent {
		return nil
	}
	c.asked[query] = struct{}{}
	return protocol.WriteQuery(c.queries, query)
}

// stringOr returns the text of ref, or a placeholder while unresolved.
func (c *collector) stringOr(ref uint64) string {
	if text, ok := c.strings[ref]; ok {
		return text
	}
	return fmt.Sprintf("#%d", ref)
}

func (c *collector) threadName(thread uint64) string {
	if name, ok := c.threads[thread]; ok {
		return name
	}
	return fmt.Sprintf("goroutine %d", thread)
}

// locationName formats a source location ref as "name (file:line)".
func (c *collector) locationName(ref uint64) string {
	if ref == 0 {
		return "-"
	}
	site, ok := c.locations[ref]
	if !ok {
		return fmt.Sprintf("@%d", ref)
	}
	return fmt.Sprintf("%s (%s:%d)", c.stringOr(site.name), c.stringOr(site.file), site.line)
}

func (c *collector) duration(ticks int64) time.Duration {
	return time.Duration(ticks) * c.tickPeriod
}

// lockIDs returns every lock seen, most contended first.
func (c *collector) lockIDs() []uint64 {
	ids := make([]uint64, 0, len(c.locks))
	for id := range c.locks {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b uint64) int {
		if wait := c.locks[b].totalWait - c.locks[a].totalWait; wait != 0 {
			if wait > 0 {
				return 1
			}
			return -1
		}
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
		return 0
	})
	return ids
}
