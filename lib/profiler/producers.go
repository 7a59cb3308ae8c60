// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package profiler

import (
	"maps"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/tracecap/lib/event"
	"github.com/bureau-foundation/tracecap/lib/goroutine"
	"github.com/bureau-foundation/tracecap/lib/queue"
)

// producerTable maps goroutine handles to queue producers. Lookups are
// a single atomic load of an immutable map; writers copy it under
// writeMutex. Writes happen once per goroutine registration and once
// per retirement, lookups on every event.
type producerTable struct {
	writeMutex sync.Mutex
	current    atomic.Pointer[map[goroutine.Handle]*queue.Producer[event.Item]]
}

func (table *producerTable) load(handle goroutine.Handle) (*queue.Producer[event.Item], bool) {
	current := table.current.Load()
	if current == nil {
		return nil, false
	}
	producer, ok := (*current)[handle]
	return producer, ok
}

func (table *producerTable) store(handle goroutine.Handle, producer *queue.Producer[event.Item]) {
	table.update(func(entries map[goroutine.Handle]*queue.Producer[event.Item]) bool {
		entries[handle] = producer
		return true
	})
}

func (table *producerTable) loadAndDelete(handle goroutine.Handle) (*queue.Producer[event.Item], bool) {
	var removed *queue.Producer[event.Item]
	table.update(func(entries map[goroutine.Handle]*queue.Producer[event.Item]) bool {
		producer, ok := entries[handle]
		if !ok {
			return false
		}
		removed = producer
		delete(entries, handle)
		return true
	})
	return removed, removed != nil
}

// deleteProducers removes the entries of producers whose handle still
// maps to them. An owning goroutine may already have replaced its entry.
func (table *producerTable) deleteProducers(producers []*queue.Producer[event.Item]) {
	if len(producers) == 0 {
		return
	}
	table.update(func(entries map[goroutine.Handle]*queue.Producer[event.Item]) bool {
		changed := false
		for _, producer := range producers {
			handle := goroutine.Handle(producer.Owner())
			if entries[handle] == producer {
				delete(entries, handle)
				changed = true
			}
		}
		return changed
	})
}

func (table *producerTable) count() int {
	current := table.current.Load()
	if current == nil {
		return 0
	}
	return len(*current)
}

// update applies change to a copy of the map and publishes the copy if
// change reports a modification.
func (table *producerTable) update(change func(map[goroutine.Handle]*queue.Producer[event.Item]) bool) bool {
	table.writeMutex.Lock()
	defer table.writeMutex.Unlock()

	var entries map[goroutine.Handle]*queue.Producer[event.Item]
	if current := table.current.Load(); current != nil {
		entries = maps.Clone(*current)
	}
	if entries == nil {
		entries = make(map[goroutine.Handle]*queue.Producer[event.Item])
	}
	if !change(entries) {
		return false
	}
	table.current.Store(&entries)
	return true
}
