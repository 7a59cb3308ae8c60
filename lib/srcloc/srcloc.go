// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package srcloc holds the process-lifetime descriptors that events
// reference by number instead of carrying text: source locations and
// interned strings.
//
// Every string and location registered in a Table receives a Ref from
// one counter, so a Ref names exactly one thing and the collector can
// resolve it later with a single query. Refs are never reused.
// Registration takes a lock; it happens once per call site or string,
// never on the event path.
package srcloc

import (
	"sync"
	"sync/atomic"
)

// Ref is a process-unique reference to a registered string or
// SourceLocation. Zero means "none".
type Ref uint64

// SourceLocation describes one instrumented call site. Create it through
// Table.Register; the returned pointer stays valid and immutable for the
// life of the process.
type SourceLocation struct {
	Name     string
	Function string
	File     string
	Line     uint32
	// Color is an optional 0xRRGGBB hint for the collector. Zero means
	// the collector's default.
	Color uint32

	ref Ref
}

// Ref returns the reference events carry for this location.
func (location *SourceLocation) Ref() Ref {
	if location == nil {
		return 0
	}
	return location.ref
}

// Resolved is a SourceLocation with its strings replaced by Refs, the
// form in which a location crosses the wire.
type Resolved struct {
	Ref      Ref
	Name     Ref
	Function Ref
	File     Ref
	Line     uint32
	Color    uint32
}

// Table registers strings and source locations.
type Table struct {
	counter atomic.Uint64

	mutex     sync.RWMutex
	strings   map[Ref]string
	interned  map[string]Ref
	locations map[Ref]*SourceLocation
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{
		strings:   make(map[Ref]string),
		interned:  make(map[string]Ref),
		locations: make(map[Ref]*SourceLocation),
	}
}

func (table *Table) next() Ref {
	return Ref(table.counter.Add(1))
}

// Intern returns the Ref for text, registering it on first use. Equal
// strings share a Ref. The empty string interns to zero.
func (table *Table) Intern(text string) Ref {
	if text == "" {
		return 0
	}
	table.mutex.RLock()
	ref, ok := table.interned[text]
	table.mutex.RUnlock()
	if ok {
		return ref
	}

	table.mutex.Lock()
	defer table.mutex.Unlock()
	if ref, ok := table.interned[text]; ok {
		return ref
	}
	ref = table.next()
	table.interned[text] = ref
	table.strings[ref] = text
	return ref
}

// Register records a new source location and returns it. Each call
// creates a distinct location even for identical fields; callers cache
// the result per call site.
func (table *Table) Register(name, function, file string, line, color uint32) *SourceLocation {
	location := &SourceLocation{
		Name:     name,
		Function: function,
		File:     file,
		Line:     line,
		Color:    color,
	}
	table.Intern(name)
	table.Intern(function)
	table.Intern(file)

	table.mutex.Lock()
	defer table.mutex.Unlock()
	location.ref = table.next()
	table.locations[location.ref] = location
	return location
}

// String returns the text registered under ref.
func (table *Table) String(ref Ref) (string, bool) {
	table.mutex.RLock()
	defer table.mutex.RUnlock()
	text, ok := table.strings[ref]
	return text, ok
}

// Location returns the wire form of the location registered under ref.
func (table *Table) Location(ref Ref) (Resolved, bool) {
	table.mutex.RLock()
	location, ok := table.locations[ref]
	table.mutex.RUnlock()
	if !ok {
		return Resolved{}, false
	}
	return Resolved{
		Ref:      ref,
		Name:     table.Intern(location.Name),
		Function: table.Intern(location.Function),
		File:     table.Intern(location.File),
		Line:     location.Line,
		Color:    location.Color,
	}, true
}
