// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package goroutine

import (
	"strconv"
	"sync"

	"github.com/petermattis/goid"
)

// Handle identifies one goroutine for the lifetime of the process.
// The zero Handle is never assigned to a running goroutine.
type Handle uint64

// String returns the handle in the same form the runtime prints it.
func (handle Handle) String() string {
	return "goroutine " + strconv.FormatUint(uint64(handle), 10)
}

// Current returns the Handle of the calling goroutine. It reads the id
// straight from the runtime's goroutine structure and does not
// allocate.
func Current() Handle {
	return Handle(goid.Get())
}

// Names maps goroutine handles to human-readable labels. Labels are
// set by instrumented code and looked up by the draining side when the
// collector asks for a thread name. Safe for concurrent use.
type Names struct {
	mutex  sync.RWMutex
	labels map[Handle]string
}

// NewNames returns an empty registry.
func NewNames() *Names {
	return &Names{labels: make(map[Handle]string)}
}

// Set labels handle. An empty name removes the label.
func (names *Names) Set(handle Handle, name string) {
	names.mutex.Lock()
	defer names.mutex.Unlock()
	if name == "" {
		delete(names.labels, handle)
		return
	}
	names.labels[handle] = name
}

// Lookup returns the label for handle, falling back to the runtime's
// own "goroutine N" form when none was set.
func (names *Names) Lookup(handle Handle) string {
	names.mutex.RLock()
	name, ok := names.labels[handle]
	names.mutex.RUnlock()
	if ok {
		return name
	}
	return handle.String()
}
