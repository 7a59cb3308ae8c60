// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package profiler

import (
	"unsafe"

	"github.com/bureau-foundation/tracecap/lib/event"
	"github.com/bureau-foundation/tracecap/lib/goroutine"
	"github.com/bureau-foundation/tracecap/lib/srcloc"
)

// Locker is the capability set a Lockable wraps. *sync.Mutex and
// *sync.RWMutex satisfy it.
type Locker interface {
	Lock()
	Unlock()
	TryLock() bool
}

// noCopy triggers go vet's copylocks check for types embedding it.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Lockable wraps a lock of type T and records its lifecycle. The
// wrapped lock behaves exactly as it would unwrapped; the wrapper only
// adds events around each transition.
//
// A Lockable must not be copied after first use.
type Lockable[T any, L interface {
	*T
	Locker
}] struct {
	_        noCopy
	lock     T
	profiler *Profiler
	id       uint64
}

// NewLockable creates a wrapped zero-value T, assigns it the next
// LockId and announces it with location as its construction site. The
// pointer type is inferred:
//
//	mu := profiler.NewLockable[sync.Mutex](p, location)
func NewLockable[T any, L interface {
	*T
	Locker
}](profiler *Profiler, location *srcloc.SourceLocation) *Lockable[T, L] {
	lockable := &Lockable[T, L]{
		profiler: profiler,
		id:       profiler.lockCounter.Add(1) - 1,
	}
	profiler.emitAlways(goroutine.Current(), event.Item{
		Type:     event.TypeLockAnnounce,
		ID:       lockable.id,
		Location: uint64(location.Ref()),
	})
	return lockable
}

// ID returns the LockId assigned at construction.
func (lockable *Lockable[T, L]) ID() uint64 { return lockable.id }

// Lock records a Wait, blocks in the wrapped lock's Lock, then records
// an Obtain. Obtain.Time - Wait.Time is the contention interval.
func (lockable *Lockable[T, L]) Lock() {
	handle := goroutine.Current()
	lockable.profiler.emit(handle, event.Item{Type: event.TypeLockWait, ID: lockable.id}, true)
	L(&lockable.lock).Lock()
	lockable.profiler.emit(handle, event.Item{Type: event.TypeLockObtain, ID: lockable.id}, true)
}

// Unlock releases the wrapped lock, then records a Release.
func (lockable *Lockable[T, L]) Unlock() {
	L(&lockable.lock).Unlock()
	lockable.profiler.emit(goroutine.Current(), event.Item{Type: event.TypeLockRelease, ID: lockable.id}, true)
}

// TryLock attempts the wrapped lock without blocking. Only a successful
// attempt is recorded, as an Obtain with no preceding Wait.
func (lockable *Lockable[T, L]) TryLock() bool {
	if !L(&lockable.lock).TryLock() {
		return false
	}
	id := lockable.id
	if lockable.profiler.options.TryLockAddressIdentity {
		id = uint64(uintptr(unsafe.Pointer(&lockable.lock)))
	}
	lockable.profiler.emit(goroutine.Current(), event.Item{Type: event.TypeLockObtain, ID: id}, true)
	return true
}

// Mark records that location is currently associated with this lock.
// It does not touch the wrapped lock.
func (lockable *Lockable[T, L]) Mark(location *srcloc.SourceLocation) {
	lockable.profiler.emit(goroutine.Current(), event.Item{
		Type:     event.TypeLockMark,
		ID:       lockable.id,
		Location: uint64(location.Ref()),
	}, false)
}

// Unwrap returns the wrapped lock for callers that need its other
// methods, such as RLock on a sync.RWMutex. Transitions made through
// it are not recorded.
func (lockable *Lockable[T, L]) Unwrap() L { return &lockable.lock }
