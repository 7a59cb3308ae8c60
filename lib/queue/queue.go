// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"fmt"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// DefaultBlockSize is the number of item slots allocated at a time when
// Options.BlockSize is zero.
const DefaultBlockSize = 512

// Options configures a Queue.
type Options struct {
	// BlockSize is the number of slots per allocation unit. Zero
	// selects DefaultBlockSize.
	BlockSize int

	// Capacity is the maximum number of published but unconsumed
	// items a single Producer may hold. Reservations beyond it fail
	// and are counted as drops. Zero means unbounded growth.
	Capacity int
}

// Queue is the shared state behind every Producer: the registry of
// live tokens, the block pool and the retired drop count.
type Queue[T any] struct {
	blockSize uint64
	capacity  uint64
	blocks    sync.Pool

	// registrationMutex serializes Register and Prune. The producer
	// list itself is copy-on-write so the consumer iterates without
	// taking it.
	registrationMutex sync.Mutex
	producers         atomic.Pointer[[]*Producer[T]]

	// retiredDrops accumulates the drop counters of pruned producers
	// so Dropped stays monotonic.
	retiredDrops atomic.Uint64
}

// New creates an empty Queue. Panics if options carry negative sizes.
func New[T any](options Options) *Queue[T] {
	if options.BlockSize < 0 || options.Capacity < 0 {
		panic(fmt.Sprintf("queue: negative options: block size %d, capacity %d",
			options.BlockSize, options.Capacity))
	}
	blockSize := options.BlockSize
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	queue := &Queue[T]{
		blockSize: uint64(blockSize),
		capacity:  uint64(options.Capacity),
	}
	queue.blocks.New = func() any {
		return &block[T]{items: make([]T, blockSize)}
	}
	empty := []*Producer[T]{}
	queue.producers.Store(&empty)
	return queue
}

// block is one allocation unit of a Producer's chain. next is written
// by the producer before it publishes the first slot of the following
// block, so the consumer always finds it set when it gets there.
type block[T any] struct {
	next  atomic.Pointer[block[T]]
	items []T
}

func (queue *Queue[T]) allocate() *block[T] {
	return queue.blocks.Get().(*block[T])
}

// release returns a fully consumed block to the pool. Its slots were
// zeroed as they were consumed.
func (queue *Queue[T]) release(finished *block[T]) {
	finished.next.Store(nil)
	queue.blocks.Put(finished)
}

// Register creates a Producer owned by the caller. owner is an opaque
// label (the capture layer stores the goroutine handle) available to
// the consumer through Producer.Owner. No block is allocated until the
// first reservation.
func (queue *Queue[T]) Register(owner uint64) *Producer[T] {
	producer := &Producer[T]{queue: queue, owner: owner}

	queue.registrationMutex.Lock()
	defer queue.registrationMutex.Unlock()
	updated := append(slices.Clone(*queue.producers.Load()), producer)
	queue.producers.Store(&updated)
	return producer
}

// Deregister closes producer on behalf of its owner. The owner must
// not be between Reserve and Publish. Published items stay available
// to Drain; Prune forgets the producer once they are consumed.
func (queue *Queue[T]) Deregister(producer *Producer[T]) {
	producer.Close()
}

// Producers returns the tokens registered at the time of the call, in
// registration order. The returned slice is shared and must not be
// modified.
func (queue *Queue[T]) Producers() []*Producer[T] {
	return *queue.producers.Load()
}

// Sweep returns the blocks of fully drained producers to the pool and
// retires producers that were empty at retireAfter consecutive sweeps.
// Zero retireAfter never retires. A retired producer is closed: its
// owner's next reservation fails with Closed reporting true, and the
// owner registers a new producer. Returns the number retired. Only the
// consumer may call Sweep.
func (queue *Queue[T]) Sweep(retireAfter int) int {
	retired := 0
	for _, producer := range queue.Producers() {
		if producer.sweep(retireAfter) {
			retired++
		}
	}
	return retired
}

// Prune forgets producers that are closed and fully drained and returns
// them. Only the consumer may call Prune.
func (queue *Queue[T]) Prune() []*Producer[T] {
	queue.registrationMutex.Lock()
	defer queue.registrationMutex.Unlock()

	current := *queue.producers.Load()
	kept := make([]*Producer[T], 0, len(current))
	var removed []*Producer[T]
	for _, producer := range current {
		if producer.Closed() && producer.Pending() == 0 {
			queue.retiredDrops.Add(producer.dropped.Load())
			producer.releaseBlocks()
			removed = append(removed, producer)
			continue
		}
		kept = append(kept, producer)
	}
	if len(removed) > 0 {
		queue.producers.Store(&kept)
	}
	return removed
}

// Dropped returns the total number of failed reservations across all
// producers, live and pruned.
func (queue *Queue[T]) Dropped() uint64 {
	total := queue.retiredDrops.Load()
	for _, producer := range queue.Producers() {
		total += producer.dropped.Load()
	}
	return total
}

// Pending returns the number of published, unconsumed items across all
// live producers.
func (queue *Queue[T]) Pending() uint64 {
	var total uint64
	for _, producer := range queue.Producers() {
		total += producer.Pending()
	}
	return total
}

// Producer states. The owner moves idle to busy in Reserve and back in
// Publish. The consumer moves idle to sweeping while it takes the
// blocks of an empty producer, and either state to closed.
const (
	stateIdle uint32 = iota
	stateBusy
	stateSweeping
	stateClosed
)

// Producer is one goroutine's token into a Queue. Reserve, ReserveAlways,
// Publish, Enqueue and Close belong to the owning goroutine; Drain
// belongs to the single consumer. Pending, Dropped, Closed and Owner are
// safe from anywhere.
type Producer[T any] struct {
	queue *Queue[T]
	owner uint64

	// Written by the owner, and by the consumer only while it holds
	// stateSweeping. Nil while the producer holds no block.
	writeBlock *block[T]
	reserved   uint64

	_       cpu.CacheLinePad
	state   atomic.Uint32
	tail    atomic.Uint64
	dropped atomic.Uint64

	_ cpu.CacheLinePad
	// Written by the consumer, and by the owner when it allocates the
	// first block of an empty producer (before publishing into it).
	// head is atomic because Reserve reads it for the capacity check.
	readBlock  *block[T]
	readBase   uint64
	head       atomic.Uint64
	idleSweeps int
}

// Owner returns the label passed to Register.
func (producer *Producer[T]) Owner() uint64 { return producer.owner }

// Reserve allocates the next slot. It returns false when the producer
// already holds Capacity unconsumed items, counting a drop, or when the
// producer is closed. The caller must fill the slot and Publish the
// returned sequence before reserving again.
func (producer *Producer[T]) Reserve() (*T, uint64, bool) {
	if !producer.enter() {
		return nil, 0, false
	}
	sequence := producer.reserved
	if capacity := producer.queue.capacity; capacity > 0 && sequence-producer.head.Load() >= capacity {
		producer.state.Store(stateIdle)
		producer.dropped.Add(1)
		return nil, 0, false
	}
	return producer.reserve(sequence), sequence, true
}

// ReserveAlways allocates the next slot regardless of Capacity. Use it
// only for items whose loss would corrupt the consumer's view, such as
// lock announcements. It returns false only when the producer is
// closed.
func (producer *Producer[T]) ReserveAlways() (*T, uint64, bool) {
	if !producer.enter() {
		return nil, 0, false
	}
	sequence := producer.reserved
	return producer.reserve(sequence), sequence, true
}

// enter claims the producer for a reservation. It waits out a sweep in
// progress, which holds the state only while it returns a block to the
// pool.
func (producer *Producer[T]) enter() bool {
	for {
		switch producer.state.Load() {
		case stateIdle:
			if producer.state.CompareAndSwap(stateIdle, stateBusy) {
				return true
			}
		case stateBusy:
			return true
		case stateSweeping:
			runtime.Gosched()
		default:
			return false
		}
	}
}

func (producer *Producer[T]) reserve(sequence uint64) *T {
	index := sequence % producer.queue.blockSize
	switch {
	case producer.writeBlock == nil:
		// The consumer set readBase to the start of this block when
		// it took the last one.
		first := producer.queue.allocate()
		producer.writeBlock = first
		producer.readBlock = first
	case index == 0 && sequence != 0:
		next := producer.queue.allocate()
		producer.writeBlock.next.Store(next)
		producer.writeBlock = next
	}
	producer.reserved = sequence + 1
	return &producer.writeBlock.items[index]
}

// Publish makes the slot reserved under sequence, and every slot before
// it, visible to the consumer. The tail store has release semantics.
func (producer *Producer[T]) Publish(sequence uint64) {
	producer.tail.Store(sequence + 1)
	producer.state.Store(stateIdle)
}

// Enqueue copies item into a reserved slot and publishes it. Returns
// false if the reservation was refused.
func (producer *Producer[T]) Enqueue(item T) bool {
	slot, sequence, ok := producer.Reserve()
	if !ok {
		return false
	}
	*slot = item
	producer.Publish(sequence)
	return true
}

// Close declares that the owner will publish nothing more. Items
// already published remain available to Drain.
func (producer *Producer[T]) Close() {
	for {
		switch current := producer.state.Load(); current {
		case stateClosed:
			return
		case stateSweeping:
			runtime.Gosched()
		default:
			if producer.state.CompareAndSwap(current, stateClosed) {
				return
			}
		}
	}
}

// Closed reports whether the producer was closed by its owner or
// retired by Sweep.
func (producer *Producer[T]) Closed() bool { return producer.state.Load() == stateClosed }

// Pending returns the number of published items not yet consumed.
func (producer *Producer[T]) Pending() uint64 {
	head := producer.head.Load()
	return producer.tail.Load() - head
}

// Dropped returns the number of reservations refused for capacity.
func (producer *Producer[T]) Dropped() uint64 { return producer.dropped.Load() }

// Drain hands published items to visit in publication order. visit
// returning false stops the drain without consuming that item; it is
// offered again on the next call. Slots are zeroed once consumed so
// pooled blocks do not pin referenced memory. Returns the number of
// items consumed.
//
// Drain acquires the tail once, so items published while it runs are
// left for the next call.
func (producer *Producer[T]) Drain(visit func(*T) bool) int {
	tail := producer.tail.Load()
	head := producer.head.Load()
	size := producer.queue.blockSize

	var zero T
	consumed := 0
	for head < tail {
		if head-producer.readBase == size {
			finished := producer.readBlock
			producer.readBlock = finished.next.Load()
			producer.readBase += size
			producer.queue.release(finished)
		}
		slot := &producer.readBlock.items[head-producer.readBase]
		if !visit(slot) {
			break
		}
		*slot = zero
		head++
		consumed++
	}
	if consumed > 0 {
		producer.head.Store(head)
		producer.idleSweeps = 0
	}
	return consumed
}

// sweep releases the blocks of an empty, idle producer and reports
// whether it retired it.
func (producer *Producer[T]) sweep(retireAfter int) bool {
	if producer.Pending() != 0 {
		producer.idleSweeps = 0
		return false
	}
	producer.idleSweeps++
	if !producer.state.CompareAndSwap(stateIdle, stateSweeping) {
		return false
	}
	// The owner cannot reserve while the state is sweeping, so tail is
	// stable and nothing is reserved beyond it.
	if producer.Pending() != 0 {
		producer.state.Store(stateIdle)
		return false
	}
	producer.releaseBlocks()
	if retireAfter > 0 && producer.idleSweeps >= retireAfter {
		producer.state.Store(stateClosed)
		return true
	}
	producer.state.Store(stateIdle)
	return false
}

// releaseBlocks returns every block of an empty producer to the pool
// and positions readBase at the start of the block the next
// reservation will allocate.
func (producer *Producer[T]) releaseBlocks() {
	for current := producer.readBlock; current != nil; {
		next := current.next.Load()
		producer.queue.release(current)
		current = next
	}
	head := producer.head.Load()
	producer.readBlock = nil
	producer.writeBlock = nil
	producer.readBase = head - head%producer.queue.blockSize
}
