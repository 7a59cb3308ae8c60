// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package queue implements the capture event queue: many producers,
// one logical consumer, no locks on the producer path.
//
// Each producing goroutine owns a Producer (its token). A Producer is a
// single-producer single-consumer chain of fixed-size blocks. Writing
// an item is two-phase:
//
//	slot, sequence, ok := producer.Reserve()
//	if ok {
//	    *slot = item            // fill every field
//	    producer.Publish(sequence)
//	}
//
// Publish is the only synchronization point. It stores sequence+1 into
// the producer's tail index with an atomic store, which in the Go
// memory model has release semantics. The consumer atomically loads the
// tail (acquire) before reading any slot, so it observes every byte the
// producer wrote into slots below the published tail. Reserve claims
// the token's state word with one uncontended compare-and-swap and
// loads the consumer's head index to enforce capacity.
//
// Items from one Producer are consumed in exactly the order they were
// published. No order is defined across producers; consumers that need
// one must use the items' own timestamps.
//
// # Capacity
//
// Blocks are allocated on demand (and recycled through a sync.Pool), so
// a Producer grows while the consumer falls behind. Options.Capacity
// bounds the number of unconsumed items per Producer: once reached,
// Reserve fails and the producer's drop counter increments. Nothing in
// this package ever blocks the producer. ReserveAlways bypasses the
// bound for the few items that must never be lost.
//
// # Registration
//
// Register creates a token and makes it visible to Producers. A token
// holds no block until its first reservation. The owner calls Close
// when it will publish no more; the consumer calls Prune to forget
// closed tokens once they are fully drained.
//
// # Reclamation
//
// Owners that simply stop publishing never call Close. The consumer
// calls Sweep after each drain: an empty token gives its blocks back to
// the pool, and a token found empty at enough consecutive sweeps is
// retired (closed on the owner's behalf). Each token carries a state
// word that the owner holds from Reserve to Publish and the consumer
// holds while it takes the blocks, so the two never touch the chain at
// the same time. The owner of a retired token sees Reserve fail with
// Closed reporting true and registers a new one; nothing is lost
// because a token is retired only while empty.
package queue
