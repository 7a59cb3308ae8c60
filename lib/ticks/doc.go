// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ticks provides the timestamp source for captured events.
//
// A reading is a monotonic tick count (nanoseconds since the source was
// created) paired with the id of the CPU core that executed the read.
// Readings are only meaningful for ordering and duration analysis within
// a single process; they are never compared across processes.
//
// Production code uses Real(). Tests inject Counter(), which advances
// by a fixed step on every read so event sequences are deterministic:
//
//	source := ticks.Counter(1)
//	first, _ := source.Now()  // 1
//	second, _ := source.Now() // 2
//
// Now never fails. When the platform cannot report the executing core,
// Real substitutes core 0 for the rest of the process lifetime rather
// than surfacing an error to instrumented code.
package ticks
