// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the byte stream between an instrumented
// process and a collector.
//
// A session starts with a handshake written by the instrumented side:
//
//	"TRACECAP" | length:u32 | CBOR Welcome
//
// followed by compressed frames for the rest of the session:
//
//	length:u16 | LZ4 block of length bytes
//
// Each frame decompresses to at most TargetFrameSize bytes of
// serialized event items (see package event); an item never spans two
// frames. The receiver decompresses each frame with the previous
// frame's output as the LZ4 dictionary, so the two most recent frames
// must together cover the 64 KiB LZ4 window. Both size relationships
// are checked by the compiler through constant conversions in
// frame.go: an invalid TargetFrameSize does not build.
//
// In the other direction the collector sends fixed-size queries:
//
//	opcode:u8 | operand:u64
//
// The instrumented side answers by enqueueing response items into the
// ordinary event stream, so expensive lookups are only paid for
// references the collector actually needs.
//
// All integers are little-endian.
package protocol
